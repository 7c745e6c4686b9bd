package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/metrics"
	"github.com/prudhvinik1/changesync/internal/models"
)

const (
	DefaultChannel     = "changesync:updates"
	defaultQueueSize   = 256
	defaultIdleTimeout = time.Minute
	publishTimeout     = 5 * time.Second
)

var ErrRouterClosed = errors.New("event router closed")

// Update is what a live connection receives. Cursor is the ledger cursor
// the update announces, or 0 for updates that have no ledger entry.
type Update struct {
	ID        string            `json:"id"`
	Cursor    int64             `json:"cursor"`
	Kind      models.ChangeKind `json:"kind"`
	EntityID  string            `json:"entityId"`
	Body      json.RawMessage   `json:"body,omitempty"`
	CreatedAt int64             `json:"createdAt"`
}

// NewUpdate stamps an update with a fresh id and the current time.
func NewUpdate(cursor int64, kind models.ChangeKind, entityID string, body any) (Update, error) {
	u := Update{
		ID:        uuid.NewString(),
		Cursor:    cursor,
		Kind:      kind,
		EntityID:  entityID,
		CreatedAt: time.Now().UnixMilli(),
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Update{}, fmt.Errorf("failed to marshal update body: %w", err)
		}
		u.Body = raw
	}
	return u, nil
}

// envelope is the broker wire format.
type envelope struct {
	Origin  string          `json:"origin"`
	UserID  string          `json:"userId"`
	Filter  RecipientFilter `json:"filter"`
	Payload json.RawMessage `json:"payload"`
}

type pending struct {
	userID  string
	filter  RecipientFilter
	cursor  int64
	payload []byte
}

type accountWorker struct {
	queue      chan pending
	lastCursor int64
}

// Router fans committed updates out to live connections: directly to this
// process's hub and, through the broker, to every other process.
//
// Updates for one account go through a single worker in emit order, so
// per-account delivery follows cursor order. Different accounts proceed
// independently.
type Router struct {
	hub     *Hub
	broker  Broker
	channel string
	origin  string
	logger  *slog.Logger

	queueSize   int
	idleTimeout time.Duration

	mu          sync.Mutex
	workers     map[string]*accountWorker
	closed      bool
	wg          sync.WaitGroup
	unsubscribe func()
}

type RouterOption func(*Router)

func WithChannel(channel string) RouterOption {
	return func(r *Router) { r.channel = channel }
}

func WithOrigin(origin string) RouterOption {
	return func(r *Router) { r.origin = origin }
}

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

func WithIdleTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.idleTimeout = d }
}

func WithQueueSize(n int) RouterOption {
	return func(r *Router) { r.queueSize = n }
}

// NewRouter builds a router around an already constructed broker.
func NewRouter(hub *Hub, broker Broker, opts ...RouterOption) *Router {
	r := &Router{
		hub:         hub,
		broker:      broker,
		channel:     DefaultChannel,
		origin:      uuid.NewString(),
		logger:      slog.Default(),
		queueSize:   defaultQueueSize,
		idleTimeout: defaultIdleTimeout,
		workers:     make(map[string]*accountWorker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("module", "router", "origin", r.origin)
	return r
}

func (r *Router) Origin() string {
	return r.origin
}

// Start subscribes to the broker channel so updates emitted by other
// processes reach this process's connections.
func (r *Router) Start(ctx context.Context) error {
	unsubscribe, err := r.broker.Subscribe(ctx, r.channel, r.handleRemote)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	r.logger.Info("Subscribed to updates", "channel", r.channel)
	return nil
}

// EmitUpdate queues update for userID's connections matching filter. It is
// meant to be called from a post-commit hook and never blocks on the
// broker; broker failures are logged and swallowed.
func (r *Router) EmitUpdate(ctx context.Context, userID string, update Update, filter RecipientFilter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	p := pending{userID: userID, filter: filter, cursor: update.Cursor, payload: payload}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		metrics.FanoutDropped.WithLabelValues("closed").Inc()
		return ErrRouterClosed
	}

	w, ok := r.workers[userID]
	if !ok {
		w = &accountWorker{queue: make(chan pending, r.queueSize)}
		r.workers[userID] = w
		r.wg.Add(1)
		go r.runWorker(userID, w)
	}

	select {
	case w.queue <- p:
	default:
		metrics.FanoutDropped.WithLabelValues("queue-full").Inc()
		r.logger.Warn("Dropping update, account queue full", "user_id", userID, "cursor", update.Cursor)
	}
	return nil
}

// EmitAfterCommit registers a hook on the transaction in ctx that emits
// update once the transaction commits. Nothing is sent on rollback.
func (r *Router) EmitAfterCommit(ctx context.Context, userID string, update Update, filter RecipientFilter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	return database.OnCommit(ctx, func(ctx context.Context) {
		if err := r.EmitUpdate(ctx, userID, update, filter); err != nil {
			r.logger.Warn("Failed to emit update", "user_id", userID, "cursor", update.Cursor, "error", err)
		}
	})
}

func (r *Router) runWorker(userID string, w *accountWorker) {
	defer r.wg.Done()

	idle := time.NewTimer(r.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case p, ok := <-w.queue:
			if !ok {
				return
			}
			r.dispatch(w, p)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.idleTimeout)
		case <-idle.C:
			// Enqueueing happens under r.mu, so an empty queue checked under
			// the same lock cannot gain an item after removal.
			r.mu.Lock()
			if len(w.queue) == 0 && !r.closed {
				delete(r.workers, userID)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			idle.Reset(r.idleTimeout)
		}
	}
}

func (r *Router) dispatch(w *accountWorker, p pending) {
	if p.cursor > 0 {
		if p.cursor < w.lastCursor {
			metrics.FanoutDropped.WithLabelValues("stale").Inc()
			r.logger.Debug("Dropping stale update", "user_id", p.userID, "cursor", p.cursor, "last_cursor", w.lastCursor)
			return
		}
		w.lastCursor = p.cursor
	}

	r.hub.Deliver(p.userID, p.filter, p.payload, "local")

	data, err := json.Marshal(envelope{
		Origin:  r.origin,
		UserID:  p.userID,
		Filter:  p.filter,
		Payload: p.payload,
	})
	if err != nil {
		r.logger.Error("Failed to marshal envelope", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.broker.Publish(ctx, r.channel, data); err != nil {
		metrics.BrokerPublishFailures.Inc()
		r.logger.Warn("Broker publish failed", "user_id", p.userID, "cursor", p.cursor, "error", err)
	}
}

func (r *Router) handleRemote(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("Discarding malformed envelope", "error", err)
		return
	}
	// Our own updates were delivered locally before publishing.
	if env.Origin == r.origin {
		return
	}
	r.hub.Deliver(env.UserID, env.Filter, env.Payload, "remote")
}

// Close stops accepting updates, lets every account worker drain its queue
// and unsubscribes from the broker. It returns early if ctx expires.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, w := range r.workers {
		close(w.queue)
	}
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("router drain: %w", ctx.Err())
	}

	if unsubscribe != nil {
		unsubscribe()
	}
	return err
}
