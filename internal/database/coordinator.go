package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/prudhvinik1/changesync/internal/lifecycle"
	"github.com/prudhvinik1/changesync/internal/metrics"
)

const DefaultRetryDelay = 100 * time.Millisecond

// CommitHook runs after the owning transaction committed. Its context is
// detached from the caller's cancellation.
type CommitHook func(ctx context.Context)

// txState is the unit of work carried in the context. Hooks are owned by it
// and are dropped with it on rollback.
type txState struct {
	tx       Tx
	readOnly bool
	hooks    []CommitHook
}

type txKey struct{}

func stateFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// TxFrom returns the transaction active in ctx, if any.
func TxFrom(ctx context.Context) (Tx, bool) {
	st := stateFrom(ctx)
	if st == nil {
		return nil, false
	}
	return st.tx, true
}

// OnCommit schedules hook to run once the transaction active in ctx commits.
// Hooks run in registration order and never run if the transaction rolls back.
func OnCommit(ctx context.Context, hook CommitHook) error {
	st := stateFrom(ctx)
	if st == nil {
		return fmt.Errorf("OnCommit: %w", ErrNoTransaction)
	}
	st.hooks = append(st.hooks, hook)
	return nil
}

type Coordinator struct {
	backend    Backend
	lifecycle  *lifecycle.Lifecycle
	logger     *slog.Logger
	clock      clock.Clock
	maxRetries int
	retryDelay time.Duration
}

type CoordinatorOption func(*Coordinator)

func WithLifecycle(l *lifecycle.Lifecycle) CoordinatorOption {
	return func(c *Coordinator) { c.lifecycle = l }
}

func WithMaxRetries(n int) CoordinatorOption {
	return func(c *Coordinator) { c.maxRetries = n }
}

func WithRetryDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.retryDelay = d }
}

func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

func WithClock(clk clock.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clk }
}

func NewCoordinator(backend Backend, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		backend:    backend,
		logger:     slog.Default(),
		clock:      clock.WallClock,
		maxRetries: 3,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", "tx", "backend", backend.Name())
	return c
}

func (c *Coordinator) Backend() Backend {
	return c.backend
}

// WithTransaction runs fn inside one storage transaction. An error from fn
// rolls everything back and is returned; commit hooks then never run.
// Called with a context that already carries a transaction, fn joins it.
// Top-level calls are refused with lifecycle.ErrShutdownInProgress once
// shutdown started.
func (c *Coordinator) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if st := stateFrom(ctx); st != nil {
		if st.readOnly {
			return errors.New("cannot start a write unit inside a read-only transaction")
		}
		return fn(ctx, st.tx)
	}

	if c.lifecycle != nil {
		done, err := c.lifecycle.Track()
		if err != nil {
			return err
		}
		defer done()
	}

	return c.run(ctx, false, fn)
}

// View runs fn in a read-only transaction. Reads are served during shutdown.
func (c *Coordinator) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if st := stateFrom(ctx); st != nil {
		return fn(ctx, st.tx)
	}
	return c.run(ctx, true, fn)
}

// RunMutation is WithTransaction for units of work that produce a value.
func RunMutation[T any](ctx context.Context, c *Coordinator, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var result T
	err := c.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// txOptions requests serializable isolation only from backends that honor
// isolation selection; others run at their fixed default.
func (c *Coordinator) txOptions(readOnly bool) *TxOptions {
	if !c.backend.Capabilities().SupportsIsolationLevels {
		return nil
	}
	return &TxOptions{Isolation: IsolationSerializable, ReadOnly: readOnly}
}

func (c *Coordinator) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx Tx) error) error {
	var (
		hooks   []CommitHook
		lastErr error
	)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			hooks, lastErr = c.attempt(ctx, readOnly, fn)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrConflict)
		},
		NotifyFunc: func(err error, attempt int) {
			if errors.Is(err, ErrConflict) && attempt <= c.maxRetries {
				metrics.TxConflictRetries.Inc()
				c.logger.Debug("Retrying transaction after conflict", "attempt", attempt, "error", err)
			}
		},
		Attempts: c.maxRetries + 1,
		Delay:    c.retryDelay,
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return c.retryDelay * time.Duration(attempt)
		},
		Clock: c.clock,
		Stop:  ctx.Done(),
	})
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}

	c.runHooks(ctx, hooks)
	return nil
}

func (c *Coordinator) attempt(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx Tx) error) (hooks []CommitHook, err error) {
	tx, err := c.backend.Begin(ctx, c.txOptions(readOnly))
	if err != nil {
		classified := c.backend.ClassifyError(err)
		if errors.Is(classified, ErrConflict) {
			return nil, classified
		}
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrStorageUnavailable, err)
	}

	st := &txState{tx: tx, readOnly: readOnly}
	txCtx := context.WithValue(ctx, txKey{}, st)

	defer func() {
		if p := recover(); p != nil {
			c.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(txCtx, tx); err != nil {
		c.rollback(ctx, tx)
		classified := c.backend.ClassifyError(err)
		if errors.Is(classified, ErrConflict) {
			metrics.TxTotal.WithLabelValues("conflict").Inc()
		}
		return nil, classified
	}

	if err := tx.Commit(ctx); err != nil {
		c.rollback(ctx, tx)
		classified := c.backend.ClassifyError(err)
		if errors.Is(classified, ErrConflict) {
			metrics.TxTotal.WithLabelValues("conflict").Inc()
			return nil, classified
		}
		if errors.Is(classified, ErrStorageUnavailable) {
			return nil, classified
		}
		return nil, fmt.Errorf("%w: failed to commit transaction: %w", ErrStorageUnavailable, err)
	}

	metrics.TxTotal.WithLabelValues("commit").Inc()
	return st.hooks, nil
}

func (c *Coordinator) rollback(ctx context.Context, tx Tx) {
	metrics.TxTotal.WithLabelValues("rollback").Inc()
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("Rollback failed", "error", err)
	}
}

// runHooks drains hooks in order. A panicking hook is logged and skipped;
// the transaction is already committed.
func (c *Coordinator) runHooks(ctx context.Context, hooks []CommitHook) {
	hookCtx := context.WithoutCancel(ctx)
	for i, hook := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					metrics.CommitHookPanics.Inc()
					c.logger.Error("Commit hook panicked", "hook", i, "panic", p)
				}
			}()
			hook(hookCtx)
		}()
	}
}
