// Package lifecycle coordinates process shutdown: it flips a process-wide
// flag exactly once, refuses new top-level work afterwards, and drains the
// work and shutdown handlers that were already running.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ErrShutdownInProgress is retryable: the caller should try another process
// or come back after restart.
var ErrShutdownInProgress = errors.New("shutdown in progress")

type handler struct {
	id   uint64
	name string
	fn   func(ctx context.Context) error
}

type Lifecycle struct {
	logger *slog.Logger

	mu       sync.Mutex
	done     chan struct{}
	reason   string
	handlers []handler
	nextID   uint64
	inflight sync.WaitGroup

	drainOnce sync.Once
	drainErr  error
}

func New(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		logger: logger.With("module", "lifecycle"),
		done:   make(chan struct{}),
	}
}

// InitiateShutdown moves the process into the shutdown state. Only the first
// call has any effect; it reports whether this call was the one that did it.
func (l *Lifecycle) InitiateShutdown(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return false
	default:
	}

	l.reason = reason
	close(l.done)
	l.logger.Info("Shutdown initiated", "reason", reason)
	return true
}

// AwaitShutdown returns a channel closed the first time shutdown is initiated.
func (l *Lifecycle) AwaitShutdown() <-chan struct{} {
	return l.done
}

func (l *Lifecycle) IsShutdown() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Lifecycle) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Track registers one unit of in-flight work. The returned func must be
// called when the work finishes. Once shutdown has started Track refuses.
func (l *Lifecycle) Track() (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.IsShutdown() {
		return nil, ErrShutdownInProgress
	}
	l.inflight.Add(1)

	var once sync.Once
	return func() { once.Do(l.inflight.Done) }, nil
}

// OnShutdown registers a handler run by Drain after in-flight work finished.
// The returned func unregisters it.
func (l *Lifecycle) OnShutdown(name string, fn func(ctx context.Context) error) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.handlers = append(l.handlers, handler{id: id, name: name, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Drain initiates shutdown if needed, waits for tracked work, then runs every
// registered handler concurrently. It gives up when ctx expires.
func (l *Lifecycle) Drain(ctx context.Context) error {
	l.InitiateShutdown("drain")

	l.drainOnce.Do(func() {
		l.drainErr = l.drain(ctx)
	})
	return l.drainErr
}

func (l *Lifecycle) drain(ctx context.Context) error {
	start := time.Now()

	idle := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		l.logger.Warn("Gave up waiting for in-flight work", "error", ctx.Err())
		return ctx.Err()
	}

	l.mu.Lock()
	snapshot := make([]handler, len(l.handlers))
	copy(snapshot, l.handlers)
	l.mu.Unlock()

	if len(snapshot) > 0 {
		l.logger.Info("Waiting for shutdown handlers to complete", "handlers", len(snapshot))
	}

	var wg sync.WaitGroup
	for _, h := range snapshot {
		wg.Add(1)
		go func(h handler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				l.logger.Error("Shutdown handler failed", "handler", h.name, "error", err)
			}
		}(h)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		l.logger.Info("Shutdown drained", "duration", time.Since(start))
		return nil
	case <-ctx.Done():
		l.logger.Warn("Gave up waiting for shutdown handlers", "error", ctx.Err())
		return ctx.Err()
	}
}

// NotifySignals initiates shutdown on SIGINT or SIGTERM until ctx is done.
func (l *Lifecycle) NotifySignals(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			l.InitiateShutdown("signal: " + sig.String())
		case <-ctx.Done():
		case <-l.done:
		}
	}()
}
