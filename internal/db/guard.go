package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrHandleReleased is returned by a Handle used after Release.
var ErrHandleReleased = errors.New("db: session handle already released")

// Guard is the only gateway to a Session. At most one Handle is live at
// any instant; Acquire blocks until the previous holder releases.
//
// There is no timeout: a holder stuck in a statement stalls every
// waiter behind it.
type Guard struct {
	mu      sync.Mutex
	session *Session
}

func NewGuard(session *Session) *Guard {
	return &Guard{session: session}
}

// Acquire blocks until the session is free and returns a Handle that owns
// it. ctx carries telemetry only; it does not bound the wait.
func (g *Guard) Acquire(ctx context.Context) *Handle {
	start := time.Now()
	g.mu.Lock()
	g.session.obs.waited(ctx, g.session.dialect.Name(), time.Since(start))
	return &Handle{guard: g}
}

// Do acquires the session, runs fn with it and releases it on every exit
// path, panics included.
func (g *Guard) Do(ctx context.Context, fn func(Querier) error) error {
	h := g.Acquire(ctx)
	defer h.Release()
	return fn(h)
}

// Handle is exclusive access to the session, valid until Release.
type Handle struct {
	guard    *Guard
	released atomic.Bool
}

var _ Querier = (*Handle)(nil)

// Release returns the session to the Guard. Calling it again is a no-op.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.guard.mu.Unlock()
	}
}

func (h *Handle) Dialect() Dialect { return h.guard.session.Dialect() }

func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if h.released.Load() {
		return nil, ErrHandleReleased
	}
	return h.guard.session.Exec(ctx, query, args...)
}

func (h *Handle) Get(ctx context.Context, dest any, query string, args ...any) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	return h.guard.session.Get(ctx, dest, query, args...)
}

func (h *Handle) Select(ctx context.Context, dest any, query string, args ...any) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	return h.guard.session.Select(ctx, dest, query, args...)
}
