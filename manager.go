package routeref

import (
	"context"
	"log/slog"
	"time"
)

// Manager tracks the routes requested by higher layers and installs each of
// them exactly once through its Backend.
//
// Every route in the table has a reference count of at least one and is
// installed. AddRoute on an absent route registers it; RemoveRoute on the last
// reference unregisters it. Close unregisters everything that is left.
//
// Manager is not safe for concurrent use. Callers that share a Manager must
// serialize every call, Close included (see Controller).
//
// A Manager must not be copied after first use.
type Manager[B Backend] struct {
	_ noCopy

	backend B
	table   map[Entry]uint
	closed  bool

	log             *slog.Logger
	metrics         *Metrics
	teardownTimeout time.Duration
}

// New returns an empty Manager that installs routes through backend.
func New[B Backend](backend B, opts ...Option) *Manager[B] {
	o := buildOptions(opts)
	return &Manager[B]{
		backend:         backend,
		table:           make(map[Entry]uint),
		log:             o.logger,
		metrics:         o.metrics,
		teardownTimeout: o.teardownTimeout,
	}
}

// Backend returns the backend the manager delegates to.
func (m *Manager[B]) Backend() B {
	return m.backend
}

// HasRoute reports whether e is currently installed.
func (m *Manager[B]) HasRoute(e Entry) bool {
	_, ok := m.table[e]
	return ok
}

// RefCount returns the number of outstanding references to e.
func (m *Manager[B]) RefCount(e Entry) uint {
	return m.table[e]
}

// Len returns the number of distinct installed routes.
func (m *Manager[B]) Len() int {
	return len(m.table)
}

// Routes returns the installed routes sorted by Compare.
func (m *Manager[B]) Routes() []Entry {
	out := make([]Entry, 0, len(m.table))
	for e := range m.table {
		out = append(out, e)
	}
	SortEntries(out)
	return out
}

// AddRoute takes a reference on e.
//
// It returns true if e was not installed and has now been registered with
// the backend. If e was already installed its count is incremented and false
// is returned. When the backend fails, the table is left unchanged and a
// *RouteError is returned.
func (m *Manager[B]) AddRoute(ctx context.Context, e Entry) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}

	if n, ok := m.table[e]; ok {
		m.table[e] = n + 1
		m.metrics.addReferences(1)
		m.log.Debug("route reference added", slog.String("route", e.String()), slog.Uint64("refs", uint64(n+1)))
		return false, nil
	}

	err := m.backend.RegisterRoute(ctx, e)
	m.metrics.backendCall("register", err)
	if err != nil {
		return false, newRouteError("register", e, err)
	}

	m.table[e] = 1
	m.metrics.addRoutes(1)
	m.metrics.addReferences(1)
	m.log.Debug("route registered", slog.String("route", e.String()))
	return true, nil
}

// RemoveRoute releases a reference on e.
//
// It returns true if this was the last reference and e has been unregistered
// from the backend. Removing a route that is not installed is a no-op that
// returns false. When the backend fails, e stays installed with its count
// unchanged so the call can be retried, and a *RouteError is returned.
func (m *Manager[B]) RemoveRoute(ctx context.Context, e Entry) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}

	n, ok := m.table[e]
	if !ok {
		return false, nil
	}

	if n > 1 {
		m.table[e] = n - 1
		m.metrics.addReferences(-1)
		m.log.Debug("route reference released", slog.String("route", e.String()), slog.Uint64("refs", uint64(n-1)))
		return false, nil
	}

	err := m.backend.UnregisterRoute(ctx, e)
	m.metrics.backendCall("unregister", err)
	if err != nil {
		return false, newRouteError("unregister", e, err)
	}

	delete(m.table, e)
	m.metrics.addRoutes(-1)
	m.metrics.addReferences(-1)
	m.log.Debug("route unregistered", slog.String("route", e.String()))
	return true, nil
}

// Close unregisters every route still installed, once per route whatever its
// count. Backend failures are logged and otherwise ignored: every route is
// attempted and Close never fails. It returns the routes the backend could
// not remove, which may still be present in the OS routing table. The
// manager is unusable afterwards.
func (m *Manager[B]) Close() []Entry {
	if m.closed {
		return nil
	}
	m.closed = true

	var leftover []Entry
	for e, n := range m.table {
		err := m.unregisterOnTeardown(e)
		m.metrics.backendCall("unregister", err)
		if err != nil {
			m.log.Warn("failed to unregister route on teardown",
				slog.String("route", e.String()),
				slog.Uint64("refs", uint64(n)),
				slog.Any("error", err))
			leftover = append(leftover, e)
		}
		m.metrics.addRoutes(-1)
		m.metrics.addReferences(-float64(n))
	}
	clear(m.table)

	SortEntries(leftover)
	return leftover
}

// Closed reports whether Close has been called.
func (m *Manager[B]) Closed() bool {
	return m.closed
}

func (m *Manager[B]) unregisterOnTeardown(e Entry) error {
	ctx := context.Background()
	if m.teardownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.teardownTimeout)
		defer cancel()
	}
	return m.backend.UnregisterRoute(ctx, e)
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
