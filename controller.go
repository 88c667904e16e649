package routeref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Controller serializes access to a Manager and lets several owners (for
// example one per tunnel) each declare the full set of routes they need.
// Routes requested by more than one owner are installed once and removed
// when the last owner drops them.
//
// When a Store is set, the set of installed routes is persisted after every
// change so that Recover can clean up after a crashed process. Routes the
// backend failed to remove during Recover or Close stay in the store until a
// later Recover removes them.
type Controller[B Backend] struct {
	mu      sync.Mutex
	manager *Manager[B]
	store   Store
	log     *slog.Logger

	owners map[string]map[Entry]struct{}
	// routes possibly still in the OS table but no longer tracked by manager
	leftover map[Entry]struct{}

	savedDigest uint64
	saved       bool
}

// ReconcileResult describes what a Reconcile call changed.
type ReconcileResult struct {
	Diff Diff
	// Installed are the entries that were registered with the backend.
	Installed []Entry
	// Removed are the entries that were unregistered from the backend.
	Removed []Entry
}

// NewController returns a Controller driving m. store may be nil.
// Only WithLogger is honoured.
func NewController[B Backend](m *Manager[B], store Store, opts ...Option) *Controller[B] {
	o := buildOptions(opts)
	return &Controller[B]{
		manager:  m,
		store:    store,
		log:      o.logger,
		owners:   make(map[string]map[Entry]struct{}),
		leftover: make(map[Entry]struct{}),
	}
}

// Reconcile makes desired the full set of routes held by owner:
// - releases routes owner held before but no longer wants
// - takes a reference on routes owner did not hold yet
// - saves the installed set if it changed
//
// Releases happen before additions. Failed operations are reported together;
// the owner keeps holding exactly the routes whose reference it owns.
func (c *Controller[B]) Reconcile(ctx context.Context, owner string, desired []Entry) (ReconcileResult, error) {
	if owner == "" {
		return ReconcileResult{}, fmt.Errorf("owner is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reconcileLocked(ctx, owner, desired)
}

// Release drops every route held by owner and forgets it.
func (c *Controller[B]) Release(ctx context.Context, owner string) (ReconcileResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owners[owner]; !ok {
		return ReconcileResult{}, nil
	}
	return c.reconcileLocked(ctx, owner, nil)
}

func (c *Controller[B]) reconcileLocked(ctx context.Context, owner string, desired []Entry) (ReconcileResult, error) {
	prev := c.owners[owner]

	diff, err := DiffEntries(entriesOf(prev), desired)
	if err != nil {
		return ReconcileResult{}, err
	}
	res := ReconcileResult{Diff: diff}

	held := make(map[Entry]struct{}, len(prev)+len(diff.ToAdd))
	for e := range prev {
		held[e] = struct{}{}
	}

	var errs []error
	for _, e := range diff.ToDel {
		removed, err := c.manager.RemoveRoute(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove route [%s]: %w", e, err))
			continue
		}
		delete(held, e)
		if removed {
			res.Removed = append(res.Removed, e)
		}
	}
	for _, e := range diff.ToAdd {
		added, err := c.manager.AddRoute(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("add route [%s]: %w", e, err))
			continue
		}
		held[e] = struct{}{}
		delete(c.leftover, e)
		if added {
			res.Installed = append(res.Installed, e)
		}
	}

	if len(held) == 0 {
		delete(c.owners, owner)
	} else {
		c.owners[owner] = held
	}

	if err := c.saveLocked(); err != nil {
		errs = append(errs, fmt.Errorf("save installed routes: %w", err))
	}

	c.log.Info("routes reconciled",
		slog.String("owner", owner),
		slog.Int("installed", len(res.Installed)),
		slog.Int("removed", len(res.Removed)),
		slog.Int("unchanged", len(diff.Unchanged)),
		slog.Int("failed", len(errs)))

	return res, errors.Join(errs...)
}

// Recover removes the routes recorded in the store by a previous process
// that did not shut down cleanly. It must run before any route is installed.
// Backend failures are logged and skipped. It returns how many routes were
// removed.
func (c *Controller[B]) Recover(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manager.Closed() {
		return 0, ErrClosed
	}
	if c.store == nil {
		return 0, nil
	}
	if c.manager.Len() > 0 {
		return 0, fmt.Errorf("recover: %d routes already installed", c.manager.Len())
	}

	stale, err := c.store.Load()
	if err != nil {
		return 0, fmt.Errorf("load installed routes: %w", err)
	}

	removed := 0
	clear(c.leftover)
	backend := c.manager.Backend()
	for _, e := range stale {
		if err := e.Validate(); err != nil {
			c.log.Warn("skipping invalid stale route", slog.String("route", e.String()), slog.Any("error", err))
			continue
		}
		if err := backend.UnregisterRoute(ctx, e); err != nil {
			c.log.Warn("failed to remove stale route", slog.String("route", e.String()), slog.Any("error", err))
			c.leftover[e] = struct{}{}
			continue
		}
		removed++
	}

	c.saved = false
	if err := c.saveLocked(); err != nil {
		return removed, fmt.Errorf("save installed routes: %w", err)
	}

	if len(stale) > 0 {
		c.log.Info("stale routes recovered", slog.Int("found", len(stale)), slog.Int("removed", removed))
	}
	return removed, nil
}

// Close tears the manager down and records what is still installed: nothing,
// unless the backend failed to remove some routes. It never fails; a store
// error is only logged.
func (c *Controller[B]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.manager.Close() {
		c.leftover[e] = struct{}{}
	}
	clear(c.owners)

	if err := c.saveLocked(); err != nil {
		c.log.Warn("failed to save installed routes on close", slog.Any("error", err))
	}
}

// HasRoute reports whether e is installed.
func (c *Controller[B]) HasRoute(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager.HasRoute(e)
}

// Leftover returns the routes the backend failed to remove during Recover or
// Close.
func (c *Controller[B]) Leftover() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entriesOf(c.leftover)
}

// Routes returns the installed routes.
func (c *Controller[B]) Routes() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager.Routes()
}

// Owners returns the owners currently holding at least one route.
func (c *Controller[B]) Owners() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.owners))
	for o := range c.owners {
		out = append(out, o)
	}
	slices.Sort(out)
	return out
}

// Held returns the routes owner currently holds a reference on.
func (c *Controller[B]) Held(owner string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entriesOf(c.owners[owner])
}

func (c *Controller[B]) saveLocked() error {
	if c.store == nil {
		return nil
	}
	routes := c.manager.Routes()
	for e := range c.leftover {
		if !c.manager.HasRoute(e) {
			routes = append(routes, e)
		}
	}
	SortEntries(routes)
	d := Digest(routes)
	if c.saved && d == c.savedDigest {
		return nil
	}
	if err := c.store.Save(routes); err != nil {
		return err
	}
	c.savedDigest = d
	c.saved = true
	return nil
}

func entriesOf(set map[Entry]struct{}) []Entry {
	out := make([]Entry, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	SortEntries(out)
	return out
}
