package routeref

import "context"

// Backend installs and removes routes in the operating system's routing
// table.
//
// The Manager only calls RegisterRoute for a route it does not track yet and
// UnregisterRoute for a route whose last reference is being released.
// Idempotency beyond that is the backend's concern.
type Backend interface {
	RegisterRoute(ctx context.Context, e Entry) error
	UnregisterRoute(ctx context.Context, e Entry) error
}

// BackendFuncs adapts a pair of functions to a Backend.
// A nil function is treated as a successful no-op.
type BackendFuncs struct {
	Register   func(ctx context.Context, e Entry) error
	Unregister func(ctx context.Context, e Entry) error
}

func (f BackendFuncs) RegisterRoute(ctx context.Context, e Entry) error {
	if f.Register == nil {
		return nil
	}
	return f.Register(ctx, e)
}

func (f BackendFuncs) UnregisterRoute(ctx context.Context, e Entry) error {
	if f.Unregister == nil {
		return nil
	}
	return f.Unregister(ctx, e)
}
