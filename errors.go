package routeref

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a Manager that has been torn down.
var ErrClosed = errors.New("route manager is closed")

// ErrorKind classifies a backend failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermission
	KindExists
	KindNotFound
	KindNoDevice
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindExists:
		return "exists"
	case KindNotFound:
		return "not-found"
	case KindNoDevice:
		return "no-device"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// RouteError is returned when a backend fails to install or remove a route.
type RouteError struct {
	Op    string // "register" or "unregister"
	Entry Entry
	Kind  ErrorKind
	Err   error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s route [%s] (%s): %v", e.Op, e.Entry, e.Kind, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the same call might succeed.
func (e *RouteError) IsRetryable() bool {
	return e.Kind == KindUnknown
}

// newRouteError wraps err unless it already is a *RouteError, in which case
// the backend's classification is kept.
func newRouteError(op string, entry Entry, err error) *RouteError {
	var re *RouteError
	if errors.As(err, &re) {
		return &RouteError{Op: op, Entry: entry, Kind: re.Kind, Err: re.Err}
	}
	return &RouteError{Op: op, Entry: entry, Kind: KindUnknown, Err: err}
}
