//go:build !linux

package routeref

import (
	"context"
	"fmt"
)

var errNetlinkUnsupported = fmt.Errorf("NetlinkBackend is supported only on linux")

// NetlinkBackend is not supported on non-Linux platforms.
type NetlinkBackend struct{}

func NewNetlinkBackend(opts ...NetlinkOption) (*NetlinkBackend, error) {
	return nil, errNetlinkUnsupported
}

func (b *NetlinkBackend) RegisterRoute(ctx context.Context, e Entry) error {
	return errNetlinkUnsupported
}

func (b *NetlinkBackend) UnregisterRoute(ctx context.Context, e Entry) error {
	return errNetlinkUnsupported
}

func (b *NetlinkBackend) List(ctx context.Context) ([]Entry, error) {
	return nil, errNetlinkUnsupported
}

func (b *NetlinkBackend) Close() error {
	return nil
}
