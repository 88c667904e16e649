//go:build linux

package routeref

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// NetlinkBackend implements Backend using the open-source netlink library
// (github.com/vishvananda/netlink).
type NetlinkBackend struct {
	handle *netlink.Handle
	ns     netns.NsHandle
	cfg    netlinkConfig
}

var _ Backend = (*NetlinkBackend)(nil)

// NewNetlinkBackend opens a netlink handle, in the configured namespace if
// any. Close releases it.
func NewNetlinkBackend(opts ...NetlinkOption) (*NetlinkBackend, error) {
	cfg := netlinkConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.table == 0 {
		cfg.table = unix.RT_TABLE_MAIN
	}
	if cfg.protocol == 0 {
		cfg.protocol = unix.RTPROT_STATIC
	}
	if cfg.protocol < 0 || cfg.protocol > 255 {
		return nil, fmt.Errorf("invalid route protocol %d", cfg.protocol)
	}

	b := &NetlinkBackend{ns: netns.None(), cfg: cfg}

	if cfg.namespace == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("netlink handle: %w", err)
		}
		b.handle = h
		return b, nil
	}

	ns, err := netns.GetFromName(cfg.namespace)
	if err != nil {
		return nil, fmt.Errorf("netns %q: %w", cfg.namespace, err)
	}
	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("netlink handle in netns %q: %w", cfg.namespace, err)
	}
	b.ns = ns
	b.handle = h
	return b, nil
}

func (b *NetlinkBackend) RegisterRoute(ctx context.Context, e Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	nlr, err := b.toNetlinkRoute(e)
	if err != nil {
		return &RouteError{Op: "register", Entry: e, Kind: classify(err), Err: err}
	}
	if err := b.handle.RouteAdd(&nlr); err != nil {
		return &RouteError{Op: "register", Entry: e, Kind: classify(err), Err: err}
	}
	return nil
}

func (b *NetlinkBackend) UnregisterRoute(ctx context.Context, e Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	nlr, err := b.toNetlinkRoute(e)
	if err != nil {
		// The kernel drops routes together with their device.
		if classify(err) == KindNoDevice {
			return nil
		}
		return &RouteError{Op: "unregister", Entry: e, Kind: classify(err), Err: err}
	}
	if err := b.handle.RouteDel(&nlr); err != nil {
		if errors.Is(err, unix.ESRCH) || errors.Is(err, unix.ENOENT) {
			return nil
		}
		return &RouteError{Op: "unregister", Entry: e, Kind: classify(err), Err: err}
	}
	return nil
}

// List returns the routes in the configured table tagged with the configured
// protocol, which normally means the routes installed through this backend.
func (b *NetlinkBackend) List(ctx context.Context) ([]Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filter := &netlink.Route{
		Table:    b.cfg.table,
		Protocol: netlink.RouteProtocol(b.cfg.protocol),
	}
	nlRoutes, err := b.handle.RouteListFiltered(netlink.FAMILY_ALL, filter, netlink.RT_FILTER_TABLE|netlink.RT_FILTER_PROTOCOL)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(nlRoutes))
	for _, nr := range nlRoutes {
		e, err := b.fromNetlinkRoute(nr)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	SortEntries(entries)
	return entries, nil
}

// Close releases the netlink handle and the namespace handle.
func (b *NetlinkBackend) Close() error {
	if b.handle != nil {
		b.handle.Close()
		b.handle = nil
	}
	if b.ns.IsOpen() {
		if err := b.ns.Close(); err != nil {
			return err
		}
		b.ns = netns.None()
	}
	return nil
}

func (b *NetlinkBackend) toNetlinkRoute(e Entry) (netlink.Route, error) {
	if err := e.Validate(); err != nil {
		return netlink.Route{}, err
	}

	link, err := b.handle.LinkByName(e.Interface)
	if err != nil {
		return netlink.Route{}, fmt.Errorf("link %q: %w", e.Interface, err)
	}
	return routeFromEntry(e, link.Attrs().Index, b.cfg), nil
}

func (b *NetlinkBackend) fromNetlinkRoute(nr netlink.Route) (Entry, error) {
	link, err := b.handle.LinkByIndex(nr.LinkIndex)
	if err != nil {
		return Entry{}, err
	}
	return entryFromRoute(link.Attrs().Name, nr)
}

// routeFromEntry builds the netlink route for e on the link with index
// linkIndex. e must be valid.
func routeFromEntry(e Entry, linkIndex int, cfg netlinkConfig) netlink.Route {
	nr := netlink.Route{
		LinkIndex: linkIndex,
		Dst: &net.IPNet{
			IP:   net.IP(e.Network.Addr().AsSlice()),
			Mask: net.CIDRMask(e.Network.Bits(), e.Network.Addr().BitLen()),
		},
		Table:    cfg.table,
		Priority: cfg.metric,
		Protocol: netlink.RouteProtocol(cfg.protocol),
		Type:     unix.RTN_UNICAST,
		Family:   netlink.FAMILY_V4,
	}
	if e.Network.Addr().Is6() {
		nr.Family = netlink.FAMILY_V6
	}

	if e.Gateway.IsValid() {
		nr.Gw = net.IP(e.Gateway.AsSlice())
	} else {
		nr.Scope = netlink.SCOPE_LINK
	}
	return nr
}

// entryFromRoute converts a kernel route on the interface named iface.
func entryFromRoute(iface string, nr netlink.Route) (Entry, error) {
	e := Entry{Interface: iface}

	if nr.Dst == nil {
		if nr.Family == netlink.FAMILY_V6 {
			e.Network = netip.PrefixFrom(netip.IPv6Unspecified(), 0)
		} else {
			e.Network = netip.PrefixFrom(netip.IPv4Unspecified(), 0)
		}
	} else {
		addr, ok := netip.AddrFromSlice(nr.Dst.IP)
		if !ok {
			return Entry{}, fmt.Errorf("invalid destination %v", nr.Dst)
		}
		ones, bits := nr.Dst.Mask.Size()
		if addr.Is4In6() && bits == 128 {
			ones -= 96
		}
		e.Network = netip.PrefixFrom(addr.Unmap(), ones).Masked()
		if !e.Network.IsValid() {
			return Entry{}, fmt.Errorf("invalid destination %v", nr.Dst)
		}
	}

	if len(nr.Gw) != 0 {
		gw, ok := netip.AddrFromSlice(nr.Gw)
		if !ok {
			return Entry{}, fmt.Errorf("invalid gateway %v", nr.Gw)
		}
		e.Gateway = gw.Unmap()
	}

	return e, e.Validate()
}

func classify(err error) ErrorKind {
	var notFound netlink.LinkNotFoundError
	switch {
	case errors.As(err, &notFound), errors.Is(err, unix.ENODEV):
		return KindNoDevice
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return KindPermission
	case errors.Is(err, unix.EEXIST):
		return KindExists
	case errors.Is(err, unix.ESRCH), errors.Is(err, unix.ENOENT):
		return KindNotFound
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENETUNREACH):
		return KindInvalid
	default:
		return KindUnknown
	}
}
