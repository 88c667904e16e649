//go:build linux

package routeref

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// linkLookupError wraps an error without formatting it. The zero
// netlink.LinkNotFoundError has no message to format.
type linkLookupError struct{ err error }

func (e linkLookupError) Error() string { return "link lookup failed" }
func (e linkLookupError) Unwrap() error { return e.err }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"link not found", linkLookupError{netlink.LinkNotFoundError{}}, KindNoDevice},
		{"enodev", fmt.Errorf("route add: %w", unix.ENODEV), KindNoDevice},
		{"eperm", fmt.Errorf("route add: %w", unix.EPERM), KindPermission},
		{"eacces", unix.EACCES, KindPermission},
		{"eexist", fmt.Errorf("route add: %w", unix.EEXIST), KindExists},
		{"esrch", fmt.Errorf("route del: %w", unix.ESRCH), KindNotFound},
		{"enoent", unix.ENOENT, KindNotFound},
		{"einval", fmt.Errorf("route add: %w", unix.EINVAL), KindInvalid},
		{"enetunreach", unix.ENETUNREACH, KindInvalid},
		{"ebusy", unix.EBUSY, KindUnknown},
		{"plain", errors.New("something else"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestRouteFromEntry(t *testing.T) {
	cfg := netlinkConfig{table: 100, metric: 20, protocol: unix.RTPROT_STATIC}

	nr := routeFromEntry(MustParseEntry("eth0", "10.1.0.0/16", "192.168.1.1"), 7, cfg)
	assert.Equal(t, 7, nr.LinkIndex)
	assert.Equal(t, "10.1.0.0/16", nr.Dst.String())
	assert.True(t, nr.Gw.Equal(net.ParseIP("192.168.1.1")))
	assert.Equal(t, netlink.FAMILY_V4, nr.Family)
	assert.Equal(t, 100, nr.Table)
	assert.Equal(t, 20, nr.Priority)
	assert.Equal(t, netlink.RouteProtocol(unix.RTPROT_STATIC), nr.Protocol)
	assert.Equal(t, netlink.Scope(0), nr.Scope)

	nr = routeFromEntry(MustParseEntry("tun0", "fd00::/64", ""), 3, cfg)
	assert.Equal(t, netlink.FAMILY_V6, nr.Family)
	assert.Equal(t, "fd00::/64", nr.Dst.String())
	assert.Nil(t, nr.Gw)
	assert.Equal(t, netlink.SCOPE_LINK, nr.Scope)
}

func TestNetlinkRouteConversionRoundTrip(t *testing.T) {
	cfg := netlinkConfig{table: unix.RT_TABLE_MAIN, protocol: unix.RTPROT_STATIC}
	entries := []Entry{
		MustParseEntry("eth0", "10.1.0.0/16", "192.168.1.1"),
		MustParseEntry("tun0", "10.0.0.0/24", ""),
		MustParseEntry("eth0", "2001:db8::/32", "fe80::1"),
		MustParseEntry("eth0", "default", "192.168.1.254"),
		MustParseEntry("eth0", "10.2.3.4/32", ""),
	}
	for _, e := range entries {
		t.Run(e.String(), func(t *testing.T) {
			got, err := entryFromRoute(e.Interface, routeFromEntry(e, 2, cfg))
			require.NoError(t, err)
			assert.Equal(t, e, got)
		})
	}
}

func TestEntryFromRoute(t *testing.T) {
	t.Run("nil destination is the default route of its family", func(t *testing.T) {
		got, err := entryFromRoute("eth0", netlink.Route{Family: netlink.FAMILY_V4, Gw: net.ParseIP("192.168.1.254").To4()})
		require.NoError(t, err)
		assert.Equal(t, MustParseEntry("eth0", "0.0.0.0/0", "192.168.1.254"), got)

		got, err = entryFromRoute("eth0", netlink.Route{Family: netlink.FAMILY_V6, Gw: net.ParseIP("fe80::1")})
		require.NoError(t, err)
		assert.Equal(t, MustParseEntry("eth0", "::/0", "fe80::1"), got)
	})

	t.Run("16-byte IPv4 addresses are unmapped", func(t *testing.T) {
		_, dst, err := net.ParseCIDR("10.1.0.0/16")
		require.NoError(t, err)
		dst.IP = dst.IP.To16()
		dst.Mask = net.CIDRMask(16+96, 128)

		got, err := entryFromRoute("eth0", netlink.Route{Dst: dst, Gw: net.ParseIP("192.168.1.1")})
		require.NoError(t, err)
		assert.Equal(t, MustParseEntry("eth0", "10.1.0.0/16", "192.168.1.1"), got)
		assert.True(t, got.Gateway.Is4())
	})

	t.Run("host bits are masked", func(t *testing.T) {
		dst := &net.IPNet{IP: net.ParseIP("10.1.2.3").To4(), Mask: net.CIDRMask(16, 32)}
		got, err := entryFromRoute("eth0", netlink.Route{Dst: dst})
		require.NoError(t, err)
		assert.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), got.Network)
	})

	t.Run("malformed destination", func(t *testing.T) {
		_, err := entryFromRoute("eth0", netlink.Route{Dst: &net.IPNet{IP: net.IP{1, 2, 3}, Mask: net.CIDRMask(8, 32)}})
		assert.Error(t, err)
	})

	t.Run("missing interface name", func(t *testing.T) {
		_, err := entryFromRoute("", netlink.Route{Family: netlink.FAMILY_V4})
		assert.Error(t, err)
	})
}
