package routeref

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Entry identifies one route: the interface it is bound to, the destination
// network and an optional gateway.
//
// All fields are comparable, so Entry can be used directly as a map key.
// The zero netip.Addr in Gateway means "no gateway" (directly attached).
type Entry struct {
	Interface string
	Network   netip.Prefix
	Gateway   netip.Addr
}

// ParseEntry builds a normalized Entry from its textual form.
//
// network is a CIDR or "default". gateway may be empty.
func ParseEntry(iface, network, gateway string) (Entry, error) {
	var e Entry

	e.Interface = strings.TrimSpace(iface)

	gateway = strings.TrimSpace(gateway)
	if gateway != "" {
		gw, err := netip.ParseAddr(gateway)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid gateway %q: %w", gateway, err)
		}
		e.Gateway = gw.Unmap()
	}

	network = strings.ToLower(strings.TrimSpace(network))
	switch network {
	case "":
		return Entry{}, fmt.Errorf("network is required")
	case "default":
		if e.Gateway.Is6() {
			e.Network = netip.PrefixFrom(netip.IPv6Unspecified(), 0)
		} else {
			e.Network = netip.PrefixFrom(netip.IPv4Unspecified(), 0)
		}
	default:
		p, err := netip.ParsePrefix(network)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid network %q: %w", network, err)
		}
		e.Network = p.Masked()
	}

	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// MustParseEntry is like ParseEntry but panics on error.
func MustParseEntry(iface, network, gateway string) Entry {
	e, err := ParseEntry(iface, network, gateway)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether e can be handed to a backend.
func (e Entry) Validate() error {
	if e.Interface == "" {
		return fmt.Errorf("route interface is required")
	}
	if !e.Network.IsValid() {
		return fmt.Errorf("route network is invalid")
	}
	if e.Gateway.IsValid() && e.Gateway.Is4() != e.Network.Addr().Is4() {
		return fmt.Errorf("gateway %s does not match network %s family", e.Gateway, e.Network)
	}
	return nil
}

// HasGateway reports whether the route goes through a next hop.
func (e Entry) HasGateway() bool {
	return e.Gateway.IsValid()
}

// Equal reports whether e and o describe the same route.
func (e Entry) Equal(o Entry) bool {
	return e == o
}

func (e Entry) String() string {
	if e.Gateway.IsValid() {
		return fmt.Sprintf("%s - %s - %s", e.Interface, e.Network, e.Gateway)
	}
	return fmt.Sprintf("%s - %s - no gateway", e.Interface, e.Network)
}

// Compare returns an integer comparing a and b lexicographically by
// interface, network address, prefix length and gateway. An absent gateway
// sorts before any present one.
func Compare(a, b Entry) int {
	if c := strings.Compare(a.Interface, b.Interface); c != 0 {
		return c
	}
	if c := a.Network.Addr().Compare(b.Network.Addr()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Network.Bits(), b.Network.Bits()); c != 0 {
		return c
	}
	return a.Gateway.Compare(b.Gateway)
}

// SortEntries sorts entries in place by Compare.
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, Compare)
}

type entryJSON struct {
	Interface string `json:"interface"`
	Network   string `json:"network"`
	Gateway   string `json:"gateway,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	v := entryJSON{Interface: e.Interface, Network: e.Network.String()}
	if e.Gateway.IsValid() {
		v.Gateway = e.Gateway.String()
	}
	return json.Marshal(v)
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var v entryJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseEntry(v.Interface, v.Network, v.Gateway)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
