package routeref

// NetlinkOption configures a NetlinkBackend.
type NetlinkOption func(*netlinkConfig)

type netlinkConfig struct {
	namespace string
	table     int
	metric    int
	protocol  int
}

// WithNamespace makes the backend program the routing table of the named
// network namespace (as created by "ip netns add").
func WithNamespace(name string) NetlinkOption {
	return func(c *netlinkConfig) {
		c.namespace = name
	}
}

// WithTable selects the routing table. 0 means the main table.
func WithTable(table int) NetlinkOption {
	return func(c *netlinkConfig) {
		c.table = table
	}
}

// WithMetric sets the priority of installed routes.
func WithMetric(metric int) NetlinkOption {
	return func(c *netlinkConfig) {
		c.metric = metric
	}
}

// WithProtocol sets the rtnetlink protocol installed routes are tagged with.
// 0 means "static".
func WithProtocol(proto int) NetlinkOption {
	return func(c *netlinkConfig) {
		c.protocol = proto
	}
}
