package routeref

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors updated by a Manager.
// A single Metrics may be shared by several managers.
type Metrics struct {
	TrackedRoutes prometheus.Gauge
	References    prometheus.Gauge
	BackendCalls  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TrackedRoutes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "routeref",
			Name:      "tracked_routes",
			Help:      "Number of distinct routes currently installed by route managers.",
		}),
		References: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "routeref",
			Name:      "route_references",
			Help:      "Sum of reference counts over all installed routes.",
		}),
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routeref",
			Name:      "backend_calls_total",
			Help:      "Backend register/unregister calls by outcome.",
		}, []string{"op", "result"}),
	}
}

func (m *Metrics) backendCall(op string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.BackendCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) addRoutes(delta float64) {
	if m == nil {
		return
	}
	m.TrackedRoutes.Add(delta)
}

func (m *Metrics) addReferences(delta float64) {
	if m == nil {
		return
	}
	m.References.Add(delta)
}
