// Package metrics provides observability for the session coordinator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks status updates and the identity provider calls they trigger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StatusUpdates      *prometheus.CounterVec
	JoinedUpdates      prometheus.Counter
	UpdateWaiters      prometheus.Gauge
	SignIns            *prometheus.CounterVec
	Refreshes          *prometheus.CounterVec
	Introspections     *prometheus.CounterVec
	IdentityChanges    prometheus.Counter
	ResolutionDuration prometheus.Histogram
}

// New creates a Metrics instance registered with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StatusUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kamui_session_status_updates_total",
			Help: "Status updates by resulting status, or error",
		}, []string{"result"}),
		JoinedUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "kamui_session_joined_updates_total",
			Help: "Status updates that joined an update already in flight",
		}),
		UpdateWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kamui_session_update_waiters",
			Help: "Callers currently waiting on the in-flight status update",
		}),
		SignIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kamui_session_sign_ins_total",
			Help: "Interactive sign-ins by outcome",
		}, []string{"outcome"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kamui_session_refreshes_total",
			Help: "Token refreshes by outcome",
		}, []string{"outcome"}),
		Introspections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kamui_session_introspections_total",
			Help: "Online token introspections by result (active, inactive, error)",
		}, []string{"result"}),
		IdentityChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "kamui_session_identity_changes_total",
			Help: "Identity change notifications published",
		}),
		ResolutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kamui_session_resolution_duration_seconds",
			Help:    "Duration of status resolutions, including user interaction",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}),
	}
}

// ObserveStatusUpdate records the result of a status update
func (m *Metrics) ObserveStatusUpdate(result string) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(result).Inc()
}

// IncrementJoined records a caller that shared an in-flight update
func (m *Metrics) IncrementJoined() {
	if m == nil {
		return
	}
	m.JoinedUpdates.Inc()
}

// TrackWaiter counts a caller registered with the in-flight update until
// the returned func is called
func (m *Metrics) TrackWaiter() (done func()) {
	if m == nil {
		return func() {}
	}
	m.UpdateWaiters.Inc()
	return m.UpdateWaiters.Dec
}

// ObserveSignIn records an interactive sign-in outcome
func (m *Metrics) ObserveSignIn(err error) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(outcome(err)).Inc()
}

// ObserveRefresh records a refresh outcome
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome(err)).Inc()
}

// ObserveIntrospection records an introspection result
func (m *Metrics) ObserveIntrospection(active bool, err error) {
	if m == nil {
		return
	}
	result := "inactive"
	switch {
	case err != nil:
		result = "error"
	case active:
		result = "active"
	}
	m.Introspections.WithLabelValues(result).Inc()
}

// IncrementIdentityChanges records a published identity change
func (m *Metrics) IncrementIdentityChanges() {
	if m == nil {
		return
	}
	m.IdentityChanges.Inc()
}

// ObserveResolution records the duration of a resolution.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolution(start time.Time) {
	if m == nil {
		return
	}
	m.ResolutionDuration.Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
