// Package metrics holds the prometheus collectors of the daemon. A Metrics
// value owns its own registry so tests can build isolated instances; a nil
// *Metrics is a valid no-op, which keeps instrumentation optional in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the daemon's collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	linesIn        prometheus.Counter
	linesOut       prometheus.Counter
	apiRequests    prometheus.Counter
	apiErrors      prometheus.Counter
}

// New builds a Metrics instance with the standard Go and process collectors
// plus the daemon's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "passerd_sessions_active",
			Help: "Currently connected IRC sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "passerd_sessions_total",
			Help: "IRC sessions accepted since start.",
		}),
		linesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "passerd_irc_lines_in_total",
			Help: "IRC lines received from clients.",
		}),
		linesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "passerd_irc_lines_out_total",
			Help: "IRC lines sent to clients.",
		}),
		apiRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "passerd_api_requests_total",
			Help: "Requests made to the remote service.",
		}),
		apiErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "passerd_api_errors_total",
			Help: "Failed requests to the remote service.",
		}),
	}
}

// RegisterUserCount exposes the number of registered accounts as a gauge
// evaluated at scrape time.
func (m *Metrics) RegisterUserCount(count func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "passerd_users_registered",
		Help: "Accounts present in the store.",
	}, count))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) LineIn() {
	if m == nil {
		return
	}
	m.linesIn.Inc()
}

func (m *Metrics) LineOut() {
	if m == nil {
		return
	}
	m.linesOut.Inc()
}

// APIResult records one remote request and whether it failed. Wired as the
// twitter client's observer.
func (m *Metrics) APIResult(err error) {
	if m == nil {
		return
	}
	m.apiRequests.Inc()
	if err != nil {
		m.apiErrors.Inc()
	}
}
