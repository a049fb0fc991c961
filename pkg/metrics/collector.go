package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/park-link/pkg/logging"
	"github.com/park-link/pkg/probe"
	"github.com/park-link/pkg/redirect"
	"github.com/park-link/pkg/resolver"
	"github.com/park-link/pkg/trust"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// knownStates is the full redirection state space, exported so every state
// series exists with value 0 or 1
var knownStates = []string{"inactive", "installing", "active", "failed", "restoring"}

// Collector Prometheus metrics collector for the redirection client
type Collector struct {
	GetRedirectState  func() string
	GetTrustedServers func() int

	// Info metric (always 1)
	clientInfo *prometheus.Desc

	// State metrics
	redirectState  *prometheus.Desc
	trustedServers *prometheus.Desc

	// Connect metrics
	connectAttempts   *prometheus.Desc
	connectSuccesses  *prometheus.Desc
	connectFailures   *prometheus.Desc
	probeLatencySum   *prometheus.Desc
	probeLatencyCount *prometheus.Desc

	// Counters (protected by mutex)
	metricsLock       sync.RWMutex
	attempts          float64
	successes         float64
	failuresByReason  map[string]float64
	probeLatencyTotal float64
	probeLatencyN     float64
}

// NewCollector creates a new metrics collector. The callbacks pull live
// state from the session coordinator at scrape time.
func NewCollector(getRedirectState func() string, getTrustedServers func() int) *Collector {
	return &Collector{
		GetRedirectState:  getRedirectState,
		GetTrustedServers: getTrustedServers,
		clientInfo: prometheus.NewDesc(
			"park_link_client_info",
			"Redirection client process info metric (always 1)",
			[]string{"client"},
			nil,
		),
		redirectState: prometheus.NewDesc(
			"park_link_redirect_state",
			"Current redirection state (1 for the active state, 0 otherwise)",
			[]string{"state"},
			nil,
		),
		trustedServers: prometheus.NewDesc(
			"park_link_trusted_servers",
			"Number of server records in the trust store",
			nil,
			nil,
		),
		connectAttempts: prometheus.NewDesc(
			"park_link_connect_attempts_total",
			"Total connect attempts",
			nil,
			nil,
		),
		connectSuccesses: prometheus.NewDesc(
			"park_link_connect_successes_total",
			"Total connect attempts that reached an active redirect",
			nil,
			nil,
		),
		connectFailures: prometheus.NewDesc(
			"park_link_connect_failures_total",
			"Total connect failures by failure kind",
			[]string{"reason"},
			nil,
		),
		probeLatencySum: prometheus.NewDesc(
			"park_link_probe_latency_seconds_sum",
			"Sum of successful probe durations in seconds",
			nil,
			nil,
		),
		probeLatencyCount: prometheus.NewDesc(
			"park_link_probe_latency_seconds_count",
			"Count of successful probes",
			nil,
			nil,
		),
		failuresByReason: make(map[string]float64),
	}
}

// IncConnectAttempt counts a connect attempt
func (c *Collector) IncConnectAttempt() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.attempts++
}

// IncConnectSuccess counts a connect that reached an active redirect
func (c *Collector) IncConnectSuccess() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.successes++
}

// IncConnectFailure counts a connect failure by reason label
func (c *Collector) IncConnectFailure(reason string) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.failuresByReason[reason]++
}

// ObserveProbeLatency records the duration of a successful probe
func (c *Collector) ObserveProbeLatency(seconds float64) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.probeLatencyTotal += seconds
	c.probeLatencyN++
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.clientInfo
	ch <- c.redirectState
	ch <- c.trustedServers
	ch <- c.connectAttempts
	ch <- c.connectSuccesses
	ch <- c.connectFailures
	ch <- c.probeLatencySum
	ch <- c.probeLatencyCount
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.clientInfo, prometheus.GaugeValue, 1, logging.GetClientID())

	current := ""
	if c.GetRedirectState != nil {
		current = c.GetRedirectState()
	}
	for _, state := range knownStates {
		value := 0.0
		if state == current {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.redirectState, prometheus.GaugeValue, value, state)
	}

	if c.GetTrustedServers != nil {
		ch <- prometheus.MustNewConstMetric(c.trustedServers, prometheus.GaugeValue, float64(c.GetTrustedServers()))
	}

	c.metricsLock.RLock()
	defer c.metricsLock.RUnlock()
	ch <- prometheus.MustNewConstMetric(c.connectAttempts, prometheus.CounterValue, c.attempts)
	ch <- prometheus.MustNewConstMetric(c.connectSuccesses, prometheus.CounterValue, c.successes)
	for reason, count := range c.failuresByReason {
		ch <- prometheus.MustNewConstMetric(c.connectFailures, prometheus.CounterValue, count, reason)
	}
	ch <- prometheus.MustNewConstMetric(c.probeLatencySum, prometheus.CounterValue, c.probeLatencyTotal)
	ch <- prometheus.MustNewConstMetric(c.probeLatencyCount, prometheus.CounterValue, c.probeLatencyN)
}

// FailureReason maps a connect failure to a low-cardinality label
func FailureReason(err error) string {
	switch {
	case errors.Is(err, resolver.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, resolver.ErrResolutionFailed):
		return "resolution_failed"
	case errors.Is(err, probe.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, probe.ErrTimeout):
		return "timeout"
	case errors.Is(err, probe.ErrIncompatibleServer):
		return "incompatible_server"
	case errors.Is(err, probe.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, trust.ErrPersistFailed):
		return "persist_failed"
	case errors.Is(err, redirect.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, redirect.ErrAlreadyInUse):
		return "already_in_use"
	default:
		return "other"
	}
}

// StartMetricsServer serves the registry over HTTP with a health endpoint
func StartMetricsServer(registry *prometheus.Registry, metricsAddr, metricsPath string) error {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>Park Link Exporter</title></head>
<body>
<h1>Park Link Exporter</h1>
<p><a href="` + metricsPath + `">Metrics</a></p>
</body>
</html>`))
	})

	logging.Logf("[listen] metrics addr=%s path=%s health=/healthz", metricsAddr, metricsPath)
	return http.ListenAndServe(metricsAddr, mux)
}
