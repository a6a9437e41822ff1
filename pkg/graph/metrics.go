package graph

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of a Client. A nil *Metrics
// records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors and registers them on reg, or
// on the default registerer when reg is nil. Collectors that are already
// registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts, err := registerVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "graphauth_graph_requests_total",
		Help: "Graph API request attempts by response status.",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}

	retries, err := registerVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "graphauth_graph_retries_total",
		Help: "Graph API retries by reason (unauthorized, throttled, server_error).",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{attempts: attempts, retries: retries}, nil
}

func registerVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// Attempts returns the attempt counter for an HTTP status code.
func (m *Metrics) Attempts(status int) prometheus.Counter {
	return m.attempts.WithLabelValues(strconv.Itoa(status))
}

// Retries returns the retry counter for reason.
func (m *Metrics) Retries(reason string) prometheus.Counter {
	return m.retries.WithLabelValues(reason)
}

func (m *Metrics) attempt(status int) {
	if m == nil {
		return
	}
	m.Attempts(status).Inc()
}

func (m *Metrics) retry(reason string) {
	if m == nil {
		return
	}
	m.Retries(reason).Inc()
}
