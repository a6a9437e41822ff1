package tokencache

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of a Cache. A nil *Metrics records
// nothing.
type Metrics struct {
	lookups      *prometheus.CounterVec
	acquisitions *prometheus.CounterVec
	acquireTime  prometheus.Histogram
	inflight     prometheus.Gauge
}

// NewMetrics creates the cache collectors and registers them on reg, or on
// the default registerer when reg is nil. Collectors that are already
// registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphauth_token_cache_lookups_total",
			Help: "Token cache lookups by result (hit, miss).",
		}, []string{"result"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphauth_token_acquisitions_total",
			Help: "Token acquisitions run by the cache, by outcome.",
		}, []string{"outcome"}),
		acquireTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphauth_token_acquisition_duration_seconds",
			Help:    "Duration of token acquisitions.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphauth_token_acquisitions_inflight",
			Help: "Token acquisitions currently running.",
		}),
	}

	var err error
	m.lookups, err = register(reg, m.lookups)
	if err != nil {
		return nil, err
	}
	m.acquisitions, err = register(reg, m.acquisitions)
	if err != nil {
		return nil, err
	}
	m.acquireTime, err = register(reg, m.acquireTime)
	if err != nil {
		return nil, err
	}
	m.inflight, err = register(reg, m.inflight)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) lookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
	} else {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) acquireStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) acquireDone(start time.Time, err error) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.acquireTime.Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.acquisitions.WithLabelValues(outcome).Inc()
}

// Lookups returns the lookup counter for result ("hit" or "miss").
func (m *Metrics) Lookups(result string) prometheus.Counter {
	return m.lookups.WithLabelValues(result)
}

// Acquisitions returns the acquisition counter for outcome ("success" or
// "error").
func (m *Metrics) Acquisitions(outcome string) prometheus.Counter {
	return m.acquisitions.WithLabelValues(outcome)
}
