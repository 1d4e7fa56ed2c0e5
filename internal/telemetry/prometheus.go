package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus publishes Metrics keys as labelled series: Add feeds a counter
// and Store sets a gauge. Keys are created lazily so components never need to
// pre-register anything.
type Prometheus struct {
	counters *prometheus.CounterVec
	gauges   *prometheus.GaugeVec

	mu     sync.Mutex
	totals map[string]uint64
}

// NewPrometheus registers the longwalk counter and gauge vectors on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "longwalk",
			Name:      "events_total",
			Help:      "Monotonic counters reported by the walkability cache and coordinator.",
		}, []string{"key"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "longwalk",
			Name:      "state",
			Help:      "Last reported value of cache and coordinator gauges.",
		}, []string{"key"}),
		totals: make(map[string]uint64),
	}
	if reg != nil {
		if err := reg.Register(p.counters); err != nil {
			return nil, err
		}
		if err := reg.Register(p.gauges); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) Add(key string, delta uint64) {
	if p == nil || delta == 0 {
		return
	}
	p.counters.WithLabelValues(key).Add(float64(delta))
	p.mu.Lock()
	p.totals[key] += delta
	p.mu.Unlock()
}

func (p *Prometheus) Store(key string, value uint64) {
	if p == nil {
		return
	}
	p.gauges.WithLabelValues(key).Set(float64(value))
	p.mu.Lock()
	p.totals[key] = value
	p.mu.Unlock()
}

// Snapshot returns the last value seen for every key, for diagnostics.
func (p *Prometheus) Snapshot() map[string]uint64 {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]uint64, len(p.totals))
	for k, v := range p.totals {
		out[k] = v
	}
	return out
}
