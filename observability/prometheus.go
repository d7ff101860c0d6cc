package observability

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory is a MetricFactory backed by a Prometheus registerer.
// Dotted metric names are converted to Prometheus names ("tokenledger.plan.created"
// becomes "tokenledger_plan_created_total" for counters).
type PrometheusFactory struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

var _ MetricFactory = (*PrometheusFactory)(nil)

// NewPrometheusFactory creates a factory registering into reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheusFactory(reg prometheus.Registerer) *PrometheusFactory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusFactory{
		reg:        reg,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Counter implements MetricFactory. Asking twice for the same name returns
// the same collector.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: promName(name) + "_total",
		Help: "tokenledger counter " + name,
	})
	f.counters[name] = registerCollector(f.reg, c)
	return f.counters[name]
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    promName(name),
		Help:    "tokenledger histogram " + name,
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	f.histograms[name] = registerCollector(f.reg, h)
	return f.histograms[name]
}

// registerCollector registers c, reusing an already registered collector
// with the same descriptor.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
