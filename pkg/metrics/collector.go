// Package metrics exports retry chain activity to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/reconnect/pkg/retry"
	"github.com/jzx17/reconnect/pkg/types"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "reconnect"

// Collector is a retry.Listener recording chain events as Prometheus metrics.
// Series are labelled by the chain name given with retry.WithName.
type Collector struct {
	attempts      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	retryDelay    *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	chainAttempts *prometheus.HistogramVec
	chainDuration *prometheus.HistogramVec
	inFlight      *prometheus.GaugeVec
	namespace     string
}

var _ retry.Listener = (*Collector)(nil)

// NewCollector creates the metrics and registers them with registerer
func NewCollector(registerer prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		namespace: namespace,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of operation attempts, first attempts included",
		}, []string{"name"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of retries scheduled after a retryable failure",
		}, []string{"name"}),
		retryDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Delay scheduled before each retry",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"name"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chains_total",
			Help:      "Finished retry chains by outcome",
		}, []string{"name", "outcome"}),
		chainAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_attempts",
			Help:      "Attempts made by finished retry chains",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}, []string{"name"}),
		chainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_duration_seconds",
			Help:      "Time from the first attempt to the chain outcome",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"name", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chains_in_flight",
			Help:      "Retry chains that have started and not finished",
		}, []string{"name"}),
	}

	for _, m := range []prometheus.Collector{
		c.attempts, c.retries, c.retryDelay, c.outcomes,
		c.chainAttempts, c.chainDuration, c.inFlight,
	} {
		if err := registerer.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNewCollector is NewCollector panicking on registration errors
func MustNewCollector(registerer prometheus.Registerer, namespace string) *Collector {
	c, err := NewCollector(registerer, namespace)
	if err != nil {
		panic(err)
	}
	return c
}

// OnAttempt implements retry.Listener
func (c *Collector) OnAttempt(_ context.Context, e retry.Event) {
	c.attempts.WithLabelValues(e.Name).Inc()
	if e.Attempt == 1 {
		c.inFlight.WithLabelValues(e.Name).Inc()
	}
}

// OnRetryScheduled implements retry.Listener
func (c *Collector) OnRetryScheduled(_ context.Context, e retry.Event) {
	c.retries.WithLabelValues(e.Name).Inc()
	c.retryDelay.WithLabelValues(e.Name).Observe(e.Delay.Seconds())
}

// OnSuccess implements retry.Listener
func (c *Collector) OnSuccess(_ context.Context, e retry.Event) {
	c.finish(e, retry.StateSucceeded)
}

// OnTerminal implements retry.Listener
func (c *Collector) OnTerminal(_ context.Context, e retry.Event) {
	c.finish(e, e.State)
}

func (c *Collector) finish(e retry.Event, outcome retry.State) {
	c.outcomes.WithLabelValues(e.Name, outcome.String()).Inc()
	c.chainAttempts.WithLabelValues(e.Name).Observe(float64(e.Attempt))
	c.chainDuration.WithLabelValues(e.Name, outcome.String()).Observe(e.Elapsed.Seconds())
	c.inFlight.WithLabelValues(e.Name).Dec()
}

// RegisterPool exports the occupancy of a worker pool as gauges
func (c *Collector) RegisterPool(registerer prometheus.Registerer, pool string, stats func() types.WorkerPoolStats) error {
	labels := prometheus.Labels{"pool": pool}
	gauges := []struct {
		name  string
		help  string
		value func(types.WorkerPoolStats) int
	}{
		{"pool_workers", "Workers in the pool", func(s types.WorkerPoolStats) int { return s.PoolSize }},
		{"pool_active_workers", "Workers running an attempt", func(s types.WorkerPoolStats) int { return s.ActiveWorkers }},
		{"pool_queue_length", "Attempts waiting for a worker", func(s types.WorkerPoolStats) int { return s.QueueSize }},
		{"pool_queue_capacity", "Capacity of the attempt queue", func(s types.WorkerPoolStats) int { return s.QueueCapacity }},
	}

	for _, g := range gauges {
		value := g.value
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		}, func() float64 {
			return float64(value(stats()))
		})
		if err := registerer.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}
