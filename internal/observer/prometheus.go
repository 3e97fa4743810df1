package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records observations as prometheus collectors.
type Prometheus struct {
	compiles    *prometheus.CounterVec
	compileTime *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runTime     *prometheus.HistogramVec
	outputLines prometheus.Histogram
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcell",
			Name:      "compiles_total",
			Help:      "Compile requests by compiler, result and cache use.",
		}, []string{"compiler", "ok", "cached"}),
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcell",
			Name:      "compile_seconds",
			Help:      "Time spent obtaining an artifact.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"compiler", "cached"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcell",
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"outcome", "permission_denied"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcell",
			Name:      "run_seconds",
			Help:      "Wall time of runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 3, 9),
		}, []string{"outcome"}),
		outputLines: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "runcell",
			Name:      "run_output_lines",
			Help:      "Captured output lines per run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
	}
	for _, c := range []prometheus.Collector{p.compiles, p.compileTime, p.runs, p.runTime, p.outputLines} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveCompile(_ context.Context, compiler string, ok bool, cached bool, elapsed time.Duration) {
	c := strconv.FormatBool(cached)
	p.compiles.WithLabelValues(compiler, strconv.FormatBool(ok), c).Inc()
	p.compileTime.WithLabelValues(compiler, c).Observe(elapsed.Seconds())
}

func (p *Prometheus) ObserveRun(_ context.Context, outcome string, permissionDenied bool, elapsed time.Duration, outputLines int) {
	p.runs.WithLabelValues(outcome, strconv.FormatBool(permissionDenied)).Inc()
	p.runTime.WithLabelValues(outcome).Observe(elapsed.Seconds())
	p.outputLines.Observe(float64(outputLines))
}

// CacheSnapshot is the subset of artifact cache counters exported as gauges.
type CacheSnapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	L2Hits    int64
	Entries   int64
	Bytes     int64
}

// RegisterCacheGauges exports the values returned by snapshot. snapshot is
// called once per gauge on every scrape.
func RegisterCacheGauges(reg prometheus.Registerer, snapshot func() CacheSnapshot) error {
	gauges := []struct {
		name string
		help string
		get  func(CacheSnapshot) int64
	}{
		{"cache_hits", "Artifact cache hits.", func(s CacheSnapshot) int64 { return s.Hits }},
		{"cache_misses", "Artifact cache misses.", func(s CacheSnapshot) int64 { return s.Misses }},
		{"cache_evictions", "Artifacts evicted from memory.", func(s CacheSnapshot) int64 { return s.Evictions }},
		{"cache_l2_hits", "Misses served by the shared store.", func(s CacheSnapshot) int64 { return s.L2Hits }},
		{"cache_entries", "Artifacts held in memory.", func(s CacheSnapshot) int64 { return s.Entries }},
		{"cache_bytes", "Bytes held in memory.", func(s CacheSnapshot) int64 { return s.Bytes }},
	}
	for _, g := range gauges {
		get := g.get
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "runcell",
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(get(snapshot())) })
		if err := reg.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}
