package observer_test

import (
	"context"
	"testing"
	"time"

	"runcell/internal/observer"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := observer.NewPrometheus(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.ObserveRun(context.Background(), "timedOut", false, 100*time.Millisecond, 3)
	rec.ObserveRun(context.Background(), "completed", true, time.Millisecond, 1)
	rec.ObserveCompile(context.Background(), "cellasm", true, false, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	series := make(map[string]int)
	for _, f := range families {
		series[f.GetName()] = len(f.GetMetric())
	}
	if series["runcell_runs_total"] != 2 {
		t.Fatalf("expected 2 run series, got %d", series["runcell_runs_total"])
	}
	if series["runcell_compiles_total"] != 1 {
		t.Fatalf("expected 1 compile series, got %d", series["runcell_compiles_total"])
	}
	if _, err := observer.NewPrometheus(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestCacheGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	snap := observer.CacheSnapshot{Hits: 3, Misses: 1, Entries: 1, Bytes: 128}
	if err := observer.RegisterCacheGauges(reg, func() observer.CacheSnapshot { return snap }); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]float64)
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	if values["runcell_cache_hits"] != 3 || values["runcell_cache_bytes"] != 128 {
		t.Fatalf("unexpected gauge values %v", values)
	}
}
