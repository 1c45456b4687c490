package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/campus-sis/campus-sis/internal/jobs"
)

func TestPortalJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Session purges run every half hour and should be quick.
	runJob(t, metrics, "sessions:purge", 60, 12*time.Millisecond, nil)
	// The nightly rollup scans a day of events, slower but still bounded.
	runJob(t, metrics, "signin:rollup", 15, 40*time.Millisecond, nil)
	// A few purge failures keep the failure counter honest.
	runJob(t, metrics, "sessions:purge", 3, 15*time.Millisecond, errors.New("timeout"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := counterValue(t, families, "campus_jobs_total", labels{"job": "sessions:purge", "status": "success"})
	failure := counterValue(t, families, "campus_jobs_total", labels{"job": "sessions:purge", "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no purge executions recorded")
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("purge success ratio too low: %f", ratio)
	}

	if mean := histogramMean(t, families, "campus_job_duration_seconds", labels{"job": "signin:rollup"}); mean > 2.0 {
		t.Fatalf("rollup duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "campus_job_duration_seconds", labels{"job": "sessions:purge"}); mean > 0.5 {
		t.Fatalf("purge duration above budget: %f", mean)
	}
}

type labels map[string]string

func runJob(t *testing.T, metrics *jobmetrics.Metrics, task string, runs int, d time.Duration, fail error) {
	t.Helper()
	for i := 0; i < runs; i++ {
		tracker := metrics.Track(task)
		time.Sleep(d)
		err := tracker.End(fail)
		if fail == nil && err != nil {
			t.Fatalf("unexpected error ending %s tracker: %v", task, err)
		}
		if fail != nil && err == nil {
			t.Fatalf("expected %s failure to propagate", task)
		}
	}
}

func findMetric(families []*dto.MetricFamily, name string, want labels) (*dto.MetricFamily, *dto.Metric) {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			got := make(labels, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for key, val := range want {
				if got[key] != val {
					matched = false
					break
				}
			}
			if matched {
				return fam, metric
			}
		}
	}
	return nil, nil
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name string, want labels) float64 {
	t.Helper()
	fam, metric := findMetric(families, name, want)
	if metric == nil {
		t.Fatalf("metric %s with labels %v not found", name, want)
	}
	switch fam.GetType() {
	case dto.MetricType_COUNTER:
		return metric.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return metric.GetGauge().GetValue()
	}
	t.Fatalf("metric %s is not a counter", name)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, want labels) float64 {
	t.Helper()
	_, metric := findMetric(families, name, want)
	if metric == nil {
		t.Fatalf("histogram %s with labels %v not found", name, want)
	}
	hist := metric.GetHistogram()
	if hist == nil || hist.GetSampleCount() == 0 {
		t.Fatalf("histogram %s missing samples", name)
	}
	return hist.GetSampleSum() / float64(hist.GetSampleCount())
}
