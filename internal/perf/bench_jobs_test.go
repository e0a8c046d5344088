package perf

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/lotsales/lotsales/internal/installments"
	jobmetrics "github.com/lotsales/lotsales/internal/jobs"
)

const planChangeJob = "sales.plan_change"

func TestPlanChangeThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	sale, plan, payments := longSale()

	// Regular plan changes over a long payment history.
	for i := 0; i < 40; i++ {
		tracker := metrics.Track(planChangeJob)
		_, err := installments.Redistribute(sale, plan, payments)
		if err := tracker.End(err); err != nil {
			t.Fatalf("unexpected redistribute error: %v", err)
		}
	}

	// A couple of conflicting changes where payments exceed the new price.
	cheap := sale
	cheap.TotalValue = decimal.RequireFromString("200000")
	for i := 0; i < 2; i++ {
		tracker := metrics.Track(planChangeJob)
		_, err := installments.Redistribute(cheap, plan, payments)
		if err := tracker.End(err); err == nil {
			t.Fatal("expected plan conflict to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "lotsales_jobs_total", map[string]string{"job": planChangeJob, "status": "success"})
	failure := metricValue(t, families, "lotsales_jobs_total", map[string]string{"job": planChangeJob, "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no executions recorded")
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("success ratio too low: %f", ratio)
	}
	if failure != 2 {
		t.Fatalf("expected 2 failures, got %f", failure)
	}

	mean := histogramMean(t, families, "lotsales_job_duration_seconds", map[string]string{"job": planChangeJob})
	if mean > 0.5 {
		t.Fatalf("mean duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
