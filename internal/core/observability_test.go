package core

import (
	"context"
	"expvar"
	"strings"
	"testing"
	"time"

	"evalgrid/pkg/domain"
)

func TestNoopLoggerAndMetrics(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "key", "value")
	logger.Info("info", "key", "value")
	logger.Warn("warn", "key", "value")
	logger.Error("error", "key", "value")

	var m MetricsRecorder = noopMetrics{}
	m.Observe(context.Background(), OpFlush, true, time.Millisecond)
	m.SetPending(domain.PerspectiveSelf, 3)
}

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), OpSubmit, true, 10*time.Millisecond)
	recorder.Observe(context.Background(), OpSubmit, false, 5*time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Millisecond)
	recorder.SetPending(domain.PerspectiveManager, 2)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS[OpSubmit] != 15 {
		t.Fatalf("expected 15ms total, snapshot=%+v", snapshot)
	}
	if snapshot.Results[OpSubmit][StatusSuccess] != 1 || snapshot.Results[OpSubmit][StatusError] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}
	if len(snapshot.Results) != 1 {
		t.Fatalf("unnamed operations should be ignored, got %+v", snapshot.Results)
	}
	if snapshot.Pending["mgr"] != 2 {
		t.Fatalf("expected pending depth, got %+v", snapshot.Pending)
	}

	v := expvar.Get(recorder.Name())
	if v == nil {
		t.Fatalf("expected expvar export to be registered")
	}
	if !strings.Contains(v.String(), OpSubmit) {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestObserveReportsFailure(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	observe(context.Background(), rec, OpReload, time.Now(), ErrNoTemplate)
	if rec.Snapshot().Results[OpReload][StatusError] != 1 {
		t.Fatalf("expected failed reload to be counted")
	}
}

func TestTeeMetricsFansOut(t *testing.T) {
	a := NewExpvarMetricsRecorder("")
	b := NewExpvarMetricsRecorder("")
	tee := TeeMetrics(a, nil, b)
	tee.Observe(context.Background(), OpFlush, true, 2*time.Millisecond)
	tee.SetPending(domain.PerspectiveSelf, 4)

	for _, rec := range []*ExpvarMetricsRecorder{a, b} {
		snap := rec.Snapshot()
		if snap.Results[OpFlush][StatusSuccess] != 1 {
			t.Fatalf("%s: expected one flush success, got %+v", rec.Name(), snap.Results)
		}
		if snap.Pending["self"] != 4 {
			t.Fatalf("%s: expected pending 4, got %+v", rec.Name(), snap.Pending)
		}
	}
	if TeeMetrics(a) != MetricsRecorder(a) {
		t.Fatalf("single recorder should be returned as is")
	}
}
