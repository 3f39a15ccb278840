package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evalgrid/pkg/domain"
)

type submitCall struct {
	perspective domain.Perspective
	evaluations []domain.StaffScores
}

type recordingSubmitter struct {
	mu      sync.Mutex
	calls   []submitCall
	errs    map[domain.Perspective]error
	gate    chan struct{}
	gated   atomic.Bool
	started chan struct{}
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{errs: make(map[domain.Perspective]error), started: make(chan struct{}, 8)}
}

func (r *recordingSubmitter) submit(_ context.Context, p domain.Perspective, evaluations []domain.StaffScores) error {
	r.started <- struct{}{}
	if r.gate != nil && r.gated.CompareAndSwap(false, true) {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, submitCall{perspective: p, evaluations: evaluations})
	return r.errs[p]
}

func (r *recordingSubmitter) setErr(p domain.Perspective, err error) {
	r.mu.Lock()
	r.errs[p] = err
	r.mu.Unlock()
}

func (r *recordingSubmitter) snapshot() []submitCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submitCall(nil), r.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startScheduler(t *testing.T, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg)
	s.Start(context.Background())
	t.Cleanup(func() { _, _ = s.Teardown(context.Background()) })
	return s
}

func TestSchedulerCoalescesWithinWindow(t *testing.T) {
	rec := newRecordingSubmitter()
	s := startScheduler(t, SchedulerConfig{Window: 20 * time.Millisecond, Submit: rec.submit})

	if err := s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(domain.PerspectiveSelf, "s1", "a", 2); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "debounced flush", func() bool { return s.Stats().Flushes == 1 })

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(calls))
	}
	ev := calls[0].evaluations
	if len(ev) != 1 || ev[0].StaffID != "s1" || ev[0].Scores["a"] != 2 {
		t.Fatalf("expected single coalesced write a:2, got %+v", ev)
	}
	if s.Stats().Unsaved() {
		t.Fatalf("queue should be empty after successful flush")
	}
}

func TestSchedulerEditDuringFlightSurvives(t *testing.T) {
	rec := newRecordingSubmitter()
	rec.gate = make(chan struct{})
	s := startScheduler(t, SchedulerConfig{Window: time.Hour, Submit: rec.submit})

	_ = s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1)
	first := make(chan FlushResult, 1)
	go func() {
		res, _ := s.ForceFlush(context.Background())
		first <- res
	}()
	<-rec.started

	_ = s.Enqueue(domain.PerspectiveSelf, "s1", "a", 2)
	second := make(chan FlushResult, 1)
	go func() {
		res, _ := s.ForceFlush(context.Background())
		second <- res
	}()
	waitFor(t, "queued flush", func() bool { return s.Stats().FlushQueued })
	close(rec.gate)

	if res := <-first; !res.OK() {
		t.Fatalf("first flush failed: %v", res.Err())
	}
	if res := <-second; !res.OK() {
		t.Fatalf("second flush failed: %v", res.Err())
	}
	calls := rec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected two writes, got %d", len(calls))
	}
	if got := calls[0].evaluations[0].Scores["a"]; got != 1 {
		t.Fatalf("first write should carry a:1, got %v", got)
	}
	if got := calls[1].evaluations[0].Scores["a"]; got != 2 {
		t.Fatalf("edit made during flight was lost, second write carried %v", got)
	}
	if s.Stats().Unsaved() {
		t.Fatalf("queue should drain after second flush")
	}
}

func TestSchedulerPartialFailureStillReloads(t *testing.T) {
	rec := newRecordingSubmitter()
	rec.setErr(domain.PerspectiveManager, errors.New("boom"))
	var reloads atomic.Int32
	s := startScheduler(t, SchedulerConfig{
		Window: time.Hour,
		Submit: rec.submit,
		Reload: func(context.Context) error { reloads.Add(1); return nil },
	})

	_ = s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1)
	_ = s.Enqueue(domain.PerspectiveManager, "s1", "a", 3)
	res, err := s.ForceFlush(context.Background())
	if err != nil {
		t.Fatalf("force flush: %v", err)
	}
	if !res.OK() || len(res.Attempted) != 2 || len(res.Succeeded) != 1 || res.Succeeded[0] != domain.PerspectiveSelf {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Errors[domain.PerspectiveManager] == nil || res.Err() == nil {
		t.Fatalf("expected manager error to be reported")
	}
	if reloads.Load() != 1 {
		t.Fatalf("expected one reload, got %d", reloads.Load())
	}
	stats := s.Stats()
	if stats.Pending[domain.PerspectiveSelf] != 0 || stats.Pending[domain.PerspectiveManager] != 1 {
		t.Fatalf("unexpected pending %+v", stats.Pending)
	}

	// The next edit retries everything still pending.
	rec.setErr(domain.PerspectiveManager, nil)
	_ = s.Enqueue(domain.PerspectiveManager, "s2", "b", 4)
	if res, _ := s.ForceFlush(context.Background()); !res.OK() {
		t.Fatalf("retry failed: %v", res.Err())
	}
	calls := rec.snapshot()
	last := calls[len(calls)-1]
	if last.perspective != domain.PerspectiveManager || len(last.evaluations) != 2 {
		t.Fatalf("expected retried manager batch with both staff, got %+v", last)
	}
}

func TestSchedulerTotalFailureDoesNotReload(t *testing.T) {
	rec := newRecordingSubmitter()
	rec.setErr(domain.PerspectiveSelf, errors.New("offline"))
	var reloads atomic.Int32
	s := startScheduler(t, SchedulerConfig{
		Window: time.Hour,
		Submit: rec.submit,
		Reload: func(context.Context) error { reloads.Add(1); return nil },
	})
	_ = s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1)
	res, _ := s.ForceFlush(context.Background())
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if reloads.Load() != 0 {
		t.Fatalf("failed flush must not reload")
	}
	stats := s.Stats()
	if stats.Pending[domain.PerspectiveSelf] != 1 || stats.LastError == "" {
		t.Fatalf("expected entry to stay queued with error recorded, got %+v", stats)
	}
}

func TestSchedulerTeardownFlushesWithoutReload(t *testing.T) {
	rec := newRecordingSubmitter()
	var reloads atomic.Int32
	s := NewScheduler(SchedulerConfig{
		Window: time.Hour,
		Submit: rec.submit,
		Reload: func(context.Context) error { reloads.Add(1); return nil },
	})
	s.Start(context.Background())
	_ = s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1)
	_ = s.Enqueue(domain.PerspectiveManager, "s1", "a", 2)

	res, err := s.Teardown(context.Background())
	if err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if len(res.Succeeded) != 2 {
		t.Fatalf("expected both perspectives written, got %+v", res)
	}
	if reloads.Load() != 0 {
		t.Fatalf("teardown flush must not reload")
	}
	if err := s.Enqueue(domain.PerspectiveSelf, "s1", "a", 3); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after teardown, got %v", err)
	}
	if _, err := s.Teardown(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("second teardown should report ErrClosed, got %v", err)
	}
}

func TestSchedulerTeardownBeforeStart(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Submit: newRecordingSubmitter().submit})
	if _, err := s.Teardown(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1); err == nil {
		t.Fatalf("expected enqueue on unstarted scheduler to fail")
	}
}

func TestSchedulerHaltsOnAuthExpiry(t *testing.T) {
	rec := newRecordingSubmitter()
	rec.setErr(domain.PerspectiveSelf, fmt.Errorf("submit: %w", ErrAuthExpired))
	var hooks atomic.Int32
	s := startScheduler(t, SchedulerConfig{
		Window:        time.Hour,
		Submit:        rec.submit,
		OnAuthExpired: func() { hooks.Add(1) },
	})

	_ = s.Enqueue(domain.PerspectiveSelf, "s1", "a", 1)
	if res, _ := s.ForceFlush(context.Background()); res.OK() {
		t.Fatalf("expected auth failure")
	}
	if hooks.Load() != 1 {
		t.Fatalf("expected auth hook to run once, got %d", hooks.Load())
	}
	if !s.Stats().Halted {
		t.Fatalf("expected scheduler to halt")
	}

	// Edits still queue while halted, but nothing is sent.
	if err := s.Enqueue(domain.PerspectiveSelf, "s1", "b", 2); err != nil {
		t.Fatalf("enqueue while halted: %v", err)
	}
	res, _ := s.ForceFlush(context.Background())
	if !res.Halted || !errors.Is(res.Err(), ErrAuthExpired) {
		t.Fatalf("expected halted result, got %+v", res)
	}
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("halted scheduler submitted %d batches", n)
	}

	rec.setErr(domain.PerspectiveSelf, nil)
	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res, _ := s.ForceFlush(context.Background()); !res.OK() {
		t.Fatalf("flush after resume failed: %v", res.Err())
	}
	calls := rec.snapshot()
	if got := calls[len(calls)-1].evaluations[0].Scores; got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("expected both queued edits after resume, got %+v", got)
	}
}

func TestSchedulerForceFlushOnEmptyQueue(t *testing.T) {
	rec := newRecordingSubmitter()
	s := startScheduler(t, SchedulerConfig{Submit: rec.submit})
	res, err := s.ForceFlush(context.Background())
	if err != nil {
		t.Fatalf("force flush: %v", err)
	}
	if len(res.Attempted) != 0 || res.OK() || res.Err() != nil {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if len(rec.snapshot()) != 0 {
		t.Fatalf("no write expected")
	}
}

func TestSchedulerRejectsUnknownPerspective(t *testing.T) {
	s := startScheduler(t, SchedulerConfig{Submit: newRecordingSubmitter().submit})
	if err := s.Enqueue(domain.Perspective("boss"), "s1", "a", 1); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSchedulerReportsPendingMetrics(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	sub := newRecordingSubmitter()
	s := startScheduler(t, SchedulerConfig{Window: time.Hour, Submit: sub.submit, Metrics: rec})
	_ = s.Enqueue(domain.PerspectiveManager, "s1", "a", 1)
	_ = s.Enqueue(domain.PerspectiveManager, "s2", "a", 1)
	waitFor(t, "pending gauge", func() bool { return rec.Snapshot().Pending["mgr"] == 2 })
	if _, err := s.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}
	snap := rec.Snapshot()
	if snap.Pending["mgr"] != 0 {
		t.Fatalf("expected gauge to drop to zero, got %+v", snap.Pending)
	}
	if snap.Results[OpFlush][StatusSuccess] != 1 || snap.Results[OpSubmit][StatusSuccess] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
}
