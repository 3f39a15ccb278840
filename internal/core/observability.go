package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"evalgrid/pkg/domain"
)

// Logger is the structured logger used by the engine. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives operation outcomes and queue depth from the engine.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	SetPending(p domain.Perspective, entries int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) SetPending(domain.Perspective, int)                   {}

// TeeMetrics reports to every non-nil recorder in order.
func TeeMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	var out teeMetrics
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type teeMetrics []MetricsRecorder

func (t teeMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range t {
		r.Observe(ctx, operation, success, duration)
	}
}

func (t teeMetrics) SetPending(p domain.Perspective, entries int) {
	for _, r := range t {
		r.SetPending(p, entries)
	}
}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing, result counters and the
// pending-save depth via expvar. Durations are totals in milliseconds.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	pending   map[domain.Perspective]int
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Pending     map[string]int              `json:"pending_entries"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("evalgrid_engine_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		pending:   make(map[domain.Perspective]int, 2),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	pending := make(map[string]int, len(r.pending))
	for p, n := range r.pending {
		pending[string(p)] = n
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Pending:     pending,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records an engine operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := StatusError
	if success {
		status = StatusSuccess
	}

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// SetPending records the number of staff entries queued for p.
func (r *ExpvarMetricsRecorder) SetPending(p domain.Perspective, entries int) {
	r.mu.Lock()
	r.pending[p] = entries
	r.mu.Unlock()
}

// Operation status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation names reported to MetricsRecorder.
const (
	OpReload     = "reload"
	OpFlush      = "flush"
	OpSaveItems  = "save_items"
	OpSubmit     = "submit_evaluations"
	OpSuggest    = "suggest"
	OpStaffWrite = "staff_write"
)

func observe(ctx context.Context, m MetricsRecorder, op string, started time.Time, err error) {
	m.Observe(ctx, op, err == nil, time.Since(started))
}
