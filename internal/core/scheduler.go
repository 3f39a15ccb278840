package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"evalgrid/pkg/domain"
)

// DefaultFlushWindow is the quiescence window after the last edit before
// queued scores are flushed.
const DefaultFlushWindow = 600 * time.Millisecond

// SubmitFunc writes one batched evaluation payload for a perspective.
type SubmitFunc func(ctx context.Context, p domain.Perspective, evaluations []domain.StaffScores) error

// ReloadFunc refreshes authoritative state after a successful flush.
type ReloadFunc func(ctx context.Context) error

// SchedulerConfig wires a Scheduler to its collaborators. Submit is required.
type SchedulerConfig struct {
	Window        time.Duration
	Submit        SubmitFunc
	Reload        ReloadFunc
	OnAuthExpired func()
	Logger        Logger
	Metrics       MetricsRecorder
}

// FlushResult reports the outcome of one flush.
type FlushResult struct {
	Attempted []domain.Perspective
	Succeeded []domain.Perspective
	Errors    map[domain.Perspective]error
	// Halted is set when the flush was not attempted because the scheduler is
	// waiting for Resume after an authentication failure.
	Halted    bool
	ReloadErr error
}

// OK reports whether at least one perspective was written.
func (r FlushResult) OK() bool { return len(r.Succeeded) > 0 }

// Err joins the per-perspective errors in canonical perspective order.
func (r FlushResult) Err() error {
	if r.Halted {
		return ErrAuthExpired
	}
	var errs []error
	for _, p := range domain.Perspectives {
		if err := r.Errors[p]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (r FlushResult) authExpired() bool {
	for _, err := range r.Errors {
		if errors.Is(err, ErrAuthExpired) {
			return true
		}
	}
	return false
}

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Pending     map[domain.Perspective]int
	InFlight    bool
	FlushQueued bool
	Halted      bool
	Flushes     int
	LastError   string
}

// Unsaved reports whether any score edit is still queued.
func (s SchedulerStats) Unsaved() bool {
	for _, n := range s.Pending {
		if n > 0 {
			return true
		}
	}
	return false
}

// Scheduler owns the pending-save queue. A single goroutine serializes all
// queue access; flushes run on their own goroutine so edits keep queueing
// while a batch is in flight.
type Scheduler struct {
	cfg SchedulerConfig

	enqueueCh  chan enqueueReq
	forceCh    chan chan FlushResult
	pruneCh    chan pruneReq
	doneCh     chan FlushResult
	statsCh    chan chan SchedulerStats
	pendingCh  chan chan PendingScores
	resumeCh   chan struct{}
	teardownCh chan chan QueueSnapshot

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool
	stop    sync.Once
}

type enqueueReq struct {
	p       domain.Perspective
	staffID string
	itemKey string
	score   float64
}

type pruneReq struct {
	snapshot  QueueSnapshot
	succeeded []domain.Perspective
	ack       chan struct{}
}

// NewScheduler constructs a scheduler. Call Start before enqueueing.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultFlushWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Scheduler{
		cfg:        cfg,
		enqueueCh:  make(chan enqueueReq),
		forceCh:    make(chan chan FlushResult),
		pruneCh:    make(chan pruneReq),
		doneCh:     make(chan FlushResult),
		statsCh:    make(chan chan SchedulerStats),
		pendingCh:  make(chan chan PendingScores),
		resumeCh:   make(chan struct{}),
		teardownCh: make(chan chan QueueSnapshot),
		done:       make(chan struct{}),
	}
}

// Start launches the owning goroutine. ctx bounds background flushes.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go s.loop()
}

var errNotStarted = errors.New("core: scheduler not started")

func (s *Scheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Enqueue records a score edit and re-arms the flush window.
func (s *Scheduler) Enqueue(p domain.Perspective, staffID, itemKey string, score float64) error {
	if !p.Valid() {
		return &ValidationError{Field: "perspective", Reason: fmt.Sprintf("unknown perspective %q", p)}
	}
	if !s.running() {
		return errNotStarted
	}
	select {
	case s.enqueueCh <- enqueueReq{p: p, staffID: staffID, itemKey: itemKey, score: score}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// ForceFlush flushes immediately, bypassing the window. When a flush is
// already in flight, another one runs after it and ForceFlush waits for that
// second flush. ctx bounds the wait only; in-flight writes are never cancelled.
func (s *Scheduler) ForceFlush(ctx context.Context) (FlushResult, error) {
	if !s.running() {
		return FlushResult{}, errNotStarted
	}
	reply := make(chan FlushResult, 1)
	select {
	case s.forceCh <- reply:
	case <-s.done:
		return FlushResult{}, ErrClosed
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}
}

// Resume re-enables flushing after an authentication failure.
func (s *Scheduler) Resume() error {
	if !s.running() {
		return errNotStarted
	}
	select {
	case s.resumeCh <- struct{}{}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Stats returns the current queue depth and flush state.
func (s *Scheduler) Stats() SchedulerStats {
	if !s.running() {
		return SchedulerStats{Pending: map[domain.Perspective]int{}}
	}
	reply := make(chan SchedulerStats, 1)
	select {
	case s.statsCh <- reply:
		return <-reply
	case <-s.done:
		return SchedulerStats{Pending: map[domain.Perspective]int{}}
	}
}

// Pending returns a copy of every queued score.
func (s *Scheduler) Pending() PendingScores {
	if !s.running() {
		return PendingScores{}
	}
	reply := make(chan PendingScores, 1)
	select {
	case s.pendingCh <- reply:
		return <-reply
	case <-s.done:
		return PendingScores{}
	}
}

// Teardown waits for any in-flight flush, then makes one final synchronous
// flush attempt without reloading and stops the scheduler. Entries that the
// final attempt fails to write are discarded.
func (s *Scheduler) Teardown(ctx context.Context) (FlushResult, error) {
	var (
		snapshot QueueSnapshot
		ok       bool
	)
	s.stop.Do(func() {
		s.mu.Lock()
		started := s.started
		s.stopped = true
		s.mu.Unlock()
		if !started {
			close(s.done)
			return
		}
		reply := make(chan QueueSnapshot, 1)
		select {
		case s.teardownCh <- reply:
			snapshot, ok = <-reply
		case <-s.done:
		}
		s.wg.Wait()
		if s.cancel != nil {
			s.cancel()
		}
	})
	if !ok {
		return FlushResult{}, ErrClosed
	}
	if snapshot == nil {
		return FlushResult{Halted: true}, nil
	}
	res := s.submitAll(ctx, snapshot)
	if res.authExpired() && s.cfg.OnAuthExpired != nil {
		s.cfg.OnAuthExpired()
	}
	if err := res.Err(); err != nil {
		s.cfg.Logger.Warn("final flush failed, discarding pending scores", "error", err)
	}
	return res, nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	defer close(s.done)

	var (
		queue         = NewQueue()
		timer         *time.Timer
		timerC        <-chan time.Time
		inFlight      bool
		flushQueued   bool
		halted        bool
		flushes       int
		lastErr       string
		flightWaiters []chan FlushResult
		nextWaiters   []chan FlushResult
		teardown      chan QueueSnapshot
	)

	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	arm := func() {
		disarm()
		timer = time.NewTimer(s.cfg.Window)
		timerC = timer.C
	}
	reportPending := func() {
		for _, p := range domain.Perspectives {
			s.cfg.Metrics.SetPending(p, queue.Len(p))
		}
	}
	reply := func(waiters []chan FlushResult, res FlushResult) {
		for _, w := range waiters {
			w <- res
		}
	}
	launch := func(waiters []chan FlushResult) {
		snapshot := queue.Snapshot()
		if len(snapshot) == 0 {
			reply(waiters, FlushResult{})
			return
		}
		inFlight = true
		flightWaiters = waiters
		go s.run(snapshot)
	}
	request := func(waiter chan FlushResult) {
		if halted {
			if waiter != nil {
				waiter <- FlushResult{Halted: true}
			}
			return
		}
		if inFlight {
			flushQueued = true
			if waiter != nil {
				nextWaiters = append(nextWaiters, waiter)
			}
			return
		}
		var waiters []chan FlushResult
		if waiter != nil {
			waiters = append(waiters, waiter)
		}
		launch(waiters)
	}
	finishTeardown := func() {
		disarm()
		var snapshot QueueSnapshot
		if !halted {
			snapshot = queue.Snapshot()
		} else if !queue.Empty() {
			s.cfg.Logger.Warn("discarding pending scores while authentication is expired",
				"self", queue.Len(domain.PerspectiveSelf), "mgr", queue.Len(domain.PerspectiveManager))
		}
		reply(nextWaiters, FlushResult{Halted: halted})
		teardown <- snapshot
	}

	for {
		select {
		case req := <-s.enqueueCh:
			queue.Merge(req.p, req.staffID, req.itemKey, req.score)
			reportPending()
			if !halted {
				arm()
			}
		case <-timerC:
			timer, timerC = nil, nil
			request(nil)
		case waiter := <-s.forceCh:
			disarm()
			request(waiter)
		case pr := <-s.pruneCh:
			for _, p := range pr.succeeded {
				queue.Prune(p, pr.snapshot[p])
			}
			reportPending()
			close(pr.ack)
		case res := <-s.doneCh:
			inFlight = false
			flushes++
			lastErr = ""
			if err := res.Err(); err != nil {
				lastErr = err.Error()
			}
			if res.authExpired() {
				halted = true
				disarm()
			}
			reply(flightWaiters, res)
			flightWaiters = nil
			if teardown != nil {
				finishTeardown()
				return
			}
			if flushQueued {
				flushQueued = false
				waiters := nextWaiters
				nextWaiters = nil
				if halted {
					reply(waiters, FlushResult{Halted: true})
				} else {
					launch(waiters)
				}
			}
		case r := <-s.statsCh:
			r <- SchedulerStats{
				Pending: map[domain.Perspective]int{
					domain.PerspectiveSelf:    queue.Len(domain.PerspectiveSelf),
					domain.PerspectiveManager: queue.Len(domain.PerspectiveManager),
				},
				InFlight:    inFlight,
				FlushQueued: flushQueued,
				Halted:      halted,
				Flushes:     flushes,
				LastError:   lastErr,
			}
		case r := <-s.pendingCh:
			r <- queue.Entries()
		case <-s.resumeCh:
			halted = false
			if !queue.Empty() {
				arm()
			}
		case teardown = <-s.teardownCh:
			if inFlight {
				continue
			}
			finishTeardown()
			return
		}
	}
}

// run executes one flush away from the owning goroutine.
func (s *Scheduler) run(snapshot QueueSnapshot) {
	started := time.Now()
	res := s.submitAll(s.ctx, snapshot)

	ack := make(chan struct{})
	s.pruneCh <- pruneReq{snapshot: snapshot, succeeded: res.Succeeded, ack: ack}
	<-ack

	if res.authExpired() {
		s.cfg.Logger.Warn("authentication expired during flush, halting until resumed")
		if s.cfg.OnAuthExpired != nil {
			s.cfg.OnAuthExpired()
		}
	}
	if res.OK() && s.cfg.Reload != nil {
		if err := s.cfg.Reload(s.ctx); err != nil {
			res.ReloadErr = err
			s.cfg.Logger.Warn("reload after flush failed", "error", err)
		}
	}
	observe(s.ctx, s.cfg.Metrics, OpFlush, started, res.Err())
	s.doneCh <- res
}

// submitAll writes every captured perspective concurrently and waits for all
// of them. A failing perspective never cancels its sibling.
func (s *Scheduler) submitAll(ctx context.Context, snapshot QueueSnapshot) FlushResult {
	var (
		g    errgroup.Group
		errs [len(domain.Perspectives)]error
		sent [len(domain.Perspectives)]bool
	)
	for i, p := range domain.Perspectives {
		entries := snapshot[p]
		if len(entries) == 0 {
			continue
		}
		sent[i] = true
		evaluations := Evaluations(entries)
		g.Go(func() error {
			started := time.Now()
			err := s.cfg.Submit(ctx, p, evaluations)
			observe(ctx, s.cfg.Metrics, OpSubmit, started, err)
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	res := FlushResult{Errors: make(map[domain.Perspective]error)}
	for i, p := range domain.Perspectives {
		if !sent[i] {
			continue
		}
		res.Attempted = append(res.Attempted, p)
		if errs[i] != nil {
			res.Errors[p] = errs[i]
			s.cfg.Logger.Error("failed to save evaluations", "perspective", string(p), "staff", len(snapshot[p]), "error", errs[i])
			continue
		}
		res.Succeeded = append(res.Succeeded, p)
		s.cfg.Logger.Debug("saved evaluations", "perspective", string(p), "staff", len(snapshot[p]))
	}
	return res
}
