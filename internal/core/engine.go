package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"evalgrid/pkg/domain"
)

// Engine keeps the editable evaluation matrix for one scope in sync with a
// DataSource. Score edits are queued and flushed by a Scheduler; item edits
// are written through immediately and rolled back by a reload on failure.
type Engine struct {
	source        DataSource
	suggester     Suggester
	creds         CredentialStore
	clock         Clock
	logger        Logger
	metrics       MetricsRecorder
	window        time.Duration
	period        string
	onAuthExpired func()

	sched *Scheduler

	mu          sync.Mutex
	scope       Scope
	template    *domain.Template
	items       []domain.Item
	staff       []domain.StaffMember
	rows        []domain.Row
	draft       Draft
	perspective domain.Perspective
	lastErr     string
	opened      bool
	closed      bool
	gen         uint64
}

var errNotOpen = errors.New("core: engine not open")

// NewEngine constructs an engine reading from and writing to source.
func NewEngine(source DataSource, opts ...Option) *Engine {
	e := &Engine{
		source:      source,
		clock:       ClockFunc(time.Now),
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		window:      DefaultFlushWindow,
		perspective: domain.PerspectiveSelf,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched = NewScheduler(SchedulerConfig{
		Window:        e.window,
		Submit:        e.submit,
		Reload:        e.Reload,
		OnAuthExpired: func() { e.authExpired(context.Background()) },
		Logger:        e.logger,
		Metrics:       e.metrics,
	})
	return e
}

// Open selects scope, starts the flush scheduler and performs the initial load.
// A failed load leaves the engine open so Reload can be retried.
func (e *Engine) Open(ctx context.Context, scope Scope) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.opened {
		e.mu.Unlock()
		return fmt.Errorf("engine already open for tenant %q role %q", e.scope.TenantID, e.scope.Role)
	}
	e.opened = true
	e.scope = scope
	e.sched.Start(ctx)
	e.mu.Unlock()

	e.logger.Info("engine opened", "tenant", scope.TenantID, "role", scope.Role)
	return e.Reload(ctx)
}

// Reload fetches template, items, staff and evaluations for the current scope
// and rebuilds the rows. Scores still queued are laid over the rebuilt rows so
// unflushed edits stay visible. On failure other than authentication expiry the
// loaded state is cleared.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.opened {
		e.mu.Unlock()
		return errNotOpen
	}
	e.gen++
	gen := e.gen
	scope := e.scope
	e.mu.Unlock()

	started := e.clock.Now()
	bundle, cells, err := e.fetch(ctx, scope)
	observe(ctx, e.metrics, OpReload, started, err)

	e.mu.Lock()
	if gen != e.gen || e.closed {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		auth := errors.Is(err, ErrAuthExpired)
		if !auth {
			e.clearLocked()
			e.lastErr = err.Error()
		}
		e.mu.Unlock()
		if auth {
			e.authExpired(ctx)
		}
		e.logger.Error("reload failed", "tenant", scope.TenantID, "role", scope.Role, "error", err)
		return err
	}

	e.template = bundle.Template
	e.items = append([]domain.Item(nil), bundle.Items...)
	e.staff = append([]domain.StaffMember(nil), bundle.Staff...)
	e.rows = BuildRows(e.items, e.staff, cells)
	e.overlayPendingLocked()
	e.lastErr = ""
	e.mu.Unlock()

	e.logger.Debug("reloaded", "items", len(bundle.Items), "staff", len(bundle.Staff), "cells", len(cells))
	return nil
}

func (e *Engine) fetch(ctx context.Context, scope Scope) (domain.TemplateBundle, []domain.EvaluationCell, error) {
	bundle, err := e.source.LoadTemplate(ctx, scope)
	if err != nil {
		return domain.TemplateBundle{}, nil, fmt.Errorf("load template: %w", err)
	}
	if bundle.Template == nil {
		return bundle, nil, nil
	}
	cells, err := e.source.LoadEvaluations(ctx, scope)
	if err != nil {
		return domain.TemplateBundle{}, nil, fmt.Errorf("load evaluations: %w", err)
	}
	return bundle, cells, nil
}

func (e *Engine) overlayPendingLocked() {
	pending := e.sched.Pending()
	if len(pending) == 0 {
		return
	}
	index := make(map[string]int, len(e.rows))
	for i, row := range e.rows {
		index[row.Item.Key] = i
	}
	known := staffIndex(e.staff)
	for p, byStaff := range pending {
		for staffID, scores := range byStaff {
			if _, ok := known[staffID]; !ok {
				continue
			}
			for itemKey, v := range scores {
				if i, ok := index[itemKey]; ok {
					e.rows[i].Set(p, staffID, domain.ScoreOf(v))
				}
			}
		}
	}
}

func (e *Engine) clearLocked() {
	e.template = nil
	e.items = nil
	e.staff = nil
	e.rows = nil
	e.draft.Reset()
}

// SwitchScope flushes pending scores immediately and then reloads under the
// new scope. When the flush leaves scores unsaved the switch is refused so
// they are not written against the wrong template.
func (e *Engine) SwitchScope(ctx context.Context, scope Scope) error {
	res, err := e.sched.ForceFlush(ctx)
	if err != nil {
		return err
	}
	if ferr := res.Err(); ferr != nil {
		return fmt.Errorf("pending scores not saved, staying on %q: %w", e.Scope().Role, ferr)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.scope = scope
	e.clearLocked()
	e.mu.Unlock()

	e.logger.Info("scope switched", "tenant", scope.TenantID, "role", scope.Role)
	return e.Reload(ctx)
}

// Scope returns the current scope.
func (e *Engine) Scope() Scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// SetPerspective switches the editable score columns. It does not flush.
func (e *Engine) SetPerspective(p domain.Perspective) error {
	if !p.Valid() {
		return &ValidationError{Field: "perspective", Reason: fmt.Sprintf("unknown perspective %q", p)}
	}
	e.mu.Lock()
	e.perspective = p
	e.mu.Unlock()
	return nil
}

// Perspective returns the active perspective.
func (e *Engine) Perspective() domain.Perspective {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.perspective
}

// Columns returns the editable score columns for the active perspective.
func (e *Engine) Columns() []Column {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StaffColumns(e.staff, e.perspective)
}

// EditCell applies one grid edit. Draft row edits go through the draft state
// machine and are committed at once; label and description edits on a
// persisted row rewrite the item list; score fields are normalized and queued.
func (e *Engine) EditCell(ctx context.Context, target domain.GridRow, field string, raw any) error {
	switch row := target.(type) {
	case *domain.DraftRow:
		if err := e.EditDraft(field, toText(raw)); err != nil {
			return err
		}
		_, _, err := e.CommitDraft(ctx)
		return err
	case *domain.Row:
		if field == domain.FieldLabel || field == domain.FieldDescription {
			return e.EditItemText(ctx, row.Item.Key, field, toText(raw))
		}
		p, staffID, ok := domain.ParseField(field)
		if !ok {
			return &ValidationError{Field: field, Reason: "not an editable field"}
		}
		return e.EditScore(row.Item.Key, p, staffID, raw)
	default:
		return &ValidationError{Field: field, Reason: "unknown row"}
	}
}

// EditScore sets the (item, perspective, staff) score and queues it for the
// next flush. Blank input clears the cell and is queued as 0. Malformed input
// leaves the row unchanged and returns a *ValidationError.
func (e *Engine) EditScore(itemKey string, p domain.Perspective, staffID string, raw any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.template == nil {
		return ErrNoTemplate
	}
	i := e.rowIndexLocked(itemKey)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemKey)
	}
	if !p.Valid() {
		return &ValidationError{Field: domain.FieldName(p, staffID), Reason: "unknown perspective"}
	}
	if _, ok := staffIndex(e.staff)[staffID]; !ok {
		return &ValidationError{Field: domain.FieldName(p, staffID), Reason: "unknown staff member"}
	}

	var score domain.Score
	if !blankInput(raw) {
		score = ParseBoundedScore(raw, e.template.MaxScore)
		if !score.Valid {
			return &ValidationError{Field: domain.FieldName(p, staffID), Reason: fmt.Sprintf("malformed score %q", toText(raw))}
		}
	}
	e.rows[i].Set(p, staffID, score)
	return e.sched.Enqueue(p, staffID, itemKey, score.Float())
}

// ForceFlush writes every queued score now, bypassing the debounce window.
func (e *Engine) ForceFlush(ctx context.Context) (FlushResult, error) {
	return e.sched.ForceFlush(ctx)
}

// Resume re-enables flushing after the caller has re-authenticated.
func (e *Engine) Resume() error {
	if err := e.sched.Resume(); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastErr = ""
	e.mu.Unlock()
	return nil
}

// Close makes one final flush attempt without reloading and stops the engine.
func (e *Engine) Close(ctx context.Context) (FlushResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return FlushResult{}, ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	res, err := e.sched.Teardown(ctx)
	if err != nil {
		return res, err
	}
	e.logger.Info("engine closed", "saved", len(res.Succeeded), "failed", len(res.Errors))
	return res, nil
}

// Stats reports queue depth and flush state.
func (e *Engine) Stats() SchedulerStats {
	return e.sched.Stats()
}

// View is a deep copy of the engine state at one instant.
type View struct {
	Scope       Scope
	Template    *domain.Template
	Items       []domain.Item
	Staff       []domain.StaffMember
	Rows        []domain.Row
	Draft       domain.DraftRow
	DraftState  DraftState
	Perspective domain.Perspective
	Columns     []Column
	Pending     SchedulerStats
	LastError   string
}

// MaxScore returns the template bound, or DefaultMaxScore without a template.
func (v View) MaxScore() float64 {
	if v.Template == nil {
		return DefaultMaxScore
	}
	return v.Template.MaxScore
}

// GridRows returns the persisted rows followed by the draft row.
func (v View) GridRows() []domain.GridRow {
	out := make([]domain.GridRow, 0, len(v.Rows)+1)
	for i := range v.Rows {
		out = append(out, &v.Rows[i])
	}
	draft := v.Draft
	return append(out, &draft)
}

// Row returns the row for itemKey.
func (v View) Row(itemKey string) (*domain.Row, bool) {
	for i := range v.Rows {
		if v.Rows[i].Item.Key == itemKey {
			return &v.Rows[i], true
		}
	}
	return nil, false
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() View {
	stats := e.sched.Stats()
	e.mu.Lock()
	defer e.mu.Unlock()
	var tmpl *domain.Template
	if e.template != nil {
		cp := *e.template
		tmpl = &cp
	}
	return View{
		Scope:       e.scope,
		Template:    tmpl,
		Items:       append([]domain.Item(nil), e.items...),
		Staff:       append([]domain.StaffMember(nil), e.staff...),
		Rows:        cloneRows(e.rows),
		Draft:       e.draft.Row(),
		DraftState:  e.draft.State(),
		Perspective: e.perspective,
		Columns:     StaffColumns(e.staff, e.perspective),
		Pending:     stats,
		LastError:   e.lastErr,
	}
}

// Scoreboard totals the active perspective per staff member.
func (e *Engine) Scoreboard() []StaffTotal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Scoreboard(e.rows, e.staff, e.perspective)
}

func (e *Engine) submit(ctx context.Context, p domain.Perspective, evaluations []domain.StaffScores) error {
	e.mu.Lock()
	tmpl := e.template
	tenant := e.scope.TenantID
	period := e.periodLocked()
	e.mu.Unlock()
	if tmpl == nil {
		return ErrNoTemplate
	}
	err := e.source.SubmitEvaluations(ctx, tenant, domain.EvaluationBatch{
		TemplateID:    tmpl.ID,
		Period:        period,
		EvaluatorRole: p.EvaluatorRole(),
		Evaluations:   evaluations,
	})
	if err != nil {
		e.setError(fmt.Sprintf("failed to save %s evaluations: %v", p, err))
	}
	return persistErr(OpSubmit, err)
}

func (e *Engine) periodLocked() string {
	if e.period != "" {
		return e.period
	}
	return domain.CurrentPeriod(e.clock.Now())
}

func (e *Engine) authExpired(ctx context.Context) {
	if e.creds != nil {
		if err := e.creds.Invalidate(ctx); err != nil {
			e.logger.Warn("failed to invalidate credential", "error", err)
		}
	}
	e.setError("session expired, log in again")
	e.logger.Warn("authentication expired")
	if e.onAuthExpired != nil {
		e.onAuthExpired()
	}
}

func (e *Engine) setError(msg string) {
	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()
}

func (e *Engine) rowIndexLocked(itemKey string) int {
	for i := range e.rows {
		if e.rows[i].Item.Key == itemKey {
			return i
		}
	}
	return -1
}

func blankInput(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case domain.Score:
		return !v.Valid
	case *domain.Score:
		return v == nil || !v.Valid
	default:
		return false
	}
}

func toText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
