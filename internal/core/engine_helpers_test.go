package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evalgrid/pkg/domain"
)

// fakeSource is an in-memory DataSource. Submitted batches are folded into
// its cells so reloads observe them.
type fakeSource struct {
	mu          sync.Mutex
	template    *domain.Template
	items       []domain.Item
	staff       []domain.StaffMember
	cells       []domain.EvaluationCell
	batches     []domain.EvaluationBatch
	savedItems  [][]domain.Item
	loads       int
	saveErr     error
	submitErr   error
	loadErr     error
	createdRole string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		template: &domain.Template{ID: "tpl-1", Title: "Nursery", MaxScore: 5},
		items:    fixtureItems(),
		staff:    fixtureStaff(),
		cells: []domain.EvaluationCell{
			{Period: "2026-10", EvaluatorRole: domain.EvaluatorRoleSelf, StaffID: "s1", ItemKey: "teamwork", Score: 3},
			{Period: "2026-10", EvaluatorRole: domain.EvaluatorRoleManager, StaffID: "s2", ItemKey: "safety", Score: 4},
		},
	}
}

func (f *fakeSource) LoadTemplate(_ context.Context, _ Scope) (domain.TemplateBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return domain.TemplateBundle{}, f.loadErr
	}
	var tmpl *domain.Template
	if f.template != nil {
		cp := *f.template
		tmpl = &cp
	}
	return domain.TemplateBundle{
		Template: tmpl,
		Items:    append([]domain.Item(nil), f.items...),
		Staff:    append([]domain.StaffMember(nil), f.staff...),
	}, nil
}

func (f *fakeSource) LoadEvaluations(_ context.Context, _ Scope) ([]domain.EvaluationCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.EvaluationCell(nil), f.cells...), nil
}

func (f *fakeSource) SaveItems(_ context.Context, _, _ string, items []domain.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedItems = append(f.savedItems, items)
	f.items = append([]domain.Item(nil), items...)
	return nil
}

func (f *fakeSource) SubmitEvaluations(_ context.Context, _ string, batch domain.EvaluationBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.batches = append(f.batches, batch)
	for _, ev := range batch.Evaluations {
		for key, score := range ev.Scores {
			f.upsertCell(domain.EvaluationCell{Period: batch.Period, EvaluatorRole: batch.EvaluatorRole, StaffID: ev.StaffID, ItemKey: key, Score: score})
		}
	}
	return nil
}

func (f *fakeSource) upsertCell(cell domain.EvaluationCell) {
	for i, c := range f.cells {
		if c.EvaluatorRole == cell.EvaluatorRole && c.StaffID == cell.StaffID && c.ItemKey == cell.ItemKey {
			f.cells[i] = cell
			return
		}
	}
	f.cells = append(f.cells, cell)
}

func (f *fakeSource) CreateStaff(_ context.Context, _, name, role string) (domain.StaffMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdRole = role
	member := domain.StaffMember{ID: "s" + name, Name: name, Role: role}
	f.staff = append(f.staff, member)
	return member, nil
}

func (f *fakeSource) UpdateStaff(_ context.Context, _, staffID, name string) (domain.StaffMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.staff {
		if f.staff[i].ID == staffID {
			f.staff[i].Name = name
			return f.staff[i], nil
		}
	}
	return domain.StaffMember{}, errors.New("staff not found")
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSource) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeCredentials struct {
	mu          sync.Mutex
	invalidated int
}

func (c *fakeCredentials) Invalidate(context.Context) error {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
	return nil
}

func (c *fakeCredentials) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

type stubSuggester struct {
	result domain.Suggestion
	err    error
	got    SuggestRequest
}

func (s *stubSuggester) Suggest(_ context.Context, req SuggestRequest) (domain.Suggestion, error) {
	s.got = req
	return s.result, s.err
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(level, msg string) {
	c.mu.Lock()
	c.calls = append(c.calls, level+":"+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e", msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

var testScope = Scope{TenantID: "t1", Role: "保育士"}

func openEngine(t *testing.T, src *fakeSource, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return fixedNow })),
		WithFlushWindow(time.Hour),
	}
	e := NewEngine(src, append(base, opts...)...)
	if err := e.Open(context.Background(), testScope); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _, _ = e.Close(context.Background()) })
	return e
}
