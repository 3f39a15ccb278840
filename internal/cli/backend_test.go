package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"evalgrid/pkg/domain"
)

// fakeBackend serves the evaluation API for tenant t1 from memory.
type fakeBackend struct {
	mu       sync.Mutex
	token    string
	template domain.Template
	items    []domain.Item
	staff    []domain.StaffMember
	cells    []domain.EvaluationCell
	batches  []domain.EvaluationBatch
	nextID   int
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{
		token:    "tok",
		template: domain.Template{ID: "tpl-1", Title: "2026 review", MaxScore: 5},
		items: []domain.Item{
			{Key: "teamwork", Label: "Teamwork", Description: "Works with others"},
			{Key: "safety", Label: "Safety", Description: "Keeps children safe"},
		},
		staff: []domain.StaffMember{
			{ID: "s1", Name: "Aoki", Role: "保育士"},
			{ID: "s2", Name: "Baba", Role: "保育士"},
		},
		nextID: 3,
	}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBackend) revoke() {
	b.mu.Lock()
	b.token = "revoked"
	b.mu.Unlock()
}

func (b *fakeBackend) score(role, staffID, itemKey string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.cells {
		if c.EvaluatorRole == role && c.StaffID == staffID && c.ItemKey == itemKey {
			return c.Score, true
		}
	}
	return 0, false
}

func (b *fakeBackend) itemKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, len(b.items))
	for i, it := range b.items {
		keys[i] = it.Key
	}
	return keys
}

func (b *fakeBackend) staffNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.staff))
	for i, m := range b.staff {
		names[i] = m.Name
	}
	return names
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := r.URL.Path

	if path == "/auth/login" {
		var in struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
			return
		}
		b.token = "tok"
		writeJSON(w, http.StatusOK, map[string]string{"token": b.token, "tenantId": "t1"})
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+b.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/templates/t1/"):
		writeJSON(w, http.StatusOK, map[string]any{"template": b.template, "items": b.items, "staff": b.staff})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/evaluations/t1/"):
		writeJSON(w, http.StatusOK, map[string]any{"rows": b.cells})
	case r.Method == http.MethodPut && path == "/api/templates/t1/tpl-1":
		var in struct {
			Items []struct {
				Key, Label, Description string
				DisplayOrder            int `json:"display_order"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		b.items = b.items[:0]
		for _, it := range in.Items {
			b.items = append(b.items, domain.Item{Key: it.Key, Label: it.Label, Description: it.Description, DisplayOrder: it.DisplayOrder})
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case r.Method == http.MethodPost && path == "/api/evaluations/t1":
		var batch domain.EvaluationBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		b.batches = append(b.batches, batch)
		for _, ev := range batch.Evaluations {
			for key, score := range ev.Scores {
				b.upsert(domain.EvaluationCell{Period: batch.Period, EvaluatorRole: batch.EvaluatorRole, StaffID: ev.StaffID, ItemKey: key, Score: score})
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case r.Method == http.MethodPost && path == "/api/staff/t1":
		var in struct{ Name, Role string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		member := domain.StaffMember{ID: fmt.Sprintf("s%d", b.nextID), Name: in.Name, Role: in.Role}
		b.nextID++
		b.staff = append(b.staff, member)
		writeJSON(w, http.StatusOK, map[string]any{"staff": member})
	case r.Method == http.MethodPut && strings.HasPrefix(path, "/api/staff/t1/"):
		id := strings.TrimPrefix(path, "/api/staff/t1/")
		var in struct{ Name string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		for i := range b.staff {
			if b.staff[i].ID == id {
				b.staff[i].Name = in.Name
				writeJSON(w, http.StatusOK, map[string]any{"staff": b.staff[i]})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "staff not found"})
	case r.Method == http.MethodPost && path == "/api/dify/generate":
		writeJSON(w, http.StatusOK, map[string]string{"itemName": "Empathy", "itemDescription": "Notices how children feel"})
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) upsert(cell domain.EvaluationCell) {
	for i, c := range b.cells {
		if c.EvaluatorRole == cell.EvaluatorRole && c.StaffID == cell.StaffID && c.ItemKey == cell.ItemKey {
			b.cells[i] = cell
			return
		}
	}
	b.cells = append(b.cells, cell)
}
