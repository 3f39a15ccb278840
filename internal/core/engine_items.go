package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"evalgrid/pkg/domain"
)

const maxSuggestionLabel = 80

// Fallback texts for generated suggestions with missing parts.
const (
	SuggestionFallbackName        = "AI suggested item"
	SuggestionFallbackDescription = "Edit the generated result. Describe the aim of the evaluation and the points to observe in two or three sentences."
)

// EditDraft edits the draft row. Fields other than label and description
// reset the draft and return a *ValidationError.
func (e *Engine) EditDraft(field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.draft.Edit(field, value); err != nil {
		e.logger.Debug("draft edit rejected", "field", field)
		return err
	}
	return nil
}

// CommitDraft promotes the draft row into a new item and persists the item
// list. It returns false when the draft was blank.
func (e *Engine) CommitDraft(ctx context.Context) (domain.Item, bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.Item{}, false, ErrClosed
	}
	if e.template == nil {
		e.draft.Reset()
		e.lastErr = ErrNoTemplate.Error()
		e.mu.Unlock()
		return domain.Item{}, false, ErrNoTemplate
	}
	item, ok := e.draft.Commit(e.items, e.clock.Now())
	if !ok {
		e.mu.Unlock()
		return domain.Item{}, false, nil
	}
	save := e.appendItemLocked(item)
	e.mu.Unlock()

	e.logger.Info("item created from draft", "key", item.Key)
	return item, true, e.persistItems(ctx, save)
}

// EditItemText sets the trimmed label or description of an existing item and
// persists the item list.
func (e *Engine) EditItemText(ctx context.Context, itemKey, field, value string) error {
	if field != domain.FieldLabel && field != domain.FieldDescription {
		return &ValidationError{Field: field, Reason: "only label and description are editable"}
	}
	value = strings.TrimSpace(value)

	e.mu.Lock()
	if err := e.mutableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	idx := -1
	for i := range e.items {
		if e.items[i].Key == itemKey {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemKey)
	}
	items := append([]domain.Item(nil), e.items...)
	if field == domain.FieldLabel {
		items[idx].Label = value
	} else {
		items[idx].Description = value
	}
	e.items = items
	if i := e.rowIndexLocked(itemKey); i >= 0 {
		e.rows[i].Item = items[idx]
	}
	save := e.saveRequestLocked()
	e.mu.Unlock()

	return e.persistItems(ctx, save)
}

// AddBlankItem appends a placeholder item and persists the item list.
func (e *Engine) AddBlankItem(ctx context.Context) (domain.Item, error) {
	e.mu.Lock()
	if err := e.mutableLocked(); err != nil {
		e.mu.Unlock()
		return domain.Item{}, err
	}
	now := e.clock.Now()
	label := fmt.Sprintf("New item %d", len(e.items)+1)
	key := UniqueItemKey(CreateItemKey(fmt.Sprintf("%s_%d", label, now.UnixMilli()), now), itemKeySet(e.items))
	item := domain.Item{Key: key, Label: label, DisplayOrder: len(e.items)}
	save := e.appendItemLocked(item)
	e.mu.Unlock()

	return item, e.persistItems(ctx, save)
}

// RemoveItem deletes an item and its row and persists the item list.
func (e *Engine) RemoveItem(ctx context.Context, itemKey string) error {
	e.mu.Lock()
	if err := e.mutableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	items := make([]domain.Item, 0, len(e.items))
	for _, item := range e.items {
		if item.Key != itemKey {
			items = append(items, item)
		}
	}
	if len(items) == len(e.items) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemKey)
	}
	rows := make([]domain.Row, 0, len(e.rows))
	for _, row := range e.rows {
		if row.Item.Key != itemKey {
			rows = append(rows, row)
		}
	}
	e.items, e.rows = items, rows
	save := e.saveRequestLocked()
	e.mu.Unlock()

	e.logger.Info("item removed", "key", itemKey)
	return e.persistItems(ctx, save)
}

// Suggest asks the configured Suggester for an item proposal and fills in
// fallbacks for missing parts.
func (e *Engine) Suggest(ctx context.Context, seedText, style string) (domain.Suggestion, error) {
	if e.suggester == nil {
		return domain.Suggestion{}, errors.New("no suggester configured")
	}
	if strings.TrimSpace(seedText) == "" {
		return domain.Suggestion{}, &ValidationError{Field: "seed", Reason: "seed text is required"}
	}
	scope := e.Scope()
	started := e.clock.Now()
	s, err := e.suggester.Suggest(ctx, SuggestRequest{
		TenantID: scope.TenantID,
		Role:     scope.Role,
		SeedText: seedText,
		Style:    strings.TrimSpace(style),
	})
	observe(ctx, e.metrics, OpSuggest, started, err)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			e.authExpired(ctx)
		}
		return domain.Suggestion{}, fmt.Errorf("suggest item: %w", err)
	}
	return NormalizeSuggestion(s), nil
}

// NormalizeSuggestion trims both parts and substitutes fallbacks for blanks.
func NormalizeSuggestion(s domain.Suggestion) domain.Suggestion {
	name := strings.TrimSpace(s.ItemName)
	if name == "" {
		name = SuggestionFallbackName
	}
	description := strings.TrimSpace(s.ItemDescription)
	if description == "" {
		description = SuggestionFallbackDescription
	}
	return domain.Suggestion{ItemName: name, ItemDescription: description}
}

// ApplySuggestion appends an item seeded from s and persists the item list.
// Blank names are accepted; the label falls back to a numbered placeholder.
func (e *Engine) ApplySuggestion(ctx context.Context, s domain.Suggestion) (domain.Item, error) {
	e.mu.Lock()
	if err := e.mutableLocked(); err != nil {
		e.mu.Unlock()
		return domain.Item{}, err
	}
	label := truncateRunes(strings.TrimSpace(s.ItemName), maxSuggestionLabel)
	if label == "" {
		label = fmt.Sprintf("AI suggestion %d", len(e.items)+1)
	}
	description := s.ItemDescription
	if description == "" {
		description = s.ItemName
	}
	item := domain.Item{
		Key:          UniqueItemKey(CreateItemKey(label, e.clock.Now()), itemKeySet(e.items)),
		Label:        label,
		Description:  strings.TrimSpace(description),
		DisplayOrder: len(e.items),
	}
	save := e.appendItemLocked(item)
	e.mu.Unlock()

	e.logger.Info("item created from suggestion", "key", item.Key)
	return item, e.persistItems(ctx, save)
}

// ImportedScores is one (perspective, staff name) score map from an import.
type ImportedScores struct {
	Perspective domain.Perspective
	StaffName   string
	Scores      map[string]float64
}

// ImportData is the parsed content of an imported table. HasLabel and
// HasDescription report which text columns the source carried; existing items
// keep their text for a missing column.
type ImportData struct {
	Items          []domain.Item
	Evaluations    []ImportedScores
	HasLabel       bool
	HasDescription bool
}

// ImportReport summarizes ApplyImport.
type ImportReport struct {
	ItemsAdded    int
	ItemsUpdated  int
	ScoresQueued  int
	ScoresDropped int
	UnknownStaff  []string
}

// ApplyImport feeds imported items and scores through the regular mutation
// paths: items are upserted by key (new keys appended) and persisted once,
// then every score is queued. Staff names that match no staff member are
// reported, not fatal.
func (e *Engine) ApplyImport(ctx context.Context, data ImportData) (ImportReport, error) {
	var report ImportReport

	e.mu.Lock()
	if err := e.mutableLocked(); err != nil {
		e.mu.Unlock()
		return report, err
	}
	items := append([]domain.Item(nil), e.items...)
	position := make(map[string]int, len(items))
	for i, item := range items {
		position[item.Key] = i
	}
	for _, in := range dedupeItems(data.Items) {
		if i, ok := position[in.Key]; ok {
			merged := items[i]
			if data.HasLabel {
				merged.Label = in.Label
			}
			if data.HasDescription {
				merged.Description = in.Description
			}
			if merged != items[i] {
				items[i] = merged
				report.ItemsUpdated++
			}
			continue
		}
		in.DisplayOrder = len(items)
		position[in.Key] = len(items)
		items = append(items, in)
		report.ItemsAdded++
	}
	var save saveRequest
	if report.ItemsAdded > 0 || report.ItemsUpdated > 0 {
		rows := make([]domain.Row, len(items))
		for i, item := range items {
			if j := e.rowIndexLocked(item.Key); j >= 0 {
				rows[i] = e.rows[j]
				rows[i].Item = item
				continue
			}
			rows[i] = domain.NewRow(item, e.staff)
		}
		e.items, e.rows = items, rows
		save = e.saveRequestLocked()
	}
	e.mu.Unlock()

	if save.items != nil {
		if err := e.persistItems(ctx, save); err != nil {
			return report, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return report, ErrClosed
	}
	if e.template == nil {
		return report, ErrNoTemplate
	}
	byName := make(map[string]string, len(e.staff))
	for _, member := range e.staff {
		byName[strings.TrimSpace(member.Name)] = member.ID
	}
	unknown := make(map[string]struct{})
	for _, ev := range data.Evaluations {
		staffID, ok := byName[strings.TrimSpace(ev.StaffName)]
		if !ok {
			if _, seen := unknown[ev.StaffName]; !seen {
				unknown[ev.StaffName] = struct{}{}
				report.UnknownStaff = append(report.UnknownStaff, ev.StaffName)
			}
			report.ScoresDropped += len(ev.Scores)
			continue
		}
		for itemKey, v := range ev.Scores {
			i := e.rowIndexLocked(itemKey)
			score := ParseBoundedScore(v, e.template.MaxScore)
			if i < 0 || !score.Valid {
				report.ScoresDropped++
				continue
			}
			e.rows[i].Set(ev.Perspective, staffID, score)
			if err := e.sched.Enqueue(ev.Perspective, staffID, itemKey, score.Value); err != nil {
				return report, err
			}
			report.ScoresQueued++
		}
	}
	if len(report.UnknownStaff) > 0 {
		e.logger.Warn("import referenced unknown staff", "names", report.UnknownStaff)
	}
	return report, nil
}

func dedupeItems(items []domain.Item) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		item.Key = strings.TrimSpace(item.Key)
		if item.Key == "" {
			continue
		}
		if i, ok := index[item.Key]; ok {
			out[i] = item
			continue
		}
		index[item.Key] = len(out)
		out = append(out, item)
	}
	return out
}

// DefaultStaffRole is sent when a staff member is created without a role scope.
const DefaultStaffRole = "職員"

// CreateStaff registers a staff member under the current role and reloads.
func (e *Engine) CreateStaff(ctx context.Context, name string) (domain.StaffMember, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.StaffMember{}, &ValidationError{Field: "name", Reason: "staff name is required"}
	}
	scope := e.Scope()
	role := scope.Role
	if role == "" {
		role = DefaultStaffRole
	}
	started := e.clock.Now()
	member, err := e.source.CreateStaff(ctx, scope.TenantID, name, role)
	observe(ctx, e.metrics, OpStaffWrite, started, err)
	if err != nil {
		return domain.StaffMember{}, e.writeFailed(ctx, "create staff", err)
	}
	if err := e.Reload(ctx); err != nil {
		return member, err
	}
	return member, nil
}

// RenameStaff updates a staff member's name.
func (e *Engine) RenameStaff(ctx context.Context, staffID, name string) (domain.StaffMember, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.StaffMember{}, &ValidationError{Field: "name", Reason: "staff name is required"}
	}
	scope := e.Scope()
	started := e.clock.Now()
	member, err := e.source.UpdateStaff(ctx, scope.TenantID, staffID, name)
	observe(ctx, e.metrics, OpStaffWrite, started, err)
	if err != nil {
		return domain.StaffMember{}, e.writeFailed(ctx, "update staff", err)
	}
	if member.ID == "" {
		member = domain.StaffMember{ID: staffID, Name: name}
	}
	e.mu.Lock()
	for i := range e.staff {
		if e.staff[i].ID == staffID {
			e.staff[i].Name = member.Name
		}
	}
	e.mu.Unlock()
	return member, nil
}

type saveRequest struct {
	tenantID   string
	templateID string
	items      []domain.Item
}

func (e *Engine) mutableLocked() error {
	if e.closed {
		return ErrClosed
	}
	if e.template == nil {
		e.lastErr = ErrNoTemplate.Error()
		return ErrNoTemplate
	}
	return nil
}

func (e *Engine) appendItemLocked(item domain.Item) saveRequest {
	e.items = append(append([]domain.Item(nil), e.items...), item)
	e.rows = append(e.rows, domain.NewRow(item, e.staff))
	return e.saveRequestLocked()
}

func (e *Engine) saveRequestLocked() saveRequest {
	return saveRequest{
		tenantID:   e.scope.TenantID,
		templateID: e.template.ID,
		items:      append([]domain.Item(nil), e.items...),
	}
}

// persistItems writes the full ordered item list. Display order follows list
// position and blank labels get a numbered placeholder. A failed write is
// rolled back by reloading authoritative state.
func (e *Engine) persistItems(ctx context.Context, save saveRequest) error {
	items := make([]domain.Item, len(save.items))
	for i, item := range save.items {
		label := strings.TrimSpace(item.Label)
		if label == "" {
			label = fmt.Sprintf("Untitled item %d", i+1)
		}
		items[i] = domain.Item{
			Key:          item.Key,
			Label:        label,
			Description:  strings.TrimSpace(item.Description),
			DisplayOrder: i,
		}
	}
	started := e.clock.Now()
	err := e.source.SaveItems(ctx, save.tenantID, save.templateID, items)
	observe(ctx, e.metrics, OpSaveItems, started, err)
	if err != nil {
		return e.writeFailed(ctx, "save items", err)
	}
	return nil
}

// writeFailed records a failed write and reloads to roll back local state.
func (e *Engine) writeFailed(ctx context.Context, op string, err error) error {
	e.logger.Error("write failed", "op", op, "error", err)
	if errors.Is(err, ErrAuthExpired) {
		e.authExpired(ctx)
		return err
	}
	perr := persistErr(op, err)
	e.setError(perr.Error())
	if rerr := e.Reload(ctx); rerr != nil {
		e.logger.Warn("rollback reload failed", "op", op, "error", rerr)
	} else {
		e.setError(perr.Error())
	}
	return perr
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
