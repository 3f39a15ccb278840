package domain

import "strings"

// GridRow is a row of the editable evaluation grid. It is implemented only by
// *Row (a persisted item) and *DraftRow (the inline creation placeholder).
type GridRow interface {
	isGridRow()
}

// Row is the dense, derived view of one item: one self and one manager score
// per known staff member.
type Row struct {
	Item    Item
	Self    map[string]Score
	Manager map[string]Score
}

func (*Row) isGridRow() {}

// NewRow returns a row for item with every staff score unset.
func NewRow(item Item, staff []StaffMember) Row {
	row := Row{
		Item:    item,
		Self:    make(map[string]Score, len(staff)),
		Manager: make(map[string]Score, len(staff)),
	}
	for _, member := range staff {
		row.Self[member.ID] = Score{}
		row.Manager[member.ID] = Score{}
	}
	return row
}

// Scores returns the score map for perspective p.
func (r *Row) Scores(p Perspective) map[string]Score {
	if p == PerspectiveManager {
		return r.Manager
	}
	return r.Self
}

// Get returns the score for (p, staffID). The boolean is false when the staff
// member has no field on this row.
func (r *Row) Get(p Perspective, staffID string) (Score, bool) {
	score, ok := r.Scores(p)[staffID]
	return score, ok
}

// Set writes the score for (p, staffID).
func (r *Row) Set(p Perspective, staffID string, score Score) {
	scores := r.Scores(p)
	if scores == nil {
		scores = make(map[string]Score)
		if p == PerspectiveManager {
			r.Manager = scores
		} else {
			r.Self = scores
		}
	}
	scores[staffID] = score
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := Row{Item: r.Item, Self: make(map[string]Score, len(r.Self)), Manager: make(map[string]Score, len(r.Manager))}
	for k, v := range r.Self {
		out.Self[k] = v
	}
	for k, v := range r.Manager {
		out.Manager[k] = v
	}
	return out
}

// DraftRow is the single non-persisted placeholder row used to create items
// inline. It has no item key and its score fields are always unset.
type DraftRow struct {
	Label       string
	Description string
}

func (*DraftRow) isGridRow() {}

// Blank reports whether both label and description are empty after trimming.
func (d DraftRow) Blank() bool {
	return strings.TrimSpace(d.Label) == "" && strings.TrimSpace(d.Description) == ""
}

// Grid field names shared by persisted and draft rows.
const (
	FieldLabel       = "label"
	FieldDescription = "description"
)

const (
	selfFieldPrefix    = "self_"
	managerFieldPrefix = "mgr_"
)

// FieldName returns the score field name for (p, staffID): self_{id} or mgr_{id}.
func FieldName(p Perspective, staffID string) string {
	if p == PerspectiveManager {
		return managerFieldPrefix + staffID
	}
	return selfFieldPrefix + staffID
}

// ParseField splits a score field name into its perspective and suffix.
func ParseField(field string) (Perspective, string, bool) {
	switch {
	case strings.HasPrefix(field, selfFieldPrefix):
		return PerspectiveSelf, strings.TrimPrefix(field, selfFieldPrefix), true
	case strings.HasPrefix(field, managerFieldPrefix):
		return PerspectiveManager, strings.TrimPrefix(field, managerFieldPrefix), true
	default:
		return "", "", false
	}
}
