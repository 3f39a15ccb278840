package core

import (
	"fmt"
	"strings"
	"time"

	"evalgrid/pkg/domain"
)

// DraftState is the lifecycle state of the inline creation row.
type DraftState int

const (
	// DraftEmpty is the resting state: label and description are blank.
	DraftEmpty DraftState = iota
	// DraftEditing means label or description holds text not yet promoted.
	DraftEditing
)

func (s DraftState) String() string {
	if s == DraftEditing {
		return "editing"
	}
	return "empty"
}

// Draft tracks the placeholder row used to create new items inline.
type Draft struct {
	row domain.DraftRow
}

// State reports the current lifecycle state.
func (d *Draft) State() DraftState {
	if d.row.Label == "" && d.row.Description == "" {
		return DraftEmpty
	}
	return DraftEditing
}

// Row returns a copy of the draft row.
func (d *Draft) Row() domain.DraftRow { return d.row }

// Reset returns the draft to DraftEmpty.
func (d *Draft) Reset() { d.row = domain.DraftRow{} }

// Edit applies a label or description edit. Any other field is an attempt to
// score an item that does not exist yet: the draft is reset and a
// *ValidationError is returned.
func (d *Draft) Edit(field, value string) error {
	switch field {
	case domain.FieldLabel:
		d.row.Label = value
	case domain.FieldDescription:
		d.row.Description = value
	default:
		d.Reset()
		return &ValidationError{Field: field, Reason: "draft row only accepts label and description"}
	}
	return nil
}

// Commit promotes the draft to a new item keyed uniquely against existing.
// A draft whose label and description are blank after trimming is reset and
// false is returned. The draft is always reset.
func (d *Draft) Commit(existing []domain.Item, now time.Time) (domain.Item, bool) {
	row := d.row
	d.Reset()
	if row.Blank() {
		return domain.Item{}, false
	}
	label := strings.TrimSpace(row.Label)
	if label == "" {
		label = fmt.Sprintf("New item %d", len(existing)+1)
	}
	key := UniqueItemKey(CreateItemKey(label, now), itemKeySet(existing))
	return domain.Item{
		Key:          key,
		Label:        label,
		Description:  strings.TrimSpace(row.Description),
		DisplayOrder: len(existing),
	}, true
}
