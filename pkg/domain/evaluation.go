// Package domain defines the evaluation entities, value types, and grid row
// shapes shared by the evalgrid engine and its adapters.
package domain

import (
	"strings"
	"time"
)

// Perspective identifies which evaluator a score belongs to.
type Perspective string

// Supported evaluator perspectives.
const (
	// PerspectiveSelf is the staff member's own assessment.
	PerspectiveSelf Perspective = "self"
	// PerspectiveManager is the manager's assessment of the staff member.
	PerspectiveManager Perspective = "mgr"
)

// Perspectives lists both perspectives in their canonical order (self before manager).
var Perspectives = [...]Perspective{PerspectiveSelf, PerspectiveManager}

// Evaluator roles as sent to and received from the evaluation API.
const (
	// EvaluatorRoleManager is the reserved role value denoting the manager perspective.
	EvaluatorRoleManager = "園長"
	// EvaluatorRoleSelf is the role value written for self evaluations.
	EvaluatorRoleSelf = "自己"
)

// Valid reports whether p is one of the two known perspectives.
func (p Perspective) Valid() bool {
	return p == PerspectiveSelf || p == PerspectiveManager
}

// EvaluatorRole returns the wire role value written for p.
func (p Perspective) EvaluatorRole() string {
	if p == PerspectiveManager {
		return EvaluatorRoleManager
	}
	return EvaluatorRoleSelf
}

// PerspectiveOf maps a wire evaluator role onto a perspective. Only the manager
// sentinel maps to PerspectiveManager; every other value is a self evaluation.
func PerspectiveOf(evaluatorRole string) Perspective {
	if evaluatorRole == EvaluatorRoleManager {
		return PerspectiveManager
	}
	return PerspectiveSelf
}

// ParsePerspective accepts "self", "mgr", "manager" and the wire role values.
func ParsePerspective(value string) (Perspective, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "self", EvaluatorRoleSelf:
		return PerspectiveSelf, true
	case "mgr", "manager", EvaluatorRoleManager:
		return PerspectiveManager, true
	default:
		return "", false
	}
}

// Template is the active evaluation template for a (tenant, role) pair.
type Template struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	MaxScore float64 `json:"max_score"`
}

// Item is one evaluation criterion owned by a template.
type Item struct {
	Key          string `json:"item_key"`
	Label        string `json:"label"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order,omitempty"`
}

// StaffMember is a person being evaluated. Read-only from the engine's point of view.
type StaffMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Code string `json:"staff_code,omitempty"`
}

// EvaluationCell is one persisted (item, staff, evaluator) score fact.
type EvaluationCell struct {
	Period        string  `json:"period"`
	EvaluatorRole string  `json:"evaluator_role"`
	StaffID       string  `json:"staff_id"`
	ItemKey       string  `json:"item_key"`
	Score         float64 `json:"score"`
}

// Perspective returns the perspective the cell's evaluator role maps to.
func (c EvaluationCell) Perspective() Perspective {
	return PerspectiveOf(c.EvaluatorRole)
}

// TemplateBundle is the template read for a (tenant, role) scope. Template is nil
// when the scope has no active template yet.
type TemplateBundle struct {
	Template *Template     `json:"template"`
	Items    []Item        `json:"items"`
	Staff    []StaffMember `json:"staff"`
}

// StaffScores carries one staff member's item scores inside a batched write.
type StaffScores struct {
	StaffID string             `json:"staffId"`
	Scores  map[string]float64 `json:"scores"`
}

// EvaluationBatch is a single batched evaluation write for one perspective.
type EvaluationBatch struct {
	TemplateID    string        `json:"templateId"`
	Period        string        `json:"period"`
	EvaluatorRole string        `json:"evaluatorRole"`
	Evaluations   []StaffScores `json:"evaluations"`
}

// Suggestion is a generated item proposal.
type Suggestion struct {
	ItemName        string `json:"itemName"`
	ItemDescription string `json:"itemDescription"`
}

// CurrentPeriod formats t as the YYYY-MM evaluation period in UTC.
func CurrentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
