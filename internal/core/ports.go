package core

import (
	"context"

	"evalgrid/pkg/domain"
)

// Scope selects the evaluation context: one tenant and one staff role.
type Scope struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// DataSource is the authoritative store the engine reads from and writes to.
// Implementations return ErrAuthExpired (wrapped or bare) when the credential
// is rejected.
type DataSource interface {
	// LoadTemplate returns the active template, its items and the staff for
	// the scope. Template is nil when none exists yet.
	LoadTemplate(ctx context.Context, scope Scope) (domain.TemplateBundle, error)
	// LoadEvaluations returns every evaluation cell recorded for the scope.
	LoadEvaluations(ctx context.Context, scope Scope) ([]domain.EvaluationCell, error)
	// SaveItems replaces the template's ordered item list.
	SaveItems(ctx context.Context, tenantID, templateID string, items []domain.Item) error
	// SubmitEvaluations writes one batched evaluation payload.
	SubmitEvaluations(ctx context.Context, tenantID string, batch domain.EvaluationBatch) error
	// CreateStaff registers a staff member under role.
	CreateStaff(ctx context.Context, tenantID, name, role string) (domain.StaffMember, error)
	// UpdateStaff renames a staff member.
	UpdateStaff(ctx context.Context, tenantID, staffID, name string) (domain.StaffMember, error)
}

// SuggestRequest seeds the generative item helper.
type SuggestRequest struct {
	TenantID string
	Role     string
	SeedText string
	Style    string
}

// Suggester proposes a new evaluation item from free text.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestRequest) (domain.Suggestion, error)
}

// CredentialStore is the caller-owned holder of the bearer credential.
type CredentialStore interface {
	// Invalidate drops the stored credential after an authentication failure.
	Invalidate(ctx context.Context) error
}
