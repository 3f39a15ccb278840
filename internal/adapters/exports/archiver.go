// Package exports archives encoded evaluation matrices in blob storage and
// keeps an audit trail of each export.
package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"evalgrid/internal/adapters/workbook"
	"evalgrid/internal/blob"
	"evalgrid/internal/core"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

const auditAction = "matrix_export"

// ExportArtifact describes a stored archive.
type ExportArtifact struct {
	Key         string          `json:"key"`
	Format      workbook.Format `json:"format"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	URL         string          `json:"url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ExportRecord tracks one export request.
type ExportRecord struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Role        string          `json:"role"`
	Format      workbook.Format `json:"format"`
	Status      ExportStatus    `json:"status"`
	Error       string          `json:"error,omitempty"`
	Artifact    *ExportArtifact `json:"artifact,omitempty"`
	RequestedBy string          `json:"requested_by"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Request asks for the matrix in View to be archived.
type Request struct {
	View        core.View
	Format      workbook.Format
	RequestedBy string
	Reason      string
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string            `json:"id"`
	ExportID   string            `json:"export_id"`
	Action     string            `json:"action"`
	Actor      string            `json:"actor"`
	TenantID   string            `json:"tenant_id"`
	Role       string            `json:"role"`
	Status     ExportStatus      `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Archiver encodes matrices and stores them under
// exports/{tenant}/{role}/{id}.{ext}.
type Archiver struct {
	store  blob.Store
	audit  AuditLogger
	logger core.Logger
	now    func() time.Time
	expiry time.Duration

	mu      sync.RWMutex
	records map[string]*ExportRecord
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// WithURLExpiry sets how long presigned download URLs stay valid.
func WithURLExpiry(d time.Duration) Option {
	return func(a *Archiver) { a.expiry = d }
}

// NewArchiver constructs an archiver writing to store. audit may be nil.
func NewArchiver(store blob.Store, audit AuditLogger, opts ...Option) *Archiver {
	a := &Archiver{
		store:   store,
		audit:   audit,
		logger:  nopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
		expiry:  15 * time.Minute,
		records: make(map[string]*ExportRecord),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the storage key for an archive.
func Key(tenantID, role, id string, format workbook.Format) string {
	return path.Join("exports", tenantID, role, id+"."+string(format))
}

// Archive encodes req.View and stores it. The returned record is final:
// succeeded with an artifact, or failed with the error also returned.
func (a *Archiver) Archive(ctx context.Context, req Request) (ExportRecord, error) {
	if a.store == nil {
		return ExportRecord{}, errors.New("export store not configured")
	}
	scope := req.View.Scope
	if strings.TrimSpace(scope.TenantID) == "" || strings.TrimSpace(scope.Role) == "" {
		return ExportRecord{}, errors.New("tenant and role required")
	}
	if req.View.Template == nil {
		return ExportRecord{}, core.ErrNoTemplate
	}
	format := req.Format
	if format == "" {
		format = workbook.FormatXLSX
	}
	if _, err := workbook.ParseFormat(string(format)); err != nil {
		return ExportRecord{}, err
	}

	now := a.now()
	record := &ExportRecord{
		ID:          uuid.NewString(),
		TenantID:    scope.TenantID,
		Role:        scope.Role,
		Format:      format,
		Status:      ExportStatusQueued,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a.mu.Lock()
	a.records[record.ID] = record
	a.mu.Unlock()
	a.record(ctx, record.ID, ExportStatusQueued, nil)

	a.updateStatus(ctx, record.ID, ExportStatusRunning)

	var buf bytes.Buffer
	table := workbook.BuildTable(req.View.Items, req.View.Staff, req.View.Rows)
	if err := workbook.Encode(&buf, table, format); err != nil {
		return a.fail(ctx, record.ID, fmt.Errorf("encode %s: %w", format, err))
	}

	key := Key(scope.TenantID, scope.Role, record.ID, format)
	info, err := a.store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: format.ContentType(),
		Metadata: map[string]string{
			"export-id": record.ID,
			"template":  req.View.Template.ID,
			"items":     fmt.Sprint(len(req.View.Items)),
			"staff":     fmt.Sprint(len(req.View.Staff)),
		},
	})
	if err != nil {
		return a.fail(ctx, record.ID, fmt.Errorf("store archive: %w", err))
	}

	artifact := ExportArtifact{
		Key:         info.Key,
		Format:      format,
		ContentType: format.ContentType(),
		SizeBytes:   info.Size,
		URL:         info.URL,
		CreatedAt:   info.LastModified,
	}
	if url, err := a.store.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: a.expiry}); err == nil {
		artifact.URL = url
	} else if !errors.Is(err, blob.ErrUnsupported) {
		a.logger.Warn("presign archive failed", "key", key, "error", err)
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	return a.complete(ctx, record.ID, artifact), nil
}

// Export returns a snapshot of an export record.
func (a *Archiver) Export(id string) (ExportRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	record, ok := a.records[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

// List returns stored archives for tenant, optionally narrowed to role.
func (a *Archiver) List(ctx context.Context, tenantID, role string) ([]blob.Info, error) {
	prefix := path.Join("exports", tenantID) + "/"
	if role != "" {
		prefix = path.Join("exports", tenantID, role) + "/"
	}
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return infos, nil
}

// Fetch reads a stored archive.
func (a *Archiver) Fetch(ctx context.Context, key string) (blob.Info, []byte, error) {
	info, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return blob.Info{}, nil, fmt.Errorf("fetch archive %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return blob.Info{}, nil, fmt.Errorf("read archive %s: %w", key, err)
	}
	return info, payload, nil
}

func (a *Archiver) updateStatus(ctx context.Context, id string, status ExportStatus) {
	a.mu.Lock()
	if record, ok := a.records[id]; ok {
		record.Status = status
		record.UpdatedAt = a.now()
	}
	a.mu.Unlock()
	a.record(ctx, id, status, nil)
}

func (a *Archiver) complete(ctx context.Context, id string, artifact ExportArtifact) ExportRecord {
	now := a.now()
	a.mu.Lock()
	record := a.records[id]
	record.Status = ExportStatusSucceeded
	record.Error = ""
	record.Artifact = &artifact
	record.UpdatedAt = now
	record.CompletedAt = &now
	snapshot := record.copy()
	a.mu.Unlock()

	a.record(ctx, id, ExportStatusSucceeded, map[string]string{"key": artifact.Key})
	a.logger.Info("export archived", "id", id, "key", artifact.Key, "bytes", artifact.SizeBytes)
	return snapshot
}

func (a *Archiver) fail(ctx context.Context, id string, err error) (ExportRecord, error) {
	now := a.now()
	a.mu.Lock()
	record := a.records[id]
	record.Status = ExportStatusFailed
	record.Error = err.Error()
	record.UpdatedAt = now
	record.CompletedAt = &now
	snapshot := record.copy()
	a.mu.Unlock()

	a.record(ctx, id, ExportStatusFailed, map[string]string{"error": err.Error()})
	a.logger.Error("export failed", "id", id, "error", err)
	return snapshot, err
}

func (a *Archiver) record(ctx context.Context, id string, status ExportStatus, metadata map[string]string) {
	if a.audit == nil {
		return
	}
	a.mu.RLock()
	record := a.records[id]
	entry := AuditEntry{
		ID:         uuid.NewString(),
		ExportID:   id,
		Action:     auditAction,
		Actor:      record.RequestedBy,
		TenantID:   record.TenantID,
		Role:       record.Role,
		Status:     status,
		Metadata:   metadata,
		OccurredAt: a.now(),
	}
	a.mu.RUnlock()
	a.audit.Record(ctx, entry)
}

func (r ExportRecord) copy() ExportRecord {
	out := r
	if r.Artifact != nil {
		artifact := *r.Artifact
		out.Artifact = &artifact
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
