package exports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"evalgrid/internal/adapters/workbook"
	"evalgrid/internal/blob"
	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func testView() core.View {
	items := []domain.Item{{Key: "teamwork", Label: "Teamwork"}, {Key: "safety", Label: "Safety"}}
	staff := []domain.StaffMember{{ID: "s1", Name: "Aoki"}}
	cells := []domain.EvaluationCell{{EvaluatorRole: domain.EvaluatorRoleManager, StaffID: "s1", ItemKey: "safety", Score: 4}}
	return core.View{
		Scope:    core.Scope{TenantID: "t1", Role: "主任"},
		Template: &domain.Template{ID: "tpl-1", MaxScore: 5},
		Items:    items,
		Staff:    staff,
		Rows:     core.BuildRows(items, staff, cells),
	}
}

func statuses(entries []AuditEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = string(e.Status)
	}
	return strings.Join(parts, ",")
}

func TestArchiveStoresWorkbook(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	audit := &MemoryAuditLog{}
	a := NewArchiver(store, audit, WithClock(func() time.Time { return fixedNow }))

	record, err := a.Archive(ctx, Request{View: testView(), RequestedBy: "admin@example.com"})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if record.Status != ExportStatusSucceeded || record.Format != workbook.FormatXLSX || record.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", record)
	}
	wantKey := "exports/t1/主任/" + record.ID + ".xlsx"
	if record.Artifact == nil || record.Artifact.Key != wantKey {
		t.Fatalf("unexpected artifact %+v", record.Artifact)
	}
	if got := statuses(audit.Entries()); got != "queued,running,succeeded" {
		t.Fatalf("unexpected audit trail %s", got)
	}
	if audit.Entries()[0].Actor != "admin@example.com" {
		t.Fatalf("audit actor missing")
	}

	info, payload, err := a.Fetch(ctx, wantKey)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if info.Metadata["template"] != "tpl-1" {
		t.Fatalf("unexpected metadata %+v", info.Metadata)
	}
	res, err := workbook.Decode(bytes.NewReader(payload), workbook.FormatXLSX)
	if err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if len(res.Items) != 2 || res.Evaluations[0].Scores["safety"] != 4 {
		t.Fatalf("archive content mismatch %+v", res)
	}

	listed, err := a.List(ctx, "t1", "")
	if err != nil || len(listed) != 1 {
		t.Fatalf("list: %v %+v", err, listed)
	}
	if other, _ := a.List(ctx, "t1", "保育士"); len(other) != 0 {
		t.Fatalf("role filter should exclude archive, got %+v", other)
	}
	if snap, ok := a.Export(record.ID); !ok || snap.Status != ExportStatusSucceeded {
		t.Fatalf("export lookup failed")
	}
}

func TestArchiveCSVToFilesystemAndS3(t *testing.T) {
	ctx := context.Background()
	fsStore, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	s3Store, err := blob.NewMockS3(ctx)
	if err != nil {
		t.Fatalf("s3: %v", err)
	}
	for _, tc := range []struct {
		store  blob.Store
		prefix string
	}{{fsStore, "file://"}, {s3Store, "https://mock.s3.local/"}} {
		a := NewArchiver(tc.store, nil)
		record, err := a.Archive(ctx, Request{View: testView(), Format: workbook.FormatCSV})
		if err != nil {
			t.Fatalf("%s archive: %v", tc.store.Driver(), err)
		}
		if !strings.HasPrefix(record.Artifact.URL, tc.prefix) {
			t.Fatalf("%s: unexpected url %q", tc.store.Driver(), record.Artifact.URL)
		}
		_, payload, err := a.Fetch(ctx, record.Artifact.Key)
		if err != nil {
			t.Fatalf("%s fetch: %v", tc.store.Driver(), err)
		}
		if !strings.HasPrefix(string(payload), "item_key,label,description,self_Aoki,mgr_Aoki") {
			t.Fatalf("%s: unexpected csv %q", tc.store.Driver(), payload)
		}
	}
}

type failingStore struct{ blob.Store }

func (failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func TestArchiveFailureIsRecorded(t *testing.T) {
	audit := &MemoryAuditLog{}
	a := NewArchiver(failingStore{blob.NewMemory()}, audit)
	record, err := a.Archive(context.Background(), Request{View: testView()})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected store error, got %v", err)
	}
	if record.Status != ExportStatusFailed || record.Error == "" {
		t.Fatalf("unexpected record %+v", record)
	}
	if got := statuses(audit.Entries()); got != "queued,running,failed" {
		t.Fatalf("unexpected audit trail %s", got)
	}
}

func TestArchiveRejectsIncompleteRequests(t *testing.T) {
	a := NewArchiver(blob.NewMemory(), nil)
	view := testView()
	view.Template = nil
	if _, err := a.Archive(context.Background(), Request{View: view}); !errors.Is(err, core.ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
	view = testView()
	view.Scope.Role = ""
	if _, err := a.Archive(context.Background(), Request{View: view}); err == nil {
		t.Fatalf("expected scope error")
	}
	if _, err := a.Archive(context.Background(), Request{View: testView(), Format: "pdf"}); !errors.Is(err, workbook.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, _, err := a.Fetch(context.Background(), "exports/none"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
