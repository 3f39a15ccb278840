package workbook

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

func fixture() ([]domain.Item, []domain.StaffMember, []domain.Row) {
	items := []domain.Item{
		{Key: "teamwork", Label: "Teamwork", Description: "Works with others"},
		{Key: "safety", Label: "Safety", Description: ""},
	}
	staff := []domain.StaffMember{{ID: "s1", Name: "Aoki"}, {ID: "s2", Name: "馬場"}}
	cells := []domain.EvaluationCell{
		{EvaluatorRole: domain.EvaluatorRoleSelf, StaffID: "s1", ItemKey: "teamwork", Score: 3},
		{EvaluatorRole: domain.EvaluatorRoleManager, StaffID: "s2", ItemKey: "safety", Score: 4.5},
	}
	return items, staff, core.BuildRows(items, staff, cells)
}

func TestBuildTableLayout(t *testing.T) {
	table := BuildTable(fixture())
	want := []string{"item_key", "label", "description", "self_Aoki", "self_馬場", "mgr_Aoki", "mgr_馬場"}
	if strings.Join(table.Header, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected header %v", table.Header)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected one row per item, got %d", len(table.Rows))
	}
	first := table.Rows[0]
	if first[0] != "teamwork" || first[3] != 3.0 || first[4] != nil {
		t.Fatalf("unexpected first row %v", first)
	}
	if table.Rows[1][6] != 4.5 {
		t.Fatalf("expected numeric manager score, got %v", table.Rows[1][6])
	}
	if got := table.Strings()[1][3]; got != "3" {
		t.Fatalf("expected numeric text, got %q", got)
	}
}

func TestParseTableSkipsBadInput(t *testing.T) {
	records := [][]string{
		{" item_key ", "label", "description", "self_Aoki", "mgr_Aoki", "notes"},
		{"teamwork", "Teamwork", "Works", "3", "abc", "x"},
		{"", "orphan", "", "5", "5", ""},
		{"safety", "Safety"},
		{"care", "Care", "", " 2/5 ", "", ""},
	}
	res := ParseTable(records)
	if len(res.Items) != 3 || res.Items[1].Key != "safety" || res.Items[1].Description != "" {
		t.Fatalf("unexpected items %+v", res.Items)
	}
	if res.SkippedRows != 1 || res.SkippedCells != 1 {
		t.Fatalf("unexpected skip counters rows=%d cells=%d", res.SkippedRows, res.SkippedCells)
	}
	if len(res.Evaluations) != 1 {
		t.Fatalf("expected one populated group, got %+v", res.Evaluations)
	}
	ev := res.Evaluations[0]
	if ev.Perspective != domain.PerspectiveSelf || ev.StaffName != "Aoki" {
		t.Fatalf("unexpected group %+v", ev)
	}
	if ev.Scores["teamwork"] != 3 || ev.Scores["care"] != 2 {
		t.Fatalf("unexpected scores %+v", ev.Scores)
	}
}

func TestParseTableWithoutItemKeyColumn(t *testing.T) {
	res := ParseTable([][]string{{"label"}, {"a"}, {"b"}})
	if len(res.Items) != 0 || res.SkippedRows != 2 {
		t.Fatalf("expected every row skipped, got %+v", res)
	}
	if empty := ParseTable(nil); len(empty.Items) != 0 {
		t.Fatalf("expected empty result")
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatXLSX, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			table := BuildTable(fixture())
			var buf bytes.Buffer
			if err := Encode(&buf, table, format); err != nil {
				t.Fatalf("encode: %v", err)
			}
			res, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(res.Items) != 2 || res.Items[0].Label != "Teamwork" || res.Items[0].Description != "Works with others" {
				t.Fatalf("unexpected items %+v", res.Items)
			}
			if len(res.Evaluations) != 2 {
				t.Fatalf("expected two groups, got %+v", res.Evaluations)
			}
			if ev := res.Evaluations[0]; ev.StaffName != "Aoki" || ev.Scores["teamwork"] != 3 {
				t.Fatalf("unexpected self group %+v", ev)
			}
			if ev := res.Evaluations[1]; ev.Perspective != domain.PerspectiveManager || ev.StaffName != "馬場" || ev.Scores["safety"] != 4.5 {
				t.Fatalf("unexpected manager group %+v", ev)
			}
		})
	}
}

func TestRoundTripEmptyMatrix(t *testing.T) {
	for _, format := range []Format{FormatXLSX, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, BuildTable(nil, nil, nil), format); err != nil {
				t.Fatalf("encode: %v", err)
			}
			res, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(res.Items) != 0 || len(res.Evaluations) != 0 || res.SkippedRows != 0 {
				t.Fatalf("expected empty import, got %+v", res)
			}
			if !res.HasLabel || !res.HasDescription {
				t.Fatalf("expected text columns reported present")
			}
		})
	}
}

func TestRoundTripKeepsZeroScore(t *testing.T) {
	items := []domain.Item{{Key: "teamwork", Label: "Teamwork"}}
	staff := []domain.StaffMember{{ID: "s1", Name: "Aoki"}}
	row := domain.NewRow(items[0], staff)
	row.Set(domain.PerspectiveSelf, "s1", domain.ScoreOf(0))
	for _, format := range []Format{FormatXLSX, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, BuildTable(items, staff, []domain.Row{row}), format); err != nil {
				t.Fatalf("encode: %v", err)
			}
			res, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(res.Evaluations) != 1 {
				t.Fatalf("expected the zero score group, got %+v", res.Evaluations)
			}
			got, ok := res.Evaluations[0].Scores["teamwork"]
			if !ok || got != 0 {
				t.Fatalf("expected set zero score, got %v present=%v", got, ok)
			}
		})
	}
}

func TestParseTableTextColumnsOptional(t *testing.T) {
	res := ParseTable([][]string{{"item_key", "self_Aoki"}, {"teamwork", "4"}})
	if res.HasLabel || res.HasDescription {
		t.Fatalf("expected text columns reported missing")
	}
	if len(res.Items) != 1 || res.Items[0].Label != "" || res.Items[0].Description != "" {
		t.Fatalf("unexpected items %+v", res.Items)
	}
	if len(res.Evaluations) != 1 || res.Evaluations[0].Scores["teamwork"] != 4 {
		t.Fatalf("unexpected scores %+v", res.Evaluations)
	}
}

func TestParseTableKeepsTextVerbatim(t *testing.T) {
	res := ParseTable([][]string{
		{"item_key", "label", "description"},
		{" teamwork ", "  Teamwork  ", " Works with others\n"},
	})
	if len(res.Items) != 1 {
		t.Fatalf("unexpected items %+v", res.Items)
	}
	item := res.Items[0]
	if item.Key != "teamwork" || item.Label != "  Teamwork  " || item.Description != " Works with others\n" {
		t.Fatalf("unexpected item %+v", item)
	}

	items := []domain.Item{{Key: "teamwork", Label: " Teamwork ", Description: "line\n"}}
	var buf bytes.Buffer
	if err := Encode(&buf, BuildTable(items, nil, core.BuildRows(items, nil, nil)), FormatCSV); err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := Decode(&buf, FormatCSV)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back.Items) != 1 || back.Items[0] != items[0] {
		t.Fatalf("expected text to round-trip unchanged, got %+v", back.Items)
	}
}

func TestFormats(t *testing.T) {
	if f, err := FormatFromFilename("export_主任.XLSX"); err != nil || f != FormatXLSX {
		t.Fatalf("got %q %v", f, err)
	}
	if _, err := FormatFromFilename("scores.ods"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if got := Filename("主任", FormatXLSX); got != "export_主任.xlsx" {
		t.Fatalf("unexpected filename %q", got)
	}
	if FormatCSV.ContentType() != "text/csv" {
		t.Fatalf("unexpected content type")
	}
	if err := Encode(&bytes.Buffer{}, Table{}, "pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
