// Package workbook converts the evaluation matrix to and from flat tables and
// encodes those tables as xlsx workbooks or csv files.
package workbook

import (
	"strings"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

// Fixed leading columns of an exported table.
const (
	ColumnItemKey     = "item_key"
	ColumnLabel       = "label"
	ColumnDescription = "description"
)

const (
	selfPrefix = "self_"
	mgrPrefix  = "mgr_"
)

// Table is a header plus data rows. Cells hold a string, a float64 or nil.
type Table struct {
	Header []string
	Rows   [][]any
}

// Strings renders every cell as text. Nil cells become empty strings.
func (t Table) Strings() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, append([]string(nil), t.Header...))
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, cell := range row {
			switch v := cell.(type) {
			case nil:
			case string:
				rec[i] = v
			case float64:
				rec[i] = domain.ScoreOf(v).String()
			}
		}
		out = append(out, rec)
	}
	return out
}

// BuildTable lays out items in order with one self and one manager column per
// staff member, headed by staff name. Unset scores are left empty.
func BuildTable(items []domain.Item, staff []domain.StaffMember, rows []domain.Row) Table {
	header := make([]string, 0, 3+2*len(staff))
	header = append(header, ColumnItemKey, ColumnLabel, ColumnDescription)
	for _, member := range staff {
		header = append(header, selfPrefix+member.Name)
	}
	for _, member := range staff {
		header = append(header, mgrPrefix+member.Name)
	}

	byKey := make(map[string]*domain.Row, len(rows))
	for i := range rows {
		byKey[rows[i].Item.Key] = &rows[i]
	}

	out := make([][]any, 0, len(items))
	for _, item := range items {
		rec := make([]any, 0, len(header))
		rec = append(rec, item.Key, item.Label, item.Description)
		row := byKey[item.Key]
		for _, p := range domain.Perspectives {
			for _, member := range staff {
				rec = append(rec, scoreCell(row, p, member.ID))
			}
		}
		out = append(out, rec)
	}
	return Table{Header: header, Rows: out}
}

func scoreCell(row *domain.Row, p domain.Perspective, staffID string) any {
	if row == nil {
		return nil
	}
	score, ok := row.Get(p, staffID)
	if !ok || !score.Valid {
		return nil
	}
	return score.Value
}

// ImportResult is the best-effort content of an imported table.
type ImportResult struct {
	core.ImportData
	SkippedRows  int
	SkippedCells int
}

// ParseTable reads a header row plus data rows. Columns are located by
// trimmed header name; rows without an item key are skipped, as are score
// cells that are blank or do not parse. Keys and scores are trimmed, labels
// and descriptions are kept verbatim. Scores are grouped per perspective
// and staff name in first-seen order.
func ParseTable(records [][]string) ImportResult {
	var res ImportResult
	if len(records) == 0 {
		return res
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	idxKey := indexOf(header, ColumnItemKey)
	idxLabel := indexOf(header, ColumnLabel)
	idxDesc := indexOf(header, ColumnDescription)
	res.HasLabel = idxLabel >= 0
	res.HasDescription = idxDesc >= 0

	type scoreColumn struct {
		index int
		p     domain.Perspective
		staff string
	}
	var columns []scoreColumn
	for i, h := range header {
		switch {
		case strings.HasPrefix(h, selfPrefix):
			columns = append(columns, scoreColumn{i, domain.PerspectiveSelf, strings.TrimSpace(strings.TrimPrefix(h, selfPrefix))})
		case strings.HasPrefix(h, mgrPrefix):
			columns = append(columns, scoreColumn{i, domain.PerspectiveManager, strings.TrimSpace(strings.TrimPrefix(h, mgrPrefix))})
		}
	}

	groups := make(map[string]int)
	for _, row := range records[1:] {
		key := cellValue(row, idxKey)
		if key == "" {
			res.SkippedRows++
			continue
		}
		res.Items = append(res.Items, domain.Item{
			Key:         key,
			Label:       rawCell(row, idxLabel),
			Description: rawCell(row, idxDesc),
		})
		for _, col := range columns {
			raw := cellValue(row, col.index)
			if raw == "" {
				continue
			}
			score := core.ParseScore(raw)
			if !score.Valid {
				res.SkippedCells++
				continue
			}
			group := string(col.p) + ":" + col.staff
			gi, ok := groups[group]
			if !ok {
				gi = len(res.Evaluations)
				groups[group] = gi
				res.Evaluations = append(res.Evaluations, core.ImportedScores{
					Perspective: col.p,
					StaffName:   col.staff,
					Scores:      make(map[string]float64),
				})
			}
			res.Evaluations[gi].Scores[key] = score.Value
		}
	}
	return res
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cellValue(row []string, idx int) string {
	return strings.TrimSpace(rawCell(row, idx))
}

// rawCell keeps surrounding whitespace; item text round-trips as exported.
func rawCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
