package core

import (
	"sort"

	"evalgrid/pkg/domain"
)

// Column describes one editable score column of the grid.
type Column struct {
	Field   string
	StaffID string
	Header  string
}

// BuildRows projects the sparse evaluation cells onto one dense row per item,
// in item order. Cells whose item key is not among items are dropped; cells for
// staff outside the current set are dropped as well so rows stay dense.
func BuildRows(items []domain.Item, staff []domain.StaffMember, cells []domain.EvaluationCell) []domain.Row {
	rows := make([]domain.Row, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		rows[i] = domain.NewRow(item, staff)
		index[item.Key] = i
	}
	known := staffIndex(staff)
	for _, cell := range cells {
		i, ok := index[cell.ItemKey]
		if !ok {
			continue
		}
		if _, ok := known[cell.StaffID]; !ok {
			continue
		}
		rows[i].Set(cell.Perspective(), cell.StaffID, domain.ScoreOf(cell.Score))
	}
	return rows
}

// StaffColumns returns the editable score columns for perspective p only.
func StaffColumns(staff []domain.StaffMember, p domain.Perspective) []Column {
	cols := make([]Column, 0, len(staff))
	for _, member := range staff {
		cols = append(cols, Column{
			Field:   domain.FieldName(p, member.ID),
			StaffID: member.ID,
			Header:  member.Name,
		})
	}
	return cols
}

// Reshape returns copies of rows extended or contracted to exactly the given
// staff set. Scores of staff present in both sets are preserved.
func Reshape(rows []domain.Row, staff []domain.StaffMember) []domain.Row {
	out := make([]domain.Row, len(rows))
	for i, row := range rows {
		next := domain.NewRow(row.Item, staff)
		for _, member := range staff {
			for _, p := range domain.Perspectives {
				if score, ok := row.Get(p, member.ID); ok {
					next.Set(p, member.ID, score)
				}
			}
		}
		out[i] = next
	}
	return out
}

// ProjectCells is the inverse of BuildRows: it emits one cell per set score,
// ordered by row, then perspective, then staff order.
func ProjectCells(rows []domain.Row, staff []domain.StaffMember, period string) []domain.EvaluationCell {
	var cells []domain.EvaluationCell
	for _, row := range rows {
		for _, p := range domain.Perspectives {
			for _, member := range staff {
				score, ok := row.Get(p, member.ID)
				if !ok || !score.Valid {
					continue
				}
				cells = append(cells, domain.EvaluationCell{
					Period:        period,
					EvaluatorRole: p.EvaluatorRole(),
					StaffID:       member.ID,
					ItemKey:       row.Item.Key,
					Score:         score.Value,
				})
			}
		}
	}
	return cells
}

// StaffTotal is one scoreboard line.
type StaffTotal struct {
	StaffID string  `json:"staff_id"`
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
}

// Scoreboard sums each staff member's scores for perspective p across rows,
// counting unset as zero, sorted by total descending. Ties keep staff order.
func Scoreboard(rows []domain.Row, staff []domain.StaffMember, p domain.Perspective) []StaffTotal {
	out := make([]StaffTotal, 0, len(staff))
	for _, member := range staff {
		total := 0.0
		for i := range rows {
			score, _ := rows[i].Get(p, member.ID)
			total += score.Float()
		}
		out = append(out, StaffTotal{StaffID: member.ID, Name: member.Name, Total: total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// MaxTotalPerStaff is the highest total a staff member can reach.
func MaxTotalPerStaff(t *domain.Template, itemCount int) float64 {
	if t == nil {
		return 0
	}
	return t.MaxScore * float64(itemCount)
}

func staffIndex(staff []domain.StaffMember) map[string]int {
	idx := make(map[string]int, len(staff))
	for i, member := range staff {
		idx[member.ID] = i
	}
	return idx
}

func cloneRows(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
