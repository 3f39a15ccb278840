package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

func printMatrix(w io.Writer, v core.View) {
	if v.Template == nil {
		fmt.Fprintf(w, "%s no active template for %s\n", warn("!"), v.Scope.Role)
		return
	}
	fmt.Fprintf(w, "%s  %s  perspective=%s  max=%s\n",
		bold(v.Template.Title), dim(v.Scope.Role), v.Perspective, number(v.MaxScore()))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"KEY", "LABEL"}
	for _, c := range v.Columns {
		header = append(header, c.Header)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for i := range v.Rows {
		row := &v.Rows[i]
		cells := []string{row.Item.Key, row.Item.Label}
		for _, c := range v.Columns {
			score, _ := row.Get(v.Perspective, c.StaffID)
			cells = append(cells, core.FormatScore(score, v.MaxScore()))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	if v.DraftState != core.DraftEmpty {
		fmt.Fprintf(w, "%s draft: %q %q\n", dim("+"), v.Draft.Label, v.Draft.Description)
	}
	printPending(w, v.Pending)
	if v.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", bad("error:"), v.LastError)
	}
}

func printPending(w io.Writer, s core.SchedulerStats) {
	if !s.Unsaved() && !s.Halted {
		return
	}
	var parts []string
	for _, p := range domain.Perspectives {
		if n := s.Pending[p]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", p, n))
		}
	}
	state := "unsaved"
	if s.Halted {
		state = "halted"
	}
	fmt.Fprintf(w, "%s %s\n", warn(state), strings.Join(parts, " "))
}

func printItems(w io.Writer, items []domain.Item) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKEY\tLABEL\tDESCRIPTION")
	for i, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, it.Key, it.Label, it.Description)
	}
	_ = tw.Flush()
}

func printStaff(w io.Writer, staff []domain.StaffMember) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tCODE")
	for _, m := range staff {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Role, m.Code)
	}
	_ = tw.Flush()
}

func printScoreboard(w io.Writer, totals []core.StaffTotal, max float64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "RANK\tNAME\tTOTAL\t(of %s)\n", number(max))
	for i, t := range totals {
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", i+1, t.Name, number(t.Total))
	}
	_ = tw.Flush()
}

func number(v float64) string { return domain.ScoreOf(v).String() }
