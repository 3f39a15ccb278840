package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgrid/internal/adapters/exports"
	"evalgrid/internal/adapters/workbook"
	"evalgrid/internal/core"
)

func exportCmd(a *app) *cobra.Command {
	var format, out, reason string
	var archive bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the matrix to an xlsx or csv file",
		Long: `Export every item and both perspectives for the current role.

The default file name is export_{role}.{format}. With --archive the file is
also stored in the configured blob store under exports/{tenant}/{role}/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			f, err := workbook.ParseFormat(format)
			if err != nil {
				return err
			}
			return a.withEngine(ctx, func(e *core.Engine) error {
				view := e.Snapshot()
				if view.Template == nil {
					return core.ErrNoTemplate
				}
				path := out
				if path == "" {
					path = workbook.Filename(view.Scope.Role, f)
				}
				var buf bytes.Buffer
				table := workbook.BuildTable(view.Items, view.Staff, view.Rows)
				if err := workbook.Encode(&buf, table, f); err != nil {
					return err
				}
				if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintf(a.out, "%s wrote %s (%d items, %d staff)\n", good("✓"), path, len(view.Items), len(view.Staff))

				if !archive {
					return nil
				}
				archiver, err := a.archiver(ctx)
				if err != nil {
					return err
				}
				sess, _ := a.sessions.Load(ctx)
				record, err := archiver.Archive(ctx, exports.Request{View: view, Format: f, RequestedBy: sess.Email, Reason: reason})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s archived %s\n", good("✓"), record.Artifact.Key)
				if record.Artifact.URL != "" {
					fmt.Fprintf(a.out, "  %s\n", dim(record.Artifact.URL))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(workbook.FormatXLSX), "xlsx|csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path")
	cmd.Flags().BoolVar(&archive, "archive", false, "also store the export in the blob store")
	cmd.Flags().StringVar(&reason, "reason", "", "note recorded with the archive")
	return cmd
}

func importCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Read an xlsx or csv file and optionally apply it",
		Long: `Parse a file in the export layout. Without --apply the parsed items and
scores are only summarized. With --apply items are upserted by key and every
score is queued and saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]
			f, err := workbook.FormatFromFilename(path)
			if err != nil {
				return err
			}
			file, err := os.Open(filepath.Clean(path))
			if err != nil {
				return err
			}
			defer func() { _ = file.Close() }()
			res, err := workbook.Decode(file, f)
			if err != nil {
				return err
			}
			cells := 0
			for _, ev := range res.Evaluations {
				cells += len(ev.Scores)
			}
			fmt.Fprintf(a.out, "parsed %d items, %d score groups (%d cells)", len(res.Items), len(res.Evaluations), cells)
			if res.SkippedRows > 0 || res.SkippedCells > 0 {
				fmt.Fprintf(a.out, ", skipped %d rows and %d cells", res.SkippedRows, res.SkippedCells)
			}
			fmt.Fprintln(a.out)
			if !apply {
				printItems(a.out, res.Items)
				return nil
			}
			return a.withEngine(ctx, func(e *core.Engine) error {
				report, err := e.ApplyImport(ctx, res.ImportData)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s items +%d ~%d, scores queued %d, dropped %d\n",
					good("✓"), report.ItemsAdded, report.ItemsUpdated, report.ScoresQueued, report.ScoresDropped)
				if len(report.UnknownStaff) > 0 {
					fmt.Fprintf(a.out, "%s unknown staff: %s\n", warn("!"), strings.Join(report.UnknownStaff, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the parsed content")
	return cmd
}

func archivesCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List archived exports for the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openSessions(ctx)
			if err != nil {
				return err
			}
			sess, err := store.Load(ctx)
			if err != nil {
				return err
			}
			scope, err := a.scope(sess)
			if err != nil {
				return err
			}
			archiver, err := a.archiver(ctx)
			if err != nil {
				return err
			}
			role := scope.Role
			if all {
				role = ""
			}
			infos, err := archiver.List(ctx, scope.TenantID, role)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(a.out, dim("(no archives)"))
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tCREATED\tTEMPLATE")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", info.Key, info.Size, info.LastModified.Format("2006-01-02 15:04"), info.Metadata["template"])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all-roles", false, "list archives of every role")
	return cmd
}
