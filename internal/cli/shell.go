package cli

import (
	"bufio"
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

const shellHelp = `commands:
  show                          print the matrix
  persp self|mgr                switch the editable perspective
  set <key> <staff> <value>     set a score in the active perspective
  label <key> <text>            rename an item
  desc <key> <text>             change an item description
  draft label|description <text>
  commit                        promote the draft row
  add                           append a blank item
  rm <key>                      delete an item
  role <role>                   save pending scores and switch role
  flush                         save pending scores now
  reload                        refetch from the server
  resume                        resume saving after logging in again
  stats                         queue state
  quit`

func shellCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Edit the matrix interactively",
		Long: `Open the matrix and read edit commands from stdin. Score edits are queued
and saved after the flush window; item edits are saved at once. Type help
for the command list.

With --metrics-addr the shell serves Prometheus metrics on /metrics and the
expvar engine counters on /debug/vars.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			addr := a.cfg.MetricsAddr
			if cmd.Flags().Changed("metrics-addr") {
				addr = metricsAddr
			}
			if addr != "" {
				_, stop, err := a.serveMetrics(addr)
				if err != nil {
					return err
				}
				defer stop()
			}
			return a.withEngine(ctx, func(e *core.Engine) error {
				printMatrix(a.out, e.Snapshot())
				return a.repl(ctx, e, bufio.NewScanner(cmd.InOrStdin()))
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// serveMetrics listens on addr and returns the bound address and a stop func.
func (a *app) serveMetrics(addr string) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	bound := ln.Addr().String()
	a.logger.Info("serving metrics", "addr", bound)
	return bound, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func (a *app) repl(ctx context.Context, e *core.Engine, in *bufio.Scanner) error {
	for {
		fmt.Fprint(a.out, dim("> "))
		if !in.Scan() {
			fmt.Fprintln(a.out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := a.exec(ctx, e, line); err != nil {
			if core.IsValidation(err) {
				fmt.Fprintf(a.out, "%s %v\n", warn("rejected:"), err)
				continue
			}
			fmt.Fprintf(a.out, "%s %v\n", bad("error:"), err)
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
}

// exec runs one shell line.
func (a *app) exec(ctx context.Context, e *core.Engine, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d arguments, see help", verb, n)
		}
		return nil
	}

	switch verb {
	case "help", "?":
		fmt.Fprintln(a.out, shellHelp)
	case "show", "ls":
		printMatrix(a.out, e.Snapshot())
	case "persp":
		if err := need(1); err != nil {
			return err
		}
		p, err := parsePerspective(args[0])
		if err != nil {
			return err
		}
		if err := e.SetPerspective(p); err != nil {
			return err
		}
		printMatrix(a.out, e.Snapshot())
	case "set":
		if err := need(2); err != nil {
			return err
		}
		value := ""
		if len(args) > 2 {
			value = strings.Join(args[2:], " ")
		}
		view := e.Snapshot()
		member, err := resolveStaff(view.Staff, args[1])
		if err != nil {
			return err
		}
		return e.EditScore(args[0], view.Perspective, member.ID, value)
	case "label", "desc":
		if err := need(1); err != nil {
			return err
		}
		field := domain.FieldLabel
		if verb == "desc" {
			field = domain.FieldDescription
		}
		_, text, _ := strings.Cut(rest, " ")
		return e.EditItemText(ctx, args[0], field, text)
	case "draft":
		if err := need(1); err != nil {
			return err
		}
		_, text, _ := strings.Cut(rest, " ")
		return e.EditDraft(args[0], text)
	case "commit":
		item, created, err := e.CommitDraft(ctx)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintln(a.out, dim("draft was blank"))
			return nil
		}
		fmt.Fprintf(a.out, "%s created %s\n", good("✓"), item.Key)
	case "add":
		item, err := e.AddBlankItem(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s added %s\n", good("✓"), item.Key)
	case "rm":
		if err := need(1); err != nil {
			return err
		}
		return e.RemoveItem(ctx, args[0])
	case "role":
		if err := need(1); err != nil {
			return err
		}
		if !a.cfg.HasRole(rest) {
			return fmt.Errorf("unknown role %q (configured: %s)", rest, strings.Join(a.cfg.Roles, ", "))
		}
		scope := e.Scope()
		scope.Role = rest
		if err := e.SwitchScope(ctx, scope); err != nil {
			return err
		}
		printMatrix(a.out, e.Snapshot())
	case "flush":
		res, err := e.ForceFlush(ctx)
		if err != nil {
			return err
		}
		if ferr := res.Err(); ferr != nil {
			return ferr
		}
		if len(res.Attempted) == 0 {
			fmt.Fprintln(a.out, dim("nothing to save"))
			return nil
		}
		fmt.Fprintf(a.out, "%s saved %s\n", good("✓"), joinPerspectives(res.Succeeded))
	case "reload":
		if err := e.Reload(ctx); err != nil {
			return err
		}
		printMatrix(a.out, e.Snapshot())
	case "resume":
		return e.Resume()
	case "stats":
		s := e.Stats()
		fmt.Fprintf(a.out, "pending self=%d mgr=%d  in-flight=%v  halted=%v  flushes=%d\n",
			s.Pending[domain.PerspectiveSelf], s.Pending[domain.PerspectiveManager], s.InFlight, s.Halted, s.Flushes)
		if s.LastError != "" {
			fmt.Fprintf(a.out, "last error: %s\n", s.LastError)
		}
	default:
		return fmt.Errorf("unknown command %q, type help", verb)
	}
	return nil
}
