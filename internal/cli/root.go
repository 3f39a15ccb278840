// Package cli implements the evalgrid command line: session management,
// spreadsheet import and export, and grid editing against the evaluation API.
package cli

import (
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evalgrid/internal/adapters/metrics"
	"evalgrid/internal/config"
	"evalgrid/internal/core"
)

type rootFlags struct {
	configPath  string
	apiBase     string
	tenant      string
	role        string
	period      string
	logLevel    string
	flushWindow time.Duration
	noColor     bool
}

// NewRootCmd builds the evalgrid command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{}
	var flags rootFlags

	root := &cobra.Command{
		Use:     "evalgrid",
		Short:   "Edit staff evaluation matrices against the evaluation API",
		Version: version,
		Long: `evalgrid loads the evaluation template, items and staff for one tenant and
role, lets you edit scores and items, and keeps the backend in sync.

Settings come from defaults, the YAML file named by --config or
EVALGRID_CONFIG, EVALGRID_* environment variables and flags, in that order.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := config.ParseLogLevel(cfg.LogLevel)
			if flags.noColor {
				color.NoColor = true
			}
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
			a.metrics = metrics.NewRecorder(true)
			a.vars = core.NewExpvarMetricsRecorder("")
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (default $EVALGRID_CONFIG)")
	pf.StringVar(&flags.apiBase, "api-base", "", "evaluation API base URL")
	pf.StringVar(&flags.tenant, "tenant", "", "tenant id (default: from login)")
	pf.StringVar(&flags.role, "role", "", "staff role whose template is edited")
	pf.StringVar(&flags.period, "period", "", "evaluation period YYYY-MM (default: current month)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error")
	pf.DurationVar(&flags.flushWindow, "flush-window", 0, "debounce window before queued scores are saved")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		exportCmd(a),
		importCmd(a),
		archivesCmd(a),
		scoreCmd(a),
		itemsCmd(a),
		staffCmd(a),
		scoreboardCmd(a),
		suggestCmd(a),
		shellCmd(a),
	)
	closeAfterRun(root, a)
	return root
}

// closeAfterRun releases the session store after every command, including
// failed ones, which PersistentPostRun would skip.
func closeAfterRun(cmd *cobra.Command, a *app) {
	for _, c := range cmd.Commands() {
		closeAfterRun(c, a)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		defer a.close()
		return run(c, args)
	}
}

func (f rootFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("api-base") {
		cfg.APIBase = f.apiBase
	}
	if changed("tenant") {
		cfg.TenantID = f.tenant
	}
	if changed("role") {
		cfg.Role = f.role
	}
	if changed("period") {
		cfg.Period = f.period
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("flush-window") {
		cfg.FlushWindow = f.flushWindow
	}
}
