package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fatih/color"

	"evalgrid/internal/adapters/api"
	"evalgrid/internal/adapters/exports"
	"evalgrid/internal/adapters/metrics"
	"evalgrid/internal/blob"
	"evalgrid/internal/config"
	"evalgrid/internal/core"
	"evalgrid/internal/session"
	"evalgrid/pkg/domain"
)

// app carries what every command needs once flags and config are resolved.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	out     io.Writer
	errOut  io.Writer
	metrics *metrics.Recorder
	vars    *core.ExpvarMetricsRecorder

	sessions *session.Store
}

func (a *app) openSessions(ctx context.Context) (*session.Store, error) {
	if a.sessions != nil {
		return a.sessions, nil
	}
	store, err := session.Open(ctx, a.cfg.SessionSettings())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.sessions = store
	return store, nil
}

func (a *app) close() {
	if a.sessions != nil {
		_ = a.sessions.Close()
		a.sessions = nil
	}
}

func (a *app) client(tokens api.TokenSource) (*api.Client, error) {
	return api.NewClient(a.cfg.APIBase,
		api.WithHTTPClient(&http.Client{Timeout: a.cfg.HTTPTimeout}),
		api.WithTokenSource(tokens),
		api.WithLogger(a.logger),
	)
}

// scope resolves the tenant from config, falling back to the logged-in session.
func (a *app) scope(sess session.Session) (core.Scope, error) {
	tenant := a.cfg.TenantID
	if tenant == "" {
		tenant = sess.TenantID
	}
	if tenant == "" {
		return core.Scope{}, errors.New("no tenant: run evalgrid login or pass --tenant")
	}
	return core.Scope{TenantID: tenant, Role: a.cfg.Role}, nil
}

// openEngine logs in from the stored session, opens the engine on the
// configured scope and returns it with the client it reads through.
func (a *app) openEngine(ctx context.Context) (*core.Engine, error) {
	store, err := a.openSessions(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.LoggedIn() {
		return nil, errors.New("not logged in: run evalgrid login")
	}
	scope, err := a.scope(sess)
	if err != nil {
		return nil, err
	}
	creds := session.NewCredentials(store)
	client, err := a.client(creds)
	if err != nil {
		return nil, err
	}
	engine := core.NewEngine(client,
		core.WithLogger(a.logger),
		core.WithMetrics(core.TeeMetrics(a.metrics, a.vars)),
		core.WithFlushWindow(a.cfg.FlushWindow),
		core.WithPeriod(a.cfg.Period),
		core.WithSuggester(client),
		core.WithCredentials(creds),
		core.WithAuthExpiredHook(func() {
			fmt.Fprintln(a.errOut, warn("session expired: run evalgrid login, then resume"))
		}),
	)
	if err := engine.Open(ctx, scope); err != nil {
		_, _ = engine.Close(ctx)
		return nil, err
	}
	return engine, nil
}

// withEngine runs fn against an open engine and always closes it, which
// flushes any queued score once more.
func (a *app) withEngine(ctx context.Context, fn func(*core.Engine) error) error {
	engine, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	runErr := fn(engine)
	res, closeErr := engine.Close(ctx)
	if closeErr == nil {
		closeErr = res.Err()
		if closeErr == nil && len(res.Succeeded) > 0 {
			fmt.Fprintf(a.out, "%s %s\n", good("saved"), joinPerspectives(res.Succeeded))
		}
	}
	if closeErr != nil {
		closeErr = fmt.Errorf("final save: %w", closeErr)
	}
	return errors.Join(runErr, closeErr)
}

func (a *app) blobStore(ctx context.Context) (blob.Store, error) {
	store, err := blob.Open(ctx, a.cfg.BlobSettings())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return store, nil
}

func (a *app) archiver(ctx context.Context) (*exports.Archiver, error) {
	store, err := a.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	return exports.NewArchiver(store, slogAudit{logger: a.logger}, exports.WithLogger(a.logger)), nil
}

// slogAudit writes export audit entries to the structured log.
type slogAudit struct {
	logger *slog.Logger
}

func (l slogAudit) Record(ctx context.Context, e exports.AuditEntry) {
	l.logger.InfoContext(ctx, "audit", "action", e.Action, "export", e.ExportID, "status", e.Status, "actor", e.Actor, "tenant", e.TenantID, "role", e.Role)
}

func joinPerspectives(ps []domain.Perspective) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

// resolveStaff accepts a staff id or an exact name.
func resolveStaff(staff []domain.StaffMember, ref string) (domain.StaffMember, error) {
	ref = strings.TrimSpace(ref)
	for _, m := range staff {
		if m.ID == ref {
			return m, nil
		}
	}
	var match []domain.StaffMember
	for _, m := range staff {
		if strings.TrimSpace(m.Name) == ref {
			match = append(match, m)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return domain.StaffMember{}, fmt.Errorf("no staff member %q", ref)
	default:
		return domain.StaffMember{}, fmt.Errorf("staff name %q is ambiguous, use the id", ref)
	}
}

func parsePerspective(v string) (domain.Perspective, error) {
	p, valid := domain.ParsePerspective(v)
	if !valid {
		return "", fmt.Errorf("unknown perspective %q (want self or mgr)", v)
	}
	return p, nil
}

var (
	good = color.New(color.FgGreen).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
	dim  = color.New(color.Faint).SprintFunc()
	bold = color.New(color.Bold).SprintFunc()
)
