// Package api implements the evaluation backend client. Client satisfies
// core.DataSource and core.Suggester.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// TokenSource yields the bearer credential for each request. An empty token
// sends the request unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed TokenSource.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Client talks to the evaluation backend over JSON/HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	logger core.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource sets the bearer credential source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient constructs a client for baseURL (scheme and host, optional path prefix).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base %q must include scheme and host", baseURL)
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var (
	_ core.DataSource = (*Client)(nil)
	_ core.Suggester  = (*Client)(nil)
)

// LoadTemplate reads the active template, items and staff for scope.
func (c *Client) LoadTemplate(ctx context.Context, scope core.Scope) (domain.TemplateBundle, error) {
	var bundle domain.TemplateBundle
	if err := c.do(ctx, http.MethodGet, []string{"api", "templates", scope.TenantID, scope.Role}, nil, &bundle); err != nil {
		return domain.TemplateBundle{}, err
	}
	return bundle, nil
}

// LoadEvaluations reads every evaluation cell recorded for scope.
func (c *Client) LoadEvaluations(ctx context.Context, scope core.Scope) ([]domain.EvaluationCell, error) {
	var out struct {
		Rows []domain.EvaluationCell `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, []string{"api", "evaluations", scope.TenantID, scope.Role}, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

type itemPayload struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order"`
}

// SaveItems replaces the template's item list.
func (c *Client) SaveItems(ctx context.Context, tenantID, templateID string, items []domain.Item) error {
	body := struct {
		Items []itemPayload `json:"items"`
	}{Items: make([]itemPayload, len(items))}
	for i, it := range items {
		body.Items[i] = itemPayload{Key: it.Key, Label: it.Label, Description: it.Description, DisplayOrder: it.DisplayOrder}
	}
	return c.do(ctx, http.MethodPut, []string{"api", "templates", tenantID, templateID}, body, nil)
}

// SubmitEvaluations writes one batched evaluation payload.
func (c *Client) SubmitEvaluations(ctx context.Context, tenantID string, batch domain.EvaluationBatch) error {
	return c.do(ctx, http.MethodPost, []string{"api", "evaluations", tenantID}, batch, nil)
}

type staffResponse struct {
	Staff *domain.StaffMember `json:"staff"`
}

// CreateStaff registers a staff member. Servers that answer without a body
// yield a member carrying only the submitted name and role.
func (c *Client) CreateStaff(ctx context.Context, tenantID, name, role string) (domain.StaffMember, error) {
	body := map[string]string{"name": name, "role": role}
	var out staffResponse
	if err := c.do(ctx, http.MethodPost, []string{"api", "staff", tenantID}, body, &out); err != nil {
		return domain.StaffMember{}, err
	}
	if out.Staff == nil {
		return domain.StaffMember{Name: name, Role: role}, nil
	}
	return *out.Staff, nil
}

// UpdateStaff renames a staff member.
func (c *Client) UpdateStaff(ctx context.Context, tenantID, staffID, name string) (domain.StaffMember, error) {
	body := map[string]string{"name": name}
	var out staffResponse
	if err := c.do(ctx, http.MethodPut, []string{"api", "staff", tenantID, staffID}, body, &out); err != nil {
		return domain.StaffMember{}, err
	}
	if out.Staff == nil {
		return domain.StaffMember{ID: staffID, Name: name}, nil
	}
	return *out.Staff, nil
}

// Suggest asks the generative helper for an item proposal.
func (c *Client) Suggest(ctx context.Context, req core.SuggestRequest) (domain.Suggestion, error) {
	body := map[string]string{
		"tenantId": req.TenantID,
		"role":     req.Role,
		"seedText": req.SeedText,
		"style":    req.Style,
	}
	var out struct {
		domain.Suggestion
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, []string{"api", "dify", "generate"}, body, &out); err != nil {
		return domain.Suggestion{}, err
	}
	if out.Error != "" {
		return domain.Suggestion{}, fmt.Errorf("suggest: %s", out.Error)
	}
	return out.Suggestion, nil
}

// LoginResult is the credential issued by Login.
type LoginResult struct {
	Token    string `json:"token"`
	TenantID string `json:"tenantId"`
}

// Login exchanges email and password for a bearer token. Login failures are
// StatusErrors, including 401.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out struct {
		LoginResult
		Error string `json:"error"`
	}
	err := c.do(ctx, http.MethodPost, []string{"auth", "login"}, body, &out)
	if errors.Is(err, core.ErrAuthExpired) {
		return LoginResult{}, &StatusError{Method: http.MethodPost, Path: "/auth/login", Status: http.StatusUnauthorized, Message: "invalid credentials"}
	}
	if err != nil {
		return LoginResult{}, err
	}
	if out.Error != "" {
		return LoginResult{}, fmt.Errorf("login: %s", out.Error)
	}
	if out.Token == "" {
		return LoginResult{}, errors.New("login: response carried no token")
	}
	return out.LoginResult, nil
}

func (c *Client) endpoint(segments []string) (*url.URL, string) {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	rel := "/" + strings.Join(escaped, "/")
	u := *c.base
	u.RawPath = c.base.EscapedPath() + rel
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	return &u, rel
}

func (c *Client) do(ctx context.Context, method string, segments []string, body, out any) error {
	u, rel := c.endpoint(segments)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, rel, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, rel, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, rel, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, rel, err)
	}
	c.logger.Debug("api request", "method", method, "path", rel, "status", resp.StatusCode, "elapsed", time.Since(started))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, rel, core.ErrAuthExpired)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Method: method, Path: rel, Status: resp.StatusCode, Message: errorDetail(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, rel, err)
	}
	return nil
}

func errorDetail(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
