// Package session persists the caller-owned login state (bearer token, tenant,
// selected role) between CLI invocations.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"evalgrid/internal/infra/persistence/memory"
	"evalgrid/internal/infra/persistence/postgres"
	"evalgrid/internal/infra/persistence/redis"
	"evalgrid/internal/infra/persistence/sqlite"
)

// Bucket is the state bucket holding the session payload.
const Bucket = "session"

// ErrNoToken is returned by Credentials.Token when nobody is logged in.
var ErrNoToken = errors.New("session: not logged in")

// Session is the persisted login state.
type Session struct {
	Token    string    `json:"token,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	Role     string    `json:"role,omitempty"`
	Email    string    `json:"email,omitempty"`
	SavedAt  time.Time `json:"saved_at"`
}

// LoggedIn reports whether s carries a token.
func (s Session) LoggedIn() bool { return s.Token != "" }

// StateStore is the bucket/payload contract every persistence driver meets.
type StateStore interface {
	Load(ctx context.Context, bucket string) ([]byte, bool, error)
	Save(ctx context.Context, bucket string, payload []byte) error
	Delete(ctx context.Context, bucket string) error
	Close() error
}

// Driver names a persistence backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
)

// ParseDriver validates a driver name; empty selects sqlite.
func ParseDriver(name string) (Driver, error) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(name))); d {
	case "":
		return DriverSQLite, nil
	case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis:
		return d, nil
	default:
		return "", fmt.Errorf("unknown session driver %q", name)
	}
}

// Config selects and configures the session driver.
type Config struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
	RedisURL    string
	TTL         time.Duration
}

// Store reads and writes the Session.
type Store struct {
	state StateStore
	now   func() time.Time
}

// Open constructs the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := ParseDriver(string(cfg.Driver))
	if err != nil {
		return nil, err
	}
	var state StateStore
	switch driver {
	case DriverMemory:
		state = memory.NewStore()
	case DriverSQLite:
		s, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		state = s
	case DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		state = s
	case DriverRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis url required for session driver redis")
		}
		s, err := redis.NewStore(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, err
		}
		state = s
	}
	return New(state), nil
}

// New wraps an already open StateStore.
func New(state StateStore) *Store {
	return &Store{state: state, now: func() time.Time { return time.Now().UTC() }}
}

// Load returns the stored session, or the zero Session when none is saved.
func (s *Store) Load(ctx context.Context) (Session, error) {
	payload, ok, err := s.state.Load(ctx, Bucket)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok || len(payload) == 0 {
		return Session{}, nil
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Save stores sess, stamping SavedAt.
func (s *Store) Save(ctx context.Context, sess Session) error {
	sess.SavedAt = s.now()
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.state.Save(ctx, Bucket, payload); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Update loads the session, applies fn and saves the result.
func (s *Store) Update(ctx context.Context, fn func(*Session)) (Session, error) {
	sess, err := s.Load(ctx)
	if err != nil {
		return Session{}, err
	}
	fn(&sess)
	if err := s.Save(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Clear removes the session entirely.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.state.Delete(ctx, Bucket); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close releases the driver.
func (s *Store) Close() error { return s.state.Close() }

// Credentials exposes the stored token to the API client and lets the engine
// drop it after an authentication failure.
type Credentials struct {
	store *Store
}

// NewCredentials wraps store.
func NewCredentials(store *Store) *Credentials {
	return &Credentials{store: store}
}

// Token returns the stored bearer token.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	sess, err := c.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if !sess.LoggedIn() {
		return "", ErrNoToken
	}
	return sess.Token, nil
}

// Invalidate clears the token and keeps tenant and role.
func (c *Credentials) Invalidate(ctx context.Context) error {
	_, err := c.store.Update(ctx, func(s *Session) { s.Token = "" })
	return err
}
