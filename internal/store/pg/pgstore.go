// Package pg implements the service stores on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lexintake.org/internal/auth"
)

const (
	pgErrInsufficientPrivilege = "42501"
	pgErrUniqueViolation       = "23505"
	pgErrForeignKeyViolation   = "23503"
	pgErrCheckViolation        = "23514"
	pgErrRaiseException        = "P0001"
)

// Store implements the identity, tenancy and form stores.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (tests, shared pools).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// run executes fn on behalf of the identity in ctx. With an identity the work
// happens in a transaction whose lexintake.identity_id setting feeds the row
// policies, plus lexintake.signup for signup completion; without one it runs
// on the pool directly.
func (s *Store) run(ctx context.Context, fn func(q querier) error) error {
	identityID, ok := auth.IdentityIDFromContext(ctx)
	if !ok {
		return fn(s.db)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `select set_config('lexintake.identity_id', $1, true)`, identityID); err != nil {
		return fmt.Errorf("bind identity: %w", err)
	}
	if auth.SignupFromContext(ctx) {
		if _, err := tx.ExecContext(ctx, `select set_config('lexintake.signup', 'on', true)`); err != nil {
			return fmt.Errorf("bind signup: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// mapError translates driver errors into the auth sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrInsufficientPrivilege:
		return fmt.Errorf("%w: %s: %s", auth.ErrAccessDenied, what, pgErr.Message)
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s already exists", auth.ErrConflict, what)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s references a missing row", auth.ErrInvalidInput, what)
	case pgErrCheckViolation, pgErrRaiseException:
		return fmt.Errorf("%w: %s: %s", auth.ErrInvalidInput, what, pgErr.Message)
	default:
		return err
	}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
