package pg

import (
	"context"
	"database/sql"
	"time"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/session"
)

var _ session.IdentityStore = (*Store)(nil)

const identityColumns = `id, email, email_verified, password_hash, last_authenticated_at, created_at`

func scanIdentity(row interface{ Scan(...any) error }) (auth.Identity, error) {
	var (
		id   auth.Identity
		last sql.NullTime
	)
	if err := row.Scan(&id.ID, &id.Email, &id.EmailVerified, &id.PasswordHash, &last, &id.CreatedAt); err != nil {
		return auth.Identity{}, err
	}
	id.LastAuthenticated = timePtr(last)
	return id, nil
}

func (s *Store) CreateIdentity(ctx context.Context, identity auth.Identity) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into identities (id, email, email_verified, password_hash, created_at)
		values ($1, $2, $3, $4, now())
		returning `+identityColumns,
		identity.ID, auth.NormalizeEmail(identity.Email), identity.EmailVerified, identity.PasswordHash)
	created, err := scanIdentity(row)
	if err != nil {
		return auth.Identity{}, mapError(err, "identity")
	}
	return created, nil
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where lower(email) = lower($1)`, email)
	identity, err := scanIdentity(row)
	if err != nil {
		return auth.Identity{}, mapError(err, "identity")
	}
	return identity, nil
}

func (s *Store) IdentityByID(ctx context.Context, id string) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id)
	identity, err := scanIdentity(row)
	if err != nil {
		return auth.Identity{}, mapError(err, "identity")
	}
	return identity, nil
}

func (s *Store) SetPassword(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, s.db, `update identities set password_hash = $2 where id = $1`, id, hash)
}

func (s *Store) MarkAuthenticated(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, s.db, `update identities set last_authenticated_at = $2 where id = $1`, id, at.UTC())
}

// execOne runs a statement that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, q querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "row")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
