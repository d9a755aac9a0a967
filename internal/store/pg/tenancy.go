package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/tenancy"
)

var _ tenancy.Store = (*Store)(nil)

const firmColumns = `id, name, domain, address_line1, address_line2, city, state, postal_code, logo_url, created_at, updated_at`

func scanFirm(row interface{ Scan(...any) error }) (auth.Firm, error) {
	var f auth.Firm
	err := row.Scan(&f.ID, &f.Name, &f.Domain,
		&f.Address.Line1, &f.Address.Line2, &f.Address.City, &f.Address.State, &f.Address.PostalCode,
		&f.LogoURL, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func (s *Store) CreateFirm(ctx context.Context, firm auth.Firm) (auth.Firm, error) {
	var created auth.Firm
	err := s.run(ctx, func(q querier) error {
		var err error
		created, err = scanFirm(q.QueryRowContext(ctx, `
			insert into firms (id, name, domain, address_line1, address_line2, city, state, postal_code, logo_url)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			returning `+firmColumns,
			firm.ID, firm.Name, firm.Domain,
			firm.Address.Line1, firm.Address.Line2, firm.Address.City, firm.Address.State, firm.Address.PostalCode,
			firm.LogoURL))
		return err
	})
	if err != nil {
		return auth.Firm{}, mapError(err, "firm domain")
	}
	return created, nil
}

func (s *Store) FirmByID(ctx context.Context, id string) (auth.Firm, error) {
	var firm auth.Firm
	err := s.run(ctx, func(q querier) error {
		var err error
		firm, err = scanFirm(q.QueryRowContext(ctx, `select `+firmColumns+` from firms where id = $1`, id))
		return err
	})
	if err != nil {
		return auth.Firm{}, mapError(err, "firm")
	}
	return firm, nil
}

func (s *Store) ListFirms(ctx context.Context) ([]auth.Firm, error) {
	firms := []auth.Firm{}
	err := s.run(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, `select `+firmColumns+` from firms order by name asc`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f, err := scanFirm(rows)
			if err != nil {
				return err
			}
			firms = append(firms, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err, "firms")
	}
	return firms, nil
}

func (s *Store) UpdateFirm(ctx context.Context, id string, upd auth.FirmUpdate) (auth.Firm, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Domain != nil {
		add("domain", *upd.Domain)
	}
	if upd.Address != nil {
		add("address_line1", upd.Address.Line1)
		add("address_line2", upd.Address.Line2)
		add("city", upd.Address.City)
		add("state", upd.Address.State)
		add("postal_code", upd.Address.PostalCode)
	}
	if upd.LogoURL != nil {
		add("logo_url", *upd.LogoURL)
	}
	if len(sets) == 0 {
		return s.FirmByID(ctx, id)
	}
	sets = append(sets, "updated_at = now()")

	var firm auth.Firm
	err := s.run(ctx, func(q querier) error {
		var err error
		firm, err = scanFirm(q.QueryRowContext(ctx,
			`update firms set `+strings.Join(sets, ", ")+` where id = $1 returning `+firmColumns, args...))
		return err
	})
	if err != nil {
		return auth.Firm{}, mapError(err, "firm domain")
	}
	return firm, nil
}

const profileColumns = `id, identity_id, firm_id, role, first_name, last_name, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (auth.Profile, error) {
	var (
		p      auth.Profile
		firmID sql.NullString
		role   string
	)
	if err := row.Scan(&p.ID, &p.IdentityID, &firmID, &role, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Profile{}, err
	}
	p.FirmID = firmID.String
	p.Role = auth.Role(role)
	return p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p auth.Profile) (auth.Profile, error) {
	var created auth.Profile
	err := s.run(ctx, func(q querier) error {
		var err error
		created, err = scanProfile(q.QueryRowContext(ctx, `
			insert into profiles (id, identity_id, firm_id, role, first_name, last_name)
			values ($1, $2, $3, $4, $5, $6)
			returning `+profileColumns,
			p.ID, p.IdentityID, nullIfEmpty(p.FirmID), string(p.Role), p.FirstName, p.LastName))
		return err
	})
	if err != nil {
		return auth.Profile{}, mapError(err, "profile")
	}
	return created, nil
}

func (s *Store) ProfileByID(ctx context.Context, id string) (auth.Profile, error) {
	return s.profileWhere(ctx, `id = $1`, id)
}

func (s *Store) ProfileByIdentity(ctx context.Context, identityID string) (auth.Profile, error) {
	return s.profileWhere(ctx, `identity_id = $1`, identityID)
}

func (s *Store) profileWhere(ctx context.Context, cond string, arg string) (auth.Profile, error) {
	var p auth.Profile
	err := s.run(ctx, func(q querier) error {
		var err error
		p, err = scanProfile(q.QueryRowContext(ctx, `select `+profileColumns+` from profiles where `+cond, arg))
		return err
	})
	if err != nil {
		return auth.Profile{}, mapError(err, "profile")
	}
	return p, nil
}

func (s *Store) ListProfilesByFirm(ctx context.Context, firmID string) ([]auth.Profile, error) {
	out := []auth.Profile{}
	err := s.run(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, `select `+profileColumns+` from profiles where firm_id = $1 order by last_name, id`, firmID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err, "profiles")
	}
	return out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd auth.ProfileUpdate) (auth.Profile, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.FirstName != nil {
		add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		add("last_name", *upd.LastName)
	}
	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	switch {
	case upd.ClearFirm:
		sets = append(sets, "firm_id = null")
	case upd.FirmID != nil:
		add("firm_id", *upd.FirmID)
	}
	if len(sets) == 0 {
		return s.ProfileByID(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	stmt := `update profiles set ` + strings.Join(sets, ", ") + ` where id = $1`

	var p auth.Profile
	err := s.run(ctx, func(q querier) error {
		if !upd.ClearFirm {
			var err error
			p, err = scanProfile(q.QueryRowContext(ctx, stmt+` returning `+profileColumns, args...))
			return err
		}
		// a firm admin cannot read a detached profile back, so no returning
		cur, err := scanProfile(q.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id = $1`, id))
		if err != nil {
			return err
		}
		if err := s.execOne(ctx, q, stmt, args...); err != nil {
			return err
		}
		p = applyProfileUpdate(cur, upd)
		return nil
	})
	if err != nil {
		return auth.Profile{}, mapError(err, "profile")
	}
	return p, nil
}

func applyProfileUpdate(p auth.Profile, upd auth.ProfileUpdate) auth.Profile {
	if upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		p.LastName = *upd.LastName
	}
	if upd.Role != nil {
		p.Role = *upd.Role
	}
	switch {
	case upd.ClearFirm:
		p.FirmID = ""
	case upd.FirmID != nil:
		p.FirmID = *upd.FirmID
	}
	p.UpdatedAt = time.Now().UTC()
	return p
}

const invitationColumns = `id, email, firm_id, role, invited_by, invited_at, accepted_at`

func scanInvitation(row interface{ Scan(...any) error }) (auth.Invitation, error) {
	var (
		inv      auth.Invitation
		role     string
		accepted sql.NullTime
	)
	if err := row.Scan(&inv.ID, &inv.Email, &inv.FirmID, &role, &inv.InvitedBy, &inv.InvitedAt, &accepted); err != nil {
		return auth.Invitation{}, err
	}
	inv.Role = auth.Role(role)
	inv.AcceptedAt = timePtr(accepted)
	return inv, nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv auth.Invitation) (auth.Invitation, error) {
	var created auth.Invitation
	err := s.run(ctx, func(q querier) error {
		var err error
		created, err = scanInvitation(q.QueryRowContext(ctx, `
			insert into invitations (id, email, firm_id, role, invited_by)
			values ($1, $2, $3, $4, $5)
			returning `+invitationColumns,
			inv.ID, inv.Email, inv.FirmID, string(inv.Role), inv.InvitedBy))
		return err
	})
	if err != nil {
		return auth.Invitation{}, mapError(err, "pending invitation")
	}
	return created, nil
}

func (s *Store) ListInvitations(ctx context.Context, firmID string) ([]auth.Invitation, error) {
	out := []auth.Invitation{}
	err := s.run(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, `select `+invitationColumns+` from invitations where firm_id = $1 order by invited_at asc`, firmID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			inv, err := scanInvitation(rows)
			if err != nil {
				return err
			}
			out = append(out, inv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err, "invitations")
	}
	return out, nil
}

// PendingInvitationForEmail is visible to the invitee only under the signup
// policy: ctx must carry auth.ContextForSignup and the invitee's identity.
func (s *Store) PendingInvitationForEmail(ctx context.Context, email string) (auth.Invitation, error) {
	var inv auth.Invitation
	err := s.run(ctx, func(q querier) error {
		var err error
		inv, err = scanInvitation(q.QueryRowContext(ctx, `
			select `+invitationColumns+` from invitations
			where lower(email) = lower($1) and accepted_at is null
			order by invited_at asc
			limit 1`, email))
		return err
	})
	if err != nil {
		return auth.Invitation{}, mapError(err, "invitation")
	}
	return inv, nil
}

func (s *Store) AcceptInvitation(ctx context.Context, id string, at time.Time) error {
	err := s.run(ctx, func(q querier) error {
		return s.execOne(ctx, q, `update invitations set accepted_at = $2 where id = $1 and accepted_at is null`, id, at.UTC())
	})
	if errors.Is(err, auth.ErrNotFound) {
		return fmt.Errorf("%w: invitation is not pending", auth.ErrConflict)
	}
	return err
}
