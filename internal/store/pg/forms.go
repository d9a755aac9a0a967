package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/forms"
)

var _ forms.Store = (*Store)(nil)

const submissionColumns = `id, kind, submitted_by, firm_id, status, version, payload, created_at, updated_at, submitted_at`

func scanSubmission(row interface{ Scan(...any) error }) (forms.Submission, error) {
	var (
		sub         forms.Submission
		kind        string
		status      string
		payload     []byte
		submittedAt sql.NullTime
	)
	if err := row.Scan(&sub.ID, &kind, &sub.SubmittedBy, &sub.FirmID, &status, &sub.Version, &payload,
		&sub.CreatedAt, &sub.UpdatedAt, &submittedAt); err != nil {
		return forms.Submission{}, err
	}
	sub.Kind = forms.Kind(kind)
	sub.Status = forms.Status(status)
	sub.Payload = payload
	sub.SubmittedAt = timePtr(submittedAt)
	return sub, nil
}

func (s *Store) Create(ctx context.Context, sub forms.Submission) (forms.Submission, error) {
	var created forms.Submission
	err := s.run(ctx, func(q querier) error {
		var err error
		created, err = scanSubmission(q.QueryRowContext(ctx, `
			insert into form_submissions (id, kind, submitted_by, firm_id, status, version, payload, submitted_at)
			values ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
			returning `+submissionColumns,
			sub.ID, string(sub.Kind), sub.SubmittedBy, sub.FirmID, string(sub.Status), sub.Version, []byte(sub.Payload),
			nullTime(sub.SubmittedAt)))
		return err
	})
	if err != nil {
		return forms.Submission{}, mapError(err, "submission")
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (forms.Submission, error) {
	var sub forms.Submission
	err := s.run(ctx, func(q querier) error {
		var err error
		sub, err = scanSubmission(q.QueryRowContext(ctx, `select `+submissionColumns+` from form_submissions where id = $1`, id))
		return err
	})
	if err != nil {
		return forms.Submission{}, mapError(err, "submission")
	}
	return sub, nil
}

func (s *Store) List(ctx context.Context, f forms.Filter) ([]forms.Submission, error) {
	var (
		conds []string
		args  []any
	)
	where := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	where("kind", string(f.Kind))
	where("firm_id", f.FirmID)
	where("submitted_by", f.SubmittedBy)

	query := `select ` + submissionColumns + ` from form_submissions`
	if len(conds) > 0 {
		query += ` where ` + strings.Join(conds, " and ")
	}
	query += ` order by created_at desc, id desc`

	out := []forms.Submission{}
	err := s.run(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			sub, err := scanSubmission(rows)
			if err != nil {
				return err
			}
			out = append(out, sub)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err, "submissions")
	}
	return out, nil
}

// Update writes sub only when the stored version still equals
// expectedVersion. A miss is told apart as conflict or not found by a
// follow-up lookup in the same transaction.
func (s *Store) Update(ctx context.Context, sub forms.Submission, expectedVersion int) (forms.Submission, error) {
	var updated forms.Submission
	err := s.run(ctx, func(q querier) error {
		var err error
		updated, err = scanSubmission(q.QueryRowContext(ctx, `
			update form_submissions
			set kind = $3, status = $4, version = $5, payload = $6::jsonb, submitted_at = $7, firm_id = $8, updated_at = now()
			where id = $1 and version = $2
			returning `+submissionColumns,
			sub.ID, expectedVersion, string(sub.Kind), string(sub.Status), sub.Version, []byte(sub.Payload),
			nullTime(sub.SubmittedAt), sub.FirmID))
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var current int
		if err := q.QueryRowContext(ctx, `select version from form_submissions where id = $1`, sub.ID).Scan(&current); err != nil {
			return err
		}
		return fmt.Errorf("%w: version is %d, expected %d", auth.ErrConflict, current, expectedVersion)
	})
	if err != nil {
		return forms.Submission{}, mapError(err, "submission")
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.run(ctx, func(q querier) error {
		return s.execOne(ctx, q, `delete from form_submissions where id = $1`, id)
	})
}
