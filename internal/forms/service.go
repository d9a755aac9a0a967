package forms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/ids"
	"lexintake.org/internal/obs"
)

// Service authorizes every submission operation with the same predicates the
// row policies encode.
type Service struct {
	store Store
	now   func() time.Time
	log   *logrus.Entry
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("forms store is required")
	}
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   obs.Component("forms"),
	}, nil
}

// Create files a new submission under the actor's firm. With submit the form
// skips the draft state.
func (s *Service) Create(ctx context.Context, actor auth.Principal, kind Kind, payload json.RawMessage, submit bool) (Submission, error) {
	if !actor.Authenticated() {
		return Submission{}, auth.ErrUnauthorized
	}
	if !actor.Profile.HasFirm() {
		return Submission{}, fmt.Errorf("%w: a firm membership is required to file forms", auth.ErrForbidden)
	}
	parsed, ok := ParseKind(string(kind))
	if !ok {
		return Submission{}, fmt.Errorf("%w: unknown form kind %q", auth.ErrInvalidInput, kind)
	}
	payload, err := normalizePayload(payload)
	if err != nil {
		return Submission{}, err
	}
	sub := Submission{
		ID:          ids.New(),
		Kind:        parsed,
		SubmittedBy: actor.Identity.ID,
		FirmID:      actor.Profile.FirmID,
		Status:      StatusDraft,
		Version:     1,
		Payload:     payload,
	}
	if submit {
		at := s.now()
		sub.Status = StatusSubmitted
		sub.SubmittedAt = &at
	}
	return s.store.Create(ctx, sub)
}

// Get returns a submission the actor may view. Invisible rows read as not
// found, the same way the row policy hides them.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (Submission, error) {
	sub, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Submission{}, err
	}
	if !auth.CanViewForm(actor.Profile, actor.Identity.ID, sub) {
		return Submission{}, auth.ErrNotFound
	}
	return sub, nil
}

// ListOptions narrows List. FirmID is honored for site admins only.
type ListOptions struct {
	Kind   Kind
	FirmID string
}

// List returns the submissions visible to actor.
func (s *Service) List(ctx context.Context, actor auth.Principal, opts ListOptions) ([]Submission, error) {
	if opts.Kind != "" {
		if _, ok := ParseKind(string(opts.Kind)); !ok {
			return nil, fmt.Errorf("%w: unknown form kind %q", auth.ErrInvalidInput, opts.Kind)
		}
	}
	filter := Filter{Kind: opts.Kind}
	switch {
	case actor.IsSiteAdmin():
		filter.FirmID = strings.TrimSpace(opts.FirmID)
	case actor.Profile.HasFirm() && actor.Identity.ID != "":
		filter.FirmID = actor.Profile.FirmID
		filter.SubmittedBy = actor.Identity.ID
	default:
		return []Submission{}, nil
	}
	subs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	visible := subs[:0]
	for _, sub := range subs {
		if auth.CanViewForm(actor.Profile, actor.Identity.ID, sub) {
			visible = append(visible, sub)
		}
	}
	return visible, nil
}

// Update replaces the payload. expectedVersion guards against lost updates;
// a submitted form's version increments with every edit.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, payload json.RawMessage, expectedVersion int) (Submission, error) {
	sub, err := s.editable(ctx, actor, id)
	if err != nil {
		return Submission{}, err
	}
	payload, err = normalizePayload(payload)
	if err != nil {
		return Submission{}, err
	}
	if expectedVersion != 0 && expectedVersion != sub.Version {
		return Submission{}, fmt.Errorf("%w: version is %d, expected %d", auth.ErrConflict, sub.Version, expectedVersion)
	}
	current := sub.Version
	sub.Payload = payload
	if sub.Status == StatusSubmitted {
		sub.Version++
	}
	return s.store.Update(ctx, sub, current)
}

// Submit moves a draft to submitted. Submitting twice is a conflict.
func (s *Service) Submit(ctx context.Context, actor auth.Principal, id string) (Submission, error) {
	sub, err := s.editable(ctx, actor, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Status == StatusSubmitted {
		return Submission{}, fmt.Errorf("%w: form already submitted", auth.ErrConflict)
	}
	at := s.now()
	sub.Status = StatusSubmitted
	sub.SubmittedAt = &at
	return s.store.Update(ctx, sub, sub.Version)
}

// Delete removes a submission. Only its owner may delete it, and only by
// typing their own last name as confirmation.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id, confirmation string) error {
	sub, err := s.editable(ctx, actor, id)
	if err != nil {
		return err
	}
	if sub.SubmittedBy != actor.Identity.ID {
		return fmt.Errorf("%w: only the submitter can delete a form", auth.ErrForbidden)
	}
	want := strings.TrimSpace(actor.Profile.LastName)
	if want == "" || !strings.EqualFold(strings.TrimSpace(confirmation), want) {
		return fmt.Errorf("%w: confirmation does not match the owner's last name", auth.ErrInvalidInput)
	}
	if err := s.store.Delete(ctx, sub.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"form_id": sub.ID, "identity_id": actor.Identity.ID}).Info("form deleted")
	return nil
}

// editable loads a submission and applies the edit predicate. Forms the actor
// cannot edit read as not found.
func (s *Service) editable(ctx context.Context, actor auth.Principal, id string) (Submission, error) {
	sub, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Submission{}, err
	}
	if !auth.CanEditForm(actor.Profile, actor.Identity.ID, sub) {
		return Submission{}, auth.ErrNotFound
	}
	return sub, nil
}

func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: payload must be a JSON object", auth.ErrInvalidInput)
	}
	return json.RawMessage(bytes.Clone(trimmed)), nil
}
