package tenancy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lexintake.org/internal/auth"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	firms       map[string]auth.Firm
	profiles    map[string]auth.Profile
	byIdentity  map[string]string
	invitations []auth.Invitation
	now         func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		firms:      make(map[string]auth.Firm),
		profiles:   make(map[string]auth.Profile),
		byIdentity: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) CreateFirm(_ context.Context, firm auth.Firm) (auth.Firm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.firms[firm.ID]; ok {
		return auth.Firm{}, fmt.Errorf("%w: firm id exists", auth.ErrConflict)
	}
	if s.domainTakenLocked(firm.Domain, "") {
		return auth.Firm{}, fmt.Errorf("%w: domain already registered", auth.ErrConflict)
	}
	now := s.now()
	firm.CreatedAt, firm.UpdatedAt = now, now
	s.firms[firm.ID] = firm
	return firm, nil
}

func (s *InMemory) domainTakenLocked(domain, exceptID string) bool {
	for id, f := range s.firms {
		if id != exceptID && auth.NormalizeEmail(f.Domain) == auth.NormalizeEmail(domain) {
			return true
		}
	}
	return false
}

func (s *InMemory) FirmByID(_ context.Context, id string) (auth.Firm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.firms[id]
	if !ok {
		return auth.Firm{}, auth.ErrNotFound
	}
	return f, nil
}

func (s *InMemory) ListFirms(_ context.Context) ([]auth.Firm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Firm, 0, len(s.firms))
	for _, f := range s.firms {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateFirm(_ context.Context, id string, upd auth.FirmUpdate) (auth.Firm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.firms[id]
	if !ok {
		return auth.Firm{}, auth.ErrNotFound
	}
	if upd.Domain != nil {
		if s.domainTakenLocked(*upd.Domain, id) {
			return auth.Firm{}, fmt.Errorf("%w: domain already registered", auth.ErrConflict)
		}
		f.Domain = *upd.Domain
	}
	if upd.Name != nil {
		f.Name = *upd.Name
	}
	if upd.Address != nil {
		f.Address = *upd.Address
	}
	if upd.LogoURL != nil {
		f.LogoURL = *upd.LogoURL
	}
	f.UpdatedAt = s.now()
	s.firms[id] = f
	return f, nil
}

func (s *InMemory) CreateProfile(_ context.Context, p auth.Profile) (auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIdentity[p.IdentityID]; ok {
		return auth.Profile{}, fmt.Errorf("%w: identity already has a profile", auth.ErrConflict)
	}
	if p.FirmID != "" {
		if _, ok := s.firms[p.FirmID]; !ok {
			return auth.Profile{}, fmt.Errorf("%w: unknown firm", auth.ErrInvalidInput)
		}
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.profiles[p.ID] = p
	s.byIdentity[p.IdentityID] = p.ID
	return p, nil
}

func (s *InMemory) ProfileByID(_ context.Context, id string) (auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *InMemory) ProfileByIdentity(_ context.Context, identityID string) (auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentity[identityID]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return s.profiles[id], nil
}

func (s *InMemory) ListProfilesByFirm(_ context.Context, firmID string) ([]auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []auth.Profile{}
	for _, p := range s.profiles {
		if p.FirmID == firmID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemory) UpdateProfile(_ context.Context, id string, upd auth.ProfileUpdate) (auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
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
		if _, ok := s.firms[*upd.FirmID]; !ok {
			return auth.Profile{}, fmt.Errorf("%w: unknown firm", auth.ErrInvalidInput)
		}
		p.FirmID = *upd.FirmID
	}
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	return p, nil
}

func (s *InMemory) CreateInvitation(_ context.Context, inv auth.Invitation) (auth.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.firms[inv.FirmID]; !ok {
		return auth.Invitation{}, fmt.Errorf("%w: unknown firm", auth.ErrInvalidInput)
	}
	for _, existing := range s.invitations {
		if existing.Pending() && existing.FirmID == inv.FirmID && auth.NormalizeEmail(existing.Email) == auth.NormalizeEmail(inv.Email) {
			return auth.Invitation{}, fmt.Errorf("%w: invitation already pending", auth.ErrConflict)
		}
	}
	inv.InvitedAt = s.now()
	s.invitations = append(s.invitations, inv)
	return inv, nil
}

func (s *InMemory) ListInvitations(_ context.Context, firmID string) ([]auth.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []auth.Invitation{}
	for _, inv := range s.invitations {
		if inv.FirmID == firmID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// PendingInvitationForEmail returns the oldest pending invitation for email.
func (s *InMemory) PendingInvitationForEmail(_ context.Context, email string) (auth.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invitations {
		if inv.Pending() && auth.NormalizeEmail(inv.Email) == auth.NormalizeEmail(email) {
			return inv, nil
		}
	}
	return auth.Invitation{}, auth.ErrNotFound
}

func (s *InMemory) AcceptInvitation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invitations {
		if s.invitations[i].ID != id {
			continue
		}
		if !s.invitations[i].Pending() {
			return fmt.Errorf("%w: invitation already accepted", auth.ErrConflict)
		}
		at = at.UTC()
		s.invitations[i].AcceptedAt = &at
		return nil
	}
	return auth.ErrNotFound
}
