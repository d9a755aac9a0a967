package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/ids"
	"lexintake.org/internal/obs"
)

// Service enforces the access predicates on every tenancy mutation. Callers
// pass the acting principal explicitly.
type Service struct {
	store          Store
	bootstrapEmail string
	onFirmChanged  func(firmID string)
	now            func() time.Time
	log            *logrus.Entry
}

// Option configures Service.
type Option func(*Service)

// WithBootstrapAdmin makes the first signup with email a site admin.
func WithBootstrapAdmin(email string) Option {
	return func(s *Service) { s.bootstrapEmail = auth.NormalizeEmail(email) }
}

// WithFirmChangeHook is called after a firm is updated, e.g. to drop a cached
// copy.
func WithFirmChangeHook(fn func(firmID string)) Option {
	return func(s *Service) { s.onFirmChanged = fn }
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("tenancy store is required")
	}
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   obs.Component("tenancy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FirmInput is the payload for CreateFirm.
type FirmInput struct {
	Name    string
	Domain  string
	Address auth.Address
	LogoURL string
}

// CreateFirm registers a tenant. Site admins only.
func (s *Service) CreateFirm(ctx context.Context, actor auth.Principal, in FirmInput) (auth.Firm, error) {
	if !actor.IsSiteAdmin() {
		return auth.Firm{}, fmt.Errorf("%w: only site admins create firms", auth.ErrForbidden)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return auth.Firm{}, fmt.Errorf("%w: firm name is required", auth.ErrInvalidInput)
	}
	domain, err := normalizeDomain(in.Domain)
	if err != nil {
		return auth.Firm{}, err
	}
	logo, err := normalizeLogoURL(in.LogoURL)
	if err != nil {
		return auth.Firm{}, err
	}
	return s.store.CreateFirm(ctx, auth.Firm{
		ID:      ids.New(),
		Name:    name,
		Domain:  domain,
		Address: trimAddress(in.Address),
		LogoURL: logo,
	})
}

// GetFirm returns a firm the actor may see. Firms outside the actor's reach
// read as not found.
func (s *Service) GetFirm(ctx context.Context, actor auth.Principal, id string) (auth.Firm, error) {
	id = strings.TrimSpace(id)
	if !auth.CanAccessFirmResource(actor.Profile, id) {
		return auth.Firm{}, auth.ErrNotFound
	}
	return s.store.FirmByID(ctx, id)
}

// ListFirms returns every firm to site admins and the actor's own firm to
// everyone else.
func (s *Service) ListFirms(ctx context.Context, actor auth.Principal) ([]auth.Firm, error) {
	if actor.IsSiteAdmin() {
		return s.store.ListFirms(ctx)
	}
	if !actor.Profile.HasFirm() {
		return []auth.Firm{}, nil
	}
	firm, err := s.store.FirmByID(ctx, actor.Profile.FirmID)
	if errors.Is(err, auth.ErrNotFound) {
		return []auth.Firm{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []auth.Firm{firm}, nil
}

// UpdateFirm applies upd. Firm admins may edit their own firm's profile
// fields; only site admins may change the invitation domain.
func (s *Service) UpdateFirm(ctx context.Context, actor auth.Principal, id string, upd auth.FirmUpdate) (auth.Firm, error) {
	id = strings.TrimSpace(id)
	if !auth.CanManageFirm(actor.Profile, id) {
		if auth.CanAccessFirmResource(actor.Profile, id) {
			return auth.Firm{}, fmt.Errorf("%w: firm admin role required", auth.ErrForbidden)
		}
		return auth.Firm{}, auth.ErrNotFound
	}
	if !upd.ProfileFieldsOnly() && !actor.IsSiteAdmin() {
		return auth.Firm{}, fmt.Errorf("%w: only site admins change a firm's domain", auth.ErrForbidden)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return auth.Firm{}, fmt.Errorf("%w: firm name cannot be empty", auth.ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Domain != nil {
		domain, err := normalizeDomain(*upd.Domain)
		if err != nil {
			return auth.Firm{}, err
		}
		upd.Domain = &domain
	}
	if upd.LogoURL != nil {
		logo, err := normalizeLogoURL(*upd.LogoURL)
		if err != nil {
			return auth.Firm{}, err
		}
		upd.LogoURL = &logo
	}
	if upd.Address != nil {
		addr := trimAddress(*upd.Address)
		upd.Address = &addr
	}
	firm, err := s.store.UpdateFirm(ctx, id, upd)
	if err != nil {
		return auth.Firm{}, err
	}
	if s.onFirmChanged != nil {
		s.onFirmChanged(id)
	}
	return firm, nil
}

// ListMembers returns the profiles attached to firmID.
func (s *Service) ListMembers(ctx context.Context, actor auth.Principal, firmID string) ([]auth.Profile, error) {
	if err := s.requireManager(actor, firmID); err != nil {
		return nil, err
	}
	return s.store.ListProfilesByFirm(ctx, firmID)
}

// RemoveMember detaches a profile from firmID and demotes it to user. Their
// submitted forms stay with the firm and the owner loses edit rights.
func (s *Service) RemoveMember(ctx context.Context, actor auth.Principal, firmID, profileID string) (auth.Profile, error) {
	target, err := s.member(ctx, actor, firmID, profileID)
	if err != nil {
		return auth.Profile{}, err
	}
	if auth.IsSiteAdmin(&target) && !actor.IsSiteAdmin() {
		return auth.Profile{}, fmt.Errorf("%w: cannot remove a site admin", auth.ErrForbidden)
	}
	role := auth.RoleUser
	if auth.IsSiteAdmin(&target) {
		role = auth.RoleSiteAdmin
	}
	return s.store.UpdateProfile(ctx, target.ID, auth.ProfileUpdate{ClearFirm: true, Role: &role})
}

// SetMemberRole changes a member's role. Granting site_admin requires a site
// admin.
func (s *Service) SetMemberRole(ctx context.Context, actor auth.Principal, firmID, profileID, rawRole string) (auth.Profile, error) {
	role, ok := auth.ParseRole(rawRole)
	if !ok {
		return auth.Profile{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, rawRole)
	}
	target, err := s.member(ctx, actor, firmID, profileID)
	if err != nil {
		return auth.Profile{}, err
	}
	if !actor.IsSiteAdmin() && (role == auth.RoleSiteAdmin || auth.IsSiteAdmin(&target)) {
		return auth.Profile{}, fmt.Errorf("%w: site admin role is managed by site admins", auth.ErrForbidden)
	}
	return s.store.UpdateProfile(ctx, target.ID, auth.ProfileUpdate{Role: &role})
}

func (s *Service) member(ctx context.Context, actor auth.Principal, firmID, profileID string) (auth.Profile, error) {
	if err := s.requireManager(actor, firmID); err != nil {
		return auth.Profile{}, err
	}
	target, err := s.store.ProfileByID(ctx, strings.TrimSpace(profileID))
	if err != nil {
		return auth.Profile{}, err
	}
	if target.FirmID != firmID {
		return auth.Profile{}, auth.ErrNotFound
	}
	return target, nil
}

func (s *Service) requireManager(actor auth.Principal, firmID string) error {
	if auth.CanManageFirm(actor.Profile, firmID) {
		return nil
	}
	if auth.CanAccessFirmResource(actor.Profile, firmID) {
		return fmt.Errorf("%w: firm admin role required", auth.ErrForbidden)
	}
	return auth.ErrNotFound
}

// GetProfile returns a profile the actor may read.
func (s *Service) GetProfile(ctx context.Context, actor auth.Principal, id string) (auth.Profile, error) {
	target, err := s.store.ProfileByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return auth.Profile{}, err
	}
	if !auth.CanReadProfile(actor.Profile, &target) {
		return auth.Profile{}, auth.ErrNotFound
	}
	return target, nil
}

// UpdateOwnProfile edits the actor's name fields.
func (s *Service) UpdateOwnProfile(ctx context.Context, actor auth.Principal, firstName, lastName *string) (auth.Profile, error) {
	if actor.Profile == nil {
		return auth.Profile{}, fmt.Errorf("%w: no profile for this identity", auth.ErrNotFound)
	}
	var upd auth.ProfileUpdate
	if firstName != nil {
		v := strings.TrimSpace(*firstName)
		upd.FirstName = &v
	}
	if lastName != nil {
		v := strings.TrimSpace(*lastName)
		if v == "" {
			return auth.Profile{}, fmt.Errorf("%w: last name cannot be empty", auth.ErrInvalidInput)
		}
		upd.LastName = &v
	}
	return s.store.UpdateProfile(ctx, actor.Profile.ID, upd)
}

// Invite records a pending invitation. The email's domain must match the
// firm's domain.
func (s *Service) Invite(ctx context.Context, actor auth.Principal, firmID, email, rawRole string) (auth.Invitation, error) {
	if err := s.requireManager(actor, firmID); err != nil {
		return auth.Invitation{}, err
	}
	role := auth.RoleUser
	if strings.TrimSpace(rawRole) != "" {
		parsed, ok := auth.ParseRole(rawRole)
		if !ok || parsed == auth.RoleSiteAdmin {
			return auth.Invitation{}, fmt.Errorf("%w: invitations grant user or firm_admin", auth.ErrInvalidInput)
		}
		role = parsed
	}
	firm, err := s.store.FirmByID(ctx, firmID)
	if err != nil {
		return auth.Invitation{}, err
	}
	email = auth.NormalizeEmail(email)
	if !auth.CanInvite(email, &firm) {
		return auth.Invitation{}, fmt.Errorf("%w: %s is not an address at %s", auth.ErrInvalidInput, email, firm.Domain)
	}
	return s.store.CreateInvitation(ctx, auth.Invitation{
		ID:        ids.New(),
		Email:     email,
		FirmID:    firm.ID,
		Role:      role,
		InvitedBy: actor.Identity.ID,
	})
}

// ListInvitations returns every invitation of firmID, accepted ones included.
func (s *Service) ListInvitations(ctx context.Context, actor auth.Principal, firmID string) ([]auth.Invitation, error) {
	if err := s.requireManager(actor, firmID); err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, firmID)
}

// ProfileFor returns the identity's profile, or nil when it has none.
func (s *Service) ProfileFor(ctx context.Context, identityID string) (*auth.Profile, error) {
	p, err := s.store.ProfileByIdentity(auth.ContextWithIdentity(ctx, identityID), identityID)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CompleteSignup binds a freshly authenticated identity to a profile. An
// existing profile is returned as is, except that a firm-less profile picks up
// a pending invitation. The bootstrap email becomes a site admin. Without an
// invitation the identity stays profile-less and nil is returned. The store
// calls run as the new identity under the signup row policies.
func (s *Service) CompleteSignup(ctx context.Context, identity auth.Identity) (*auth.Profile, error) {
	if identity.ID == "" {
		return nil, fmt.Errorf("%w: identity is required", auth.ErrInvalidInput)
	}
	ctx = auth.ContextForSignup(auth.ContextWithIdentity(ctx, identity.ID))
	log := s.log.WithField("identity_id", identity.ID)

	existing, err := s.store.ProfileByIdentity(ctx, identity.ID)
	switch {
	case err == nil:
		if existing.HasFirm() || auth.IsSiteAdmin(&existing) {
			return &existing, nil
		}
	case !errors.Is(err, auth.ErrNotFound):
		return nil, err
	}
	profileExists := err == nil

	if !profileExists && s.bootstrapEmail != "" && auth.NormalizeEmail(identity.Email) == s.bootstrapEmail {
		p, err := s.store.CreateProfile(ctx, auth.Profile{ID: ids.New(), IdentityID: identity.ID, Role: auth.RoleSiteAdmin})
		if err != nil {
			return nil, err
		}
		log.Info("bootstrap site admin created")
		return &p, nil
	}

	inv, err := s.store.PendingInvitationForEmail(ctx, identity.Email)
	if errors.Is(err, auth.ErrNotFound) {
		if profileExists {
			return &existing, nil
		}
		log.Debug("no invitation; profile setup incomplete")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p auth.Profile
	if profileExists {
		p, err = s.store.UpdateProfile(ctx, existing.ID, auth.ProfileUpdate{FirmID: &inv.FirmID, Role: &inv.Role})
	} else {
		p, err = s.store.CreateProfile(ctx, auth.Profile{ID: ids.New(), IdentityID: identity.ID, FirmID: inv.FirmID, Role: inv.Role})
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.AcceptInvitation(ctx, inv.ID, s.now()); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"firm_id": inv.FirmID, "role": inv.Role}).Info("invitation accepted")
	return &p, nil
}

func normalizeDomain(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if domain == "" || strings.ContainsAny(domain, "@/ ") || !strings.Contains(domain, ".") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("%w: %q is not a valid email domain", auth.ErrInvalidInput, raw)
	}
	return domain, nil
}

func normalizeLogoURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%w: logo url must be an absolute http(s) url", auth.ErrInvalidInput)
	}
	return u.String(), nil
}

func trimAddress(a auth.Address) auth.Address {
	return auth.Address{
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
	}
}
