package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/ids"
)

// Options tune a LocalProvider.
type Options struct {
	SessionTTL time.Duration
	ResetTTL   time.Duration
	Mailer     Mailer
	Clock      func() time.Time
	Logger     *logrus.Entry
}

// LocalProvider is a password-based auth provider: identities live in an
// IdentityStore, sessions in Redis and access tokens are signed JWTs naming
// the session record.
type LocalProvider struct {
	dispatcher

	identities IdentityStore
	records    *RedisStore
	signer     *auth.TokenSigner
	mailer     Mailer
	ttl        time.Duration
	resetTTL   time.Duration
	now        func() time.Time
	log        *logrus.Entry
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider wires a provider. Zero options fall back to a one hour
// session, a thirty minute reset window and a LogMailer.
func NewLocalProvider(identities IdentityStore, records *RedisStore, signer *auth.TokenSigner, opts Options) *LocalProvider {
	p := &LocalProvider{
		identities: identities,
		records:    records,
		signer:     signer,
		mailer:     opts.Mailer,
		ttl:        opts.SessionTTL,
		resetTTL:   opts.ResetTTL,
		now:        opts.Clock,
		log:        opts.Logger,
	}
	if p.ttl <= 0 {
		p.ttl = time.Hour
	}
	if p.resetTTL <= 0 {
		p.resetTTL = 30 * time.Minute
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if p.mailer == nil {
		p.mailer = LogMailer{Log: p.log}
	}
	return p
}

// OnAuthStateChange registers handler for every client's events.
func (p *LocalProvider) OnAuthStateChange(handler Handler) Subscription {
	return p.subscribe(handler)
}

// GetSession returns the client's live session, or nil when there is none.
func (p *LocalProvider) GetSession(ctx context.Context, clientID string) (*Session, error) {
	if clientID == "" {
		return nil, nil
	}
	rec, err := p.records.forClient(ctx, clientID)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess, err := p.hydrate(ctx, rec)
	if errors.Is(err, auth.ErrNotFound) {
		// identity deleted underneath the session
		_ = p.records.remove(ctx, rec)
		return nil, nil
	}
	return sess, err
}

// SessionFromToken authenticates a bearer token. Tokens of revoked, refreshed
// or expired sessions are rejected with auth.ErrInvalidToken.
func (p *LocalProvider) SessionFromToken(ctx context.Context, token string) (*Session, error) {
	claims, err := p.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	rec, err := p.records.load(ctx, claims.SessionID)
	if errors.Is(err, ErrNoSession) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if rec.IdentityID != claims.Subject || rec.AccessToken != token {
		return nil, auth.ErrInvalidToken
	}
	sess, err := p.hydrate(ctx, rec)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrInvalidToken
	}
	return sess, err
}

// SignUp registers a new identity and signs the client in.
func (p *LocalProvider) SignUp(ctx context.Context, clientID, email, password string) (*Session, error) {
	email = auth.NormalizeEmail(email)
	if auth.EmailDomain(email) == "" {
		return nil, fmt.Errorf("%w: email address is invalid", auth.ErrInvalidInput)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	identity, err := p.identities.CreateIdentity(ctx, auth.Identity{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    p.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return p.start(ctx, clientID, identity, EventSignedIn)
}

// SignInWithPassword verifies credentials and replaces any session the client
// already holds.
func (p *LocalProvider) SignInWithPassword(ctx context.Context, clientID, email, password string) (*Session, error) {
	identity, err := p.identities.IdentityByEmail(ctx, auth.NormalizeEmail(email))
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(identity.PasswordHash, password); err != nil {
		return nil, err
	}
	return p.start(ctx, clientID, identity, EventSignedIn)
}

// SignOut revokes the client's session. Signing out without a session is not
// an error and still emits SIGNED_OUT.
func (p *LocalProvider) SignOut(ctx context.Context, clientID string) error {
	rec, err := p.records.forClient(ctx, clientID)
	switch {
	case errors.Is(err, ErrNoSession):
	case err != nil:
		return err
	default:
		if err := p.records.remove(ctx, rec); err != nil {
			return err
		}
	}
	p.emit(Event{Kind: EventSignedOut, ClientID: clientID})
	return nil
}

// RefreshSession issues a new access token for the client's session and
// extends its lifetime. The previous token stops working.
func (p *LocalProvider) RefreshSession(ctx context.Context, clientID string) (*Session, error) {
	rec, err := p.records.forClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	identity, err := p.identities.IdentityByID(ctx, rec.IdentityID)
	if err != nil {
		return nil, err
	}
	return p.issue(ctx, rec.SessionID, clientID, identity, EventTokenRefreshed)
}

// ResetPasswordForEmail mails a single-use reset link. Unknown addresses are
// accepted silently so the endpoint does not reveal which emails exist.
func (p *LocalProvider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	identity, err := p.identities.IdentityByEmail(ctx, auth.NormalizeEmail(email))
	if errors.Is(err, auth.ErrNotFound) {
		p.log.WithField("email", email).Debug("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	link, err := url.Parse(strings.TrimSpace(redirectTo))
	if err != nil || link.Scheme == "" || link.Host == "" {
		return fmt.Errorf("%w: redirect url is invalid", auth.ErrInvalidInput)
	}
	token := uuid.NewString()
	if err := p.records.putResetToken(ctx, token, identity.ID, p.resetTTL); err != nil {
		return err
	}
	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()
	return p.mailer.SendPasswordReset(ctx, identity.Email, link.String())
}

// CompletePasswordReset consumes a reset token, stores the new password and
// signs the client in. Subscribers see PASSWORD_RECOVERY then USER_UPDATED.
func (p *LocalProvider) CompletePasswordReset(ctx context.Context, clientID, token, password string) (*Session, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	identityID, err := p.records.takeResetToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if err := p.identities.SetPassword(ctx, identityID, hash); err != nil {
		return nil, err
	}
	identity, err := p.identities.IdentityByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	sess, err := p.start(ctx, clientID, identity, EventPasswordRecovery)
	if err != nil {
		return nil, err
	}
	p.emit(Event{Kind: EventUserUpdated, ClientID: clientID, Session: sess})
	return sess, nil
}

// NotifyUserUpdated re-announces the client's session as USER_UPDATED so
// followers re-resolve the profile, e.g. after signup bound one.
func (p *LocalProvider) NotifyUserUpdated(ctx context.Context, clientID string) error {
	sess, err := p.GetSession(ctx, clientID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNoSession
	}
	p.emit(Event{Kind: EventUserUpdated, ClientID: clientID, Session: sess})
	return nil
}

// NotifyIdentityUpdated announces USER_UPDATED on every client currently
// signed in as identityID, e.g. after its profile or firm membership changed.
func (p *LocalProvider) NotifyIdentityUpdated(ctx context.Context, identityID string) error {
	if identityID == "" {
		return nil
	}
	clients, err := p.records.clientsOf(ctx, identityID)
	if err != nil {
		return err
	}
	for _, clientID := range clients {
		sess, err := p.GetSession(ctx, clientID)
		if err != nil {
			return err
		}
		if sess == nil || sess.Identity.ID != identityID {
			p.records.forgetClient(ctx, identityID, clientID)
			continue
		}
		p.emit(Event{Kind: EventUserUpdated, ClientID: clientID, Session: sess})
	}
	return nil
}

func (p *LocalProvider) start(ctx context.Context, clientID string, identity auth.Identity, kind EventKind) (*Session, error) {
	if clientID != "" {
		if old, err := p.records.forClient(ctx, clientID); err == nil {
			_ = p.records.remove(ctx, old)
		}
	}
	now := p.now().UTC()
	if err := p.identities.MarkAuthenticated(ctx, identity.ID, now); err != nil {
		p.log.WithError(err).WithField("identity_id", identity.ID).Warn("mark authenticated failed")
	} else {
		identity.LastAuthenticated = &now
	}
	return p.issue(ctx, ids.New(), clientID, identity, kind)
}

func (p *LocalProvider) issue(ctx context.Context, sessionID, clientID string, identity auth.Identity, kind EventKind) (*Session, error) {
	token, exp, err := p.signer.Sign(identity.ID, sessionID, clientID, identity.Email, p.ttl)
	if err != nil {
		return nil, err
	}
	rec := record{
		SessionID:   sessionID,
		ClientID:    clientID,
		IdentityID:  identity.ID,
		AccessToken: token,
		IssuedAt:    p.now().UTC(),
		ExpiresAt:   exp,
	}
	if err := p.records.save(ctx, rec, p.ttl); err != nil {
		return nil, err
	}
	sess := newSession(rec, identity)
	p.emit(Event{Kind: kind, ClientID: clientID, Session: sess})
	return sess, nil
}

func (p *LocalProvider) hydrate(ctx context.Context, rec record) (*Session, error) {
	identity, err := p.identities.IdentityByID(ctx, rec.IdentityID)
	if err != nil {
		return nil, err
	}
	return newSession(rec, identity), nil
}

func newSession(rec record, identity auth.Identity) *Session {
	identity.PasswordHash = ""
	return &Session{
		ID:          rec.SessionID,
		ClientID:    rec.ClientID,
		AccessToken: rec.AccessToken,
		Identity:    identity,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
}
