package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
)

// IdentityStore persists identities and their password hashes.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity auth.Identity) (auth.Identity, error)
	IdentityByEmail(ctx context.Context, email string) (auth.Identity, error)
	IdentityByID(ctx context.Context, id string) (auth.Identity, error)
	SetPassword(ctx context.Context, id, hash string) error
	MarkAuthenticated(ctx context.Context, id string, at time.Time) error
}

// MemoryIdentities is an IdentityStore for development and tests.
type MemoryIdentities struct {
	mu      sync.RWMutex
	byID    map[string]auth.Identity
	byEmail map[string]string
}

// NewMemoryIdentities constructs an empty store.
func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{byID: map[string]auth.Identity{}, byEmail: map[string]string{}}
}

func (m *MemoryIdentities) CreateIdentity(_ context.Context, identity auth.Identity) (auth.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := auth.NormalizeEmail(identity.Email)
	if _, exists := m.byEmail[key]; exists {
		return auth.Identity{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	m.byID[identity.ID] = identity
	m.byEmail[key] = identity.ID
	return identity, nil
}

func (m *MemoryIdentities) IdentityByEmail(_ context.Context, email string) (auth.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return m.byID[id], nil
}

func (m *MemoryIdentities) IdentityByID(_ context.Context, id string) (auth.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.byID[id]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return identity, nil
}

func (m *MemoryIdentities) SetPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	identity.PasswordHash = hash
	m.byID[id] = identity
	return nil
}

func (m *MemoryIdentities) MarkAuthenticated(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	identity.LastAuthenticated = &at
	m.byID[id] = identity
	return nil
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer writes reset links to the log instead of sending mail.
type LogMailer struct {
	Log logrus.FieldLogger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, link string) error {
	if m.Log != nil {
		m.Log.WithFields(logrus.Fields{"email": email, "link": link}).Info("password_reset_link")
	}
	return nil
}
