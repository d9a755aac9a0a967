// Package session tracks authentication sessions per client and notifies
// subscribers of provider-pushed transitions.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"lexintake.org/internal/auth"
)

// ErrNoSession reports that a client has no live session.
var ErrNoSession = errors.New("session: no active session")

// EventKind names the provider transition that produced an Event.
type EventKind string

const (
	EventInitialSession   EventKind = "INITIAL_SESSION"
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventUserUpdated      EventKind = "USER_UPDATED"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
)

// Session is a live authentication session for one client.
type Session struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"client_id"`
	AccessToken string        `json:"access_token"`
	Identity    auth.Identity `json:"identity"`
	IssuedAt    time.Time     `json:"issued_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Event is one provider transition. Session is nil after sign-out.
type Event struct {
	Kind     EventKind
	ClientID string
	Session  *Session
}

// Handler receives events synchronously, in emission order. Handlers must not
// block or call back into the provider.
type Handler func(Event)

// Subscription detaches a handler registered with OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Provider is the auth provider contract the core depends on.
type Provider interface {
	GetSession(ctx context.Context, clientID string) (*Session, error)
	OnAuthStateChange(handler Handler) Subscription
	SignInWithPassword(ctx context.Context, clientID, email, password string) (*Session, error)
	SignOut(ctx context.Context, clientID string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}

// dispatcher fans events out to registered handlers. Emission is serialized so
// every handler observes events in the same order.
type dispatcher struct {
	mu       sync.RWMutex
	emitMu   sync.Mutex
	nextID   uint64
	handlers map[uint64]Handler
}

func (d *dispatcher) subscribe(h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[uint64]Handler)
	}
	d.nextID++
	id := d.nextID
	d.handlers[id] = h
	return &subscription{fn: func() {
		d.mu.Lock()
		delete(d.handlers, id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) emit(ev Event) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.RLock()
	ids := make([]uint64, 0, len(d.handlers))
	for id := range d.handlers {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	slices.Sort(ids)
	for _, id := range ids {
		d.mu.RLock()
		h, ok := d.handlers[id]
		d.mu.RUnlock()
		if ok {
			h(ev)
		}
	}
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.fn)
}
