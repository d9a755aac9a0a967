package session

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Store tracks the live session of one client.
type Store struct {
	provider Provider
	clientID string
	log      *logrus.Entry
}

// NewStore binds a Store to clientID.
func NewStore(provider Provider, clientID string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{provider: provider, clientID: clientID, log: log.WithField("client_id", clientID)}
}

// ClientID returns the client the store is bound to.
func (s *Store) ClientID() string { return s.clientID }

// Initial queries the provider once. Provider errors are logged and read as
// "no session".
func (s *Store) Initial(ctx context.Context) *Session {
	sess, err := s.provider.GetSession(ctx, s.clientID)
	if err != nil {
		s.log.WithError(err).Warn("initial session fetch failed; treating as signed out")
		return nil
	}
	return sess
}

// OnChange forwards this client's provider events to handler until the
// returned function is called.
func (s *Store) OnChange(handler Handler) (unsubscribe func()) {
	sub := s.provider.OnAuthStateChange(func(ev Event) {
		if ev.ClientID == s.clientID {
			handler(ev)
		}
	})
	return sub.Unsubscribe
}
