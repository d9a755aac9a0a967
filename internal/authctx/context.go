package authctx

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/session"
)

// State is the Auth Context lifecycle state.
type State string

const (
	StateInitializing     State = "initializing"
	StateUnauthenticated  State = "unauthenticated"
	StateNoProfile        State = "authenticated_no_profile"
	StateWithProfile      State = "authenticated_with_profile"
	StateResolutionFailed State = "resolution_failed"
)

// Snapshot is an immutable view of the Auth Context. Only StateInitializing
// requires consumers to wait; every other state has deterministic flags.
type Snapshot struct {
	State          State             `json:"state"`
	Event          session.EventKind `json:"event,omitempty"`
	Session        *session.Session  `json:"-"`
	Identity       *auth.Identity    `json:"identity,omitempty"`
	Profile        *auth.Profile     `json:"profile,omitempty"`
	Firm           *auth.Firm        `json:"firm,omitempty"`
	ProfileOutcome Outcome           `json:"profile_outcome"`
	FirmOutcome    Outcome           `json:"firm_outcome"`
	IsSiteAdmin    bool              `json:"is_site_admin"`
	IsFirmAdmin    bool              `json:"is_firm_admin"`
	Version        uint64            `json:"version"`
}

// Principal returns the caller described by the snapshot.
func (s Snapshot) Principal() auth.Principal {
	p := auth.Principal{Profile: s.Profile, Firm: s.Firm}
	if s.Identity != nil {
		p.Identity = *s.Identity
	}
	return p
}

// SessionSource is the per-client session store the context follows.
type SessionSource interface {
	Initial(ctx context.Context) *session.Session
	OnChange(handler session.Handler) (unsubscribe func())
}

var (
	ErrAlreadyStarted = errors.New("authctx: already started")
	ErrClosed         = errors.New("authctx: closed")
)

// Context composes a session source with the profile and firm resolvers.
// Every session transition and every refresh takes a sequence number; a
// resolution is committed only while its sequence is the latest and its
// identity is still the live session's identity.
type Context struct {
	sessions SessionSource
	profiles *ProfileResolver
	firms    *FirmResolver
	log      *logrus.Entry

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	snap        Snapshot
	live        *session.Session
	seq         uint64
	version     uint64
	pending     int
	changed     chan struct{}
	subs        map[uint64]chan Snapshot
	nextSub     uint64
	unsubscribe func()
	started     bool
	closed      bool
}

// Option configures a Context.
type Option func(*Context)

// WithLogger overrides the component logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Context) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds an Auth Context in StateInitializing. Call Start to begin
// following the session source and Close to tear it down.
func New(sessions SessionSource, profiles *ProfileResolver, firms *FirmResolver, opts ...Option) *Context {
	bg, cancel := context.WithCancel(context.Background())
	c := &Context{
		sessions: sessions,
		profiles: profiles,
		firms:    firms,
		log:      obs.Component("auth_context"),
		bg:       bg,
		cancel:   cancel,
		snap:     Snapshot{State: StateInitializing},
		changed:  make(chan struct{}),
		subs:     make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to session changes and then fetches the initial session.
// An event that arrives while the initial fetch is in flight supersedes it.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.pending++
	seq := c.seq
	c.mu.Unlock()

	unsubscribe := c.sessions.OnChange(c.handleEvent)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	initial := c.sessions.Initial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if c.closed {
		return ErrClosed
	}
	if c.seq != seq {
		c.log.Debug("initial session superseded by a provider event")
		c.notifyLocked()
		return nil
	}
	c.transitionLocked(session.EventInitialSession, initial)
	return nil
}

func (c *Context) handleEvent(ev session.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.log.WithField("event", ev.Kind).Debug("session event")
	c.transitionLocked(ev.Kind, ev.Session)
}

// transitionLocked applies a session change. A nil session moves straight to
// StateUnauthenticated; a new identity goes back to StateInitializing so no
// stale profile stays visible; the same identity keeps its snapshot while it
// is re-resolved.
func (c *Context) transitionLocked(kind session.EventKind, sess *session.Session) {
	c.seq++
	prev := c.live
	c.live = sess

	if sess == nil {
		c.publishLocked(Snapshot{State: StateUnauthenticated, Event: kind})
		return
	}

	identity := sess.Identity
	next := c.snap
	if prev == nil || prev.Identity.ID != identity.ID || c.snap.State == StateUnauthenticated {
		next = Snapshot{State: StateInitializing, Identity: &identity}
	}
	next.Event = kind
	next.Session = sess
	c.publishLocked(next)
	c.launchLocked(c.seq, identity.ID)
}

func (c *Context) launchLocked(seq uint64, identityID string) {
	c.pending++
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := Resolve(c.bg, c.profiles, c.firms, identityID)
		c.commit(seq, res)
	}()
}

// commit applies res unless a newer transition or a different identity has
// taken over since it was launched.
func (c *Context) commit(seq uint64, res Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if c.closed {
		return false
	}
	if seq != c.seq || c.live == nil || c.live.Identity.ID != res.IdentityID {
		obs.ObserveStaleResolution()
		c.log.WithFields(logrus.Fields{
			"identity_id": res.IdentityID,
			"seq":         seq,
			"latest_seq":  c.seq,
		}).Debug("discarding stale resolution")
		c.notifyLocked()
		return false
	}

	next := SnapshotFor(c.live, res)
	next.Event = c.snap.Event
	c.publishLocked(next)
	return true
}

// SnapshotFor is the settled view of res for sess. A nil session is
// StateUnauthenticated.
func SnapshotFor(sess *session.Session, res Resolution) Snapshot {
	if sess == nil {
		return Snapshot{State: StateUnauthenticated}
	}
	identity := sess.Identity
	next := Snapshot{
		Session:        sess,
		Identity:       &identity,
		ProfileOutcome: res.Profile.Outcome,
		FirmOutcome:    res.Firm.Outcome,
	}
	switch {
	case res.Profile.Outcome == OutcomeOK:
		next.State = StateWithProfile
		next.Profile = res.Profile.Profile
		next.Firm = res.Firm.Firm
	case res.Profile.Outcome.Absent():
		next.State = StateNoProfile
	default:
		next.State = StateResolutionFailed
	}
	next.IsSiteAdmin = auth.IsSiteAdmin(next.Profile)
	next.IsFirmAdmin = auth.IsFirmAdmin(next.Profile)
	return next
}

// RefreshProfile re-runs resolution for the live identity without touching
// the session and waits for the result. The lookup runs under the context's
// own lifetime: a caller that stops waiting gets ctx's error and the
// resolution still commits, unless the session changes meanwhile.
func (c *Context) RefreshProfile(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.live == nil {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.seq++
	c.launchLocked(c.seq, c.live.Identity.ID)
	c.mu.Unlock()

	return c.Settled(ctx)
}

// Snapshot returns the current view.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Settled waits until no resolution is in flight and the state is no longer
// StateInitializing.
func (c *Context) Settled(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		if c.closed {
			snap := c.snap
			c.mu.Unlock()
			return snap, ErrClosed
		}
		if c.started && c.pending == 0 && c.snap.State != StateInitializing {
			snap := c.snap
			c.mu.Unlock()
			return snap, nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Subscribe streams snapshots until ctx ends or the context closes. The
// current snapshot is delivered first; a slow reader only sees the latest.
func (c *Context) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.nextSub++
	id := c.nextSub
	c.subs[id] = ch
	ch <- c.snap
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.bg.Done():
		}
		c.mu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.mu.Unlock()
	}()
	return ch
}

// Close detaches from the session source, closes subscribers and waits for
// in-flight resolutions to return.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.notifyLocked()
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Context) publishLocked(next Snapshot) {
	c.version++
	next.Version = c.version
	if next.State != c.snap.State {
		obs.ObserveTransition(string(next.State))
	}
	c.snap = next
	for _, ch := range c.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
	c.notifyLocked()
}

func (c *Context) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
