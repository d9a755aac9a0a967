package authctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/obs"
)

// DefaultTimeout bounds a single profile or firm lookup.
const DefaultTimeout = 3 * time.Second

// ProfileSource looks up the profile bound to an identity.
type ProfileSource interface {
	ProfileByIdentity(ctx context.Context, identityID string) (auth.Profile, error)
}

// FirmSource looks up a firm by id.
type FirmSource interface {
	FirmByID(ctx context.Context, firmID string) (auth.Firm, error)
}

// bounded runs fn with a deadline. A source that ignores cancellation is
// abandoned when the deadline passes; its late result is dropped.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ProfileResolver fetches exactly one profile per identity.
type ProfileResolver struct {
	source  ProfileSource
	timeout time.Duration
	log     *logrus.Entry
}

// NewProfileResolver builds a resolver. A non-positive timeout uses
// DefaultTimeout.
func NewProfileResolver(source ProfileSource, timeout time.Duration, log *logrus.Entry) *ProfileResolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = obs.Component("profile_resolver")
	}
	return &ProfileResolver{source: source, timeout: timeout, log: log}
}

// Resolve never fails past its boundary: every error becomes an outcome and a
// log line.
func (r *ProfileResolver) Resolve(ctx context.Context, identityID string) ProfileResult {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return ProfileResult{Outcome: OutcomeNotFound}
	}
	profile, err := bounded(ctx, r.timeout, func(ctx context.Context) (auth.Profile, error) {
		return r.source.ProfileByIdentity(ctx, identityID)
	})
	res := ProfileResult{Outcome: classify(err), Err: err}
	if res.Outcome == OutcomeOK {
		res.Profile = &profile
	}
	logOutcome(r.log.WithField("identity_id", identityID), "profile", res.Outcome, err)
	return res
}

// FirmResolver fetches firms through an expiring LRU cache.
type FirmResolver struct {
	source  FirmSource
	timeout time.Duration
	cache   *expirable.LRU[string, auth.Firm]
	log     *logrus.Entry
}

// NewFirmResolver builds a resolver. cacheSize 0 disables caching.
func NewFirmResolver(source FirmSource, timeout time.Duration, cacheSize int, cacheTTL time.Duration, log *logrus.Entry) *FirmResolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = obs.Component("firm_resolver")
	}
	r := &FirmResolver{source: source, timeout: timeout, log: log}
	if cacheSize > 0 {
		r.cache = expirable.NewLRU[string, auth.Firm](cacheSize, nil, cacheTTL)
	}
	return r
}

// Resolve looks up firmID. Only successful lookups are cached.
func (r *FirmResolver) Resolve(ctx context.Context, firmID string) FirmResult {
	firmID = strings.TrimSpace(firmID)
	if firmID == "" {
		return FirmResult{Outcome: OutcomeNone}
	}
	if r.cache != nil {
		if firm, ok := r.cache.Get(firmID); ok {
			return FirmResult{Outcome: OutcomeOK, Firm: &firm}
		}
	}
	firm, err := bounded(ctx, r.timeout, func(ctx context.Context) (auth.Firm, error) {
		return r.source.FirmByID(ctx, firmID)
	})
	res := FirmResult{Outcome: classify(err), Err: err}
	if res.Outcome == OutcomeOK {
		res.Firm = &firm
		if r.cache != nil {
			r.cache.Add(firmID, firm)
		}
	}
	logOutcome(r.log.WithField("firm_id", firmID), "firm", res.Outcome, err)
	return res
}

// Invalidate drops a cached firm after it changes.
func (r *FirmResolver) Invalidate(firmID string) {
	if r.cache != nil {
		r.cache.Remove(firmID)
	}
}

func logOutcome(log *logrus.Entry, resolver string, outcome Outcome, err error) {
	obs.ObserveResolution(resolver, outcome.String())
	switch outcome {
	case OutcomeOK:
	case OutcomeNotFound:
		log.Debug(resolver + " not found")
	case OutcomeDenied:
		log.WithError(err).Warn(resolver + " lookup denied by row policy; check row-level security configuration")
	case OutcomeTimedOut:
		log.Warn(resolver + " lookup timed out")
	default:
		log.WithError(err).Error(resolver + " lookup failed")
	}
}

// Resolution is the profile and firm behind one identity.
type Resolution struct {
	IdentityID string
	Profile    ProfileResult
	Firm       FirmResult
}

// Resolve runs the profile lookup and, for a profile with a firm reference,
// the firm lookup. Server-side authentication and the Auth Context both go
// through here. Lookups run as identityID so row policies see the identity
// being resolved.
func Resolve(ctx context.Context, profiles *ProfileResolver, firms *FirmResolver, identityID string) Resolution {
	ctx = auth.ContextWithIdentity(ctx, identityID)
	res := Resolution{IdentityID: identityID, Profile: profiles.Resolve(ctx, identityID)}
	if res.Profile.Outcome == OutcomeOK && res.Profile.Profile.HasFirm() && firms != nil {
		res.Firm = firms.Resolve(ctx, res.Profile.Profile.FirmID)
		if res.Firm.Outcome == OutcomeNotFound {
			profiles.log.WithFields(logrus.Fields{
				"identity_id": identityID,
				"firm_id":     res.Profile.Profile.FirmID,
			}).Warn("profile references a missing firm; treating as no firm")
		}
	}
	return res
}

// Principal assembles the caller for authorization checks.
func (r Resolution) Principal(identity auth.Identity) auth.Principal {
	return auth.Principal{Identity: identity, Profile: r.Profile.Profile, Firm: r.Firm.Firm}
}

// Err summarizes a lookup failure that is not an absence, for callers that
// must fail closed.
func (r Resolution) Err() error {
	if r.Profile.Outcome == OutcomeFailed {
		return fmt.Errorf("resolve profile: %w", r.Profile.Err)
	}
	return nil
}
