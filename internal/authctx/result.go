// Package authctx resolves the profile and firm behind a session and exposes
// the resulting access state to consumers.
package authctx

import (
	"context"
	"errors"
	"fmt"

	"lexintake.org/internal/auth"
)

// Outcome tags how a resolution ended.
type Outcome int

const (
	// OutcomeNone means the resolver was not run.
	OutcomeNone Outcome = iota
	OutcomeOK
	OutcomeNotFound
	OutcomeDenied
	OutcomeTimedOut
	OutcomeFailed
)

var outcomeNames = map[Outcome]string{
	OutcomeNone:     "none",
	OutcomeOK:       "ok",
	OutcomeNotFound: "not_found",
	OutcomeDenied:   "denied",
	OutcomeTimedOut: "timed_out",
	OutcomeFailed:   "failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the outcome name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (o *Outcome) UnmarshalText(text []byte) error {
	for k, name := range outcomeNames {
		if name == string(text) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("authctx: unknown outcome %q", text)
}

// Absent reports whether the outcome reads as "no row" to consumers.
func (o Outcome) Absent() bool {
	return o == OutcomeNotFound || o == OutcomeDenied || o == OutcomeTimedOut
}

// ProfileResult is the tagged result of a profile lookup.
type ProfileResult struct {
	Outcome Outcome
	Profile *auth.Profile
	Err     error
}

// FirmResult is the tagged result of a firm lookup.
type FirmResult struct {
	Outcome Outcome
	Firm    *auth.Firm
	Err     error
}

// classify maps a source error onto an outcome.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, auth.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, auth.ErrAccessDenied):
		return OutcomeDenied
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimedOut
	default:
		return OutcomeFailed
	}
}
