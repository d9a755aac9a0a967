// Package forms implements the intake form lifecycle with per-submission
// authorization.
package forms

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind is one of the supported intake forms.
type Kind string

const (
	KindPersonalInjury      Kind = "personal_injury"
	KindWrongfulDeath       Kind = "wrongful_death"
	KindWrongfulTermination Kind = "wrongful_termination"
)

// Kinds lists every supported form kind.
func Kinds() []Kind {
	return []Kind{KindPersonalInjury, KindWrongfulDeath, KindWrongfulTermination}
}

// ParseKind accepts snake_case or kebab-case names.
func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range Kinds() {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Status is the submission lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
)

// Submission is one intake form. FirmID is copied from the submitter's profile
// at creation and never changes.
type Submission struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	SubmittedBy string          `json:"submitted_by"`
	FirmID      string          `json:"firm_id"`
	Status      Status          `json:"status"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
}

func (s Submission) SubmitterID() string  { return s.SubmittedBy }
func (s Submission) OwningFirmID() string { return s.FirmID }

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Kind        Kind
	FirmID      string
	SubmittedBy string
}

func (f Filter) match(s Submission) bool {
	return (f.Kind == "" || s.Kind == f.Kind) &&
		(f.FirmID == "" || s.FirmID == f.FirmID) &&
		(f.SubmittedBy == "" || s.SubmittedBy == f.SubmittedBy)
}
