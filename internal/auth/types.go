package auth

import (
	"strings"
	"time"
)

// Role is the tenant-level role carried by a profile.
type Role string

const (
	RoleSiteAdmin Role = "site_admin"
	RoleFirmAdmin Role = "firm_admin"
	RoleUser      Role = "user"
)

// ParseRole normalizes raw and reports whether it names a known role.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.TrimSpace(strings.ToLower(raw))); r {
	case RoleSiteAdmin, RoleFirmAdmin, RoleUser:
		return r, true
	default:
		return "", false
	}
}

// Identity is an authenticated principal issued by the auth provider.
type Identity struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	EmailVerified     bool       `json:"email_verified"`
	LastAuthenticated *time.Time `json:"last_authenticated_at,omitempty"`
	PasswordHash      string     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Profile binds an identity to a role and, usually, a firm.
type Profile struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	FirmID     string    `json:"firm_id,omitempty"`
	Role       Role      `json:"role"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasFirm reports whether the profile references a firm.
func (p *Profile) HasFirm() bool {
	return p != nil && p.FirmID != ""
}

// Address is the optional postal address of a firm.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Firm is a tenant boundary.
type Firm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	Address   Address   `json:"address"`
	LogoURL   string    `json:"logo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invitation is a pending profile; AcceptedAt nil means pending.
type Invitation struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirmID     string     `json:"firm_id"`
	Role       Role       `json:"role"`
	InvitedBy  string     `json:"invited_by"`
	InvitedAt  time.Time  `json:"invited_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Pending reports whether the invitation has not been accepted yet.
func (i Invitation) Pending() bool {
	return i.AcceptedAt == nil
}

// FirmUpdate carries optional firm field changes.
type FirmUpdate struct {
	Name    *string
	Domain  *string
	Address *Address
	LogoURL *string
}

// ProfileFieldsOnly reports whether the update leaves the invitation domain alone.
func (u FirmUpdate) ProfileFieldsOnly() bool {
	return u.Domain == nil
}

// ProfileUpdate carries optional profile field changes. ClearFirm detaches the
// profile from its firm and wins over FirmID.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Role      *Role
	FirmID    *string
	ClearFirm bool
}
