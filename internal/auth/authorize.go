package auth

import "strings"

// Principal is the resolved caller: the identity plus whatever profile and
// firm could be resolved for it. Profile and Firm may be nil.
type Principal struct {
	Identity Identity
	Profile  *Profile
	Firm     *Firm
}

// Authenticated reports whether the principal carries an identity.
func (p Principal) Authenticated() bool {
	return p.Identity.ID != ""
}

// IsSiteAdmin is true iff the principal's profile has the site_admin role.
func (p Principal) IsSiteAdmin() bool { return IsSiteAdmin(p.Profile) }

// IsFirmAdmin is true iff the principal's profile has the firm_admin role.
func (p Principal) IsFirmAdmin() bool { return IsFirmAdmin(p.Profile) }

// FormRef is the part of a form submission the edit predicate looks at.
type FormRef interface {
	SubmitterID() string
	OwningFirmID() string
}

// IsSiteAdmin reports whether p has the site_admin role. Nil profiles have no
// capabilities.
func IsSiteAdmin(p *Profile) bool {
	return p != nil && p.Role == RoleSiteAdmin
}

// IsFirmAdmin reports whether p has the firm_admin role. Site admins are not
// firm admins under this flag; use IsAdmin for "admin or above".
func IsFirmAdmin(p *Profile) bool {
	return p != nil && p.Role == RoleFirmAdmin
}

// IsAdmin reports whether p is a site admin or a firm admin.
func IsAdmin(p *Profile) bool {
	return IsSiteAdmin(p) || IsFirmAdmin(p)
}

// CanAccessFirmResource reports whether p may act on data owned by firmID.
func CanAccessFirmResource(p *Profile, firmID string) bool {
	if p == nil {
		return false
	}
	if IsSiteAdmin(p) {
		return true
	}
	return p.FirmID != "" && p.FirmID == firmID
}

// CanManageFirm reports whether p may administer firmID (members, invitations,
// firm profile).
func CanManageFirm(p *Profile, firmID string) bool {
	if IsSiteAdmin(p) {
		return true
	}
	return IsFirmAdmin(p) && CanAccessFirmResource(p, firmID)
}

// CanEditForm requires ownership and an unchanged firm: a submitter who has
// left the firm loses edit rights on forms filed under it.
func CanEditForm(p *Profile, identityID string, form FormRef) bool {
	if p == nil || form == nil {
		return false
	}
	if IsSiteAdmin(p) {
		return true
	}
	if identityID == "" || p.FirmID == "" {
		return false
	}
	return form.SubmitterID() == identityID && form.OwningFirmID() == p.FirmID
}

// CanViewForm mirrors the read policy, which is the same as the edit policy.
func CanViewForm(p *Profile, identityID string, form FormRef) bool {
	return CanEditForm(p, identityID, form)
}

// CanReadProfile reports whether viewer may read target: self, site admin, or a
// firm admin of the same firm.
func CanReadProfile(viewer, target *Profile) bool {
	if viewer == nil || target == nil {
		return false
	}
	if viewer.ID == target.ID || IsSiteAdmin(viewer) {
		return true
	}
	return IsFirmAdmin(viewer) && viewer.FirmID != "" && viewer.FirmID == target.FirmID
}

// CanInvite reports whether email belongs to the firm's domain. The domain is
// the text after the last '@' and the comparison ignores case.
func CanInvite(email string, firm *Firm) bool {
	if firm == nil {
		return false
	}
	domain := EmailDomain(email)
	want := strings.TrimSpace(firm.Domain)
	if domain == "" || want == "" {
		return false
	}
	return strings.EqualFold(domain, want)
}

// EmailDomain returns the domain part of email, or "" when there is none.
func EmailDomain(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
