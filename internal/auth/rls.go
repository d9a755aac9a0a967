package auth

import (
	"fmt"
	"strings"
)

// SQL fragments for the predicates in authorize.go. The helper functions are
// created by the schema migration and read the identity bound to the database
// session via set_config('lexintake.identity_id', ...).
const (
	sqlCurrentIdentity = "lexintake_current_identity()"
	sqlCurrentRole     = "lexintake_current_role()"
	sqlCurrentFirm     = "lexintake_current_firm()"
	sqlCurrentEmail    = "lexintake_current_email()"
	sqlSignupMode      = "lexintake_signup_mode()"
)

func sqlIsSiteAdmin() string { return sqlCurrentRole + " = '" + string(RoleSiteAdmin) + "'" }
func sqlIsFirmAdmin() string { return sqlCurrentRole + " = '" + string(RoleFirmAdmin) + "'" }

func sqlSameFirm(column string) string { return column + " = " + sqlCurrentFirm }
func sqlSelf(column string) string     { return column + " = " + sqlCurrentIdentity }

func sqlAny(preds ...string) string {
	return "(" + strings.Join(preds, ") or (") + ")"
}

func sqlAll(preds ...string) string {
	return strings.Join(preds, " and ")
}

// RowPolicy is one row-level security policy.
type RowPolicy struct {
	Table     string
	Name      string
	Command   string
	Using     string
	WithCheck string
}

// SQL renders the policy as a single CREATE POLICY statement.
func (p RowPolicy) SQL() string {
	stmt := fmt.Sprintf("create policy %s on %s for %s", p.Name, p.Table, p.Command)
	if p.Using != "" {
		stmt += " using (" + p.Using + ")"
	}
	if p.WithCheck != "" {
		stmt += " with check (" + p.WithCheck + ")"
	}
	return stmt + ";"
}

// RowPolicies returns the database policies that enforce the same predicates as
// CanEditForm, CanAccessFirmResource, CanManageFirm and CanReadProfile, plus
// the signup policies that let a new identity create its profile and claim
// its invitation.
func RowPolicies() []RowPolicy {
	formOwner := sqlAny(sqlIsSiteAdmin(), sqlAll(sqlSelf("submitted_by"), sqlSameFirm("firm_id")))
	firmMember := sqlAny(sqlIsSiteAdmin(), sqlSameFirm("id"))
	firmManager := sqlAny(sqlIsSiteAdmin(), sqlAll(sqlIsFirmAdmin(), sqlSameFirm("id")))
	profileReader := sqlAny(sqlSelf("identity_id"), sqlIsSiteAdmin(), sqlAll(sqlIsFirmAdmin(), sqlSameFirm("firm_id")))
	notSiteAdmin := "role <> '" + string(RoleSiteAdmin) + "'"
	// self edits keep role and firm; firm admins may detach members but never
	// grant site_admin
	profileWriter := sqlAny(
		sqlIsSiteAdmin(),
		sqlAll(sqlIsFirmAdmin(), notSiteAdmin, "(firm_id is null or "+sqlSameFirm("firm_id")+")"),
		sqlAll(sqlSelf("identity_id"), "role = "+sqlCurrentRole, "firm_id is not distinct from "+sqlCurrentFirm),
		sqlAll(sqlSignupMode, sqlSelf("identity_id"), notSiteAdmin),
	)
	profileSignup := sqlAll(sqlSignupMode, sqlSelf("identity_id"))
	inviteManager := sqlAny(sqlIsSiteAdmin(), sqlAll(sqlIsFirmAdmin(), sqlSameFirm("firm_id")))
	inviteClaim := sqlAll(sqlSignupMode, "lower(email) = "+sqlCurrentEmail)

	return []RowPolicy{
		{Table: "form_submissions", Name: "form_submissions_owner", Command: "all", Using: formOwner, WithCheck: formOwner},
		{Table: "firms", Name: "firms_read", Command: "select", Using: firmMember},
		{Table: "firms", Name: "firms_update", Command: "update", Using: firmManager, WithCheck: firmManager},
		{Table: "firms", Name: "firms_insert", Command: "insert", WithCheck: sqlIsSiteAdmin()},
		{Table: "profiles", Name: "profiles_read", Command: "select", Using: profileReader},
		{Table: "profiles", Name: "profiles_insert", Command: "insert", WithCheck: profileSignup},
		{Table: "profiles", Name: "profiles_update", Command: "update", Using: profileReader, WithCheck: profileWriter},
		{Table: "invitations", Name: "invitations_manage", Command: "all", Using: inviteManager, WithCheck: inviteManager},
		{Table: "invitations", Name: "invitations_claim_read", Command: "select", Using: inviteClaim},
		{Table: "invitations", Name: "invitations_claim", Command: "update", Using: inviteClaim, WithCheck: inviteClaim},
	}
}

// PolicyStatements renders RowPolicies, preceded by the statements enabling
// row-level security on each table.
func PolicyStatements() []string {
	policies := RowPolicies()
	var (
		out  []string
		seen = map[string]bool{}
	)
	for _, p := range policies {
		if seen[p.Table] {
			continue
		}
		seen[p.Table] = true
		out = append(out, fmt.Sprintf("alter table %s enable row level security;", p.Table))
	}
	for _, p := range policies {
		out = append(out, p.SQL())
	}
	return out
}
