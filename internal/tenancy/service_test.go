package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"lexintake.org/internal/auth"
)

type fixture struct {
	svc      *Service
	store    *InMemory
	site     auth.Principal
	firm     auth.Firm
	admin    auth.Principal
	user     auth.Principal
	outsider auth.Principal
	changed  []string
}

func principal(identityID string, p auth.Profile) auth.Principal {
	return auth.Principal{Identity: auth.Identity{ID: identityID}, Profile: &p}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: NewInMemory()}
	svc, err := NewService(f.store,
		WithBootstrapAdmin("Root@Example.com"),
		WithFirmChangeHook(func(id string) { f.changed = append(f.changed, id) }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	f.site = principal("id-site", auth.Profile{ID: "p-site", IdentityID: "id-site", Role: auth.RoleSiteAdmin})

	f.firm, err = svc.CreateFirm(ctx, f.site, FirmInput{Name: "Law Firm One", Domain: " LawFirm1.com "})
	if err != nil {
		t.Fatalf("CreateFirm: %v", err)
	}
	other, err := svc.CreateFirm(ctx, f.site, FirmInput{Name: "Other", Domain: "other.com"})
	if err != nil {
		t.Fatalf("CreateFirm: %v", err)
	}

	mk := func(id, identity, firm string, role auth.Role, last string) auth.Principal {
		p, err := f.store.CreateProfile(ctx, auth.Profile{ID: id, IdentityID: identity, FirmID: firm, Role: role, LastName: last})
		if err != nil {
			t.Fatalf("CreateProfile: %v", err)
		}
		return principal(identity, p)
	}
	f.admin = mk("p-admin", "id-admin", f.firm.ID, auth.RoleFirmAdmin, "Admin")
	f.user = mk("p-user", "id-user", f.firm.ID, auth.RoleUser, "User")
	f.outsider = mk("p-out", "id-out", other.ID, auth.RoleFirmAdmin, "Out")
	return f
}

func TestCreateFirmRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if f.firm.Domain != "lawfirm1.com" {
		t.Fatalf("domain not normalized: %q", f.firm.Domain)
	}
	if _, err := f.svc.CreateFirm(ctx, f.admin, FirmInput{Name: "X", Domain: "x.com"}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("firm admin created a firm: %v", err)
	}
	if _, err := f.svc.CreateFirm(ctx, f.site, FirmInput{Name: "Dup", Domain: "LAWFIRM1.COM"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected domain conflict, got %v", err)
	}
	if _, err := f.svc.CreateFirm(ctx, f.site, FirmInput{Name: "Bad", Domain: "user@x.com"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid domain, got %v", err)
	}
}

func TestFirmVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GetFirm(ctx, f.user, f.firm.ID); err != nil {
		t.Fatalf("member must see own firm: %v", err)
	}
	if _, err := f.svc.GetFirm(ctx, f.outsider, f.firm.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("outsider must not see firm: %v", err)
	}
	all, _ := f.svc.ListFirms(ctx, f.site)
	own, _ := f.svc.ListFirms(ctx, f.user)
	if len(all) != 2 || len(own) != 1 || own[0].ID != f.firm.ID {
		t.Fatalf("unexpected listings: all=%d own=%v", len(all), own)
	}
	none, _ := f.svc.ListFirms(ctx, principal("x", auth.Profile{ID: "x", Role: auth.RoleUser}))
	if len(none) != 0 {
		t.Fatalf("firm-less profile must see no firms")
	}
}

func TestUpdateFirmPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := "Renamed"
	if _, err := f.svc.UpdateFirm(ctx, f.admin, f.firm.ID, auth.FirmUpdate{Name: &name}); err != nil {
		t.Fatalf("firm admin rename: %v", err)
	}
	if len(f.changed) != 1 || f.changed[0] != f.firm.ID {
		t.Fatalf("change hook not called: %v", f.changed)
	}
	domain := "new.com"
	if _, err := f.svc.UpdateFirm(ctx, f.admin, f.firm.ID, auth.FirmUpdate{Domain: &domain}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("firm admin changed domain: %v", err)
	}
	if _, err := f.svc.UpdateFirm(ctx, f.user, f.firm.ID, auth.FirmUpdate{Name: &name}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("user edited firm: %v", err)
	}
	if _, err := f.svc.UpdateFirm(ctx, f.outsider, f.firm.ID, auth.FirmUpdate{Name: &name}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("outsider edited firm: %v", err)
	}
	updated, err := f.svc.UpdateFirm(ctx, f.site, f.firm.ID, auth.FirmUpdate{Domain: &domain})
	if err != nil || updated.Domain != "new.com" || updated.Name != "Renamed" {
		t.Fatalf("site admin domain change: %+v %v", updated, err)
	}
}

func TestInviteDomainGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, err := f.svc.Invite(ctx, f.admin, f.firm.ID, "New.Hire@LawFirm1.com", "")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if inv.Email != "new.hire@lawfirm1.com" || inv.Role != auth.RoleUser || inv.InvitedBy != "id-admin" {
		t.Fatalf("unexpected invitation: %+v", inv)
	}
	if _, err := f.svc.Invite(ctx, f.admin, f.firm.ID, "new.hire@lawfirm1.com", "user"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate pending invitation: %v", err)
	}
	if _, err := f.svc.Invite(ctx, f.admin, f.firm.ID, "someone@gmail.com", "user"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("foreign domain invited: %v", err)
	}
	if _, err := f.svc.Invite(ctx, f.admin, f.firm.ID, "boss@lawfirm1.com", "site_admin"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("site admin invited: %v", err)
	}
	if _, err := f.svc.Invite(ctx, f.user, f.firm.ID, "x@lawfirm1.com", "user"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("plain user invited: %v", err)
	}
	list, err := f.svc.ListInvitations(ctx, f.site, f.firm.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListInvitations: %v %v", list, err)
	}
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invs, err := f.svc.ListInvitations(ctx, f.admin, f.firm.ID)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	raw, err := json.Marshal(invs)
	if err != nil || string(raw) != "[]" {
		t.Fatalf("empty invitations encoded as %s (%v)", raw, err)
	}
	members, err := f.store.ListProfilesByFirm(ctx, "no-such-firm")
	if err != nil {
		t.Fatalf("ListProfilesByFirm: %v", err)
	}
	if raw, _ := json.Marshal(members); string(raw) != "[]" {
		t.Fatalf("empty members encoded as %s", raw)
	}
}

func TestCompleteSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CompleteSignup(ctx, auth.Identity{ID: "id-root", Email: "root@example.com"})
	if err != nil || p == nil || p.Role != auth.RoleSiteAdmin || p.HasFirm() {
		t.Fatalf("bootstrap admin: %+v %v", p, err)
	}

	p, err = f.svc.CompleteSignup(ctx, auth.Identity{ID: "id-new", Email: "new@lawfirm1.com"})
	if err != nil || p != nil {
		t.Fatalf("uninvited identity must stay profile-less: %+v %v", p, err)
	}

	if _, err := f.svc.Invite(ctx, f.admin, f.firm.ID, "New@lawfirm1.com", "firm_admin"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	p, err = f.svc.CompleteSignup(ctx, auth.Identity{ID: "id-new", Email: "new@LAWFIRM1.com"})
	if err != nil || p == nil || p.FirmID != f.firm.ID || p.Role != auth.RoleFirmAdmin {
		t.Fatalf("invited identity: %+v %v", p, err)
	}
	list, _ := f.store.ListInvitations(ctx, f.firm.ID)
	if len(list) != 1 || list[0].Pending() {
		t.Fatalf("invitation not accepted: %+v", list)
	}

	again, err := f.svc.CompleteSignup(ctx, auth.Identity{ID: "id-new", Email: "new@lawfirm1.com"})
	if err != nil || again.ID != p.ID {
		t.Fatalf("second completion must return the existing profile: %+v %v", again, err)
	}
}

func TestRemovedMemberRejoinsThroughInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	removed, err := f.svc.RemoveMember(ctx, f.admin, f.firm.ID, "p-user")
	if err != nil || removed.HasFirm() || removed.Role != auth.RoleUser {
		t.Fatalf("RemoveMember: %+v %v", removed, err)
	}
	if _, err := f.svc.Invite(ctx, f.admin, f.firm.ID, "user@lawfirm1.com", "user"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	p, err := f.svc.CompleteSignup(ctx, auth.Identity{ID: "id-user", Email: "user@lawfirm1.com"})
	if err != nil || p == nil || p.ID != "p-user" || p.FirmID != f.firm.ID {
		t.Fatalf("rejoin: %+v %v", p, err)
	}
}

func TestMemberRoleManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	members, err := f.svc.ListMembers(ctx, f.admin, f.firm.ID)
	if err != nil || len(members) != 2 {
		t.Fatalf("ListMembers: %v %v", members, err)
	}
	if _, err := f.svc.ListMembers(ctx, f.outsider, f.firm.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("outsider listed members: %v", err)
	}
	if _, err := f.svc.SetMemberRole(ctx, f.admin, f.firm.ID, "p-user", "site_admin"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("firm admin granted site admin: %v", err)
	}
	promoted, err := f.svc.SetMemberRole(ctx, f.admin, f.firm.ID, "p-user", "FIRM_ADMIN")
	if err != nil || promoted.Role != auth.RoleFirmAdmin {
		t.Fatalf("promote: %+v %v", promoted, err)
	}
	if _, err := f.svc.SetMemberRole(ctx, f.admin, f.firm.ID, "p-out", "user"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("changed a member of another firm: %v", err)
	}
	if _, err := f.svc.SetMemberRole(ctx, f.admin, f.firm.ID, "p-user", "owner"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unknown role accepted: %v", err)
	}
}

func TestProfileAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GetProfile(ctx, f.admin, "p-user"); err != nil {
		t.Fatalf("firm admin reads member: %v", err)
	}
	if _, err := f.svc.GetProfile(ctx, f.user, "p-admin"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("user read admin profile: %v", err)
	}
	if _, err := f.svc.GetProfile(ctx, f.outsider, "p-user"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("outsider read profile: %v", err)
	}
	first, last := " Jane ", " Doe "
	p, err := f.svc.UpdateOwnProfile(ctx, f.user, &first, &last)
	if err != nil || p.FirstName != "Jane" || p.LastName != "Doe" || p.Role != auth.RoleUser {
		t.Fatalf("UpdateOwnProfile: %+v %v", p, err)
	}
	empty := " "
	if _, err := f.svc.UpdateOwnProfile(ctx, f.user, nil, &empty); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("empty last name accepted: %v", err)
	}
	if _, err := f.svc.UpdateOwnProfile(ctx, auth.Principal{Identity: auth.Identity{ID: "x"}}, &first, nil); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("profile-less update: %v", err)
	}
}
