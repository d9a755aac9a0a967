package forms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"lexintake.org/internal/auth"
)

func actor(identityID, firmID string, role auth.Role, lastName string) auth.Principal {
	return auth.Principal{
		Identity: auth.Identity{ID: identityID},
		Profile:  &auth.Profile{ID: "p-" + identityID, IdentityID: identityID, FirmID: firmID, Role: role, LastName: lastName},
	}
}

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestFirmScopedVisibility(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	alice := actor("alice", "F1", auth.RoleUser, "Smith")
	bob := actor("bob", "F2", auth.RoleUser, "Jones")
	site := actor("root", "", auth.RoleSiteAdmin, "Admin")

	sub, err := svc.Create(ctx, alice, KindPersonalInjury, json.RawMessage(`{"injury":"back"}`), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.FirmID != "F1" || sub.SubmittedBy != "alice" || sub.Status != StatusSubmitted || sub.Version != 1 {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	bobs, err := svc.List(ctx, bob, ListOptions{})
	if err != nil || len(bobs) != 0 {
		t.Fatalf("other firm saw the submission: %v %v", bobs, err)
	}
	if _, err := svc.Get(ctx, bob, sub.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("other firm fetched the submission: %v", err)
	}

	all, err := svc.List(ctx, site, ListOptions{})
	if err != nil || len(all) != 1 || all[0].ID != sub.ID {
		t.Fatalf("site admin must see the submission: %v %v", all, err)
	}
	filtered, _ := svc.List(ctx, site, ListOptions{FirmID: "F2"})
	if len(filtered) != 0 {
		t.Fatalf("firm filter ignored: %v", filtered)
	}
	own, _ := svc.List(ctx, alice, ListOptions{Kind: KindPersonalInjury})
	if len(own) != 1 {
		t.Fatalf("owner must see own submission: %v", own)
	}
}

func TestSameFirmColleagueCannotSeeForm(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	alice := actor("alice", "F1", auth.RoleUser, "Smith")
	admin := actor("carol", "F1", auth.RoleFirmAdmin, "Brown")

	sub, err := svc.Create(ctx, alice, KindWrongfulDeath, nil, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if string(sub.Payload) != "{}" {
		t.Fatalf("empty payload not normalized: %s", sub.Payload)
	}
	if _, err := svc.Get(ctx, admin, sub.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("firm admin is not the owner: %v", err)
	}
}

func TestCreateRequiresFirm(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, actor("x", "", auth.RoleUser, "X"), KindPersonalInjury, nil, false); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("firm-less profile filed a form: %v", err)
	}
	if _, err := svc.Create(ctx, auth.Principal{}, KindPersonalInjury, nil, false); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("anonymous filed a form: %v", err)
	}
	if _, err := svc.Create(ctx, actor("a", "F1", auth.RoleUser, "A"), Kind("divorce"), nil, false); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unknown kind accepted: %v", err)
	}
	if _, err := svc.Create(ctx, actor("a", "F1", auth.RoleUser, "A"), KindPersonalInjury, json.RawMessage(`[1]`), false); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("non-object payload accepted: %v", err)
	}
}

func TestCreateStoresCanonicalKind(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	alice := actor("alice", "F1", auth.RoleUser, "Smith")

	sub, err := svc.Create(ctx, alice, Kind(" Personal-Injury "), nil, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.Kind != KindPersonalInjury {
		t.Fatalf("kind stored as %q", sub.Kind)
	}
	filtered, err := svc.List(ctx, alice, ListOptions{Kind: KindPersonalInjury})
	if err != nil || len(filtered) != 1 {
		t.Fatalf("kind filter missed the submission: %v %v", filtered, err)
	}
}

func TestVersioningAndOptimisticConcurrency(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	alice := actor("alice", "F1", auth.RoleUser, "Smith")

	sub, _ := svc.Create(ctx, alice, KindWrongfulTermination, json.RawMessage(`{"a":1}`), false)
	draft, err := svc.Update(ctx, alice, sub.ID, json.RawMessage(`{"a":2}`), 1)
	if err != nil || draft.Version != 1 {
		t.Fatalf("draft edits keep the version: %+v %v", draft, err)
	}
	submitted, err := svc.Submit(ctx, alice, sub.ID)
	if err != nil || submitted.Status != StatusSubmitted || submitted.SubmittedAt == nil {
		t.Fatalf("Submit: %+v %v", submitted, err)
	}
	if _, err := svc.Submit(ctx, alice, sub.ID); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("double submit: %v", err)
	}
	edited, err := svc.Update(ctx, alice, sub.ID, json.RawMessage(`{"a":3}`), 1)
	if err != nil || edited.Version != 2 {
		t.Fatalf("post-submission edit must bump version: %+v %v", edited, err)
	}
	if _, err := svc.Update(ctx, alice, sub.ID, json.RawMessage(`{"a":4}`), 1); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("stale version accepted: %v", err)
	}
	if again, err := svc.Update(ctx, alice, sub.ID, json.RawMessage(`{"a":5}`), 0); err != nil || again.Version != 3 {
		t.Fatalf("unguarded edit: %+v %v", again, err)
	}
}

func TestOwnerLosesEditRightsAfterLeavingFirm(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	alice := actor("alice", "F1", auth.RoleUser, "Smith")
	sub, _ := svc.Create(ctx, alice, KindPersonalInjury, nil, true)

	moved := actor("alice", "F2", auth.RoleUser, "Smith")
	if _, err := svc.Update(ctx, moved, sub.ID, json.RawMessage(`{}`), 0); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("owner in another firm edited the form: %v", err)
	}
	site := actor("root", "", auth.RoleSiteAdmin, "Admin")
	if _, err := svc.Update(ctx, site, sub.ID, json.RawMessage(`{"note":"fixed"}`), 0); err != nil {
		t.Fatalf("site admin edit: %v", err)
	}
}

func TestDeleteRequiresOwnerConfirmation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	alice := actor("alice", "F1", auth.RoleUser, "Smith")
	site := actor("root", "", auth.RoleSiteAdmin, "Admin")
	sub, _ := svc.Create(ctx, alice, KindPersonalInjury, nil, false)

	if err := svc.Delete(ctx, site, sub.ID, "Admin"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("site admin deleted someone else's form: %v", err)
	}
	if err := svc.Delete(ctx, alice, sub.ID, "Smyth"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("wrong confirmation accepted: %v", err)
	}
	if err := svc.Delete(ctx, alice, sub.ID, "  smith "); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, alice, sub.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("deleted form still readable: %v", err)
	}
}
