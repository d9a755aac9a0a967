package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/tenancy"
)

type firmRequest struct {
	Name    string       `json:"name"`
	Domain  string       `json:"domain"`
	Address auth.Address `json:"address"`
	LogoURL string       `json:"logo_url"`
}

type firmPatchRequest struct {
	Name    *string       `json:"name"`
	Domain  *string       `json:"domain"`
	Address *auth.Address `json:"address"`
	LogoURL *string       `json:"logo_url"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func chiParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

func (a *API) handleListFirms(w http.ResponseWriter, r *http.Request) {
	firms, err := a.deps.Tenancy.ListFirms(r.Context(), principal(r))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	if firms == nil {
		firms = []auth.Firm{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"firms": firms})
}

func (a *API) handleCreateFirm(w http.ResponseWriter, r *http.Request) {
	var req firmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	firm, err := a.deps.Tenancy.CreateFirm(r.Context(), principal(r), tenancy.FirmInput{
		Name:    req.Name,
		Domain:  req.Domain,
		Address: req.Address,
		LogoURL: req.LogoURL,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "firm.create", map[string]any{"firm_id": firm.ID, "domain": firm.Domain})
	w.Header().Set("Location", fmt.Sprintf("/v1/firms/%s", firm.ID))
	writeJSON(w, http.StatusCreated, firm)
}

func (a *API) handleGetFirm(w http.ResponseWriter, r *http.Request) {
	firm, err := a.deps.Tenancy.GetFirm(r.Context(), principal(r), chiParam(r, "firmID"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, firm)
}

func (a *API) handleUpdateFirm(w http.ResponseWriter, r *http.Request) {
	var req firmPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	firmID := chiParam(r, "firmID")
	firm, err := a.deps.Tenancy.UpdateFirm(r.Context(), principal(r), firmID, auth.FirmUpdate{
		Name:    req.Name,
		Domain:  req.Domain,
		Address: req.Address,
		LogoURL: req.LogoURL,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "firm.update", map[string]any{"firm_id": firm.ID, "domain_changed": req.Domain != nil})
	if members, err := a.deps.Tenancy.ListMembers(r.Context(), principal(r), firm.ID); err == nil {
		for _, m := range members {
			a.notifyIdentity(r, m.IdentityID)
		}
	}
	writeJSON(w, http.StatusOK, firm)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.deps.Tenancy.ListMembers(r.Context(), principal(r), chiParam(r, "firmID"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []auth.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	firmID, profileID := chiParam(r, "firmID"), chiParam(r, "profileID")
	removed, err := a.deps.Tenancy.RemoveMember(r.Context(), principal(r), firmID, profileID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "firm.member.remove", map[string]any{"firm_id": firmID, "profile_id": profileID})
	a.notifyIdentity(r, removed.IdentityID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetMemberRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	firmID, profileID := chiParam(r, "firmID"), chiParam(r, "profileID")
	p, err := a.deps.Tenancy.SetMemberRole(r.Context(), principal(r), firmID, profileID, req.Role)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "firm.member.role", map[string]any{"firm_id": firmID, "profile_id": profileID, "role": string(p.Role)})
	a.notifyIdentity(r, p.IdentityID)
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := a.deps.Tenancy.ListInvitations(r.Context(), principal(r), chiParam(r, "firmID"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	if invs == nil {
		invs = []auth.Invitation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invs})
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		req.Role = string(auth.RoleUser)
	}
	inv, err := a.deps.Tenancy.Invite(r.Context(), principal(r), chiParam(r, "firmID"), req.Email, req.Role)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "firm.invite", map[string]any{"firm_id": inv.FirmID, "invitation_id": inv.ID, "role": string(inv.Role)})
	writeJSON(w, http.StatusCreated, inv)
}
