package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"lexintake.org/internal/forms"
)

type createFormRequest struct {
	Payload json.RawMessage `json:"payload"`
	Submit  bool            `json:"submit"`
}

type updateFormRequest struct {
	Payload json.RawMessage `json:"payload"`
	Version int             `json:"version"`
}

type deleteFormRequest struct {
	Confirmation string `json:"confirmation"`
}

func (a *API) handleFormKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kinds": forms.Kinds()})
}

func (a *API) handleListForms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := forms.ListOptions{FirmID: q.Get("firm_id")}
	if raw := q.Get("kind"); raw != "" {
		kind, ok := forms.ParseKind(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown form kind %q", raw))
			return
		}
		opts.Kind = kind
	}
	subs, err := a.deps.Forms.List(r.Context(), principal(r), opts)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": subs})
}

func (a *API) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	kind, ok := forms.ParseKind(chiParam(r, "kind"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown form kind")
		return
	}
	var req createFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := a.deps.Forms.Create(r.Context(), principal(r), kind, req.Payload, req.Submit)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "form.create", map[string]any{"form_id": sub.ID, "kind": string(sub.Kind), "status": string(sub.Status)})
	w.Header().Set("Location", fmt.Sprintf("/v1/forms/%s", sub.ID))
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleGetForm(w http.ResponseWriter, r *http.Request) {
	sub, err := a.deps.Forms.Get(r.Context(), principal(r), chiParam(r, "formID"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	var req updateFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := a.deps.Forms.Update(r.Context(), principal(r), chiParam(r, "formID"), req.Payload, req.Version)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "form.update", map[string]any{"form_id": sub.ID, "version": sub.Version})
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	sub, err := a.deps.Forms.Submit(r.Context(), principal(r), chiParam(r, "formID"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "form.submit", map[string]any{"form_id": sub.ID})
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	var req deleteFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chiParam(r, "formID")
	if err := a.deps.Forms.Delete(r.Context(), principal(r), id, req.Confirmation); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "form.delete", map[string]any{"form_id": id})
	w.WriteHeader(http.StatusNoContent)
}
