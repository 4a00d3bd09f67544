package httpapi

import (
	"net/http"

	"famvault.org/internal/sharing"
)

type bulkShareRequest struct {
	Items []sharing.Item `json:"items"`
}

type putGrantRequest struct {
	AccessLevel string `json:"access_level"`
}

type listGrantsResponse struct {
	Items []sharing.Grant `json:"items"`
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	grants, err := a.docs.ListGrants(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listGrantsResponse{Items: grants})
}

// shareBulk answers 200 with created, updated and rejected items even when
// some or all items were rejected.
func (a *API) shareBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req bulkShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.docs.ShareBulk(r.Context(), actor, r.PathValue("id"), req.Items)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) putGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var req putGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	g, err := a.docs.PutGrant(r.Context(), actor, r.PathValue("id"), r.PathValue("user_id"), req.AccessLevel, tok)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, g.Version)
	writeJSON(w, http.StatusOK, g)
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := a.docs.RevokeGrant(r.Context(), actor, r.PathValue("id"), r.PathValue("user_id"), tok); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
