package httpapi

import (
	"net/http"

	"famvault.org/internal/docs"
	"famvault.org/internal/taxonomy"
)

type taxonomyResponse struct {
	Items []taxonomy.Category `json:"items"`
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	u, err := a.docs.GetUser(r.Context(), actor, actor.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, u.Version)
	writeJSON(w, http.StatusOK, u)
}

func (a *API) getTaxonomy(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, taxonomyResponse{Items: a.taxonomy.Categories()})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	u, err := a.docs.GetUser(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, u.Version)
	writeJSON(w, http.StatusOK, u)
}

func (a *API) patchUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var patch docs.UserPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.docs.UpdateUser(r.Context(), actor, r.PathValue("id"), patch, tok)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, u.Version)
	writeJSON(w, http.StatusOK, u)
}

func (a *API) getFamily(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	f, err := a.docs.GetFamily(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, f.Version)
	writeJSON(w, http.StatusOK, f)
}

func (a *API) patchFamily(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var patch docs.FamilyPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f, err := a.docs.UpdateFamily(r.Context(), actor, r.PathValue("id"), patch, tok)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, f.Version)
	writeJSON(w, http.StatusOK, f)
}
