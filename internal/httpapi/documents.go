package httpapi

import (
	"net/http"

	"famvault.org/internal/docs"
)

type listDocumentsResponse struct {
	Items []docs.DocumentView `json:"items"`
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	items, err := a.docs.ListDocuments(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listDocumentsResponse{Items: items})
}

func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req docs.NewDocument
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.docs.CreateDocument(r.Context(), actor, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/documents/"+v.ID)
	setETag(w, v.Version)
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	v, err := a.docs.GetDocument(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, v.Version)
	writeJSON(w, http.StatusOK, v)
}

func (a *API) patchDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var patch docs.DocumentPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.docs.UpdateDocument(r.Context(), actor, r.PathValue("id"), patch, tok)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, v.Version)
	writeJSON(w, http.StatusOK, v)
}

func (a *API) replaceFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var file docs.FileDescriptor
	if err := decodeJSON(w, r, &file); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.docs.ReplaceFile(r.Context(), actor, r.PathValue("id"), file, tok)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	setETag(w, v.Version)
	writeJSON(w, http.StatusOK, v)
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tok, err := ifMatch(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := a.docs.DeleteDocument(r.Context(), actor, r.PathValue("id"), tok); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
