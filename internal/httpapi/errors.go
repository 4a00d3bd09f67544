package httpapi

import (
	"errors"
	"net/http"

	"famvault.org/internal/docs"
	"famvault.org/internal/obs"
	"famvault.org/internal/version"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleServiceError maps docs and version errors onto status codes.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *docs.ValidationError
		mismatch *version.MismatchError
	)
	switch {
	case errors.As(err, &verr):
		writeErrorBody(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"issues": verr.Issues,
		})
	case errors.As(err, &mismatch):
		writeErrorBody(w, r, http.StatusPreconditionFailed, map[string]any{
			"error":           "resource was modified since it was read",
			"current_version": mismatch.Current.String(),
		})
	case errors.Is(err, version.ErrPreconditionFailed):
		writeError(w, r, http.StatusPreconditionFailed, "resource was modified since it was read")
	case errors.Is(err, version.ErrMalformed):
		writeError(w, r, http.StatusBadRequest, "malformed If-Match header")
	case errors.Is(err, docs.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, docs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, docs.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflicting write, retry")
	default:
		obs.Log("error", "request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// ifMatch reads the If-Match header. An absent header yields the zero token.
func ifMatch(r *http.Request) (version.Token, error) {
	return version.Parse(r.Header.Get("If-Match"))
}

func setETag(w http.ResponseWriter, tok version.Token) {
	if h := tok.Header(); h != "" {
		w.Header().Set("ETag", h)
	}
}
