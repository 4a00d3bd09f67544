package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"famvault.org/internal/auth"
	"famvault.org/internal/obs"
)

// Events emitted by the document and sharing services.
const (
	EventDocumentCreated     = "document.created"
	EventDocumentUpdated     = "document.updated"
	EventDocumentFileChanged = "document.file_replaced"
	EventDocumentDeleted     = "document.deleted"
	EventGrantsUpserted      = "grants.upserted"
	EventGrantUpdated        = "grant.updated"
	EventGrantRevoked        = "grant.revoked"
	EventUserUpdated         = "user.updated"
	EventFamilyUpdated       = "family.updated"
	EventAccessDenied        = "access.denied"
	EventPreconditionFailed  = "precondition.failed"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if actor, ok := auth.ActorFromContext(ctx); ok {
		entry["user_id"] = actor.ID
		entry["role"] = string(actor.Role)
		if actor.FamilyID != "" {
			entry["family_id"] = actor.FamilyID
		}
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Record is LogEvent for callers that cannot act on a logging failure.
func Record(ctx context.Context, event string, fields map[string]any) {
	if err := LogEvent(ctx, event, fields); err != nil {
		obs.Log("error", "audit log failed", map[string]any{
			"event": event,
			"error": err.Error(),
		})
	}
}
