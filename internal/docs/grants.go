package docs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"famvault.org/internal/access"
	"famvault.org/internal/audit"
	"famvault.org/internal/obs"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

// ListGrants returns the active grants of a document, one per user.
func (s *Service) ListGrants(ctx context.Context, actor access.Actor, documentID string) ([]sharing.Grant, error) {
	doc, perm, err := s.load(ctx, actor, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, doc, perm, access.ActionManageSharing); err != nil {
		return nil, err
	}
	grants, err := s.store.ListGrants(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return sharing.Normalize(grants), nil
}

// ShareBulk upserts grants for many users at once. Rejected items are part of
// the result, not an error.
func (s *Service) ShareBulk(ctx context.Context, actor access.Actor, documentID string, items []sharing.Item) (sharing.Result, error) {
	switch {
	case len(items) == 0:
		return sharing.Result{}, invalid("items", IssueRequired)
	case len(items) > sharing.MaxBatchSize:
		return sharing.Result{}, invalid("items", IssueTooMany)
	}
	doc, perm, err := s.load(ctx, actor, documentID)
	if err != nil {
		return sharing.Result{}, err
	}
	if err := s.authorize(ctx, actor, doc, perm, access.ActionManageSharing); err != nil {
		return sharing.Result{}, err
	}
	members, err := s.members(ctx, doc.FamilyID)
	if err != nil {
		return sharing.Result{}, err
	}

	var res sharing.Result
	opts := sharing.Options{Downgrade: s.downgrade, Now: s.clock}
	written, err := s.store.ApplyGrants(ctx, doc.ID, func(current Document, existing []sharing.Grant) ([]sharing.Change, error) {
		// The document may have been deleted or re-owned since load.
		if current.IsDeleted {
			return nil, fmt.Errorf("%w: document %s", ErrNotFound, current.ID)
		}
		r, err := sharing.UpsertBatch(sharing.BatchRequest{Document: current.Ref(), Requester: actor, Items: items}, existing, members, opts)
		if err != nil {
			return nil, err
		}
		res = r
		return r.Changes(), nil
	})
	if err != nil {
		if errors.Is(err, sharing.ErrPermissionDenied) {
			s.denied(ctx, doc.ID, access.ActionManageSharing, perm)
			return sharing.Result{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return sharing.Result{}, err
	}
	res = res.Persisted(written)

	obs.RecordGrantOutcomes(len(res.Created), len(res.Updated), len(res.Rejected))
	audit.Record(ctx, audit.EventGrantsUpserted, map[string]any{
		"document_id": doc.ID,
		"created":     len(res.Created),
		"updated":     len(res.Updated),
		"rejected":    len(res.Rejected),
	})
	return res, nil
}

// PutGrant changes the level of an existing active grant. An editor grant is
// never lowered here; revoke it instead. A zero ifMatch makes the write
// unconditional.
func (s *Service) PutGrant(ctx context.Context, actor access.Actor, documentID, userID, level string, ifMatch version.Token) (sharing.Grant, error) {
	lvl, err := sharing.ParseAccessLevel(level)
	if err != nil {
		return sharing.Grant{}, invalid("access_level", IssueInvalid)
	}
	doc, g, err := s.loadGrant(ctx, actor, documentID, userID, ifMatch)
	if err != nil {
		return sharing.Grant{}, err
	}
	next, changed := sharing.ApplyLevel(g, lvl, sharing.DowngradeKeepEditor, s.advance(g.UpdatedAt))
	if !changed {
		return g, nil
	}
	updated, err := s.store.UpdateGrant(ctx, next, ifMatch)
	if err != nil {
		return sharing.Grant{}, s.observeFailure(ctx, "grant", g.ID, err)
	}
	obs.RecordGrantOutcomes(0, 1, 0)
	audit.Record(ctx, audit.EventGrantUpdated, map[string]any{
		"document_id":  doc.ID,
		"grantee":      g.UserID,
		"access_level": string(updated.AccessLevel),
	})
	return updated, nil
}

// RevokeGrant tombstones the active grant of userID. A zero ifMatch makes the
// write unconditional.
func (s *Service) RevokeGrant(ctx context.Context, actor access.Actor, documentID, userID string, ifMatch version.Token) error {
	doc, g, err := s.loadGrant(ctx, actor, documentID, userID, ifMatch)
	if err != nil {
		return err
	}
	next := g
	next.IsRevoked = true
	next.UpdatedAt = s.advance(g.UpdatedAt)
	if _, err := s.store.UpdateGrant(ctx, next, ifMatch); err != nil {
		return s.observeFailure(ctx, "grant", g.ID, err)
	}
	audit.Record(ctx, audit.EventGrantRevoked, map[string]any{"document_id": doc.ID, "grantee": g.UserID})
	return nil
}

func (s *Service) loadGrant(ctx context.Context, actor access.Actor, documentID, userID string, ifMatch version.Token) (Document, sharing.Grant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Document{}, sharing.Grant{}, invalid("user_id", IssueRequired)
	}
	doc, perm, err := s.load(ctx, actor, documentID)
	if err != nil {
		return Document{}, sharing.Grant{}, err
	}
	if err := s.authorize(ctx, actor, doc, perm, access.ActionManageSharing); err != nil {
		return Document{}, sharing.Grant{}, err
	}
	grants, err := s.store.ListGrants(ctx, doc.ID)
	if err != nil {
		return Document{}, sharing.Grant{}, err
	}
	g, ok := sharing.NewSet(grants).Get(doc.ID, userID)
	if !ok {
		return Document{}, sharing.Grant{}, fmt.Errorf("%w: no active grant for %s on %s", ErrNotFound, userID, doc.ID)
	}
	if !ifMatch.IsZero() {
		if err := s.precondition(ctx, "grant", g.ID, ifMatch, g.Version); err != nil {
			return Document{}, sharing.Grant{}, err
		}
	}
	return doc, g, nil
}

func (s *Service) members(ctx context.Context, familyID string) (sharing.Members, error) {
	users, err := s.store.FamilyMembers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	m := make(sharing.Members, len(users))
	for _, u := range users {
		m[u.ID] = u.FamilyID
	}
	return m, nil
}
