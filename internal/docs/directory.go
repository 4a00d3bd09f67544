package docs

import (
	"context"
	"fmt"
	"strings"

	"famvault.org/internal/access"
	"famvault.org/internal/audit"
	"famvault.org/internal/version"
)

// GetUser returns a user visible to actor: themselves, their family, or
// anyone for a super admin.
func (s *Service) GetUser(ctx context.Context, actor access.Actor, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, invalid("id", IssueRequired)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !canSeeUser(actor, u) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

// UpdateUser edits a display name or role. Users edit their own name; family
// admins manage their family; only a super admin grants super_admin.
func (s *Service) UpdateUser(ctx context.Context, actor access.Actor, id string, patch UserPatch, ifMatch version.Token) (User, error) {
	if err := requireVersion(ifMatch); err != nil {
		return User{}, err
	}
	u, err := s.GetUser(ctx, actor, id)
	if err != nil {
		return User{}, err
	}
	admin := actor.Role == access.RoleSuperAdmin ||
		(actor.Role == access.RoleFamilyAdmin && actor.FamilyID != "" && actor.FamilyID == u.FamilyID)
	if actor.ID != u.ID && !admin {
		return User{}, fmt.Errorf("%w: cannot edit user %s", ErrPermissionDenied, u.ID)
	}
	if patch.DisplayName == nil && patch.Role == nil {
		return User{}, invalid("body", IssueRequired)
	}

	next := u
	verr := &ValidationError{}
	if patch.DisplayName != nil {
		next.DisplayName = strings.TrimSpace(*patch.DisplayName)
		switch {
		case next.DisplayName == "":
			verr.add("display_name", IssueRequired)
		case len(next.DisplayName) > maxNameLen:
			verr.add("display_name", IssueTooLong)
		}
	}
	if patch.Role != nil {
		role, err := access.ParseRole(string(*patch.Role))
		if err != nil {
			verr.add("role", IssueUnknown)
		}
		next.Role = role
	}
	if err := verr.err(); err != nil {
		return User{}, err
	}
	if next.Role != u.Role {
		if !admin || actor.ID == u.ID {
			return User{}, fmt.Errorf("%w: cannot change role of %s", ErrPermissionDenied, u.ID)
		}
		if (next.Role == access.RoleSuperAdmin || u.Role == access.RoleSuperAdmin) && actor.Role != access.RoleSuperAdmin {
			return User{}, fmt.Errorf("%w: super_admin is managed by super admins", ErrPermissionDenied)
		}
	}

	if err := s.precondition(ctx, "user", u.ID, ifMatch, u.Version); err != nil {
		return User{}, err
	}
	next.UpdatedAt = s.advance(u.UpdatedAt)
	updated, err := s.store.UpdateUser(ctx, next, ifMatch)
	if err != nil {
		return User{}, s.observeFailure(ctx, "user", u.ID, err)
	}
	audit.Record(ctx, audit.EventUserUpdated, map[string]any{"target_user_id": u.ID, "role": string(updated.Role)})
	return updated, nil
}

// GetFamily returns the actor's own family; super admins see any.
func (s *Service) GetFamily(ctx context.Context, actor access.Actor, id string) (Family, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Family{}, invalid("id", IssueRequired)
	}
	if actor.Role != access.RoleSuperAdmin && actor.FamilyID != id {
		return Family{}, fmt.Errorf("%w: family %s", ErrNotFound, id)
	}
	return s.store.GetFamily(ctx, id)
}

// UpdateFamily renames a family. Family admins of it and super admins may.
func (s *Service) UpdateFamily(ctx context.Context, actor access.Actor, id string, patch FamilyPatch, ifMatch version.Token) (Family, error) {
	if err := requireVersion(ifMatch); err != nil {
		return Family{}, err
	}
	f, err := s.GetFamily(ctx, actor, id)
	if err != nil {
		return Family{}, err
	}
	if actor.Role != access.RoleSuperAdmin && actor.Role != access.RoleFamilyAdmin {
		return Family{}, fmt.Errorf("%w: cannot edit family %s", ErrPermissionDenied, f.ID)
	}
	if patch.Name == nil {
		return Family{}, invalid("name", IssueRequired)
	}
	next := f
	next.Name = strings.TrimSpace(*patch.Name)
	switch {
	case next.Name == "":
		return Family{}, invalid("name", IssueRequired)
	case len(next.Name) > maxNameLen:
		return Family{}, invalid("name", IssueTooLong)
	}
	if err := s.precondition(ctx, "family", f.ID, ifMatch, f.Version); err != nil {
		return Family{}, err
	}
	next.UpdatedAt = s.advance(f.UpdatedAt)
	updated, err := s.store.UpdateFamily(ctx, next, ifMatch)
	if err != nil {
		return Family{}, s.observeFailure(ctx, "family", f.ID, err)
	}
	audit.Record(ctx, audit.EventFamilyUpdated, map[string]any{"target_family_id": f.ID})
	return updated, nil
}

func canSeeUser(actor access.Actor, u User) bool {
	switch {
	case actor.ID == "":
		return false
	case actor.ID == u.ID, actor.Role == access.RoleSuperAdmin:
		return true
	default:
		return actor.FamilyID != "" && actor.FamilyID == u.FamilyID
	}
}
