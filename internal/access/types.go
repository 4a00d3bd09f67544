package access

import (
	"fmt"
	"strings"
)

// Role is the family-wide role of an actor, issued by the identity provider.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleFamilyAdmin Role = "family_admin"
	RoleMember      Role = "member"
)

// ParseRole normalizes a role name.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.TrimSpace(strings.ToLower(raw))); r {
	case RoleSuperAdmin, RoleFamilyAdmin, RoleMember:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Actor is the authenticated caller. It is immutable for the lifetime of a request.
type Actor struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	FamilyID string `json:"family_id"`
}

// Permission is the effective access level of an actor on a document.
type Permission string

const (
	PermissionNone   Permission = "none"
	PermissionViewer Permission = "viewer"
	PermissionEditor Permission = "editor"
	PermissionOwner  Permission = "owner"
)

// Document carries the fields the resolver needs; stores map their records onto it.
type Document struct {
	ID          string
	FamilyID    string
	OwnerUserID string
	IsDeleted   bool
}

// GrantLookup returns the active, non-revoked grant level of a user on a document.
type GrantLookup interface {
	Lookup(documentID, userID string) (Permission, bool)
}

// Action is a requested operation on a document.
type Action string

const (
	ActionView          Action = "view"
	ActionList          Action = "list"
	ActionPreview       Action = "preview"
	ActionDownload      Action = "download"
	ActionEditMetadata  Action = "edit_metadata"
	ActionReplaceFile   Action = "replace_file"
	ActionUploadFile    Action = "upload_file"
	ActionDelete        Action = "delete"
	ActionManageSharing Action = "manage_sharing"
)

// Actions lists every gated action in a stable order.
var Actions = []Action{
	ActionView,
	ActionList,
	ActionPreview,
	ActionDownload,
	ActionEditMetadata,
	ActionReplaceFile,
	ActionUploadFile,
	ActionDelete,
	ActionManageSharing,
}

// DocumentState is the lifecycle state relevant to gating.
type DocumentState struct {
	Deleted bool
}
