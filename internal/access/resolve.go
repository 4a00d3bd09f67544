package access

// Resolve computes the effective permission of actor on doc. The first
// matching rule wins: deleted documents resolve to none, family admins of the
// document's family act as owner, the owner is owner, then an active grant
// decides. Cross-family access is never granted.
func Resolve(actor Actor, doc Document, grants GrantLookup) Permission {
	if doc.IsDeleted {
		return PermissionNone
	}
	if actor.ID == "" {
		return PermissionNone
	}
	if actor.Role == RoleFamilyAdmin && actor.FamilyID != "" && actor.FamilyID == doc.FamilyID {
		return PermissionOwner
	}
	if actor.ID == doc.OwnerUserID {
		return PermissionOwner
	}
	if grants == nil {
		return PermissionNone
	}
	level, ok := grants.Lookup(doc.ID, actor.ID)
	if !ok {
		return PermissionNone
	}
	switch level {
	case PermissionViewer, PermissionEditor:
		return level
	default:
		return PermissionNone
	}
}

// LookupFunc adapts a function to GrantLookup.
type LookupFunc func(documentID, userID string) (Permission, bool)

func (f LookupFunc) Lookup(documentID, userID string) (Permission, bool) {
	return f(documentID, userID)
}
