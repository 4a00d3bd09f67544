package access

// CanPerform reports whether an actor holding perm (and role) may perform
// action on a document in state. Deleted documents and the none permission
// deny every action.
func CanPerform(action Action, perm Permission, role Role, state DocumentState) bool {
	if state.Deleted || perm == PermissionNone || perm == "" {
		return false
	}
	switch action {
	case ActionView, ActionList, ActionPreview, ActionDownload:
		return perm == PermissionOwner || perm == PermissionEditor || perm == PermissionViewer
	case ActionEditMetadata, ActionReplaceFile:
		return perm == PermissionOwner || perm == PermissionEditor
	case ActionUploadFile:
		return perm == PermissionOwner
	case ActionDelete, ActionManageSharing:
		return perm == PermissionOwner || role == RoleFamilyAdmin
	default:
		return false
	}
}

// Capabilities is the boolean set UIs use to enable or hide controls.
type Capabilities struct {
	CanView          bool `json:"can_view"`
	CanPreview       bool `json:"can_preview"`
	CanDownload      bool `json:"can_download"`
	CanEditMetadata  bool `json:"can_edit_metadata"`
	CanReplaceFile   bool `json:"can_replace_file"`
	CanUploadFile    bool `json:"can_upload_file"`
	CanDelete        bool `json:"can_delete"`
	CanManageSharing bool `json:"can_manage_sharing"`
}

// CapabilitiesFor evaluates the gate for every action.
func CapabilitiesFor(perm Permission, role Role, state DocumentState) Capabilities {
	can := func(a Action) bool { return CanPerform(a, perm, role, state) }
	return Capabilities{
		CanView:          can(ActionView),
		CanPreview:       can(ActionPreview),
		CanDownload:      can(ActionDownload),
		CanEditMetadata:  can(ActionEditMetadata),
		CanReplaceFile:   can(ActionReplaceFile),
		CanUploadFile:    can(ActionUploadFile),
		CanDelete:        can(ActionDelete),
		CanManageSharing: can(ActionManageSharing),
	}
}
