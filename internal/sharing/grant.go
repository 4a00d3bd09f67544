package sharing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"famvault.org/internal/access"
	"famvault.org/internal/version"
)

// AccessLevel is the level a grant confers on its user.
type AccessLevel string

const (
	Viewer AccessLevel = "viewer"
	Editor AccessLevel = "editor"
)

// ParseAccessLevel normalizes an access level name.
func ParseAccessLevel(raw string) (AccessLevel, error) {
	switch l := AccessLevel(strings.TrimSpace(strings.ToLower(raw))); l {
	case Viewer, Editor:
		return l, nil
	default:
		return "", fmt.Errorf("unknown access level %q", raw)
	}
}

func (l AccessLevel) rank() int {
	switch l {
	case Viewer:
		return 1
	case Editor:
		return 2
	default:
		return 0
	}
}

// Permission maps the level onto the resolver's vocabulary.
func (l AccessLevel) Permission() access.Permission {
	switch l {
	case Viewer:
		return access.PermissionViewer
	case Editor:
		return access.PermissionEditor
	default:
		return access.PermissionNone
	}
}

// Grant gives one user viewer or editor access to one document.
// Revoked grants are tombstones kept for audit history.
type Grant struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	UserID      string        `json:"user_id"`
	AccessLevel AccessLevel   `json:"access_level"`
	IsRevoked   bool          `json:"is_revoked"`
	Version     version.Token `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type grantKey struct {
	documentID string
	userID     string
}

// Set is the normalized view of active grants: at most one grant per
// (document, user), revoked rows excluded.
type Set struct {
	grants map[grantKey]Grant
}

// NewSet normalizes grants. When duplicates for the same user survive in the
// backing data, editor takes precedence over viewer.
func NewSet(grants []Grant) *Set {
	s := &Set{grants: make(map[grantKey]Grant, len(grants))}
	for _, g := range grants {
		if g.IsRevoked || g.AccessLevel.rank() == 0 {
			continue
		}
		k := grantKey{g.DocumentID, g.UserID}
		if cur, ok := s.grants[k]; ok && cur.AccessLevel.rank() >= g.AccessLevel.rank() {
			continue
		}
		s.grants[k] = g
	}
	return s
}

// Normalize returns the active grants of a document, one per user, ordered by user id.
func Normalize(grants []Grant) []Grant {
	s := NewSet(grants)
	return s.all()
}

func (s *Set) Lookup(documentID, userID string) (access.Permission, bool) {
	g, ok := s.Get(documentID, userID)
	if !ok {
		return access.PermissionNone, false
	}
	return g.AccessLevel.Permission(), true
}

func (s *Set) Get(documentID, userID string) (Grant, bool) {
	if s == nil {
		return Grant{}, false
	}
	g, ok := s.grants[grantKey{documentID, userID}]
	return g, ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.grants)
}

func (s *Set) all() []Grant {
	out := make([]Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

var _ access.GrantLookup = (*Set)(nil)
