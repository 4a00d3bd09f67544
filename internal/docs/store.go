package docs

import (
	"context"

	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

// DocumentStore persists documents. Update methods are conditional: when the
// stored version differs from expected they return a *version.MismatchError.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	// GetDocument returns soft-deleted documents too.
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, familyID string) ([]Document, error)
	UpdateDocument(ctx context.Context, doc Document, expected version.Token) (Document, error)
}

// GrantChanges receives the document and its active grants, both read under
// the store's write lock, and returns the writes to apply. Soft-deleted
// documents are passed through; rejecting them is up to fn.
type GrantChanges func(doc Document, existing []sharing.Grant) ([]sharing.Change, error)

// GrantStore persists grants. Revoked rows are never returned.
type GrantStore interface {
	ListGrants(ctx context.Context, documentID string) ([]sharing.Grant, error)
	GrantsForUser(ctx context.Context, userID string) ([]sharing.Grant, error)
	// ApplyGrants runs fn atomically per document and returns the rows it wrote.
	ApplyGrants(ctx context.Context, documentID string, fn GrantChanges) ([]sharing.Grant, error)
	// UpdateGrant is unconditional when expected is zero.
	UpdateGrant(ctx context.Context, g sharing.Grant, expected version.Token) (sharing.Grant, error)
}

// DirectoryStore persists users and families.
type DirectoryStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, u User, expected version.Token) (User, error)
	FamilyMembers(ctx context.Context, familyID string) ([]User, error)
	GetFamily(ctx context.Context, id string) (Family, error)
	UpdateFamily(ctx context.Context, f Family, expected version.Token) (Family, error)
}

type Store interface {
	DocumentStore
	GrantStore
	DirectoryStore
}
