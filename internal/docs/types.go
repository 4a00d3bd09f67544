package docs

import (
	"time"

	"famvault.org/internal/access"
	"famvault.org/internal/version"
)

// FileDescriptor describes the stored file; contents live outside this service.
type FileDescriptor struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum,omitempty"`
}

// Document is a family document. The owner is permanent.
type Document struct {
	ID            string         `json:"id"`
	FamilyID      string         `json:"family_id"`
	OwnerUserID   string         `json:"owner_user_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	CategoryID    string         `json:"category_id,omitempty"`
	SubcategoryID string         `json:"subcategory_id,omitempty"`
	File          FileDescriptor `json:"file"`
	IsDeleted     bool           `json:"is_deleted"`
	Version       version.Token  `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Ref is the slice of the document the resolver needs.
func (d Document) Ref() access.Document {
	return access.Document{ID: d.ID, FamilyID: d.FamilyID, OwnerUserID: d.OwnerUserID, IsDeleted: d.IsDeleted}
}

// DocumentView is a document as seen by one actor.
type DocumentView struct {
	Document
	CategoryName        string              `json:"category_name,omitempty"`
	SubcategoryName     string              `json:"subcategory_name,omitempty"`
	EffectivePermission access.Permission   `json:"effective_permission"`
	Capabilities        access.Capabilities `json:"capabilities"`
}

// NewDocument is the metadata supplied at upload time.
type NewDocument struct {
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	CategoryID    string         `json:"category_id"`
	SubcategoryID string         `json:"subcategory_id"`
	File          FileDescriptor `json:"file"`
}

// DocumentPatch updates metadata; nil fields are left untouched.
type DocumentPatch struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	CategoryID    *string `json:"category_id"`
	SubcategoryID *string `json:"subcategory_id"`
}

func (p DocumentPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.CategoryID == nil && p.SubcategoryID == nil
}

// User is a family member. Its version is synthesized from UpdatedAt.
type User struct {
	ID          string        `json:"id"`
	FamilyID    string        `json:"family_id,omitempty"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name"`
	Role        access.Role   `json:"role"`
	Version     version.Token `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (u User) Actor() access.Actor {
	return access.Actor{ID: u.ID, Role: u.Role, FamilyID: u.FamilyID}
}

type UserPatch struct {
	DisplayName *string      `json:"display_name"`
	Role        *access.Role `json:"role"`
}

// Family groups users and their documents. Its version is synthesized from UpdatedAt.
type Family struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Version   version.Token `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type FamilyPatch struct {
	Name *string `json:"name"`
}
