package docs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"famvault.org/internal/access"
	"famvault.org/internal/audit"
	"famvault.org/internal/ids"
	"famvault.org/internal/obs"
	"famvault.org/internal/sharing"
	"famvault.org/internal/taxonomy"
	"famvault.org/internal/version"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxNameLen        = 120
)

// Service applies the resolver, the gate and version preconditions to every
// document, grant and directory operation.
type Service struct {
	store     Store
	taxonomy  *taxonomy.Taxonomy
	downgrade sharing.DowngradePolicy
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTaxonomy validates category ids against t. Without it category ids are
// accepted as-is.
func WithTaxonomy(t *taxonomy.Taxonomy) ServiceOption {
	return func(s *Service) error {
		s.taxonomy = t
		return nil
	}
}

// WithDowngradePolicy sets how bulk upserts treat editor -> viewer requests.
func WithDowngradePolicy(raw string) ServiceOption {
	return func(s *Service) error {
		p, err := sharing.ParseDowngradePolicy(raw)
		if err != nil {
			return err
		}
		s.downgrade = p
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("docs: store is required")
	}
	svc := &Service{store: store, now: time.Now, downgrade: sharing.DowngradeKeepEditor}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// CreateDocument stores a new document owned by actor in actor's family.
func (s *Service) CreateDocument(ctx context.Context, actor access.Actor, in NewDocument) (DocumentView, error) {
	if actor.ID == "" || actor.FamilyID == "" {
		return DocumentView{}, fmt.Errorf("%w: uploads require a family member", ErrPermissionDenied)
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.SubcategoryID = strings.TrimSpace(in.SubcategoryID)
	in.File.Name = strings.TrimSpace(in.File.Name)

	verr := &ValidationError{}
	s.checkMetadata(verr, in.Title, in.Description, in.CategoryID, in.SubcategoryID)
	checkFile(verr, in.File)
	if err := verr.err(); err != nil {
		return DocumentView{}, err
	}

	now := s.clock()
	doc := Document{
		ID:            ids.NewAt(now),
		FamilyID:      actor.FamilyID,
		OwnerUserID:   actor.ID,
		Title:         in.Title,
		Description:   in.Description,
		CategoryID:    in.CategoryID,
		SubcategoryID: in.SubcategoryID,
		File:          in.File,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	perm := access.Resolve(actor, doc.Ref(), sharing.NewSet(nil))
	if err := s.authorize(ctx, actor, doc, perm, access.ActionUploadFile); err != nil {
		return DocumentView{}, err
	}
	doc, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		return DocumentView{}, err
	}
	audit.Record(ctx, audit.EventDocumentCreated, map[string]any{"document_id": doc.ID, "family_id": doc.FamilyID})
	return s.view(doc, perm, actor.Role), nil
}

// ListDocuments returns the documents of actor's family that actor may list.
func (s *Service) ListDocuments(ctx context.Context, actor access.Actor) ([]DocumentView, error) {
	out := []DocumentView{}
	if actor.ID == "" || actor.FamilyID == "" {
		return out, nil
	}
	docs, err := s.store.ListDocuments(ctx, actor.FamilyID)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.GrantsForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	set := sharing.NewSet(grants)
	for _, doc := range docs {
		perm := access.Resolve(actor, doc.Ref(), set)
		if !access.CanPerform(access.ActionList, perm, actor.Role, stateOf(doc)) {
			continue
		}
		out = append(out, s.view(doc, perm, actor.Role))
	}
	return out, nil
}

// GetDocument returns a document with actor's effective permission.
func (s *Service) GetDocument(ctx context.Context, actor access.Actor, id string) (DocumentView, error) {
	doc, perm, err := s.load(ctx, actor, id)
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(doc, perm, actor.Role), nil
}

// UpdateDocument patches metadata when ifMatch equals the stored version.
func (s *Service) UpdateDocument(ctx context.Context, actor access.Actor, id string, patch DocumentPatch, ifMatch version.Token) (DocumentView, error) {
	if err := requireVersion(ifMatch); err != nil {
		return DocumentView{}, err
	}
	doc, perm, err := s.load(ctx, actor, id)
	if err != nil {
		return DocumentView{}, err
	}
	if err := s.authorize(ctx, actor, doc, perm, access.ActionEditMetadata); err != nil {
		return DocumentView{}, err
	}
	if patch.empty() {
		return DocumentView{}, invalid("body", IssueRequired)
	}

	next := doc
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.CategoryID != nil {
		next.CategoryID = strings.TrimSpace(*patch.CategoryID)
		if patch.SubcategoryID == nil {
			next.SubcategoryID = ""
		}
	}
	if patch.SubcategoryID != nil {
		next.SubcategoryID = strings.TrimSpace(*patch.SubcategoryID)
	}
	verr := &ValidationError{}
	s.checkMetadata(verr, next.Title, next.Description, next.CategoryID, next.SubcategoryID)
	if err := verr.err(); err != nil {
		return DocumentView{}, err
	}

	updated, err := s.writeDocument(ctx, doc, next, ifMatch)
	if err != nil {
		return DocumentView{}, err
	}
	audit.Record(ctx, audit.EventDocumentUpdated, map[string]any{"document_id": doc.ID, "version": updated.Version.String()})
	return s.view(updated, perm, actor.Role), nil
}

// ReplaceFile swaps the file descriptor of a document.
func (s *Service) ReplaceFile(ctx context.Context, actor access.Actor, id string, file FileDescriptor, ifMatch version.Token) (DocumentView, error) {
	if err := requireVersion(ifMatch); err != nil {
		return DocumentView{}, err
	}
	doc, perm, err := s.load(ctx, actor, id)
	if err != nil {
		return DocumentView{}, err
	}
	if err := s.authorize(ctx, actor, doc, perm, access.ActionReplaceFile); err != nil {
		return DocumentView{}, err
	}
	file.Name = strings.TrimSpace(file.Name)
	verr := &ValidationError{}
	checkFile(verr, file)
	if err := verr.err(); err != nil {
		return DocumentView{}, err
	}
	next := doc
	next.File = file
	updated, err := s.writeDocument(ctx, doc, next, ifMatch)
	if err != nil {
		return DocumentView{}, err
	}
	audit.Record(ctx, audit.EventDocumentFileChanged, map[string]any{"document_id": doc.ID, "file": file.Name})
	return s.view(updated, perm, actor.Role), nil
}

// DeleteDocument soft-deletes a document. Afterwards it resolves to none for
// everyone and reads report it as not found.
func (s *Service) DeleteDocument(ctx context.Context, actor access.Actor, id string, ifMatch version.Token) error {
	if err := requireVersion(ifMatch); err != nil {
		return err
	}
	doc, perm, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, doc, perm, access.ActionDelete); err != nil {
		return err
	}
	next := doc
	next.IsDeleted = true
	if _, err := s.writeDocument(ctx, doc, next, ifMatch); err != nil {
		return err
	}
	audit.Record(ctx, audit.EventDocumentDeleted, map[string]any{"document_id": doc.ID})
	return nil
}

func (s *Service) writeDocument(ctx context.Context, current, next Document, ifMatch version.Token) (Document, error) {
	if err := s.precondition(ctx, "document", current.ID, ifMatch, current.Version); err != nil {
		return Document{}, err
	}
	next.UpdatedAt = s.advance(current.UpdatedAt)
	updated, err := s.store.UpdateDocument(ctx, next, ifMatch)
	if err != nil {
		return Document{}, s.observeFailure(ctx, "document", current.ID, err)
	}
	return updated, nil
}

// load returns a document actor can view. Soft-deleted and invisible
// documents are reported as not found.
func (s *Service) load(ctx context.Context, actor access.Actor, id string) (Document, access.Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Document{}, access.PermissionNone, invalid("id", IssueRequired)
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return Document{}, access.PermissionNone, err
	}
	if doc.IsDeleted {
		return Document{}, access.PermissionNone, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	grants, err := s.store.ListGrants(ctx, doc.ID)
	if err != nil {
		return Document{}, access.PermissionNone, err
	}
	perm := access.Resolve(actor, doc.Ref(), sharing.NewSet(grants))
	if !access.CanPerform(access.ActionView, perm, actor.Role, stateOf(doc)) {
		return Document{}, access.PermissionNone, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, perm, nil
}

func (s *Service) authorize(ctx context.Context, actor access.Actor, doc Document, perm access.Permission, action access.Action) error {
	if access.CanPerform(action, perm, actor.Role, stateOf(doc)) {
		return nil
	}
	s.denied(ctx, doc.ID, action, perm)
	return fmt.Errorf("%w: %s on document %s", ErrPermissionDenied, action, doc.ID)
}

func (s *Service) denied(ctx context.Context, docID string, action access.Action, perm access.Permission) {
	obs.RecordAccessDenied(string(action))
	audit.Record(ctx, audit.EventAccessDenied, map[string]any{
		"document_id": docID,
		"action":      string(action),
		"permission":  string(perm),
	})
}

// precondition compares the caller's token with the version just read; the
// store repeats the comparison atomically on write.
func (s *Service) precondition(ctx context.Context, resource, id string, observed, current version.Token) error {
	return s.observeFailure(ctx, resource, id, version.Check(resource, id, observed, current))
}

func (s *Service) observeFailure(ctx context.Context, resource, id string, err error) error {
	if err == nil || !errors.Is(err, version.ErrPreconditionFailed) {
		return err
	}
	obs.RecordPreconditionFailure(resource)
	fields := map[string]any{"resource": resource, "id": id}
	var mismatch *version.MismatchError
	if errors.As(err, &mismatch) {
		fields["expected"] = mismatch.Expected.String()
		fields["current"] = mismatch.Current.String()
	}
	audit.Record(ctx, audit.EventPreconditionFailed, fields)
	return err
}

func (s *Service) view(doc Document, perm access.Permission, role access.Role) DocumentView {
	v := DocumentView{
		Document:            doc,
		EffectivePermission: perm,
		Capabilities:        access.CapabilitiesFor(perm, role, stateOf(doc)),
	}
	if s.taxonomy != nil && doc.CategoryID != "" {
		if cat, sub, err := s.taxonomy.Lookup(doc.CategoryID, doc.SubcategoryID); err == nil {
			v.CategoryName, v.SubcategoryName = cat, sub
		}
	}
	return v
}

func (s *Service) checkMetadata(verr *ValidationError, title, description, categoryID, subcategoryID string) {
	switch {
	case title == "":
		verr.add("title", IssueRequired)
	case len(title) > maxTitleLen:
		verr.add("title", IssueTooLong)
	}
	if len(description) > maxDescriptionLen {
		verr.add("description", IssueTooLong)
	}
	if categoryID == "" {
		if subcategoryID != "" {
			verr.add("category_id", IssueRequired)
		}
		return
	}
	if s.taxonomy == nil {
		return
	}
	if _, _, err := s.taxonomy.Lookup(categoryID, subcategoryID); err != nil {
		if errors.Is(err, taxonomy.ErrUnknownSubcategory) {
			verr.add("subcategory_id", IssueUnknown)
			return
		}
		verr.add("category_id", IssueUnknown)
	}
}

func checkFile(verr *ValidationError, f FileDescriptor) {
	if f.Name == "" {
		verr.add("file.name", IssueRequired)
	}
	if f.Size < 0 {
		verr.add("file.size", IssueInvalid)
	}
}

func requireVersion(tok version.Token) error {
	if tok.IsZero() {
		return invalid("version", IssueRequired)
	}
	return nil
}

func stateOf(doc Document) access.DocumentState {
	return access.DocumentState{Deleted: doc.IsDeleted}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// advance returns a modification time strictly after prev, so versions
// synthesized from it always change.
func (s *Service) advance(prev time.Time) time.Time {
	now := s.clock()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
