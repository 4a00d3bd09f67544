package docs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"famvault.org/internal/ids"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

// MemoryStore implements Store in process. Versions are synthesized from
// UpdatedAt, which the store keeps strictly increasing per record.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	grants   map[string]sharing.Grant
	users    map[string]User
	families map[string]Family
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]Document),
		grants:   make(map[string]sharing.Grant),
		users:    make(map[string]User),
		families: make(map[string]Family),
	}
}

// PutFamily inserts or replaces a family, for seeding.
func (m *MemoryStore) PutFamily(f Family) Family {
	f.CreatedAt, f.UpdatedAt = seedTimes(f.CreatedAt, f.UpdatedAt)
	f.Version = version.FromTime(f.UpdatedAt)
	m.mu.Lock()
	m.families[f.ID] = f
	m.mu.Unlock()
	return f
}

// PutUser inserts or replaces a user, for seeding.
func (m *MemoryStore) PutUser(u User) User {
	u.CreatedAt, u.UpdatedAt = seedTimes(u.CreatedAt, u.UpdatedAt)
	u.Version = version.FromTime(u.UpdatedAt)
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
	return u
}

func (m *MemoryStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; exists {
		return Document{}, fmt.Errorf("%w: document %s exists", ErrConflict, doc.ID)
	}
	doc.CreatedAt, doc.UpdatedAt = seedTimes(doc.CreatedAt, doc.UpdatedAt)
	doc.Version = version.FromTime(doc.UpdatedAt)
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, familyID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, d := range m.docs {
		if d.FamilyID == familyID && !d.IsDeleted {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateDocument(ctx context.Context, doc Document, expected version.Token) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[doc.ID]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
	}
	if err := version.Check("document", doc.ID, expected, cur.Version); err != nil {
		return Document{}, err
	}
	doc.CreatedAt = cur.CreatedAt
	doc.OwnerUserID = cur.OwnerUserID
	doc.FamilyID = cur.FamilyID
	doc.UpdatedAt = after(cur.UpdatedAt, doc.UpdatedAt)
	doc.Version = version.FromTime(doc.UpdatedAt)
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *MemoryStore) ListGrants(ctx context.Context, documentID string) ([]sharing.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeGrants(func(g sharing.Grant) bool { return g.DocumentID == documentID }), nil
}

func (m *MemoryStore) GrantsForUser(ctx context.Context, userID string) ([]sharing.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeGrants(func(g sharing.Grant) bool { return g.UserID == userID }), nil
}

func (m *MemoryStore) ApplyGrants(ctx context.Context, documentID string, fn GrantChanges) ([]sharing.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	existing := m.activeGrants(func(g sharing.Grant) bool { return g.DocumentID == documentID })
	changes, err := fn(doc, existing)
	if err != nil {
		return nil, err
	}

	active := make(map[string]sharing.Grant, len(existing))
	for _, g := range existing {
		active[g.UserID] = g
	}
	staged := make(map[string]sharing.Grant, len(changes))
	written := make([]sharing.Grant, 0, len(changes))
	for _, ch := range changes {
		g := ch.Grant
		if g.DocumentID != documentID {
			return nil, fmt.Errorf("%w: grant for %s in batch for %s", ErrConflict, g.DocumentID, documentID)
		}
		switch ch.Kind {
		case sharing.ChangeCreate:
			if _, dup := active[g.UserID]; dup {
				return nil, fmt.Errorf("%w: active grant exists for %s", ErrConflict, g.UserID)
			}
			g.ID = ids.New()
			g.CreatedAt, g.UpdatedAt = seedTimes(g.CreatedAt, g.UpdatedAt)
		case sharing.ChangeUpdate:
			cur, ok := m.grants[g.ID]
			if !ok || cur.IsRevoked {
				return nil, fmt.Errorf("%w: grant %s", ErrNotFound, g.ID)
			}
			g.CreatedAt = cur.CreatedAt
			g.UpdatedAt = after(cur.UpdatedAt, g.UpdatedAt)
		default:
			return nil, fmt.Errorf("unknown change kind %d", ch.Kind)
		}
		g.Version = version.FromTime(g.UpdatedAt)
		active[g.UserID] = g
		staged[g.ID] = g
		written = append(written, g)
	}
	for id, g := range staged {
		m.grants[id] = g
	}
	return written, nil
}

func (m *MemoryStore) UpdateGrant(ctx context.Context, g sharing.Grant, expected version.Token) (sharing.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.grants[g.ID]
	if !ok || cur.IsRevoked {
		return sharing.Grant{}, fmt.Errorf("%w: grant %s", ErrNotFound, g.ID)
	}
	if !expected.IsZero() {
		if err := version.Check("grant", g.ID, expected, cur.Version); err != nil {
			return sharing.Grant{}, err
		}
	}
	g.DocumentID, g.UserID, g.CreatedAt = cur.DocumentID, cur.UserID, cur.CreatedAt
	g.UpdatedAt = after(cur.UpdatedAt, g.UpdatedAt)
	g.Version = version.FromTime(g.UpdatedAt)
	m.grants[g.ID] = g
	return g, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u User, expected version.Token) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, u.ID)
	}
	if err := version.Check("user", u.ID, expected, cur.Version); err != nil {
		return User{}, err
	}
	u.CreatedAt, u.FamilyID, u.Email = cur.CreatedAt, cur.FamilyID, cur.Email
	u.UpdatedAt = after(cur.UpdatedAt, u.UpdatedAt)
	u.Version = version.FromTime(u.UpdatedAt)
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) FamilyMembers(ctx context.Context, familyID string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.FamilyID == familyID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetFamily(ctx context.Context, id string) (Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.families[id]
	if !ok {
		return Family{}, fmt.Errorf("%w: family %s", ErrNotFound, id)
	}
	return f, nil
}

func (m *MemoryStore) UpdateFamily(ctx context.Context, f Family, expected version.Token) (Family, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.families[f.ID]
	if !ok {
		return Family{}, fmt.Errorf("%w: family %s", ErrNotFound, f.ID)
	}
	if err := version.Check("family", f.ID, expected, cur.Version); err != nil {
		return Family{}, err
	}
	f.CreatedAt = cur.CreatedAt
	f.UpdatedAt = after(cur.UpdatedAt, f.UpdatedAt)
	f.Version = version.FromTime(f.UpdatedAt)
	m.families[f.ID] = f
	return f, nil
}

// activeGrants must be called with m.mu held.
func (m *MemoryStore) activeGrants(match func(sharing.Grant) bool) []sharing.Grant {
	out := []sharing.Grant{}
	for _, g := range m.grants {
		if !g.IsRevoked && match(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func seedTimes(created, updated time.Time) (time.Time, time.Time) {
	if created.IsZero() {
		created = time.Now().UTC().Truncate(time.Microsecond)
	}
	if updated.IsZero() || updated.Before(created) {
		updated = created
	}
	return created.UTC(), updated.UTC()
}

// after returns next, or the smallest instant later than prev when next does
// not move forward.
func after(prev, next time.Time) time.Time {
	next = next.UTC()
	if !next.After(prev) {
		return prev.Add(time.Microsecond).UTC()
	}
	return next
}
