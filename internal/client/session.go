package client

import (
	"context"

	"famvault.org/internal/docs"
	"famvault.org/internal/guard"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

const (
	kindDocument = "document"
	kindGrant    = "grant"
	kindUser     = "user"
	kindFamily   = "family"
)

// Session is a client that remembers the version of everything it reads and
// sends it back on writes. A write fails with guard.ErrMissingVersion until
// the resource has been read, and after a precondition failure the resource
// must be read again.
type Session struct {
	client *Client
	guard  *guard.Guard
}

func NewSession(c *Client) *Session {
	return &Session{client: c, guard: guard.New()}
}

func (s *Session) Client() *Client     { return s.client }
func (s *Session) Guard() *guard.Guard { return s.guard }

func documentKey(id string) guard.Key { return guard.Key{Kind: kindDocument, ID: id} }

func grantKey(documentID, userID string) guard.Key {
	return guard.Key{Kind: kindGrant, ID: documentID + "/" + userID}
}

func (s *Session) CreateDocument(ctx context.Context, in docs.NewDocument) (docs.DocumentView, error) {
	v, err := s.client.CreateDocument(ctx, in)
	if err != nil {
		return v, err
	}
	s.guard.Observe(documentKey(v.ID), v.Version)
	return v, nil
}

func (s *Session) OpenDocument(ctx context.Context, id string) (docs.DocumentView, error) {
	v, err := s.client.GetDocument(ctx, id)
	if err != nil {
		return v, err
	}
	s.guard.Observe(documentKey(id), v.Version)
	return v, nil
}

// OpenAll lists visible documents and observes each of them.
func (s *Session) OpenAll(ctx context.Context) ([]docs.DocumentView, error) {
	items, err := s.client.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		s.guard.Observe(documentKey(v.ID), v.Version)
	}
	return items, nil
}

func (s *Session) UpdateDocument(ctx context.Context, id string, patch docs.DocumentPatch) (docs.DocumentView, error) {
	var out docs.DocumentView
	_, err := s.guard.Mutate(ctx, documentKey(id), func(ctx context.Context, observed version.Token) (version.Token, error) {
		v, err := s.client.UpdateDocument(ctx, id, patch, observed)
		if err != nil {
			return version.Token{}, err
		}
		out = v
		return v.Version, nil
	})
	return out, err
}

func (s *Session) ReplaceFile(ctx context.Context, id string, file docs.FileDescriptor) (docs.DocumentView, error) {
	var out docs.DocumentView
	_, err := s.guard.Mutate(ctx, documentKey(id), func(ctx context.Context, observed version.Token) (version.Token, error) {
		v, err := s.client.ReplaceFile(ctx, id, file, observed)
		if err != nil {
			return version.Token{}, err
		}
		out = v
		return v.Version, nil
	})
	return out, err
}

func (s *Session) DeleteDocument(ctx context.Context, id string) error {
	key := documentKey(id)
	_, err := s.guard.Mutate(ctx, key, func(ctx context.Context, observed version.Token) (version.Token, error) {
		return version.Token{}, s.client.DeleteDocument(ctx, id, observed)
	})
	if err == nil {
		s.guard.Forget(key)
	}
	return err
}

// Grants lists the document's grants and observes each one.
func (s *Session) Grants(ctx context.Context, documentID string) ([]sharing.Grant, error) {
	grants, err := s.client.ListGrants(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if _, err := s.guard.ObserveSnapshot(grantKey(documentID, g.UserID), g.Version.String(), g.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return grants, nil
}

// Share applies a batch. Created and updated grants are observed so they can
// be changed afterwards without another read.
func (s *Session) Share(ctx context.Context, documentID string, items []sharing.Item) (sharing.Result, error) {
	res, err := s.client.ShareBulk(ctx, documentID, items)
	if err != nil {
		return res, err
	}
	for _, group := range [][]sharing.Grant{res.Created, res.Updated} {
		for _, g := range group {
			s.guard.Observe(grantKey(documentID, g.UserID), g.Version)
		}
	}
	return res, nil
}

func (s *Session) SetGrantLevel(ctx context.Context, documentID, userID, level string) (sharing.Grant, error) {
	var out sharing.Grant
	_, err := s.guard.Mutate(ctx, grantKey(documentID, userID), func(ctx context.Context, observed version.Token) (version.Token, error) {
		g, err := s.client.PutGrant(ctx, documentID, userID, level, observed)
		if err != nil {
			return version.Token{}, err
		}
		out = g
		return g.Version, nil
	})
	return out, err
}

func (s *Session) Revoke(ctx context.Context, documentID, userID string) error {
	key := grantKey(documentID, userID)
	_, err := s.guard.Mutate(ctx, key, func(ctx context.Context, observed version.Token) (version.Token, error) {
		return version.Token{}, s.client.RevokeGrant(ctx, documentID, userID, observed)
	})
	if err == nil {
		s.guard.Forget(key)
	}
	return err
}

func (s *Session) OpenUser(ctx context.Context, id string) (docs.User, error) {
	u, tok, err := s.client.GetUser(ctx, id)
	if err != nil {
		return u, err
	}
	s.guard.Observe(guard.Key{Kind: kindUser, ID: id}, tok)
	return u, nil
}

func (s *Session) UpdateUser(ctx context.Context, id string, patch docs.UserPatch) (docs.User, error) {
	var out docs.User
	_, err := s.guard.Mutate(ctx, guard.Key{Kind: kindUser, ID: id}, func(ctx context.Context, observed version.Token) (version.Token, error) {
		u, tok, err := s.client.UpdateUser(ctx, id, patch, observed)
		out = u
		return tok, err
	})
	return out, err
}

func (s *Session) OpenFamily(ctx context.Context, id string) (docs.Family, error) {
	f, tok, err := s.client.GetFamily(ctx, id)
	if err != nil {
		return f, err
	}
	s.guard.Observe(guard.Key{Kind: kindFamily, ID: id}, tok)
	return f, nil
}

func (s *Session) UpdateFamily(ctx context.Context, id string, patch docs.FamilyPatch) (docs.Family, error) {
	var out docs.Family
	_, err := s.guard.Mutate(ctx, guard.Key{Kind: kindFamily, ID: id}, func(ctx context.Context, observed version.Token) (version.Token, error) {
		f, tok, err := s.client.UpdateFamily(ctx, id, patch, observed)
		out = f
		return tok, err
	})
	return out, err
}
