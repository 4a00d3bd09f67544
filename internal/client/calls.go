package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"famvault.org/internal/docs"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

func documentPath(id string) string { return "/v1/documents/" + url.PathEscape(id) }

func grantPath(documentID, userID string) string {
	return documentPath(documentID) + "/grants/" + url.PathEscape(userID)
}

// view decodes a document and takes its version from ETag when present.
func view(resp Response) (docs.DocumentView, error) {
	v, err := decodeInto[docs.DocumentView](resp)
	if err != nil {
		return docs.DocumentView{}, err
	}
	if !resp.Version.IsZero() {
		v.Version = resp.Version
	}
	return v, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]docs.DocumentView, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/v1/documents", nil, version.Token{})
	if err != nil {
		return nil, err
	}
	out, err := decodeInto[struct {
		Items []docs.DocumentView `json:"items"`
	}](resp)
	return out.Items, err
}

func (c *Client) CreateDocument(ctx context.Context, in docs.NewDocument) (docs.DocumentView, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/v1/documents", in, version.Token{})
	if err != nil {
		return docs.DocumentView{}, err
	}
	return view(resp)
}

func (c *Client) GetDocument(ctx context.Context, id string) (docs.DocumentView, error) {
	resp, err := c.Do(ctx, http.MethodGet, documentPath(id), nil, version.Token{})
	if err != nil {
		return docs.DocumentView{}, err
	}
	return view(resp)
}

func (c *Client) UpdateDocument(ctx context.Context, id string, patch docs.DocumentPatch, ifMatch version.Token) (docs.DocumentView, error) {
	resp, err := c.Do(ctx, http.MethodPatch, documentPath(id), patch, ifMatch)
	if err != nil {
		return docs.DocumentView{}, err
	}
	return view(resp)
}

func (c *Client) ReplaceFile(ctx context.Context, id string, file docs.FileDescriptor, ifMatch version.Token) (docs.DocumentView, error) {
	resp, err := c.Do(ctx, http.MethodPut, documentPath(id)+"/file", file, ifMatch)
	if err != nil {
		return docs.DocumentView{}, err
	}
	return view(resp)
}

func (c *Client) DeleteDocument(ctx context.Context, id string, ifMatch version.Token) error {
	_, err := c.Do(ctx, http.MethodDelete, documentPath(id), nil, ifMatch)
	return err
}

func (c *Client) ListGrants(ctx context.Context, documentID string) ([]sharing.Grant, error) {
	resp, err := c.Do(ctx, http.MethodGet, documentPath(documentID)+"/grants", nil, version.Token{})
	if err != nil {
		return nil, err
	}
	out, err := decodeInto[struct {
		Items []sharing.Grant `json:"items"`
	}](resp)
	return out.Items, err
}

// ShareBulk returns the per-item result; rejected items are not an error.
func (c *Client) ShareBulk(ctx context.Context, documentID string, items []sharing.Item) (sharing.Result, error) {
	body := struct {
		Items []sharing.Item `json:"items"`
	}{Items: items}
	resp, err := c.Do(ctx, http.MethodPost, documentPath(documentID)+"/grants/bulk", body, version.Token{})
	if err != nil {
		return sharing.Result{}, err
	}
	return decodeInto[sharing.Result](resp)
}

// PutGrant sets a grant level. ifMatch may be zero.
func (c *Client) PutGrant(ctx context.Context, documentID, userID, level string, ifMatch version.Token) (sharing.Grant, error) {
	body := struct {
		AccessLevel string `json:"access_level"`
	}{AccessLevel: level}
	resp, err := c.Do(ctx, http.MethodPut, grantPath(documentID, userID), body, ifMatch)
	if err != nil {
		return sharing.Grant{}, err
	}
	return decodeInto[sharing.Grant](resp)
}

func (c *Client) RevokeGrant(ctx context.Context, documentID, userID string, ifMatch version.Token) error {
	_, err := c.Do(ctx, http.MethodDelete, grantPath(documentID, userID), nil, ifMatch)
	return err
}

func (c *Client) Me(ctx context.Context) (docs.User, version.Token, error) {
	return c.user(ctx, "/v1/me")
}

// GetUser returns the user and its version, taken from ETag or synthesized
// from updated_at.
func (c *Client) GetUser(ctx context.Context, id string) (docs.User, version.Token, error) {
	return c.user(ctx, "/v1/users/"+url.PathEscape(id))
}

func (c *Client) user(ctx context.Context, path string) (docs.User, version.Token, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, version.Token{})
	if err != nil {
		return docs.User{}, version.Token{}, err
	}
	return decodeVersioned[docs.User](resp, func(u docs.User) (string, time.Time) { return u.Version.String(), u.UpdatedAt })
}

func (c *Client) UpdateUser(ctx context.Context, id string, patch docs.UserPatch, ifMatch version.Token) (docs.User, version.Token, error) {
	resp, err := c.Do(ctx, http.MethodPatch, "/v1/users/"+url.PathEscape(id), patch, ifMatch)
	if err != nil {
		return docs.User{}, version.Token{}, err
	}
	return decodeVersioned[docs.User](resp, func(u docs.User) (string, time.Time) { return u.Version.String(), u.UpdatedAt })
}

func (c *Client) GetFamily(ctx context.Context, id string) (docs.Family, version.Token, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/v1/families/"+url.PathEscape(id), nil, version.Token{})
	if err != nil {
		return docs.Family{}, version.Token{}, err
	}
	return decodeVersioned[docs.Family](resp, func(f docs.Family) (string, time.Time) { return f.Version.String(), f.UpdatedAt })
}

func (c *Client) UpdateFamily(ctx context.Context, id string, patch docs.FamilyPatch, ifMatch version.Token) (docs.Family, version.Token, error) {
	resp, err := c.Do(ctx, http.MethodPatch, "/v1/families/"+url.PathEscape(id), patch, ifMatch)
	if err != nil {
		return docs.Family{}, version.Token{}, err
	}
	return decodeVersioned[docs.Family](resp, func(f docs.Family) (string, time.Time) { return f.Version.String(), f.UpdatedAt })
}

// decodeVersioned resolves the version of a resource: the ETag header, then
// the body's version field, then its modification time.
func decodeVersioned[T any](resp Response, fields func(T) (string, time.Time)) (T, version.Token, error) {
	v, err := decodeInto[T](resp)
	if err != nil {
		return v, version.Token{}, err
	}
	if !resp.Version.IsZero() {
		return v, resp.Version, nil
	}
	explicit, modified := fields(v)
	tok, err := version.Resolve(explicit, modified)
	return v, tok, err
}
