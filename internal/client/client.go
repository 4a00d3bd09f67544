// Package client talks to the famvault HTTP API. Error responses are mapped
// back onto the sentinel errors of the docs and version packages, so callers
// branch on the same values as the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"famvault.org/internal/docs"
	"famvault.org/internal/version"
)

const maxResponseBytes = 4 << 20

var (
	ErrUnauthorized = errors.New("client: unauthorized")
	ErrBadRequest   = errors.New("client: bad request")
	ErrRateLimited  = errors.New("client: rate limited")
)

// StatusError is any other non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status %d: %s", e.Code, e.Message)
}

// Client wraps an http.Client bound to one API base URL and bearer token.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Response is a successful reply. Version comes from the ETag header and is
// zero when the server sent none.
type Response struct {
	Status  int
	Body    []byte
	Version version.Token
}

// Do sends one request. A non-zero ifMatch is sent as If-Match. Error
// statuses come back as errors: 412 as *version.MismatchError, 422 as
// *docs.ValidationError, 403 and 404 as docs.ErrPermissionDenied and
// docs.ErrNotFound.
func (c *Client) Do(ctx context.Context, method, path string, body any, ifMatch version.Token) (Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("client: encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if h := ifMatch.Header(); h != "" {
		req.Header.Set("If-Match", h)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("client: read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Response{}, mapError(resp.StatusCode, path, ifMatch, data)
	}
	tok, err := version.Parse(resp.Header.Get("ETag"))
	if err != nil {
		return Response{}, fmt.Errorf("client: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: data, Version: tok}, nil
}

type errorPayload struct {
	Error          string            `json:"error"`
	Issues         []docs.FieldIssue `json:"issues"`
	CurrentVersion string            `json:"current_version"`
}

func mapError(code int, path string, sent version.Token, data []byte) error {
	var p errorPayload
	_ = json.Unmarshal(data, &p)
	if p.Error == "" {
		p.Error = strings.TrimSpace(string(data))
	}
	switch code {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, p.Error)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, p.Error)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", docs.ErrPermissionDenied, p.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", docs.ErrNotFound, path)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", docs.ErrConflict, p.Error)
	case http.StatusPreconditionFailed:
		current, _ := version.Parse(p.CurrentVersion)
		return &version.MismatchError{Resource: "resource", ID: path, Expected: sent, Current: current}
	case http.StatusUnprocessableEntity:
		return &docs.ValidationError{Issues: p.Issues}
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, p.Error)
	default:
		return &StatusError{Code: code, Message: p.Error}
	}
}

func decodeInto[T any](resp Response) (T, error) {
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return v, fmt.Errorf("client: decode response: %w", err)
	}
	return v, nil
}

// WithTimeout returns a context bounded by d, or parent unchanged when d is
// not positive.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
