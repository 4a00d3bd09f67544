// Package guard tracks the last version token observed for each resource and
// attaches it to mutations, so a stale write fails instead of overwriting a
// newer one.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"famvault.org/internal/version"
)

var (
	// ErrMissingVersion is returned when no token has been observed for the
	// resource. No request is sent.
	ErrMissingVersion = errors.New("guard: no version observed for resource")
	// ErrInFlight is returned when a mutation for the same resource is
	// already running.
	ErrInFlight = errors.New("guard: mutation already in flight")
)

// Key identifies a guarded resource.
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string { return k.Kind + "/" + k.ID }

// Mutation performs a conditional write carrying observed as its precondition
// and returns the version the server reported afterwards.
type Mutation func(ctx context.Context, observed version.Token) (version.Token, error)

// Guard is safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	observed map[Key]version.Token
	inFlight map[Key]struct{}
}

func New() *Guard {
	return &Guard{
		observed: make(map[Key]version.Token),
		inFlight: make(map[Key]struct{}),
	}
}

// Observe records the token from the latest read. A zero token is ignored.
func (g *Guard) Observe(key Key, tok version.Token) {
	if tok.IsZero() {
		return
	}
	g.mu.Lock()
	g.observed[key] = tok
	g.mu.Unlock()
}

// ObserveSnapshot records the explicit token when present and otherwise one
// synthesized from the resource's modification time.
func (g *Guard) ObserveSnapshot(key Key, explicit string, modified time.Time) (version.Token, error) {
	tok, err := version.Resolve(explicit, modified)
	if err != nil {
		return version.Token{}, err
	}
	g.Observe(key, tok)
	return tok, nil
}

func (g *Guard) Observed(key Key) (version.Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok, ok := g.observed[key]
	return tok, ok
}

// Forget drops any token held for key, e.g. after the resource is deleted.
func (g *Guard) Forget(key Key) {
	g.mu.Lock()
	delete(g.observed, key)
	g.mu.Unlock()
}

// Mutate runs fn with the observed token for key. The token is consumed: on
// success the returned token replaces it, on a precondition failure it is
// discarded and the caller must re-read before retrying. Other failures leave
// the token in place. Precondition failures are never retried.
func (g *Guard) Mutate(ctx context.Context, key Key, fn Mutation) (version.Token, error) {
	g.mu.Lock()
	tok, ok := g.observed[key]
	if !ok || tok.IsZero() {
		g.mu.Unlock()
		return version.Token{}, fmt.Errorf("%w: %s", ErrMissingVersion, key)
	}
	if _, busy := g.inFlight[key]; busy {
		g.mu.Unlock()
		return version.Token{}, fmt.Errorf("%w: %s", ErrInFlight, key)
	}
	g.inFlight[key] = struct{}{}
	delete(g.observed, key)
	g.mu.Unlock()

	finished := false
	defer func() {
		if finished {
			return
		}
		// fn panicked; free the key and keep the token as for a transport error.
		g.mu.Lock()
		delete(g.inFlight, key)
		if _, replaced := g.observed[key]; !replaced {
			g.observed[key] = tok
		}
		g.mu.Unlock()
	}()

	next, err := fn(ctx, tok)
	finished = true

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
	switch {
	case err == nil:
		if !next.IsZero() {
			g.observed[key] = next
		}
	case errors.Is(err, version.ErrPreconditionFailed):
		// stale; the caller re-reads
	default:
		if _, replaced := g.observed[key]; !replaced {
			g.observed[key] = tok
		}
	}
	if err != nil {
		return version.Token{}, err
	}
	return next, nil
}
