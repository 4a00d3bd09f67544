package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"famvault.org/internal/version"
)

// fakeServer holds one resource and applies conditional writes.
type fakeServer struct {
	mu      sync.Mutex
	current version.Token
	writes  int
	next    []version.Token
}

func (s *fakeServer) write(_ context.Context, observed version.Token) (version.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := version.Check("document", "doc-1", observed, s.current); err != nil {
		return version.Token{}, err
	}
	s.writes++
	s.current = s.next[0]
	s.next = s.next[1:]
	return s.current, nil
}

var docKey = Key{Kind: "document", ID: "doc-1"}

func TestMutateAdvancesToken(t *testing.T) {
	v1, v2, v3 := version.MustParse("v1"), version.MustParse("v2"), version.MustParse("v3")
	srv := &fakeServer{current: v1, next: []version.Token{v2, v3}}

	alice, bob := New(), New()
	alice.Observe(docKey, v1)
	bob.Observe(docKey, v1)

	got, err := alice.Mutate(context.Background(), docKey, srv.write)
	if err != nil {
		t.Fatalf("alice mutate: %v", err)
	}
	if !got.Equal(v2) {
		t.Fatalf("expected v2, got %s", got)
	}
	if tok, _ := alice.Observed(docKey); !tok.Equal(v2) {
		t.Fatalf("alice should hold v2, got %s", tok)
	}

	_, err = bob.Mutate(context.Background(), docKey, srv.write)
	if !errors.Is(err, version.ErrPreconditionFailed) {
		t.Fatalf("stale v1 should fail, got %v", err)
	}
	var mismatch *version.MismatchError
	if !errors.As(err, &mismatch) || !mismatch.Current.Equal(v2) {
		t.Fatalf("expected mismatch carrying current version, got %v", err)
	}
	if _, ok := bob.Observed(docKey); ok {
		t.Fatalf("stale token must be discarded")
	}
	if _, err := bob.Mutate(context.Background(), docKey, srv.write); !errors.Is(err, ErrMissingVersion) {
		t.Fatalf("bob must re-read before retrying, got %v", err)
	}

	bob.Observe(docKey, v2)
	got, err = bob.Mutate(context.Background(), docKey, srv.write)
	if err != nil || !got.Equal(v3) {
		t.Fatalf("v2 mutate: %s %v", got, err)
	}
	if srv.writes != 2 {
		t.Fatalf("expected 2 writes, got %d", srv.writes)
	}
}

func TestMutateWithoutObservedVersionSendsNothing(t *testing.T) {
	g := New()
	called := false
	_, err := g.Mutate(context.Background(), docKey, func(context.Context, version.Token) (version.Token, error) {
		called = true
		return version.Token{}, nil
	})
	if !errors.Is(err, ErrMissingVersion) {
		t.Fatalf("expected ErrMissingVersion, got %v", err)
	}
	if called {
		t.Fatalf("mutation must not run without a version")
	}
	g.Observe(docKey, version.Token{})
	if _, ok := g.Observed(docKey); ok {
		t.Fatalf("zero token should not be recorded")
	}
}

func TestMutateRejectsConcurrentWrite(t *testing.T) {
	g := New()
	g.Observe(docKey, version.MustParse("v1"))
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := g.Mutate(context.Background(), docKey, func(context.Context, version.Token) (version.Token, error) {
			close(started)
			<-release
			return version.MustParse("v2"), nil
		})
		done <- err
	}()
	<-started

	g.Observe(docKey, version.MustParse("v1"))
	if _, err := g.Mutate(context.Background(), docKey, func(context.Context, version.Token) (version.Token, error) {
		t.Fatalf("second mutation must not run")
		return version.Token{}, nil
	}); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first mutation: %v", err)
	}
	if tok, _ := g.Observed(docKey); tok.String() != "v2" {
		t.Fatalf("expected v2 after completion, got %s", tok)
	}
}

func TestMutateRestoresTokenOnTransportError(t *testing.T) {
	g := New()
	v1 := version.MustParse("v1")
	g.Observe(docKey, v1)
	boom := errors.New("connection reset")
	if _, err := g.Mutate(context.Background(), docKey, func(context.Context, version.Token) (version.Token, error) {
		return version.Token{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if tok, ok := g.Observed(docKey); !ok || !tok.Equal(v1) {
		t.Fatalf("token should survive a non-precondition failure, got %s", tok)
	}
}

func TestMutateReleasesKeyAfterPanic(t *testing.T) {
	g := New()
	v1 := version.MustParse("v1")
	g.Observe(docKey, v1)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected the mutation panic to propagate")
			}
		}()
		_, _ = g.Mutate(context.Background(), docKey, func(context.Context, version.Token) (version.Token, error) {
			panic("decoder blew up")
		})
	}()

	v2 := version.MustParse("v2")
	next, err := g.Mutate(context.Background(), docKey, func(_ context.Context, observed version.Token) (version.Token, error) {
		if !observed.Equal(v1) {
			t.Fatalf("expected the pre-panic token, got %s", observed)
		}
		return v2, nil
	})
	if err != nil {
		t.Fatalf("key stayed in flight after panic: %v", err)
	}
	if !next.Equal(v2) {
		t.Fatalf("unexpected token %s", next)
	}
}

func TestObserveSnapshotFallsBackToModifiedTime(t *testing.T) {
	g := New()
	modified := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tok, err := g.ObserveSnapshot(docKey, "", modified)
	if err != nil {
		t.Fatalf("ObserveSnapshot: %v", err)
	}
	if tok.String() != "20240102T000000Z" {
		t.Fatalf("unexpected synthesized token %s", tok)
	}
	tok, err = g.ObserveSnapshot(docKey, `W/"abc"`, modified)
	if err != nil || tok.String() != "abc" {
		t.Fatalf("explicit token should win: %s %v", tok, err)
	}
	if _, err := g.ObserveSnapshot(docKey, `"a b"`, modified); !errors.Is(err, version.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	g.Forget(docKey)
	if _, ok := g.Observed(docKey); ok {
		t.Fatalf("Forget should drop the token")
	}
}
