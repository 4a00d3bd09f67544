package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"famvault.org/internal/access"
	"famvault.org/internal/auth"
	"famvault.org/internal/client"
	"famvault.org/internal/docs"
	"famvault.org/internal/version"
)

// Several sessions rename one document concurrently. Every write carries the
// version its session last read, so losers get 412 and re-read; no write is
// ever lost silently.
func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent session count")
		duration = flag.Duration("duration", 30*time.Second, "Duration of the run")
		userID   = flag.String("user", "u-admin", "Acting user")
		familyID = flag.String("family", "fam-demo", "Acting user's family")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	actor := access.Actor{ID: *userID, Role: access.RoleFamilyAdmin, FamilyID: *familyID}
	token, err := auth.GenerateToken(actor, *duration+time.Minute)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	newSession := func() *client.Session {
		c, err := client.New(*baseURL, client.WithToken(token))
		if err != nil {
			log.Fatalf("client: %v", err)
		}
		return client.NewSession(c)
	}

	setup := newSession()
	doc, err := setup.CreateDocument(ctx, docs.NewDocument{
		Title:      "contention-" + uuid.NewString()[:8],
		CategoryID: "education",
		File:       docs.FileDescriptor{Name: "note.txt", ContentType: "text/plain", Size: 1},
	})
	if err != nil {
		log.Fatalf("create document: %v", err)
	}
	log.Printf("Launching contention run: base=%s workers=%d duration=%s document=%s", *baseURL, *workers, *duration, doc.ID)

	var successes, stale, rateLimited, failures int64
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s := newSession()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			if _, err := s.OpenDocument(ctx, doc.ID); err != nil {
				log.Printf("worker %d open: %v", id, err)
				atomic.AddInt64(&failures, 1)
				return
			}
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				title := "rename-" + uuid.NewString()[:8]
				_, err := s.UpdateDocument(ctx, doc.ID, docs.DocumentPatch{Title: &title})
				switch {
				case err == nil:
					atomic.AddInt64(&successes, 1)
				case errors.Is(err, version.ErrPreconditionFailed):
					atomic.AddInt64(&stale, 1)
					if _, err := s.OpenDocument(ctx, doc.ID); err != nil {
						log.Printf("worker %d re-open: %v", id, err)
						atomic.AddInt64(&failures, 1)
						return
					}
				case errors.Is(err, client.ErrRateLimited):
					atomic.AddInt64(&rateLimited, 1)
					time.Sleep(250 * time.Millisecond)
				default:
					atomic.AddInt64(&failures, 1)
					log.Printf("worker %d rename failed: %v", id, err)
					time.Sleep(200 * time.Millisecond)
				}
				time.Sleep(time.Duration(10+rnd.Intn(40)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	log.Printf("Run complete: %d applied / %d stale / %d rate_limited / %d failed", successes, stale, rateLimited, failures)
	if failures > 0 {
		os.Exit(1)
	}
}
