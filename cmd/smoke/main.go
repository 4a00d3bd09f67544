package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"famvault.org/internal/access"
	"famvault.org/internal/auth"
	"famvault.org/internal/client"
	"famvault.org/internal/docs"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

// Runs the version handshake end to end against a server seeded with the
// demo family. Tokens are minted locally with FAMVAULT_AUTH_SECRET.
func main() {
	baseURL := os.Getenv("FAMVAULT_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	admin := session(baseURL, access.Actor{ID: "u-admin", Role: access.RoleFamilyAdmin, FamilyID: "fam-demo"})
	alice := session(baseURL, access.Actor{ID: "u-alice", Role: access.RoleMember, FamilyID: "fam-demo"})

	ctx, cancel := client.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doc, err := admin.CreateDocument(ctx, docs.NewDocument{
		Title:      "Smoke passport",
		CategoryID: "identity",
		File:       docs.FileDescriptor{Name: "passport.pdf", ContentType: "application/pdf", Size: 1024},
	})
	if err != nil {
		log.Fatalf("create document: %v", err)
	}

	res, err := admin.Share(ctx, doc.ID, []sharing.Item{{UserID: "u-alice", AccessLevel: "editor"}})
	if err != nil {
		log.Fatalf("share: %v", err)
	}
	if len(res.Rejected) != 0 {
		log.Fatalf("share rejected: %+v", res.Rejected)
	}

	if _, err := alice.OpenDocument(ctx, doc.ID); err != nil {
		log.Fatalf("alice open: %v", err)
	}
	title := "Smoke passport (renewed)"
	if _, err := admin.UpdateDocument(ctx, doc.ID, docs.DocumentPatch{Title: &title}); err != nil {
		log.Fatalf("admin rename: %v", err)
	}

	stale := "Smoke passport (stale)"
	if _, err := alice.UpdateDocument(ctx, doc.ID, docs.DocumentPatch{Title: &stale}); !errors.Is(err, version.ErrPreconditionFailed) {
		log.Fatalf("stale rename: expected precondition failure, got %v", err)
	}
	if _, err := alice.OpenDocument(ctx, doc.ID); err != nil {
		log.Fatalf("alice re-open: %v", err)
	}
	if _, err := alice.UpdateDocument(ctx, doc.ID, docs.DocumentPatch{Title: &stale}); err != nil {
		log.Fatalf("alice rename after re-read: %v", err)
	}

	if _, err := admin.Grants(ctx, doc.ID); err != nil {
		log.Fatalf("list grants: %v", err)
	}
	if err := admin.Revoke(ctx, doc.ID, "u-alice"); err != nil {
		log.Fatalf("revoke: %v", err)
	}
	if _, err := alice.OpenDocument(ctx, doc.ID); !errors.Is(err, docs.ErrPermissionDenied) && !errors.Is(err, docs.ErrNotFound) {
		log.Fatalf("revoked read: expected denial, got %v", err)
	}

	if _, err := admin.OpenDocument(ctx, doc.ID); err != nil {
		log.Fatalf("admin re-open: %v", err)
	}
	if err := admin.DeleteDocument(ctx, doc.ID); err != nil {
		log.Fatalf("delete: %v", err)
	}

	fmt.Printf("✅ famvault smoke test passed: document=%s\n", doc.ID)
}

func session(baseURL string, actor access.Actor) *client.Session {
	tok, err := auth.GenerateToken(actor, 10*time.Minute)
	if err != nil {
		log.Fatalf("mint token for %s: %v", actor.ID, err)
	}
	c, err := client.New(baseURL, client.WithToken(tok))
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	return client.NewSession(c)
}
