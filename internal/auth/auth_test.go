package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"famvault.org/internal/access"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv(secretEnvVariable, value)
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "test-secret")
	actor := access.Actor{ID: "user-42", Role: access.RoleFamilyAdmin, FamilyID: "fam-1"}
	token, err := GenerateToken(actor, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if got := claims.Actor(); got != actor {
		t.Fatalf("unexpected actor: %+v", got)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be set")
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	withSecret(t, "test-secret")
	token, err := GenerateToken(access.Actor{ID: "u1", Role: access.RoleMember, FamilyID: "fam-1"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	ResetSecretForTests()
	t.Setenv(secretEnvVariable, "other-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseAndValidate("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestValidateRejectsBadClaims(t *testing.T) {
	withSecret(t, "test-secret")
	now := time.Now().UTC()
	sign := func(c Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "u1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	cases := map[string]Claims{
		"unknown role":   {Role: "owner", FamilyID: "fam-1", RegisteredClaims: base},
		"missing family": {Role: access.RoleMember, RegisteredClaims: base},
	}
	wrongIssuer := base
	wrongIssuer.Issuer = "someone-else"
	cases["wrong issuer"] = Claims{Role: access.RoleMember, FamilyID: "fam-1", RegisteredClaims: wrongIssuer}
	for name, c := range cases {
		if _, err := ParseAndValidate(sign(c)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	super := Claims{Role: access.RoleSuperAdmin, RegisteredClaims: base}
	if _, err := ParseAndValidate(sign(super)); err != nil {
		t.Fatalf("super admin without family should validate: %v", err)
	}
}

func TestValidateAcceptsPreviousSecret(t *testing.T) {
	withSecret(t, "old-secret")
	actor := access.Actor{ID: "u1", Role: access.RoleMember, FamilyID: "fam-1"}
	oldToken, err := GenerateToken(actor, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	SetSecret("new-secret", "old-secret")
	claims, err := ParseAndValidate(oldToken)
	if err != nil {
		t.Fatalf("token signed with previous secret: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	newToken, err := GenerateToken(actor, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	SetSecret("new-secret")
	if _, err := ParseAndValidate(oldToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("previous secret dropped, expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(newToken); err != nil {
		t.Fatalf("new token: %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	withSecret(t, "test-secret")
	past := time.Now().UTC().Add(-time.Hour)
	c := Claims{Role: access.RoleMember, FamilyID: "fam-1", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "u1",
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
	}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndValidate(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestGenerateRequiresSecretAndActor(t *testing.T) {
	withSecret(t, "")
	if _, err := GenerateToken(access.Actor{ID: "u1", Role: access.RoleMember, FamilyID: "f"}, time.Minute); err == nil {
		t.Fatalf("expected missing secret error")
	}
	SetSecret("explicit")
	if !Configured() {
		t.Fatalf("SetSecret should configure signing")
	}
	if _, err := GenerateToken(access.Actor{Role: access.RoleMember}, time.Minute); err == nil {
		t.Fatalf("expected error for empty actor id")
	}
	if _, err := GenerateToken(access.Actor{ID: "u1", Role: access.RoleMember, FamilyID: "f"}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("empty context should carry no actor")
	}
	actor := access.Actor{ID: "user-7", Role: access.RoleMember, FamilyID: "fam-1"}
	ctx = ContextWithActor(ctx, actor)
	ctx = ContextWithToken(ctx, "tok")
	got, ok := ActorFromContext(ctx)
	if !ok || got != actor {
		t.Fatalf("unexpected actor: %+v ok=%v", got, ok)
	}
	if id, ok := UserIDFromContext(ctx); !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s ok=%v", id, ok)
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %s", tok)
	}
}
