package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"famvault.org/internal/access"
)

const (
	issuer = "famvault"

	secretEnvVariable         = "FAMVAULT_AUTH_SECRET"
	previousSecretEnvVariable = "FAMVAULT_AUTH_PREVIOUS_SECRET"

	clockSkew = 5 * time.Second
)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")

	errMissingSecret = errors.New("auth secret is not configured")
)

// keyring holds the signing secret and, during rotation, the secret it
// replaced. Tokens are always signed with current; both verify.
type keyring struct {
	current  []byte
	previous []byte
	loaded   bool
}

var (
	keysMu sync.Mutex
	keys   keyring
)

// Claims carries the actor the token was issued for.
type Claims struct {
	Role     access.Role `json:"role"`
	FamilyID string      `json:"family_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the actor passed to the resolver.
func (c *Claims) Actor() access.Actor {
	return access.Actor{ID: c.Subject, Role: c.Role, FamilyID: c.FamilyID}
}

// GenerateToken signs a JWT for actor using HS256.
func GenerateToken(actor access.Actor, ttl time.Duration) (string, error) {
	subject := strings.TrimSpace(actor.ID)
	if subject == "" {
		return "", errors.New("actor id is required")
	}
	role, err := access.ParseRole(string(actor.Role))
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	kr, err := currentKeys()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:     role,
		FamilyID: strings.TrimSpace(actor.FamilyID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}).SignedString(kr.current)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the signature against the current secret, then
// the previous one, and checks the famvault-specific claims. Every failure
// is reported as ErrInvalidToken; a missing secret is returned as is.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	kr, err := currentKeys()
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	for _, key := range [][]byte{kr.current, kr.previous} {
		if key == nil {
			continue
		}
		claims := &Claims{}
		_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return key, nil })
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			continue
		}
		if err != nil {
			return nil, ErrInvalidToken
		}
		if err := checkActor(claims); err != nil {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func checkActor(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	role, err := access.ParseRole(string(claims.Role))
	if err != nil {
		return err
	}
	claims.Role = role
	claims.FamilyID = strings.TrimSpace(claims.FamilyID)
	if role != access.RoleSuperAdmin && claims.FamilyID == "" {
		return errors.New("family missing")
	}
	return nil
}

// SetSecret installs the signing secret, overriding the environment. The
// optional previous secret keeps tokens signed before a rotation valid.
// An empty current value falls back to FAMVAULT_AUTH_SECRET.
func SetSecret(current string, previous ...string) {
	keysMu.Lock()
	defer keysMu.Unlock()
	current = strings.TrimSpace(current)
	if current == "" {
		keys = keyring{}
		return
	}
	keys = keyring{current: []byte(current), loaded: true}
	if len(previous) > 0 {
		keys.previous = nonEmpty(previous[0])
	}
}

// Configured reports whether a signing secret is available.
func Configured() bool {
	_, err := currentKeys()
	return err == nil
}

func currentKeys() (keyring, error) {
	keysMu.Lock()
	defer keysMu.Unlock()
	if !keys.loaded {
		keys = keyring{
			current:  nonEmpty(os.Getenv(secretEnvVariable)),
			previous: nonEmpty(os.Getenv(previousSecretEnvVariable)),
			loaded:   true,
		}
	}
	if keys.current == nil {
		return keyring{}, errMissingSecret
	}
	return keys, nil
}

func nonEmpty(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []byte(s)
}

// ResetSecretForTests drops the loaded secrets so the next call rereads the
// environment.
func ResetSecretForTests() {
	keysMu.Lock()
	defer keysMu.Unlock()
	keys = keyring{}
}
