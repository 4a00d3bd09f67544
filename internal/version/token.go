package version

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout encodes a last-modified instant. Trailing fractional zeros are
// trimmed, so whole seconds encode as 20240101T000000Z.
const timeLayout = "20060102T150405.999999999Z"

var (
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrMalformed          = errors.New("malformed version token")
)

// Token is an opaque version of a resource snapshot. The zero value means
// "no version observed".
type Token struct {
	value string
}

// Parse builds a token from a header or body value supplied by the store.
// Weak markers, surrounding quotes and whitespace are stripped.
func Parse(raw string) (Token, error) {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "W/")
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if v == "" {
		return Token{}, nil
	}
	if strings.ContainsAny(v, "\" \t\r\n,") {
		return Token{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	return Token{value: v}, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(raw string) Token {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// FromTime synthesizes a token from a last-modified instant. Two tokens
// computed for the same instant are byte-identical.
func FromTime(t time.Time) Token {
	if t.IsZero() {
		return Token{}
	}
	return Token{value: t.UTC().Format(timeLayout)}
}

// Resolve prefers an explicit token and falls back to the modification time.
func Resolve(explicit string, modified time.Time) (Token, error) {
	tok, err := Parse(explicit)
	if err != nil {
		return Token{}, err
	}
	if !tok.IsZero() {
		return tok, nil
	}
	return FromTime(modified), nil
}

// Time decodes a token produced by FromTime.
func (t Token) Time() (time.Time, bool) {
	if t.value == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(timeLayout, t.value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func (t Token) IsZero() bool { return t.value == "" }

func (t Token) String() string { return t.value }

// Equal is the only comparison used by precondition checks.
func (t Token) Equal(other Token) bool {
	return t.value != "" && t.value == other.value
}

// Header renders the token as a strong entity tag.
func (t Token) Header() string {
	if t.value == "" {
		return ""
	}
	return `"` + t.value + `"`
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.value), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MismatchError reports a stale write. It matches ErrPreconditionFailed.
type MismatchError struct {
	Resource string
	ID       string
	Expected Token
	Current  Token
}

func (e *MismatchError) Error() string {
	if e.Resource == "" {
		return ErrPreconditionFailed.Error()
	}
	return fmt.Sprintf("%s %s changed since it was read: %s", e.Resource, e.ID, ErrPreconditionFailed)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// Check compares the caller's observed token with the current one.
func Check(resource, id string, observed, current Token) error {
	if observed.Equal(current) {
		return nil
	}
	return &MismatchError{Resource: resource, ID: id, Expected: observed, Current: current}
}
