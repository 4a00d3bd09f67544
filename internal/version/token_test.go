package version

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseStripsQuotingAndWhitespace(t *testing.T) {
	cases := map[string]string{
		`"abc"`:              "abc",
		` "abc" `:            "abc",
		`W/"abc"`:            "abc",
		`W/ "abc"`:           "abc",
		"abc":                "abc",
		`""`:                 "",
		"   ":                "",
		`"20240101T000000Z"`: "20240101T000000Z",
	}
	for input, expected := range cases {
		got, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", input, err)
		}
		if got.String() != expected {
			t.Fatalf("Parse(%q)=%q, want %q", input, got.String(), expected)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{`"a b"`, `"a","b"`, `a"b`} {
		if _, err := Parse(input); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): expected ErrMalformed, got %v", input, err)
		}
	}
}

func TestFromTimeIsDeterministic(t *testing.T) {
	instant := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := FromTime(instant)
	b := FromTime(instant.In(time.FixedZone("x", 5*3600)))
	if a.String() != "20240101T000000Z" {
		t.Fatalf("unexpected encoding: %s", a)
	}
	if !a.Equal(b) {
		t.Fatalf("tokens for same instant differ: %s vs %s", a, b)
	}

	withNanos := FromTime(instant.Add(1500 * time.Microsecond))
	if withNanos.String() != "20240101T000000.0015Z" {
		t.Fatalf("unexpected fractional encoding: %s", withNanos)
	}
	decoded, ok := withNanos.Time()
	if !ok || !decoded.Equal(instant.Add(1500*time.Microsecond)) {
		t.Fatalf("token did not decode back to instant: %v %v", decoded, ok)
	}
}

func TestSynthesizedTokenMatchesHeaderToken(t *testing.T) {
	synth := FromTime(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	header := MustParse(synth.Header())
	if !synth.Equal(header) {
		t.Fatalf("header round trip changed token: %s vs %s", synth, header)
	}
	if err := Check("document", "d1", header, synth); err != nil {
		t.Fatalf("expected equal tokens to pass: %v", err)
	}
}

func TestResolvePrefersExplicit(t *testing.T) {
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := Resolve(`"7"`, modified)
	if err != nil || tok.String() != "7" {
		t.Fatalf("expected explicit token, got %q err=%v", tok, err)
	}
	tok, err = Resolve("", modified)
	if err != nil || tok.String() != "20240101T000000Z" {
		t.Fatalf("expected synthesized token, got %q err=%v", tok, err)
	}
}

func TestZeroTokenNeverEqual(t *testing.T) {
	var zero Token
	if zero.Equal(Token{}) {
		t.Fatalf("zero tokens must not satisfy a precondition")
	}
	if zero.Header() != "" {
		t.Fatalf("zero token should render empty header")
	}
}

func TestCheckReportsMismatch(t *testing.T) {
	stale := MustParse("20240101T000000Z")
	current := MustParse("20240102T000000Z")
	err := Check("document", "doc-1", stale, current)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *MismatchError, got %T", err)
	}
	if !mismatch.Current.Equal(current) || !mismatch.Expected.Equal(stale) {
		t.Fatalf("unexpected mismatch payload: %+v", mismatch)
	}
}

func TestTokenJSON(t *testing.T) {
	type payload struct {
		Version Token `json:"version"`
	}
	data, err := json.Marshal(payload{Version: MustParse("42")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"version":"42"}` {
		t.Fatalf("unexpected json: %s", data)
	}
	var out payload
	if err := json.Unmarshal([]byte(`{"version":"\"43\""}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Version.String() != "43" {
		t.Fatalf("unexpected token: %s", out.Version)
	}
}
