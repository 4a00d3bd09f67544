package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                       "/",
		"/metrics":                               "/metrics",
		"/v1/documents":                          "/v1/documents",
		"/v1/documents/abc":                      "/v1/documents/:id",
		"/v1/documents/abc/file":                 "/v1/documents/:id/file",
		"/v1/documents/abc/grants":               "/v1/documents/:id/grants",
		"/v1/documents/abc/grants/bulk":          "/v1/documents/:id/grants/bulk",
		"/v1/documents/abc/grants/u1":            "/v1/documents/:id/grants/:user_id",
		"/v1/documents/abc/extra":                "/v1/documents/abc/extra",
		"/v1/users/u1":                           "/v1/users/:id",
		"/v1/families/f1":                        "/v1/families/:id",
		"/v1/families/f1/members":                "/v1/families/f1/members",
		"/v1/documents/abc?include=capabilities": "/v1/documents/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestDomainCounters(t *testing.T) {
	before := value(t, preconditionFailures.WithLabelValues("document"))
	RecordPreconditionFailure("document")
	if got := value(t, preconditionFailures.WithLabelValues("document")); got != before+1 {
		t.Fatalf("precondition counter = %v, want %v", got, before+1)
	}

	created := value(t, grantOutcomes.WithLabelValues("created"))
	rejected := value(t, grantOutcomes.WithLabelValues("rejected"))
	RecordGrantOutcomes(2, 0, 1)
	if got := value(t, grantOutcomes.WithLabelValues("created")); got != created+2 {
		t.Fatalf("created counter = %v", got)
	}
	if got := value(t, grantOutcomes.WithLabelValues("rejected")); got != rejected+1 {
		t.Fatalf("rejected counter = %v", got)
	}

	denied := value(t, accessDenied.WithLabelValues("delete"))
	RecordAccessDenied("delete")
	if got := value(t, accessDenied.WithLabelValues("delete")); got != denied+1 {
		t.Fatalf("denied counter = %v", got)
	}
}

func TestInstrumentUsesCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	label := httpRequestsTotal.WithLabelValues(http.MethodPatch, "/v1/documents/:id", "412")
	before := value(t, label)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/v1/documents/doc-9", nil))
	if got := value(t, label); got != before+1 {
		t.Fatalf("request counter = %v, want %v", got, before+1)
	}
}

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestInitBuildInfoReplacesLabels(t *testing.T) {
	InitBuildInfo("1.2.3", "abc")
	InitBuildInfo("", "")
	b := CurrentBuild()
	if b.Version != "dev" || b.Commit != "unknown" || b.GoVersion == "" {
		t.Fatalf("build = %+v", b)
	}
	var m dto.Metric
	if err := buildInfo.WithLabelValues("dev", "unknown", b.GoVersion).Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Fatalf("build_info = %v, want 1", got)
	}
}
