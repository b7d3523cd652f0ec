package sequence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackcoderx/loadgen/internal/httpexec"
	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/variables"
)

func TestNeedsAuthDetectsURLReference(t *testing.T) {
	tmpl := loadmodel.RequestTemplate{URLRaw: "https://api.example.com/me?token={{access_token}}"}
	if !NeedsAuth(tmpl) {
		t.Fatalf("expected NeedsAuth true for URL referencing access_token")
	}
}

func TestNeedsAuthDetectsAuthorizationHeader(t *testing.T) {
	tmpl := loadmodel.RequestTemplate{
		Headers: []loadmodel.KV{{Key: "Authorization", Value: "Bearer {{access_token}}"}},
	}
	if !NeedsAuth(tmpl) {
		t.Fatalf("expected NeedsAuth true for Authorization header")
	}
}

func TestNeedsAuthFalseForUnrelatedStep(t *testing.T) {
	tmpl := loadmodel.RequestTemplate{URLRaw: "https://api.example.com/ping"}
	if NeedsAuth(tmpl) {
		t.Fatalf("expected NeedsAuth false")
	}
}

func TestEnsureSkipsWhenTokenAlreadyCached(t *testing.T) {
	vars := variables.New(map[string]string{"access_token": "cached"})
	// A prelude is configured but no Executor is wired: if Ensure did not
	// return on the cached token it would call the nil Executor and panic.
	// This asserts the cached value is used and left untouched.
	m := New(&AuthPrelude{TokenURL: "http://127.0.0.1:1/token", ClientID: "id"}, nil, nil, nil)
	m.Ensure(nil, vars) //nolint:staticcheck // a cached token returns before ctx is used

	v, _ := vars.Get("access_token")
	if v != "cached" {
		t.Fatalf("cached token was overwritten: %q", v)
	}
}

// TestEnsureRunsPreludeAndRecordsMetric checks that the token exchange is
// routed through the real Executor/Aggregator pair, so it lands in
// per_step["prelude/token"] (§4.6 scenario 4) instead of bypassing metrics.
func TestEnsureRunsPreludeAndRecordsMetric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":3600}`))
	}))
	defer srv.Close()

	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "prelude-test")
	m := New(&AuthPrelude{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, exec, agg, nil)

	vars := variables.New(nil)
	m.Ensure(context.Background(), vars)

	token, ok := vars.Get("access_token")
	if !ok || token != "tok-123" {
		t.Fatalf("access_token = %q, ok=%v, want tok-123", token, ok)
	}

	snap := agg.Snapshot()
	if snap.Total != 1 || snap.Succeeded != 1 {
		t.Fatalf("snapshot = %+v, want 1 total/succeeded for the recorded prelude exchange", snap)
	}
	if len(snap.PerStepSamples[preludeStepName]) != 1 {
		t.Fatalf("per-step samples for %q = %v, want exactly 1", preludeStepName, snap.PerStepSamples[preludeStepName])
	}
}
