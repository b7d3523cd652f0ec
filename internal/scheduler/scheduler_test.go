package scheduler

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackcoderx/loadgen/internal/httpexec"
	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/variables"
)

func newTestVars() *variables.Store {
	return variables.New(nil)
}

func newTestRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func pingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
}

func baseTemplates(url string) Templates {
	return Templates{
		ByName: map[string]loadmodel.RequestTemplate{
			"ping": {
				Name:   "ping",
				Method: loadmodel.MethodGet,
				URLRaw: url + "/ping",
			},
		},
		Rows:    []loadmodel.DataRow{{"id": "1"}, {"id": "2"}},
		Globals: map[string]string{},
	}
}

// TestPhaseTargetShape checks P5: the target-count formula at representative
// points in each phase matches §4.8's piecewise-linear definition.
func TestPhaseTargetShape(t *testing.T) {
	cfg := loadmodel.RunConfig{
		RampUpMs: 2000, TestMs: 6000, RampDownMs: 2000, MaxVUs: 5,
	}
	s := &Scheduler{cfg: cfg}

	cases := []struct {
		elapsed time.Duration
		phase   Phase
		target  int
	}{
		{0, PhaseRampUp, 0},
		{1 * time.Second, PhaseRampUp, 2}, // floor(5*1000/2000) = 2
		{2 * time.Second, PhaseRampUp, 5}, // boundary: elapsed == rampUp, last instant of ramp-up
		{5 * time.Second, PhaseSteady, 5},
		{8 * time.Second, PhaseSteady, 5}, // boundary: elapsed == rampUp+test
		{9 * time.Second, PhaseRampDown, 2},  // floor(5*(1-0.5))=2
		{10 * time.Second, PhaseRampDown, 0}, // elapsed == total, last instant of ramp-down
		{11 * time.Second, PhaseDrain, 0},
	}

	for _, c := range cases {
		phase, target := s.phaseAndTarget(c.elapsed)
		if phase != c.phase {
			t.Errorf("elapsed=%v: phase = %v, want %v", c.elapsed, phase, c.phase)
		}
		if target < c.target-1 || target > c.target+1 {
			t.Errorf("elapsed=%v: target = %d, want within ±1 of %d", c.elapsed, target, c.target)
		}
	}
}

func TestPhaseTargetNeverExceedsMaxVUs(t *testing.T) {
	cfg := loadmodel.RunConfig{RampUpMs: 1000, TestMs: 1000, RampDownMs: 1000, MaxVUs: 8}
	s := &Scheduler{cfg: cfg}

	for ms := 0; ms <= 3000; ms += 50 {
		_, target := s.phaseAndTarget(time.Duration(ms) * time.Millisecond)
		if target > cfg.MaxVUs || target < 0 {
			t.Fatalf("at %dms: target = %d, out of bounds [0,%d]", ms, target, cfg.MaxVUs)
		}
	}
}

// TestSchedulerCancellationBound checks P6: a cancelled run's VU pool drains
// well within the 10s grace period once the context is cancelled early.
func TestSchedulerCancellationBound(t *testing.T) {
	srv := pingServer(t)
	defer srv.Close()

	cfg := loadmodel.RunConfig{
		RampUpMs: 100, TestMs: 60000, RampDownMs: 100, MaxVUs: 3,
		RequestTimeoutMs: 1000,
		StepSequence: []loadmodel.IterationStep{
			{StepName: "ping", Enabled: true, InterStepDelayMs: 10},
		},
	}

	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "cancel-test")
	s := New(cfg, baseTemplates(srv.URL), exec, nil, agg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(11 * time.Second):
		t.Fatal("scheduler did not return within the 10s drain grace bound")
	}
}

func TestRunIterationRecordsMetrics(t *testing.T) {
	srv := pingServer(t)
	defer srv.Close()

	cfg := loadmodel.RunConfig{
		RequestTimeoutMs: 1000,
		StepSequence: []loadmodel.IterationStep{
			{StepName: "ping", Enabled: true},
		},
	}
	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "iter-test")
	s := New(cfg, baseTemplates(srv.URL), exec, nil, agg, nil, nil)

	s.runIteration(context.Background(), 1, newTestRand())

	snap := agg.Snapshot()
	if snap.Total != 1 || snap.Succeeded != 1 {
		t.Fatalf("snapshot = %+v, want 1 total/succeeded", snap)
	}
}

// TestRunIterationPicksFreshRowEachCall checks P4 (row coverage): repeated
// iterations against a multi-row dataset eventually exercise more than one
// row, confirming each call re-picks a random row rather than pinning one
// row for the lifetime of the VU (the "scheduler freshness bug" fix).
func TestRunIterationPicksFreshRowEachCall(t *testing.T) {
	seen := make(map[string]struct{})
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = struct{}{}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	templates := Templates{
		ByName: map[string]loadmodel.RequestTemplate{
			"get-user": {
				Name:   "get-user",
				Method: loadmodel.MethodGet,
				URLRaw: srv.URL + "/users/{{id}}",
			},
		},
		Rows: []loadmodel.DataRow{
			{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}, {"id": "5"},
		},
		Source: loadmodel.DataSourceConfig{
			Columns: []loadmodel.ColumnMapping{{CSVColumn: "id", PlaceholderName: "id"}},
		},
		Globals: map[string]string{},
	}

	cfg := loadmodel.RunConfig{
		RequestTimeoutMs: 1000,
		StepSequence: []loadmodel.IterationStep{
			{StepName: "get-user", Enabled: true},
		},
	}
	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "freshness-test")
	s := New(cfg, templates, exec, nil, agg, nil, nil)

	rng := newTestRand()
	for i := 0; i < 40; i++ {
		s.runIteration(context.Background(), 1, rng)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("iterations hit %d distinct rows, want at least 2 across 40 runs: %v", len(seen), seen)
	}
}

// TestRunStepPromotesPostScriptVariableAcrossSteps checks that runStep
// threads a real temp map through the pre-/post-script calls, so a
// statement-6 promotion from one step's response reaches vars in time for
// the next step in the same iteration (§4.4 stmt 6, §5 ordering, P8).
func TestRunStepPromotesPostScriptVariableAcrossSteps(t *testing.T) {
	var authHeader string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"tok-abc"}`))
		case "/profile":
			mu.Lock()
			authHeader = r.Header.Get("Authorization")
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	loginTmpl := loadmodel.RequestTemplate{
		Name:   "login",
		Method: loadmodel.MethodGet,
		URLRaw: srv.URL + "/login",
		PostScript: []loadmodel.ScriptStatement{
			`var token = JSON.parse(responseBody).token;`,
			`pm.collectionVariables.set("access_token", token);`,
		},
	}
	profileTmpl := loadmodel.RequestTemplate{
		Name:    "profile",
		Method:  loadmodel.MethodGet,
		URLRaw:  srv.URL + "/profile",
		Headers: []loadmodel.KV{{Key: "Authorization", Value: "Bearer {{access_token}}"}},
	}

	cfg := loadmodel.RunConfig{
		RequestTimeoutMs: 1000,
		StepSequence: []loadmodel.IterationStep{
			{StepName: "login", Enabled: true},
			{StepName: "profile", Enabled: true},
		},
	}
	templates := Templates{
		ByName: map[string]loadmodel.RequestTemplate{
			"login":   loginTmpl,
			"profile": profileTmpl,
		},
		Rows:    []loadmodel.DataRow{{}},
		Globals: map[string]string{},
	}
	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "script-test")
	s := New(cfg, templates, exec, nil, agg, nil, nil)

	s.runIteration(context.Background(), 1, newTestRand())

	mu.Lock()
	defer mu.Unlock()
	if authHeader != "Bearer tok-abc" {
		t.Fatalf("Authorization header = %q, want %q (post-script promotion did not reach the next step)", authHeader, "Bearer tok-abc")
	}
}

// TestRunStepRecordsSyntheticFailureOnBuildError checks §7: a request that
// fails to build (malformed template) must still be recorded as a
// synthetic transport failure, not silently dropped from the totals.
func TestRunStepRecordsSyntheticFailureOnBuildError(t *testing.T) {
	cfg := loadmodel.RunConfig{RequestTimeoutMs: 1000}
	templates := Templates{Globals: map[string]string{}}
	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "build-fail-test")
	s := New(cfg, templates, exec, nil, agg, nil, nil)

	badTmpl := loadmodel.RequestTemplate{
		Name:   "broken",
		Method: loadmodel.MethodPost,
		URLRaw: "http://example.invalid/x",
		Body:   loadmodel.Body{Kind: loadmodel.BodyKind(999)},
	}
	s.runStep(context.Background(), badTmpl, loadmodel.IterationStep{StepName: "broken", Enabled: true}, newTestVars())

	snap := agg.Snapshot()
	if snap.Total != 1 {
		t.Fatalf("snapshot.Total = %d, want 1 for a recorded build failure", snap.Total)
	}
	if snap.Succeeded != 0 || snap.Failed != 1 {
		t.Fatalf("snapshot = %+v, want 0 succeeded/1 failed", snap)
	}
}

func TestDisabledStepIsSkipped(t *testing.T) {
	srv := pingServer(t)
	defer srv.Close()

	cfg := loadmodel.RunConfig{
		RequestTimeoutMs: 1000,
		StepSequence: []loadmodel.IterationStep{
			{StepName: "ping", Enabled: false},
		},
	}
	exec := httpexec.New(httpexec.Options{RequestTimeoutMs: 1000})
	agg := metrics.New(prometheus.NewRegistry(), "skip-test")
	s := New(cfg, baseTemplates(srv.URL), exec, nil, agg, nil, nil)

	s.runIteration(context.Background(), 1, newTestRand())

	snap := agg.Snapshot()
	if snap.Total != 0 {
		t.Fatalf("snapshot.Total = %d, want 0 for a disabled step", snap.Total)
	}
}
