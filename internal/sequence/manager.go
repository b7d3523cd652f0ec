// Package sequence implements the Sequence Manager (C6): runs an optional
// auth prelude when the variable store passed in holds no access_token,
// caching the resulting token in that store before a dependent step is
// dispatched.
package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/blackcoderx/loadgen/internal/httpexec"
	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/request"
	"github.com/blackcoderx/loadgen/internal/variables"
)

// preludeStepName is the synthetic step name the token exchange is recorded
// under, matching scenario 4's per_step["prelude/token"] counter.
const preludeStepName = "prelude/token"

// AuthPrelude is the optional client-credentials auth flow (§4.6). It is a
// single form-encoded token exchange against TokenURL; there is no separate
// JWT issuance step.
type AuthPrelude struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Manager ensures a cached access_token exists before a step that needs one
// is dispatched, running the prelude only when the given store has no
// access_token. The scheduler builds a fresh store for every iteration, so
// the token is not carried from one iteration to the next: the prelude runs
// once in each iteration that reaches a dependent step. Expired tokens are
// not detected and a refresh_token is never used. The token exchange itself is routed
// through the same Executor/Aggregator every ordinary step uses, so it
// shows up as a recorded result under preludeStepName rather than as an
// invisible side channel.
type Manager struct {
	prelude *AuthPrelude
	exec    *httpexec.Executor
	agg     *metrics.Aggregator
	log     *zap.SugaredLogger
}

// New builds a Manager. prelude may be nil when the collection has no auth
// requirement. exec/agg may be nil only in tests that never exercise a
// configured prelude.
func New(prelude *AuthPrelude, exec *httpexec.Executor, agg *metrics.Aggregator, log *zap.SugaredLogger) *Manager {
	return &Manager{prelude: prelude, exec: exec, agg: agg, log: log}
}

// NeedsAuth reports whether a step's template references {{access_token}}
// or carries an Authorization header — the textual convention §4.6 uses to
// detect a dependent step.
func NeedsAuth(tmpl loadmodel.RequestTemplate) bool {
	if strings.Contains(tmpl.URLRaw, "{{access_token}}") {
		return true
	}
	if bodyReferencesToken(tmpl) {
		return true
	}
	for _, h := range tmpl.Headers {
		if strings.EqualFold(h.Key, "Authorization") {
			return true
		}
		if strings.Contains(h.Value, "{{access_token}}") {
			return true
		}
	}
	return false
}

func bodyReferencesToken(tmpl loadmodel.RequestTemplate) bool {
	if tmpl.Body.Kind == loadmodel.BodyRaw {
		return strings.Contains(tmpl.Body.Raw, "{{access_token}}")
	}
	for _, f := range tmpl.Body.Fields {
		if strings.Contains(f.Value, "{{access_token}}") {
			return true
		}
	}
	return false
}

// Ensure runs the prelude if vars does not already hold a cached
// access_token. Prelude failure does not abort the VU — it logs and
// returns, leaving the dependent step to fail validation naturally (§4.6).
// vars is VU-local, so Ensure is safe to call concurrently across VUs
// sharing one Manager: every write lands in the caller's own Store.
func (m *Manager) Ensure(ctx context.Context, vars *variables.Store) {
	if m.prelude == nil {
		return
	}
	if _, ok := vars.Get("access_token"); ok {
		return
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", vars.Resolve(m.prelude.ClientID))
	form.Set("client_secret", vars.Resolve(m.prelude.ClientSecret))
	if len(m.prelude.Scopes) > 0 {
		form.Set("scope", strings.Join(m.prelude.Scopes, " "))
	}

	prepared := request.Prepared{
		Method:      loadmodel.MethodPost,
		URL:         vars.Resolve(m.prelude.TokenURL),
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}
	criteria := loadmodel.SuccessCriteria{AcceptedStatusCodes: []int{200}}

	result, bodyText := m.exec.Execute(ctx, prepared, preludeStepName, criteria)
	if m.agg != nil {
		m.agg.Record(result)
	}

	if !result.IsSuccess {
		if m.log != nil {
			m.log.Warnw("auth prelude failed; dependent step will proceed and fail validation naturally", "status", result.StatusCode, "error", result.ErrorMessage)
		}
		return
	}

	token, err := parseTokenResponse(bodyText)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("auth prelude returned an unparseable token response", "error", err)
		}
		return
	}

	vars.Set("access_token", token.AccessToken)
	if token.RefreshToken != "" {
		vars.Set("refresh_token", token.RefreshToken)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func parseTokenResponse(body string) (tokenResponse, error) {
	var tok tokenResponse
	if err := json.Unmarshal([]byte(body), &tok); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("token response has no access_token")
	}
	return tok, nil
}
