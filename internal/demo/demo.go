// Package demo provides a self-contained mock HTTP backend used by
// `loadgen demo` to exercise the full pipeline without a real target: an
// instant endpoint, a slow endpoint, and an OAuth2-gated endpoint pair.
package demo

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// tokenTTL bounds how long an issued access token stays valid; after that
// /secure/profile rejects it with 401.
const tokenTTL = 30 * time.Second

// NewServer builds the mock backend's mux.
func NewServer() *http.ServeMux {
	h := &handlers{tokens: make(map[string]time.Time)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.ping)
	mux.HandleFunc("GET /slow", h.slow)
	mux.HandleFunc("POST /oauth/token", h.issueToken)
	mux.HandleFunc("GET /secure/profile", h.secureProfile)
	mux.HandleFunc("GET /users/{id}", h.getUser)
	return mux
}

type handlers struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func (h *handlers) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// slow simulates a slow downstream dependency, long enough to exercise
// RequestTimeoutMs and the executor's 408 classification when configured
// below 3s.
func (h *handlers) slow(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(3 * time.Second):
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slow": true})
}

// issueToken implements just enough of OAuth2 client-credentials to satisfy
// the Sequence Manager's prelude exchange: client_id/client_secret as form
// fields, any non-empty pair accepted, token valid for tokenTTL.
func (h *handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("client_id") == "" || r.PostForm.Get("client_secret") == "" {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
		return
	}

	token := randomToken()
	h.mu.Lock()
	h.tokens[token] = time.Now().Add(tokenTTL)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

func (h *handlers) secureProfile(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if !h.validToken(token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": "demo", "token": token})
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": "user-" + id})
}

func (h *handlers) validToken(token string) bool {
	if token == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	expiry, ok := h.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(h.tokens, token)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func randomToken() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, 24)
	seed := uint64(time.Now().UnixNano())
	for i := range buf {
		seed = seed*6364136223846793005 + 1442695040888963407
		buf[i] = alphabet[(seed>>32)%uint64(len(alphabet))]
	}
	return string(buf)
}
