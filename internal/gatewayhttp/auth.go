package gatewayhttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// requireAPIKey wraps next with a constant-time API-key check, the same
// comparison shape as the teacher's AuthMiddleware.lookupKey, checked
// against Authorization: Bearer / X-API-Key / ?api_key=. An empty
// cfg.APIKeys list disables the check entirely (local/dev mode).
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	if len(s.cfg.APIKeys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" || !anyKeyMatches(s.cfg.APIKeys, key) {
			http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func anyKeyMatches(keys []string, candidate string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

// verifyWebhookSignature checks the X-Webhook-Signature HMAC-SHA256 header
// a worker's internal/chatgraph.WebhookSender (or ingest/scoring
// equivalent) computes over the raw body (§6.3 "authenticated by a shared
// HMAC signature header").
func (s *Server) verifyWebhookSignature(r *http.Request, body []byte) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Signature")
	if got == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(got), []byte(want))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
}
