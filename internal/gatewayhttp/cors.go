package gatewayhttp

import "net/http"

// cors grants browser origins in cfg.CORS.AllowedOrigins access, the same
// origin-allowlist shape as the teacher's cors.go, with "*" permitted as a
// wildcard entry. Disabled entirely (no headers written) when CORS.Enabled
// is false, which is the right default for a server-to-server deployment.
func (s *Server) cors() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !s.cfg.CORS.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && s.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-API-Key, Content-Type, X-Webhook-Signature")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
