// Package gatewayhttp is the HTTP surface of the gateway process: webhook
// receivers from the three workers (§6.3), REST task-creation endpoints
// that perform the lock-then-publish contract (§4.1), and SSE endpoints
// (§6.4). Its auth/CORS middleware shape is grounded on the teacher's
// internal/gateway package (auth.go's constant-time API-key check,
// cors.go's origin-allowlist wrapper), re-targeted from a WS/JSON-RPC
// protocol to plain REST+webhooks+SSE.
package gatewayhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/store"
)

// Config wires a Server's dependencies.
type Config struct {
	Store *store.Store
	KV    *kv.Client
	Bus   *queue.Bus

	Queues QueueNames

	// WebhookSecret verifies the HMAC signature on inbound worker webhooks
	// (§6.3 "authenticated by a shared HMAC signature header").
	WebhookSecret string

	// APIKeys authenticates inbound client requests to the REST endpoints.
	// Empty disables auth entirely (local/dev mode).
	APIKeys []string

	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// RateLimitConfig bounds how many requests a single API key (or, absent
// one, client IP) may make per minute across the REST surface.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	BurstSize         int
}

// QueueNames maps task types to their declared AMQP queue names
// (config.QueueConfig's fields, kept separate here so gatewayhttp has no
// dependency on the process-wide config package).
type QueueNames struct {
	File       string
	Crawl      string
	Chat       string
	Grading    string
	Assessment string
}

// CORSConfig controls accepted browser origins.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
}

// Server is the gateway's HTTP handler.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	publishers map[string]*queue.Publisher
	limiter    *rateLimiter
}

// New builds a Server with every route registered and one publisher opened
// per declared queue.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, mux: http.NewServeMux(), publishers: make(map[string]*queue.Publisher)}
	for _, name := range []string{cfg.Queues.File, cfg.Queues.Crawl, cfg.Queues.Chat, cfg.Queues.Grading, cfg.Queues.Assessment} {
		if name == "" || cfg.Bus == nil {
			continue
		}
		if pub, err := cfg.Bus.NewPublisher(name); err == nil {
			s.publishers[name] = pub
		}
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	}
	s.routes()
	return s
}

// StartRateLimitEviction runs a background sweep that drops rate-limit
// buckets idle longer than maxAge, bounding memory growth from one-off
// clients. A no-op when rate limiting is disabled.
func (s *Server) StartRateLimitEviction(ctx context.Context, interval, maxAge time.Duration) {
	if s.limiter == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiter.evictStale(maxAge)
			}
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := http.Handler(s.mux)
	if s.limiter != nil {
		handler = s.limiter.wrap(handler)
	}
	s.cors()(handler).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)

	s.mux.HandleFunc("POST /webhooks/chat", s.handleWebhookChat)
	s.mux.HandleFunc("POST /webhooks/file", s.handleWebhookFile)
	s.mux.HandleFunc("POST /webhooks/crawl", s.handleWebhookCrawl)
	s.mux.HandleFunc("POST /webhooks/grading", s.handleWebhookGrading)
	s.mux.HandleFunc("POST /webhooks/assessment", s.handleWebhookAssessment)

	s.mux.Handle("POST /api/v1/chat/message", s.requireAPIKey(http.HandlerFunc(s.handleCreateChatTask)))
	s.mux.Handle("POST /api/v1/documents/upload", s.requireAPIKey(http.HandlerFunc(s.handleCreateFileUploadTask)))
	s.mux.Handle("POST /api/v1/crawl", s.requireAPIKey(http.HandlerFunc(s.handleCreateCrawlTask)))
	s.mux.Handle("DELETE /api/v1/documents/{document_id}", s.requireAPIKey(http.HandlerFunc(s.handleDeleteDocumentTask)))
	s.mux.Handle("POST /api/v1/visitors/{visitor_id}/grade", s.requireAPIKey(http.HandlerFunc(s.handleCreateGradingTask)))
	s.mux.Handle("POST /api/v1/visitors/{visitor_id}/assess", s.requireAPIKey(http.HandlerFunc(s.handleCreateAssessmentTask)))
	s.mux.Handle("POST /api/v1/crawl/{bot_id}/stop", s.requireAPIKey(http.HandlerFunc(s.handleCrawlStop)))

	s.mux.Handle("GET /api/v1/tasks/{task_id}/progress", s.requireAPIKey(http.HandlerFunc(s.handleProgressStream)))
	s.mux.Handle("GET /api/v1/chat/stream/{task_id}", s.requireAPIKey(http.HandlerFunc(s.handleChatStream)))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
