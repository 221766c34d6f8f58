package gatewayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/store"
)

var errNoPublisher = errors.New("gatewayhttp: no publisher configured for queue")

// taskAccepted is the 202 response body every create-task endpoint returns.
type taskAccepted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// createChatTaskRequest is the client-facing ask() request.
type createChatTaskRequest struct {
	BotID        string `json:"bot_id"`
	SessionToken string `json:"session_token"`
	Query        string `json:"query"`
	ClientIP     string `json:"client_ip"`
}

// handleCreateChatTask implements §4.1's lock-free chat publish: chat tasks
// have no per-target idempotency lock (a visitor may ask many overlapping
// questions), so this simply resolves/creates the session and publishes.
func (s *Server) handleCreateChatTask(w http.ResponseWriter, r *http.Request) {
	var req createChatTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BotID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "bot_id and query are required")
		return
	}

	ctx := r.Context()
	session, err := s.resolveChatSession(ctx, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve session: "+err.Error())
		return
	}

	taskID := randomID("task")
	env, err := queue.NewEnvelope(taskID, queue.TaskChat, req.BotID, queue.ChatTask{
		SessionToken: session.Token,
		SessionID:    session.ID,
		Query:        req.Query,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.publishQueued(ctx, w, taskID, req.BotID, s.cfg.Queues.Chat, env, 5); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: taskID, Status: "queued"})
}

func (s *Server) resolveChatSession(ctx context.Context, req createChatTaskRequest) (store.ChatSession, error) {
	if req.SessionToken != "" {
		if sess, err := s.cfg.Store.GetChatSessionByToken(ctx, req.SessionToken); err == nil {
			return sess, nil
		}
	}
	visitor, err := s.cfg.Store.GetOrCreateVisitor(ctx, randomID("visitor"), req.BotID, req.ClientIP)
	if err != nil {
		return store.ChatSession{}, err
	}
	return s.cfg.Store.CreateChatSession(ctx, randomID("session"), req.BotID, visitor.ID, randomID("token"))
}

type createFileUploadRequest struct {
	BotID       string `json:"bot_id"`
	ObjectKey   string `json:"object_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash"`
}

// handleCreateFileUploadTask creates the document row (status=pending) and
// publishes a file_upload task carrying the document id, so the ingest
// worker's embed/insert pass has a row to transition through
// processing/completed/failed.
func (s *Server) handleCreateFileUploadTask(w http.ResponseWriter, r *http.Request) {
	var req createFileUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BotID == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "bot_id and filename are required")
		return
	}

	ctx := r.Context()
	doc, err := s.cfg.Store.CreateDocument(ctx, randomID("doc"), req.BotID, store.SourceFileUpload, req.Filename, req.ContentHash, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create document: "+err.Error())
		return
	}

	taskID := randomID("task")
	env, err := queue.NewEnvelope(taskID, queue.TaskFileUpload, req.BotID, queue.FileUploadTask{
		DocumentID:  doc.ID,
		ObjectKey:   req.ObjectKey,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.publishQueued(ctx, w, taskID, req.BotID, s.cfg.Queues.File, env, 5); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: taskID, Status: "queued"})
}

type createCrawlRequest struct {
	BotID    string   `json:"bot_id"`
	SeedURLs []string `json:"seed_urls"`
	MaxPages int      `json:"max_pages"`
	Force    bool     `json:"force"`
}

// handleCreateCrawlTask enforces the one-crawl-per-bot idempotency lock
// (§4.1): a second crawl request for a bot already crawling is rejected
// with AlreadyRunning unless force=true.
func (s *Server) handleCreateCrawlTask(w http.ResponseWriter, r *http.Request) {
	var req createCrawlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BotID == "" {
		writeError(w, http.StatusBadRequest, "bot_id is required")
		return
	}

	ctx := r.Context()
	taskID := randomID("task")
	if ok, err := s.acquireOrReject(w, ctx, kv.CrawlLockKey(req.BotID), taskID, req.Force); err != nil || !ok {
		return
	}

	env, err := queue.NewEnvelope(taskID, queue.TaskCrawl, req.BotID, queue.CrawlTask{
		SeedURLs: req.SeedURLs,
		MaxPages: req.MaxPages,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.publishQueued(ctx, w, taskID, req.BotID, s.cfg.Queues.Crawl, env, 3); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: taskID, Status: "queued"})
}

// handleDeleteDocumentTask publishes a delete_document task; deletion has
// no idempotency lock since it is naturally idempotent (deleting twice is
// a no-op).
func (s *Server) handleDeleteDocumentTask(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	ctx := r.Context()
	doc, err := s.cfg.Store.GetDocument(ctx, documentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	taskID := randomID("task")
	env, err := queue.NewEnvelope(taskID, queue.TaskDeleteDocument, doc.BotID, queue.DeleteDocumentTask{DocumentID: documentID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.publishQueued(ctx, w, taskID, doc.BotID, s.cfg.Queues.File, env, 5); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: taskID, Status: "queued"})
}

type createScoringRequest struct {
	BotID string `json:"bot_id"`
	Force bool   `json:"force"`
}

// handleCreateGradingTask enforces the per-visitor grading lock (§4.1/§4.7).
func (s *Server) handleCreateGradingTask(w http.ResponseWriter, r *http.Request) {
	s.createScoringTask(w, r, queue.TaskGrading, kv.GradingLockKey, s.cfg.Queues.Grading)
}

// handleCreateAssessmentTask enforces the per-visitor assessment lock
// (§4.1/§4.7).
func (s *Server) handleCreateAssessmentTask(w http.ResponseWriter, r *http.Request) {
	s.createScoringTask(w, r, queue.TaskAssessment, kv.AssessmentLockKey, s.cfg.Queues.Assessment)
}

func (s *Server) createScoringTask(w http.ResponseWriter, r *http.Request, taskType queue.TaskType, lockKeyFn func(string) string, queueName string) {
	visitorID := r.PathValue("visitor_id")
	if visitorID == "" {
		writeError(w, http.StatusBadRequest, "visitor_id is required")
		return
	}
	var req createScoringRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	taskID := randomID("task")
	if ok, err := s.acquireOrReject(w, ctx, lockKeyFn(visitorID), taskID, req.Force); err != nil || !ok {
		return
	}

	var payload any
	if taskType == queue.TaskGrading {
		payload = queue.GradingTask{VisitorID: visitorID}
	} else {
		payload = queue.AssessmentTask{VisitorID: visitorID}
	}
	env, err := queue.NewEnvelope(taskID, taskType, req.BotID, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.publishQueued(ctx, w, taskID, req.BotID, queueName, env, 1); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: taskID, Status: "queued"})
}

// handleCrawlStop signals the cooperative CrawlStop sentinel a running
// crawl's BFS loop polls between pages.
func (s *Server) handleCrawlStop(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	if botID == "" {
		writeError(w, http.StatusBadRequest, "bot_id is required")
		return
	}
	if err := s.cfg.KV.SignalCrawlStop(r.Context(), botID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// acquireOrReject performs the lock-before-publish half of §4.1's contract:
// SET NX EX, writing a queued TaskState immediately after success (so a
// racing SSE connect sees the task exist), and replies 409 AlreadyRunning
// on contention unless force bypasses the check entirely.
func (s *Server) acquireOrReject(w http.ResponseWriter, ctx context.Context, lockKey, taskID string, force bool) (bool, error) {
	if force {
		if err := s.cfg.KV.ForceAcquireLock(ctx, lockKey, taskID, defaultLockTTL); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return false, err
		}
		return true, nil
	}
	ok, err := s.cfg.KV.TryAcquireLock(ctx, lockKey, taskID, defaultLockTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return false, err
	}
	if !ok {
		writeError(w, http.StatusConflict, "AlreadyRunning")
		return false, nil
	}
	return true, nil
}

// defaultLockTTL bounds task-creation locks this package acquires directly
// (crawl/grading/assessment); kv.Client's own Acquire*Lock helpers carry
// their own per-kind TTL constants, used instead where the call site
// doesn't need a force-bypass branch.
const defaultLockTTL = 5 * time.Minute

// publishQueued writes the initial queued TaskState, publishes it, and then
// publishes the envelope to the bus. If the bus-level publish fails (e.g.
// ErrQueueFull) it marks the task failed rather than leaving it stuck
// queued forever.
func (s *Server) publishQueued(ctx context.Context, w http.ResponseWriter, taskID, botID, queueName string, env queue.Envelope, priority uint8) error {
	if err := s.cfg.KV.PublishProgress(ctx, kv.TaskState{TaskID: taskID, BotID: botID, Status: "queued", Progress: 0}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return err
	}
	pub, ok := s.publishers[queueName]
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "queue not configured: "+queueName)
		return errNoPublisher
	}
	if err := pub.Publish(ctx, env, priority); err != nil {
		_ = s.cfg.KV.PublishProgress(ctx, kv.TaskState{TaskID: taskID, BotID: botID, Status: "failed", Progress: 100, Error: err.Error()})
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return err
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
