package gatewayhttp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrel-run/kestrel/internal/kv"
)

// chatCompletionPayload mirrors internal/chatgraph.ChatCompletionPayload.
// Declared locally rather than imported so gatewayhttp does not depend on
// the chat worker's internal package for a pure wire shape (§6.3).
type chatCompletionPayload struct {
	BotID          string    `json:"bot_id"`
	SessionID      string    `json:"session_id"`
	SessionToken   string    `json:"session_token"`
	VisitorID      string    `json:"visitor_id"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	TokensInput    int       `json:"tokens_input"`
	TokensOutput   int       `json:"tokens_output"`
	CostUSD        float64   `json:"cost_usd"`
	IsContact      bool      `json:"is_contact"`
	LongTermMemory string    `json:"long_term_memory"`
	VisitorInfo    struct {
		Name    string `json:"Name"`
		Email   string `json:"Email"`
		Phone   string `json:"Phone"`
		Address string `json:"Address"`
	} `json:"visitor_info"`
	CompletedAt time.Time `json:"completed_at"`
}

// handleWebhookChat is the gateway's single writer for session, message,
// and visitor rows from the chat flow (§4.5.7, §6.3): chatgraph itself
// never touches the SQL store, it only posts this payload once a turn is
// complete.
func (s *Server) handleWebhookChat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}
	var payload chatCompletionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	msg, err := s.cfg.Store.AppendChatMessage(ctx, randomID("msg"), payload.SessionID, payload.Query)
	if err != nil {
		s.logError(r, "webhook chat: append message", err)
	} else if err := s.cfg.Store.SetChatMessageResponse(ctx, msg.ID, payload.Response); err != nil {
		s.logError(r, "webhook chat: set response", err)
	}

	if payload.LongTermMemory != "" {
		if err := s.cfg.Store.UpdateLongTermMemory(ctx, payload.SessionID, payload.LongTermMemory); err != nil {
			s.logError(r, "webhook chat: update long term memory", err)
		}
	}
	if payload.IsContact {
		if err := s.cfg.Store.MarkContact(ctx, payload.SessionID); err != nil {
			s.logError(r, "webhook chat: mark contact", err)
		}
	}
	info := payload.VisitorInfo
	if payload.VisitorID != "" && (info.Name != "" || info.Email != "" || info.Phone != "" || info.Address != "") {
		if err := s.cfg.Store.UpdateVisitorContact(ctx, payload.VisitorID, info.Name, info.Email, info.Phone, info.Address); err != nil {
			s.logError(r, "webhook chat: update visitor contact", err)
		}
	}

	s.publishTerminal(ctx, r, taskIDFromRequest(r), "completed", 100, map[string]any{
		"response":      payload.Response,
		"tokens_input":  payload.TokensInput,
		"tokens_output": payload.TokensOutput,
	})
	w.WriteHeader(http.StatusNoContent)
}

func randomID(prefix string) string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return prefix + "_" + hex.EncodeToString(b[:])
}

// batchImportPayload is posted once per embed/insert batch and once more
// on overall completion (spec.md §4.6 "notify a batch-import webhook on
// each batch with progress").
type batchImportPayload struct {
	TaskID       string `json:"task_id"`
	DocumentID   string `json:"document_id"`
	ChunksDone   int    `json:"chunks_done"`
	ChunksTotal  int    `json:"chunks_total"`
	Completed    bool   `json:"completed"`
	Failed       bool   `json:"failed"`
	FailureCause string `json:"failure_cause"`
}

func (s *Server) handleWebhookFile(w http.ResponseWriter, r *http.Request) {
	s.handleDocumentWebhook(w, r)
}

func (s *Server) handleWebhookCrawl(w http.ResponseWriter, r *http.Request) {
	s.handleDocumentWebhook(w, r)
}

// handleDocumentWebhook finalizes an ingest worker's completion report.
// The worker already wrote the document row itself (internal/ingestworker
// owns the documents table transactionally with its own embed/insert
// batches — see DESIGN.md), so this handler's job is to surface progress
// and the terminal task state to SSE subscribers.
func (s *Server) handleDocumentWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}
	var payload batchImportPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	progress := 0
	if payload.ChunksTotal > 0 {
		progress = payload.ChunksDone * 100 / payload.ChunksTotal
	}
	status := "processing"
	switch {
	case payload.Failed:
		status = "failed"
		progress = 100
	case payload.Completed:
		status = "completed"
		progress = 100
	}
	s.publishTerminal(ctx, r, payload.TaskID, status, progress, map[string]any{
		"document_id":   payload.DocumentID,
		"chunks_done":   payload.ChunksDone,
		"chunks_total":  payload.ChunksTotal,
		"failure_cause": payload.FailureCause,
	})
	w.WriteHeader(http.StatusNoContent)
}

type scoringResultPayload struct {
	TaskID    string          `json:"task_id"`
	VisitorID string          `json:"visitor_id"`
	Result    json.RawMessage `json:"result"`
	Failed    bool            `json:"failed"`
}

func (s *Server) handleWebhookGrading(w http.ResponseWriter, r *http.Request) {
	s.handleScoringWebhook(w, r)
}

func (s *Server) handleWebhookAssessment(w http.ResponseWriter, r *http.Request) {
	s.handleScoringWebhook(w, r)
}

// handleScoringWebhook finalizes a scoring worker's run. Like the ingest
// webhooks, internal/scoringworker already persisted the lead score /
// assessment row itself; this records the terminal task state for SSE.
func (s *Server) handleScoringWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}
	var payload scoringResultPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	status := "completed"
	if payload.Failed {
		status = "failed"
	}
	s.publishTerminal(r.Context(), r, payload.TaskID, status, 100, map[string]any{
		"visitor_id": payload.VisitorID,
		"result":     json.RawMessage(payload.Result),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifiedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, `{"error":"body too large"}`, http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if !s.verifyWebhookSignature(r, body) {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// publishTerminal writes the task's final state to KV and publishes it on
// the task's progress channel (kv.Client.PublishProgress does both in one
// call) so any connected SSE stream observes the same terminal event the
// webhook just recorded.
func (s *Server) publishTerminal(ctx context.Context, r *http.Request, taskID, status string, progress int, result map[string]any) {
	if taskID == "" || s.cfg.KV == nil {
		return
	}
	state := kv.TaskState{TaskID: taskID, Status: status, Progress: progress, Timestamp: time.Now(), Result: mustMarshal(result)}
	if err := s.cfg.KV.PublishProgress(ctx, state); err != nil {
		s.logError(r, "publish terminal: publish progress", err)
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func taskIDFromRequest(r *http.Request) string {
	return r.URL.Query().Get("task_id")
}

func (s *Server) logError(r *http.Request, msg string, err error) {
	slog.Default().Error(msg, "err", err, "path", r.URL.Path)
}
