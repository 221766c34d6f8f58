package gatewayhttp

import (
	"log/slog"
	"net/http"

	"github.com/kestrel-run/kestrel/internal/sse"
)

// handleProgressStream serves GET /api/v1/tasks/{task_id}/progress (§6.4).
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if err := sse.Stream(r.Context(), w, s.cfg.KV, taskID, slog.Default()); err != nil {
		slog.Default().Warn("progress stream ended with error", "task_id", taskID, "err", err)
	}
}

// handleChatStream serves GET /api/v1/chat/stream/{task_id} (§6.4). Chat
// streaming reuses the same restore/connected/progress/heartbeat bridge as
// task progress — the chat worker publishes `sources` and `token` progress
// events on the identical per-task channel (see cmd/chatworker's OnSources/
// OnToken wiring), so there is nothing chat-specific left for this handler
// to do beyond routing.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if err := sse.Stream(r.Context(), w, s.cfg.KV, taskID, slog.Default()); err != nil {
		slog.Default().Warn("chat stream ended with error", "task_id", taskID, "err", err)
	}
}
