// Package sse bridges a task's Redis-published progress events to an HTTP
// Server-Sent Events stream, generalizing internal/gateway/stream.go's
// subscribe/forward/heartbeat loop from the teacher's in-process
// bus.Subscription onto internal/kv's Redis pub/sub, adding a resumable
// `restore` event on (re)connect and periodic heartbeats the teacher's
// single-process bus didn't need.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrel-run/kestrel/internal/kv"
)

// HeartbeatInterval keeps idle SSE connections alive through proxies that
// time out silent connections.
const HeartbeatInterval = 15 * time.Second

// Event is one SSE message delivered to the client. Type becomes the wire
// frame's `event:` field (§6.4's `connected`, `restore`, `progress`,
// `token`, `sources`, `metrics`, `done`, `error` vocabulary); Data becomes
// its `data:` field.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Stream subscribes to a task's progress channel and writes SSE events to
// w until the client disconnects, a "done"/"error" state is observed, or
// ctx is cancelled (§4.2's SSE endpoint contract). It subscribes before
// writing any response bytes, so no event published between connection
// and subscribe is lost, then emits `restore` (the task's last known
// state, if any) followed by `connected`, then relays live events from the
// subscription.
func Stream(ctx context.Context, w http.ResponseWriter, client *kv.Client, taskID string, logger *slog.Logger) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: ResponseWriter does not support flushing")
	}

	sub := client.SubscribeProgress(ctx, taskID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if state, ok, err := client.GetTaskState(ctx, taskID); err == nil && ok {
		if err := writeEvent(w, flusher, Event{Type: "restore", Data: mustJSON(state)}); err != nil {
			return err
		}
		if state.IsTerminal() {
			return nil
		}
	}
	if err := writeEvent(w, flusher, Event{Type: "connected"}); err != nil {
		return err
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Debug("sse: client disconnected", "task_id", taskID)
			}
			return nil

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			flusher.Flush()

		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			var state kv.TaskState
			if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
				if logger != nil {
					logger.Warn("sse: unmarshal progress payload", "task_id", taskID, "err", err)
				}
				continue
			}

			eventType := state.Status
			if eventType == "" {
				eventType = "progress"
			}
			if state.IsTerminal() {
				eventType = "done"
			}
			if err := writeEvent(w, flusher, Event{Type: eventType, Data: mustJSON(state)}); err != nil {
				return nil
			}
			if state.IsTerminal() {
				return nil
			}
		}
	}
}

// writeEvent renders ev as a standard SSE frame: an `event:` line naming
// the type (omitted when empty, so the client's default "message"
// listener fires), a `data:` line carrying the JSON payload, then the
// blank line terminating the frame.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev Event) error {
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	data := ev.Data
	if data == nil {
		data = json.RawMessage("{}")
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
