package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	taskStateRunningTTL  = 24 * time.Hour
	taskStateTerminalTTL = 60 * time.Second
)

// TaskState is the ephemeral hash a worker maintains for one task — the same
// document that seeds a reconnecting SSE client's "restore" event.
type TaskState struct {
	TaskID    string          `json:"task_id"`
	BotID     string          `json:"bot_id,omitempty"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskState) IsTerminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

func taskStateKey(taskID string) string {
	return "taskstate:" + taskID
}

func progressChannel(taskID string) string {
	return "progress:" + taskID
}

func cancelChannel(sessionToken string) string {
	return "cancel:" + sessionToken
}

// PutTaskState writes the latest TaskState, with a 24h TTL while the task is
// non-terminal and a 60s TTL once it reaches completed/failed — long enough
// for a slow SSE client to observe the terminal event, short enough not to
// accumulate stale hashes.
func (c *Client) PutTaskState(ctx context.Context, s TaskState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	ttl := taskStateRunningTTL
	if s.IsTerminal() {
		ttl = taskStateTerminalTTL
	}
	return c.SetEx(ctx, taskStateKey(s.TaskID), string(data), ttl)
}

// GetTaskState returns the last known state for a task, or ok=false if the
// hash has expired or was never written (e.g. before the worker's first
// progress write).
func (c *Client) GetTaskState(ctx context.Context, taskID string) (TaskState, bool, error) {
	val, err := c.KVGet(ctx, taskStateKey(taskID))
	if err != nil {
		return TaskState{}, false, err
	}
	if val == "" {
		return TaskState{}, false, nil
	}
	var s TaskState
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return TaskState{}, false, fmt.Errorf("unmarshal task state: %w", err)
	}
	return s, true, nil
}

// PublishProgress writes the TaskState (for resumable reconnects) and
// publishes the same event on the task's progress channel in one call, per
// §4.2's dual-write contract.
func (c *Client) PublishProgress(ctx context.Context, s TaskState) error {
	if err := c.PutTaskState(ctx, s); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return c.rdb.Publish(ctx, progressChannel(s.TaskID), data).Err()
}

// SubscribeProgress opens a pub/sub subscription to one task's progress
// channel. Callers must Close() the subscription when done.
func (c *Client) SubscribeProgress(ctx context.Context, taskID string) *Subscription {
	return newSubscription(c.rdb.Subscribe(ctx, progressChannel(taskID)))
}

// PublishCancel publishes a fire-and-forget cancellation request for a
// session. The gateway never blocks waiting for a subscriber.
func (c *Client) PublishCancel(ctx context.Context, sessionToken, reason string) error {
	msg := struct {
		Action       string `json:"action"`
		SessionToken string `json:"session_token"`
		Reason       string `json:"reason"`
	}{Action: "cancel", SessionToken: sessionToken, Reason: reason}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal cancel message: %w", err)
	}
	return c.rdb.Publish(ctx, cancelChannel(sessionToken), data).Err()
}

// SubscribeCancelPattern opens a pattern subscription across all session
// cancellation channels, as the chat worker's single cancellation-listener
// goroutine does.
func (c *Client) SubscribeCancelPattern(ctx context.Context) *Subscription {
	return newSubscription(c.rdb.PSubscribe(ctx, "cancel:*"))
}
