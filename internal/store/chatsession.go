package store

import (
	"context"
	"fmt"
	"time"
)

// SessionStatus is a ChatSession's lifecycle.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// ChatSession is one visitor conversation with a bot, identified externally
// by an opaque token (§3 — "token" is what the widget/client holds, not id).
type ChatSession struct {
	ID             string        `db:"id"`
	BotID          string        `db:"bot_id"`
	VisitorID      string        `db:"visitor_id"`
	Token          string        `db:"token"`
	Status         SessionStatus `db:"status"`
	LongTermMemory string        `db:"long_term_memory"`
	IsContact      bool          `db:"is_contact"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
	ClosedAt       *time.Time    `db:"closed_at"`
}

// CreateChatSession opens a new active session for a visitor.
func (s *Store) CreateChatSession(ctx context.Context, id, botID, visitorID, token string) (ChatSession, error) {
	const q = `
INSERT INTO chat_sessions (id, bot_id, visitor_id, token, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, bot_id, visitor_id, token, status, long_term_memory, is_contact,
          created_at, updated_at, closed_at`
	var cs ChatSession
	if err := s.db.GetContext(ctx, &cs, q, id, botID, visitorID, token, SessionActive); err != nil {
		return ChatSession{}, fmt.Errorf("create chat session: %w", err)
	}
	return cs, nil
}

// GetChatSessionByToken resolves a session from its external token, the
// lookup path every inbound chat request uses.
func (s *Store) GetChatSessionByToken(ctx context.Context, token string) (ChatSession, error) {
	const q = `SELECT * FROM chat_sessions WHERE token = $1`
	var cs ChatSession
	if err := s.db.GetContext(ctx, &cs, q, token); err != nil {
		return ChatSession{}, fmt.Errorf("get chat session by token: %w", err)
	}
	return cs, nil
}

// GetChatSession fetches a session by its internal id.
func (s *Store) GetChatSession(ctx context.Context, id string) (ChatSession, error) {
	const q = `SELECT * FROM chat_sessions WHERE id = $1`
	var cs ChatSession
	if err := s.db.GetContext(ctx, &cs, q, id); err != nil {
		return ChatSession{}, fmt.Errorf("get chat session %s: %w", id, err)
	}
	return cs, nil
}

// UpdateLongTermMemory persists the session's rolling summary, the output of
// the memory package's summarization step.
func (s *Store) UpdateLongTermMemory(ctx context.Context, id, memory string) error {
	const q = `UPDATE chat_sessions SET long_term_memory = $2, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, memory); err != nil {
		return fmt.Errorf("update long term memory for session %s: %w", id, err)
	}
	return nil
}

// MarkContact flags a session as having yielded contact details worth
// surfacing to the bot owner.
func (s *Store) MarkContact(ctx context.Context, id string) error {
	const q = `UPDATE chat_sessions SET is_contact = true, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("mark contact for session %s: %w", id, err)
	}
	return nil
}

// CloseChatSession closes a session, recording closed_at.
func (s *Store) CloseChatSession(ctx context.Context, id string) error {
	const q = `UPDATE chat_sessions SET status = $2, closed_at = now(), updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, SessionClosed); err != nil {
		return fmt.Errorf("close chat session %s: %w", id, err)
	}
	return nil
}

// ChatMessage is a single query/response turn within a session.
type ChatMessage struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Query     string    `db:"query"`
	Response  string    `db:"response"`
	CreatedAt time.Time `db:"created_at"`
}

// AppendChatMessage records a visitor's query against a session. Response is
// filled in later via SetChatMessageResponse once the chat graph finishes.
func (s *Store) AppendChatMessage(ctx context.Context, id, sessionID, query string) (ChatMessage, error) {
	const q = `
INSERT INTO chat_messages (id, session_id, query)
VALUES ($1, $2, $3)
RETURNING id, session_id, query, response, created_at`
	var m ChatMessage
	if err := s.db.GetContext(ctx, &m, q, id, sessionID, query); err != nil {
		return ChatMessage{}, fmt.Errorf("append chat message: %w", err)
	}
	return m, nil
}

// SetChatMessageResponse fills in the assistant's response for a message
// once generation completes.
func (s *Store) SetChatMessageResponse(ctx context.Context, id, response string) error {
	const q = `UPDATE chat_messages SET response = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, response); err != nil {
		return fmt.Errorf("set response for message %s: %w", id, err)
	}
	return nil
}

// ListChatMessages returns a session's turns in chronological order, the
// short-term window the chat graph seeds its working context from.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	const q = `SELECT * FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2`
	var msgs []ChatMessage
	if err := s.db.SelectContext(ctx, &msgs, q, sessionID, limit); err != nil {
		return nil, fmt.Errorf("list chat messages for session %s: %w", sessionID, err)
	}
	return msgs, nil
}
