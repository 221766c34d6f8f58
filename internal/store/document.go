package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DocumentStatus is a Document's ingestion lifecycle (§3/§4.6).
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// ErrDuplicateContent is returned by CreateDocument when a document with the
// same (bot_id, content_hash) already exists — ingestion dedup (§4.6).
var ErrDuplicateContent = errors.New("store: a document with this content already exists for this bot")

// SourceType distinguishes how a Document entered the system.
type SourceType string

const (
	SourceFileUpload SourceType = "file_upload"
	SourceCrawl      SourceType = "crawl"
)

// Document is an ingested source unit — an uploaded file or a crawled page —
// tracked through chunking/embedding to completion or failure.
type Document struct {
	ID          string          `db:"id"`
	BotID       string          `db:"bot_id"`
	SourceType  SourceType      `db:"source_type"`
	SourceURL   string          `db:"source_url"`
	Status      DocumentStatus  `db:"status"`
	ContentHash string          `db:"content_hash"`
	Metadata    json.RawMessage `db:"metadata"`
	Error       string          `db:"error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// CreateDocument inserts a new Document in pending status. contentHash
// dedups against prior uploads for the same bot; a collision returns
// ErrDuplicateContent rather than a bare unique-constraint error so callers
// (the ingest worker) can treat it as a no-op rather than a failure.
func (s *Store) CreateDocument(ctx context.Context, id, botID string, sourceType SourceType, sourceURL, contentHash string, metadata json.RawMessage) (Document, error) {
	var existing string
	err := s.db.GetContext(ctx, &existing, `SELECT id FROM documents WHERE bot_id = $1 AND content_hash = $2`, botID, contentHash)
	if err == nil {
		return Document{}, ErrDuplicateContent
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("check duplicate document: %w", err)
	}

	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	const q = `
INSERT INTO documents (id, bot_id, source_type, source_url, content_hash, metadata, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, bot_id, source_type, source_url, status, content_hash, metadata, error, created_at, updated_at`
	var d Document
	if err := s.db.GetContext(ctx, &d, q, id, botID, sourceType, sourceURL, contentHash, metadata, DocumentPending); err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	return d, nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	const q = `SELECT * FROM documents WHERE id = $1`
	var d Document
	if err := s.db.GetContext(ctx, &d, q, id); err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, nil
}

// MarkDocumentProcessing transitions pending → processing as the ingest
// worker picks up the task.
func (s *Store) MarkDocumentProcessing(ctx context.Context, id string) error {
	const q = `UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, DocumentProcessing); err != nil {
		return fmt.Errorf("mark document %s processing: %w", id, err)
	}
	return nil
}

// MarkDocumentCompleted transitions a document to completed once chunking
// and embedding succeed.
func (s *Store) MarkDocumentCompleted(ctx context.Context, id string) error {
	const q = `UPDATE documents SET status = $2, error = '', updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, DocumentCompleted); err != nil {
		return fmt.Errorf("mark document %s completed: %w", id, err)
	}
	return nil
}

// MarkDocumentFailed transitions a document to failed, recording the cause.
func (s *Store) MarkDocumentFailed(ctx context.Context, id, cause string) error {
	const q = `UPDATE documents SET status = $2, error = $3, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, DocumentFailed, cause); err != nil {
		return fmt.Errorf("mark document %s failed: %w", id, err)
	}
	return nil
}

// DeleteDocument removes a document row outright (the vector store's
// matching chunks are removed separately by the ingest worker).
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// ListDocumentsByBot returns all documents for a bot, newest first.
func (s *Store) ListDocumentsByBot(ctx context.Context, botID string) ([]Document, error) {
	const q = `SELECT * FROM documents WHERE bot_id = $1 ORDER BY created_at DESC`
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs, q, botID); err != nil {
		return nil, fmt.Errorf("list documents for bot %s: %w", botID, err)
	}
	return docs, nil
}

// ListCrawledDocuments returns completed crawl-sourced documents for a bot,
// the set internal/ingestworker's recrawl scheduler iterates.
func (s *Store) ListCrawledDocuments(ctx context.Context, botID string) ([]Document, error) {
	const q = `SELECT * FROM documents WHERE bot_id = $1 AND source_type = $2 AND status = $3 ORDER BY created_at ASC`
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs, q, botID, SourceCrawl, DocumentCompleted); err != nil {
		return nil, fmt.Errorf("list crawled documents for bot %s: %w", botID, err)
	}
	return docs, nil
}
