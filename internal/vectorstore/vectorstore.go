// Package vectorstore is the embedding store: one sqlite-vec virtual table
// per bot, batch insert, cosine-ranked search, delete-by-document, and
// short-lived temporary collections for scoring tasks (§3, §4.6, §4.7).
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Registers the vec0 virtual table module for every sqlite3 connection
	// opened by this process, the same global-registration shape as
	// db.Open's init() in the teacher's sqlite-vec dependency.
	sqlite_vec.Auto()
}

const insertBatchSize = 1000

// Chunk is one embedded unit of a Document, the row shape every collection
// stores.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// SearchResult is a ranked Chunk with its cosine distance to the query.
type SearchResult struct {
	Chunk
	Distance float64
}

// Config configures where collections live on disk.
type Config struct {
	Path string
}

// Store owns the sqlite-vec-backed database holding every bot's collection.
type Store struct {
	db   *sql.DB
	dims int

	mu      sync.Mutex
	created map[string]bool
}

// Open opens (creating if absent) the vector store database at cfg.Path.
// dims is the embedding dimensionality every collection is declared with —
// fixed for the process lifetime since sqlite-vec's vec0 tables are
// declared with a static vector width.
func Open(cfg Config, dims int) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vector store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite-vec virtual tables are not safe under concurrent writers
	return &Store{db: db, dims: dims, created: make(map[string]bool)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CollectionName derives a bot's collection table name, matching
// internal/store's collectionNameFor so the two layers never disagree.
func CollectionName(botID string) string {
	out := make([]byte, 0, len(botID)+4)
	out = append(out, "bot_"...)
	for _, r := range botID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[name] {
		return nil
	}
	stmt := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
  id TEXT PRIMARY KEY,
  document_id TEXT,
  chunk_index INTEGER,
  content TEXT,
  embedding FLOAT[%d]
)`, name, s.dims)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	s.created[name] = true
	return nil
}

// EnsureBotCollection creates the vec0 collection for botID if it doesn't
// already exist.
func (s *Store) EnsureBotCollection(ctx context.Context, botID string) error {
	return s.ensureCollection(ctx, CollectionName(botID))
}

// InsertChunks inserts chunks into a bot's collection in batches of 1000
// (§4.6 "insert in batches of 1000"), embedding each chunk inline.
func (s *Store) InsertChunks(ctx context.Context, botID string, chunks []Chunk) error {
	name := CollectionName(botID)
	if err := s.ensureCollection(ctx, name); err != nil {
		return err
	}
	return s.insertInto(ctx, name, chunks)
}

func (s *Store) insertInto(ctx context.Context, table string, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		batch := chunks[start:end]
		if err := s.insertBatch(ctx, table, batch); err != nil {
			return fmt.Errorf("insert batch [%d:%d] into %s: %w", start, end, table, err)
		}
	}
	return nil
}

func (s *Store) insertBatch(ctx context.Context, table string, batch []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, document_id, chunk_index, content, embedding) VALUES (?, ?, ?, ?, ?)`, table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range batch {
		if len(c.Embedding) != s.dims {
			return fmt.Errorf("chunk %s has %d dims, expected %d", c.ID, len(c.Embedding), s.dims)
		}
		blob := serializeFloat32(c.Embedding)
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ChunkIndex, c.Content, blob); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search returns the topK nearest chunks to queryEmbedding in a bot's
// collection, ranked by cosine distance ascending.
func (s *Store) Search(ctx context.Context, botID string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	return s.searchIn(ctx, CollectionName(botID), queryEmbedding, topK)
}

func (s *Store) searchIn(ctx context.Context, table string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	if len(queryEmbedding) != s.dims {
		return nil, fmt.Errorf("query embedding has %d dims, expected %d", len(queryEmbedding), s.dims)
	}
	blob := serializeFloat32(queryEmbedding)
	q := fmt.Sprintf(`
SELECT id, document_id, chunk_index, content, embedding,
       vec_distance_cosine(embedding, ?) AS distance
FROM %s
ORDER BY distance ASC
LIMIT ?`, table)
	rows, err := s.db.QueryContext(ctx, q, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var embBlob []byte
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.ChunkIndex, &r.Content, &embBlob, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Embedding = deserializeFloat32(embBlob)
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteByDocumentID removes every chunk belonging to a document, the path
// the ingest worker's delete_document and recrawl tasks use.
func (s *Store) DeleteByDocumentID(ctx context.Context, botID, documentID string) error {
	name := CollectionName(botID)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = ?`, name), documentID); err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

// tempCollectionName derives a per-task scratch collection name, prefixed
// distinctly from bot collections so Flush can identify and drop them.
func tempCollectionName(taskID string) string {
	return "temp_" + strings.ReplaceAll(taskID, "-", "_")
}

// CreateTempCollection opens a scratch collection for a scoring task (§4.7
// grading/assessment — scored against a transient embedding set rather than
// the bot's persistent knowledge base).
func (s *Store) CreateTempCollection(ctx context.Context, taskID string) (string, error) {
	name := tempCollectionName(taskID)
	if err := s.ensureCollection(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// InsertIntoTemp inserts chunks into a previously created temp collection.
func (s *Store) InsertIntoTemp(ctx context.Context, collectionName string, chunks []Chunk) error {
	return s.insertInto(ctx, collectionName, chunks)
}

// SearchTemp searches a temp collection, mirroring Search.
func (s *Store) SearchTemp(ctx context.Context, collectionName string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	return s.searchIn(ctx, collectionName, queryEmbedding, topK)
}

// DropTempCollection removes a scoring task's scratch collection once the
// task completes.
func (s *Store) DropTempCollection(ctx context.Context, collectionName string) error {
	if !strings.HasPrefix(collectionName, "temp_") {
		return fmt.Errorf("refusing to drop non-temp collection %s", collectionName)
	}
	s.mu.Lock()
	delete(s.created, collectionName)
	s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, collectionName)); err != nil {
		return fmt.Errorf("drop temp collection %s: %w", collectionName, err)
	}
	return nil
}

// Flush drops every temp_ collection left over from crashed or abandoned
// scoring tasks — called on worker startup.
func (s *Store) Flush(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'temp\_%' ESCAPE '\'`)
	if err != nil {
		return fmt.Errorf("list temp collections: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return fmt.Errorf("scan temp collection name: %w", err)
		}
		names = append(names, n)
	}
	rows.Close()

	for _, n := range names {
		if err := s.DropTempCollection(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
