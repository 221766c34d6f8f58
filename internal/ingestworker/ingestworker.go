// Package ingestworker consumes file_upload, crawl, delete_document, and
// recrawl tasks (§4.6): extract text, chunk it token-aware, embed in
// batches, and write the result into a bot's vector collection. The
// concurrency skeleton — lease claim, heartbeat, semaphore-bounded
// dispatch, cooperative cancellation — is grounded on internal/engine's
// worker loop, generalized from a single agent-task queue to ingest's four
// task types.
package ingestworker

import (
	"context"
	"fmt"

	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

// TaskType names the four routes §4.6 defines.
type TaskType string

const (
	TaskFileUpload     TaskType = "file_upload"
	TaskCrawl          TaskType = "crawl"
	TaskDeleteDocument TaskType = "delete_document"
	TaskRecrawl        TaskType = "recrawl"
)

const (
	insertBatchSize = 1000
	chunkTokenBudget = 400
	chunkOverlapTokens = 40
)

// Task is one unit of ingest work, already decoded from the bus envelope.
type Task struct {
	ID         string
	Type       TaskType
	BotID      string
	DocumentID string
	FilePath   string
	FileName   string
	ContentHash string

	SeedURLs  []string
	OriginURL string

	DocumentIDs []string // delete_document / recrawl batch targets
}

// Extractor pulls plain text out of a raw uploaded file. Concrete
// implementations dispatch on file extension (PDF, DOCX, HTML, MD, TXT).
type Extractor interface {
	Extract(path, fileName string) (string, error)
}

// Embedder produces an embedding vector for one chunk of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Crawler fetches and markdown-extracts pages reachable from an origin,
// yielding one page at a time so the BFS loop can check CrawlStop between
// pages rather than after the whole crawl finishes.
type Crawler interface {
	// Crawl calls yield once per fetched page (url, markdown content). It
	// returns when the crawl is exhausted, yield returns an error, or ctx
	// is cancelled.
	Crawl(ctx context.Context, origin string, maxPages int, yield func(url, markdown string) error) error
}

// ObjectStore uploads the original file blob after a successful
// file_upload and deletes the scratch file. Object storage (MinIO) is an
// external collaborator the orchestration core only calls through this
// narrow seam — it is not reimplemented here.
type ObjectStore interface {
	Upload(ctx context.Context, key string, path string) error
}

// ProgressReporter publishes start/progress/completion events for a task,
// mirroring the chat graph's per-node bus events but throttled to roughly
// once per batch (§4.6).
type ProgressReporter interface {
	ReportStart(ctx context.Context, task Task) error
	ReportProgress(ctx context.Context, task Task, processed, total int) error
	ReportComplete(ctx context.Context, task Task, stats Stats) error
}

// Stats is the aggregate-statistics payload a completion event carries.
type Stats struct {
	PagesOrFiles int
	ChunksTotal  int
	Failed       int
}

// Success reports §4.6's "success=(failed==0)" rule.
func (s Stats) Success() bool { return s.Failed == 0 }

// Worker routes ingest tasks by type.
type Worker struct {
	Store       *store.Store
	Vectors     *vectorstore.Store
	KV          *kv.Client
	Extractor   Extractor
	Embedder    Embedder
	Crawler     Crawler
	Objects     ObjectStore
	Progress    ProgressReporter
	MaxCrawlPages int
}

// MaxConcurrentTasks default (§5's MAX_CONCURRENT_TASKS semaphore).
const DefaultMaxConcurrentTasks = 4

// Run routes task to its handler.
func (w *Worker) Run(ctx context.Context, task Task) error {
	if w.Progress != nil {
		_ = w.Progress.ReportStart(ctx, task)
	}

	var (
		stats Stats
		err   error
	)
	switch task.Type {
	case TaskFileUpload:
		stats, err = w.runFileUpload(ctx, task)
	case TaskCrawl:
		stats, err = w.runCrawl(ctx, task)
	case TaskDeleteDocument:
		stats, err = w.runDeleteDocument(ctx, task)
	case TaskRecrawl:
		stats, err = w.runRecrawl(ctx, task)
	default:
		err = fmt.Errorf("ingestworker: unknown task type %q", task.Type)
	}

	if err != nil {
		stats.Failed++
	}
	if w.Progress != nil {
		_ = w.Progress.ReportComplete(ctx, task, stats)
	}
	return err
}

