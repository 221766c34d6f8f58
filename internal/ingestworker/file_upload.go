package ingestworker

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

// runFileUpload extracts, chunks, embeds, and inserts one uploaded file
// (§4.6 "file_upload"). On completion it uploads the original blob to
// object storage and removes the scratch file; both run even when the
// vector insert reports partial failure, matching the original
// always-clean-up-the-scratch-area behavior.
func (w *Worker) runFileUpload(ctx context.Context, task Task) (Stats, error) {
	defer os.Remove(task.FilePath)

	doc, err := w.Store.CreateDocument(ctx, task.DocumentID, task.BotID, store.SourceFileUpload, task.FileName, task.ContentHash, nil)
	if err != nil && err != store.ErrDuplicateContent {
		return Stats{}, fmt.Errorf("create document: %w", err)
	}
	if err == store.ErrDuplicateContent {
		return Stats{PagesOrFiles: 1}, nil
	}

	if err := w.Store.MarkDocumentProcessing(ctx, doc.ID); err != nil {
		return Stats{}, fmt.Errorf("mark processing: %w", err)
	}

	text, err := w.Extractor.Extract(task.FilePath, task.FileName)
	if err != nil {
		_ = w.Store.MarkDocumentFailed(ctx, doc.ID, err.Error())
		return Stats{Failed: 1}, fmt.Errorf("extract: %w", err)
	}

	stats, err := w.embedAndInsert(ctx, task, doc.ID, text)
	if err != nil {
		_ = w.Store.MarkDocumentFailed(ctx, doc.ID, err.Error())
		return stats, err
	}

	if err := w.Store.MarkDocumentCompleted(ctx, doc.ID); err != nil {
		return stats, fmt.Errorf("mark completed: %w", err)
	}

	if w.Objects != nil {
		key := fmt.Sprintf("%s/%s", task.BotID, task.FileName)
		if err := w.Objects.Upload(ctx, key, task.FilePath); err != nil {
			// the scratch file was already removed via defer; a failed
			// blob upload does not fail an otherwise-completed ingest.
			return stats, nil
		}
	}
	return stats, nil
}

// embedAndInsert is shared by file_upload and crawl: chunk text, embed in
// batches, insert into the bot's vector collection in batches of
// insertBatchSize, progress-reporting roughly once per batch.
func (w *Worker) embedAndInsert(ctx context.Context, task Task, documentID, text string) (Stats, error) {
	chunks := chunkText(text, chunkTokenBudget, chunkOverlapTokens)
	if len(chunks) == 0 {
		return Stats{}, nil
	}

	if err := w.Vectors.EnsureBotCollection(ctx, task.BotID); err != nil {
		return Stats{}, fmt.Errorf("ensure collection: %w", err)
	}

	var batch []vectorstore.Chunk
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Vectors.InsertChunks(ctx, task.BotID, batch); err != nil {
			return err
		}
		total += len(batch)
		if w.Progress != nil {
			_ = w.Progress.ReportProgress(ctx, task, total, len(chunks))
		}
		batch = batch[:0]
		return nil
	}

	for i, content := range chunks {
		embedding, err := w.Embedder.Embed(ctx, content)
		if err != nil {
			return Stats{ChunksTotal: total, Failed: 1}, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		batch = append(batch, vectorstore.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    content,
			Embedding:  embedding,
		})
		if len(batch) >= insertBatchSize {
			if err := flush(); err != nil {
				return Stats{ChunksTotal: total, Failed: 1}, fmt.Errorf("insert batch: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return Stats{ChunksTotal: total, Failed: 1}, fmt.Errorf("insert final batch: %w", err)
	}

	return Stats{PagesOrFiles: 1, ChunksTotal: total}, nil
}
