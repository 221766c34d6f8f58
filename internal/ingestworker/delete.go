package ingestworker

import (
	"context"
	"fmt"
)

// runDeleteDocument deletes every vector whose document_id matches from the
// bot's collection, then removes the relational row (§4.6 "delete_document").
func (w *Worker) runDeleteDocument(ctx context.Context, task Task) (Stats, error) {
	if err := w.Vectors.DeleteByDocumentID(ctx, task.BotID, task.DocumentID); err != nil {
		return Stats{Failed: 1}, fmt.Errorf("delete vectors: %w", err)
	}
	if err := w.Store.DeleteDocument(ctx, task.DocumentID); err != nil {
		return Stats{Failed: 1}, fmt.Errorf("delete document: %w", err)
	}
	return Stats{PagesOrFiles: 1}, nil
}

// runRecrawl deletes vectors for a batch of document ids, preparing for a
// fresh crawl the gateway will separately enqueue (§4.6 "recrawl").
func (w *Worker) runRecrawl(ctx context.Context, task Task) (Stats, error) {
	var stats Stats
	for _, docID := range task.DocumentIDs {
		if err := w.Vectors.DeleteByDocumentID(ctx, task.BotID, docID); err != nil {
			stats.Failed++
			continue
		}
		stats.PagesOrFiles++
	}
	return stats, nil
}
