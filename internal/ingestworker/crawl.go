package ingestworker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrel-run/kestrel/internal/store"
)

// runCrawl handles both crawl modes (§4.6): a fixed seed-URL list, or BFS
// from a single origin bounded by MaxCrawlPages. BFS checks CrawlStop
// cooperatively between pages, mirroring the teacher's
// engine.go IsCancelRequested polling but keyed on the KV crawl-stop
// sentinel instead of a SQL column. At the end the bot's vector collection
// is flushed of any stale ephemeral state the run accumulated.
func (w *Worker) runCrawl(ctx context.Context, task Task) (Stats, error) {
	maxPages := w.MaxCrawlPages
	if maxPages <= 0 {
		maxPages = 200
	}

	var total Stats
	pageCount := 0

	process := func(url, markdown string) error {
		pageCount++
		if pageCount > maxPages {
			return fmt.Errorf("ingestworker: reached max crawl pages (%d)", maxPages)
		}

		if w.KV != nil {
			stopped, err := w.KV.IsCrawlStopRequested(ctx, task.BotID)
			if err == nil && stopped {
				return errCrawlStopped
			}
		}

		doc, err := w.Store.CreateDocument(ctx, uuid.NewString(), task.BotID, store.SourceCrawl, url, contentHashOf(markdown), nil)
		if err != nil {
			if err == store.ErrDuplicateContent {
				return nil
			}
			total.Failed++
			return nil
		}
		if err := w.Store.MarkDocumentProcessing(ctx, doc.ID); err != nil {
			total.Failed++
			return nil
		}

		pageStats, err := w.embedAndInsert(ctx, task, doc.ID, markdown)
		if err != nil {
			_ = w.Store.MarkDocumentFailed(ctx, doc.ID, err.Error())
			total.Failed++
			return nil
		}
		_ = w.Store.MarkDocumentCompleted(ctx, doc.ID)

		total.PagesOrFiles++
		total.ChunksTotal += pageStats.ChunksTotal
		if w.Progress != nil {
			_ = w.Progress.ReportProgress(ctx, task, pageCount, maxPages)
		}
		return nil
	}

	if len(task.SeedURLs) > 0 {
		for _, u := range task.SeedURLs {
			if err := process(u, ""); err != nil {
				if err == errCrawlStopped {
					break
				}
			}
		}
	} else if w.Crawler != nil {
		err := w.Crawler.Crawl(ctx, task.OriginURL, maxPages, process)
		if err != nil && err != errCrawlStopped {
			return total, fmt.Errorf("crawl: %w", err)
		}
	}

	if w.Vectors != nil {
		_ = w.Vectors.Flush(ctx)
	}
	return total, nil
}

var errCrawlStopped = fmt.Errorf("ingestworker: crawl stopped cooperatively")

func contentHashOf(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
