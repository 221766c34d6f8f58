package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/robfig/cron/v3"
)

// recrawlScheduler periodically re-enqueues every active bot's previously
// crawled documents as TaskRecrawl tasks, so pages drift (content edited or
// removed on the source site) eventually gets reflected without a human
// re-triggering a crawl by hand.
type recrawlScheduler struct {
	store     *store.Store
	publisher *queue.Publisher
	logger    *slog.Logger
}

func startRecrawlScheduler(schedule string, st *store.Store, publisher *queue.Publisher, logger *slog.Logger) (*cron.Cron, error) {
	s := &recrawlScheduler{store: st, publisher: publisher, logger: logger}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (s *recrawlScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	bots, err := s.store.ListActiveBots(ctx)
	if err != nil {
		s.logger.Error("recrawl scheduler: list active bots failed", "err", err)
		return
	}

	enqueued := 0
	for _, bot := range bots {
		docs, err := s.store.ListCrawledDocuments(ctx, bot.ID)
		if err != nil {
			s.logger.Error("recrawl scheduler: list crawled documents failed", "bot_id", bot.ID, "err", err)
			continue
		}
		for _, doc := range docs {
			env, err := queue.NewEnvelope(randomTaskID(), queue.TaskRecrawl, bot.ID, queue.RecrawlTask{
				DocumentID: doc.ID,
				URL:        doc.SourceURL,
			})
			if err != nil {
				s.logger.Error("recrawl scheduler: build envelope failed", "document_id", doc.ID, "err", err)
				continue
			}
			if err := s.publisher.Publish(ctx, env, 0); err != nil {
				s.logger.Error("recrawl scheduler: publish failed", "document_id", doc.ID, "err", err)
				continue
			}
			enqueued++
		}
	}
	s.logger.Info("recrawl scheduler tick complete", "bots", len(bots), "documents_enqueued", enqueued)
}

func randomTaskID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "task_" + hex.EncodeToString(b[:])
}
