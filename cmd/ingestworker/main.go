// Command ingestworker consumes file_upload, crawl, delete_document, and
// recrawl tasks: extract, chunk, embed, and insert into a bot's vector
// collection, reporting progress back to the gateway over webhooks (§4.6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kestrel-run/kestrel/internal/config"
	"github.com/kestrel-run/kestrel/internal/ingestworker"
	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/telemetry"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
	"github.com/kestrel-run/kestrel/internal/webhookclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, "ingestworker", cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		fatalStartup(logger, "store open", err)
	}
	defer st.Close()

	vectors, err := vectorstore.Open(vectorstore.Config{Path: cfg.VectorStore.Path}, cfg.VectorStore.EmbeddingDims)
	if err != nil {
		fatalStartup(logger, "vector store open", err)
	}
	defer vectors.Close()

	kvClient := kv.New(kv.Config{Addr: cfg.KV.Addr, Password: cfg.KV.Password, DB: cfg.KV.DB})
	defer kvClient.Close()

	objects, err := newLocalObjectStore(cfg.Worker.ObjectsDir)
	if err != nil {
		fatalStartup(logger, "open object store", err)
	}

	embedder := llm.New(ctx, llm.Config{Provider: cfg.Worker.EmbeddingProvider, Model: cfg.Worker.EmbeddingModel})
	sender := webhookclient.New(cfg.Worker.GatewayBaseURL, cfg.Gateway.WebhookSecret)

	w := &ingestworker.Worker{
		Store:         st,
		Vectors:       vectors,
		KV:            kvClient,
		Extractor:     extExtractor{},
		Embedder:      embedder,
		Crawler:       newHTTPCrawler(),
		Objects:       objects,
		Progress:      &webhookProgress{Sender: sender},
		MaxCrawlPages: cfg.Worker.MaxCrawlPages,
	}

	amqpBus, err := queue.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		fatalStartup(logger, "amqp dial", err)
	}
	defer amqpBus.Close()

	fileConsumer, err := amqpBus.NewConsumer(cfg.Queue.FileQueue, cfg.Queue.PrefetchCount, "ingestworker-file")
	if err != nil {
		fatalStartup(logger, "open file consumer", err)
	}
	defer fileConsumer.Close()
	fileDeliveries, err := fileConsumer.Consume(ctx, cfg.Queue.FileQueue)
	if err != nil {
		fatalStartup(logger, "consume file queue", err)
	}

	crawlConsumer, err := amqpBus.NewConsumer(cfg.Queue.CrawlQueue, cfg.Queue.PrefetchCount, "ingestworker-crawl")
	if err != nil {
		fatalStartup(logger, "open crawl consumer", err)
	}
	defer crawlConsumer.Close()
	crawlDeliveries, err := crawlConsumer.Consume(ctx, cfg.Queue.CrawlQueue)
	if err != nil {
		fatalStartup(logger, "consume crawl queue", err)
	}

	recrawlPublisher, err := amqpBus.NewPublisher(cfg.Queue.CrawlQueue)
	if err != nil {
		fatalStartup(logger, "open recrawl publisher", err)
	}
	defer recrawlPublisher.Close()

	recrawlCron, err := startRecrawlScheduler(cfg.Worker.RecrawlCronSchedule, st, recrawlPublisher, logger)
	if err != nil {
		fatalStartup(logger, "start recrawl scheduler", err)
	}
	defer recrawlCron.Stop()

	sem := make(chan struct{}, cfg.Worker.MaxConcurrentTasks)
	var wg sync.WaitGroup

	dispatch := func(d queue.Delivery) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			taskCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TaskTimeoutSeconds)*time.Second)
			defer cancel()

			task, err := decodeTask(d.Envelope, objects)
			if err != nil {
				logger.Error("malformed ingest envelope, routing to dlq", "err", err)
				_ = d.NackDiscard()
				return
			}
			if err := w.Run(taskCtx, task); err != nil {
				logger.Error("ingest task failed", "task_id", task.ID, "type", task.Type, "err", err)
				_ = d.NackRequeue()
				return
			}
			_ = d.Ack()
		}()
	}

	logger.Info("ingestworker started", "file_queue", cfg.Queue.FileQueue, "crawl_queue", cfg.Queue.CrawlQueue,
		"concurrency", cfg.Worker.MaxConcurrentTasks, "recrawl_schedule", cfg.Worker.RecrawlCronSchedule)

	go func() {
		for d := range fileDeliveries {
			if d.ParseErr != nil {
				logger.Error("malformed file envelope, routing to dlq", "err", d.ParseErr)
				_ = d.NackDiscard()
				continue
			}
			dispatch(d)
		}
	}()

	for d := range crawlDeliveries {
		if d.ParseErr != nil {
			logger.Error("malformed crawl envelope, routing to dlq", "err", d.ParseErr)
			_ = d.NackDiscard()
			continue
		}
		dispatch(d)
	}

	wg.Wait()
	logger.Info("ingestworker stopped")
}

// decodeTask maps a queue.Envelope into ingestworker.Task, resolving
// file_upload's object key to a local scratch path through the same
// localObjectStore the worker later archives the original blob into.
func decodeTask(env queue.Envelope, objects *localObjectStore) (ingestworker.Task, error) {
	switch env.TaskType {
	case queue.TaskFileUpload:
		t, err := env.DecodeFileUpload()
		if err != nil {
			return ingestworker.Task{}, err
		}
		return ingestworker.Task{
			ID:         env.TaskID,
			Type:       ingestworker.TaskFileUpload,
			BotID:      env.BotID,
			DocumentID: t.DocumentID,
			FilePath:   objects.ScratchPath(t.ObjectKey),
			FileName:   t.Filename,
		}, nil
	case queue.TaskCrawl:
		t, err := env.DecodeCrawl()
		if err != nil {
			return ingestworker.Task{}, err
		}
		task := ingestworker.Task{
			ID:       env.TaskID,
			Type:     ingestworker.TaskCrawl,
			BotID:    env.BotID,
			SeedURLs: t.SeedURLs,
		}
		if len(t.SeedURLs) > 0 {
			task.OriginURL = t.SeedURLs[0]
		}
		return task, nil
	case queue.TaskDeleteDocument:
		t, err := env.DecodeDeleteDocument()
		if err != nil {
			return ingestworker.Task{}, err
		}
		return ingestworker.Task{
			ID: env.TaskID, Type: ingestworker.TaskDeleteDocument, BotID: env.BotID, DocumentID: t.DocumentID,
		}, nil
	case queue.TaskRecrawl:
		t, err := env.DecodeRecrawl()
		if err != nil {
			return ingestworker.Task{}, err
		}
		return ingestworker.Task{
			ID: env.TaskID, Type: ingestworker.TaskRecrawl, BotID: env.BotID, DocumentIDs: []string{t.DocumentID},
		}, nil
	default:
		return ingestworker.Task{}, fmt.Errorf("ingestworker: unexpected task type %q", env.TaskType)
	}
}

func storeConfig(cfg config.Config) store.Config {
	lifetime, _ := time.ParseDuration(cfg.Store.ConnMaxLifetime)
	return store.Config{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: lifetime,
	}
}

func fatalStartup(logger *slog.Logger, stage string, err error) {
	if logger != nil {
		logger.Error("ingestworker failed to start", "stage", stage, "err", err)
	} else {
		fmt.Fprintf(os.Stderr, "ingestworker failed to start (%s): %v\n", stage, err)
	}
	os.Exit(1)
}
