// Command gateway runs the HTTP surface of the orchestration core: webhook
// receivers from the three consumer processes, REST task-creation endpoints,
// and SSE progress streams (§2, §6). It is the only process that opens a
// public listener and the single writer of chat session/message/visitor
// rows (§6.3).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-run/kestrel/internal/config"
	"github.com/kestrel-run/kestrel/internal/gatewayhttp"
	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, "gateway", cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("gateway starting", "bind_addr", cfg.BindAddr, "config_fingerprint", cfg.Fingerprint())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		fatalStartup(logger, "store open", err)
	}
	defer st.Close()

	kvClient := kv.New(kv.Config{Addr: cfg.KV.Addr, Password: cfg.KV.Password, DB: cfg.KV.DB})
	defer kvClient.Close()
	if err := kvClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed at startup, continuing (go-redis reconnects lazily)", "err", err)
	}

	bus, err := queue.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		fatalStartup(logger, "amqp dial", err)
	}
	defer bus.Close()

	if err := bus.DeclareQueues(queueDefinitions(cfg)); err != nil {
		fatalStartup(logger, "declare queues", err)
	}

	gw := gatewayhttp.New(gatewayhttp.Config{
		Store: st,
		KV:    kvClient,
		Bus:   bus,
		Queues: gatewayhttp.QueueNames{
			File:       cfg.Queue.FileQueue,
			Crawl:      cfg.Queue.CrawlQueue,
			Chat:       cfg.Queue.ChatQueue,
			Grading:    cfg.Queue.GradingQueue,
			Assessment: cfg.Queue.AssessmentQueue,
		},
		WebhookSecret: cfg.Gateway.WebhookSecret,
		APIKeys:       cfg.Gateway.APIKeys,
		CORS: gatewayhttp.CORSConfig{
			Enabled:        cfg.Gateway.CORSEnabled,
			AllowedOrigins: cfg.Gateway.CORSAllowedOrigins,
		},
		RateLimit: gatewayhttp.RateLimitConfig{
			Enabled:           cfg.Gateway.RateLimitEnabled,
			RequestsPerMinute: cfg.Gateway.RateLimitRequestsPerMinute,
			BurstSize:         cfg.Gateway.RateLimitBurstSize,
		},
	})
	gw.StartRateLimitEviction(ctx, 5*time.Minute, 30*time.Minute)

	srv := &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      gw,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open far longer than a normal request
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalStartup(logger, "listen and serve", err)
		}
	}
	logger.Info("gateway stopped")
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

func queueDefinitions(cfg config.Config) []queue.Definition {
	return []queue.Definition{
		{Name: cfg.Queue.FileQueue},
		{Name: cfg.Queue.CrawlQueue},
		{Name: cfg.Queue.ChatQueue, MaxLength: cfg.Queue.MaxChatQueueLength},
		{Name: cfg.Queue.GradingQueue},
		{Name: cfg.Queue.AssessmentQueue},
		{Name: cfg.Queue.EmailQueue},
	}
}

func fatalStartup(logger *slog.Logger, stage string, err error) {
	if logger != nil {
		logger.Error("gateway failed to start", "stage", stage, "err", err)
	} else {
		fmt.Fprintf(os.Stderr, "gateway failed to start (%s): %v\n", stage, err)
	}
	os.Exit(1)
}
