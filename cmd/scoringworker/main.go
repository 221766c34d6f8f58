// Command scoringworker consumes grading and assessment tasks, judges a
// visitor's conversation against a rubric, and posts the terminal result
// back to the gateway over a webhook (§4.7, §6.3).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kestrel-run/kestrel/internal/config"
	"github.com/kestrel-run/kestrel/internal/credentials"
	"github.com/kestrel-run/kestrel/internal/keyrotation"
	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/scoringworker"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/telemetry"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
	"github.com/kestrel-run/kestrel/internal/webhookclient"
)

type scoringResultPayload struct {
	TaskID    string          `json:"task_id"`
	VisitorID string          `json:"visitor_id"`
	Result    json.RawMessage `json:"result"`
	Failed    bool            `json:"failed"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, "scoringworker", cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	credKey, err := credentials.ParseKey(cfg.CredentialKey)
	if err != nil {
		fatalStartup(logger, "parse credential key", err)
	}

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

	rotator := keyrotation.New(kvClient)
	embedder := llm.New(ctx, llm.Config{Provider: cfg.Worker.EmbeddingProvider, Model: cfg.Worker.EmbeddingModel})
	sender := webhookclient.New(cfg.Worker.GatewayBaseURL, cfg.Gateway.WebhookSecret)

	resolver := &brainResolver{store: st, rotator: rotator, credKey: credKey}

	amqpBus, err := queue.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		fatalStartup(logger, "amqp dial", err)
	}
	defer amqpBus.Close()

	gradingConsumer, err := amqpBus.NewConsumer(cfg.Queue.GradingQueue, cfg.Queue.PrefetchCount, "scoringworker-grading")
	if err != nil {
		fatalStartup(logger, "open grading consumer", err)
	}
	defer gradingConsumer.Close()
	gradingDeliveries, err := gradingConsumer.Consume(ctx, cfg.Queue.GradingQueue)
	if err != nil {
		fatalStartup(logger, "consume grading queue", err)
	}

	assessmentConsumer, err := amqpBus.NewConsumer(cfg.Queue.AssessmentQueue, cfg.Queue.PrefetchCount, "scoringworker-assessment")
	if err != nil {
		fatalStartup(logger, "open assessment consumer", err)
	}
	defer assessmentConsumer.Close()
	assessmentDeliveries, err := assessmentConsumer.Consume(ctx, cfg.Queue.AssessmentQueue)
	if err != nil {
		fatalStartup(logger, "consume assessment queue", err)
	}

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

			task, err := decodeTask(d.Envelope)
			if err != nil {
				logger.Error("malformed scoring envelope, routing to dlq", "err", err)
				_ = d.NackDiscard()
				return
			}

			brain, err := resolver.resolve(taskCtx, task.BotID)
			if err != nil {
				logger.Error("resolve scoring provider failed", "task_id", task.ID, "err", err)
				_ = d.NackRequeue()
				return
			}

			w := &scoringworker.Worker{
				Store:      st,
				Vectors:    vectors,
				KV:         kvClient,
				Embedder:   embedder,
				Brain:      brain,
				Thresholds: scoringworker.Thresholds{Hot: cfg.Engagement.HotThreshold, Warm: cfg.Engagement.WarmThreshold},
				AssessmentQuestions: func(botID string) ([]string, error) {
					return assessmentQuestionsFor(taskCtx, st, botID)
				},
			}

			result, runErr := w.Run(taskCtx, task)
			webhookPath := "/webhooks/grading"
			if task.Type == scoringworker.TaskAssessment {
				webhookPath = "/webhooks/assessment"
			}

			resultJSON, _ := json.Marshal(result)
			postErr := sender.Post(taskCtx, webhookPath, scoringResultPayload{
				TaskID:    task.ID,
				VisitorID: task.VisitorID,
				Result:    resultJSON,
				Failed:    runErr != nil,
			})
			if postErr != nil {
				logger.Error("scoring result webhook delivery failed", "task_id", task.ID, "err", postErr)
			}

			if runErr != nil {
				logger.Error("scoring task failed", "task_id", task.ID, "type", task.Type, "err", runErr)
				_ = d.NackDiscard()
				return
			}
			_ = d.Ack()
		}()
	}

	logger.Info("scoringworker started", "grading_queue", cfg.Queue.GradingQueue, "assessment_queue", cfg.Queue.AssessmentQueue,
		"concurrency", cfg.Worker.MaxConcurrentTasks)

	go func() {
		for d := range gradingDeliveries {
			if d.ParseErr != nil {
				logger.Error("malformed grading envelope, routing to dlq", "err", d.ParseErr)
				_ = d.NackDiscard()
				continue
			}
			dispatch(d)
		}
	}()

	for d := range assessmentDeliveries {
		if d.ParseErr != nil {
			logger.Error("malformed assessment envelope, routing to dlq", "err", d.ParseErr)
			_ = d.NackDiscard()
			continue
		}
		dispatch(d)
	}

	wg.Wait()
	logger.Info("scoringworker stopped")
}

func decodeTask(env queue.Envelope) (scoringworker.Task, error) {
	switch env.TaskType {
	case queue.TaskGrading:
		t, err := env.DecodeGrading()
		if err != nil {
			return scoringworker.Task{}, err
		}
		return scoringworker.Task{ID: env.TaskID, Type: scoringworker.TaskGrading, BotID: env.BotID, VisitorID: t.VisitorID}, nil
	case queue.TaskAssessment:
		t, err := env.DecodeAssessment()
		if err != nil {
			return scoringworker.Task{}, err
		}
		return scoringworker.Task{ID: env.TaskID, Type: scoringworker.TaskAssessment, BotID: env.BotID, VisitorID: t.VisitorID}, nil
	default:
		return scoringworker.Task{}, fmt.Errorf("scoringworker: unexpected task type %q", env.TaskType)
	}
}

// assessmentQuestionsFor resolves a bot's configured assessment question
// list from its store-backed JSON column (store.Bot.AssessmentQuestions).
func assessmentQuestionsFor(ctx context.Context, st *store.Store, botID string) ([]string, error) {
	bot, err := st.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}
	if len(bot.AssessmentQuestions) == 0 {
		return nil, fmt.Errorf("bot %s has no assessment questions configured", botID)
	}
	var questions []string
	if err := json.Unmarshal(bot.AssessmentQuestions, &questions); err != nil {
		return nil, fmt.Errorf("decode assessment questions: %w", err)
	}
	return questions, nil
}

// brainResolver builds a one-shot llm.Brain for a scoring task: scoring
// tasks run once and report back, so unlike chatworker there is no need to
// wrap the result in a RotatingBrain — a rate limit simply fails the task
// and lets the queue redeliver it.
type brainResolver struct {
	store   *store.Store
	rotator *keyrotation.Rotator
	credKey credentials.Key
}

func (r *brainResolver) resolve(ctx context.Context, botID string) (llm.Brain, error) {
	bot, err := r.store.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}
	if !bot.ProviderConfigID.Valid {
		return nil, fmt.Errorf("bot %s has no provider configuration", botID)
	}
	pc, err := r.store.GetProviderConfig(ctx, bot.ProviderConfigID.String)
	if err != nil {
		return nil, err
	}

	var entries []store.CredentialEntry
	if err := json.Unmarshal(pc.Credentials, &entries); err != nil {
		return nil, fmt.Errorf("decode credential entries: %w", err)
	}
	keys := make([]keyrotation.Key, 0, len(entries))
	for _, e := range entries {
		plain, err := credentials.Decrypt(r.credKey, e.Ciphertext)
		if err != nil {
			continue
		}
		keys = append(keys, keyrotation.Key{Plaintext: plain, Label: e.Label, Active: e.Active})
	}

	selected, err := r.rotator.Next(ctx, botID, keys)
	if err != nil {
		return nil, err
	}
	return llm.New(ctx, llm.Config{Provider: pc.Provider, Model: pc.Model, APIKey: selected.Key.Plaintext}), nil
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
		logger.Error("scoringworker failed to start", "stage", stage, "err", err)
	} else {
		fmt.Fprintf(os.Stderr, "scoringworker failed to start (%s): %v\n", stage, err)
	}
	os.Exit(1)
}
