// Command chatworker consumes the chat queue and runs each turn through
// internal/chatgraph: reflect, retrieve, generate, update memory, finalize,
// then POST the completed turn back to the gateway as a webhook (§4.5, §6.3).
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

	"github.com/google/uuid"

	"github.com/kestrel-run/kestrel/internal/bus"
	"github.com/kestrel-run/kestrel/internal/chatgraph"
	"github.com/kestrel-run/kestrel/internal/config"
	"github.com/kestrel-run/kestrel/internal/credentials"
	"github.com/kestrel-run/kestrel/internal/keyrotation"
	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/memory"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/retrieval"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/telemetry"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

const historyWindow = 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, "chatworker", cfg.LogLevel, false)
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

	amqpBus, err := queue.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		fatalStartup(logger, "amqp dial", err)
	}
	defer amqpBus.Close()

	consumer, err := amqpBus.NewConsumer(cfg.Queue.ChatQueue, cfg.Queue.PrefetchCount, "chatworker")
	if err != nil {
		fatalStartup(logger, "open consumer", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx, cfg.Queue.ChatQueue)
	if err != nil {
		fatalStartup(logger, "consume", err)
	}

	eventBus := bus.NewWithLogger(logger)
	rotator := keyrotation.New(kvClient)
	embedder := llm.New(ctx, llm.Config{Provider: cfg.Worker.EmbeddingProvider, Model: cfg.Worker.EmbeddingModel})

	w := &worker{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		vectors:  vectors,
		kv:       kvClient,
		bus:      eventBus,
		rotator:  rotator,
		embedder: embedder,
		credKey:  credKey,
	}

	sem := make(chan struct{}, cfg.Worker.MaxConcurrentTasks)
	var wg sync.WaitGroup

	logger.Info("chatworker started", "queue", cfg.Queue.ChatQueue, "concurrency", cfg.Worker.MaxConcurrentTasks)

	for delivery := range deliveries {
		if delivery.ParseErr != nil {
			logger.Error("malformed chat envelope, routing to dlq", "err", delivery.ParseErr)
			_ = delivery.NackDiscard()
			continue
		}
		if delivery.Envelope.TaskType != queue.TaskChat {
			logger.Error("chat consumer received unexpected task type", "task_type", delivery.Envelope.TaskType)
			_ = delivery.NackDiscard()
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(d queue.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()

			taskCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TaskTimeoutSeconds)*time.Second)
			defer cancel()

			if err := w.handle(taskCtx, d.Envelope); err != nil {
				logger.Error("chat task failed", "task_id", d.Envelope.TaskID, "err", err)
				_ = d.NackRequeue()
				return
			}
			_ = d.Ack()
		}(delivery)
	}

	wg.Wait()
	logger.Info("chatworker stopped")
}

type worker struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	vectors  *vectorstore.Store
	kv       *kv.Client
	bus      *bus.Bus
	rotator  *keyrotation.Rotator
	embedder *llm.GenkitBrain
	credKey  credentials.Key
}

func (w *worker) handle(ctx context.Context, env queue.Envelope) error {
	task, err := env.DecodeChat()
	if err != nil {
		return fmt.Errorf("decode chat task: %w", err)
	}

	session, err := w.store.GetChatSessionByToken(ctx, task.SessionToken)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	bot, err := w.store.GetBot(ctx, env.BotID)
	if err != nil {
		return fmt.Errorf("load bot %s: %w", env.BotID, err)
	}

	msgRow, err := w.store.AppendChatMessage(ctx, uuid.NewString(), session.ID, task.Query)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}

	history, err := w.buildHistory(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	visitor, err := w.store.GetVisitor(ctx, session.VisitorID)
	if err != nil {
		return fmt.Errorf("load visitor: %w", err)
	}

	rotatingBrain, selection, err := w.resolveBrain(ctx, bot)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	retriever := retrieval.New(w.vectors, w.embedder, retrieval.Config{
		Stage1TopK:          w.cfg.Retrieval.Stage1TopK,
		RerankerStage1TopN:  w.cfg.Retrieval.RerankerStage1TopN,
		ConfidenceThreshold: w.cfg.Retrieval.ConfidenceThreshold,
		Stage2TopK:          w.cfg.Retrieval.Stage2TopK,
		RerankerStage2TopN:  w.cfg.Retrieval.RerankerStage2TopN,
		CacheTTL:            time.Duration(w.cfg.Retrieval.CacheTTLSeconds) * time.Second,
		SearchTimeout:       time.Duration(w.cfg.Retrieval.SearchTimeoutSeconds) * time.Second,
		TwoStageEnabled:     w.cfg.Retrieval.TwoStageEnabled,
	})

	graph := chatgraph.New(chatgraph.Deps{
		Brain:             rotatingBrain,
		Retriever:         retriever,
		Summarizer:        memory.NewLLMSummarizer(rotatingBrain),
		Bus:               w.bus,
		Logger:            w.logger,
		GroundednessCheck: w.cfg.Reflection.Enabled,
		KeyRotate: func(ctx context.Context, state *chatgraph.ChatState) error {
			return w.rotateKey(ctx, bot, rotatingBrain, state)
		},
	})

	state := chatgraph.NewChatState(env.BotID, session.ID, task.SessionToken, task.Query)
	state.BotName, state.BotDescription = botDisplayIdentity(bot)
	state.History = history
	state.VisitorProfile = chatgraph.VisitorProfile{
		Name: visitor.Name, Email: visitor.Email, Phone: visitor.Phone, Address: visitor.Address,
	}
	state.LongTermMemory = session.LongTermMemory
	state.IsContact = session.IsContact
	state.Provider = selection
	state.Streaming = true
	state.OnSources = func(sources []chatgraph.Source) error {
		if err := w.kv.PublishProgress(ctx, kv.TaskState{
			TaskID:    env.TaskID,
			BotID:     env.BotID,
			Status:    "sources",
			Timestamp: time.Now(),
			Result:    marshalProgressPayload(sources),
		}); err != nil {
			w.logger.Warn("publish sources progress failed", "task_id", env.TaskID, "err", err)
		}
		return nil
	}
	state.OnToken = func(text string) error {
		if err := w.kv.PublishProgress(ctx, kv.TaskState{
			TaskID:    env.TaskID,
			BotID:     env.BotID,
			Status:    "token",
			Message:   text,
			Timestamp: time.Now(),
		}); err != nil {
			w.logger.Warn("publish token progress failed", "task_id", env.TaskID, "err", err)
		}
		return nil
	}

	if err := graph.Run(ctx, state); err != nil {
		return fmt.Errorf("run chat graph: %w", err)
	}

	if err := w.store.SetChatMessageResponse(ctx, msgRow.ID, state.Response); err != nil {
		w.logger.Error("persist chat response failed", "err", err)
	}
	if err := w.store.UpdateLongTermMemory(ctx, session.ID, state.LongTermMemory); err != nil {
		w.logger.Error("persist long term memory failed", "err", err)
	}
	if state.IsContact && !session.IsContact {
		if err := w.store.MarkContact(ctx, session.ID); err != nil {
			w.logger.Error("mark contact failed", "err", err)
		}
	}
	if state.VisitorProfile != (chatgraph.VisitorProfile{}) {
		if err := w.store.UpdateVisitorContact(ctx, session.VisitorID,
			state.VisitorProfile.Name, state.VisitorProfile.Email,
			state.VisitorProfile.Phone, state.VisitorProfile.Address); err != nil {
			w.logger.Error("persist visitor contact fields failed", "err", err)
		}
	}

	payload := chatgraph.PayloadFromState(state, session.VisitorID)
	webhookURL := fmt.Sprintf("%s/webhooks/chat?task_id=%s", w.cfg.Worker.GatewayBaseURL, env.TaskID)
	sender := chatgraph.NewWebhookSender(webhookURL, w.cfg.Gateway.WebhookSecret)
	if err := sender.Send(ctx, payload); err != nil {
		w.logger.Error("chat completion webhook delivery failed", "task_id", env.TaskID, "err", err)
	}
	return nil
}

// botDisplayIdentity pulls the bot's display name out of its display_config
// JSONB blob (display configuration is otherwise opaque to the backend),
// falling back to the bot id when absent or malformed, and pairs it with
// the bot's own description column.
func botDisplayIdentity(bot store.Bot) (name, description string) {
	var display struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(bot.DisplayConfig, &display); err == nil && display.Name != "" {
		name = display.Name
	} else {
		name = bot.ID
	}
	return name, bot.Description
}

// marshalProgressPayload encodes v for kv.TaskState.Result, falling back to
// "null" on the (practically unreachable) marshal failure rather than
// dropping the progress event entirely.
func marshalProgressPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func (w *worker) buildHistory(ctx context.Context, sessionID string) ([]chatgraph.HistoryTurn, error) {
	msgs, err := w.store.ListChatMessages(ctx, sessionID, historyWindow)
	if err != nil {
		return nil, err
	}
	turns := make([]chatgraph.HistoryTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, chatgraph.HistoryTurn{Query: m.Query, Response: m.Response})
	}
	return turns, nil
}

// resolveBrain loads a bot's provider config, decrypts its active
// credentials, selects the next available key via key rotation, and wraps
// the resulting GenkitBrain in a RotatingBrain so KeyRotate can swap it
// mid-turn (internal/llm.RotatingBrain).
func (w *worker) resolveBrain(ctx context.Context, bot store.Bot) (*llm.RotatingBrain, chatgraph.ProviderSelection, error) {
	if !bot.ProviderConfigID.Valid {
		return nil, chatgraph.ProviderSelection{}, fmt.Errorf("bot %s has no provider configuration", bot.ID)
	}
	pc, err := w.store.GetProviderConfig(ctx, bot.ProviderConfigID.String)
	if err != nil {
		return nil, chatgraph.ProviderSelection{}, err
	}

	var entries []store.CredentialEntry
	if err := json.Unmarshal(pc.Credentials, &entries); err != nil {
		return nil, chatgraph.ProviderSelection{}, fmt.Errorf("decode credential entries: %w", err)
	}

	keys := make([]keyrotation.Key, 0, len(entries))
	for _, e := range entries {
		plain, err := credentials.Decrypt(w.credKey, e.Ciphertext)
		if err != nil {
			w.logger.Error("decrypt credential failed, skipping key", "label", e.Label, "err", err)
			continue
		}
		keys = append(keys, keyrotation.Key{Plaintext: plain, Label: e.Label, Active: e.Active})
	}

	selected, err := w.rotator.Next(ctx, bot.ID, keys)
	if err != nil {
		return nil, chatgraph.ProviderSelection{}, err
	}

	brain := llm.New(ctx, llm.Config{Provider: pc.Provider, Model: pc.Model, APIKey: selected.Key.Plaintext})
	selection := chatgraph.ProviderSelection{
		Provider: pc.Provider, Model: pc.Model, APIKey: selected.Key.Plaintext, KeyIndex: selected.Index,
	}
	return llm.NewRotatingBrain(brain), selection, nil
}

// rotateKey is the chat graph's KeyRotate hook: it marks the current key
// rate-limited, selects the next one, and swaps it into rotatingBrain so
// the graph's remaining retries call out with the new key.
func (w *worker) rotateKey(ctx context.Context, bot store.Bot, rotatingBrain *llm.RotatingBrain, state *chatgraph.ChatState) error {
	if err := w.rotator.MarkRateLimited(ctx, bot.ID, state.Provider.KeyIndex); err != nil {
		w.logger.Warn("mark rate limited failed", "err", err)
	}

	pc, err := w.store.GetProviderConfig(ctx, bot.ProviderConfigID.String)
	if err != nil {
		return err
	}
	var entries []store.CredentialEntry
	if err := json.Unmarshal(pc.Credentials, &entries); err != nil {
		return err
	}
	keys := make([]keyrotation.Key, 0, len(entries))
	for _, e := range entries {
		plain, err := credentials.Decrypt(w.credKey, e.Ciphertext)
		if err != nil {
			continue
		}
		keys = append(keys, keyrotation.Key{Plaintext: plain, Label: e.Label, Active: e.Active})
	}

	selected, err := w.rotator.Next(ctx, bot.ID, keys)
	if err != nil {
		return err
	}
	next := llm.New(ctx, llm.Config{Provider: pc.Provider, Model: pc.Model, APIKey: selected.Key.Plaintext})
	rotatingBrain.Swap(next)
	state.Provider = chatgraph.ProviderSelection{
		Provider: pc.Provider, Model: pc.Model, APIKey: selected.Key.Plaintext, KeyIndex: selected.Index,
	}
	return nil
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
		logger.Error("chatworker failed to start", "stage", stage, "err", err)
	} else {
		fmt.Fprintf(os.Stderr, "chatworker failed to start (%s): %v\n", stage, err)
	}
	os.Exit(1)
}
