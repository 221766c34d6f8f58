// Package llm is the genkit-backed provider abstraction chat, ingest, and
// scoring workers call through: text generation, streaming, and rubric
// judging, resolved per-bot from internal/store.ProviderConfig (§3, §4.2,
// §4.7), grounded on internal/engine.GenkitBrain.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Brain is the abstraction every worker calls an LLM through. It never sees
// plaintext credentials directly — callers resolve the active key via
// internal/keyrotation and hand it in through Config.APIKey.
type Brain interface {
	Respond(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(text string) error) error
	Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error)
}

// Request is one turn's generation input.
type Request struct {
	SystemPrompt string
	History      []Message
	Query        string
	Temperature  float64
}

// Message is one prior turn in a conversation, role "user" or "model".
type Message struct {
	Role    string
	Content string
}

// JudgeRequest asks the model to score a visitor's answer against a rubric
// (§4.7 grading/assessment).
type JudgeRequest struct {
	SystemPrompt string
	Rubric       string
	Input        string
}

// JudgeResult is a rubric score in [0, 1] plus the model's rationale.
type JudgeResult struct {
	Score     float64
	Rationale string
}

// Config selects the provider/model/key a GenkitBrain talks to.
type Config struct {
	Provider   string // "google", "anthropic", "openai", "openai_compatible", "openrouter"
	Model      string
	APIKey     string
	BaseURL    string // only meaningful for openai_compatible
	CompatName string // openai_compatible's upstream provider label
}

// GenkitBrain wraps a genkit instance configured for a single provider/model.
type GenkitBrain struct {
	g        *genkit.Genkit
	provider string
	model    string
	ready    bool
}

// New initializes a GenkitBrain for cfg. When no API key is configured the
// brain still constructs (so callers can detect readiness via IsReady rather
// than nil-checking), but generation returns ErrNotReady.
func New(ctx context.Context, cfg Config) *GenkitBrain {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	ready := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			ready = true
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			ready = true
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.CompatName,
				APIKey:   apiKey,
				BaseURL:  cfg.BaseURL,
			}))
			ready = true
		}
	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			ready = true
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+model),
			)
			ready = true
		}
	default:
		slog.Warn("llm: unknown provider, brain will not be ready", "provider", provider)
	}

	if !ready {
		g = genkit.Init(ctx)
		slog.Warn("llm: no API key configured, brain is not ready", "provider", provider)
	}

	return &GenkitBrain{g: g, provider: provider, model: model, ready: ready}
}

// IsReady reports whether a usable API key was configured.
func (b *GenkitBrain) IsReady() bool {
	return b.ready
}

// ErrNotReady is returned by Respond/Stream/Judge when no provider key is
// configured.
var ErrNotReady = fmt.Errorf("llm: brain has no configured provider key")

func (b *GenkitBrain) modelName() string {
	return modelNameForProvider(b.provider, b.model)
}

func toGenkitMessages(history []Message) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		role := ai.RoleUser
		if m.Role == "model" || m.Role == "assistant" {
			role = ai.RoleModel
		}
		msgs = append(msgs, ai.NewTextMessage(role, m.Content))
	}
	return msgs
}

// Respond generates a single reply for req.
func (b *GenkitBrain) Respond(ctx context.Context, req Request) (string, error) {
	if !b.ready {
		return "", ErrNotReady
	}
	trimmed := strings.TrimSpace(req.Query)
	if trimmed == "" {
		return "", fmt.Errorf("llm: empty query")
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(b.modelName()),
		ai.WithPrompt(trimmed),
		ai.WithSystem(req.SystemPrompt),
	}
	if len(req.History) > 0 {
		opts = append(opts, ai.WithMessages(toGenkitMessages(req.History)...))
	}

	resp, err := genkit.Generate(ctx, b.g, opts...)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	return resp.Text(), nil
}

// Stream generates a reply, invoking onChunk for each text delta.
func (b *GenkitBrain) Stream(ctx context.Context, req Request, onChunk func(text string) error) error {
	if !b.ready {
		return ErrNotReady
	}
	trimmed := strings.TrimSpace(req.Query)
	if trimmed == "" {
		return fmt.Errorf("llm: empty query")
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(b.modelName()),
		ai.WithPrompt(trimmed),
		ai.WithSystem(req.SystemPrompt),
	}
	if len(req.History) > 0 {
		opts = append(opts, ai.WithMessages(toGenkitMessages(req.History)...))
	}

	stream := genkit.GenerateStream(ctx, b.g, opts...)
	for val, err := range stream {
		if err != nil {
			return fmt.Errorf("llm stream: %w", err)
		}
		if val.Chunk != nil {
			for _, part := range val.Chunk.Content {
				if part.Kind == ai.PartText && part.Text != "" {
					if err := onChunk(part.Text); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Judge scores req.Input against req.Rubric, asking the model to answer with
// a "SCORE: 0.xx" line the response is parsed from — a deliberately simple
// protocol since the grading/assessment workers only need a scalar plus a
// rationale for the visitor's record, not structured output.
func (b *GenkitBrain) Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error) {
	if !b.ready {
		return JudgeResult{}, ErrNotReady
	}
	system := req.SystemPrompt
	if system == "" {
		system = "You are a strict grader. Score the input against the rubric on a scale from 0.00 to 1.00."
	}
	prompt := fmt.Sprintf("Rubric:\n%s\n\nInput to grade:\n%s\n\nRespond with a line \"SCORE: 0.xx\" followed by a one-sentence rationale.", req.Rubric, req.Input)

	resp, err := genkit.Generate(ctx, b.g,
		ai.WithModelName(b.modelName()),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return JudgeResult{}, fmt.Errorf("llm judge: %w", err)
	}
	return parseJudgeResponse(resp.Text()), nil
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "openai":
		return "gpt-4o-mini"
	case "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "anthropic/claude-sonnet-4-5-20250929"
	default:
		return "gemini-2.5-flash"
	}
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}
