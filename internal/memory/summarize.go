package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrel-run/kestrel/internal/llm"
)

// Summarizer compresses messages into a brief summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []WindowMessage) (string, error)
}

// StaticSummarizer provides a simple fallback summary without LLM.
// Used for testing or when LLM is unavailable.
type StaticSummarizer struct{}

func (s *StaticSummarizer) Summarize(ctx context.Context, messages []WindowMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	return fmt.Sprintf("[Summary of %d earlier messages]", len(messages)), nil
}

var _ Summarizer = (*StaticSummarizer)(nil)

// LLMSummarizer asks a brain to compress aged-out messages into the
// session's long_term_memory field (§4.2). It falls back to
// StaticSummarizer's placeholder text when the brain isn't ready rather
// than failing the chat turn.
type LLMSummarizer struct {
	Brain    llm.Brain
	fallback StaticSummarizer
}

// NewLLMSummarizer builds an LLMSummarizer backed by brain.
func NewLLMSummarizer(brain llm.Brain) *LLMSummarizer {
	return &LLMSummarizer{Brain: brain}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, messages []WindowMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	if s.Brain == nil {
		return s.fallback.Summarize(ctx, messages)
	}

	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	reply, err := s.Brain.Respond(ctx, llm.Request{
		SystemPrompt: "Summarize the following conversation excerpt in 2-3 sentences, preserving names, facts, and commitments the visitor made. Do not add commentary.",
		Query:        transcript.String(),
	})
	if err != nil {
		return s.fallback.Summarize(ctx, messages)
	}
	return strings.TrimSpace(reply), nil
}

var _ Summarizer = (*LLMSummarizer)(nil)
