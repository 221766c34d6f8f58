package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/llm"
)

type fakeBrain struct {
	reply string
	err   error
}

func (f *fakeBrain) Respond(ctx context.Context, req llm.Request) (string, error) {
	return f.reply, f.err
}

func (f *fakeBrain) Stream(ctx context.Context, req llm.Request, onChunk func(string) error) error {
	return onChunk(f.reply)
}

func (f *fakeBrain) Judge(ctx context.Context, req llm.JudgeRequest) (llm.JudgeResult, error) {
	return llm.JudgeResult{}, f.err
}

func TestLLMSummarizer_UsesBrain(t *testing.T) {
	s := NewLLMSummarizer(&fakeBrain{reply: "Visitor asked about pricing and left their email."})
	summary, err := s.Summarize(context.Background(), []WindowMessage{
		{Role: "user", Content: "what's the price?", Tokens: 4},
	})
	require.NoError(t, err)
	require.Equal(t, "Visitor asked about pricing and left their email.", summary)
}

func TestLLMSummarizer_FallsBackOnError(t *testing.T) {
	s := NewLLMSummarizer(&fakeBrain{err: llm.ErrNotReady})
	summary, err := s.Summarize(context.Background(), []WindowMessage{
		{Role: "user", Content: "hi", Tokens: 1},
	})
	require.NoError(t, err)
	require.Contains(t, summary, "Summary of 1 earlier")
}

func TestLLMSummarizer_NoBrainFallsBack(t *testing.T) {
	s := NewLLMSummarizer(nil)
	summary, err := s.Summarize(context.Background(), []WindowMessage{
		{Role: "user", Content: "hi", Tokens: 1},
	})
	require.NoError(t, err)
	require.Contains(t, summary, "Summary of 1 earlier")
}
