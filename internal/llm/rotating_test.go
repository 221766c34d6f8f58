package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubBrain struct {
	reply string
	err   error
}

func (s stubBrain) Respond(ctx context.Context, req Request) (string, error) {
	return s.reply, s.err
}

func (s stubBrain) Stream(ctx context.Context, req Request, onChunk func(string) error) error {
	if s.err != nil {
		return s.err
	}
	return onChunk(s.reply)
}

func (s stubBrain) Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error) {
	return JudgeResult{Score: 1}, s.err
}

func TestRotatingBrain_DelegatesToActive(t *testing.T) {
	rb := NewRotatingBrain(stubBrain{reply: "first"})

	reply, err := rb.Respond(context.Background(), Request{Query: "hi"})
	require.NoError(t, err)
	require.Equal(t, "first", reply)

	rb.Swap(stubBrain{reply: "second"})

	reply, err = rb.Respond(context.Background(), Request{Query: "hi"})
	require.NoError(t, err)
	require.Equal(t, "second", reply)
}

func TestRotatingBrain_StreamUsesActive(t *testing.T) {
	rb := NewRotatingBrain(stubBrain{reply: "chunk"})

	var got string
	err := rb.Stream(context.Background(), Request{}, func(text string) error {
		got += text
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "chunk", got)
}
