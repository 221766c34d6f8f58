package llm

import (
	"context"
	"sync"
)

// RotatingBrain wraps a single provider's Brain behind a mutex so a
// KeyRotate closure (internal/keyrotation) can swap in a freshly built
// GenkitBrain for the next key in a bot's pool without the chat graph ever
// reconstructing its Deps mid-turn. It generalizes
// internal/engine.FailoverBrain's wrapper-implements-Brain shape from
// provider-order fallback to same-provider key rotation.
type RotatingBrain struct {
	mu      sync.RWMutex
	current Brain
}

// NewRotatingBrain wraps initial as the active brain.
func NewRotatingBrain(initial Brain) *RotatingBrain {
	return &RotatingBrain{current: initial}
}

// Swap replaces the active brain, taking effect on the next call.
func (r *RotatingBrain) Swap(next Brain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = next
}

func (r *RotatingBrain) active() Brain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *RotatingBrain) Respond(ctx context.Context, req Request) (string, error) {
	return r.active().Respond(ctx, req)
}

func (r *RotatingBrain) Stream(ctx context.Context, req Request, onChunk func(text string) error) error {
	return r.active().Stream(ctx, req, onChunk)
}

func (r *RotatingBrain) Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error) {
	return r.active().Judge(ctx, req)
}
