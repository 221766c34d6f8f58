// Package keyrotation selects a bot's next available provider API key,
// round-robin, skipping keys still in cooldown from a recent 429 — the
// Redis-durable generalization of internal/engine.FailoverBrain's
// in-process circuit breaker (§3, §4.4).
package keyrotation

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-run/kestrel/internal/kv"
)

// CooldownDuration is the quarantine window after a 429, and
// IndexTTL/StateTTLBuffer its companion TTLs — all three taken verbatim
// from original_source's key_rotation.py (cooldown_duration=60, a 10s
// buffer on the state TTL, and a 1h round-robin pointer window).
const (
	CooldownDuration = 60 * time.Second
	StateTTLBuffer   = 10 * time.Second
	IndexTTL         = time.Hour
	UsageWindow      = time.Hour
)

// ErrNoKeyAvailable is returned when every key for a bot is in cooldown.
var ErrNoKeyAvailable = fmt.Errorf("keyrotation: all keys are in cooldown")

// Key is a decrypted credential in a bot's provider key pool, the shape the
// caller (internal/llm) must supply after decrypting internal/store's
// CredentialEntry ciphertexts.
type Key struct {
	Plaintext string
	Label     string
	Active    bool
}

// Selected is the outcome of a round-robin pick: which key, and its index
// so the caller can report back a 429 against the same slot.
type Selected struct {
	Key   Key
	Index int
}

// Rotator selects and quarantines keys for one process; it is safe for
// concurrent use since all state lives in Redis, not in memory.
type Rotator struct {
	kv *kv.Client
}

// New builds a Rotator backed by a kv.Client.
func New(client *kv.Client) *Rotator {
	return &Rotator{kv: client}
}

// Next returns the next available key for botID from keys, starting at the
// bot's round-robin pointer and skipping any key still in cooldown. It
// advances the pointer past the selected key on success. Returns
// ErrNoKeyAvailable when every key is quarantined.
func (r *Rotator) Next(ctx context.Context, botID string, keys []Key) (Selected, error) {
	if len(keys) == 0 {
		return Selected{}, fmt.Errorf("keyrotation: no keys configured for bot %s", botID)
	}

	current, err := r.kv.GetKeyIndex(ctx, botID)
	if err != nil {
		return Selected{}, fmt.Errorf("get key index: %w", err)
	}

	now := time.Now()
	for i := range len(keys) {
		idx := (current + i) % len(keys)

		state, err := r.kv.GetKeyState(ctx, botID, idx)
		if err != nil {
			return Selected{}, fmt.Errorf("get key state %d: %w", idx, err)
		}
		if state.InCooldown(now) {
			continue
		}

		next := (idx + 1) % len(keys)
		if err := r.kv.SetKeyIndex(ctx, botID, next, IndexTTL); err != nil {
			return Selected{}, fmt.Errorf("advance key index: %w", err)
		}
		return Selected{Key: keys[idx], Index: idx}, nil
	}

	return Selected{}, ErrNoKeyAvailable
}

// MarkRateLimited quarantines a key after a 429, extending its rate-limited
// counter rather than resetting it, matching mark_key_rate_limited's
// increment-on-repeat behavior.
func (r *Rotator) MarkRateLimited(ctx context.Context, botID string, keyIndex int) error {
	existing, err := r.kv.GetKeyState(ctx, botID, keyIndex)
	if err != nil {
		return fmt.Errorf("get existing key state: %w", err)
	}

	now := time.Now()
	state := kv.KeyState{
		LastRateLimitedAt: now,
		CooldownUntil:     now.Add(CooldownDuration),
		RateLimitedCount:  existing.RateLimitedCount + 1,
	}
	if err := r.kv.PutKeyState(ctx, botID, keyIndex, state, CooldownDuration+StateTTLBuffer); err != nil {
		return fmt.Errorf("put key state: %w", err)
	}
	return nil
}

// IncrementUsage bumps a key's hourly usage counter, supplemental bookkeeping
// original_source exposes via increment_key_usage/get_key_stats.
func (r *Rotator) IncrementUsage(ctx context.Context, botID string, keyIndex int) error {
	return r.kv.IncrKeyUsage(ctx, botID, keyIndex, UsageWindow)
}

// KeyStat is one key's point-in-time usage and cooldown status.
type KeyStat struct {
	Index             int
	Usage1h           int64
	InCooldown        bool
	CooldownRemaining time.Duration
}

// Stats reports usage and cooldown status for every key index [0, totalKeys).
func (r *Rotator) Stats(ctx context.Context, botID string, totalKeys int) ([]KeyStat, error) {
	now := time.Now()
	stats := make([]KeyStat, 0, totalKeys)
	for i := range totalKeys {
		usage, err := r.kv.GetKeyUsage(ctx, botID, i)
		if err != nil {
			return nil, fmt.Errorf("get key usage %d: %w", i, err)
		}
		state, err := r.kv.GetKeyState(ctx, botID, i)
		if err != nil {
			return nil, fmt.Errorf("get key state %d: %w", i, err)
		}
		stat := KeyStat{Index: i, Usage1h: usage}
		if state.InCooldown(now) {
			stat.InCooldown = true
			stat.CooldownRemaining = state.CooldownUntil.Sub(now)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
