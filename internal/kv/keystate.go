package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// KeyState is the per-(bot, key-index) cooldown bookkeeping of §3/§4.4,
// field names and semantics grounded on original_source's key_rotation.py:
// LastRateLimitedAt/CooldownUntil/RateLimitedCount map to last_429_at/
// cooldown_until/rate_limited_count there.
type KeyState struct {
	LastRateLimitedAt time.Time `json:"last_429_at"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	RateLimitedCount  int       `json:"rate_limited_count"`
}

// InCooldown reports whether the key is still quarantined at the given time.
func (s KeyState) InCooldown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

func keyIndexKey(botID string) string {
	return "keyindex:" + botID
}

func keyStateKey(botID string, keyIndex int) string {
	return fmt.Sprintf("keystate:%s:%d", botID, keyIndex)
}

// GetKeyIndex returns the current round-robin pointer for a bot, defaulting
// to 0 when unset.
func (c *Client) GetKeyIndex(ctx context.Context, botID string) (int, error) {
	val, err := c.KVGet(ctx, keyIndexKey(botID))
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	var idx int
	if _, err := fmt.Sscanf(val, "%d", &idx); err != nil {
		return 0, fmt.Errorf("parse key index: %w", err)
	}
	return idx, nil
}

// SetKeyIndex advances the round-robin pointer with the 1h TTL §4.4 specifies.
func (c *Client) SetKeyIndex(ctx context.Context, botID string, idx int, ttl time.Duration) error {
	return c.SetEx(ctx, keyIndexKey(botID), fmt.Sprintf("%d", idx), ttl)
}

// GetKeyState returns the cooldown state for one key, or a zero-value
// (never rate-limited) KeyState on a cache miss.
func (c *Client) GetKeyState(ctx context.Context, botID string, keyIndex int) (KeyState, error) {
	val, err := c.KVGet(ctx, keyStateKey(botID, keyIndex))
	if err != nil {
		return KeyState{}, err
	}
	if val == "" {
		return KeyState{}, nil
	}
	var s KeyState
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return KeyState{}, fmt.Errorf("unmarshal key state: %w", err)
	}
	return s, nil
}

// PutKeyState writes the cooldown state with the given TTL (cooldown duration
// plus the configured buffer, per §4.4).
func (c *Client) PutKeyState(ctx context.Context, botID string, keyIndex int, s KeyState, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal key state: %w", err)
	}
	return c.SetEx(ctx, keyStateKey(botID, keyIndex), string(data), ttl)
}

func keyUsageKey(botID string, keyIndex int) string {
	return fmt.Sprintf("keyusage:%s:%d", botID, keyIndex)
}

// IncrKeyUsage increments a key's hourly usage counter, refreshing its TTL
// on every call (original_source's increment_key_usage: INCR then EXPIRE).
func (c *Client) IncrKeyUsage(ctx context.Context, botID string, keyIndex int, ttl time.Duration) error {
	key := keyUsageKey(botID, keyIndex)
	if err := c.rdb.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("incr key usage: %w", err)
	}
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire key usage: %w", err)
	}
	return nil
}

// GetKeyUsage reads a key's current usage counter, 0 on a cache miss.
func (c *Client) GetKeyUsage(ctx context.Context, botID string, keyIndex int) (int64, error) {
	val, err := c.KVGet(ctx, keyUsageKey(botID, keyIndex))
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse key usage: %w", err)
	}
	return n, nil
}
