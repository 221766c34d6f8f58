package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const botConfigCacheTTL = time.Hour

// CachedProviderConfig is the memoized subset of a Bot's ProviderConfig: the
// provider/model selection and the ciphertext credential entries only.
// Decrypted key material is never cached — only internal/keyrotation.Select
// ever sees a plaintext key, scoped to its own call stack.
type CachedProviderConfig struct {
	BotID       string          `json:"bot_id"`
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Credentials []CipherCredential `json:"credentials"`
}

// CipherCredential is one encrypted key-pool entry.
type CipherCredential struct {
	Ciphertext string `json:"ciphertext"`
	Label      string `json:"label"`
	Active     bool   `json:"active"`
}

func botConfigKey(botID string) string {
	return "botconfig:" + botID
}

// PutBotConfigCache memoizes a bot's provider configuration for 1h, so
// per-task lookups don't round-trip to the relational store.
func (c *Client) PutBotConfigCache(ctx context.Context, cfg CachedProviderConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal bot config: %w", err)
	}
	return c.SetEx(ctx, botConfigKey(cfg.BotID), string(data), botConfigCacheTTL)
}

// GetBotConfigCache returns the cached config, or ok=false on a cache miss.
func (c *Client) GetBotConfigCache(ctx context.Context, botID string) (CachedProviderConfig, bool, error) {
	val, err := c.KVGet(ctx, botConfigKey(botID))
	if err != nil {
		return CachedProviderConfig{}, false, err
	}
	if val == "" {
		return CachedProviderConfig{}, false, nil
	}
	var cfg CachedProviderConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		return CachedProviderConfig{}, false, fmt.Errorf("unmarshal bot config: %w", err)
	}
	return cfg, true, nil
}

// InvalidateBotConfigCache forces the next lookup back to the relational
// store, used after an admin updates a bot's provider configuration.
func (c *Client) InvalidateBotConfigCache(ctx context.Context, botID string) error {
	return c.Del(ctx, botConfigKey(botID))
}
