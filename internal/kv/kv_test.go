package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/kv"
)

func newTestClient(t *testing.T) *kv.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kv.NewFromRedis(rdb)
}

func TestTaskState_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s := kv.TaskState{TaskID: "t1", BotID: "b1", Status: "processing", Progress: 40}
	require.NoError(t, c.PutTaskState(ctx, s))

	got, ok, err := c.GetTaskState(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "processing", got.Status)
	require.Equal(t, 40, got.Progress)
}

func TestGetTaskState_MissingReturnsNotOK(t *testing.T) {
	c := newTestClient(t)
	_, ok, err := c.GetTaskState(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishProgress_DeliversToSubscriber(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	sub := c.SubscribeProgress(ctx, "t2")
	defer sub.Close()

	// miniredis pub/sub requires the subscription to register before Publish;
	// give the client goroutine a moment to issue SUBSCRIBE.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.PublishProgress(ctx, kv.TaskState{TaskID: "t2", Status: "queued"}))

	select {
	case msg := <-sub.Channel():
		require.Contains(t, msg.Payload, `"task_id":"t2"`)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress message")
	}
}

func TestLocks_AcquireReleaseCompareAndDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := kv.CrawlLockKey("bot1")

	ok, err := c.TryAcquireLock(ctx, key, "task-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A second acquisition by a different task fails while held.
	ok, err = c.TryAcquireLock(ctx, key, "task-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Releasing with the wrong task id is a no-op (compare-and-delete).
	require.NoError(t, c.ReleaseLock(ctx, key, "task-b"))
	holder, err := c.LockHolder(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "task-a", holder)

	// Releasing with the correct task id clears it.
	require.NoError(t, c.ReleaseLock(ctx, key, "task-a"))
	holder, err = c.LockHolder(ctx, key)
	require.NoError(t, err)
	require.Empty(t, holder)
}

func TestForceAcquireLock_OverwritesHolder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := kv.GradingLockKey("visitor1")

	ok, err := c.TryAcquireLock(ctx, key, "task-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.ForceAcquireLock(ctx, key, "task-b", time.Minute))
	holder, err := c.LockHolder(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "task-b", holder)
}

func TestCrawlStop_SignalAndClear(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	stopped, err := c.IsCrawlStopRequested(ctx, "bot1")
	require.NoError(t, err)
	require.False(t, stopped)

	require.NoError(t, c.SignalCrawlStop(ctx, "bot1"))
	stopped, err = c.IsCrawlStopRequested(ctx, "bot1")
	require.NoError(t, err)
	require.True(t, stopped)

	require.NoError(t, c.ClearCrawlStop(ctx, "bot1"))
	stopped, err = c.IsCrawlStopRequested(ctx, "bot1")
	require.NoError(t, err)
	require.False(t, stopped)
}

func TestKeyState_CooldownRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	idx, err := c.GetKeyIndex(ctx, "bot1")
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	require.NoError(t, c.SetKeyIndex(ctx, "bot1", 2, time.Hour))
	idx, err = c.GetKeyIndex(ctx, "bot1")
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	now := time.Now()
	state := kv.KeyState{LastRateLimitedAt: now, CooldownUntil: now.Add(60 * time.Second), RateLimitedCount: 1}
	require.NoError(t, c.PutKeyState(ctx, "bot1", 0, state, 70*time.Second))

	got, err := c.GetKeyState(ctx, "bot1", 0)
	require.NoError(t, err)
	require.Equal(t, 1, got.RateLimitedCount)
	require.True(t, got.InCooldown(now.Add(10*time.Second)))
	require.False(t, got.InCooldown(now.Add(120*time.Second)))
}

func TestBotConfigCache_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetBotConfigCache(ctx, "bot1")
	require.NoError(t, err)
	require.False(t, ok)

	cfg := kv.CachedProviderConfig{
		BotID:    "bot1",
		Provider: "anthropic",
		Model:    "claude-sonnet-4-5",
		Credentials: []kv.CipherCredential{
			{Ciphertext: "enc1", Label: "primary", Active: true},
		},
	}
	require.NoError(t, c.PutBotConfigCache(ctx, cfg))

	got, ok, err := c.GetBotConfigCache(ctx, "bot1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "anthropic", got.Provider)

	require.NoError(t, c.InvalidateBotConfigCache(ctx, "bot1"))
	_, ok, err = c.GetBotConfigCache(ctx, "bot1")
	require.NoError(t, err)
	require.False(t, ok)
}
