package keyrotation_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/keyrotation"
	"github.com/kestrel-run/kestrel/internal/kv"
)

func newTestRotator(t *testing.T) *keyrotation.Rotator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return keyrotation.New(kv.NewFromRedis(rdb))
}

func TestNext_RoundRobinFromZero(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()
	keys := []keyrotation.Key{{Plaintext: "k0"}, {Plaintext: "k1"}, {Plaintext: "k2"}}

	sel, err := r.Next(ctx, "bot-1", keys)
	require.NoError(t, err)
	require.Equal(t, 0, sel.Index)

	sel, err = r.Next(ctx, "bot-1", keys)
	require.NoError(t, err)
	require.Equal(t, 1, sel.Index)
}

func TestNext_SkipsCooldownKey(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()
	keys := []keyrotation.Key{{Plaintext: "k0"}, {Plaintext: "k1"}}

	require.NoError(t, r.MarkRateLimited(ctx, "bot-1", 0))

	sel, err := r.Next(ctx, "bot-1", keys)
	require.NoError(t, err)
	require.Equal(t, 1, sel.Index)
}

func TestNext_AllInCooldown(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()
	keys := []keyrotation.Key{{Plaintext: "k0"}, {Plaintext: "k1"}}

	require.NoError(t, r.MarkRateLimited(ctx, "bot-1", 0))
	require.NoError(t, r.MarkRateLimited(ctx, "bot-1", 1))

	_, err := r.Next(ctx, "bot-1", keys)
	require.ErrorIs(t, err, keyrotation.ErrNoKeyAvailable)
}

func TestMarkRateLimited_IncrementsCount(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()

	require.NoError(t, r.MarkRateLimited(ctx, "bot-1", 0))
	require.NoError(t, r.MarkRateLimited(ctx, "bot-1", 0))

	stats, err := r.Stats(ctx, "bot-1", 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.True(t, stats[0].InCooldown)
}

func TestIncrementUsage(t *testing.T) {
	r := newTestRotator(t)
	ctx := context.Background()

	require.NoError(t, r.IncrementUsage(ctx, "bot-1", 0))
	require.NoError(t, r.IncrementUsage(ctx, "bot-1", 0))

	stats, err := r.Stats(ctx, "bot-1", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats[0].Usage1h)
}
