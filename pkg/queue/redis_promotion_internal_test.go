package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPromotionTestBackend(t *testing.T, atomic bool, now *time.Time) *RedisBackend {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewRedisBackend(client, "promotion",
		WithAtomicPromotion(atomic),
		WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return b
}

// Two workers that both list the same due id before either promotes it
// push it twice and both receive the job.
func TestRedisBackend_NonAtomicPromotionDeliversTwice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := newPromotionTestBackend(t, false, &now)

	id, err := b.Enqueue(ctx, "task", nil, WithDelay(time.Second))
	require.NoError(t, err)
	now = now.Add(time.Second)

	dueA, err := b.dueDelayed(ctx, now)
	require.NoError(t, err)
	dueB, err := b.dueDelayed(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{id}, dueA)
	require.Equal(t, []string{id}, dueB)

	require.NoError(t, b.promote(ctx, dueA))
	require.NoError(t, b.promote(ctx, dueB))

	first, err := b.claimNext(ctx)
	require.NoError(t, err)
	second, err := b.claimNext(ctx)
	require.NoError(t, err)

	assert.Equal(t, id, first)
	assert.Equal(t, id, second, "the same job is delivered to both workers")

	_, err = b.claimNext(ctx)
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestRedisBackend_AtomicPromotionDeliversOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := newPromotionTestBackend(t, true, &now)

	id, err := b.Enqueue(ctx, "task", nil, WithDelay(time.Second))
	require.NoError(t, err)
	now = now.Add(time.Second)

	first, err := b.promoteAndClaim(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, id, first)

	_, err = b.promoteAndClaim(ctx, now)
	assert.True(t, errors.Is(err, redis.Nil), "a promoted id is claimed only once")

	job, err := b.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJobToClaim)
	assert.Nil(t, job)
}

func TestRedisBackend_PromotionKeepsRunAtOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for _, atomic := range []bool{true, false} {
		b := newPromotionTestBackend(t, atomic, &now)

		late, err := b.Enqueue(ctx, "task", nil, WithDelay(3*time.Second))
		require.NoError(t, err)
		early, err := b.Enqueue(ctx, "task", nil, WithDelay(time.Second))
		require.NoError(t, err)

		at := now.Add(5 * time.Second)
		first, err := b.promoteAndClaim(ctx, at)
		require.NoError(t, err)
		second, err := b.promoteAndClaim(ctx, at)
		require.NoError(t, err)

		assert.Equal(t, early, first, "atomic=%v", atomic)
		assert.Equal(t, late, second, "atomic=%v", atomic)
	}
}
