package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCache_SetGetExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New().WithClock(clock.now)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Second))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.t = clock.t.Add(10 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
}

func TestCache_Hash(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New().WithClock(clock.now)

	require.NoError(t, c.HSet(ctx, "h", map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute))
	require.NoError(t, c.HSet(ctx, "h", map[string][]byte{"c": []byte("3")}, time.Minute))
	assert.Equal(t, 3, c.Len("h"))

	v, err := c.HGet(ctx, "h", "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, c.HDel(ctx, "h", "a", "missing"))
	_, err = c.HGet(ctx, "h", "a")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	assert.Equal(t, 2, c.Len("h"))

	// every HSet refreshes the expiry of the whole hash
	clock.t = clock.t.Add(50 * time.Second)
	require.NoError(t, c.HSet(ctx, "h", map[string][]byte{"d": []byte("4")}, time.Minute))
	clock.t = clock.t.Add(50 * time.Second)
	_, err = c.HGet(ctx, "h", "b")
	assert.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	_, err = c.HGet(ctx, "h", "b")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	assert.Equal(t, 0, c.Len("h"))
}

func TestCache_HReplaceDropsMissingFields(t *testing.T) {
	ctx := context.Background()
	c := New()

	require.NoError(t, c.HSet(ctx, "h", map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute))
	require.NoError(t, c.HReplace(ctx, "h", map[string][]byte{"b": []byte("20")}, time.Minute))
	assert.Equal(t, 1, c.Len("h"))

	_, err := c.HGet(ctx, "h", "a")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	v, err := c.HGet(ctx, "h", "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("20"), v)

	require.NoError(t, c.HReplace(ctx, "h", nil, time.Minute))
	assert.Equal(t, 1, c.Len("h"))
}

func TestCache_EmptyHSetIsNoop(t *testing.T) {
	c := New()
	require.NoError(t, c.HSet(context.Background(), "h", nil, time.Minute))
	assert.Equal(t, 0, c.Len("h"))
	assert.NoError(t, c.HDel(context.Background(), "h", "x"))
}
