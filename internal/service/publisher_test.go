package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/repository/memory"
)

func TestDirectPublisher_SkipsEmptyCategories(t *testing.T) {
	cache := memory.New()
	p := NewDirectPublisher(cache, time.Minute)
	ctx := context.Background()

	snap := domain.NewSnapshot(4)
	snap.Edges["W2C"] = domain.EdgeStatus{EdgeID: "W2C", VehicleIDs: []string{}}
	p.Publish(ctx, snap)

	raw, err := cache.Get(ctx, domain.KeySimulationTime)
	require.NoError(t, err)
	assert.Equal(t, "4", string(raw))
	assert.Equal(t, 1, cache.Len(domain.KeyEdges))
	assert.Equal(t, 0, cache.Len(domain.KeySignals))
	assert.Equal(t, 0, cache.Len(domain.KeyJunctions))

	_, err = cache.HGet(ctx, domain.KeySignals, "GS_C")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
}

func TestDirectPublisher_PurgesVehicles(t *testing.T) {
	cache := memory.New()
	p := NewDirectPublisher(cache, time.Minute)
	ctx := context.Background()

	snap := domain.NewSnapshot(1)
	snap.EmergencyVehicles["amb"] = domain.EmergencyTelemetry{VehicleID: "amb"}
	snap.EmergencyVehicles["fire"] = domain.EmergencyTelemetry{VehicleID: "fire"}
	p.Publish(ctx, snap)
	assert.Equal(t, 2, cache.Len(domain.KeyEmergencyVehicles))

	snap = domain.NewSnapshot(2)
	snap.EmergencyVehicles["fire"] = domain.EmergencyTelemetry{VehicleID: "fire"}
	snap.PurgedVehicles = []string{"amb"}
	p.Publish(ctx, snap)

	_, err := cache.HGet(ctx, domain.KeyEmergencyVehicles, "amb")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	_, err = cache.HGet(ctx, domain.KeyEmergencyVehicles, "fire")
	assert.NoError(t, err)
}

func TestDirectPublisher_ReplacesStepCategories(t *testing.T) {
	cache := memory.New()
	p := NewDirectPublisher(cache, time.Minute)
	ctx := context.Background()

	snap := domain.NewSnapshot(1)
	snap.Junctions["A"] = domain.JunctionMetrics{JunctionID: "A"}
	snap.Junctions["B"] = domain.JunctionMetrics{JunctionID: "B"}
	p.Publish(ctx, snap)
	assert.Equal(t, 2, cache.Len(domain.KeyJunctions))

	// B's controller vanished, so its metrics are no longer produced
	snap = domain.NewSnapshot(2)
	snap.Junctions["A"] = domain.JunctionMetrics{JunctionID: "A"}
	p.Publish(ctx, snap)

	assert.Equal(t, 1, cache.Len(domain.KeyJunctions))
	_, err := cache.HGet(ctx, domain.KeyJunctions, "B")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
}

// blockingCache holds every simulation time write until released
type blockingCache struct {
	*memory.Cache
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	writes []string
}

func newBlockingCache() *blockingCache {
	return &blockingCache{
		Cache:   memory.New(),
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (c *blockingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.entered <- struct{}{}
	<-c.release
	c.mu.Lock()
	c.writes = append(c.writes, string(value))
	c.mu.Unlock()
	return c.Cache.Set(ctx, key, value, ttl)
}

func TestQueuedPublisher_DropsOldestWhenFull(t *testing.T) {
	cache := newBlockingCache()
	p := NewQueuedPublisher(cache, time.Minute, 1)
	ctx := context.Background()

	p.Publish(ctx, domain.NewSnapshot(1))
	<-cache.entered

	// the worker is stuck on the first snapshot; only the newest of these survives
	p.Publish(ctx, domain.NewSnapshot(2))
	p.Publish(ctx, domain.NewSnapshot(3))
	p.Publish(ctx, domain.NewSnapshot(4))
	assert.Equal(t, uint64(2), p.Dropped())

	close(cache.release)
	p.Close()

	assert.Equal(t, []string{"1", "4"}, cache.writes)
	raw, err := cache.Get(ctx, domain.KeySimulationTime)
	require.NoError(t, err)
	assert.Equal(t, "4", string(raw))
}

func TestQueuedPublisher_CloseDrainsQueue(t *testing.T) {
	cache := memory.New()
	p := NewQueuedPublisher(cache, time.Minute, 8)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		p.Publish(ctx, domain.NewSnapshot(float64(i)))
	}
	p.Close()
	p.Close()

	raw, err := cache.Get(ctx, domain.KeySimulationTime)
	require.NoError(t, err)
	assert.Equal(t, "5", string(raw))
	assert.Zero(t, p.Dropped())
}
