package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/smartcity/trafficcore/internal/domain"
)

// SnapshotPublisher writes one consistent snapshot per step to the cache
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap *domain.Snapshot)
	Close()
}

// DirectPublisher writes snapshots synchronously from the loop goroutine
type DirectPublisher struct {
	cache domain.SnapshotCache
	ttl   time.Duration
}

// NewDirectPublisher creates a publisher writing with the given expiry
func NewDirectPublisher(cache domain.SnapshotCache, ttl time.Duration) *DirectPublisher {
	return &DirectPublisher{cache: cache, ttl: ttl}
}

// Publish writes the snapshot. Empty categories are skipped and cache
// errors are logged; nothing is retried.
func (p *DirectPublisher) Publish(ctx context.Context, snap *domain.Snapshot) {
	timeBytes, err := sonnet.Marshal(snap.SimulationTime)
	if err == nil {
		err = p.cache.Set(ctx, domain.KeySimulationTime, timeBytes, p.ttl)
	}
	if err != nil {
		log.Printf("[Publisher] Failed to write simulation time: %v", err)
	}

	// per-step categories are replaced so records that stop being produced vanish;
	// emergency vehicles are merged and leave only through an explicit purge
	publishHash(ctx, p.cache.HReplace, domain.KeyEdges, snap.Edges, p.ttl)
	publishHash(ctx, p.cache.HReplace, domain.KeySignals, snap.Signals, p.ttl)
	publishHash(ctx, p.cache.HReplace, domain.KeyJunctions, snap.Junctions, p.ttl)
	publishHash(ctx, p.cache.HSet, domain.KeyEmergencyVehicles, snap.EmergencyVehicles, p.ttl)

	if len(snap.PurgedVehicles) > 0 {
		if err := p.cache.HDel(ctx, domain.KeyEmergencyVehicles, snap.PurgedVehicles...); err != nil {
			log.Printf("[Publisher] Failed to purge emergency vehicles: %v", err)
		}
	}
}

// Close is a no-op for the direct publisher
func (p *DirectPublisher) Close() {}

type hashWriter func(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error

func publishHash[T any](ctx context.Context, write hashWriter, key string, records map[string]T, ttl time.Duration) {
	if len(records) == 0 {
		return
	}
	fields := make(map[string][]byte, len(records))
	for id, rec := range records {
		b, err := sonnet.Marshal(rec)
		if err != nil {
			log.Printf("[Publisher] Failed to encode %s/%s: %v", key, id, err)
			continue
		}
		fields[id] = b
	}
	if err := write(ctx, key, fields, ttl); err != nil {
		log.Printf("[Publisher] Failed to write %s: %v", key, err)
	}
}

// QueuedPublisher hands snapshots to a worker goroutine over a bounded
// queue so the loop never waits on the cache. When the queue is full the
// oldest pending snapshot is dropped.
type QueuedPublisher struct {
	next    *DirectPublisher
	queue   chan *domain.Snapshot
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped uint64
	mu      sync.Mutex
}

// NewQueuedPublisher starts the worker goroutine
func NewQueuedPublisher(cache domain.SnapshotCache, ttl time.Duration, size int) *QueuedPublisher {
	if size < 1 {
		size = 1
	}
	p := &QueuedPublisher{
		next:  NewDirectPublisher(cache, ttl),
		queue: make(chan *domain.Snapshot, size),
		stop:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *QueuedPublisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case snap := <-p.queue:
			p.write(snap)
		case <-p.stop:
			// drain what is already queued
			for {
				select {
				case snap := <-p.queue:
					p.write(snap)
				default:
					return
				}
			}
		}
	}
}

func (p *QueuedPublisher) write(snap *domain.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.next.Publish(ctx, snap)
}

// Publish enqueues the snapshot without blocking
func (p *QueuedPublisher) Publish(_ context.Context, snap *domain.Snapshot) {
	for {
		select {
		case p.queue <- snap:
			return
		default:
		}
		select {
		case <-p.queue:
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		default:
		}
	}
}

// Dropped returns how many snapshots were discarded because the worker fell behind
func (p *QueuedPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops the worker after it has written the queued snapshots
func (p *QueuedPublisher) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}
