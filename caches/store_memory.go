package caches

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/discord-net/dgate/model"
	"github.com/jellydator/ttlcache/v3"
)

const numMemoryShards = 32

// EvictionPolicy bounds a memory store. The zero value keeps everything forever.
type EvictionPolicy struct {
	// Capacity evicts the least recently used entry once exceeded. 0 means unbounded.
	Capacity uint64
	// TTL evicts entries which have not been read or written for this long. 0 means never.
	TTL time.Duration
}

func (p EvictionPolicy) Unbounded() bool {
	return p.Capacity == 0 && p.TTL == 0
}

type memoryShard[M any] struct {
	mu    sync.RWMutex
	items map[model.Snowflake]M
}

// MemoryStore is the default ModelStore. Keys are spread over independently locked shards so writes
// to unrelated entities never contend on one lock.
type MemoryStore[M model.Model[M]] struct {
	partition Partition
	shards    [numMemoryShards]*memoryShard[M]
	size      atomic.Int64
	// tracks recency and expiry of keys when the store is bounded, nil otherwise
	evictor   *ttlcache.Cache[model.Snowflake, struct{}]
	expiring  bool
	closeOnce sync.Once
}

func NewMemoryStore[M model.Model[M]](partition Partition, policy EvictionPolicy) *MemoryStore[M] {
	s := &MemoryStore[M]{
		partition: partition,
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard[M]{items: make(map[model.Snowflake]M)}
	}
	if !policy.Unbounded() {
		var opts []ttlcache.Option[model.Snowflake, struct{}]
		if policy.Capacity > 0 {
			opts = append(opts, ttlcache.WithCapacity[model.Snowflake, struct{}](policy.Capacity))
		}
		if policy.TTL > 0 {
			opts = append(opts, ttlcache.WithTTL[model.Snowflake, struct{}](policy.TTL))
		}
		s.evictor = ttlcache.New[model.Snowflake, struct{}](opts...)
		s.evictor.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[model.Snowflake, struct{}]) {
			if reason != ttlcache.EvictionReasonCapacityReached && reason != ttlcache.EvictionReasonExpired {
				return
			}
			s.evict(item.Key())
		})
		if policy.TTL > 0 {
			s.expiring = true
			go s.evictor.Start()
		}
	}
	return s
}

func (s *MemoryStore[M]) shard(id model.Snowflake) *memoryShard[M] {
	// the low bits of a snowflake are a per-process increment, the high bits a timestamp
	return s.shards[(uint64(id)^(uint64(id)>>22))%numMemoryShards]
}

// touch must be called without any shard lock held, as the evictor may call back into evict.
func (s *MemoryStore[M]) touch(id model.Snowflake) {
	if s.evictor == nil {
		return
	}
	s.evictor.Set(id, struct{}{}, ttlcache.DefaultTTL)
}

func (s *MemoryStore[M]) forget(id model.Snowflake) {
	if s.evictor == nil {
		return
	}
	s.evictor.Delete(id)
}

func (s *MemoryStore[M]) evict(id model.Snowflake) {
	sh := s.shard(id)
	sh.mu.Lock()
	if _, ok := sh.items[id]; ok {
		delete(sh.items, id)
		s.size.Add(-1)
	}
	sh.mu.Unlock()
	logger.Trace().Str("partition", s.partition.String()).Str("id", id.String()).Msg("evicted model")
}

func (s *MemoryStore[M]) Partition() Partition {
	return s.partition
}

func (s *MemoryStore[M]) Upsert(ctx context.Context, m M) error {
	id := m.EntityID()
	sh := s.shard(id)
	sh.mu.Lock()
	if _, exists := sh.items[id]; !exists {
		s.size.Add(1)
	}
	sh.items[id] = m
	sh.mu.Unlock()
	s.touch(id)
	return nil
}

func (s *MemoryStore[M]) Get(ctx context.Context, id model.Snowflake) (M, bool, error) {
	sh := s.shard(id)
	sh.mu.RLock()
	m, ok := sh.items[id]
	sh.mu.RUnlock()
	if ok {
		s.touch(id)
	}
	return m, ok, nil
}

func (s *MemoryStore[M]) Remove(ctx context.Context, id model.Snowflake) (M, bool, error) {
	sh := s.shard(id)
	sh.mu.Lock()
	m, ok := sh.items[id]
	if ok {
		delete(sh.items, id)
		s.size.Add(-1)
	}
	sh.mu.Unlock()
	if ok {
		s.forget(id)
	}
	return m, ok, nil
}

func (s *MemoryStore[M]) Update(ctx context.Context, id model.Snowflake, fn UpdateFunc[M]) (M, bool, error) {
	sh := s.shard(id)
	sh.mu.Lock()
	existing, ok := sh.items[id]
	next, keep := fn(existing, ok)
	switch {
	case keep:
		if !ok {
			s.size.Add(1)
		}
		sh.items[id] = next
	case ok:
		delete(sh.items, id)
		s.size.Add(-1)
	}
	sh.mu.Unlock()
	if keep {
		s.touch(id)
	} else if ok {
		s.forget(id)
	}
	if !keep {
		var zero M
		return zero, false, nil
	}
	return next, true, nil
}

func (s *MemoryStore[M]) snapshot() map[model.Snowflake]M {
	out := make(map[model.Snowflake]M, s.size.Load())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, m := range sh.items {
			out[id] = m
		}
		sh.mu.RUnlock()
	}
	return out
}

func (s *MemoryStore[M]) QueryRange(ctx context.Context, from model.Snowflake, dir Direction, limit int) ([]M, error) {
	all := s.snapshot()
	ids := make([]model.Snowflake, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	window, err := selectRange(ids, from, dir, limit)
	if err != nil {
		return nil, err
	}
	out := make([]M, 0, len(window))
	for _, id := range window {
		out = append(out, all[id])
	}
	return out, nil
}

// All returns every model ordered by id.
func (s *MemoryStore[M]) All(ctx context.Context) ([]M, error) {
	all := s.snapshot()
	out := make([]M, 0, len(all))
	for _, m := range all {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b M) int {
		if a.EntityID() < b.EntityID() {
			return -1
		} else if a.EntityID() > b.EntityID() {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore[M]) Len(ctx context.Context) (int, error) {
	return int(s.size.Load()), nil
}

func (s *MemoryStore[M]) Clear(ctx context.Context) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		s.size.Add(-int64(len(sh.items)))
		sh.items = make(map[model.Snowflake]M)
		sh.mu.Unlock()
	}
	if s.evictor != nil {
		s.evictor.DeleteAll()
	}
	return nil
}

// Close stops the expiry goroutine of a bounded store.
func (s *MemoryStore[M]) Close() {
	if s.expiring {
		s.closeOnce.Do(s.evictor.Stop)
	}
}
