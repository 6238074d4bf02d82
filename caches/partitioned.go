package caches

import (
	"context"
	"sync"

	"github.com/discord-net/dgate/model"
	"golang.org/x/exp/maps"
)

// StoreFactory opens the store for one partition.
type StoreFactory[M model.Model[M]] func(p Partition) ModelStore[M]

// MemoryStoreFactory opens memory stores which all share one eviction policy.
func MemoryStoreFactory[M model.Model[M]](policy EvictionPolicy) StoreFactory[M] {
	return func(p Partition) ModelStore[M] {
		return NewMemoryStore[M](p, policy)
	}
}

// RawStoreFactory opens partitions of an external backend.
func RawStoreFactory[M model.Model[M]](raw RawStore) StoreFactory[M] {
	return func(p Partition) ModelStore[M] {
		return NewRawModelStore[M](raw, p)
	}
}

// Partitioned holds every store of one kind, keyed by parent id and opened on first use.
type Partitioned[M model.Model[M]] struct {
	kind    Kind
	factory StoreFactory[M]
	mu      sync.RWMutex
	stores  map[model.Snowflake]ModelStore[M]
}

func NewPartitioned[M model.Model[M]](kind Kind, factory StoreFactory[M]) *Partitioned[M] {
	return &Partitioned[M]{
		kind:    kind,
		factory: factory,
		stores:  make(map[model.Snowflake]ModelStore[M]),
	}
}

func (p *Partitioned[M]) Kind() Kind {
	return p.kind
}

// Store returns the store for parent, opening it if needed.
func (p *Partitioned[M]) Store(parent model.Snowflake) ModelStore[M] {
	p.mu.RLock()
	s, ok := p.stores[parent]
	p.mu.RUnlock()
	if ok {
		return s
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok = p.stores[parent]; ok {
		return s
	}
	s = p.factory(Partition{Kind: p.kind, Parent: parent})
	p.stores[parent] = s
	return s
}

// Lookup returns the store for parent without opening one.
func (p *Partitioned[M]) Lookup(parent model.Snowflake) (ModelStore[M], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.stores[parent]
	return s, ok
}

func (p *Partitioned[M]) Parents() []model.Snowflake {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Keys(p.stores)
}

// Drop clears the store for parent and forgets it.
func (p *Partitioned[M]) Drop(ctx context.Context, parent model.Snowflake) error {
	p.mu.Lock()
	s, ok := p.stores[parent]
	delete(p.stores, parent)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	err := s.Clear(ctx)
	if closer, ok := s.(interface{ Close() }); ok {
		closer.Close()
	}
	return err
}

// Len sums the sizes of every open store.
func (p *Partitioned[M]) Len(ctx context.Context) (int, error) {
	p.mu.RLock()
	stores := make([]ModelStore[M], 0, len(p.stores))
	for _, s := range p.stores {
		stores = append(stores, s)
	}
	p.mu.RUnlock()
	total := 0
	for _, s := range stores {
		n, err := s.Len(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Close stops background work of every open store. The stores keep their contents.
func (p *Partitioned[M]) Close() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.stores {
		if closer, ok := s.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
