package caches

import (
	"context"
	"fmt"
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/discord-net/dgate/internal"
	"github.com/discord-net/dgate/model"
)

// Constructor builds the live domain object for a model. It may read other stores but must not do
// network I/O.
type Constructor[M model.Model[M], E any] func(ctx context.Context, parent model.Snowflake, m M) (E, error)

// Refresher pushes a newer model into an existing live object.
type Refresher[M model.Model[M], E any] func(e E, m M)

type slotKey struct {
	parent model.Snowflake
	id     model.Snowflake
}

// slot is one live domain object and the number of handles leasing it. gen changes when the entity
// is deleted, which invalidates every handle issued against the old generation.
type slot[E any] struct {
	entity  E
	handles int
	gen     uint64
}

// Broker hands out Handles to live domain objects built from one kind of model. Live objects are
// constructed on demand from the store and discarded when their last handle is released; the store
// entry itself is kept according to the store's own eviction policy.
type Broker[M model.Model[M], E any] struct {
	stores    *Partitioned[M]
	construct Constructor[M, E]
	refresh   Refresher[M, E]

	locks keyedMutex
	mu    sync.Mutex
	slots map[slotKey]*slot[E]
	gen   uint64
}

func NewBroker[M model.Model[M], E any](stores *Partitioned[M], construct Constructor[M, E], refresh Refresher[M, E]) *Broker[M, E] {
	return &Broker[M, E]{
		stores:    stores,
		construct: construct,
		refresh:   refresh,
		slots:     make(map[slotKey]*slot[E]),
	}
}

func (b *Broker[M, E]) Kind() Kind {
	return b.stores.Kind()
}

// Stores returns the partitioned stores behind this broker.
func (b *Broker[M, E]) Stores() *Partitioned[M] {
	return b.stores
}

// Get returns a new handle to the entity with this id, or nil if the store has no such model.
func (b *Broker[M, E]) Get(ctx context.Context, id, parent model.Snowflake) (*Handle[M, E], error) {
	key := slotKey{parent: parent, id: id}
	b.locks.Lock(key)
	defer b.locks.Unlock(key)

	if h := b.lease(key); h != nil {
		return h, nil
	}
	m, ok, err := b.stores.Store(parent).Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", b.Kind(), id, err)
	}
	if !ok {
		return nil, nil
	}
	entity, err := b.construct(ctx, parent, m)
	if err != nil {
		return nil, fmt.Errorf("construct %s %s: %w", b.Kind(), id, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	s := &slot[E]{entity: entity, gen: b.gen}
	b.slots[key] = s
	return b.issue(key, s), nil
}

// lease issues a handle on an existing live object, if there is one.
func (b *Broker[M, E]) lease(key slotKey) *Handle[M, E] {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[key]
	if !ok {
		return nil
	}
	return b.issue(key, s)
}

// issue must be called with b.mu held.
func (b *Broker[M, E]) issue(key slotKey, s *slot[E]) *Handle[M, E] {
	s.handles++
	return &Handle[M, E]{
		broker: b,
		key:    key,
		slot:   s,
		gen:    s.gen,
	}
}

// Release gives up a handle. Releasing the same handle again does nothing.
func (b *Broker[M, E]) Release(h *Handle[M, E]) {
	if h == nil || h.broker != b || !h.released.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h.slot.handles--
	internal.Assert("handle count is not negative", h.slot.handles >= 0)
	if h.slot.handles <= 0 && b.slots[h.key] == h.slot {
		delete(b.slots, h.key)
	}
}

// entity returns the live object for h if h is still valid.
func (b *Broker[M, E]) entity(h *Handle[M, E]) (E, bool) {
	var zero E
	if h.released.Load() {
		return zero, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.slot.gen != h.gen {
		return zero, false
	}
	return h.slot.entity, true
}

// Refresh pushes m into the live object for it, if one exists.
func (b *Broker[M, E]) Refresh(parent model.Snowflake, m M) {
	if b.refresh == nil {
		return
	}
	b.mu.Lock()
	s, ok := b.slots[slotKey{parent: parent, id: m.EntityID()}]
	b.mu.Unlock()
	if ok {
		b.refresh(s.entity, m)
	}
}

// Invalidate marks the live object for id as deleted. Outstanding handles see it as absent from now on.
func (b *Broker[M, E]) Invalidate(parent, id model.Snowflake) {
	key := slotKey{parent: parent, id: id}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[key]
	if !ok {
		return
	}
	b.gen++
	s.gen = b.gen
	delete(b.slots, key)
}

// InvalidateParent invalidates every live object under parent.
func (b *Broker[M, E]) InvalidateParent(parent model.Snowflake) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, s := range b.slots {
		if key.parent != parent {
			continue
		}
		b.gen++
		s.gen = b.gen
		delete(b.slots, key)
	}
}

// Live returns the number of live objects currently leased.
func (b *Broker[M, E]) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Handle is a lease on a live domain object. Several handles may share one object; the object is
// kept alive while any of them is unreleased. Handles are safe for concurrent use.
type Handle[M model.Model[M], E any] struct {
	broker   *Broker[M, E]
	key      slotKey
	slot     *slot[E]
	gen      uint64
	released atomic.Bool
}

func (h *Handle[M, E]) ID() model.Snowflake {
	return h.key.id
}

func (h *Handle[M, E]) ParentID() model.Snowflake {
	return h.key.parent
}

// Entity returns the live object, or false once the handle is released or the entity was deleted.
func (h *Handle[M, E]) Entity() (E, bool) {
	return h.broker.entity(h)
}

// Release is shorthand for releasing via the owning broker. It is idempotent.
func (h *Handle[M, E]) Release() {
	if h == nil {
		return
	}
	h.broker.Release(h)
}

func (h *Handle[M, E]) Released() bool {
	return h.released.Load()
}

const numKeyLocks = 64

// keyedMutex serialises construction per key without one lock across all keys.
type keyedMutex struct {
	once  sync.Once
	seed  maphash.Seed
	locks [numKeyLocks]sync.Mutex
}

func (k *keyedMutex) index(key slotKey) int {
	k.once.Do(func() { k.seed = maphash.MakeSeed() })
	var h maphash.Hash
	h.SetSeed(k.seed)
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(key.parent) >> (8 * i))
		buf[8+i] = byte(uint64(key.id) >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum64() % numKeyLocks)
}

func (k *keyedMutex) Lock(key slotKey) {
	k.locks[k.index(key)].Lock()
}

func (k *keyedMutex) Unlock(key slotKey) {
	k.locks[k.index(key)].Unlock()
}
