package caches

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/discord-net/dgate/model"
)

type testEntity struct {
	Live[model.Role]
	constructed int
}

func newTestBroker(t *testing.T) (*Broker[model.Role, *testEntity], *atomic.Int32) {
	t.Helper()
	var constructions atomic.Int32
	stores := NewPartitioned(KindRole, MemoryStoreFactory[model.Role](EvictionPolicy{}))
	b := NewBroker[model.Role, *testEntity](stores,
		func(ctx context.Context, parent model.Snowflake, m model.Role) (*testEntity, error) {
			n := constructions.Add(1)
			e := &testEntity{constructed: int(n)}
			e.update(m)
			return e, nil
		},
		func(e *testEntity, m model.Role) { e.update(m) },
	)
	return b, &constructions
}

func TestBrokerGetMissingReturnsNil(t *testing.T) {
	b, _ := newTestBroker(t)
	h, err := b.Get(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if h != nil {
		t.Fatalf("Get for an uncached id returned a handle")
	}
}

func TestBrokerHandlesShareLiveObject(t *testing.T) {
	ctx := context.Background()
	b, constructions := newTestBroker(t)
	b.Reconcile(ctx, 100, model.Role{ID: 1, Name: model.Some("mod")}, EventCreate)

	h1, _ := b.Get(ctx, 1, 100)
	h2, _ := b.Get(ctx, 1, 100)
	e1, ok1 := h1.Entity()
	e2, ok2 := h2.Entity()
	if !ok1 || !ok2 || e1 != e2 {
		t.Fatalf("two handles to the same id should share one live object")
	}
	if constructions.Load() != 1 {
		t.Fatalf("constructed %d times want 1", constructions.Load())
	}

	// releasing one handle keeps the object alive for the other
	h1.Release()
	if _, ok := h1.Entity(); ok {
		t.Fatalf("released handle still reaches the entity")
	}
	if _, ok := h2.Entity(); !ok {
		t.Fatalf("releasing one handle invalidated another")
	}
	if b.Live() != 1 {
		t.Fatalf("live objects got %d want 1", b.Live())
	}

	h2.Release()
	if b.Live() != 0 {
		t.Fatalf("live objects got %d want 0 after every handle was released", b.Live())
	}
	// the model outlives the live object
	h3, _ := b.Get(ctx, 1, 100)
	if h3 == nil {
		t.Fatalf("model was dropped with its last handle")
	}
	if constructions.Load() != 2 {
		t.Fatalf("constructed %d times want 2", constructions.Load())
	}
}

func TestBrokerDoubleReleaseIsNoop(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	b.Reconcile(ctx, 100, model.Role{ID: 1}, EventCreate)
	h1, _ := b.Get(ctx, 1, 100)
	h2, _ := b.Get(ctx, 1, 100)

	h1.Release()
	h1.Release()
	b.Release(h1)
	if _, ok := h2.Entity(); !ok {
		t.Fatalf("releasing h1 three times released h2's lease")
	}
	if got := h2.slot.handles; got != 1 {
		t.Fatalf("slot handle count got %d want 1", got)
	}
	var nilHandle *Handle[model.Role, *testEntity]
	nilHandle.Release()
}

func TestBrokerDeleteInvalidatesHandles(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	b.Reconcile(ctx, 100, model.Role{ID: 1, Name: model.Some("mod")}, EventCreate)
	h, _ := b.Get(ctx, 1, 100)

	if _, err := b.Reconcile(ctx, 100, model.Role{ID: 1}, EventDelete); err != nil {
		t.Fatalf("Reconcile delete: %s", err)
	}
	if _, ok := h.Entity(); ok {
		t.Fatalf("handle reached an entity which was deleted")
	}
	h.Release() // must not disturb anything
	if h2, _ := b.Get(ctx, 1, 100); h2 != nil {
		t.Fatalf("Get returned a handle for a deleted entity")
	}

	// re-creating the id does not revive the old handle
	b.Reconcile(ctx, 100, model.Role{ID: 1, Name: model.Some("again")}, EventCreate)
	h3, _ := b.Get(ctx, 1, 100)
	if _, ok := h.Entity(); ok {
		t.Fatalf("old handle revived by re-creation")
	}
	e, ok := h3.Entity()
	if !ok || e.Model().Name.OrElse("") != "again" {
		t.Fatalf("new handle got %+v", e)
	}
}

func TestBrokerUpdateRefreshesLiveObject(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	b.Reconcile(ctx, 100, model.Role{ID: 1, Name: model.Some("mod"), Color: model.Some(5)}, EventCreate)
	h, _ := b.Get(ctx, 1, 100)
	b.Reconcile(ctx, 100, model.Role{ID: 1, Name: model.Some("admin")}, EventUpdate)
	e, _ := h.Entity()
	got := e.Model()
	if got.Name.OrElse("") != "admin" || got.Color.OrElse(0) != 5 {
		t.Fatalf("live object not refreshed: %+v", got)
	}
}

func TestBrokerConcurrentGetConstructsOnce(t *testing.T) {
	ctx := context.Background()
	b, constructions := newTestBroker(t)
	b.Reconcile(ctx, 100, model.Role{ID: 1}, EventCreate)
	var wg sync.WaitGroup
	handles := make([]*Handle[model.Role, *testEntity], 32)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], _ = b.Get(ctx, 1, 100)
		}(i)
	}
	wg.Wait()
	if constructions.Load() != 1 {
		t.Fatalf("constructed %d times want 1", constructions.Load())
	}
	for _, h := range handles {
		h.Release()
	}
	if b.Live() != 0 {
		t.Fatalf("live objects got %d want 0", b.Live())
	}
}

func TestBrokerConstructError(t *testing.T) {
	ctx := context.Background()
	stores := NewPartitioned(KindRole, MemoryStoreFactory[model.Role](EvictionPolicy{}))
	wantErr := errors.New("nope")
	b := NewBroker[model.Role, *testEntity](stores,
		func(ctx context.Context, parent model.Snowflake, m model.Role) (*testEntity, error) {
			return nil, wantErr
		}, nil)
	b.Reconcile(ctx, 0, model.Role{ID: 1}, EventCreate)
	if _, err := b.Get(ctx, 1, 0); !errors.Is(err, wantErr) {
		t.Fatalf("Get got err %v want %v", err, wantErr)
	}
	if b.Live() != 0 {
		t.Fatalf("failed construction left a live object")
	}
}
