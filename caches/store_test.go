package caches

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/discord-net/dgate/model"
)

func ids[M model.Model[M]](ms []M) []model.Snowflake {
	out := make([]model.Snowflake, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.EntityID())
	}
	return out
}

func seededStore(t *testing.T, n int) *MemoryStore[model.Message] {
	t.Helper()
	s := NewMemoryStore[model.Message](Partition{Kind: KindMessage, Parent: 1}, EvictionPolicy{})
	for i := 1; i <= n; i++ {
		// insert out of order
		id := model.Snowflake(((i * 7) % n) + 1)
		if err := s.Upsert(context.Background(), model.Message{ID: id * 10, ChannelID: 1}); err != nil {
			t.Fatalf("Upsert: %s", err)
		}
	}
	return s
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[model.Channel](Partition{Kind: KindChannel, Parent: 9}, EvictionPolicy{})
	ch := model.Channel{ID: 5, Name: model.Some("general")}
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("Upsert: %s", err)
	}
	// idempotent
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("Upsert: %s", err)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Fatalf("Len got %d want 1", n)
	}
	got, ok, err := s.Get(ctx, 5)
	if err != nil || !ok || !reflect.DeepEqual(got, ch) {
		t.Fatalf("Get got %+v,%v,%v want %+v", got, ok, err, ch)
	}
	removed, ok, _ := s.Remove(ctx, 5)
	if !ok || removed.ID != 5 {
		t.Fatalf("Remove got %+v,%v", removed, ok)
	}
	if _, ok, _ := s.Get(ctx, 5); ok {
		t.Fatalf("Get after Remove still found the channel")
	}
	if _, ok, _ := s.Remove(ctx, 5); ok {
		t.Fatalf("second Remove reported a removal")
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Fatalf("Len got %d want 0", n)
	}
}

func TestMemoryStoreQueryRange(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, 10) // ids 10,20,...,100
	testCases := []struct {
		name  string
		from  model.Snowflake
		dir   Direction
		limit int
		want  []model.Snowflake
	}{
		{name: "before anchor", from: 50, dir: Before, limit: 3, want: []model.Snowflake{20, 30, 40}},
		{name: "before start", from: 20, dir: Before, limit: 5, want: []model.Snowflake{10}},
		{name: "before missing anchor", from: 55, dir: Before, limit: 2, want: []model.Snowflake{40, 50}},
		{name: "after anchor", from: 50, dir: After, limit: 3, want: []model.Snowflake{60, 70, 80}},
		{name: "after end", from: 90, dir: After, limit: 5, want: []model.Snowflake{100}},
		{name: "after zero", from: 0, dir: After, limit: 2, want: []model.Snowflake{10, 20}},
		{name: "around present anchor", from: 50, dir: Around, limit: 5, want: []model.Snowflake{30, 40, 50, 60, 70}},
		{name: "around missing anchor", from: 55, dir: Around, limit: 4, want: []model.Snowflake{40, 50, 60, 70}},
		{name: "around near start", from: 10, dir: Around, limit: 5, want: []model.Snowflake{10, 20, 30}},
		{name: "zero limit", from: 50, dir: After, limit: 0, want: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.QueryRange(ctx, tc.from, tc.dir, tc.limit)
			if err != nil {
				t.Fatalf("QueryRange: %s", err)
			}
			if gotIDs := ids(got); !reflect.DeepEqual(gotIDs, tc.want) && !(len(gotIDs) == 0 && len(tc.want) == 0) {
				t.Fatalf("QueryRange(%v, %v, %d) got %v want %v", tc.from, tc.dir, tc.limit, gotIDs, tc.want)
			}
		})
	}
	if _, err := s.QueryRange(ctx, 50, Direction(42), 3); err == nil {
		t.Fatalf("QueryRange with a bad direction should fail")
	}
}

func TestMemoryStoreAllIsOrdered(t *testing.T) {
	s := seededStore(t, 10)
	all, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("All: %s", err)
	}
	want := []model.Snowflake{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if got := ids(all); !reflect.DeepEqual(got, want) {
		t.Fatalf("All got %v want %v", got, want)
	}
}

func TestMemoryStoreUpdateIsAtomicPerKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[model.Guild](Partition{Kind: KindGuild}, EvictionPolicy{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Update(ctx, 1, func(existing model.Guild, ok bool) (model.Guild, bool) {
					existing.ID = 1
					existing.MemberCount = model.Some(existing.MemberCount.OrElse(0) + 1)
					return existing, true
				})
			}
		}()
	}
	wg.Wait()
	g, _, _ := s.Get(ctx, 1)
	if got := g.MemberCount.OrElse(0); got != 1000 {
		t.Fatalf("concurrent increments got %d want 1000", got)
	}
	// keep=false removes
	if _, ok, _ := s.Update(ctx, 1, func(existing model.Guild, ok bool) (model.Guild, bool) { return existing, false }); ok {
		t.Fatalf("Update returning keep=false reported a stored value")
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Fatalf("Len got %d want 0", n)
	}
}

func TestMemoryStoreCapacityEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[model.Message](Partition{Kind: KindMessage, Parent: 1}, EvictionPolicy{Capacity: 3})
	defer s.Close()
	for i := 1; i <= 3; i++ {
		s.Upsert(ctx, model.Message{ID: model.Snowflake(i), ChannelID: 1})
	}
	// reading 1 makes 2 the least recently used
	s.Get(ctx, 1)
	s.Upsert(ctx, model.Message{ID: 4, ChannelID: 1})

	waitFor(t, func() bool {
		_, ok, _ := s.Get(ctx, 2)
		return !ok
	}, "message 2 to be evicted")
	for _, id := range []model.Snowflake{1, 3, 4} {
		if _, ok, _ := s.Get(ctx, id); !ok {
			t.Fatalf("message %d was evicted but should not have been", id)
		}
	}
}

func TestMemoryStoreTTLEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[model.Member](Partition{Kind: KindMember, Parent: 1}, EvictionPolicy{TTL: 50 * time.Millisecond})
	defer s.Close()
	s.Upsert(ctx, model.Member{User: model.User{ID: 1}})
	waitFor(t, func() bool {
		n, _ := s.Len(ctx)
		return n == 0
	}, "member to expire")
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, 10)
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %s", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Fatalf("Len after Clear got %d", n)
	}
}

func TestSelectRangeProperties(t *testing.T) {
	sorted := make([]model.Snowflake, 100)
	for i := range sorted {
		sorted[i] = model.Snowflake((i + 1) * 2)
	}
	for limit := 1; limit <= 12; limit++ {
		for _, from := range []model.Snowflake{1, 2, 51, 100, 199, 200, 201} {
			for _, dir := range []Direction{Before, After, Around} {
				got, err := selectRange(sorted, from, dir, limit)
				if err != nil {
					t.Fatalf("selectRange: %s", err)
				}
				name := fmt.Sprintf("%v %v %d", dir, from, limit)
				if len(got) > limit {
					t.Fatalf("%s: got %d results over limit", name, len(got))
				}
				for i := 1; i < len(got); i++ {
					if got[i-1] >= got[i] {
						t.Fatalf("%s: results not ascending: %v", name, got)
					}
				}
				for _, id := range got {
					if dir == Before && id >= from || dir == After && id <= from {
						t.Fatalf("%s: %v is on the wrong side of the anchor", name, id)
					}
				}
			}
		}
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
