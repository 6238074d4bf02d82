package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testPayload struct {
	n int
}

func (p testPayload) Type() string { return "test" }

func TestPubSubDeliversInOrder(t *testing.T) {
	ps := NewPubSub(4)
	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ps.Listen("shard-0", func(p Payload) {
			got = append(got, p.(testPayload).n)
		})
	}()
	for i := 0; i < 20; i++ {
		if err := ps.Notify(context.Background(), "shard-0", testPayload{n: i}); err != nil {
			t.Fatalf("Notify: %s", err)
		}
	}
	ps.Close()
	wg.Wait()
	if len(got) != 20 {
		t.Fatalf("got %d payloads want 20", len(got))
	}
	for i, n := range got {
		if n != i {
			t.Fatalf("payload %d out of order: got %d", i, n)
		}
	}
}

func TestPubSubNotifyTimesOut(t *testing.T) {
	ps := NewPubSub(1).WithNotifyTimeout(50 * time.Millisecond)
	defer ps.Close()
	ctx := context.Background()
	if err := ps.Notify(ctx, "c", testPayload{}); err != nil {
		t.Fatalf("first Notify: %s", err)
	}
	if err := ps.Notify(ctx, "c", testPayload{}); err == nil {
		t.Fatalf("Notify on a full channel with no listener should time out")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := ps.Notify(cancelled, "c", testPayload{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Notify with cancelled ctx: got %v", err)
	}
}

func TestPubSubNotifyAfterClose(t *testing.T) {
	ps := NewPubSub(1)
	ps.Close()
	ps.Close()
	if err := ps.Notify(context.Background(), "c", testPayload{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Notify after Close: got %v want ErrClosed", err)
	}
}

func TestPromNotifierCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	n, err := NewPromNotifier(NewPubSub(4), reg, "test")
	if err != nil {
		t.Fatalf("NewPromNotifier: %s", err)
	}
	defer n.Close()
	for i := 0; i < 3; i++ {
		if err := n.Notify(context.Background(), "c", testPayload{}); err != nil {
			t.Fatalf("Notify: %s", err)
		}
	}
	if got := testutil.ToFloat64(n.(*PromNotifier).msgCounter.WithLabelValues("test")); got != 3 {
		t.Fatalf("counter got %v want 3", got)
	}
}
