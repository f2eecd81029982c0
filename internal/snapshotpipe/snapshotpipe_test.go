package snapshotpipe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/clusterbus"
	"github.com/snarg/listen-together/internal/group"
	"github.com/snarg/listen-together/internal/groupstore"
)

func newTestPipe(t *testing.T) *Pipe {
	t.Helper()
	store, err := groupstore.Open(t.TempDir(), time.Minute, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("groupstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus, err := clusterbus.Connect(clusterbus.Options{Enabled: false, Log: zerolog.Nop()}, func(group.Snapshot) {})
	if err != nil {
		t.Fatalf("clusterbus.Connect: %v", err)
	}
	t.Cleanup(bus.Close)

	return New(store, bus, zerolog.Nop())
}

func TestEnqueueThenFlushPersists(t *testing.T) {
	p := newTestPipe(t)
	ctx := context.Background()

	p.Enqueue(ctx, "g1", func() group.Snapshot {
		return group.Snapshot{GroupID: "g1", Version: 1}
	})
	p.Flush("g1")

	got, err := p.store.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestEnqueueOrderingWithinAGroup(t *testing.T) {
	p := newTestPipe(t)
	ctx := context.Background()

	var order []int64
	for i := int64(1); i <= 20; i++ {
		v := i
		p.Enqueue(ctx, "g1", func() group.Snapshot {
			order = append(order, v)
			return group.Snapshot{GroupID: "g1", Version: v}
		})
	}
	p.Flush("g1")

	for i, v := range order {
		if v != int64(i+1) {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestFlushOnUnknownGroupIsNoop(t *testing.T) {
	p := newTestPipe(t)
	done := make(chan struct{})
	go func() {
		p.Flush("never-enqueued")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush on a group with no chain should return immediately")
	}
}

func TestTeardownDeletesSnapshot(t *testing.T) {
	p := newTestPipe(t)
	ctx := context.Background()

	p.Enqueue(ctx, "g1", func() group.Snapshot {
		return group.Snapshot{GroupID: "g1", Version: 1}
	})
	p.Teardown(ctx, "g1")

	if _, err := p.store.Get(ctx, "g1"); err == nil {
		t.Fatal("expected snapshot to be deleted after teardown")
	}
}

func TestConcurrentGroupsDoNotBlockEachOther(t *testing.T) {
	p := newTestPipe(t)
	ctx := context.Background()

	var g2Ran atomic.Bool
	blocker := make(chan struct{})
	p.Enqueue(ctx, "g1", func() group.Snapshot {
		<-blocker
		return group.Snapshot{GroupID: "g1", Version: 1}
	})
	p.Enqueue(ctx, "g2", func() group.Snapshot {
		g2Ran.Store(true)
		return group.Snapshot{GroupID: "g2", Version: 1}
	})

	p.Flush("g2")
	if !g2Ran.Load() {
		t.Fatal("g2's task should not be blocked behind g1's still-running task")
	}
	close(blocker)
	p.Flush("g1")
}
