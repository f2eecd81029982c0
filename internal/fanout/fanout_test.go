package fanout

import (
	"testing"
	"time"

	"github.com/snarg/listen-together/internal/group"
)

func TestPublishDeliversToAllSubscribersInRoom(t *testing.T) {
	h := NewHub()
	ch1 := h.Join("g1", "s1")
	ch2 := h.Join("g1", "s2")

	h.Publish(group.Event{GroupID: "g1", Kind: group.EventPlaybackDelta})

	select {
	case ev := <-ch1:
		if ev.Kind != group.EventPlaybackDelta {
			t.Fatalf("s1 got wrong event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("s1 never received event")
	}
	select {
	case ev := <-ch2:
		if ev.Kind != group.EventPlaybackDelta {
			t.Fatalf("s2 got wrong event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("s2 never received event")
	}
}

func TestPublishDoesNotCrossRooms(t *testing.T) {
	h := NewHub()
	chOther := h.Join("g2", "s1")
	h.Join("g1", "s1")

	h.Publish(group.Event{GroupID: "g1", Kind: group.EventPlaybackDelta})

	select {
	case ev := <-chOther:
		t.Fatalf("g2 subscriber should not receive g1 events, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaveClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Join("g1", "s1")
	h.Leave("g1", "s1")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Leave")
	}
	if got := h.RoomSize("g1"); got != 0 {
		t.Fatalf("RoomSize after Leave = %d, want 0", got)
	}
}

func TestLeaveUnknownSocketIsNoop(t *testing.T) {
	h := NewHub()
	h.Leave("g1", "ghost") // must not panic
}

func TestPublishBlocksOnFullSink(t *testing.T) {
	h := NewHub()
	ch := h.Join("g1", "s1")

	for i := 0; i < sinkBufferSize; i++ {
		h.Publish(group.Event{GroupID: "g1", Kind: group.EventPlaybackDelta})
	}

	delivered := make(chan struct{})
	go func() {
		h.Publish(group.Event{GroupID: "g1", Kind: group.EventPlaybackDelta})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("Publish should have blocked with the sink buffer full")
	case <-time.After(50 * time.Millisecond):
	}

	<-ch // drain one slot
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Publish never unblocked after sink buffer drained")
	}
}

func TestCloseClosesEverySubscriber(t *testing.T) {
	h := NewHub()
	ch1 := h.Join("g1", "s1")
	ch2 := h.Join("g2", "s1")

	h.Close()

	if _, ok := <-ch1; ok {
		t.Fatal("expected g1 subscriber channel closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected g2 subscriber channel closed")
	}
}
