package group

import "testing"

func TestSeekClampsToDuration(t *testing.T) {
	g := NewGroup("g1", 0)
	g.Queue = []QueueItem{{TrackID: "t0", DurationMs: 10_000}}
	g.Cursor = 0

	g.applySeek(999_999, 0, readyTimeoutForTest)
	if g.PositionMs != 10_000 {
		t.Fatalf("want position clamped to duration, got %d", g.PositionMs)
	}

	g.applySeek(-50, 0, readyTimeoutForTest)
	if g.PositionMs != 0 {
		t.Fatalf("want negative seek clamped to 0, got %d", g.PositionMs)
	}
}

func TestSeekWhilePlayingReopensGateInsteadOfDelta(t *testing.T) {
	g := NewGroup("g1", 0)
	g.Members["alice"] = &Member{UserID: "alice", SocketIDs: map[string]bool{}}
	g.Queue = []QueueItem{{TrackID: "t0", DurationMs: 10_000}}
	g.Cursor = 0
	g.Playing = true

	events := g.applySeek(5_000, 0, readyTimeoutForTest)
	if len(events) != 1 || events[0].Kind != EventWaiting {
		t.Fatalf("want single Waiting event, got %+v", events)
	}
	if g.ReadyGate == nil {
		t.Fatal("expected ready gate to be open")
	}
}

func TestNextClampsAtEndAndStopsPlayback(t *testing.T) {
	g := NewGroup("g1", 0)
	g.Members["alice"] = &Member{UserID: "alice", SocketIDs: map[string]bool{}}
	g.Queue = []QueueItem{{TrackID: "t0"}, {TrackID: "t1"}}
	g.Cursor = 1
	g.Playing = true

	events := g.applyNext(0, readyTimeoutForTest)
	if g.Cursor != 1 {
		t.Fatalf("want cursor clamped at last index, got %d", g.Cursor)
	}
	if g.Playing {
		t.Fatal("want playback stopped when next runs out of queue")
	}
	if len(events) != 1 || events[0].Kind != EventPlaybackDelta {
		t.Fatalf("want single PlaybackDelta, got %+v", events)
	}
}

func TestPreviousClampsAtStart(t *testing.T) {
	g := NewGroup("g1", 0)
	g.Queue = []QueueItem{{TrackID: "t0"}, {TrackID: "t1"}}
	g.Cursor = 0

	g.applyPrevious(0, readyTimeoutForTest)
	if g.Cursor != 0 {
		t.Fatalf("want cursor clamped at 0, got %d", g.Cursor)
	}
}

func TestQueueClearStopsEverything(t *testing.T) {
	g := NewGroup("g1", 0)
	g.Queue = []QueueItem{{TrackID: "t0"}}
	g.Cursor = 0
	g.Playing = true
	g.ReadyGate = &ReadyGate{Expected: map[string]bool{}, Received: map[string]bool{}}

	events := g.applyQueueClear(0)
	if len(events) != 1 || events[0].Kind != EventQueueDelta {
		t.Fatalf("want single QueueDelta, got %+v", events)
	}
	if g.Cursor != -1 || g.Playing || g.ReadyGate != nil || len(g.Queue) != 0 {
		t.Fatalf("queue clear left stale state: %+v", g)
	}
}

func TestQueueClearOnAlreadyEmptyIsNoop(t *testing.T) {
	g := NewGroup("g1", 0)
	if events := g.applyQueueClear(0); events != nil {
		t.Fatalf("want nil events on no-op clear, got %+v", events)
	}
	if g.Version != 0 {
		t.Fatalf("want version unchanged, got %d", g.Version)
	}
}

const readyTimeoutForTest = 5_000_000_000 // 5s in time.Duration units
