package clusterbus

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/group"
)

func marshalForTest(snap group.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func TestDisabledBusConnectDoesNotDial(t *testing.T) {
	b, err := Connect(Options{Enabled: false, Log: zerolog.Nop()}, func(group.Snapshot) {
		t.Fatal("handler should never be called on a disabled bus")
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := b.Publish(group.Snapshot{GroupID: "g1"}); err != nil {
		t.Fatalf("Publish on disabled bus should no-op, got %v", err)
	}
	b.Close()
}

func TestSnapshotTopicMatchesPersistedStateLayout(t *testing.T) {
	if snapshotTopic != "listen-together:snapshots" {
		t.Fatalf("snapshotTopic = %q, want %q", snapshotTopic, "listen-together:snapshots")
	}
	if snapshotQoS != 1 {
		t.Fatalf("snapshotQoS = %d, want 1 (at-least-once)", snapshotQoS)
	}
}

func TestDeliverDropsMalformedPayload(t *testing.T) {
	b := &Bus{log: zerolog.Nop()}
	called := false
	b.deliver([]byte("not json"), func(group.Snapshot) { called = true })
	if called {
		t.Fatal("handler should not be called for malformed payload")
	}
}

func TestDeliverDropsEmptyGroupID(t *testing.T) {
	b := &Bus{log: zerolog.Nop()}
	called := false
	snap := group.Snapshot{GroupID: ""}
	payload, _ := marshalForTest(snap)
	b.deliver(payload, func(group.Snapshot) { called = true })
	if called {
		t.Fatal("handler should not be called for a snapshot with no group id")
	}
}

func TestDeliverValidSnapshot(t *testing.T) {
	b := &Bus{log: zerolog.Nop()}
	var got group.Snapshot
	snap := group.Snapshot{GroupID: "g1", Version: 7}
	payload, _ := marshalForTest(snap)
	b.deliver(payload, func(s group.Snapshot) { got = s })
	if got.Version != 7 {
		t.Fatalf("handler received wrong snapshot: %+v", got)
	}
}
