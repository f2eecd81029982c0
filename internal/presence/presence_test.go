package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/catalog"
	"github.com/snarg/listen-together/internal/clusterbus"
	"github.com/snarg/listen-together/internal/fanout"
	"github.com/snarg/listen-together/internal/group"
	"github.com/snarg/listen-together/internal/groupstore"
	"github.com/snarg/listen-together/internal/mutationlock"
	"github.com/snarg/listen-together/internal/snapshotpipe"
)

// fakeAuth treats the bearer token as the user id verbatim, so tests don't
// need a real membership.Store / database.
type fakeAuth struct{}

func (fakeAuth) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrAuthFailed
	}
	return Identity{UserID: token, Username: token}, nil
}

// fakeMembership authorizes every (groupId, userId) pair and records Leave
// calls for assertions.
type fakeMembership struct {
	leaveCalls []string
}

func (*fakeMembership) Authorize(context.Context, string, string) error { return nil }

func (f *fakeMembership) Leave(_ context.Context, groupID, userID string) error {
	f.leaveCalls = append(f.leaveCalls, groupID+"/"+userID)
	return nil
}

// newTestPresence wires a Presence atop disabled-mode collaborators (no
// Postgres, no badger, no MQTT broker needed) plus a synchronous emitter
// that publishes straight to the fanout hub — standing in for the bounded
// event-channel bridge internal/coordinator builds in production.
func newTestPresence(t *testing.T) (*Presence, *fanout.Hub, *fakeMembership) {
	t.Helper()
	log := zerolog.Nop()

	store, err := groupstore.Open("", 0, false, log)
	if err != nil {
		t.Fatalf("groupstore.Open: %v", err)
	}
	bus, err := clusterbus.Connect(clusterbus.Options{Enabled: false, Log: log}, nil)
	if err != nil {
		t.Fatalf("clusterbus.Connect: %v", err)
	}
	pipe := snapshotpipe.New(store, bus, log)
	hub := fanout.NewHub()
	locker := mutationlock.New(mutationlock.Options{Enabled: false, Log: log})

	mgr := group.NewManager(2*time.Second, 0, func(ev group.Event) {
		hub.Publish(ev)
	})

	members := &fakeMembership{}
	p := New(Options{
		Manager:         mgr,
		Store:           store,
		Locker:          locker,
		Pipe:            pipe,
		Hub:             hub,
		Catalog:         catalog.NewStaticCatalog(nil),
		Auth:            fakeAuth{},
		Membership:      members,
		Log:             log,
		DisconnectGrace: 50 * time.Millisecond,
		ReconnectSLO:    time.Second,
	})
	return p, hub, members
}

func joinPayload(t *testing.T, groupID string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(JoinGroupPayload{GroupID: groupID})
	if err != nil {
		t.Fatalf("marshal join payload: %v", err)
	}
	return b
}

// ── join-group ───────────────────────────────────────────────────────

func TestDispatchJoinGroupCreatesGroupOnFirstJoin(t *testing.T) {
	p, _, _ := newTestPresence(t)
	c := &connState{socketID: "sock-1", userID: "alice", username: "Alice"}

	ack, events := p.Dispatch(context.Background(), c, Envelope{
		Verb: "join-group", ReqID: "r1", Payload: joinPayload(t, "g1"),
	})
	if !ack.OK {
		t.Fatalf("join ack = %+v, want OK", ack)
	}
	if events == nil {
		t.Fatalf("want a fanout channel for a successful join")
	}
	if c.currentGroup() != "g1" {
		t.Fatalf("connState.groupID = %q, want g1", c.currentGroup())
	}
	snap, ok := p.JoinedState("g1")
	if !ok || len(snap.Members) != 1 {
		t.Fatalf("JoinedState = (%+v, %v), want 1 member", snap, ok)
	}
}

func TestDispatchJoinGroupRejectsInvalidPayload(t *testing.T) {
	p, _, _ := newTestPresence(t)
	c := &connState{socketID: "sock-1", userID: "alice"}

	ack, _ := p.Dispatch(context.Background(), c, Envelope{Verb: "join-group", ReqID: "r1"})
	if ack.OK {
		t.Fatalf("want rejection for missing groupId, got %+v", ack)
	}
}

// ── playback / ready gate ────────────────────────────────────────────

func TestPlaybackPlayOpensGateAndReadyClosesIt(t *testing.T) {
	p, hub, _ := newTestPresence(t)
	ctx := context.Background()

	alice := &connState{socketID: "sock-a", userID: "alice"}
	bob := &connState{socketID: "sock-b", userID: "bob"}
	if ack, _ := p.Dispatch(ctx, alice, Envelope{Verb: "join-group", Payload: joinPayload(t, "g1")}); !ack.OK {
		t.Fatalf("alice join failed: %+v", ack)
	}
	if ack, _ := p.Dispatch(ctx, bob, Envelope{Verb: "join-group", Payload: joinPayload(t, "g1")}); !ack.OK {
		t.Fatalf("bob join failed: %+v", ack)
	}

	aliceCh := hub.Join("g1", "sock-a-listener")
	defer hub.Leave("g1", "sock-a-listener")

	playPayload, _ := json.Marshal(PlaybackPayload{Action: PlaybackPlay})
	ack, _ := p.Dispatch(ctx, alice, Envelope{Verb: "playback", ReqID: "p1", Payload: playPayload})
	if !ack.OK {
		t.Fatalf("play ack = %+v, want OK", ack)
	}

	ev := recvEvent(t, aliceCh)
	if ev.Kind != group.EventWaiting {
		t.Fatalf("first event kind = %v, want waiting", ev.Kind)
	}

	cursor, _, open := p.mgr.ReadyDeadline("g1")
	if !open {
		t.Fatalf("want an open ready gate after play")
	}
	p.gatesMu.Lock()
	_, scheduled := p.gates["g1"]
	p.gatesMu.Unlock()
	if !scheduled {
		t.Fatalf("want syncGateTimer to have scheduled a deadline timer")
	}

	readyPayload, _ := json.Marshal(struct{}{})
	if ack, _ := p.Dispatch(ctx, alice, Envelope{Verb: "ready", Payload: readyPayload}); !ack.OK {
		t.Fatalf("alice ready ack = %+v", ack)
	}
	// Alice's report alone doesn't satisfy the gate (bob hasn't reported
	// yet), so applyReportReady emits nothing and the gate stays open.

	if ack, _ := p.Dispatch(ctx, bob, Envelope{Verb: "ready", Payload: readyPayload}); !ack.OK {
		t.Fatalf("bob ready ack = %+v", ack)
	}
	ev = recvEvent(t, aliceCh)
	if ev.Kind != group.EventPlayAt {
		t.Fatalf("final event kind = %v, want play_at", ev.Kind)
	}

	if _, _, open := p.mgr.ReadyDeadline("g1"); open {
		t.Fatalf("gate should be closed once both members reported ready")
	}
	p.gatesMu.Lock()
	_, stillScheduled := p.gates["g1"]
	p.gatesMu.Unlock()
	if stillScheduled {
		t.Fatalf("syncGateTimer should have cancelled the timer once the gate closed")
	}
	_ = cursor
}

func recvEvent(t *testing.T, ch <-chan group.Event) group.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fanout event")
		return group.Event{}
	}
}

// ── leave-group ──────────────────────────────────────────────────────

func TestLeaveGroupInvokesMembershipCollaborator(t *testing.T) {
	p, _, members := newTestPresence(t)
	ctx := context.Background()

	c := &connState{socketID: "sock-1", userID: "alice"}
	if ack, _ := p.Dispatch(ctx, c, Envelope{Verb: "join-group", Payload: joinPayload(t, "g1")}); !ack.OK {
		t.Fatalf("join failed: %+v", ack)
	}

	if ack, _ := p.Dispatch(ctx, c, Envelope{Verb: "leave-group", ReqID: "r2"}); !ack.OK {
		t.Fatalf("leave ack = %+v, want OK", ack)
	}
	if c.currentGroup() != "" {
		t.Fatalf("connState still tracks a group after leave: %q", c.currentGroup())
	}
	if len(members.leaveCalls) != 1 || members.leaveCalls[0] != "g1/alice" {
		t.Fatalf("membership.Leave calls = %v, want [g1/alice]", members.leaveCalls)
	}
	if _, ok := p.mgr.GetSnapshot("g1"); ok {
		t.Fatalf("group g1 should have been torn down once empty")
	}
}

// ── disconnect-grace ─────────────────────────────────────────────────

func TestOnSocketClosedSchedulesAndCancelsCleanup(t *testing.T) {
	p, _, members := newTestPresence(t)
	ctx := context.Background()

	c := &connState{socketID: "sock-1", userID: "alice"}
	if ack, _ := p.Dispatch(ctx, c, Envelope{Verb: "join-group", Payload: joinPayload(t, "g1")}); !ack.OK {
		t.Fatalf("join failed: %+v", ack)
	}
	c.setGroup("g1")

	p.OnSocketClosed(ctx, c)
	if p.Snapshot().DisconnectCleanupScheduled != 1 {
		t.Fatalf("want 1 scheduled cleanup, got %+v", p.Snapshot())
	}

	// Reconnect within grace: rejoin cancels the pending cleanup.
	c2 := &connState{socketID: "sock-2", userID: "alice"}
	if ack, _ := p.Dispatch(ctx, c2, Envelope{Verb: "join-group", Payload: joinPayload(t, "g1")}); !ack.OK {
		t.Fatalf("rejoin failed: %+v", ack)
	}
	if p.Snapshot().ReconnectSamples != 1 {
		t.Fatalf("want 1 reconnect sample, got %+v", p.Snapshot())
	}
	if len(members.leaveCalls) != 0 {
		t.Fatalf("membership.Leave should not run for a cancelled cleanup, got %v", members.leaveCalls)
	}

	time.Sleep(100 * time.Millisecond)
	if p.Snapshot().DisconnectCleanupExecuted != 0 {
		t.Fatalf("cancelled cleanup must not execute")
	}
}

func TestDispatchUnknownVerb(t *testing.T) {
	p, _, _ := newTestPresence(t)
	c := &connState{socketID: "sock-1", userID: "alice"}
	ack, _ := p.Dispatch(context.Background(), c, Envelope{Verb: "not-a-verb", ReqID: "r1"})
	if ack.OK {
		t.Fatalf("want rejection for unknown verb")
	}
}

func TestMutationAckTranslatesLockConflict(t *testing.T) {
	p, _, _ := newTestPresence(t)
	err := &mutationlock.ErrConflict{GroupID: "g1", RetryAfter: 80 * time.Millisecond}
	ack := p.mutationAck("r1", err)
	if ack.Code != "CONFLICT" || !ack.Retryable || ack.RetryAfterMs != 80 {
		t.Fatalf("mutationAck(lock conflict) = %+v, want CONFLICT/retryable/80ms", ack)
	}
}

func TestMutationAckTranslatesNotFound(t *testing.T) {
	p, _, _ := newTestPresence(t)
	ack := p.mutationAck("r1", group.ErrNotFound)
	if ack.OK || ack.Error != "group not found" {
		t.Fatalf("mutationAck(not found) = %+v", ack)
	}
}
