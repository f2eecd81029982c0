// Package presence is the connection and room lifecycle layer (C7): it
// authenticates inbound WebSocket connections, dispatches the fixed verb
// table (join-group, playback, queue, ready, lt-ping, leave-group) onto the
// group manager under the mutation lock, subscribes joined sockets to their
// group's fanout room, and owns the disconnect-grace timer and
// reconnect-latency SLO sampling described in spec §4.7.
//
// The transport (conn.go) is a thin gorilla/websocket read/write pump
// shaped directly on the navidrome listen-together hub's Participant —
// same ping/pong deadlines pattern, generalized to this service's own verb
// table and disconnect semantics. Dispatch itself is transport-free so it
// can be exercised without an actual socket.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/catalog"
	"github.com/snarg/listen-together/internal/fanout"
	"github.com/snarg/listen-together/internal/group"
	"github.com/snarg/listen-together/internal/groupstore"
	"github.com/snarg/listen-together/internal/mutationlock"
	"github.com/snarg/listen-together/internal/obs"
	"github.com/snarg/listen-together/internal/snapshotpipe"
)

// connState is the transport-independent half of a connection: its
// identity and which group (if any) it has joined. conn (conn.go) embeds
// one of these and adds the actual socket.
type connState struct {
	socketID string
	userID   string
	username string

	mu      sync.Mutex
	groupID string
}

func (c *connState) currentGroup() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID
}

func (c *connState) setGroup(groupID string) {
	c.mu.Lock()
	c.groupID = groupID
	c.mu.Unlock()
}

// Counters tracks the aggregate counters spec §4.7 calls for, logged every
// ObsLogEvery (default 25) increments in addition to their Prometheus
// equivalents in internal/obs.
type Counters struct {
	ReconnectSamples            int64
	ReconnectBreaches           int64
	ConflictErrors              int64
	MutationLockAcquireFailures int64
	DisconnectCleanupScheduled  int64
	DisconnectCleanupExecuted   int64
}

// Options configures a Presence.
type Options struct {
	Manager    *group.Manager
	Store      *groupstore.Store
	Locker     *mutationlock.Locker
	Pipe       *snapshotpipe.Pipe
	Hub        *fanout.Hub
	Catalog    catalog.Catalog
	Auth       Auth
	Membership Membership
	Log        zerolog.Logger

	// DisconnectGrace is how long a member with zero live sockets is kept
	// before its cleanup (Leave) actually runs. Default 60s.
	DisconnectGrace time.Duration
	// ReconnectSLO is the latency threshold a reconnect within grace is
	// compared against; breaches are logged and counted. Default 5s.
	ReconnectSLO time.Duration
	// ObsLogEvery is how many aggregate-counter increments elapse between
	// structured summary log lines. Default 25.
	ObsLogEvery int
}

// Presence wires the connection lifecycle to the rest of the coordinator.
type Presence struct {
	mgr        *group.Manager
	store      *groupstore.Store
	locker     *mutationlock.Locker
	pipe       *snapshotpipe.Pipe
	hub        *fanout.Hub
	catalog    catalog.Catalog
	auth       Auth
	membership Membership
	log        zerolog.Logger

	disconnectGrace time.Duration
	reconnectSLO    time.Duration
	obsLogEvery     int64

	mu      sync.Mutex
	pending map[string]*pendingCleanup

	gatesMu sync.Mutex
	gates   map[string]*gateTimer

	counters   Counters
	eventTally int64

	clock func() int64
}

type pendingCleanup struct {
	timer          *time.Timer
	disconnectedAt int64
}

// gateTimer tracks the scheduled deadline-expiry for a group's currently
// open ready gate, so a later mutation that supersedes or closes the gate
// can cancel the stale timer instead of letting it fire against a gate
// that no longer targets the cursor it was scheduled for.
type gateTimer struct {
	timer  *time.Timer
	cursor int
}

func cleanupKey(groupID, userID string) string { return groupID + "\x00" + userID }

// New constructs a Presence from its collaborators.
func New(opts Options) *Presence {
	grace := opts.DisconnectGrace
	if grace <= 0 {
		grace = 60 * time.Second
	}
	slo := opts.ReconnectSLO
	if slo <= 0 {
		slo = 5 * time.Second
	}
	logEvery := int64(opts.ObsLogEvery)
	if logEvery <= 0 {
		logEvery = 25
	}
	return &Presence{
		mgr:             opts.Manager,
		store:           opts.Store,
		locker:          opts.Locker,
		pipe:            opts.Pipe,
		hub:             opts.Hub,
		catalog:         opts.Catalog,
		auth:            opts.Auth,
		membership:      opts.Membership,
		log:             opts.Log,
		disconnectGrace: grace,
		reconnectSLO:    slo,
		obsLogEvery:     logEvery,
		pending:         make(map[string]*pendingCleanup),
		gates:           make(map[string]*gateTimer),
		clock:           func() int64 { return time.Now().UnixMilli() },
	}
}

func (p *Presence) now() int64 { return p.clock() }

// ensureLoaded guarantees the manager's pod-local cache has this group,
// rehydrating from the durable store on first touch (spec §4.5's
// "pre-rehydrate of C2" rule). Returns group.ErrNotFound if the group is
// unknown to both the pod cache and the durable store.
func (p *Presence) ensureLoaded(ctx context.Context, groupID string) error {
	if _, ok := p.mgr.GetSnapshot(groupID); ok {
		return nil
	}
	snap, err := p.store.Get(ctx, groupID)
	if err != nil {
		if errors.Is(err, groupstore.ErrNotFound) {
			return group.ErrNotFound
		}
		return fmt.Errorf("presence: rehydrate %s: %w", groupID, err)
	}
	p.mgr.LoadSnapshot(snap)
	return nil
}

// persistAndPublish enqueues the group's current snapshot for durable
// storage and cluster-bus broadcast. Called after every successful mutation
// (spec §4.6: "every callback from C5 that requires persistence enqueues a
// task") — including reportReady calls that only bumped Version without
// emitting an event, since Version is itself part of the wire snapshot.
func (p *Presence) persistAndPublish(ctx context.Context, groupID string) {
	p.pipe.Enqueue(ctx, groupID, func() group.Snapshot {
		snap, _ := p.mgr.GetSnapshot(groupID)
		return snap
	})
}

// lockCause labels a mutation-lock conflict for the obs counters:
// "contended" for ordinary contention, "infra" for a transport failure.
func lockCause(err error) string {
	var lockErr *mutationlock.ErrConflict
	if errors.As(err, &lockErr) && lockErr.Infra {
		return "infra"
	}
	return "contended"
}

// runLocked acquires groupID's mutation lease, rehydrates, runs fn under
// the lease, and on success persists+publishes the resulting snapshot
// before releasing. fn is expected to call exactly one group.Manager
// Apply* method.
func (p *Presence) runLocked(ctx context.Context, groupID, verb string, fn func() (group.Snapshot, error)) (group.Snapshot, error) {
	lease, err := p.locker.Lock(ctx, groupID)
	if err != nil {
		cause := lockCause(err)
		obs.LockConflictsTotal.WithLabelValues(cause).Inc()
		p.bump(&p.counters.ConflictErrors)
		if cause == "infra" {
			p.bump(&p.counters.MutationLockAcquireFailures)
		}
		obs.MutationsTotal.WithLabelValues(verb, "conflict").Inc()
		return group.Snapshot{}, err
	}
	defer p.locker.Release(ctx, lease)

	if err := p.ensureLoaded(ctx, groupID); err != nil {
		obs.MutationsTotal.WithLabelValues(verb, "error").Inc()
		return group.Snapshot{}, err
	}

	snap, err := fn()
	if err != nil {
		obs.MutationsTotal.WithLabelValues(verb, "error").Inc()
		return group.Snapshot{}, err
	}
	obs.MutationsTotal.WithLabelValues(verb, "ok").Inc()
	p.persistAndPublish(ctx, groupID)
	// Flush before the deferred Release runs so cross-pod observers never
	// see a state older than this pod's view once the lock is free (spec
	// §4.6: flush "is called before releasing the mutation lock").
	p.pipe.Flush(groupID)
	p.syncGateTimer(groupID)
	return snap, nil
}

// syncGateTimer reconciles this group's scheduled ready-gate-expiry timer
// against the manager's current gate state (spec §5: "Ready-gate deadline
// is a wall-clock timer"). Called after every mutation since play, seek,
// next, previous, setTrack, pause, queue.clear, and reportReady can all
// open, supersede, or close a gate. A gate already targeting the scheduled
// cursor is left alone; anything else cancels the stale timer and, if a
// gate is open, schedules a fresh one.
func (p *Presence) syncGateTimer(groupID string) {
	cursor, deadlineMs, open := p.mgr.ReadyDeadline(groupID)

	p.gatesMu.Lock()
	existing, had := p.gates[groupID]
	if had && (!open || existing.cursor != cursor) {
		existing.timer.Stop()
		delete(p.gates, groupID)
		had = false
	}
	if !open || had {
		p.gatesMu.Unlock()
		return
	}
	delay := time.Duration(deadlineMs-p.now()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	gt := &gateTimer{cursor: cursor}
	gt.timer = time.AfterFunc(delay, func() { p.expireGate(groupID, cursor) })
	p.gates[groupID] = gt
	p.gatesMu.Unlock()
}

// expireGate force-closes groupID's ready gate at its deadline, running
// under the same mutation lock and persist-and-publish path as any other
// mutation (spec: "the policy is play with whoever is ready").
func (p *Presence) expireGate(groupID string, cursor int) {
	p.gatesMu.Lock()
	gt, ok := p.gates[groupID]
	if ok && gt.cursor == cursor {
		delete(p.gates, groupID)
	}
	p.gatesMu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	lease, err := p.locker.Lock(ctx, groupID)
	if err != nil {
		p.log.Warn().Str("groupId", groupID).Err(err).Msg("failed to acquire lock for ready gate expiry")
		return
	}
	defer p.locker.Release(ctx, lease)

	if err := p.ensureLoaded(ctx, groupID); err != nil {
		return
	}
	if _, err := p.mgr.ExpireReadyGate(groupID, cursor); err != nil {
		if !errors.Is(err, group.ErrNotFound) {
			p.log.Warn().Str("groupId", groupID).Err(err).Msg("ready gate expiry failed")
		}
		return
	}
	obs.ReadyGateTimeoutsTotal.Inc()
	p.persistAndPublish(ctx, groupID)
}

// bump increments an aggregate counter and logs a structured summary line
// every obsLogEvery total increments across all six counters.
func (p *Presence) bump(counter *int64) {
	atomic.AddInt64(counter, 1)
	if atomic.AddInt64(&p.eventTally, 1)%p.obsLogEvery == 0 {
		p.log.Info().
			Int64("reconnectSamples", atomic.LoadInt64(&p.counters.ReconnectSamples)).
			Int64("reconnectBreaches", atomic.LoadInt64(&p.counters.ReconnectBreaches)).
			Int64("conflictErrors", atomic.LoadInt64(&p.counters.ConflictErrors)).
			Int64("mutationLockAcquireFailures", atomic.LoadInt64(&p.counters.MutationLockAcquireFailures)).
			Int64("disconnectCleanupScheduled", atomic.LoadInt64(&p.counters.DisconnectCleanupScheduled)).
			Int64("disconnectCleanupExecuted", atomic.LoadInt64(&p.counters.DisconnectCleanupExecuted)).
			Msg("listen-together presence counters")
	}
}

// Snapshot returns a point-in-time copy of the aggregate counters, mostly
// useful to tests.
func (p *Presence) Snapshot() Counters {
	return Counters{
		ReconnectSamples:            atomic.LoadInt64(&p.counters.ReconnectSamples),
		ReconnectBreaches:           atomic.LoadInt64(&p.counters.ReconnectBreaches),
		ConflictErrors:              atomic.LoadInt64(&p.counters.ConflictErrors),
		MutationLockAcquireFailures: atomic.LoadInt64(&p.counters.MutationLockAcquireFailures),
		DisconnectCleanupScheduled:  atomic.LoadInt64(&p.counters.DisconnectCleanupScheduled),
		DisconnectCleanupExecuted:   atomic.LoadInt64(&p.counters.DisconnectCleanupExecuted),
	}
}

// Dispatch handles one inbound verb for c, returning the ack to send back
// and, when the verb was a successful join-group, the fanout channel the
// caller (conn.go) should start forwarding to the socket. It performs no
// I/O on the socket itself, so it's directly testable without a live
// connection.
func (p *Presence) Dispatch(ctx context.Context, c *connState, env Envelope) (ack Ack, joined <-chan group.Event) {
	switch env.Verb {
	case "join-group":
		return p.handleJoinGroup(ctx, c, env)
	case "playback":
		return p.handlePlayback(ctx, c, env), nil
	case "queue":
		return p.handleQueue(ctx, c, env), nil
	case "ready":
		return p.handleReady(ctx, c, env), nil
	case "lt-ping":
		return Ack{ReqID: env.ReqID, ServerTime: p.now()}, nil
	case "leave-group":
		return p.handleLeaveGroup(ctx, c, env), nil
	default:
		return errAck(env.ReqID, "unknown verb: "+env.Verb), nil
	}
}

func (p *Presence) handleJoinGroup(ctx context.Context, c *connState, env Envelope) (Ack, <-chan group.Event) {
	var payload JoinGroupPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.GroupID == "" {
		return errAck(env.ReqID, "invalid join-group payload"), nil
	}
	if existing := c.currentGroup(); existing != "" && existing != payload.GroupID {
		return errAck(env.ReqID, "already joined to another group"), nil
	}

	if err := p.membership.Authorize(ctx, payload.GroupID, c.userID); err != nil {
		switch {
		case errors.Is(err, ErrUnknownGroup):
			return errAck(env.ReqID, "group not found"), nil
		case errors.Is(err, ErrNotAuthorized):
			return errAck(env.ReqID, "not a member"), nil
		default:
			return errAck(env.ReqID, "authorization failed"), nil
		}
	}

	if err := p.ensureLoaded(ctx, payload.GroupID); err != nil {
		if errors.Is(err, group.ErrNotFound) {
			p.mgr.EnsureGroup(payload.GroupID)
		} else {
			return errAck(env.ReqID, "failed to load group"), nil
		}
	}

	if _, err := p.mgr.Join(payload.GroupID, c.userID, c.username, c.socketID); err != nil {
		return errAck(env.ReqID, "join failed"), nil
	}
	c.setGroup(payload.GroupID)
	p.persistAndPublish(ctx, payload.GroupID)

	// A no-op unless this (groupId, userId) had a disconnect-grace cleanup
	// scheduled — i.e. this join-group is a reconnect within the grace
	// window rather than a fresh join.
	p.recordReconnectIfPending(payload.GroupID, c.userID)

	events := p.hub.Join(payload.GroupID, c.socketID)
	return okAck(env.ReqID), events
}

// JoinedState re-reads the current snapshot for groupID, for the transport
// layer to push as the unicast "group:state" message right after a
// successful join-group ack (spec §4.7: "{ok:true} + unicast group:state").
func (p *Presence) JoinedState(groupID string) (group.Snapshot, bool) {
	return p.mgr.GetSnapshot(groupID)
}

func (p *Presence) handlePlayback(ctx context.Context, c *connState, env Envelope) Ack {
	groupID := c.currentGroup()
	if groupID == "" {
		return errAck(env.ReqID, "not in a group")
	}
	var payload PlaybackPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errAck(env.ReqID, "invalid playback payload")
	}

	_, err := p.runLocked(ctx, groupID, "playback."+payload.Action, func() (group.Snapshot, error) {
		switch payload.Action {
		case PlaybackPlay:
			return p.mgr.ApplyPlay(groupID, c.userID, env.ReqID)
		case PlaybackPause:
			return p.mgr.ApplyPause(groupID, c.userID, env.ReqID)
		case PlaybackSeek:
			if payload.PositionMs == nil {
				return group.Snapshot{}, group.ErrInvalidInput
			}
			return p.mgr.ApplySeek(groupID, c.userID, env.ReqID, *payload.PositionMs)
		case PlaybackNext:
			return p.mgr.ApplyNext(groupID, c.userID, env.ReqID)
		case PlaybackPrevious:
			return p.mgr.ApplyPrevious(groupID, c.userID, env.ReqID)
		case PlaybackSetTrack:
			if payload.Index == nil {
				return group.Snapshot{}, group.ErrInvalidInput
			}
			return p.mgr.ApplySetTrack(groupID, c.userID, env.ReqID, *payload.Index)
		default:
			return group.Snapshot{}, group.ErrInvalidInput
		}
	})
	return p.mutationAck(env.ReqID, err)
}

func (p *Presence) handleQueue(ctx context.Context, c *connState, env Envelope) Ack {
	groupID := c.currentGroup()
	if groupID == "" {
		return errAck(env.ReqID, "not in a group")
	}
	var payload QueuePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errAck(env.ReqID, "invalid queue payload")
	}

	_, err := p.runLocked(ctx, groupID, "queue."+payload.Action, func() (group.Snapshot, error) {
		switch payload.Action {
		case QueueAdd, QueueInsertNext:
			if len(payload.TrackIDs) == 0 {
				return group.Snapshot{}, group.ErrInvalidInput
			}
			items, err := p.catalog.ValidateTracks(ctx, payload.TrackIDs)
			if err != nil {
				return group.Snapshot{}, fmt.Errorf("%w: %v", group.ErrInvalidInput, err)
			}
			if len(items) == 0 {
				return group.Snapshot{}, group.ErrInvalidInput
			}
			if payload.Action == QueueAdd {
				return p.mgr.ApplyQueueAdd(groupID, c.userID, env.ReqID, items)
			}
			return p.mgr.ApplyQueueInsertNext(groupID, c.userID, env.ReqID, items)
		case QueueRemove:
			if payload.Index == nil {
				return group.Snapshot{}, group.ErrInvalidInput
			}
			return p.mgr.ApplyQueueRemove(groupID, c.userID, env.ReqID, *payload.Index)
		case QueueReorder:
			if payload.FromIndex == nil || payload.ToIndex == nil {
				return group.Snapshot{}, group.ErrInvalidInput
			}
			return p.mgr.ApplyQueueReorder(groupID, c.userID, env.ReqID, *payload.FromIndex, *payload.ToIndex)
		case QueueClear:
			return p.mgr.ApplyQueueClear(groupID, c.userID, env.ReqID)
		default:
			return group.Snapshot{}, group.ErrInvalidInput
		}
	})
	return p.mutationAck(env.ReqID, err)
}

func (p *Presence) handleReady(ctx context.Context, c *connState, env Envelope) Ack {
	groupID := c.currentGroup()
	if groupID == "" {
		return errAck(env.ReqID, "not in a group")
	}
	_, err := p.runLocked(ctx, groupID, "ready", func() (group.Snapshot, error) {
		return p.mgr.ApplyReportReady(groupID, c.userID, env.ReqID)
	})
	return p.mutationAck(env.ReqID, err)
}

func (p *Presence) mutationAck(reqID string, err error) Ack {
	if err == nil {
		return okAck(reqID)
	}
	var lockErr *mutationlock.ErrConflict
	if errors.As(err, &lockErr) {
		return conflictAck(reqID, "mutation lock contended", lockErr.RetryAfter.Milliseconds())
	}
	var groupConflict *group.ConflictError
	if errors.As(err, &groupConflict) {
		return conflictAck(reqID, groupConflict.Reason, groupConflict.RetryAfter.Milliseconds())
	}
	switch {
	case errors.Is(err, group.ErrNotFound):
		return errAck(reqID, "group not found")
	case errors.Is(err, group.ErrNotMember):
		return errAck(reqID, "not a member")
	case errors.Is(err, group.ErrInvalidInput):
		return errAck(reqID, "invalid input")
	default:
		return errAck(reqID, "mutation failed")
	}
}

func (p *Presence) handleLeaveGroup(ctx context.Context, c *connState, env Envelope) Ack {
	groupID := c.currentGroup()
	if groupID == "" {
		return okAck(env.ReqID)
	}
	p.cancelPendingCleanup(groupID, c.userID)
	p.leaveNow(ctx, groupID, c.userID)
	c.setGroup("")
	p.hub.Leave(groupID, c.socketID)
	return okAck(env.ReqID)
}

func (p *Presence) leaveNow(ctx context.Context, groupID, userID string) {
	lease, err := p.locker.Lock(ctx, groupID)
	if err != nil {
		p.log.Warn().Str("groupId", groupID).Str("userId", userID).Err(err).Msg("failed to acquire lock for leave cleanup")
		return
	}
	defer p.locker.Release(ctx, lease)

	if err := p.ensureLoaded(ctx, groupID); err != nil {
		return
	}
	if err := p.membership.Leave(ctx, groupID, userID); err != nil {
		p.log.Warn().Str("groupId", groupID).Str("userId", userID).Err(err).Msg("membership collaborator leave failed")
	}
	if _, _, err := p.mgr.Leave(groupID, userID); err != nil {
		if !errors.Is(err, group.ErrNotMember) && !errors.Is(err, group.ErrNotFound) {
			p.log.Warn().Str("groupId", groupID).Str("userId", userID).Err(err).Msg("leave cleanup failed")
		}
		return
	}
	if snap, ok := p.mgr.GetSnapshot(groupID); ok {
		p.persistAndPublish(ctx, groupID)
		p.pipe.Flush(groupID)
		p.syncGateTimer(groupID)
		_ = snap
	} else {
		p.pipe.Teardown(ctx, groupID)
		p.syncGateTimer(groupID)
	}
}

// OnSocketClosed is called by the transport when a socket disconnects
// without an explicit leave-group. It detaches the socket and, if the
// member now has zero live sockets, schedules disconnect-grace cleanup
// (spec §4.7).
func (p *Presence) OnSocketClosed(ctx context.Context, c *connState) {
	groupID := c.currentGroup()
	if groupID == "" {
		return
	}
	remaining, err := p.mgr.RemoveSocket(groupID, c.userID, c.socketID)
	if err != nil {
		return
	}
	p.hub.Leave(groupID, c.socketID)
	if remaining > 0 {
		return
	}
	p.scheduleDisconnectCleanup(ctx, groupID, c.userID)
}

func (p *Presence) scheduleDisconnectCleanup(ctx context.Context, groupID, userID string) {
	key := cleanupKey(groupID, userID)
	timer := time.AfterFunc(p.disconnectGrace, func() {
		p.mu.Lock()
		_, stillPending := p.pending[key]
		delete(p.pending, key)
		p.mu.Unlock()
		if !stillPending {
			return
		}
		p.bump(&p.counters.DisconnectCleanupExecuted)
		obs.DisconnectGraceExpiredTotal.Inc()
		p.leaveNow(context.Background(), groupID, userID)
	})

	p.mu.Lock()
	p.pending[key] = &pendingCleanup{timer: timer, disconnectedAt: p.now()}
	p.mu.Unlock()
	p.bump(&p.counters.DisconnectCleanupScheduled)
	_ = ctx
}

func (p *Presence) cancelPendingCleanup(groupID, userID string) {
	key := cleanupKey(groupID, userID)
	p.mu.Lock()
	pc, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if ok {
		pc.timer.Stop()
	}
}

// recordReconnectIfPending cancels any scheduled cleanup for (groupID,
// userID), samples the reconnect latency, and logs+counts a breach if it
// exceeds the configured SLO (spec §4.7).
func (p *Presence) recordReconnectIfPending(groupID, userID string) {
	key := cleanupKey(groupID, userID)
	p.mu.Lock()
	pc, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	pc.timer.Stop()

	latencyMs := p.now() - pc.disconnectedAt
	obs.ReconnectLatencySeconds.Observe(float64(latencyMs) / 1000)
	p.bump(&p.counters.ReconnectSamples)
	if time.Duration(latencyMs)*time.Millisecond > p.reconnectSLO {
		p.bump(&p.counters.ReconnectBreaches)
		p.log.Warn().
			Str("groupId", groupID).
			Str("userId", userID).
			Int64("reconnectLatencyMs", latencyMs).
			Dur("slo", p.reconnectSLO).
			Msg("reconnect latency exceeded SLO")
	}
}

// ActiveGroupCount and ActiveSocketCount implement obs.LiveStats atop the
// fanout hub's room bookkeeping, for the coordinator to wire into a
// prometheus.Collector.
func (p *Presence) ActiveGroupCount() int {
	return p.hub.RoomCount()
}

func (p *Presence) ActiveSocketCount() int {
	return p.hub.SocketCount()
}
