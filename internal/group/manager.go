package group

import (
	"sync"
	"time"
)

// Emitter delivers an Event produced by a successful mutation. Manager calls
// it synchronously while holding the group's lock, so a blocking Emitter
// stalls that group's mutations — callers are expected to hand it a function
// that enqueues onto the bounded event channel described in spec §9.
type Emitter func(Event)

type groupEntry struct {
	mu sync.Mutex
	g  *Group
}

// Manager owns the pod-local cache of groups this process currently knows
// about. It performs no I/O and never suspends: every exported method
// returns as soon as the in-memory mutation is applied. Durable persistence,
// cross-pod fanout, and the C4 mutation lock all live outside this package.
type Manager struct {
	mgrMu  sync.RWMutex
	groups map[string]*groupEntry

	emit         Emitter
	clock        func() int64
	readyTimeout time.Duration
	joinLead     time.Duration

	dedupMu sync.Mutex
	dedup   map[string]dedupEntry
}

type dedupEntry struct {
	expiresAtMs int64
	snap        Snapshot
	events      []Event
	err         error
}

// dedupWindow is the idempotent-mutation window: a repeated (userId, nonce)
// pair for the same group within this window replays the cached result
// instead of reapplying the mutation.
const dedupWindow = 2 * time.Second

// NewManager constructs a Manager. emit may be nil, in which case events are
// simply dropped (useful in tests that only care about resulting snapshots).
func NewManager(readyTimeout, joinLead time.Duration, emit Emitter) *Manager {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Manager{
		groups:       make(map[string]*groupEntry),
		emit:         emit,
		clock:        func() int64 { return nowMs() },
		readyTimeout: readyTimeout,
		joinLead:     joinLead,
		dedup:        make(map[string]dedupEntry),
	}
}

// SetClock overrides the time source; tests use this to control deadlines
// deterministically.
func (m *Manager) SetClock(clock func() int64) {
	m.clock = clock
}

func (m *Manager) now() int64 { return m.clock() }

func (m *Manager) entry(groupID string, create bool) *groupEntry {
	m.mgrMu.RLock()
	e, ok := m.groups[groupID]
	m.mgrMu.RUnlock()
	if ok {
		return e
	}
	if !create {
		return nil
	}
	m.mgrMu.Lock()
	defer m.mgrMu.Unlock()
	if e, ok := m.groups[groupID]; ok {
		return e
	}
	e = &groupEntry{g: NewGroup(groupID, m.now())}
	m.groups[groupID] = e
	return e
}

// EnsureGroup guarantees a pod-local group cache entry exists, creating an
// empty one if this pod has never seen it. Used on first join when no
// durable snapshot exists yet.
func (m *Manager) EnsureGroup(groupID string) {
	m.entry(groupID, true)
}

// LoadSnapshot rehydrates (or merges) a durable snapshot into the pod-local
// cache, per the monotone-version convergence rule (spec §8): a snapshot
// only replaces local state if its version is strictly newer.
func (m *Manager) LoadSnapshot(snap Snapshot) {
	e := m.entry(snap.GroupID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.g != nil && e.g.Version >= snap.Version {
		return
	}
	rehydrated := FromSnapshot(snap)
	// Preserve any sockets this pod still owns for members present in the
	// incoming snapshot; LoadSnapshot never silently drops local transport
	// state.
	if e.g != nil {
		for uid, mem := range e.g.Members {
			if nm, ok := rehydrated.Members[uid]; ok {
				for sid := range mem.SocketIDs {
					nm.SocketIDs[sid] = true
				}
			}
		}
	}
	e.g = rehydrated
}

// GetSnapshot returns the current pod-local projection of a group, if known.
func (m *Manager) GetSnapshot(groupID string) (Snapshot, bool) {
	e := m.entry(groupID, false)
	if e == nil {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.g == nil || e.g.Removed {
		return Snapshot{}, false
	}
	return e.g.ToSnapshot(), true
}

func dedupKey(groupID, userID, nonce string) string {
	return groupID + "\x00" + userID + "\x00" + nonce
}

func (m *Manager) checkDedup(groupID, userID, nonce string) (dedupEntry, bool) {
	if nonce == "" {
		return dedupEntry{}, false
	}
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	key := dedupKey(groupID, userID, nonce)
	e, ok := m.dedup[key]
	if !ok {
		return dedupEntry{}, false
	}
	if m.now() > e.expiresAtMs {
		delete(m.dedup, key)
		return dedupEntry{}, false
	}
	return e, true
}

func (m *Manager) storeDedup(groupID, userID, nonce string, snap Snapshot, events []Event, err error) {
	if nonce == "" {
		return
	}
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	m.dedup[dedupKey(groupID, userID, nonce)] = dedupEntry{
		expiresAtMs: m.now() + dedupWindow.Milliseconds(),
		snap:        snap,
		events:      events,
		err:         err,
	}
}

// mutate is the shared wrapper: fetch-or-fail the group, check/require
// membership, apply fn under the per-group mutex, emit resulting events,
// and return the post-mutation snapshot.
func (m *Manager) mutate(groupID, userID, nonce string, requireMember bool, fn func(g *Group) ([]Event, error)) (Snapshot, error) {
	if cached, ok := m.checkDedup(groupID, userID, nonce); ok {
		for _, ev := range cached.events {
			m.emit(ev)
		}
		return cached.snap, cached.err
	}

	e := m.entry(groupID, false)
	if e == nil {
		return Snapshot{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.g
	if g == nil || g.Removed {
		return Snapshot{}, ErrNotFound
	}
	if requireMember {
		if _, ok := g.Members[userID]; !ok {
			return Snapshot{}, ErrNotMember
		}
	}

	events, err := fn(g)
	if err != nil {
		return Snapshot{}, err
	}
	for i := range events {
		events[i].GroupID = groupID
	}
	snap := g.ToSnapshot()
	m.storeDedup(groupID, userID, nonce, snap, events, nil)
	for _, ev := range events {
		m.emit(ev)
	}
	return snap, nil
}

// Join adds userID as a member of groupID (creating the Member on first
// join) and attaches socketID to it. If a ready gate is currently open and
// has not yet fired its deadline, the new member is folded into the
// expected set (spec §4.5).
func (m *Manager) Join(groupID, userID, username, socketID string) (Snapshot, error) {
	e := m.entry(groupID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.g
	if g.Removed {
		return Snapshot{}, ErrNotFound
	}

	now := m.now()
	var events []Event
	mem, exists := g.Members[userID]
	if !exists {
		mem = &Member{UserID: userID, Username: username, SocketIDs: make(map[string]bool), JoinedAtMs: now}
		g.Members[userID] = mem
		g.UpdatedAtMs = now
		g.Version++
		events = append(events, Event{GroupID: groupID, Kind: EventMemberJoined, Member: &MemberEvent{Kind: MemberJoined, UserID: userID, Username: username}})
		if g.ReadyGate != nil {
			g.ReadyGate.Expected[userID] = true
		}
	}
	mem.SocketIDs[socketID] = true

	snap := g.ToSnapshot()
	for _, ev := range events {
		m.emit(ev)
	}
	return snap, nil
}

// AddSocket attaches an additional live socket to an existing member
// (multi-tab / multi-device reconnect) without otherwise changing state.
func (m *Manager) AddSocket(groupID, userID, socketID string) error {
	e := m.entry(groupID, false)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.g == nil || e.g.Removed {
		return ErrNotFound
	}
	mem, ok := e.g.Members[userID]
	if !ok {
		return ErrNotMember
	}
	mem.SocketIDs[socketID] = true
	return nil
}

// RemoveSocket detaches a socket from a member and reports how many sockets
// that member still has live. Pod-local bookkeeping only — it does not by
// itself remove the member or bump the group version; the presence layer
// decides when an empty socket set should start a disconnect-grace timer.
func (m *Manager) RemoveSocket(groupID, userID, socketID string) (int, error) {
	e := m.entry(groupID, false)
	if e == nil {
		return 0, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.g == nil || e.g.Removed {
		return 0, ErrNotFound
	}
	mem, ok := e.g.Members[userID]
	if !ok {
		return 0, ErrNotMember
	}
	delete(mem.SocketIDs, socketID)
	return len(mem.SocketIDs), nil
}

// Leave removes userID from the group's membership entirely, emitting
// MemberLeft and, if the group's membership is now empty, GroupEnded{empty}.
func (m *Manager) Leave(groupID, userID string) (Snapshot, []Event, error) {
	e := m.entry(groupID, false)
	if e == nil {
		return Snapshot{}, nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.g
	if g == nil || g.Removed {
		return Snapshot{}, nil, ErrNotFound
	}
	if _, ok := g.Members[userID]; !ok {
		return Snapshot{}, nil, ErrNotMember
	}
	now := m.now()
	delete(g.Members, userID)
	g.UpdatedAtMs = now
	g.Version++
	events := []Event{{GroupID: groupID, Kind: EventMemberLeft, Member: &MemberEvent{Kind: MemberLeft, UserID: userID}}}
	if len(g.Members) == 0 {
		g.Removed = true
		events = append(events, Event{GroupID: groupID, Kind: EventGroupEnded, Ended: &Ended{Reason: EndedEmpty}})
	}
	snap := g.ToSnapshot()
	for _, ev := range events {
		m.emit(ev)
	}
	return snap, events, nil
}

// ApplyPlay starts playback and opens a ready gate. No-op if already playing.
func (m *Manager) ApplyPlay(groupID, userID, nonce string) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyPlay(m.now(), m.readyTimeout), nil
	})
}

// ApplyPause freezes playback at its estimated current position and
// discards any open ready gate.
func (m *Manager) ApplyPause(groupID, userID, nonce string) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyPause(m.now()), nil
	})
}

// ApplySeek sets the playback position, clamped to the current track's
// duration. If playing, re-opens a ready gate to resynchronize listeners.
func (m *Manager) ApplySeek(groupID, userID, nonce string, positionMs int64) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applySeek(positionMs, m.now(), m.readyTimeout), nil
	})
}

// ApplyNext advances the cursor by one, clamping at the end of the queue.
func (m *Manager) ApplyNext(groupID, userID, nonce string) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyNext(m.now(), m.readyTimeout), nil
	})
}

// ApplyPrevious moves the cursor back by one, clamping at the start.
func (m *Manager) ApplyPrevious(groupID, userID, nonce string) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyPrevious(m.now(), m.readyTimeout), nil
	})
}

// ApplySetTrack jumps the cursor directly to index.
func (m *Manager) ApplySetTrack(groupID, userID, nonce string, index int) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applySetTrack(index, m.now(), m.readyTimeout)
	})
}

// ApplyQueueAdd appends items to the end of the queue.
func (m *Manager) ApplyQueueAdd(groupID, userID, nonce string, items []QueueItem) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyQueueAdd(items, m.now()), nil
	})
}

// ApplyQueueInsertNext inserts items immediately after the current cursor.
func (m *Manager) ApplyQueueInsertNext(groupID, userID, nonce string, items []QueueItem) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyQueueInsertNext(items, m.now()), nil
	})
}

// ApplyQueueRemove removes the item at index, adjusting the cursor so that
// the currently playing item is never silently swapped out from under a
// listener.
func (m *Manager) ApplyQueueRemove(groupID, userID, nonce string, index int) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyQueueRemove(index, m.now())
	})
}

// ApplyQueueReorder moves the item at from to position to, preserving which
// underlying item the cursor refers to.
func (m *Manager) ApplyQueueReorder(groupID, userID, nonce string, from, to int) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyQueueReorder(from, to, m.now())
	})
}

// ApplyQueueClear empties the queue and stops playback.
func (m *Manager) ApplyQueueClear(groupID, userID, nonce string) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyQueueClear(m.now()), nil
	})
}

// ApplyReportReady records userID as ready for the currently open gate.
// Duplicate reports and reports from users outside the gate's expected set
// are silently ignored. If this report satisfies the gate, a PlayAt event
// is emitted and the gate closes.
func (m *Manager) ApplyReportReady(groupID, userID, nonce string) (Snapshot, error) {
	return m.mutate(groupID, userID, nonce, true, func(g *Group) ([]Event, error) {
		return g.applyReportReady(userID, m.now(), m.joinLead), nil
	})
}

// ReadyDeadline reports the currently open gate's target cursor and
// deadline, if any, so the caller can schedule ExpireReadyGate.
func (m *Manager) ReadyDeadline(groupID string) (targetCursor int, deadlineMs int64, ok bool) {
	e := m.entry(groupID, false)
	if e == nil {
		return 0, 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.g == nil || e.g.ReadyGate == nil {
		return 0, 0, false
	}
	return e.g.ReadyGate.TargetCursor, e.g.ReadyGate.DeadlineMs, true
}

// ExpireReadyGate force-closes the ready gate targeting targetCursor, if
// it's still open, emitting PlayAt regardless of whether every member
// reported ready — "always play at the deadline" (spec §4.5 Open Question).
// Called by internal/presence's scheduled deadline timer, itself run under
// the group's mutation lock like any other mutation.
func (m *Manager) ExpireReadyGate(groupID string, targetCursor int) (Snapshot, error) {
	e := m.entry(groupID, false)
	if e == nil {
		return Snapshot{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.g
	if g == nil || g.Removed {
		return Snapshot{}, ErrNotFound
	}
	events := g.expireReadyGate(targetCursor, m.now(), m.joinLead)
	for i := range events {
		events[i].GroupID = groupID
	}
	snap := g.ToSnapshot()
	for _, ev := range events {
		m.emit(ev)
	}
	return snap, nil
}
