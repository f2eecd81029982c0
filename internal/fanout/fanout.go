// Package fanout is the room-scoped broadcast adapter (C8): it delivers
// every group.Event emitted by a group's manager to every socket currently
// joined to that group's room, across however many sockets this pod holds.
//
// Room membership itself is owned by internal/presence (C7); this package
// only holds the subscriber channels. The subscriber shape is the teacher's
// EventBus (internal/ingest/eventbus.go) — a mutex-guarded map of per-
// subscriber channels — but the delivery policy is inverted: the teacher
// drops an event for a slow subscriber rather than block the publisher
// (spec §9, "Callback-driven emits → bounded channels" design note calls
// for the opposite here). A bounded channel plus a blocking send gives
// backpressure instead of silently losing a delta a client needs to stay
// in sync.
package fanout

import (
	"sync"

	"github.com/snarg/listen-together/internal/group"
)

// sinkBufferSize bounds each socket's outgoing event channel. Publish
// blocks once a socket's buffer fills rather than drop the event, so a
// single slow reader back-pressures this group's fanout until it (or its
// disconnect-grace timer) catches up or is evicted.
const sinkBufferSize = 32

// room guards one group's subscriber set. Publish holds the read lock for
// the duration of its sends so Leave can never close a channel out from
// under an in-flight send.
type room struct {
	mu    sync.RWMutex
	socks map[string]chan group.Event
}

// Hub holds one room per group id known to this pod.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub constructs an empty fanout hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) roomFor(groupID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[groupID]
	if !ok {
		r = &room{socks: make(map[string]chan group.Event)}
		h.rooms[groupID] = r
	}
	return r
}

func (h *Hub) existingRoom(groupID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[groupID]
}

// Join registers socketID as a subscriber of groupID's room and returns the
// channel it will receive events on. The caller (C7) owns draining it and
// must call Leave when the socket closes.
func (h *Hub) Join(groupID, socketID string) <-chan group.Event {
	r := h.roomFor(groupID)
	ch := make(chan group.Event, sinkBufferSize)
	r.mu.Lock()
	r.socks[socketID] = ch
	r.mu.Unlock()
	return ch
}

// Leave unsubscribes socketID from groupID's room and closes its channel.
// Safe to call more than once or for a socket that was never joined.
func (h *Hub) Leave(groupID, socketID string) {
	r := h.existingRoom(groupID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if ch, ok := r.socks[socketID]; ok {
		close(ch)
		delete(r.socks, socketID)
	}
	r.mu.Unlock()
}

// RoomSize reports how many sockets are currently subscribed to groupID's
// room on this pod.
func (h *Hub) RoomSize(groupID string) int {
	r := h.existingRoom(groupID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.socks)
}

// RoomCount reports how many groups currently have at least one subscriber
// on this pod.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	count := 0
	for _, r := range rooms {
		r.mu.RLock()
		if len(r.socks) > 0 {
			count++
		}
		r.mu.RUnlock()
	}
	return count
}

// SocketCount reports the total number of subscribed sockets across every
// room on this pod.
func (h *Hub) SocketCount() int {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	total := 0
	for _, r := range rooms {
		r.mu.RLock()
		total += len(r.socks)
		r.mu.RUnlock()
	}
	return total
}

// Publish delivers ev to every socket subscribed to ev.GroupID on this pod.
func (h *Hub) Publish(ev group.Event) {
	r := h.existingRoom(ev.GroupID)
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.socks {
		ch <- ev
	}
}

// Close tears down every room and closes every subscriber channel. Called
// during process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		for _, ch := range r.socks {
			close(ch)
		}
		r.socks = nil
		r.mu.Unlock()
	}
}
