// Package group implements the authoritative in-memory group state machine:
// playback cursor, ordered queue, membership, and the ready-gate protocol
// that synchronizes simultaneous playback start across members.
//
// Manager itself performs no I/O and never suspends — callers are
// responsible for rehydrating state from the durable store and holding the
// per-group mutation lock around every Apply* call (see internal/mutationlock
// and internal/snapshotpipe).
package group

import "time"

// QueueItem is an immutable queue entry produced only by a Catalog lookup.
// Identity for queue operations is positional (index); duplicate trackIds
// are permitted.
type QueueItem struct {
	TrackID     string `json:"trackId"`
	Title       string `json:"title"`
	ArtistName  string `json:"artistName"`
	AlbumTitle  string `json:"albumTitle"`
	DurationMs  int64  `json:"durationMs"`
	CoverURL    string `json:"coverUrl,omitempty"`
}

// Member is a current participant in a group.
type Member struct {
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	SocketIDs   map[string]bool `json:"-"`
	JoinedAtMs  int64           `json:"joinedAtMs"`
}

// ReadyGate is a transient coordination object open while playback is
// being (re)entered for a given cursor. There is no separate
// "deadline fired but not yet closed" state: expiry and closing the gate
// happen atomically (see expireReadyGate), so a nil ReadyGate is always
// sufficient to tell whether its deadline has already been emitted.
type ReadyGate struct {
	TargetCursor int             `json:"targetCursor"`
	Expected     map[string]bool `json:"expected"`
	Received     map[string]bool `json:"received"`
	DeadlineMs   int64           `json:"deadlineMs"`
}

// satisfied reports whether every expected member has reported ready.
func (g *ReadyGate) satisfied() bool {
	if g == nil {
		return false
	}
	for u := range g.Expected {
		if !g.Received[u] {
			return false
		}
	}
	return true
}

// Group is the authoritative per-session state.
type Group struct {
	ID          string
	Queue       []QueueItem
	Cursor      int // -1 means "none" (empty queue)
	PositionMs  int64
	Playing     bool
	UpdatedAtMs int64
	Members     map[string]*Member
	ReadyGate   *ReadyGate
	Version     int64
	Removed     bool
}

// NewGroup constructs an empty group ready for its first member to join.
func NewGroup(id string, nowMs int64) *Group {
	return &Group{
		ID:          id,
		Queue:       nil,
		Cursor:      -1,
		PositionMs:  0,
		Playing:     false,
		UpdatedAtMs: nowMs,
		Members:     make(map[string]*Member),
		Version:     0,
	}
}

// clone produces a deep-enough copy for snapshotting/callback emission
// without risking the caller mutating live state.
func (g *Group) clone() *Group {
	cp := *g
	cp.Queue = append([]QueueItem(nil), g.Queue...)
	cp.Members = make(map[string]*Member, len(g.Members))
	for k, m := range g.Members {
		mc := *m
		mc.SocketIDs = make(map[string]bool, len(m.SocketIDs))
		for s := range m.SocketIDs {
			mc.SocketIDs[s] = true
		}
		cp.Members[k] = &mc
	}
	if g.ReadyGate != nil {
		gc := *g.ReadyGate
		gc.Expected = copyStrSet(g.ReadyGate.Expected)
		gc.Received = copyStrSet(g.ReadyGate.Received)
		cp.ReadyGate = &gc
	}
	return &cp
}

func copyStrSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nowMs() int64 { return time.Now().UnixMilli() }
