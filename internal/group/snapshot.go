package group

import "sort"

// SchemaVersion is bumped whenever the wire/store Snapshot shape changes in
// a way that matters to consumers, per spec §9 ("Duck-typed snapshot
// payloads → explicit schema").
const SchemaVersion uint8 = 1

// SnapshotMember is the member projection used in Snapshot — socketIds are
// deliberately excluded (pod-local, not authoritative cross-pod state).
type SnapshotMember struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	JoinedAtMs int64  `json:"joinedAtMs"`
}

// SnapshotReadyGate is the wire projection of ReadyGate.
type SnapshotReadyGate struct {
	TargetCursor int      `json:"targetCursor"`
	Expected     []string `json:"expected"`
	Received     []string `json:"received"`
	DeadlineMs   int64    `json:"deadlineMs"`
}

// Snapshot is the full serializable projection of a Group at a given
// version — the wire- and store-level representation (spec §3).
type Snapshot struct {
	SchemaVersion uint8               `json:"schemaVersion"`
	GroupID       string              `json:"groupId"`
	Queue         []QueueItem         `json:"queue"`
	Cursor        int                 `json:"cursor"`
	PositionMs    int64               `json:"positionMs"`
	Playing       bool                `json:"playing"`
	UpdatedAtMs   int64               `json:"updatedAtMs"`
	Members       []SnapshotMember    `json:"members"`
	ReadyGate     *SnapshotReadyGate  `json:"readyGate,omitempty"`
	Version       int64               `json:"version"`
}

// ToSnapshot projects the current group state into its wire form.
func (g *Group) ToSnapshot() Snapshot {
	members := make([]SnapshotMember, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, SnapshotMember{
			UserID:     m.UserID,
			Username:   m.Username,
			JoinedAtMs: m.JoinedAtMs,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

	snap := Snapshot{
		SchemaVersion: SchemaVersion,
		GroupID:       g.ID,
		Queue:         append([]QueueItem(nil), g.Queue...),
		Cursor:        g.Cursor,
		PositionMs:    g.PositionMs,
		Playing:       g.Playing,
		UpdatedAtMs:   g.UpdatedAtMs,
		Members:       members,
		Version:       g.Version,
	}
	if g.ReadyGate != nil {
		snap.ReadyGate = &SnapshotReadyGate{
			TargetCursor: g.ReadyGate.TargetCursor,
			Expected:     setToSlice(g.ReadyGate.Expected),
			Received:     setToSlice(g.ReadyGate.Received),
			DeadlineMs:   g.ReadyGate.DeadlineMs,
		}
	}
	return snap
}

// FromSnapshot rehydrates a Group from a wire Snapshot. Pod-local-only
// fields (member socketIds) start empty; the caller's presence layer is
// responsible for re-attaching any live sockets it still owns.
func FromSnapshot(snap Snapshot) *Group {
	g := &Group{
		ID:          snap.GroupID,
		Queue:       append([]QueueItem(nil), snap.Queue...),
		Cursor:      snap.Cursor,
		PositionMs:  snap.PositionMs,
		Playing:     snap.Playing,
		UpdatedAtMs: snap.UpdatedAtMs,
		Members:     make(map[string]*Member, len(snap.Members)),
		Version:     snap.Version,
	}
	for _, m := range snap.Members {
		g.Members[m.UserID] = &Member{
			UserID:     m.UserID,
			Username:   m.Username,
			SocketIDs:  make(map[string]bool),
			JoinedAtMs: m.JoinedAtMs,
		}
	}
	if snap.ReadyGate != nil {
		g.ReadyGate = &ReadyGate{
			TargetCursor: snap.ReadyGate.TargetCursor,
			Expected:     sliceToSet(snap.ReadyGate.Expected),
			Received:     sliceToSet(snap.ReadyGate.Received),
			DeadlineMs:   snap.ReadyGate.DeadlineMs,
		}
	}
	return g
}

// setToSlice projects a set to a slice in sorted order so the resulting
// snapshot JSON is canonical (spec §3 / §9 "explicit schema") rather than
// varying with Go's randomized map iteration order.
func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(s []string) map[string]bool {
	out := make(map[string]bool, len(s))
	for _, v := range s {
		out[v] = true
	}
	return out
}
