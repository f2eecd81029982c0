package group

// EventKind tags the variant carried by an Event, matching the fixed set of
// C5 callbacks from spec §4.5.
type EventKind string

const (
	EventPlaybackDelta EventKind = "playback_delta"
	EventQueueDelta     EventKind = "queue_delta"
	EventWaiting        EventKind = "waiting"
	EventPlayAt         EventKind = "play_at"
	EventMemberJoined   EventKind = "member_joined"
	EventMemberLeft     EventKind = "member_left"
	EventGroupEnded     EventKind = "group_ended"
)

// PlaybackDelta is emitted on play/pause/seek/next/previous/setTrack.
type PlaybackDelta struct {
	Playing     bool  `json:"playing"`
	PositionMs  int64 `json:"positionMs"`
	Cursor      int   `json:"cursor"`
	UpdatedAtMs int64 `json:"updatedAtMs"`
	Version     int64 `json:"version"`
}

// QueueOp names the queue mutation that produced a QueueDelta.
type QueueOp string

const (
	QueueOpAdd        QueueOp = "add"
	QueueOpInsertNext QueueOp = "insertNext"
	QueueOpRemove     QueueOp = "remove"
	QueueOpReorder    QueueOp = "reorder"
	QueueOpClear      QueueOp = "clear"
)

// QueueDelta is emitted on any queue.* mutation.
type QueueDelta struct {
	Op      QueueOp `json:"op"`
	Payload any     `json:"payload"`
	Version int64   `json:"version"`
}

// MemberEventKind distinguishes join vs. leave within MemberEvent.
type MemberEventKind string

const (
	MemberJoined MemberEventKind = "joined"
	MemberLeft   MemberEventKind = "left"
)

// MemberEvent is emitted when membership changes.
type MemberEvent struct {
	Kind     MemberEventKind `json:"kind"`
	UserID   string          `json:"userId"`
	Username string          `json:"username,omitempty"`
}

// Waiting is emitted when a ready gate opens.
type Waiting struct {
	ExpectedUserIDs []string `json:"expectedUserIds"`
	DeadlineMs      int64    `json:"deadlineMs"`
}

// PlayAt is emitted when a ready gate closes (satisfied or timed out).
type PlayAt struct {
	WallClockMs int64 `json:"wallClockMs"`
	Cursor      int   `json:"cursor"`
	PositionMs  int64 `json:"positionMs"`
}

// EndedReason names why a group was torn down.
type EndedReason string

// EndedEmpty is the only reason this core emits today: the group's member
// set became empty.
const EndedEmpty EndedReason = "empty"

// Ended is emitted when a group is torn down.
type Ended struct {
	Reason EndedReason `json:"reason"`
}

// Event is the single envelope type carried on the bounded GroupEvent
// channel described in spec §9 ("Callback-driven emits → bounded
// channels"). Exactly one payload field is non-nil per Kind.
type Event struct {
	GroupID string
	Kind    EventKind

	Playback *PlaybackDelta
	Queue    *QueueDelta
	Member   *MemberEvent
	Waiting  *Waiting
	PlayAt   *PlayAt
	Ended    *Ended
}
