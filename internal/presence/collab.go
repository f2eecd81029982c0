package presence

import (
	"context"
	"errors"
)

// ErrAuthFailed is returned by Auth.Verify when the handshake token is
// missing, malformed, expired, or fails a token-version check against the
// user record. It refuses the connection entirely — no socket is opened.
var ErrAuthFailed = errors.New("presence: auth failed")

// Identity is what a successful handshake establishes for a connection.
type Identity struct {
	UserID       string
	Username     string
	TokenVersion int
}

// Auth verifies the bearer token presented at WebSocket handshake time and
// resolves it to an Identity. Token issuance itself is out of scope (spec
// Non-goals: "user identity issuance"); this is purely a verification seam.
type Auth interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Membership authorizes a member attempting to join a specific group,
// distinguishing a group the roster does not know at all (ErrUnknownGroup,
// replied as "group not found") from a known group that does not list the
// user (ErrNotAuthorized, replied as "not a member") so join-group can reply
// with the right error kind. A nil error means the join is authorized.
//
// This repo does not implement Membership's production body — group
// creation, invitation, and membership-roster management are external
// collaborators (spec §1) — only the interface and a thin Postgres-backed
// reference implementation (internal/membership) sufficient to run
// cmd/listen-together end to end.
type Membership interface {
	Authorize(ctx context.Context, groupID, userID string) error

	// Leave removes userID's DB membership row for groupID (spec §6:
	// "leaveGroup(userId, groupId) collaborator"). Called on explicit
	// leave-group and on disconnect-grace expiry, before the in-memory
	// manager's own Leave is applied.
	Leave(ctx context.Context, groupID, userID string) error
}

// ErrUnknownGroup and ErrNotAuthorized are the two outcomes a Membership
// implementation's Authorize should distinguish via errors.Is.
var (
	ErrUnknownGroup  = errors.New("presence: group unknown to membership roster")
	ErrNotAuthorized = errors.New("presence: user is not authorized to join this group")
)
