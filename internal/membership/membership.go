// Package membership is the reference implementation of the two
// Postgres-backed external collaborators spec §6 describes but leaves
// unimplemented by the core: the auth collaborator (verifyToken/findUser)
// and the membership collaborator (group authorization, leave). Identity
// issuance itself stays out of scope (spec Non-goals) — SignToken exists
// only so tests and local development have something for Verify to
// consume.
package membership

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/database"
	"github.com/snarg/listen-together/internal/presence"
)

// ErrBadToken is returned by Verify for any malformed, unsigned, or
// signature-mismatched token.
var ErrBadToken = errors.New("membership: bad token")

// Store implements presence.Auth and presence.Membership against the
// lt_users / lt_groups / lt_memberships tables (internal/database's
// migrations). One of JWTSecret/SessionSecret (spec §6 config table) keys
// the HMAC that authenticates handshake tokens.
type Store struct {
	db     *database.DB
	secret []byte
	log    zerolog.Logger
}

// New builds a Store. secret must be non-empty — callers pass whichever of
// JWT_SECRET / SESSION_SECRET config.Config.Validate found present.
func New(db *database.DB, secret string, log zerolog.Logger) *Store {
	return &Store{db: db, secret: []byte(secret), log: log}
}

// claims is the payload a handshake token carries, signed but not
// encrypted — tokens are bearer credentials over a TLS-terminated
// transport, not a confidentiality mechanism.
type claims struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	TokenVersion int    `json:"tokenVersion"`
}

// SignToken produces a handshake token for (userID, username,
// tokenVersion), HMAC-signed with secret. Exists for tests and local
// development only — production token issuance is an external collaborator
// (spec Non-goals: "user identity issuance").
func SignToken(secret, userID, username string, tokenVersion int) string {
	c := claims{UserID: userID, Username: username, TokenVersion: tokenVersion}
	body, _ := json.Marshal(c)
	encoded := base64.RawURLEncoding.EncodeToString(body)
	sig := sign([]byte(secret), encoded)
	return encoded + "." + sig
}

func sign(secret []byte, encoded string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify implements presence.Auth: it checks the HMAC signature, then
// cross-checks the embedded tokenVersion against the current value on the
// lt_users row, so a revoked/rotated credential stops working even though
// the signature itself is still valid (spec §6: "the tokenVersion must
// match").
func (s *Store) Verify(ctx context.Context, token string) (presence.Identity, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return presence.Identity{}, fmt.Errorf("%w: malformed", ErrBadToken)
	}
	want := sign(s.secret, encoded)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return presence.Identity{}, fmt.Errorf("%w: signature mismatch", ErrBadToken)
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return presence.Identity{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	var c claims
	if err := json.Unmarshal(body, &c); err != nil || c.UserID == "" {
		return presence.Identity{}, fmt.Errorf("%w: claims", ErrBadToken)
	}

	currentVersion, err := s.findUserTokenVersion(ctx, c.UserID)
	if err != nil {
		s.log.Warn().Str("userId", c.UserID).Err(err).Msg("handshake auth: user lookup failed")
		return presence.Identity{}, fmt.Errorf("%w: %v", presence.ErrAuthFailed, err)
	}
	if currentVersion != c.TokenVersion {
		s.log.Warn().Str("userId", c.UserID).Msg("handshake auth: token version stale")
		return presence.Identity{}, fmt.Errorf("%w: token version stale", presence.ErrAuthFailed)
	}

	return presence.Identity{UserID: c.UserID, Username: c.Username, TokenVersion: c.TokenVersion}, nil
}

func (s *Store) findUserTokenVersion(ctx context.Context, userID string) (int, error) {
	var v int
	err := s.db.Pool.QueryRow(ctx, `SELECT token_version FROM lt_users WHERE id = $1`, userID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("user %s not found", userID)
	}
	return v, err
}

// Authorize implements presence.Membership: it distinguishes a group that
// was never created (ErrUnknownGroup) from one that exists but doesn't
// list userID as a member (ErrNotAuthorized), per collab.go's contract.
func (s *Store) Authorize(ctx context.Context, groupID, userID string) error {
	var groupExists bool
	if err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lt_groups WHERE id = $1)`, groupID,
	).Scan(&groupExists); err != nil {
		return fmt.Errorf("membership: check group: %w", err)
	}
	if !groupExists {
		return presence.ErrUnknownGroup
	}

	var isMember bool
	if err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lt_memberships WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&isMember); err != nil {
		return fmt.Errorf("membership: check membership: %w", err)
	}
	if !isMember {
		return presence.ErrNotAuthorized
	}
	return nil
}

// Leave removes userID's membership row for groupID, implementing spec
// §6's leaveGroup(userId, groupId) collaborator — invoked by C7 on both
// explicit leave-group and disconnect-grace expiry.
func (s *Store) Leave(ctx context.Context, groupID, userID string) error {
	_, err := s.db.Pool.Exec(ctx,
		`DELETE FROM lt_memberships WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("membership: leave: %w", err)
	}
	return nil
}

// EnsureUser upserts the lt_users row for userID, used by dev/test seeding
// and by join flows that create a member the first time they're seen.
func (s *Store) EnsureUser(ctx context.Context, userID, username string, tokenVersion int) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO lt_users (id, username, token_version) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, token_version = EXCLUDED.token_version`,
		userID, username, tokenVersion)
	return err
}

// EnsureGroup upserts the lt_groups row for groupID, used by dev/test
// seeding — group creation itself is outside this core (spec §1).
func (s *Store) EnsureGroup(ctx context.Context, groupID string) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO lt_groups (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, groupID)
	return err
}

// Join upserts a membership row for (groupID, userID), used by dev/test
// seeding to authorize a user to join a group ahead of time.
func (s *Store) Join(ctx context.Context, groupID, userID string) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO lt_memberships (group_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID)
	return err
}
