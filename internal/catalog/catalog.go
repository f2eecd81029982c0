// Package catalog resolves external track identifiers into the immutable
// queue-item descriptors the group state machine operates on. Looking up
// metadata and deciding which music exists is explicitly out of scope here
// (see spec Non-goals); this package only defines the seam and a couple of
// in-process implementations useful for composing and testing callers.
package catalog

import (
	"context"
	"errors"

	"github.com/snarg/listen-together/internal/group"
)

// ErrInvalidInput is returned when ValidateTracks is called with no track
// ids to resolve.
var ErrInvalidInput = errors.New("catalog: no track ids given")

// Catalog resolves track ids to queue items. Implementations own whatever
// upstream music-library lookup (database, search index, external API) is
// needed; this package never talks to one directly.
type Catalog interface {
	ValidateTracks(ctx context.Context, trackIDs []string) ([]group.QueueItem, error)
}

// StaticCatalog is a Catalog backed by an in-memory map, most useful as a
// test double and for small deployments that seed their catalog once at
// startup from a config file.
type StaticCatalog struct {
	tracks map[string]group.QueueItem
}

// NewStaticCatalog builds a StaticCatalog from the given items, keyed by
// TrackID. Later items win on duplicate ids.
func NewStaticCatalog(items []group.QueueItem) *StaticCatalog {
	tracks := make(map[string]group.QueueItem, len(items))
	for _, item := range items {
		tracks[item.TrackID] = item
	}
	return &StaticCatalog{tracks: tracks}
}

// ValidateTracks resolves each id in order, preserving order and silently
// dropping any id this catalog doesn't recognize (spec §4.1: "unresolvable
// ids dropped"). ErrInvalidInput is returned only when trackIDs itself is
// empty — never for individual misses.
func (c *StaticCatalog) ValidateTracks(_ context.Context, trackIDs []string) ([]group.QueueItem, error) {
	if len(trackIDs) == 0 {
		return nil, ErrInvalidInput
	}
	items := make([]group.QueueItem, 0, len(trackIDs))
	for _, id := range trackIDs {
		if item, ok := c.tracks[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}
