package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/snarg/listen-together/internal/group"
)

func TestStaticCatalogValidateTracks(t *testing.T) {
	c := NewStaticCatalog([]group.QueueItem{
		{TrackID: "t1", Title: "One"},
		{TrackID: "t2", Title: "Two"},
	})

	items, err := c.ValidateTracks(context.Background(), []string{"t2", "t1"})
	if err != nil {
		t.Fatalf("ValidateTracks: %v", err)
	}
	if len(items) != 2 || items[0].Title != "Two" || items[1].Title != "One" {
		t.Fatalf("unexpected order/content: %+v", items)
	}
}

func TestStaticCatalogEmptyInput(t *testing.T) {
	c := NewStaticCatalog(nil)
	if _, err := c.ValidateTracks(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestStaticCatalogUnknownTrackDropped(t *testing.T) {
	c := NewStaticCatalog([]group.QueueItem{{TrackID: "t1"}, {TrackID: "t2"}})
	items, err := c.ValidateTracks(context.Background(), []string{"t1", "missing", "t2"})
	if err != nil {
		t.Fatalf("ValidateTracks: %v", err)
	}
	if len(items) != 2 || items[0].TrackID != "t1" || items[1].TrackID != "t2" {
		t.Fatalf("want unresolvable id dropped and order preserved, got %+v", items)
	}
}

func TestStaticCatalogAllUnknownYieldsEmptyNotError(t *testing.T) {
	c := NewStaticCatalog([]group.QueueItem{{TrackID: "t1"}})
	items, err := c.ValidateTracks(context.Background(), []string{"missing1", "missing2"})
	if err != nil {
		t.Fatalf("ValidateTracks: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("want empty result, got %+v", items)
	}
}
