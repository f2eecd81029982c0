// Package groupstore is the durable-enough per-group snapshot store (C2):
// an embedded badger KV database keyed by group id, storing the latest
// snapshot JSON with a TTL refreshed on every write. It's a cache of
// authoritative truth, not a system of record — losing it costs at most a
// resync from whichever pod's in-memory copy is newest.
package groupstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/group"
)

// ErrNotFound is returned by Get when no snapshot exists for a group id
// (including the case where the store is disabled).
var ErrNotFound = errors.New("groupstore: snapshot not found")

// Store persists group snapshots keyed by group id.
type Store struct {
	db      *badger.DB
	log     zerolog.Logger
	ttl     time.Duration
	enabled bool
}

// Open opens (creating if necessary) the badger database rooted at dir. If
// enabled is false, the returned Store degrades Get to always-ErrNotFound
// and Set/Delete to no-ops — useful for single-pod deployments that don't
// need cross-pod convergence.
func Open(dir string, ttl time.Duration, enabled bool, log zerolog.Logger) (*Store, error) {
	if !enabled {
		log.Info().Msg("group state store disabled, snapshots will not persist across restarts or pods")
		return &Store{log: log, ttl: ttl, enabled: false}, nil
	}

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogAdapter{log: log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("groupstore: open %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Dur("ttl", ttl).Msg("group state store opened")
	return &Store{db: db, log: log, ttl: ttl, enabled: true}, nil
}

// Close releases the underlying badger handles. Safe to call on a disabled
// store.
func (s *Store) Close() error {
	if !s.enabled {
		return nil
	}
	return s.db.Close()
}

// keyPrefix matches spec §6's Persisted State Layout:
// "listen-together:snapshot:<groupId>".
const keyPrefix = "listen-together:snapshot:"

func groupKey(groupID string) []byte {
	return []byte(keyPrefix + groupID)
}

// Set writes snap under groupID with the store's configured TTL, refreshing
// the expiry on every call. A no-op when the store is disabled.
func (s *Store) Set(_ context.Context, groupID string, snap group.Snapshot) error {
	if !s.enabled {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("groupstore: marshal snapshot for %s: %w", groupID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(groupKey(groupID), payload).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
}

// Get reads the latest persisted snapshot for groupID, returning ErrNotFound
// if none exists or the store is disabled.
func (s *Store) Get(_ context.Context, groupID string) (group.Snapshot, error) {
	if !s.enabled {
		return group.Snapshot{}, ErrNotFound
	}
	var snap group.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(groupID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return group.Snapshot{}, err
	}
	return snap, nil
}

// Delete removes a group's persisted snapshot, e.g. once its membership has
// emptied and the in-memory manager has torn it down. A no-op when disabled.
func (s *Store) Delete(_ context.Context, groupID string) error {
	if !s.enabled {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(groupKey(groupID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// RunGC periodically reclaims badger value-log space, once per interval on
// its own ticker, until ctx is canceled. Callers run it in a goroutine for
// the lifetime of the store; it returns at once when disabled.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if !s.enabled {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// badgerLogAdapter routes badger's internal logging through zerolog at
// debug/info level so it doesn't bypass the rest of the service's log
// pipeline.
type badgerLogAdapter struct {
	log zerolog.Logger
}

func (a badgerLogAdapter) Errorf(f string, v ...interface{})   { a.log.Error().Msgf(f, v...) }
func (a badgerLogAdapter) Warningf(f string, v ...interface{}) { a.log.Warn().Msgf(f, v...) }
func (a badgerLogAdapter) Infof(f string, v ...interface{})    { a.log.Debug().Msgf(f, v...) }
func (a badgerLogAdapter) Debugf(f string, v ...interface{})   { a.log.Debug().Msgf(f, v...) }
