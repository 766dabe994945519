// Package memstore provides an in-memory implementation of the storage
// callback contract. It backs the engine tests and the example binary; the
// compare-and-swap discipline on entry rows is guaranteed by a single lock.
package memstore

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/types"
)

type Store struct {
	mu      sync.RWMutex
	entries map[types.Uid][]byte
	chains  map[types.Uid][]byte
	removed map[types.Location]bool
}

var _ interfaces.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		entries: make(map[types.Uid][]byte),
		chains:  make(map[types.Uid][]byte),
		removed: make(map[types.Location]bool),
	}
}

// RemoveLocations marks external records as deleted, so the next compaction
// garbage-collects the locations referencing them.
func (s *Store) RemoveLocations(locations ...types.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range locations {
		s.removed[loc] = true
	}
}

// EntryCount returns the number of Entry Table rows.
func (s *Store) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ChainCount returns the number of Chain Table rows.
func (s *Store) ChainCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains)
}

func (s *Store) FetchEntries(uids []types.Uid) (types.EncryptedTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(types.EncryptedTable)
	if uids == nil {
		for uid, row := range s.entries {
			out[uid] = append([]byte(nil), row...)
		}
		return out, nil
	}
	for _, uid := range uids {
		if row, ok := s.entries[uid]; ok {
			out[uid] = append([]byte(nil), row...)
		}
	}
	return out, nil
}

func (s *Store) FetchChains(uids []types.Uid) (types.EncryptedTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(types.EncryptedTable)
	for _, uid := range uids {
		if row, ok := s.chains[uid]; ok {
			out[uid] = append([]byte(nil), row...)
		}
	}
	return out, nil
}

func (s *Store) UpsertEntries(edits types.EntryEdits) (types.EncryptedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rejected := make(types.EncryptedTable)
	for uid, edit := range edits {
		current, exists := s.entries[uid]
		switch {
		case !exists && len(edit.Old) == 0:
			s.entries[uid] = append([]byte(nil), edit.New...)
		case exists && bytes.Equal(current, edit.Old):
			s.entries[uid] = append([]byte(nil), edit.New...)
		default:
			// Report the actual value; empty means the row is gone.
			rejected[uid] = append([]byte(nil), current...)
		}
	}
	return rejected, nil
}

func (s *Store) InsertEntries(rows types.EncryptedTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid := range rows {
		if _, exists := s.entries[uid]; exists {
			return fmt.Errorf("%w: entry %s", interfaces.ErrStorageConflict, uid)
		}
	}
	for uid, row := range rows {
		s.entries[uid] = append([]byte(nil), row...)
	}
	return nil
}

func (s *Store) InsertChains(rows types.EncryptedTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid := range rows {
		if _, exists := s.chains[uid]; exists {
			return fmt.Errorf("%w: chain %s", interfaces.ErrStorageConflict, uid)
		}
	}
	for uid, row := range rows {
		s.chains[uid] = append([]byte(nil), row...)
	}
	return nil
}

func (s *Store) ListRemovedLocations(candidates []types.Location) ([]types.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var gone []types.Location
	for _, loc := range candidates {
		if s.removed[loc] {
			gone = append(gone, loc)
		}
	}
	return gone, nil
}

func (s *Store) ReplaceTables(
	entryUidsToDelete, chainUidsToDelete []types.Uid,
	newEntries, newChains types.EncryptedTable,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range entryUidsToDelete {
		delete(s.entries, uid)
	}
	for _, uid := range chainUidsToDelete {
		delete(s.chains, uid)
	}
	for uid, row := range newEntries {
		s.entries[uid] = append([]byte(nil), row...)
	}
	for uid, row := range newChains {
		s.chains[uid] = append([]byte(nil), row...)
	}
	return nil
}

func (s *Store) AllEntryUids() ([]types.Uid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uids := make([]types.Uid, 0, len(s.entries))
	for uid := range s.entries {
		uids = append(uids, uid)
	}
	return uids, nil
}
