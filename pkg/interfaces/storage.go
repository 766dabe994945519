// Package interfaces declares the contracts between the index engine and its
// external collaborators: the storage backend holding the Entry and Chain
// Tables, the existence oracle over the plaintext record store, and the
// caller-supplied search progress hook.
package interfaces

import (
	"errors"

	"github.com/i5heu/findex/pkg/types"
)

// ErrStorageConflict is returned by InsertEntries and InsertChains when one
// of the given UIDs is already occupied. A conflicting chain insert means
// the index is corrupted, so the engine surfaces it unmodified.
var ErrStorageConflict = errors.New("storage: uid already exists")

// Storage is the callback set the engine talks through. Implementations own
// the execution model (in-memory map, embedded KV store, network service);
// the engine only requires that UpsertEntries applies each single-row
// compare-and-swap atomically.
type Storage interface {
	// FetchEntries returns the existing Entry Table rows among the requested
	// UIDs. A nil uids slice requests the whole table.
	FetchEntries(uids []types.Uid) (types.EncryptedTable, error)

	// FetchChains returns the existing Chain Table rows among the requested
	// UIDs. Missing UIDs are simply absent from the result.
	FetchChains(uids []types.Uid) (types.EncryptedTable, error)

	// UpsertEntries attempts every edit with compare-and-swap semantics: the
	// new value is written iff the stored value still equals the old one, or
	// the row does not exist and the old value is empty. Rejected UIDs are
	// returned mapped to their actual current value (empty if the row is
	// gone).
	UpsertEntries(edits types.EntryEdits) (types.EncryptedTable, error)

	// InsertEntries adds new Entry Table rows. Fails with
	// ErrStorageConflict if any UID already exists.
	InsertEntries(rows types.EncryptedTable) error

	// InsertChains adds new Chain Table rows. Fails with ErrStorageConflict
	// if any UID already exists.
	InsertChains(rows types.EncryptedTable) error

	// ListRemovedLocations returns the subset of candidates whose external
	// records no longer exist. It queries the plaintext store, never the
	// index tables.
	ListRemovedLocations(candidates []types.Location) ([]types.Location, error)

	// ReplaceTables atomically applies one compaction batch: it deletes the
	// superseded entry and chain rows and inserts their replacements.
	// Searches must never observe a half-migrated keyword.
	ReplaceTables(entryUidsToDelete, chainUidsToDelete []types.Uid,
		newEntries, newChains types.EncryptedTable) error

	// AllEntryUids enumerates the full Entry Table. Used only by compaction.
	AllEntryUids() ([]types.Uid, error)
}

// Progress is the caller hook invoked by search after every resolved
// keyword. It receives the full accumulated work map; returning false halts
// the traversal immediately. It is the only cancellation primitive: callers
// wanting a deadline implement it here.
//
// The map is shared with the engine and must not be mutated.
type Progress func(resolved map[types.Keyword][]types.IndexedValue) bool
