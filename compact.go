package findex

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/i5heu/findex/internal/crypto"
	"github.com/i5heu/findex/pkg/keys"
	"github.com/i5heu/findex/pkg/types"
)

// resolvedEntry is one entry of a compaction batch with its chain fully
// decrypted under the old epoch keys.
type resolvedEntry struct {
	uid         types.Uid
	keywordHash [crypto.KeywordHashLength]byte
	chainUids   []types.Uid
	values      []types.IndexedValue
}

// rebuiltEntry is the re-encrypted replacement of one entry under the new
// epoch keys. nil rows mean the entry was dropped entirely.
type rebuiltEntry struct {
	entryUid types.Uid
	entryRow []byte
	chains   types.EncryptedTable
}

// Compact migrates every surviving keyword/location pair to UIDs and keys
// derived from (newMaster, newLabel), drops locations whose external records
// are gone, and coalesces each chain into as few blocks as practical. After
// it returns, searches under the old epoch find nothing: the superseded rows
// are physically removed batch by batch through the storage layer's atomic
// replace callback.
//
// Compaction may run concurrently with upserts to other keywords; a keyword
// compacted and upserted in the same instant races at the row level with
// last-write-wins semantics.
func (f *Findex) Compact(
	oldMaster, newMaster *keys.MasterKey,
	oldLabel, newLabel keys.Label,
	batchSize int,
) error {
	if f.store == nil {
		return ErrMissingCallbacks
	}
	if batchSize < 1 {
		return fmt.Errorf("findex: compaction batch size must be positive, got %d", batchSize)
	}

	oldTk := crypto.DeriveTableKeys(oldMaster, oldLabel)
	defer oldTk.Wipe()
	newTk := crypto.DeriveTableKeys(newMaster, newLabel)
	defer newTk.Wipe()

	uids, err := f.store.AllEntryUids()
	if err != nil {
		return fmt.Errorf("findex: enumerating entry uids: %w", err)
	}
	// Deterministic batching regardless of the store's enumeration order.
	sort.Slice(uids, func(i, j int) bool {
		return bytes.Compare(uids[i][:], uids[j][:]) < 0
	})

	for start := 0; start < len(uids); start += batchSize {
		end := start + batchSize
		if end > len(uids) {
			end = len(uids)
		}
		if err := f.compactBatch(&oldTk, &newTk, uids[start:end]); err != nil {
			return err
		}
		f.log.Debug("compacted batch", "from", start, "to", end, "total", len(uids))
	}
	return nil
}

func (f *Findex) compactBatch(oldTk, newTk *crypto.TableKeys, batch []types.Uid) error {
	entries, err := f.store.FetchEntries(batch)
	if err != nil {
		return fmt.Errorf("findex: fetching entry batch: %w", err)
	}

	// Decrypt the batch's entries and derive their full chains.
	resolvedEntries := make([]*resolvedEntry, 0, len(batch))
	var allChainUids []types.Uid
	for _, uid := range batch {
		cipher, ok := entries[uid]
		if !ok {
			// Enumerated but gone by now; nothing to migrate.
			continue
		}
		plain, err := crypto.Open(oldTk.EntryValue, cipher)
		if err != nil {
			return err
		}
		entry, err := parseEntryPayload(plain)
		if err != nil {
			return err
		}
		re := &resolvedEntry{uid: uid, keywordHash: entry.keywordHash}
		re.chainUids = make([]types.Uid, entry.blockCount)
		for i := range re.chainUids {
			re.chainUids[i] = oldTk.ChainUid(entry.keywordHash, uint32(i))
		}
		allChainUids = append(allChainUids, re.chainUids...)
		resolvedEntries = append(resolvedEntries, re)
	}

	rows, err := f.store.FetchChains(allChainUids)
	if err != nil {
		return fmt.Errorf("findex: fetching chain batch: %w", err)
	}

	// Decrypt every chain of the batch concurrently.
	room := f.pool.CreateRoom(len(resolvedEntries))
	for _, re := range resolvedEntries {
		re := re
		room.Submit(func() (interface{}, error) {
			chainKey := oldTk.ChainValueKey(re.keywordHash)
			for i, cuid := range re.chainUids {
				row, ok := rows[cuid]
				if !ok {
					return nil, fmt.Errorf("%w: chain block %d of entry %s missing",
						ErrCorruptRow, i, re.uid)
				}
				plain, err := crypto.Open(chainKey, row)
				if err != nil {
					return nil, err
				}
				values, err := types.UnmarshalValues(plain)
				if err != nil {
					return nil, err
				}
				re.values = append(re.values, values...)
			}
			return re, nil
		})
	}
	if _, err := room.Collect(); err != nil {
		return err
	}

	// One oracle query per batch, over every location in it.
	var candidates []types.Location
	seenCandidate := make(map[types.Location]bool)
	for _, re := range resolvedEntries {
		for _, v := range re.values {
			if loc, ok := v.Location(); ok && !seenCandidate[loc] {
				seenCandidate[loc] = true
				candidates = append(candidates, loc)
			}
		}
	}
	removedList, err := f.store.ListRemovedLocations(candidates)
	if err != nil {
		return fmt.Errorf("findex: listing removed locations: %w", err)
	}
	removed := make(map[types.Location]bool, len(removedList))
	for _, loc := range removedList {
		removed[loc] = true
	}

	// Rebuild the surviving chains under the new epoch keys.
	rebuildRoom := f.pool.CreateRoom(len(resolvedEntries))
	for _, re := range resolvedEntries {
		re := re
		rebuildRoom.Submit(func() (interface{}, error) {
			return rebuildEntry(newTk, re, removed)
		})
	}
	rebuilt, err := rebuildRoom.Collect()
	if err != nil {
		return err
	}

	entryDeletes := make([]types.Uid, 0, len(resolvedEntries))
	chainDeletes := make([]types.Uid, 0, len(allChainUids))
	for _, re := range resolvedEntries {
		entryDeletes = append(entryDeletes, re.uid)
		chainDeletes = append(chainDeletes, re.chainUids...)
	}

	newEntries := make(types.EncryptedTable)
	newChains := make(types.EncryptedTable)
	for _, r := range rebuilt {
		rb := r.(*rebuiltEntry)
		if rb.entryRow == nil {
			continue
		}
		newEntries[rb.entryUid] = rb.entryRow
		for cuid, row := range rb.chains {
			newChains[cuid] = row
		}
	}

	if err := f.store.ReplaceTables(entryDeletes, chainDeletes, newEntries, newChains); err != nil {
		return fmt.Errorf("findex: replacing tables: %w", err)
	}
	return nil
}

// rebuildEntry filters out removed locations, dedupes the chain, and
// re-encrypts it as coalesced blocks under the new epoch. Entries whose
// chains empty out are dropped.
func rebuildEntry(
	newTk *crypto.TableKeys,
	re *resolvedEntry,
	removed map[types.Location]bool,
) (*rebuiltEntry, error) {
	surviving := make([]types.IndexedValue, 0, len(re.values))
	seen := make(map[types.IndexedValue]bool, len(re.values))
	for _, v := range re.values {
		if loc, ok := v.Location(); ok && removed[loc] {
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		surviving = append(surviving, v)
	}
	if len(surviving) == 0 {
		return &rebuiltEntry{}, nil
	}

	chainKey := newTk.ChainValueKey(re.keywordHash)
	chunks := chunkValues(surviving, ChainBlockCapacity)
	chains := make(types.EncryptedTable, len(chunks))
	for i, chunk := range chunks {
		sealed, err := crypto.Seal(chainKey, types.MarshalValues(chunk))
		if err != nil {
			return nil, err
		}
		chains[newTk.ChainUid(re.keywordHash, uint32(i))] = sealed
	}

	payload := entryPayload{keywordHash: re.keywordHash, blockCount: uint32(len(chunks))}
	entryRow, err := crypto.Seal(newTk.EntryValue, payload.marshal())
	if err != nil {
		return nil, err
	}

	return &rebuiltEntry{
		entryUid: newTk.EntryUid(re.keywordHash),
		entryRow: entryRow,
		chains:   chains,
	}, nil
}
