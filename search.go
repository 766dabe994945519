package findex

import (
	"fmt"
	"sort"

	"github.com/i5heu/findex/internal/crypto"
	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/keys"
	"github.com/i5heu/findex/pkg/types"
)

// Search resolves the given keywords to the locations reachable through the
// keyword graph under the (master key, label) epoch.
//
// The traversal is breadth-first over a shared work map. After every
// resolved keyword the progress hook is consulted; returning false halts
// the traversal immediately, leaving already resolved keywords available
// for the collapse step and treating unresolved ones as dead ends. A nil
// progress hook never stops.
//
// Keywords without an entry row resolve to nothing and are omitted from the
// result; this is not an error. Location lists are in chain-append order,
// deduplicated across graph paths.
func (f *Findex) Search(
	master *keys.MasterKey,
	label keys.Label,
	keywords []types.Keyword,
	progress interfaces.Progress,
) (map[types.Keyword][]types.Location, error) {
	if f.store == nil {
		return nil, ErrMissingCallbacks
	}

	tk := crypto.DeriveTableKeys(master, label)
	defer tk.Wipe()

	requested := dedupKeywords(keywords)
	resolved := make(map[types.Keyword][]types.IndexedValue)

	frontier := append([]types.Keyword(nil), requested...)
	stopped := false

	for len(frontier) > 0 && !stopped {
		// Deterministic resolution order within a level, so the progress
		// hook sees a reproducible sequence of work maps.
		sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })

		uidByKeyword := make(map[types.Keyword]types.Uid, len(frontier))
		hashByKeyword := make(map[types.Keyword][crypto.KeywordHashLength]byte, len(frontier))
		uids := make([]types.Uid, 0, len(frontier))
		for _, w := range frontier {
			hash := crypto.HashKeyword(w)
			uid := tk.EntryUid(hash)
			uidByKeyword[w] = uid
			hashByKeyword[w] = hash
			uids = append(uids, uid)
		}

		entries, err := f.store.FetchEntries(uids)
		if err != nil {
			return nil, fmt.Errorf("findex: fetching entries: %w", err)
		}

		var next []types.Keyword
		queued := make(map[types.Keyword]bool)

		for _, w := range frontier {
			cipher, ok := entries[uidByKeyword[w]]
			if !ok {
				// Unmatched keyword: no result, not an error.
				continue
			}
			values, err := f.resolveChain(&tk, hashByKeyword[w], cipher)
			if err != nil {
				return nil, fmt.Errorf("findex: resolving keyword %q: %w", w, err)
			}
			resolved[w] = values

			if progress != nil && !progress(resolved) {
				stopped = true
				break
			}

			for _, v := range values {
				kw, isKeyword := v.Keyword()
				if !isKeyword || queued[kw] {
					continue
				}
				if _, done := resolved[kw]; done {
					continue
				}
				queued[kw] = true
				next = append(next, kw)
			}
		}

		frontier = next
	}

	results := make(map[types.Keyword][]types.Location, len(requested))
	for _, k := range requested {
		if _, ok := resolved[k]; !ok {
			// Never resolved, e.g. the traversal was cut short.
			continue
		}
		results[k] = collectLocations(k, resolved)
	}
	return results, nil
}

// resolveChain decrypts an entry row and fetches and decrypts the full chain
// it references, returning the indexed values in append order. A chain row
// missing from the store while the entry references it means the index is
// inconsistent.
func (f *Findex) resolveChain(
	tk *crypto.TableKeys,
	hash [crypto.KeywordHashLength]byte,
	entryCipher []byte,
) ([]types.IndexedValue, error) {
	plain, err := crypto.Open(tk.EntryValue, entryCipher)
	if err != nil {
		return nil, err
	}
	entry, err := parseEntryPayload(plain)
	if err != nil {
		return nil, err
	}
	if entry.keywordHash != hash {
		return nil, fmt.Errorf("%w: entry keyword hash mismatch", ErrCorruptRow)
	}
	if entry.blockCount == 0 {
		return nil, nil
	}

	uids := make([]types.Uid, entry.blockCount)
	for i := range uids {
		uids[i] = tk.ChainUid(hash, uint32(i))
	}
	rows, err := f.store.FetchChains(uids)
	if err != nil {
		return nil, fmt.Errorf("findex: fetching chains: %w", err)
	}

	chainKey := tk.ChainValueKey(hash)
	var values []types.IndexedValue
	for i, uid := range uids {
		row, ok := rows[uid]
		if !ok {
			return nil, fmt.Errorf("%w: chain block %d missing", ErrCorruptRow, i)
		}
		blockPlain, err := crypto.Open(chainKey, row)
		if err != nil {
			return nil, err
		}
		blockValues, err := types.UnmarshalValues(blockPlain)
		if err != nil {
			return nil, err
		}
		values = append(values, blockValues...)
	}
	return values, nil
}

// collectLocations walks the resolved part of the keyword graph from start,
// following keyword edges only through resolved nodes, and returns the
// reachable locations in first-seen chain order. Cycle-safe through the
// visited set.
func collectLocations(
	start types.Keyword,
	resolved map[types.Keyword][]types.IndexedValue,
) []types.Location {
	visited := make(map[types.Keyword]bool)
	seen := make(map[types.Location]bool)
	locations := []types.Location{}

	var walk func(w types.Keyword)
	walk = func(w types.Keyword) {
		if visited[w] {
			return
		}
		visited[w] = true
		values, ok := resolved[w]
		if !ok {
			// Unresolved node: dead end, contributes nothing.
			return
		}
		for _, v := range values {
			if loc, isLocation := v.Location(); isLocation {
				if !seen[loc] {
					seen[loc] = true
					locations = append(locations, loc)
				}
				continue
			}
			if kw, isKeyword := v.Keyword(); isKeyword {
				walk(kw)
			}
		}
	}
	walk(start)
	return locations
}

func dedupKeywords(keywords []types.Keyword) []types.Keyword {
	seen := make(map[types.Keyword]bool, len(keywords))
	out := make([]types.Keyword, 0, len(keywords))
	for _, w := range keywords {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
