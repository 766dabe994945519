package findex

import (
	"fmt"

	"github.com/i5heu/findex/internal/crypto"
	"github.com/i5heu/findex/pkg/keys"
	"github.com/i5heu/findex/pkg/types"
)

// pendingChain tracks one keyword's write through the compare-and-swap loop.
// current holds the last entry ciphertext observed in the store, nil while
// the row is believed absent.
type pendingChain struct {
	keyword types.Keyword
	hash    [crypto.KeywordHashLength]byte
	uid     types.Uid
	values  []types.IndexedValue
	current []byte
}

// stagedWrite is one prepared round of a keyword's write: the conditional
// entry edit plus the chain rows to insert once the edit is accepted.
type stagedWrite struct {
	uid    types.Uid
	edit   types.EntryEdit
	chains types.EncryptedTable
}

// Upsert makes every given value findable under its associated keywords
// within the (master key, label) epoch. Values are appended to each
// keyword's chain; existing blocks are never overwritten.
//
// Concurrent upserts to the same keyword are resolved through the storage
// layer's single-row compare-and-swap: the losing writer recomputes its
// append offset against the winning value and retries, so neither writer's
// values are lost. Returns the set of keywords that were not indexed before
// this call.
func (f *Findex) Upsert(
	master *keys.MasterKey,
	label keys.Label,
	additions map[types.IndexedValue][]types.Keyword,
) (map[types.Keyword]struct{}, error) {
	if f.store == nil {
		return nil, ErrMissingCallbacks
	}

	tk := crypto.DeriveTableKeys(master, label)
	defer tk.Wipe()

	perKeyword := make(map[types.Keyword][]types.IndexedValue)
	for value, keywords := range additions {
		for _, w := range keywords {
			perKeyword[w] = append(perKeyword[w], value)
		}
	}

	pending := make(map[types.Uid]*pendingChain, len(perKeyword))
	uids := make([]types.Uid, 0, len(perKeyword))
	for w, values := range perKeyword {
		hash := crypto.HashKeyword(w)
		uid := tk.EntryUid(hash)
		pending[uid] = &pendingChain{keyword: w, hash: hash, uid: uid, values: values}
		uids = append(uids, uid)
	}

	entries, err := f.store.FetchEntries(uids)
	if err != nil {
		return nil, fmt.Errorf("findex: fetching entries: %w", err)
	}

	newKeywords := make(map[types.Keyword]struct{})
	for uid, p := range pending {
		if cipher, ok := entries[uid]; ok {
			p.current = cipher
		} else {
			newKeywords[p.keyword] = struct{}{}
		}
	}

	// Optimistic write loop: every round stages one conditional entry edit
	// per contended keyword, applies them in a single callback, and retries
	// the rejected ones against the value the storage reported back. The
	// loop drains because each round either commits a keyword or replaces
	// its observed value with the winner's.
	for round := 0; len(pending) > 0; round++ {
		room := f.pool.CreateRoom(len(pending))
		for _, p := range pending {
			p := p
			room.Submit(func() (interface{}, error) {
				return f.stageKeyword(&tk, p)
			})
		}
		results, err := room.Collect()
		if err != nil {
			return nil, err
		}

		edits := make(types.EntryEdits, len(results))
		staged := make(map[types.Uid]*stagedWrite, len(results))
		for _, r := range results {
			s := r.(*stagedWrite)
			edits[s.uid] = s.edit
			staged[s.uid] = s
		}

		rejected, err := f.store.UpsertEntries(edits)
		if err != nil {
			return nil, fmt.Errorf("findex: upserting entries: %w", err)
		}
		if len(rejected) > 0 {
			f.log.Debug("entry upsert contention", "round", round, "rejected", len(rejected))
		}

		inserts := make(types.EncryptedTable)
		for uid, s := range staged {
			p := pending[uid]
			if actual, contended := rejected[uid]; contended {
				if len(actual) == 0 {
					if p.current != nil {
						return nil, fmt.Errorf("%w: keyword %q", ErrDeletedConcurrently, p.keyword)
					}
					continue
				}
				p.current = actual
				continue
			}
			for cuid, row := range s.chains {
				inserts[cuid] = row
			}
			delete(pending, uid)
		}

		// Chain rows go in only after their entry edit was accepted, so a
		// search can never reach a block whose entry offset was not
		// advanced.
		if len(inserts) > 0 {
			if err := f.store.InsertChains(inserts); err != nil {
				return nil, fmt.Errorf("findex: inserting chain rows: %w", err)
			}
		}
	}

	return newKeywords, nil
}

// stageKeyword computes one round's write for a keyword: the new chain
// blocks appended after the currently committed block count, and the entry
// edit advancing that count.
func (f *Findex) stageKeyword(tk *crypto.TableKeys, p *pendingChain) (*stagedWrite, error) {
	var blockCount uint32
	if p.current != nil {
		plain, err := crypto.Open(tk.EntryValue, p.current)
		if err != nil {
			return nil, err
		}
		entry, err := parseEntryPayload(plain)
		if err != nil {
			return nil, err
		}
		if entry.keywordHash != p.hash {
			return nil, fmt.Errorf("%w: entry %s does not belong to keyword %q",
				ErrCorruptRow, p.uid, p.keyword)
		}
		blockCount = entry.blockCount
	}

	chainKey := tk.ChainValueKey(p.hash)
	chunks := chunkValues(p.values, ChainBlockCapacity)
	chains := make(types.EncryptedTable, len(chunks))
	for i, chunk := range chunks {
		sealed, err := crypto.Seal(chainKey, types.MarshalValues(chunk))
		if err != nil {
			return nil, err
		}
		chains[tk.ChainUid(p.hash, blockCount+uint32(i))] = sealed
	}

	payload := entryPayload{
		keywordHash: p.hash,
		blockCount:  blockCount + uint32(len(chunks)),
	}
	sealedEntry, err := crypto.Seal(tk.EntryValue, payload.marshal())
	if err != nil {
		return nil, err
	}

	return &stagedWrite{
		uid:    p.uid,
		edit:   types.EntryEdit{Old: p.current, New: sealedEntry},
		chains: chains,
	}, nil
}
