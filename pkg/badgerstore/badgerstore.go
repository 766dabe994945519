// Package badgerstore implements the storage callback contract on top of an
// embedded badger key-value store. Entry and Chain Table rows live under
// distinct key prefixes; the compare-and-swap discipline required by the
// engine's upsert protocol is provided by badger's serializable
// transactions.
package badgerstore

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/types"
)

var entryPrefix = []byte("e:")
var chainPrefix = []byte("c:")

type Store struct {
	config       StoreConfig
	badgerDB     *badger.DB
	log          *logrus.Logger
	readCounter  uint64
	writeCounter uint64
}

func NewStore(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for Store: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{
		config:   config,
		badgerDB: db,
		log:      config.Logger,
	}, nil
}

func entryKey(uid types.Uid) []byte {
	return append(append([]byte(nil), entryPrefix...), uid[:]...)
}

func chainKey(uid types.Uid) []byte {
	return append(append([]byte(nil), chainPrefix...), uid[:]...)
}

func (s *Store) FetchEntries(uids []types.Uid) (types.EncryptedTable, error) {
	if uids == nil {
		return s.fetchAllWithPrefix(entryPrefix)
	}
	return s.fetchSome(entryPrefix, uids)
}

func (s *Store) FetchChains(uids []types.Uid) (types.EncryptedTable, error) {
	return s.fetchSome(chainPrefix, uids)
}

func (s *Store) fetchSome(prefix []byte, uids []types.Uid) (types.EncryptedTable, error) {
	out := make(types.EncryptedTable, len(uids))
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		for _, uid := range uids {
			atomic.AddUint64(&s.readCounter, 1)
			item, err := txn.Get(append(append([]byte(nil), prefix...), uid[:]...))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[uid] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) fetchAllWithPrefix(prefix []byte) (types.EncryptedTable, error) {
	out := make(types.EncryptedTable)
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			atomic.AddUint64(&s.readCounter, 1)
			item := it.Item()
			uid, err := types.UidFromBytes(item.KeyCopy(nil)[len(prefix):])
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[uid] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertEntries applies every edit conditionally inside one transaction, so
// each single-row compare-and-swap is atomic with respect to concurrent
// writers.
//
// Badger's own conflict detection can abort the transaction when another
// writer commits one of the read keys first. That is ordinary entry-row
// contention, so the transaction is re-run until it commits; the re-read then
// turns the conflict into an accept or a compare-and-swap rejection, which is
// how the engine expects contention to be reported.
func (s *Store) UpsertEntries(edits types.EntryEdits) (types.EncryptedTable, error) {
	for {
		rejected, err := s.tryUpsertEntries(edits)
		if err == badger.ErrConflict {
			continue
		}
		if err != nil {
			return nil, err
		}
		return rejected, nil
	}
}

func (s *Store) tryUpsertEntries(edits types.EntryEdits) (types.EncryptedTable, error) {
	rejected := make(types.EncryptedTable)
	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		for uid, edit := range edits {
			atomic.AddUint64(&s.writeCounter, 1)
			key := entryKey(uid)
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				if len(edit.Old) == 0 {
					if err := txn.Set(key, edit.New); err != nil {
						return err
					}
				} else {
					rejected[uid] = nil
				}
				continue
			}
			if err != nil {
				return err
			}
			current, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(current) == string(edit.Old) {
				if err := txn.Set(key, edit.New); err != nil {
					return err
				}
			} else {
				rejected[uid] = current
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *Store) InsertEntries(rows types.EncryptedTable) error {
	return s.insertNew(entryPrefix, rows)
}

func (s *Store) InsertChains(rows types.EncryptedTable) error {
	return s.insertNew(chainPrefix, rows)
}

func (s *Store) insertNew(prefix []byte, rows types.EncryptedTable) error {
	return s.badgerDB.Update(func(txn *badger.Txn) error {
		for uid, row := range rows {
			atomic.AddUint64(&s.writeCounter, 1)
			key := append(append([]byte(nil), prefix...), uid[:]...)
			_, err := txn.Get(key)
			if err == nil {
				return fmt.Errorf("%w: %s", interfaces.ErrStorageConflict, uid)
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(key, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListRemovedLocations(candidates []types.Location) ([]types.Location, error) {
	if s.config.RemovedOracle == nil {
		return nil, fmt.Errorf("%w", ErrMissingOracle)
	}
	return s.config.RemovedOracle(candidates)
}

// ReplaceTables applies one compaction batch in a single transaction:
// deletes first, then inserts. Readers either see the batch's old rows or
// its new ones, never a mix.
func (s *Store) ReplaceTables(
	entryUidsToDelete, chainUidsToDelete []types.Uid,
	newEntries, newChains types.EncryptedTable,
) error {
	return s.badgerDB.Update(func(txn *badger.Txn) error {
		for _, uid := range entryUidsToDelete {
			if err := txn.Delete(entryKey(uid)); err != nil {
				return err
			}
		}
		for _, uid := range chainUidsToDelete {
			if err := txn.Delete(chainKey(uid)); err != nil {
				return err
			}
		}
		for uid, row := range newEntries {
			atomic.AddUint64(&s.writeCounter, 1)
			if err := txn.Set(entryKey(uid), row); err != nil {
				return err
			}
		}
		for uid, row := range newChains {
			atomic.AddUint64(&s.writeCounter, 1)
			if err := txn.Set(chainKey(uid), row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AllEntryUids() ([]types.Uid, error) {
	var uids []types.Uid
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			atomic.AddUint64(&s.readCounter, 1)
			uid, err := types.UidFromBytes(it.Item().KeyCopy(nil)[len(entryPrefix):])
			if err != nil {
				return err
			}
			uids = append(uids, uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

func (s *Store) Close() error {
	if err := s.Clean(); err != nil {
		s.log.Warnf("error cleaning store on close: %v", err)
	}
	return s.badgerDB.Close()
}

// Clean syncs the value log and runs badger's value log GC.
func (s *Store) Clean() error {
	if err := s.badgerDB.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	err := s.badgerDB.RunValueLogGC(0.1)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}
