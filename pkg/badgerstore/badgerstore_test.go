package badgerstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{
		Path:             t.TempDir(),
		MinimumFreeSpace: 0,
		RemovedOracle: func(candidates []types.Location) ([]types.Location, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func uid(b byte) types.Uid {
	var u types.Uid
	u[0] = b
	return u
}

func TestNewStore_RequiresPath(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	assert.Error(t, err)

	_, err = NewStore(StoreConfig{Path: "/does/not/exist"})
	assert.Error(t, err)
}

func TestUpsertEntries_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)

	rejected, err := s.UpsertEntries(types.EntryEdits{
		uid(1): {Old: nil, New: []byte("v1")},
	})
	assert.NoError(t, err)
	assert.Empty(t, rejected)

	rejected, err = s.UpsertEntries(types.EntryEdits{
		uid(1): {Old: []byte("v1"), New: []byte("v2")},
	})
	assert.NoError(t, err)
	assert.Empty(t, rejected)

	// Stale old value is rejected and the live row is returned.
	rejected, err = s.UpsertEntries(types.EntryEdits{
		uid(1): {Old: []byte("v1"), New: []byte("v3")},
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), rejected[uid(1)])

	// Creating over an existing row is rejected the same way.
	rejected, err = s.UpsertEntries(types.EntryEdits{
		uid(1): {Old: nil, New: []byte("v3")},
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), rejected[uid(1)])

	got, err := s.FetchEntries([]types.Uid{uid(1)})
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), got[uid(1)])
}

func TestUpsertEntries_VanishedRowRejectedWithNil(t *testing.T) {
	s := newTestStore(t)

	rejected, err := s.UpsertEntries(types.EntryEdits{
		uid(1): {Old: []byte("was-here"), New: []byte("v1")},
	})
	assert.NoError(t, err)
	assert.Contains(t, rejected, uid(1))
	assert.Empty(t, rejected[uid(1)])
}

// Contending writers on one entry row must only ever see accepts or
// compare-and-swap rejections, never a transaction-conflict error.
func TestUpsertEntries_ConcurrentWritersSameRow(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				current, err := s.FetchEntries([]types.Uid{uid(1)})
				if err != nil {
					errs <- err
					return
				}
				old := current[uid(1)]
				next := make([]byte, len(old)+1)
				copy(next, old)
				next[len(old)] = byte(i)

				rejected, err := s.UpsertEntries(types.EntryEdits{
					uid(1): {Old: old, New: next},
				})
				if err != nil {
					errs <- err
					return
				}
				if len(rejected) == 0 {
					errs <- nil
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	got, err := s.FetchEntries([]types.Uid{uid(1)})
	assert.NoError(t, err)
	assert.Len(t, got[uid(1)], writers, "every writer must get its append in")
}

func TestInsert_Conflict(t *testing.T) {
	s := newTestStore(t)

	assert.NoError(t, s.InsertChains(types.EncryptedTable{uid(1): []byte("c1")}))
	err := s.InsertChains(types.EncryptedTable{uid(1): []byte("c2")})
	assert.ErrorIs(t, err, interfaces.ErrStorageConflict)

	assert.NoError(t, s.InsertEntries(types.EncryptedTable{uid(2): []byte("e1")}))
	err = s.InsertEntries(types.EncryptedTable{uid(2): []byte("e2")})
	assert.ErrorIs(t, err, interfaces.ErrStorageConflict)
}

func TestPrefixesDoNotCollide(t *testing.T) {
	s := newTestStore(t)

	assert.NoError(t, s.InsertEntries(types.EncryptedTable{uid(1): []byte("entry")}))
	assert.NoError(t, s.InsertChains(types.EncryptedTable{uid(1): []byte("chain")}))

	entries, err := s.FetchEntries([]types.Uid{uid(1)})
	assert.NoError(t, err)
	assert.Equal(t, []byte("entry"), entries[uid(1)])

	chains, err := s.FetchChains([]types.Uid{uid(1)})
	assert.NoError(t, err)
	assert.Equal(t, []byte("chain"), chains[uid(1)])
}

func TestFetchEntries_AllAndSome(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.InsertEntries(types.EncryptedTable{
		uid(1): []byte("a"),
		uid(2): []byte("b"),
	}))
	assert.NoError(t, s.InsertChains(types.EncryptedTable{uid(3): []byte("c")}))

	all, err := s.FetchEntries(nil)
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := s.FetchEntries([]types.Uid{uid(2), uid(9)})
	assert.NoError(t, err)
	assert.Len(t, some, 1)
	assert.Equal(t, []byte("b"), some[uid(2)])
}

func TestReplaceTables(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.InsertEntries(types.EncryptedTable{uid(1): []byte("old-e")}))
	assert.NoError(t, s.InsertChains(types.EncryptedTable{uid(2): []byte("old-c")}))

	err := s.ReplaceTables(
		[]types.Uid{uid(1)},
		[]types.Uid{uid(2)},
		types.EncryptedTable{uid(3): []byte("new-e")},
		types.EncryptedTable{uid(4): []byte("new-c")},
	)
	assert.NoError(t, err)

	entries, err := s.FetchEntries(nil)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, []byte("new-e"), entries[uid(3)])

	chains, err := s.FetchChains([]types.Uid{uid(2), uid(4)})
	assert.NoError(t, err)
	assert.Len(t, chains, 1)
	assert.Equal(t, []byte("new-c"), chains[uid(4)])
}

func TestAllEntryUids(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.InsertEntries(types.EncryptedTable{
		uid(1): []byte("a"),
		uid(2): []byte("b"),
	}))
	assert.NoError(t, s.InsertChains(types.EncryptedTable{uid(3): []byte("c")}))

	uids, err := s.AllEntryUids()
	assert.NoError(t, err)
	assert.ElementsMatch(t, []types.Uid{uid(1), uid(2)}, uids)
}

func TestListRemovedLocations_Oracle(t *testing.T) {
	s, err := NewStore(StoreConfig{
		Path: t.TempDir(),
		RemovedOracle: func(candidates []types.Location) ([]types.Location, error) {
			var gone []types.Location
			for _, c := range candidates {
				if c == "2" {
					gone = append(gone, c)
				}
			}
			return gone, nil
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	gone, err := s.ListRemovedLocations([]types.Location{"1", "2", "3"})
	assert.NoError(t, err)
	assert.Equal(t, []types.Location{"2"}, gone)
}

func TestListRemovedLocations_MissingOracle(t *testing.T) {
	s, err := NewStore(StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	_, err = s.ListRemovedLocations([]types.Location{"1"})
	assert.ErrorIs(t, err, ErrMissingOracle)
}

func TestPersistence_AcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(StoreConfig{Path: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	assert.NoError(t, s.InsertEntries(types.EncryptedTable{uid(1): []byte("survives")}))
	assert.NoError(t, s.Close())

	s, err = NewStore(StoreConfig{Path: dir})
	if err != nil {
		t.Fatalf("NewStore (reopen): %v", err)
	}
	defer s.Close()

	got, err := s.FetchEntries([]types.Uid{uid(1)})
	assert.NoError(t, err)
	assert.Equal(t, []byte("survives"), got[uid(1)])
}
