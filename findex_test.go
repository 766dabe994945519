package findex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i5heu/findex"
	"github.com/i5heu/findex/pkg/keys"
	"github.com/i5heu/findex/pkg/memstore"
	"github.com/i5heu/findex/pkg/types"
)

func newTestEngine(t *testing.T, store *memstore.Store) *findex.Findex {
	t.Helper()
	engine, err := findex.New(findex.Config{Storage: store})
	if err != nil {
		t.Fatalf("findex.New: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newEpoch(t *testing.T) (*keys.MasterKey, keys.Label) {
	t.Helper()
	master, err := keys.NewMasterKey()
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	label, err := keys.NewRandomLabel()
	if err != nil {
		t.Fatalf("NewRandomLabel: %v", err)
	}
	return master, label
}

// The concrete scenario from the original test suite: three records indexed
// under first and last names.
func seedUsers(t *testing.T, engine *findex.Findex, master *keys.MasterKey, label keys.Label) {
	t.Helper()
	_, err := engine.Upsert(master, label, map[types.IndexedValue][]types.Keyword{
		types.LocationValue("1"): {"Martin", "Sheperd"},
		types.LocationValue("2"): {"Martial", "Wilkins"},
		types.LocationValue("3"): {"John", "Sheperd"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestNew_RequiresStorage(t *testing.T) {
	_, err := findex.New(findex.Config{})
	assert.ErrorIs(t, err, findex.ErrMissingCallbacks)
}

func TestUpsertAndSearch(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	seedUsers(t, engine, master, label)

	results, err := engine.Search(master, label, []types.Keyword{"Sheperd", "Wilkins"}, nil)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.ElementsMatch(t, []types.Location{"1", "3"}, results["Sheperd"])
	assert.Equal(t, []types.Location{"2"}, results["Wilkins"])
}

func TestSearch_UnmatchedKeywordIsNotAnError(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	seedUsers(t, engine, master, label)

	results, err := engine.Search(master, label, []types.Keyword{"Nobody", "Sheperd"}, nil)
	assert.NoError(t, err)
	assert.NotContains(t, results, types.Keyword("Nobody"))
	assert.Contains(t, results, types.Keyword("Sheperd"))
}

func TestSearch_Deterministic(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	seedUsers(t, engine, master, label)

	first, err := engine.Search(master, label, []types.Keyword{"Sheperd"}, nil)
	assert.NoError(t, err)
	second, err := engine.Search(master, label, []types.Keyword{"Sheperd"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSearch_FreshLabelIsUnlinkable(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	seedUsers(t, engine, master, label)

	otherLabel, err := keys.NewRandomLabel()
	if err != nil {
		t.Fatalf("NewRandomLabel: %v", err)
	}
	results, err := engine.Search(master, otherLabel, []types.Keyword{"Sheperd", "Wilkins"}, nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

// seedAlias builds the chain A -> B -> C -> location L, where every arrow is
// a keyword pointer indexed under its source.
func seedAlias(t *testing.T, engine *findex.Findex, master *keys.MasterKey, label keys.Label) {
	t.Helper()
	_, err := engine.Upsert(master, label, map[types.IndexedValue][]types.Keyword{
		types.KeywordValue("B"):  {"A"},
		types.KeywordValue("C"):  {"B"},
		types.LocationValue("L"): {"C"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestSearch_FollowsKeywordGraph(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	seedAlias(t, engine, master, label)

	results, err := engine.Search(master, label, []types.Keyword{"A"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, []types.Location{"L"}, results["A"])
}

func TestSearch_GraphCycleTerminates(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	_, err := engine.Upsert(master, label, map[types.IndexedValue][]types.Keyword{
		types.KeywordValue("B"):  {"A"},
		types.KeywordValue("A"):  {"B"},
		types.LocationValue("L"): {"B"},
	})
	assert.NoError(t, err)

	results, err := engine.Search(master, label, []types.Keyword{"A"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, []types.Location{"L"}, results["A"])
}

func TestSearch_EarlyStopOnFirstKeyword(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	seedAlias(t, engine, master, label)

	calls := 0
	results, err := engine.Search(master, label, []types.Keyword{"A"},
		func(resolved map[types.Keyword][]types.IndexedValue) bool {
			calls++
			assert.Contains(t, resolved, types.Keyword("A"))
			return false
		})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	// A itself was resolved, but the location behind the alias chain is
	// unreachable: the result is present and empty.
	assert.Contains(t, results, types.Keyword("A"))
	assert.Empty(t, results["A"])
}

func TestSearch_EarlyStopKeepsResolvedBranches(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	// Two sibling branches behind one root keyword.
	_, err := engine.Upsert(master, label, map[types.IndexedValue][]types.Keyword{
		types.KeywordValue("b1"):  {"a"},
		types.KeywordValue("b2"):  {"a"},
		types.LocationValue("L1"): {"b1"},
		types.LocationValue("L2"): {"b2"},
	})
	assert.NoError(t, err)

	// Keep going until b1 is resolved, then stop. b1 sorts before b2, so
	// b2 is never resolved.
	results, err := engine.Search(master, label, []types.Keyword{"a"},
		func(resolved map[types.Keyword][]types.IndexedValue) bool {
			_, ok := resolved["b1"]
			return !ok
		})
	assert.NoError(t, err)
	assert.Equal(t, []types.Location{"L1"}, results["a"])
}

func TestSearch_DuplicateLocationsDeduplicated(t *testing.T) {
	store := memstore.New()
	engine := newTestEngine(t, store)
	master, label := newEpoch(t)

	// L reachable both directly and through an alias.
	_, err := engine.Upsert(master, label, map[types.IndexedValue][]types.Keyword{
		types.LocationValue("L"): {"a", "b"},
		types.KeywordValue("b"):  {"a"},
	})
	assert.NoError(t, err)

	results, err := engine.Search(master, label, []types.Keyword{"a"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, []types.Location{"L"}, results["a"])
}
