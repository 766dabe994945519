// Command example builds a small index in a badger store, searches it, and
// runs a compaction that retires the first epoch.
package main

import (
	"fmt"
	"os"

	"github.com/i5heu/findex"
	"github.com/i5heu/findex/internal/config"
	"github.com/i5heu/findex/pkg/badgerstore"
	"github.com/i5heu/findex/pkg/keys"
	"github.com/i5heu/findex/pkg/logging"
	"github.com/i5heu/findex/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return err
	}
	log := logging.New(logging.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.StorePath, 0o700); err != nil {
		return err
	}

	// The example's external record store: every record exists until it is
	// dropped from this map.
	records := map[types.Location]bool{
		"1": true, "2": true, "3": true,
	}

	store, err := badgerstore.NewStore(badgerstore.StoreConfig{
		Path:             cfg.StorePath,
		MinimumFreeSpace: cfg.MinimumFreeGB,
		RemovedOracle: func(candidates []types.Location) ([]types.Location, error) {
			var gone []types.Location
			for _, loc := range candidates {
				if !records[loc] {
					gone = append(gone, loc)
				}
			}
			return gone, nil
		},
	})
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := findex.New(findex.Config{Storage: store, Logger: log})
	if err != nil {
		return err
	}
	defer engine.Close()

	master, err := keys.NewMasterKey()
	if err != nil {
		return err
	}
	label, err := keys.NewRandomLabel()
	if err != nil {
		return err
	}

	added, err := engine.Upsert(master, label, map[types.IndexedValue][]types.Keyword{
		types.LocationValue("1"): {"Martin", "Sheperd"},
		types.LocationValue("2"): {"Martial", "Wilkins"},
		types.LocationValue("3"): {"John", "Sheperd"},
	})
	if err != nil {
		return err
	}
	log.Info("indexed dataset", "newKeywords", len(added))

	results, err := engine.Search(master, label, []types.Keyword{"Sheperd", "Wilkins"}, nil)
	if err != nil {
		return err
	}
	for keyword, locations := range results {
		log.Info("search result", "keyword", string(keyword), "locations", fmt.Sprint(locations))
	}

	// Record 2 disappears from the external store; compaction rotates the
	// epoch and garbage-collects it.
	delete(records, "2")

	newMaster, err := keys.NewMasterKey()
	if err != nil {
		return err
	}
	newLabel, err := keys.NewRandomLabel()
	if err != nil {
		return err
	}
	if err := engine.Compact(master, newMaster, label, newLabel, cfg.CompactBatchSize); err != nil {
		return err
	}

	results, err = engine.Search(newMaster, newLabel, []types.Keyword{"Wilkins", "Sheperd"}, nil)
	if err != nil {
		return err
	}
	for keyword, locations := range results {
		log.Info("post-compaction result", "keyword", string(keyword), "locations", fmt.Sprint(locations))
	}

	return nil
}
