package badgerstore

import (
	"errors"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/types"
)

// StoreConfig configures a badger-backed table store.
type StoreConfig struct {
	// Path is the data directory.
	Path string
	// MinimumFreeSpace in GB required on the volume holding Path.
	MinimumFreeSpace int
	// Logger is an optional logrus logger. If nil, a default one is used.
	Logger *logrus.Logger
	// RemovedOracle answers which candidate locations no longer exist in
	// the external record store. Required before running a compaction; a
	// nil oracle makes ListRemovedLocations fail.
	RemovedOracle func(candidates []types.Location) ([]types.Location, error)
}

// ErrMissingOracle is wrapped into the error returned by
// ListRemovedLocations when no oracle is configured.
var ErrMissingOracle = errors.New("badgerstore: no removed-locations oracle configured")

func (sc *StoreConfig) checkConfig() error {
	if sc.Path == "" {
		return errors.New("no path provided in configuration")
	}

	info, err := os.Stat(sc.Path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	usage, err := disk.Usage(sc.Path)
	if err != nil {
		return err
	}
	freeGB := usage.Free / (1024 * 1024 * 1024)
	if int(freeGB) < sc.MinimumFreeSpace {
		return errors.New("not enough space available on disk")
	}

	return nil
}

var _ interfaces.Storage = (*Store)(nil)
