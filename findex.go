// Package findex implements an encrypted multi-map search index. Opaque
// locations are indexed under keywords in two server-side tables, the Entry
// Table and the Chain Table, whose rows are indistinguishable from random
// without the master key. The engine supports keyword search over a keyword
// alias graph, concurrent incremental upserts, and periodic re-encryption
// with garbage collection (compaction).
//
// All storage access goes through the callback contract in pkg/interfaces;
// the engine keeps no state between calls. Master key and label are passed
// explicitly to every operation, so multiple index epochs can coexist on one
// handle.
package findex

import (
	"log/slog"
	"os"

	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/workerpool"
)

// ChainBlockCapacity is the maximum number of indexed values stored per
// chain row. Upserts fill new rows only; compaction coalesces sparse chains
// back to this density.
const ChainBlockCapacity = 5

// Findex is the index engine handle. It owns the storage callbacks, the
// logger and the worker pool; all key material is per-call.
type Findex struct {
	log   *slog.Logger
	store interfaces.Storage
	pool  *workerpool.Pool
}

// Config configures an engine handle.
type Config struct {
	// Storage is the callback set giving access to the Entry and Chain
	// Tables. Required.
	Storage interfaces.Storage
	// Logger is an optional structured logger. If nil, a stderr text
	// handler is used.
	Logger *slog.Logger
	// WorkerCount sizes the sealing worker pool. Zero means one worker per
	// CPU.
	WorkerCount int
}

// New creates an engine handle. It fails with ErrMissingCallbacks if no
// storage is configured.
func New(config Config) (*Findex, error) {
	if config.Storage == nil {
		return nil, ErrMissingCallbacks
	}
	if config.Logger == nil {
		config.Logger = defaultLogger()
	}
	return &Findex{
		log:   config.Logger,
		store: config.Storage,
		pool:  workerpool.New(workerpool.Config{WorkerCount: config.WorkerCount}),
	}, nil
}

// Close stops the engine's worker pool. The handle must not be used after
// closing; the storage backend is owned by the caller and stays open.
func (f *Findex) Close() {
	f.pool.Close()
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
