package findex

import (
	"errors"

	"github.com/i5heu/findex/internal/crypto"
	"github.com/i5heu/findex/pkg/interfaces"
	"github.com/i5heu/findex/pkg/keys"
)

var (
	// ErrInvalidKeyMaterial reports key material of the wrong length.
	ErrInvalidKeyMaterial = keys.ErrInvalidKeyMaterial

	// ErrCorruptRow reports an authenticated decryption failure or a chain
	// row missing from the store while its entry references it.
	ErrCorruptRow = crypto.ErrCorruptRow

	// ErrStorageConflict reports an insert into an already occupied UID.
	ErrStorageConflict = interfaces.ErrStorageConflict

	// ErrDeletedConcurrently reports an entry row that vanished between the
	// initial read and a compare-and-swap retry. Fatal for the affected
	// keyword, never retried.
	ErrDeletedConcurrently = errors.New("findex: entry deleted concurrently")

	// ErrMissingCallbacks reports an operation invoked without its storage
	// callbacks configured.
	ErrMissingCallbacks = errors.New("findex: storage callbacks not configured")
)
