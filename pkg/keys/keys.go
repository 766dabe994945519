// Package keys holds the secret and public key material of an index epoch:
// the master key and the label. Both are created by the caller and passed
// explicitly to every engine operation; the engine keeps no ambient state.
package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// MasterKeyLength is the fixed byte length of a master key.
const MasterKeyLength = 16

// RandomLabelLength is the length of labels produced by NewRandomLabel.
const RandomLabelLength = 32

// ErrInvalidKeyMaterial is returned when decoding key material of the wrong
// length.
var ErrInvalidKeyMaterial = errors.New("keys: invalid key material")

// MasterKey is the secret symmetric key of an index epoch. Every UID and row
// key is derived from it.
type MasterKey [MasterKeyLength]byte

// NewMasterKey draws a fresh master key from crypto/rand.
func NewMasterKey() (*MasterKey, error) {
	var k MasterKey
	if _, err := rand.Read(k[:]); err != nil {
		return nil, fmt.Errorf("keys: generating master key: %w", err)
	}
	return &k, nil
}

// MasterKeyFromBytes decodes a master key from b. The length is validated:
// anything other than MasterKeyLength bytes fails with
// ErrInvalidKeyMaterial.
func MasterKeyFromBytes(b []byte) (*MasterKey, error) {
	if len(b) != MasterKeyLength {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d",
			ErrInvalidKeyMaterial, MasterKeyLength, len(b))
	}
	var k MasterKey
	copy(k[:], b)
	return &k, nil
}

// Bytes returns a copy of the key material.
func (k *MasterKey) Bytes() []byte {
	out := make([]byte, MasterKeyLength)
	copy(out, k[:])
	return out
}

// Wipe overwrites the key material with zeros.
func (k *MasterKey) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

// Label is the public randomization salt of an index epoch. Changing the
// label without the master key makes every previously written row
// unreachable, which is what compaction relies on to retire an epoch.
type Label []byte

// NewRandomLabel draws a 32-byte random label.
func NewRandomLabel() (Label, error) {
	l := make(Label, RandomLabelLength)
	if _, err := rand.Read(l); err != nil {
		return nil, fmt.Errorf("keys: generating label: %w", err)
	}
	return l, nil
}

// LabelFromBytes copies b into a Label. Any length is valid.
func LabelFromBytes(b []byte) Label {
	l := make(Label, len(b))
	copy(l, b)
	return l
}

// Bytes returns a copy of the label.
func (l Label) Bytes() []byte {
	out := make([]byte, len(l))
	copy(out, l)
	return out
}
