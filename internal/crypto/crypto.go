// Package crypto implements the deterministic UID/key derivation scheme and
// the authenticated row encryption used by both index tables.
//
// All derivations mix in the public label, so a label change re-keys the
// whole table: UIDs derived under a stale label cannot locate rows written
// under the current one.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/i5heu/findex/pkg/keys"
	"github.com/i5heu/findex/pkg/types"
)

// KeywordHashLength is the length of hashed keywords. Keywords are hashed
// before derivation so arbitrarily long keywords cost a fixed input size.
const KeywordHashLength = 32

// ErrCorruptRow is returned when the authenticated decryption of a row
// payload fails, or when a row referenced by an entry is missing. It always
// means tampering, a wrong key or an inconsistent index, and is never
// silently ignored.
var ErrCorruptRow = errors.New("crypto: corrupt row")

const (
	rowKeyLength = 32
	nonceLength  = 12

	infoEntryUid   = "findex entry uid"
	infoEntryValue = "findex entry value"
	infoChainUid   = "findex chain uid"
	infoChainValue = "findex chain value"
)

// Domain separation prefixes for UID derivation.
const (
	domainEntry = 'e'
	domainChain = 'c'
)

// RowKey is a derived 256-bit AEAD key for row payloads.
type RowKey [rowKeyLength]byte

// HashKeyword returns the SHA3-256 hash of a keyword.
func HashKeyword(k types.Keyword) [KeywordHashLength]byte {
	return sha3.Sum256(k.Bytes())
}

// TableKeys bundles the keys derived once per (master key, label) pair.
// UID keys feed the deterministic row-identifier derivation; the entry value
// key encrypts the whole Entry Table.
type TableKeys struct {
	EntryUidKey RowKey
	EntryValue  RowKey
	ChainUidKey RowKey
	master      keys.MasterKey
	label       keys.Label
}

// DeriveTableKeys derives the table-wide keys for an epoch.
func DeriveTableKeys(master *keys.MasterKey, label keys.Label) TableKeys {
	tk := TableKeys{
		EntryUidKey: deriveKey(master, label, infoEntryUid),
		EntryValue:  deriveKey(master, label, infoEntryValue),
		ChainUidKey: deriveKey(master, label, infoChainUid),
	}
	copy(tk.master[:], master[:])
	tk.label = label.Bytes()
	return tk
}

// ChainValueKey derives the per-keyword AEAD key protecting that keyword's
// chain rows. Pure and deterministic in (master key, label, keyword hash).
func (tk *TableKeys) ChainValueKey(keywordHash [KeywordHashLength]byte) RowKey {
	salt := make([]byte, 0, len(tk.label)+KeywordHashLength)
	salt = append(salt, tk.label...)
	salt = append(salt, keywordHash[:]...)
	return deriveKey(&tk.master, salt, infoChainValue)
}

// EntryUid derives the Entry Table row identifier for a keyword hash.
func (tk *TableKeys) EntryUid(keywordHash [KeywordHashLength]byte) types.Uid {
	h := sha3.New256()
	h.Write([]byte{domainEntry})
	h.Write(tk.EntryUidKey[:])
	h.Write(keywordHash[:])
	var uid types.Uid
	h.Sum(uid[:0])
	return uid
}

// ChainUid derives the Chain Table row identifier for the given block index
// of a keyword's chain.
func (tk *TableKeys) ChainUid(keywordHash [KeywordHashLength]byte, blockIndex uint32) types.Uid {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], blockIndex)
	h := sha3.New256()
	h.Write([]byte{domainChain})
	h.Write(tk.ChainUidKey[:])
	h.Write(keywordHash[:])
	h.Write(idx[:])
	var uid types.Uid
	h.Sum(uid[:0])
	return uid
}

// Wipe zeroes the copied master key material.
func (tk *TableKeys) Wipe() {
	tk.master.Wipe()
}

func deriveKey(master *keys.MasterKey, salt []byte, info string) RowKey {
	r := hkdf.New(sha256.New, master[:], salt, []byte(info))
	var k RowKey
	if _, err := io.ReadFull(r, k[:]); err != nil {
		// HKDF with SHA-256 can produce far more than 32 bytes.
		panic(fmt.Sprintf("crypto: hkdf expand: %v", err))
	}
	return k
}

// Seal encrypts plaintext under key with AES-256-GCM. The random nonce is
// prepended to the ciphertext.
func Seal(key RowKey, plaintext []byte) ([]byte, error) {
	aead, err := newAead(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal. Authentication failure is
// reported as ErrCorruptRow.
func Open(key RowKey, ciphertext []byte) ([]byte, error) {
	aead, err := newAead(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceLength {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrCorruptRow)
	}
	plaintext, err := aead.Open(nil, ciphertext[:nonceLength], ciphertext[nonceLength:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRow, err)
	}
	return plaintext, nil
}

func newAead(key RowKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	return cipher.NewGCM(block)
}
