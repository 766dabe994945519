package findex

import (
	"encoding/binary"
	"fmt"

	"github.com/i5heu/findex/internal/crypto"
	"github.com/i5heu/findex/pkg/types"
)

// entryPayload is the plaintext of an Entry Table row: the hash of the
// keyword owning the chain and the number of chain blocks written so far.
// The block count is the append offset contended on by concurrent upserts.
type entryPayload struct {
	keywordHash [crypto.KeywordHashLength]byte
	blockCount  uint32
}

const entryPayloadLength = crypto.KeywordHashLength + 4

func (e entryPayload) marshal() []byte {
	b := make([]byte, entryPayloadLength)
	copy(b, e.keywordHash[:])
	binary.BigEndian.PutUint32(b[crypto.KeywordHashLength:], e.blockCount)
	return b
}

func parseEntryPayload(b []byte) (entryPayload, error) {
	var e entryPayload
	if len(b) != entryPayloadLength {
		return e, fmt.Errorf("%w: entry payload has %d bytes, want %d",
			ErrCorruptRow, len(b), entryPayloadLength)
	}
	copy(e.keywordHash[:], b[:crypto.KeywordHashLength])
	e.blockCount = binary.BigEndian.Uint32(b[crypto.KeywordHashLength:])
	return e, nil
}

// chunkValues splits values into chain-block sized chunks, preserving order.
func chunkValues(values []types.IndexedValue, capacity int) [][]types.IndexedValue {
	var chunks [][]types.IndexedValue
	for len(values) > capacity {
		chunks = append(chunks, values[:capacity])
		values = values[capacity:]
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}
