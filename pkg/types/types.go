// Package types defines the value types shared by the index engine and the
// storage backends: keywords, locations, table UIDs and the tagged value
// stored in chain rows.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// UidLength is the byte length of Entry and Chain Table row identifiers.
const UidLength = 32

// Uid identifies a single row in the Entry or Chain Table. UIDs are derived,
// never random, so equal inputs always map to the same row.
type Uid [UidLength]byte

func (u Uid) String() string {
	return hex.EncodeToString(u[:])
}

func (u Uid) Bytes() []byte {
	return u[:]
}

// UidFromBytes copies b into a Uid. It fails if b is not exactly UidLength
// bytes long.
func UidFromBytes(b []byte) (Uid, error) {
	var u Uid
	if len(b) != UidLength {
		return u, fmt.Errorf("types: uid must be %d bytes, got %d", UidLength, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// Keyword is a byte string under which values are indexed. It is also the
// node identifier in the keyword graph. Backed by a string so it can key
// maps.
type Keyword string

func (k Keyword) Bytes() []byte {
	return []byte(k)
}

// Location is an opaque reference to a record in some external plaintext
// store. The engine never interprets it.
type Location string

func (l Location) Bytes() []byte {
	return []byte(l)
}

// Tag bytes used in the serialized form of an IndexedValue. One tag byte
// followed by the raw payload.
const (
	tagLocation = 'l'
	tagKeyword  = 'w'
)

// IndexedValue is the tagged value stored in chain rows: either a final
// Location or a pointer to another Keyword (an edge of the keyword graph).
// Values are built with LocationValue and KeywordValue; the zero value is
// neither kind, so it can never alias LocationValue("") under ==.
type IndexedValue struct {
	tag     byte
	payload string
}

// LocationValue wraps a Location into an IndexedValue.
func LocationValue(l Location) IndexedValue {
	return IndexedValue{tag: tagLocation, payload: string(l)}
}

// KeywordValue wraps a Keyword into an IndexedValue.
func KeywordValue(k Keyword) IndexedValue {
	return IndexedValue{tag: tagKeyword, payload: string(k)}
}

// IsLocation reports whether the value is a Location.
func (v IndexedValue) IsLocation() bool {
	return v.tag == tagLocation
}

// IsKeyword reports whether the value is a Keyword pointer.
func (v IndexedValue) IsKeyword() bool {
	return v.tag == tagKeyword
}

// Location returns the wrapped Location. The second return value is false if
// the value is a keyword pointer.
func (v IndexedValue) Location() (Location, bool) {
	if !v.IsLocation() {
		return "", false
	}
	return Location(v.payload), true
}

// Keyword returns the wrapped Keyword. The second return value is false if
// the value is a location.
func (v IndexedValue) Keyword() (Keyword, bool) {
	if !v.IsKeyword() {
		return "", false
	}
	return Keyword(v.payload), true
}

// Serialize returns the wire form of the value: a tag byte ('l' or 'w')
// followed by the payload.
func (v IndexedValue) Serialize() []byte {
	b := make([]byte, 0, len(v.payload)+1)
	b = append(b, v.tag)
	b = append(b, v.payload...)
	return b
}

// DeserializeValue parses the wire form produced by Serialize.
func DeserializeValue(b []byte) (IndexedValue, error) {
	if len(b) < 1 {
		return IndexedValue{}, fmt.Errorf("types: indexed value too short (%d bytes)", len(b))
	}
	switch b[0] {
	case tagLocation:
		return LocationValue(Location(b[1:])), nil
	case tagKeyword:
		return KeywordValue(Keyword(b[1:])), nil
	default:
		return IndexedValue{}, fmt.Errorf("types: invalid indexed value tag %#x", b[0])
	}
}

// MarshalValues encodes a list of indexed values as a sequence of
// uvarint-length-prefixed wire forms. This is the plaintext layout of a
// chain block before encryption.
func MarshalValues(values []IndexedValue) []byte {
	var buf []byte
	var lenBuf [binary.MaxVarintLen64]byte
	for _, v := range values {
		w := v.Serialize()
		n := binary.PutUvarint(lenBuf[:], uint64(len(w)))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, w...)
	}
	return buf
}

// UnmarshalValues decodes the layout produced by MarshalValues, preserving
// order.
func UnmarshalValues(b []byte) ([]IndexedValue, error) {
	var values []IndexedValue
	for len(b) > 0 {
		l, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, fmt.Errorf("types: invalid value length prefix")
		}
		b = b[n:]
		if uint64(len(b)) < l {
			return nil, fmt.Errorf("types: truncated value (want %d bytes, have %d)", l, len(b))
		}
		v, err := DeserializeValue(b[:l])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		b = b[l:]
	}
	return values, nil
}

// EncryptedTable maps row UIDs to encrypted payloads. It is the transfer
// type of every fetch and insert callback.
type EncryptedTable map[Uid][]byte

// EntryEdit is one conditional write against the Entry Table: New replaces
// the stored value iff it still equals Old. An empty Old means the row is
// expected to not exist yet.
type EntryEdit struct {
	Old []byte
	New []byte
}

// EntryEdits maps Entry Table UIDs to the conditional writes to attempt.
type EntryEdits map[Uid]EntryEdit
