package types

import (
	"testing"

	"pgregory.net/rapid"
)

func TestIndexedValue_SerializeRoundTrip_Rapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		var v IndexedValue
		if rapid.Bool().Draw(t, "isLocation") {
			v = LocationValue(Location(payload))
		} else {
			v = KeywordValue(Keyword(payload))
		}

		got, err := DeserializeValue(v.Serialize())
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: %#v != %#v", got, v)
		}
	})
}

func TestMarshalValues_RoundTrip_Rapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		values := make([]IndexedValue, 0, n)
		for i := 0; i < n; i++ {
			payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")
			if rapid.Bool().Draw(t, "isLocation") {
				values = append(values, LocationValue(Location(payload)))
			} else {
				values = append(values, KeywordValue(Keyword(payload)))
			}
		}

		got, err := UnmarshalValues(MarshalValues(values))
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(got) != len(values) {
			t.Fatalf("length mismatch: %d != %d", len(got), len(values))
		}
		for i := range values {
			if got[i] != values[i] {
				t.Fatalf("value %d mismatch", i)
			}
		}
	})
}
