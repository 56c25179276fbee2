package mvstore

import "testing"

func TestEncodeDecodeToCRoundTrip(t *testing.T) {
	entries := []tocEntry{
		{mapID: 0, offset: 0, lengthCode: 0, leaf: true},
		{mapID: 1, offset: 32, lengthCode: 3, leaf: false},
		{mapID: 2, offset: 96, lengthCode: 31, leaf: true},
	}
	buf := encodeToC(entries)
	if len(buf) != len(entries)*16 {
		t.Fatalf("encodeToC length: got %d want %d", len(buf), len(entries)*16)
	}
	decoded := decodeToC(buf)
	if len(decoded) != len(entries) {
		t.Fatalf("decodeToC count: got %d want %d", len(decoded), len(entries))
	}
	for i, e := range entries {
		if decoded[i] != e {
			t.Errorf("entry %d: got %+v want %+v", i, decoded[i], e)
		}
	}
}

func TestPageNoForOffsetFound(t *testing.T) {
	entries := []tocEntry{
		{offset: 0}, {offset: 32}, {offset: 96}, {offset: 160},
	}
	for want, e := range entries {
		got, ok := pageNoForOffset(entries, e.offset)
		if !ok || got != want {
			t.Errorf("pageNoForOffset(%d): got (%d,%v) want (%d,true)", e.offset, got, ok, want)
		}
	}
}

func TestPageNoForOffsetNotFound(t *testing.T) {
	entries := []tocEntry{{offset: 0}, {offset: 32}}
	if _, ok := pageNoForOffset(entries, 64); ok {
		t.Error("pageNoForOffset should report not-found for an offset absent from the ToC")
	}
}
