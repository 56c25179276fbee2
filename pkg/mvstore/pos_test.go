package mvstore

import "testing"

func TestPagePosRoundTrip(t *testing.T) {
	cases := []struct {
		chunkID uint32
		offset  uint64
		leaf    bool
	}{
		{0, 0, true},
		{1, 32, false},
		{1234, 32 * 900, true},
		{uint32(MaxChunkID - 1), 32 * 5, false},
	}

	for _, c := range cases {
		code := EncodeLengthCode(128)
		pos := NewPagePos(c.chunkID, c.offset, code, c.leaf)
		if pos.IsZero() {
			t.Fatalf("non-zero inputs produced a zero position: %+v", c)
		}
		if got := pos.ChunkID(); got != c.chunkID {
			t.Errorf("ChunkID: got %d want %d", got, c.chunkID)
		}
		if got := pos.Offset(); got != c.offset {
			t.Errorf("Offset: got %d want %d", got, c.offset)
		}
		if got := pos.IsLeaf(); got != c.leaf {
			t.Errorf("IsLeaf: got %v want %v", got, c.leaf)
		}
	}
}

func TestPagePosZero(t *testing.T) {
	var p PagePos
	if !p.IsZero() {
		t.Error("zero value PagePos should report IsZero")
	}
}

func TestPagePosBit63Unused(t *testing.T) {
	// The store never sets bit 63; it's reserved for page-layer pending-id
	// schemes (pkg/page). NewPagePos with the largest legal chunk id must
	// never set it.
	pos := NewPagePos(uint32(MaxChunkID-1), 32*(1<<30), 31, true)
	if uint64(pos)&(1<<63) != 0 {
		t.Error("mvstore.NewPagePos must never set bit 63")
	}
}

func TestLengthCodeRoundTrip(t *testing.T) {
	lengths := []int{1, 32, 33, 64, 1000, 65536}
	for _, n := range lengths {
		code := EncodeLengthCode(n)
		max := DecodeLengthCode(code)
		if max < n {
			t.Errorf("length code for %d decodes to %d, smaller than input", n, max)
		}
	}
}

func TestLengthCodeMonotonic(t *testing.T) {
	prev := EncodeLengthCode(1)
	for n := 2; n <= 1<<20; n *= 2 {
		code := EncodeLengthCode(n)
		if code < prev {
			t.Errorf("length code decreased: EncodeLengthCode(%d)=%d < previous %d", n, code, prev)
		}
		prev = code
	}
}
