package mvstore

import "testing"

// writeTestChunk lays out a minimal chunk header+footer pair the way
// serializeAndStore would, without going through the full commit pipeline,
// so tryReadChunkHeader/verifyChunkFooter can be exercised directly.
func writeTestChunk(t *testing.T, f FileStore, c *chunk) {
	t.Helper()
	header := make([]byte, MaxHeaderLength)
	copy(header, c.metaLine())
	if _, err := f.WriteAt(header, int64(c.block*BlockSize)); err != nil {
		t.Fatalf("write header: %v", err)
	}
	footerOff := int64(c.block*BlockSize) + int64(c.blockCount()*BlockSize) - int64(FooterLength)
	if _, err := f.WriteAt(c.footerLine(), footerOff); err != nil {
		t.Fatalf("write footer: %v", err)
	}
}

func TestTryReadChunkHeaderAcceptsValidChunk(t *testing.T) {
	f := newMemFileStore()
	c := newChunk(5)
	c.version = 3
	c.block = 2
	c.len = 4
	writeTestChunk(t, f, c)

	s := &Store{file: f}
	got, err := s.tryReadChunkHeader(c.block)
	if err != nil {
		t.Fatalf("tryReadChunkHeader: %v", err)
	}
	if got.id != c.id || got.version != c.version || got.block != c.block {
		t.Errorf("got chunk %+v, want id=%d version=%d block=%d", got, c.id, c.version, c.block)
	}
}

func TestTryReadChunkHeaderRejectsCorruptedFooterChecksum(t *testing.T) {
	f := newMemFileStore()
	c := newChunk(5)
	c.version = 3
	c.block = 2
	c.len = 4
	writeTestChunk(t, f, c)

	footerOff := int64(c.block*BlockSize) + int64(c.blockCount()*BlockSize) - int64(FooterLength)
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, footerOff+2); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	buf[0] ^= 0xff
	if _, err := f.WriteAt(buf, footerOff+2); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	s := &Store{file: f}
	if _, err := s.tryReadChunkHeader(c.block); err == nil {
		t.Error("tryReadChunkHeader should reject a chunk whose footer checksum no longer matches")
	}
}

func TestTryReadChunkHeaderRejectsMismatchedFooterFields(t *testing.T) {
	f := newMemFileStore()
	c := newChunk(5)
	c.version = 3
	c.block = 2
	c.len = 4
	writeTestChunk(t, f, c)

	// Simulate a torn write: a footer belonging to a different version of
	// the same physical chunk, still self-consistent (valid checksum) but
	// mismatching the header that was actually read back.
	stale := newChunk(5)
	stale.version = 2
	stale.block = 2
	footerOff := int64(c.block*BlockSize) + int64(c.blockCount()*BlockSize) - int64(FooterLength)
	if _, err := f.WriteAt(stale.footerLine(), footerOff); err != nil {
		t.Fatalf("WriteAt stale footer: %v", err)
	}

	s := &Store{file: f}
	if _, err := s.tryReadChunkHeader(c.block); err == nil {
		t.Error("tryReadChunkHeader should reject a footer whose (chunk,version,block) triple mismatches the header")
	}
}

func TestVerifyChunkFooterRejectsZeroLengthChunk(t *testing.T) {
	f := newMemFileStore()
	s := &Store{file: f}
	c := newChunk(9)
	c.block = 0
	c.len = unsetLocation
	if err := s.verifyChunkFooter(c); err == nil {
		t.Error("verifyChunkFooter should reject a chunk with no recorded length")
	}
}
