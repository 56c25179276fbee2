package mvstore

import "testing"

func TestStoreHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := storeHeader{
		H: headerMagic, BlockSize: BlockSize, Format: Format, FormatRead: Format,
		Created: 1234567890, Chunk: 7, Block: 3, Version: 42, Clean: 1,
	}
	block := h.encode()
	got, ok := decodeHeader(block)
	if !ok {
		t.Fatal("decodeHeader failed on a header it just encoded")
	}
	if got != h {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestStoreHeaderDecodeRejectsCorruption(t *testing.T) {
	h := storeHeader{H: headerMagic, BlockSize: BlockSize, Format: Format, FormatRead: Format, Clean: 1}
	block := h.encode()
	block[5] ^= 0xff // flip a byte inside the encoded field region
	if _, ok := decodeHeader(block); ok {
		t.Error("decodeHeader should reject a corrupted block")
	}
}

func TestReadWriteStoreHeaderPrefersHigherVersion(t *testing.T) {
	f := newMemFileStore()
	low := storeHeader{H: headerMagic, BlockSize: BlockSize, Format: Format, FormatRead: Format, Version: 1, Clean: 1}
	if err := writeStoreHeader(f, low); err != nil {
		t.Fatalf("writeStoreHeader: %v", err)
	}
	high := storeHeader{H: headerMagic, BlockSize: BlockSize, Format: Format, FormatRead: Format, Version: 2, Clean: 1}
	if _, err := f.WriteAt(high.encode(), BlockSize); err != nil {
		t.Fatalf("WriteAt second copy: %v", err)
	}

	got, err := readStoreHeader(f)
	if err != nil {
		t.Fatalf("readStoreHeader: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("readStoreHeader should prefer the higher-version copy, got version %d", got.Version)
	}
}

func TestChunkFooterLineVerifies(t *testing.T) {
	c := newChunk(3)
	c.version = 9
	c.block = 5
	footer := c.footerLine()
	m, ok := verifyFletcherField(footer)
	if !ok {
		t.Fatal("verifyFletcherField rejected a footer this package just produced")
	}
	chunkID, _ := parseHexField(m, "chunk")
	version, _ := parseHexField(m, "version")
	block, _ := parseHexField(m, "block")
	if uint32(chunkID) != c.id || version != c.version || block != c.block {
		t.Errorf("footer fields mismatch: chunk=%d version=%d block=%d, want %d/%d/%d",
			chunkID, version, block, c.id, c.version, c.block)
	}
}
