package mvstore

import (
	"fmt"
)

const (
	// BlockSize is the on-disk block granularity (§3, §6).
	BlockSize = 4096

	// Format is the current on-disk layout version.
	Format = 2

	FormatWriteMin = 2
	FormatWriteMax = 2
	FormatReadMin  = 1
	FormatReadMax  = 2

	headerMagic = 2 // the "H" field

	// FooterLength is the fixed size of a chunk footer text block.
	FooterLength = 128
	// MaxHeaderLength bounds a chunk's leading text header (padded to this size).
	MaxHeaderLength = 4096
)

var headerFieldOrder = []string{"H", "blockSize", "format", "formatRead", "created", "chunk", "block", "version", "clean"}

// storeHeader is the small plain-text self-checksummed mapping written twice
// at the start of the file (§3 "Store header", §6).
type storeHeader struct {
	H          uint64
	BlockSize  uint64
	Format     uint64
	FormatRead uint64
	Created    uint64 // ms since unix epoch
	Chunk      uint64 // id of the chunk the header points at
	Block      uint64 // block offset of that chunk
	Version    uint64
	Clean      uint64 // 1 if the last close was clean
}

func (h storeHeader) encode() []byte {
	values := map[string]uint64{
		"H":          h.H,
		"blockSize":  h.BlockSize,
		"format":     h.Format,
		"formatRead": h.FormatRead,
		"created":    h.Created,
		"chunk":      h.Chunk,
		"block":      h.Block,
		"version":    h.Version,
		"clean":      h.Clean,
	}
	body := buildTextMap(headerFieldOrder, values)
	full := appendFletcherField(body)
	if len(full) > BlockSize {
		panic("mvstore: header overflowed block size")
	}
	padded := make([]byte, BlockSize)
	copy(padded, full)
	return padded
}

// decodeHeader parses and validates one header block copy, verifying the
// fletcher32 checksum over everything preceding the "fletcher:" field.
func decodeHeader(block []byte) (storeHeader, bool) {
	m, ok := verifyFletcherField(block)
	if !ok {
		return storeHeader{}, false
	}

	var h storeHeader
	var present bool
	if h.H, present = parseHexField(m, "H"); !present {
		return storeHeader{}, false
	}
	h.BlockSize, _ = parseHexField(m, "blockSize")
	h.Format, _ = parseHexField(m, "format")
	h.FormatRead, present = parseHexField(m, "formatRead")
	if !present {
		h.FormatRead = h.Format
	}
	h.Created, _ = parseHexField(m, "created")
	h.Chunk, _ = parseHexField(m, "chunk")
	h.Block, _ = parseHexField(m, "block")
	h.Version, _ = parseHexField(m, "version")
	h.Clean, _ = parseHexField(m, "clean")
	return h, true
}

// readStoreHeader reads both 4KiB header copies and keeps the one with the
// higher version, ties broken by validity (§4.1 step 2).
func readStoreHeader(f FileStore) (storeHeader, error) {
	buf0 := make([]byte, BlockSize)
	buf1 := make([]byte, BlockSize)
	_, err0 := f.ReadAt(buf0, 0)
	_, err1 := f.ReadAt(buf1, BlockSize)

	h0, ok0 := storeHeader{}, false
	if err0 == nil {
		h0, ok0 = decodeHeader(buf0)
	}
	h1, ok1 := storeHeader{}, false
	if err1 == nil {
		h1, ok1 = decodeHeader(buf1)
	}

	switch {
	case ok0 && ok1:
		if h1.Version > h0.Version {
			return h1, nil
		}
		return h0, nil
	case ok0:
		return h0, nil
	case ok1:
		return h1, nil
	default:
		return storeHeader{}, ErrFileCorrupt
	}
}

// writeStoreHeader writes both copies of the header.
func writeStoreHeader(f FileStore, h storeHeader) error {
	buf := h.encode()
	if _, err := f.WriteAt(buf, 0); err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, BlockSize); err != nil {
		return err
	}
	return nil
}

func validateFormat(h storeHeader, readOnly bool) error {
	lo, hi := uint64(FormatWriteMin), uint64(FormatWriteMax)
	if readOnly {
		lo, hi = uint64(FormatReadMin), uint64(FormatReadMax)
	}
	f := h.Format
	if readOnly && h.FormatRead != 0 {
		f = h.FormatRead
	}
	if f < lo || f > hi {
		return fmt.Errorf("%w: format %d not in [%d,%d]", ErrUnsupportedFormat, f, lo, hi)
	}
	return nil
}
