package mvstore

import "encoding/binary"

// tocEntry is a single table-of-contents slot: the encoded descriptor of one
// page written into a chunk, indexed by sequential page number (§3, §4.3).
type tocEntry struct {
	mapID      uint32
	offset     uint64
	lengthCode uint8
	leaf       bool
}

func (e tocEntry) pos(chunkID uint32) PagePos {
	return NewPagePos(chunkID, e.offset, e.lengthCode, e.leaf)
}

// encodeToC packs a chunk's ToC as an array of 64-bit words, the "ToC long[]"
// named in §6.
func encodeToC(entries []tocEntry) []byte {
	buf := make([]byte, len(entries)*16)
	for i, e := range entries {
		off := i * 16
		binary.LittleEndian.PutUint32(buf[off:], e.mapID)
		leaf := uint32(0)
		if e.leaf {
			leaf = 1
		}
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(e.lengthCode)<<1|leaf)
		binary.LittleEndian.PutUint64(buf[off+8:], e.offset)
	}
	return buf
}

func decodeToC(buf []byte) []tocEntry {
	n := len(buf) / 16
	out := make([]tocEntry, n)
	for i := 0; i < n; i++ {
		off := i * 16
		mapID := binary.LittleEndian.Uint32(buf[off:])
		flags := binary.LittleEndian.Uint32(buf[off+4:])
		offset := binary.LittleEndian.Uint64(buf[off+8:])
		out[i] = tocEntry{
			mapID:      mapID,
			offset:     offset,
			lengthCode: uint8(flags >> 1),
			leaf:       flags&1 != 0,
		}
	}
	return out
}

// pageNoForOffset binary-searches a ToC for the sequential page number
// whose recorded offset matches, used to recover pageNo when a removal was
// queued without one (§4.4: "recovered by binary-searching the chunk's ToC").
func pageNoForOffset(entries []tocEntry, offset uint64) (int, bool) {
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case entries[mid].offset == offset:
			return mid, true
		case entries[mid].offset < offset:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}
