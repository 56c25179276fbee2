package mvstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// unsetLocation is the sentinel used for a chunk's block/len before it has
// been assigned a physical file location (§3 Chunk: "unset sentinel = MAX").
const unsetLocation = ^uint64(0)

// chunk is the unit of allocation and GC (§3 "Chunk").
type chunk struct {
	id    uint32
	version uint64
	time  int64 // ms since store creation, non-decreasing across chunks

	block uint64 // in BLOCK_SIZE units
	len   uint64 // in BLOCK_SIZE units

	pageCount     int64
	pageCountLive int64
	maxLen        int64
	maxLenLive    int64

	occupancy []byte // bitmap, length = ceil(pageCount/8); bit set = page dead

	layoutRootPos PagePos
	tocPos        uint64
	mapID         uint32
	next          uint64 // predicted next-chunk block

	unused          int64 // time at which chunk became fully dead, 0 if still live
	unusedAtVersion uint64
}

func newChunk(id uint32) *chunk {
	return &chunk{id: id, block: unsetLocation, len: unsetLocation}
}

// isLive reports whether any page in the chunk is still reachable.
func (c *chunk) isLive() bool { return c.pageCountLive > 0 }

// isDead is the complement, per §3: "pageCountLive=0 and maxLenLive=0".
func (c *chunk) isDead() bool { return c.pageCountLive == 0 && c.maxLenLive == 0 }

// fillRate returns the percentage of live bytes over total bytes.
func (c *chunk) fillRate() int {
	if c.maxLen == 0 {
		return 100
	}
	return int(c.maxLenLive * 100 / c.maxLen)
}

func (c *chunk) blockCount() uint64 {
	if c.len == unsetLocation {
		return 0
	}
	return c.len
}

func (c *chunk) occupancyBytes() int {
	return int((c.pageCount + 7) / 8)
}

func (c *chunk) ensureOccupancy() {
	want := c.occupancyBytes()
	if len(c.occupancy) < want {
		grown := make([]byte, want)
		copy(grown, c.occupancy)
		c.occupancy = grown
	}
}

func (c *chunk) isPageDead(pageNo int) bool {
	if pageNo < 0 || pageNo/8 >= len(c.occupancy) {
		return false
	}
	return c.occupancy[pageNo/8]&(1<<uint(pageNo%8)) != 0
}

// markPageDead sets the occupancy bit for pageNo and returns true the first
// time it transitions from live to dead (so callers don't double-count).
func (c *chunk) markPageDead(pageNo int, length int) bool {
	c.ensureOccupancy()
	if pageNo < 0 || pageNo/8 >= len(c.occupancy) {
		return false
	}
	bit := byte(1 << uint(pageNo%8))
	if c.occupancy[pageNo/8]&bit != 0 {
		return false // already dead
	}
	c.occupancy[pageNo/8] |= bit
	c.pageCountLive--
	c.maxLenLive -= int64(length)
	if c.pageCountLive < 0 {
		c.pageCountLive = 0
	}
	if c.maxLenLive < 0 {
		c.maxLenLive = 0
	}
	return true
}

var chunkFieldOrder = []string{
	"id", "version", "time", "block", "len",
	"pages", "live", "max", "maxLive",
	"layout", "toc", "map", "next", "unused", "unusedAt",
}

// metaLine renders the chunk-metadata-string stored at layout key
// "chunk.<hex-id>" (§3). The trailing "occ" field hex-encodes the
// occupancy bitmap itself, so a chunk's per-page liveness survives a
// close/reopen instead of only its aggregate pageCountLive/maxLenLive
// counters (§3 Chunk: "occupancy bitmap of length pageCount").
func (c *chunk) metaLine() string {
	values := map[string]uint64{
		"id":       uint64(c.id),
		"version":  c.version,
		"time":     uint64(c.time),
		"block":    c.block,
		"len":      c.len,
		"pages":    uint64(c.pageCount),
		"live":     uint64(c.pageCountLive),
		"max":      uint64(c.maxLen),
		"maxLive":  uint64(c.maxLenLive),
		"layout":   uint64(c.layoutRootPos),
		"toc":      c.tocPos,
		"map":      uint64(c.mapID),
		"next":     c.next,
		"unused":   uint64(c.unused),
		"unusedAt": c.unusedAtVersion,
	}
	numeric := bytes.TrimRight(buildTextMap(chunkFieldOrder, values), "\n")
	return fmt.Sprintf("%s,occ:%s\n", numeric, hex.EncodeToString(c.occupancy))
}

func parseChunkMeta(line string) (*chunk, error) {
	m := parseTextMap([]byte(strings.TrimSpace(line)))
	get := func(k string) uint64 {
		v, _ := parseHexField(m, k)
		return v
	}
	id, ok := parseHexField(m, "id")
	if !ok {
		return nil, fmt.Errorf("%w: chunk meta missing id: %q", ErrFileCorrupt, line)
	}
	c := &chunk{
		id:              uint32(id),
		version:         get("version"),
		time:            int64(get("time")),
		block:           get("block"),
		len:             get("len"),
		pageCount:       int64(get("pages")),
		pageCountLive:   int64(get("live")),
		maxLen:          int64(get("max")),
		maxLenLive:      int64(get("maxLive")),
		layoutRootPos:   PagePos(get("layout")),
		tocPos:          get("toc"),
		mapID:           uint32(get("map")),
		next:            get("next"),
		unused:          int64(get("unused")),
		unusedAtVersion: get("unusedAt"),
	}
	if occHex, ok := m["occ"]; ok && occHex != "" {
		if occ, err := hex.DecodeString(occHex); err == nil {
			c.occupancy = occ
		}
	}
	return c, nil
}

func chunkLayoutKey(id uint32) string {
	return "chunk." + strconv.FormatUint(uint64(id), 16)
}

func rootLayoutKey(mapID uint32) string {
	return "root." + strconv.FormatUint(uint64(mapID), 16)
}
