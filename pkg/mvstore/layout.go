package mvstore

import (
	"bytes"
	"strconv"
)

// KeyValueMap is the richer surface the store needs for its own layout
// and meta maps — ordinary user maps only ever need the narrow Map
// interface, but the store's internal bookkeeping maps are themselves
// plain sorted string->string maps built on the same page layer (§3
// "The layout is just another B-tree map that happens to be snapshotted
// into the chunk header", §9). A concrete page-layer tree (pkg/page.Tree)
// satisfies this structurally; mvstore never imports pkg/page to avoid
// the import cycle that would create.
type KeyValueMap interface {
	Map
	Get(key []byte) ([]byte, bool)
	Insert(key []byte, val []byte) error
	Delete(key []byte) bool
	Scan(start []byte, fn func(key, val []byte) bool)
}

const metaIDKey = "meta.id"

// layoutMap is the typed view over the fixed map id 0 (§3 "Layout map").
type layoutMap struct {
	m KeyValueMap
}

func newLayoutMap(m KeyValueMap) *layoutMap { return &layoutMap{m: m} }

func (l *layoutMap) putChunk(c *chunk) error {
	return l.m.Insert([]byte(chunkLayoutKey(c.id)), []byte(c.metaLine()))
}

func (l *layoutMap) getChunk(id uint32) (*chunk, bool, error) {
	v, ok := l.m.Get([]byte(chunkLayoutKey(id)))
	if !ok {
		return nil, false, nil
	}
	c, err := parseChunkMeta(string(v))
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (l *layoutMap) removeChunk(id uint32) bool {
	return l.m.Delete([]byte(chunkLayoutKey(id)))
}

func (l *layoutMap) putRoot(mapID uint32, pos PagePos) error {
	return l.m.Insert([]byte(rootLayoutKey(mapID)), []byte(strconv.FormatUint(uint64(pos), 16)))
}

func (l *layoutMap) getRoot(mapID uint32) (PagePos, bool) {
	v, ok := l.m.Get([]byte(rootLayoutKey(mapID)))
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v), 16, 64)
	if err != nil {
		return 0, false
	}
	return PagePos(n), true
}

func (l *layoutMap) removeRoot(mapID uint32) bool {
	return l.m.Delete([]byte(rootLayoutKey(mapID)))
}

func (l *layoutMap) putMetaID(id uint32) error {
	return l.m.Insert([]byte(metaIDKey), []byte(strconv.FormatUint(uint64(id), 16)))
}

func (l *layoutMap) getMetaID() (uint32, bool) {
	v, ok := l.m.Get([]byte(metaIDKey))
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v), 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// scanChunks visits every "chunk.<id>" entry in key order.
func (l *layoutMap) scanChunks(fn func(*chunk) bool) {
	prefix := []byte("chunk.")
	l.m.Scan(prefix, func(k, v []byte) bool {
		if !bytes.HasPrefix(k, prefix) {
			return false
		}
		c, err := parseChunkMeta(string(v))
		if err != nil {
			return true
		}
		return fn(c)
	})
}

// scanRoots visits every "root.<mapid>" entry, used by scrubLayoutMap to
// drop roots whose map no longer exists (§4.1 step 8).
func (l *layoutMap) scanRoots(fn func(mapID uint32, pos PagePos) bool) {
	prefix := []byte("root.")
	l.m.Scan(prefix, func(k, v []byte) bool {
		if !bytes.HasPrefix(k, prefix) {
			return false
		}
		id, err := strconv.ParseUint(string(k[len(prefix):]), 16, 32)
		if err != nil {
			return true
		}
		pos, err := strconv.ParseUint(string(v), 16, 64)
		if err != nil {
			return true
		}
		return fn(uint32(id), PagePos(pos))
	})
}

// scanStray visits entries that scrubLayoutMap moves out of the layout
// map into meta: stray "name.*" / "map.*" keys (§4.1 step 8).
func (l *layoutMap) scanStray(fn func(key, val []byte) bool) {
	for _, prefix := range [][]byte{[]byte("name."), []byte("map.")} {
		p := prefix
		l.m.Scan(p, func(k, v []byte) bool {
			if !bytes.HasPrefix(k, p) {
				return false
			}
			return fn(append([]byte(nil), k...), append([]byte(nil), v...))
		})
	}
}
