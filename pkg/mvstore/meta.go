package mvstore

import (
	"bytes"
	"strconv"
	"sync"
)

const storeVersionKey = "setting.storeVersion"

// metaMap is the typed view over the store's meta map (§3 "Meta map"):
// name<->id bindings, per-map metadata lines, and slow-churn settings.
type metaMap struct {
	mu        sync.Mutex
	m         KeyValueMap
	lastMapID uint32
}

func newMetaMap(m KeyValueMap) *metaMap {
	return &metaMap{m: m}
}

func (mm *metaMap) getMapID(name string) (uint32, bool) {
	v, ok := mm.m.Get([]byte("name." + name))
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v), 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (mm *metaMap) putName(name string, id uint32) error {
	return mm.m.Insert([]byte("name."+name), []byte(strconv.FormatUint(uint64(id), 16)))
}

func (mm *metaMap) removeName(name string) bool {
	return mm.m.Delete([]byte("name." + name))
}

func (mm *metaMap) putMapMeta(id uint32, line string) error {
	return mm.m.Insert([]byte(mapMetaKey(id)), []byte(line))
}

func (mm *metaMap) getMapMeta(id uint32) (string, bool) {
	v, ok := mm.m.Get([]byte(mapMetaKey(id)))
	return string(v), ok
}

func (mm *metaMap) removeMapMeta(id uint32) bool {
	return mm.m.Delete([]byte(mapMetaKey(id)))
}

func mapMetaKey(id uint32) string {
	return "map." + strconv.FormatUint(uint64(id), 16)
}

func (mm *metaMap) putStoreVersion(v uint64) error {
	return mm.m.Insert([]byte(storeVersionKey), []byte(strconv.FormatUint(v, 16)))
}

func (mm *metaMap) getStoreVersion() (uint64, bool) {
	v, ok := mm.m.Get([]byte(storeVersionKey))
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v), 16, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// nextMapID allocates the next map id; bumpMapID raises the floor when a
// recovered map id is observed to be higher (§4.1 step 9: "bump lastMapId
// to >= any seen map id").
func (mm *metaMap) nextMapID() uint32 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.lastMapID++
	return mm.lastMapID
}

func (mm *metaMap) bumpMapID(id uint32) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if id > mm.lastMapID {
		mm.lastMapID = id
	}
}

func (mm *metaMap) lastAllocatedMapID() uint32 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.lastMapID
}

func (mm *metaMap) scanNames(fn func(name string, id uint32) bool) {
	prefix := []byte("name.")
	mm.m.Scan(prefix, func(k, v []byte) bool {
		if !bytes.HasPrefix(k, prefix) {
			return false
		}
		id, err := strconv.ParseUint(string(v), 16, 32)
		if err != nil {
			return true
		}
		return fn(string(k[len(prefix):]), uint32(id))
	})
}

func (mm *metaMap) scanMapMeta(fn func(id uint32, line string) bool) {
	prefix := []byte("map.")
	mm.m.Scan(prefix, func(k, v []byte) bool {
		if !bytes.HasPrefix(k, prefix) {
			return false
		}
		id, err := strconv.ParseUint(string(k[len(prefix):]), 16, 32)
		if err != nil {
			return true
		}
		return fn(uint32(id), string(v))
	})
}
