package mvstore

import "testing"

func TestPageCacheGetPutRemove(t *testing.T) {
	pc := newPageCache(1<<20, 1)
	pos := NewPagePos(1, 32, 0, true)
	if _, ok := pc.Get(pos); ok {
		t.Fatal("Get on an empty cache should miss")
	}
	pc.Put(pos, "payload", 8)
	v, ok := pc.Get(pos)
	if !ok || v.(string) != "payload" {
		t.Fatalf("Get after Put: got (%v, %v) want (payload, true)", v, ok)
	}
	pc.Remove(pos)
	if _, ok := pc.Get(pos); ok {
		t.Fatal("Get after Remove should miss")
	}
}

func TestPageCacheEvictsUnderPressure(t *testing.T) {
	pc := newPageCache(64, 1) // tiny single-segment cache
	for i := uint32(0); i < 20; i++ {
		pos := NewPagePos(i, 32, 0, true)
		pc.Put(pos, i, 16)
	}
	// The most recently inserted entry must still be resident; an
	// unbounded cache would otherwise have silently grown forever.
	last := NewPagePos(19, 32, 0, true)
	if _, ok := pc.Get(last); !ok {
		t.Error("the most recently put entry should survive eviction")
	}
}

func TestPageCachePromotesOnSecondAccess(t *testing.T) {
	pc := newPageCache(1<<20, 1)
	pos := NewPagePos(1, 32, 0, true)
	pc.Put(pos, "v", 8)
	pc.Get(pos) // second reference: cold -> hot promotion path

	seg := pc.segmentFor(pos)
	seg.mu.Lock()
	e := seg.entries[uint64(pos)]
	hot := e.hot
	seg.mu.Unlock()
	if !hot {
		t.Error("an entry accessed twice should be promoted to the hot set")
	}
}

func TestTocCacheGetPutRemove(t *testing.T) {
	tc := newTocCache(1 << 10)
	entries := []tocEntry{{mapID: 1, offset: 0, lengthCode: 0, leaf: true}}
	if _, ok := tc.Get(5); ok {
		t.Fatal("Get on an empty tocCache should miss")
	}
	tc.Put(5, entries)
	got, ok := tc.Get(5)
	if !ok || len(got) != 1 {
		t.Fatalf("Get after Put: got (%v, %v)", got, ok)
	}
	tc.Remove(5)
	if _, ok := tc.Get(5); ok {
		t.Fatal("Get after Remove should miss")
	}
}

func TestTocCacheEvictsOversizeEntries(t *testing.T) {
	tc := newTocCache(16 * 16) // room for 16 toc entries
	for id := uint32(0); id < 10; id++ {
		entries := make([]tocEntry, 16)
		tc.Put(id, entries)
	}
	if _, ok := tc.Get(9); !ok {
		t.Error("the most recently inserted chunk's ToC should still be resident")
	}
}
