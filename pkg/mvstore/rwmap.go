package mvstore

import "fmt"

// OpenMap opens (creating if necessary) a named user map, returning the
// KeyValueMap surface backed by the page layer's copy-on-write tree
// (§3 "every named map is just another B-tree rooted in the layout map").
func (s *Store) OpenMap(name string) (KeyValueMap, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mapsMu.Lock()
	defer s.mapsMu.Unlock()

	id, ok := s.meta.getMapID(name)
	if !ok {
		id = s.meta.nextMapID()
		if err := s.meta.putName(name, id); err != nil {
			return nil, err
		}
		s.metaChanged = true
	}
	if m, ok := s.maps[id]; ok {
		if kv, ok := m.(KeyValueMap); ok {
			return kv, nil
		}
		return nil, fmt.Errorf("%w: map %q is not a key-value map", ErrIllegalArgument, name)
	}

	root, _ := s.layout.getRoot(id)
	tree := s.newTree(id, s.versions.currentVersion(), s.cfg.PageSplitSize, root, 0, s.readPage, s.onPageRemoved)
	s.maps[id] = tree
	return &trackedMap{KeyValueMap: tree, store: s}, nil
}

// trackedMap wraps a page-layer tree with the store's write-side bookkeeping
// (§4.8 "registerUnsavedMemory", "beforeWrite"): every Insert/Delete updates
// the racy unsaved-memory estimate and gives the background writer a chance
// to throttle a fast multi-writer via a synchronous commit.
type trackedMap struct {
	KeyValueMap
	store *Store
}

func (m *trackedMap) Insert(key, val []byte) error {
	err := m.KeyValueMap.Insert(key, val)
	if err == nil {
		m.store.registerUnsavedMemory(int64(len(key) + len(val) + 32))
		m.store.beforeWrite(m.MapID(), true)
	}
	return err
}

func (m *trackedMap) Delete(key []byte) bool {
	ok := m.KeyValueMap.Delete(key)
	if ok {
		m.store.registerUnsavedMemory(32)
		m.store.beforeWrite(m.MapID(), true)
	}
	return ok
}

// RemoveMap drops a named map entirely: its root, its name binding, and its
// meta-data line.
func (s *Store) RemoveMap(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mapsMu.Lock()
	defer s.mapsMu.Unlock()
	id, ok := s.meta.getMapID(name)
	if !ok {
		return nil
	}
	delete(s.maps, id)
	s.meta.removeName(name)
	s.meta.removeMapMeta(id)
	s.layout.removeRoot(id)
	s.metaChanged = true
	return nil
}

// readPage resolves a committed page position to its decoded Page,
// consulting the page cache first (§4.3 "readPage(map, pos)").
func (s *Store) readPage(pos PagePos) (Page, error) {
	if pos.IsZero() {
		return nil, fmt.Errorf("%w: read of zero page position", ErrFileCorrupt)
	}
	if v, ok := s.pageCache.Get(pos); ok {
		s.metrics.RecordPageCacheLookup(true)
		return v.(Page), nil
	}
	s.metrics.RecordPageCacheLookup(false)

	c, ok := s.chunks[pos.ChunkID()]
	if !ok {
		loaded, found, err := s.layout.getChunk(pos.ChunkID())
		if err != nil {
			return nil, err
		}
		if !found {
			if s.cfg.RecoveryMode {
				return s.pageLoader.LoadPage(0, pos, emptyLeafBytes(), true)
			}
			return nil, fmt.Errorf("%w: chunk %d", ErrChunkNotFound, pos.ChunkID())
		}
		s.chunks[pos.ChunkID()] = loaded
		c = loaded
	}

	raw, err := s.readPageBytes(c, pos)
	if err != nil {
		if s.cfg.RecoveryMode {
			return s.pageLoader.LoadPage(0, pos, emptyLeafBytes(), true)
		}
		return nil, err
	}

	page, err := s.pageLoader.LoadPage(0, pos, raw, pos.IsLeaf())
	if err != nil {
		if s.cfg.RecoveryMode {
			return s.pageLoader.LoadPage(0, pos, emptyLeafBytes(), true)
		}
		return nil, err
	}
	s.pageCache.Put(pos, page, page.MemoryEstimate())
	s.readCount.Add(1)
	return page, nil
}

func (s *Store) readPageBytes(c *chunk, pos PagePos) ([]byte, error) {
	off := int64(c.block*BlockSize) + int64(pos.Offset())
	maxLen := pos.MaxLength()
	buf := make([]byte, maxLen)
	n, err := s.file.ReadAt(buf, off)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (s *Store) readToC(c *chunk) ([]tocEntry, error) {
	if toc, ok := s.tocCache.Get(c.id); ok {
		s.metrics.RecordTocCacheLookup(true)
		return toc, nil
	}
	s.metrics.RecordTocCacheLookup(false)
	if c.tocPos == 0 || c.pageCount == 0 {
		return nil, nil
	}
	buf := make([]byte, c.pageCount*16)
	off := int64(c.block*BlockSize) + int64(c.tocPos)
	if _, err := s.file.ReadAt(buf, off); err != nil {
		return nil, err
	}
	toc := decodeToC(buf)
	s.tocCache.Put(c.id, toc)
	return toc, nil
}

// onPageRemoved is the Tree's notification that a previously-durable page
// became unreachable; it is routed to the occupancy ledger (§4.4).
func (s *Store) onPageRemoved(pos PagePos) {
	s.accountForRemovedPage(pos, s.versions.currentVersion(), false, -1)
}

func emptyLeafBytes() []byte {
	return nil
}
