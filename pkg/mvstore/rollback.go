package mvstore

import "fmt"

// RollbackTo implements §4.7. Version 0 is a full in-memory reset; any
// other version must be present in the chunk chain with every chunk its
// layout references still physically on disk.
func (s *Store) RollbackTo(v uint64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.storeLock.Lock()
	defer s.storeLock.Unlock()

	if v == 0 {
		return s.rollbackToZeroLocked()
	}
	if !s.isKnownVersionLocked(v) {
		return fmt.Errorf("%w: unknown version %d", ErrIllegalArgument, v)
	}

	target, _ := s.getChunkForVersion(v)
	s.layoutTree = s.newTree(0, 0, s.cfg.PageSplitSize, target.layoutRootPos, 0, s.readPage, s.onPageRemoved)
	s.layout = newLayoutMap(s.layoutTree)
	if metaRoot, ok := s.layout.getRoot(s.metaTree.MapID()); ok {
		s.metaTree.SetRootPos(metaRoot, s.metaTree.TotalCount())
	}

	s.mapsMu.Lock()
	for id, m := range s.maps {
		if m.CreateVersion() >= v {
			delete(s.maps, id)
			continue
		}
		root, ok := s.layout.getRoot(id)
		if !ok {
			root = 0
		}
		m.SetRootPos(root, m.TotalCount())
	}
	s.mapsMu.Unlock()

	s.occMu.Lock()
	s.removedPages = nil
	s.occMu.Unlock()
	s.deadChunks = nil

	if c, ok := s.getChunkForVersion(v); ok {
		s.lastChunk = c
		s.header.Clean = 1
		s.header.Chunk = uint64(c.id)
		s.header.Block = c.block
		s.header.Version = c.version
		if err := writeStoreHeader(s.file, s.header); err != nil {
			return err
		}
		if h, err := readStoreHeader(s.file); err == nil {
			s.header = h
		}
	}

	s.versions = newVersionManager(0)
	s.versions.current.version = v
	s.pageCache = newPageCache(s.cfg.CacheSizeMB<<20, s.cfg.CacheConcurrency)
	s.tocCache = newTocCache(1 << 20)
	return nil
}

func (s *Store) rollbackToZeroLocked() error {
	s.mapsMu.Lock()
	s.maps = make(map[uint32]Map)
	s.mapsMu.Unlock()

	s.occMu.Lock()
	s.removedPages = nil
	s.occMu.Unlock()

	s.chunks = make(map[uint32]*chunk)
	s.deadChunks = nil
	s.freeSpace = newFreeSpaceMap()
	s.pageCache = newPageCache(s.cfg.CacheSizeMB<<20, s.cfg.CacheConcurrency)
	s.tocCache = newTocCache(1 << 20)
	s.lastChunk = nil
	s.versions = newVersionManager(0)

	s.layoutTree = s.newTree(0, 0, s.cfg.PageSplitSize, 0, 0, s.readPage, s.onPageRemoved)
	s.layout = newLayoutMap(s.layoutTree)
	metaID := uint32(1)
	s.layout.putMetaID(metaID)
	s.metaTree = s.newTree(metaID, 0, s.cfg.PageSplitSize, 0, 0, s.readPage, s.onPageRemoved)
	s.meta = newMetaMap(s.metaTree)
	s.meta.bumpMapID(metaID)
	return nil
}

// isKnownVersionLocked reports whether a chunk with version v is in the
// chunk registry. It does not check that the chunks referenced by the
// layout at v are still on disk.
func (s *Store) isKnownVersionLocked(v uint64) bool {
	for _, c := range s.chunks {
		if c.version == v {
			return true
		}
	}
	return false
}

func (s *Store) getChunkForVersion(v uint64) (*chunk, bool) {
	for _, c := range s.chunks {
		if c.version == v {
			return c, true
		}
	}
	return nil, false
}
