package mvstore

import (
	"fmt"
	"time"
)

// tryCommit returns immediately without committing if storeLock is already
// held (§4.2 "tryCommit: returns immediately if storeLock is already held
// non-reentrantly or cannot be acquired").
func (s *Store) tryCommit() (uint64, bool) {
	if !s.storeLock.TryLock() {
		return 0, false
	}
	v, err := s.commitLocked()
	s.storeLock.Unlock()
	if err != nil {
		s.panicStore(err)
		return 0, false
	}
	return v, true
}

// commit acquires storeLock unconditionally and runs the pipeline.
func (s *Store) commit() (uint64, error) {
	s.storeLock.Lock()
	defer s.storeLock.Unlock()
	return s.commitLocked()
}

func (s *Store) commitLocked() (uint64, error) {
	if !s.hasUnsavedChanges() {
		return s.versions.currentVersion(), nil
	}
	if s.currentStoreVersion >= 0 {
		return 0, fmt.Errorf("%w: commit re-entered while version %d in flight", ErrInternal, s.currentStoreVersion)
	}

	start := time.Now()
	now := nowMs()

	// 1. Drop dead chunks past retention (§4.4).
	s.dropUnusedChunks(now)

	// 2. Assign the new version.
	currentStoreVersion := int64(s.versions.currentVersion())
	V := currentStoreVersion + 1
	s.currentStoreVersion = currentStoreVersion
	defer func() { s.currentStoreVersion = -1 }()

	// 3. Collect changed roots.
	changedRoots, metaChanged := s.collectChangedRoots(uint64(V))

	// 4/5. Serialize under serializationLock.
	s.serializationLock.Lock()
	c, buf, err := s.serializeAndStore(uint64(V), now, changedRoots, metaChanged)
	s.serializationLock.Unlock()
	if err != nil {
		return 0, err
	}
	if c == nil {
		// nothing new to persist this round (e.g. only volatile maps changed)
		s.versions.onVersionChange(uint64(V))
		return uint64(V), nil
	}

	// 6. Persist the buffer.
	if err := s.storeBuffer(c, buf); err != nil {
		return 0, err
	}

	s.versions.onVersionChange(uint64(V))
	s.lastCommitTimeMs = now
	s.unsavedMemory = 0
	s.saveNeeded = false

	dur := time.Since(start)
	s.metrics.RecordCommit(uint64(V), len(buf), dur)
	s.log.LogCommit(uint64(V), c.id, len(buf), dur)

	return uint64(V), nil
}

func (s *Store) hasUnsavedChanges() bool {
	if s.metaChanged || (s.metaTree != nil && s.metaTree.IsChangedSince(s.versions.currentVersion())) {
		return true
	}
	s.mapsMu.RLock()
	defer s.mapsMu.RUnlock()
	for _, m := range s.maps {
		if m.IsChangedSince(s.versions.currentVersion()) {
			return true
		}
	}
	return false
}

// collectChangedRoots gathers the maps whose root must be (re-)serialized
// this commit (§4.2 step 3).
func (s *Store) collectChangedRoots(v uint64) ([]Map, bool) {
	s.mapsMu.RLock()
	defer s.mapsMu.RUnlock()
	var roots []Map
	for id, m := range s.maps {
		if m.CreateVersion() >= v {
			continue
		}
		if m.IsChangedSince(v) {
			roots = append(roots, m)
		} else if m.TotalCount() == 0 && m.RootPos().IsZero() {
			s.layout.removeRoot(id)
		}
	}
	metaChanged := s.metaChanged || s.metaTree.IsChangedSince(v)
	return roots, metaChanged
}

// serializeAndStore is §4.2 step 5: allocate a chunk id, serialize every
// changed root (and the layout/meta maps) into a pooled write buffer,
// emit the ToC, and compute the chunk's physical placement.
func (s *Store) serializeAndStore(v uint64, now int64, changedRoots []Map, metaChanged bool) (*chunk, []byte, error) {
	id := s.allocateChunkID()
	c := newChunk(id)
	c.version = v
	c.time = now - s.createdAtMs

	w := newChunkWriter(id, MaxHeaderLength)

	for _, m := range changedRoots {
		w.setMap(m.MapID())
		root, err := m.WriteTo(w)
		if err != nil {
			return nil, nil, err
		}
		if m.TotalCount() > 0 {
			if err := s.layout.putRoot(m.MapID(), root); err != nil {
				return nil, nil, err
			}
		} else {
			s.layout.removeRoot(m.MapID())
		}
	}

	s.acceptChunkOccupancyChanges(now, v)

	if metaChanged {
		s.meta.putStoreVersion(v)
		w.setMap(s.metaTree.MapID())
		metaRoot, err := s.metaTree.WriteTo(w)
		if err != nil {
			return nil, nil, err
		}
		if err := s.layout.putRoot(s.metaTree.MapID(), metaRoot); err != nil {
			return nil, nil, err
		}
		s.metaChanged = false
	}

	w.setMap(0)
	layoutRoot, err := s.layoutTree.WriteTo(w)
	if err != nil {
		return nil, nil, err
	}
	c.layoutRootPos = layoutRoot
	c.mapID = s.meta.lastAllocatedMapID()

	toc := w.ToC()
	c.pageCount = int64(len(toc))
	c.pageCountLive = c.pageCount
	c.tocPos = uint64(w.Len())
	for _, e := range toc {
		n := DecodeLengthCode(e.lengthCode)
		c.maxLen += int64(n)
		c.maxLenLive += int64(n)
	}
	tocBytes := encodeToC(toc)
	w.reserveHeader(w.Len())
	buf := append(w.Bytes(), tocBytes...)

	blocks := (len(buf) + BlockSize - 1) / BlockSize
	totalBlocks := uint64(blocks) + 1 // + footer block

	s.saveChunkLock.Lock()
	filePos := s.allocateBlocks(totalBlocks, 0, 0)
	c.block = filePos
	c.len = totalBlocks
	c.next = s.predictBlocks(totalBlocks, 0, 0)
	s.saveChunkLock.Unlock()

	header := c.metaLine()
	headerBytes := []byte(header)
	if len(headerBytes) > MaxHeaderLength {
		return nil, nil, fmt.Errorf("%w: chunk header overflow", ErrInternal)
	}
	padded := make([]byte, MaxHeaderLength)
	copy(padded, headerBytes)
	copy(buf, padded)

	final := make([]byte, int(totalBlocks)*BlockSize)
	copy(final, buf)
	footer := c.footerLine()
	copy(final[len(final)-FooterLength:], footer)

	s.chunks[c.id] = c
	s.tocCache.Put(c.id, toc)

	if err := s.layout.putChunk(c); err != nil {
		return nil, nil, err
	}

	return c, final, nil
}

func (s *Store) allocateChunkID() uint32 {
	for {
		s.lastChunkID = (s.lastChunkID + 1) % uint32(MaxChunkID)
		if _, ok := s.chunks[s.lastChunkID]; !ok {
			return s.lastChunkID
		}
	}
}

// storeBuffer is §4.2 step 6: write the chunk image, decide whether to
// rewrite the store header, and release buffers.
func (s *Store) storeBuffer(c *chunk, buf []byte) error {
	s.saveChunkLock.Lock()
	defer s.saveChunkLock.Unlock()

	off := int64(c.block * BlockSize)
	if _, err := s.file.WriteAt(buf, off); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.bufPool.release(buf)

	writeHeader := s.shouldWriteHeader(c)
	s.lastChunk = c
	if writeHeader {
		s.header.Chunk = uint64(c.id)
		s.header.Block = c.block
		s.header.Version = c.version
		s.header.Clean = 0
		if err := writeStoreHeader(s.file, s.header); err != nil {
			return err
		}
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// shouldWriteHeader implements §4.2 step 6's header-rewrite predicate.
func (s *Store) shouldWriteHeader(c *chunk) bool {
	if s.header.Chunk == 0 && s.header.Block == 0 && s.header.Clean == 1 {
		return true
	}
	if c.version > s.header.Version && c.version-s.header.Version > 20 {
		return true
	}
	for id := s.header.Chunk; id < uint64(c.id); id++ {
		if _, ok := s.chunks[uint32(id)]; !ok {
			return true
		}
	}
	if s.header.Clean == 1 {
		return true
	}
	return s.lastChunk == nil || s.lastChunk.next != c.block
}

func (c *chunk) footerLine() []byte {
	values := map[string]uint64{
		"chunk":   uint64(c.id),
		"version": c.version,
		"block":   c.block,
	}
	body := buildTextMap([]string{"chunk", "version", "block"}, values)
	full := appendFletcherField(body)
	padded := make([]byte, FooterLength)
	copy(padded, full)
	return padded
}
