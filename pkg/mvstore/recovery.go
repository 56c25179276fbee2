package mvstore

import (
	"fmt"
	"sort"
)

// recoverFromFile is §4.1's non-empty-file open path: read and validate the
// store header, locate the newest valid chunk (clean or dirty path), and
// rebuild the free-space map. Open scrubs the layout/meta maps afterwards.
func (s *Store) recoverFromFile() error {
	h, err := readStoreHeader(s.file)
	if err != nil {
		if !s.cfg.RecoveryMode {
			return err
		}
		h = storeHeader{H: headerMagic, BlockSize: BlockSize, Format: Format, FormatRead: Format, Created: uint64(nowMs())}
	}
	if err := validateFormat(h, s.cfg.ReadOnly); err != nil {
		return err
	}
	s.header = h
	s.createdAtMs = int64(h.Created)

	assumeClean := h.Clean == 1 && !s.cfg.RecoveryMode
	s.assumedCleanAtOpen = assumeClean

	var last *chunk
	if assumeClean {
		last, err = s.followCleanChain(uint32(h.Chunk), h.Block)
	}
	if last == nil {
		last, err = s.discoverChunkBackward()
		if err != nil && !s.cfg.RecoveryMode {
			return err
		}
	}
	s.lastChunk = last
	if last != nil {
		s.lastChunkID = last.id
		s.lastChunkIDAtOpen = last.id
		s.versions = newVersionManager(0)
		s.versions.current.version = last.version
	}

	s.rebuildFreeSpaceMap()
	return nil
}

// followCleanChain starts at the chunk the header points at and follows the
// `next` prediction as long as each following chunk's header+footer
// validate and its version strictly increases (§4.1 step 6 "Clean path").
func (s *Store) followCleanChain(firstID uint32, firstBlock uint64) (*chunk, error) {
	c, err := s.readChunkAt(firstID, firstBlock)
	if err != nil {
		return nil, nil
	}
	for {
		if c.next == 0 {
			return c, nil
		}
		next, err := s.readChunkAt(0, c.next)
		if err != nil || next.version <= c.version {
			return c, nil
		}
		c = next
	}
}

// discoverChunkBackward is §4.1 step 6's "Dirty path": scan the tail of the
// file backwards looking for matching chunk header/footer pairs, and rank
// candidates by (version DESC, block ASC) as the "last chunk" to trust.
func (s *Store) discoverChunkBackward() (*chunk, error) {
	size, err := s.file.Size()
	if err != nil {
		return nil, err
	}
	blocks := size / BlockSize
	var best *chunk
	for b := blocks - 1; b >= 2; b-- {
		c, err := s.tryReadChunkHeader(uint64(b))
		if err != nil {
			continue
		}
		if best == nil || c.version > best.version || (c.version == best.version && c.block < best.block) {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no valid chunk found during backward scan", ErrFileCorrupt)
	}
	return best, nil
}

func (s *Store) tryReadChunkHeader(block uint64) (*chunk, error) {
	buf := make([]byte, MaxHeaderLength)
	if _, err := s.file.ReadAt(buf, int64(block*BlockSize)); err != nil {
		return nil, err
	}
	line := cutAtNewline(buf)
	c, err := parseChunkMeta(string(line))
	if err != nil {
		return nil, err
	}
	c.block = block
	if err := s.verifyChunkFooter(c); err != nil {
		return nil, err
	}
	return c, nil
}

// verifyChunkFooter re-reads the footer block trailing a candidate chunk and
// checks its fletcher32 self-checksum plus its (chunk, version, block)
// triple against the header just parsed, rejecting a chunk whose tail was
// torn by a crash mid-write (§4.1 step 6, §7).
func (s *Store) verifyChunkFooter(c *chunk) error {
	blocks := c.blockCount()
	if blocks == 0 {
		return fmt.Errorf("%w: chunk %d has no recorded length", ErrFileCorrupt, c.id)
	}
	buf := make([]byte, FooterLength)
	off := int64(c.block*BlockSize) + int64(blocks*BlockSize) - int64(FooterLength)
	if _, err := s.file.ReadAt(buf, off); err != nil {
		return fmt.Errorf("%w: chunk %d footer read: %v", ErrFileCorrupt, c.id, err)
	}
	m, ok := verifyFletcherField(buf)
	if !ok {
		return fmt.Errorf("%w: chunk %d footer checksum", ErrFileCorrupt, c.id)
	}
	chunkID, _ := parseHexField(m, "chunk")
	version, _ := parseHexField(m, "version")
	block, _ := parseHexField(m, "block")
	if uint32(chunkID) != c.id || version != c.version || block != c.block {
		return fmt.Errorf("%w: chunk %d footer mismatches header", ErrFileCorrupt, c.id)
	}
	return nil
}

func (s *Store) readChunkAt(id uint32, block uint64) (*chunk, error) {
	c, err := s.tryReadChunkHeader(block)
	if err != nil {
		return nil, err
	}
	if id != 0 && c.id != id {
		return nil, fmt.Errorf("%w: chunk id mismatch at block %d", ErrFileCorrupt, block)
	}
	return c, nil
}

func cutAtNewline(buf []byte) []byte {
	for i, b := range buf {
		if b == '\n' {
			return buf[:i]
		}
	}
	return buf
}

// rebuildFreeSpaceMap seeds the free-space map from the one chunk recovery
// has found so far (the head of the chunk chain), enough to make the
// layout map itself readable. loadAllChunks completes the picture once the
// layout map is up, by walking every "chunk.<hex-id>" entry it records.
func (s *Store) rebuildFreeSpaceMap() {
	s.freeSpace = newFreeSpaceMap()
	if s.lastChunk != nil && s.lastChunk.block != unsetLocation {
		s.freeSpace.markUsed(s.lastChunk.block, s.lastChunk.blockCount())
		s.chunks[s.lastChunk.id] = s.lastChunk
	}
}

// loadAllChunks populates s.chunks and s.freeSpace from every chunk the
// layout map records, not just the single head chunk rebuildFreeSpaceMap
// bootstrapped with (§4.1 step 7: "mark [c.block, c.block+c.len) used for
// every saved chunk; enqueue non-live chunks onto the dead list"). Without
// this, an older, still-referenced chunk's blocks read as free right after
// a reopen, and the very next commit's allocator can legitimately hand
// that range back out and overwrite it.
func (s *Store) loadAllChunks() {
	type deadEntry struct {
		id     uint32
		unused int64
	}
	var dead []deadEntry
	s.layout.scanChunks(func(c *chunk) bool {
		s.chunks[c.id] = c
		if c.block != unsetLocation {
			s.freeSpace.markUsed(c.block, c.blockCount())
		}
		if c.isDead() && c.unused != 0 {
			dead = append(dead, deadEntry{id: c.id, unused: c.unused})
		}
		return true
	})
	sort.Slice(dead, func(i, j int) bool { return dead[i].unused < dead[j].unused })
	for _, d := range dead {
		s.deadChunks = append(s.deadChunks, d.id)
	}
}

// scrubLayoutMap moves stray "name."/"map." entries from the layout map
// into the meta map, and drops "root.*" entries whose map no longer exists
// (§4.1 step 8). Called once meta and layout are both wired up.
func (s *Store) scrubLayoutMap() {
	var strays [][2][]byte
	s.layout.scanStray(func(k, v []byte) bool {
		strays = append(strays, [2][]byte{k, v})
		return true
	})
	for _, kv := range strays {
		s.meta.m.Insert(kv[0], kv[1])
		s.layout.m.Delete(kv[0])
	}

	known := make(map[uint32]bool)
	s.meta.scanMapMeta(func(id uint32, _ string) bool { known[id] = true; return true })
	s.meta.scanNames(func(_ string, id uint32) bool { known[id] = true; return true })

	var staleRoots []uint32
	s.layout.scanRoots(func(mapID uint32, _ PagePos) bool {
		if !known[mapID] && mapID != 0 && mapID != s.meta.lastAllocatedMapID() {
			staleRoots = append(staleRoots, mapID)
		}
		return true
	})
	for _, id := range staleRoots {
		s.layout.removeRoot(id)
	}
}

// scrubMetaMap enforces the name<->id bijection and bumps lastMapId to the
// highest id observed anywhere in meta (§4.1 step 9).
func (s *Store) scrubMetaMap() {
	highest := uint32(0)
	s.meta.scanNames(func(_ string, id uint32) bool {
		if id > highest {
			highest = id
		}
		return true
	})
	s.meta.scanMapMeta(func(id uint32, _ string) bool {
		if id > highest {
			highest = id
		}
		return true
	})
	s.meta.bumpMapID(highest)
}
