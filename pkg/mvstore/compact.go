package mvstore

import (
	"sort"
	"time"
)

// rewriteChunks implements §4.5's "Rewrite" compaction strategy: pick
// low-fill, seasoned chunks and re-home their still-live pages into the
// next commit. Each candidate chunk's ToC is walked twice: first for leaf
// pages, then for interior pages.
func (s *Store) rewriteChunks(writeLimit int64, targetFillRate int) (int, int64, error) {
	now := nowMs()
	type candidate struct {
		c        *chunk
		priority int64
	}
	var candidates []candidate
	for _, c := range s.chunks {
		if !c.isLive() || c.fillRate() > targetFillRate {
			continue
		}
		if now-s.createdAtMs < c.time+s.retentionTimeMs {
			continue // not seasoned yet
		}
		age := s.versions.currentVersion() - c.version
		if age < 1 {
			age = 1
		}
		priority := int64(c.fillRate()) * 1000 / int64(age)
		candidates = append(candidates, candidate{c: c, priority: priority})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].priority < candidates[j].priority })

	touched := 0
	var budget int64
	for _, cand := range candidates {
		if budget >= writeLimit {
			break
		}
		toc, err := s.readToC(cand.c)
		if err != nil {
			continue
		}
		s.rewriteChunkPages(cand.c, toc, true)  // leaves
		s.rewriteChunkPages(cand.c, toc, false) // interior
		budget += cand.c.maxLenLive
		touched++
	}
	return touched, budget, nil
}

func (s *Store) rewriteChunkPages(c *chunk, toc []tocEntry, leavesOnly bool) {
	for i, e := range toc {
		if c.isPageDead(i) || e.leaf != leavesOnly {
			continue
		}
		s.mapsMu.RLock()
		m, ok := s.maps[e.mapID]
		if !ok && e.mapID == 0 {
			m, ok = wrapAsMap(s.layoutTree), true
		}
		s.mapsMu.RUnlock()
		if !ok {
			continue
		}
		m.RewritePage(e.pos(c.id))
	}
}

func wrapAsMap(kv KeyValueMap) Map { return kv }

// compactMoveChunks implements §4.5's "Move" strategy: relocate chunks
// sitting past the free-space frontier toward the start of the file to
// shrink the tail, bounded by moveSize bytes and only when the overall
// fill rate is already at or below targetFillRate.
func (s *Store) compactMoveChunks(targetFillRate int, moveSize int64) (int, int64, error) {
	if s.cfg.NoReuseSpace {
		// Moves relocate a chunk into a hole below the high-water mark,
		// which is exactly the in-place overwrite an online-backup reader
		// must not observe (§9 "moves are only attempted when reuseSpace
		// is true").
		return 0, 0, nil
	}
	if s.freeSpace.getFillRate() > targetFillRate {
		return 0, 0, nil
	}
	if _, err := s.commit(); err != nil {
		return 0, 0, err
	}

	firstFree := s.freeSpace.getFirstFree()
	type candidate struct {
		c        *chunk
		priority int
	}
	var candidates []candidate
	for _, c := range s.chunks {
		if c.block == unsetLocation || c.block <= firstFree {
			continue
		}
		candidates = append(candidates, candidate{c: c, priority: s.freeSpace.getMovePriority(c.block)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].c.block > candidates[j].c.block
	})

	moved := 0
	var movedBlocks int64
	blockBudget := moveSize / BlockSize
	for _, cand := range candidates {
		if movedBlocks >= blockBudget {
			break
		}
		if err := s.moveChunk(cand.c); err != nil {
			return moved, movedBlocks * BlockSize, err
		}
		movedBlocks += int64(cand.c.blockCount())
		moved++
	}
	if err := s.file.Sync(); err != nil {
		return moved, movedBlocks * BlockSize, err
	}
	return moved, movedBlocks * BlockSize, nil
}

// moveChunk relocates a chunk's physical image to a new block, re-emitting
// its header/footer with the patched block and a cleared `next` (§4.5 step
// "Move" substeps 1-3).
func (s *Store) moveChunk(c *chunk) error {
	oldBlocks := c.blockCount()
	buf := make([]byte, oldBlocks*BlockSize)
	if _, err := s.file.ReadAt(buf, int64(c.block*BlockSize)); err != nil {
		return err
	}

	newBlock := s.freeSpace.allocate(oldBlocks, 0, c.block+oldBlocks)
	oldBlock := c.block
	c.block = newBlock
	c.next = 0

	header := []byte(c.metaLine())
	padded := make([]byte, MaxHeaderLength)
	copy(padded, header)
	copy(buf, padded)
	footer := c.footerLine()
	copy(buf[len(buf)-FooterLength:], footer)

	if _, err := s.file.WriteAt(buf, int64(newBlock*BlockSize)); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}

	s.freeSpace.free(oldBlock, oldBlocks)
	if err := s.layout.putChunk(c); err != nil {
		return err
	}
	return nil
}

// compactFile implements §4.5's compactFile(maxMs): alternate rewrite and
// move passes at a 95% target fill rate and a 16 MiB move budget, bounded
// by a wall-clock deadline.
func (s *Store) compactFile(maxDur time.Duration) error {
	deadline := time.Now().Add(maxDur)
	const targetFillRate = 95
	const moveSizeBytes = 16 << 20

	for time.Now().Before(deadline) {
		rewriteStart := time.Now()
		touched, reclaimed, err := s.rewriteChunks(moveSizeBytes, targetFillRate)
		if err != nil {
			s.panicStore(err)
			return err
		}
		if touched > 0 {
			if _, err := s.commit(); err != nil {
				s.panicStore(err)
				return err
			}
			s.dropUnusedChunks(nowMs())
			dur := time.Since(rewriteStart)
			s.metrics.RecordCompaction("rewrite", reclaimed, dur)
			s.log.LogCompaction("rewrite", touched, reclaimed, dur)
		}

		moveStart := time.Now()
		moved, movedBytes, err := s.compactMoveChunks(targetFillRate, moveSizeBytes)
		if err != nil {
			s.panicStore(err)
			return err
		}
		if moved > 0 {
			dur := time.Since(moveStart)
			s.metrics.RecordCompaction("move", movedBytes, dur)
			s.log.LogCompaction("move", moved, movedBytes, dur)
		}
		if moved == 0 && touched == 0 {
			break
		}
	}

	size, err := s.file.Size()
	if err == nil {
		after := s.freeSpace.getAfterLastBlock() * BlockSize
		if int64(after) < size {
			s.file.Truncate(int64(after))
		}
	}
	return nil
}
