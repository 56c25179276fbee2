package mvstore

import "container/heap"

// removedPageInfo is one pending page removal, keyed for priority-queue
// ordering by the version at which the removal became visible (§4.4
// "RemovedPageInfo{version, encodedPosWithPageNo, pinned}").
type removedPageInfo struct {
	version uint64
	pos     PagePos
	pageNo  int
	pinned  bool
}

// removedPageQueue is a min-heap ordered by version, so
// acceptChunkOccupancyChanges can cheaply drain every entry older than a
// cutoff version.
type removedPageQueue []*removedPageInfo

func (q removedPageQueue) Len() int            { return len(q) }
func (q removedPageQueue) Less(i, j int) bool  { return q[i].version < q[j].version }
func (q removedPageQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *removedPageQueue) Push(x interface{}) { *q = append(*q, x.(*removedPageInfo)) }
func (q *removedPageQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// accountForRemovedPage enqueues a page removal to be accounted against
// chunk occupancy by the first commit of a version later than the one
// given (acceptChunkOccupancyChanges); open readers do not delay it, they
// only hold back dead-chunk GC (§4.4). pageNo may be -1, meaning "unknown, recover it from the chunk's
// ToC when the removal is actually applied".
func (s *Store) accountForRemovedPage(pos PagePos, version uint64, pinned bool, pageNo int) {
	s.occMu.Lock()
	defer s.occMu.Unlock()
	heap.Push(&s.removedPages, &removedPageInfo{version: version, pos: pos, pageNo: pageNo, pinned: pinned})
}

// acceptChunkOccupancyChanges drains every queued removal with
// version < upToVersion, updates the owning chunk's live counters, and
// re-serializes any chunk's metadata line that changed. It loops because
// re-serializing a chunk's layout entry can itself enqueue a removal for
// the page image the old layout line occupied (§4.4: "the re-serialization
// itself can add removals").
func (s *Store) acceptChunkOccupancyChanges(now int64, upToVersion uint64) {
	for {
		touched := s.drainRemovedPagesLocked(upToVersion)
		if len(touched) == 0 {
			return
		}
		for id := range touched {
			c, ok := s.chunks[id]
			if !ok {
				continue
			}
			if c.isDead() && c.unused == 0 {
				c.unused = now
				c.unusedAtVersion = upToVersion
				s.deadChunks = append(s.deadChunks, c.id)
			}
			if err := s.layout.putChunk(c); err != nil {
				s.panicStore(err)
				return
			}
		}
	}
}

func (s *Store) drainRemovedPagesLocked(upToVersion uint64) map[uint32]bool {
	s.occMu.Lock()
	defer s.occMu.Unlock()
	touched := make(map[uint32]bool)
	for s.removedPages.Len() > 0 && s.removedPages[0].version < upToVersion {
		info := heap.Pop(&s.removedPages).(*removedPageInfo)
		c, ok := s.chunks[info.pos.ChunkID()]
		if !ok {
			continue
		}
		pageNo := info.pageNo
		if pageNo < 0 {
			toc, err := s.readToC(c)
			if err != nil {
				continue
			}
			pageNo, ok = pageNoForOffset(toc, info.pos.Offset())
			if !ok {
				continue
			}
		}
		if c.markPageDead(pageNo, info.pos.MaxLength()) {
			touched[c.id] = true
		}
	}
	return touched
}

// dropUnusedChunks reclaims dead chunks past retention, under storeLock
// (§4.4 "Dead-chunk GC"). It stops at the first chunk not yet eligible,
// since the dead deque is ordered by the time each chunk died.
func (s *Store) dropUnusedChunks(now int64) {
	oldestVersionToKeep := s.versions.getOldestVersionToKeep()
	if (s.cfg.FileName != "" || s.cfg.FileStore != nil) && s.lastChunk != nil &&
		s.lastChunk.version > 0 && s.lastChunk.version-1 < oldestVersionToKeep {
		oldestVersionToKeep = s.lastChunk.version - 1
	}
	for len(s.deadChunks) > 0 {
		id := s.deadChunks[0]
		c, ok := s.chunks[id]
		if !ok {
			s.deadChunks = s.deadChunks[1:]
			continue
		}
		if now < c.unused+s.retentionTimeMs || c.unusedAtVersion >= oldestVersionToKeep {
			return
		}
		s.deadChunks = s.deadChunks[1:]
		delete(s.chunks, id)
		if toc, err := s.readToC(c); err == nil {
			for _, e := range toc {
				s.pageCache.Remove(e.pos(c.id))
			}
		}
		s.tocCache.Remove(c.id)
		s.layout.removeChunk(c.id)
		if c.block != unsetLocation {
			s.freeSpace.free(c.block, c.blockCount())
		}
		s.metrics.ChunkGCTotal.Inc()
	}
}
