package mvstore

import "time"

// startBackgroundWriter launches the daemon that drives auto-commit and
// auto-compaction (§4.8). It wakes every max(1, delay/10) ms.
func (s *Store) startBackgroundWriter() {
	s.bgStop = make(chan struct{})
	s.bgDone = make(chan struct{})
	interval := time.Duration(s.cfg.AutoCommitDelayMs) * time.Millisecond / 10
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	go s.backgroundLoop(interval)
}

func (s *Store) backgroundLoop(interval time.Duration) {
	defer close(s.bgDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.bgStop:
			return
		case <-ticker.C:
			s.runBackgroundIteration()
		}
	}
}

// runBackgroundIteration is one pass of §4.8's three-step policy. Errors
// are routed to the user-supplied handler and swallowed, except panics
// already recorded by the commit/compact paths (those re-raise on the next
// public call via s.panicked).
func (s *Store) runBackgroundIteration() {
	defer func() {
		if r := recover(); r != nil {
			if s.cfg.BackgroundExceptionHandler != nil {
				if err, ok := r.(error); ok {
					s.cfg.BackgroundExceptionHandler(err)
				}
			}
		}
	}()

	idle := s.isIdle()
	now := nowMs()

	if s.cfg.AutoCommitDelayMs > 0 && now-s.lastCommitTimeMs > int64(s.cfg.AutoCommitDelayMs) {
		s.tryCommit()
	}

	target := s.cfg.AutoCompactFillRate
	autoCommitMemory := int64(s.cfg.AutoCommitBufferSizeKB) << 10
	if autoCommitMemory == 0 {
		autoCommitMemory = 1 << 20
	}

	fillRate := s.freeSpace.getFillRate()
	if s.freeSpace.isFragmented() && fillRate < target {
		moveSize := autoCommitMemory
		if idle {
			moveSize *= 4
		}
		if _, _, err := s.compactMoveChunks(101, moveSize); err != nil && s.cfg.BackgroundExceptionHandler != nil {
			s.cfg.BackgroundExceptionHandler(err)
		}
		return
	}

	if fillRate >= target {
		chunksFillRate := s.getRewritableChunksFillRate()
		if idle {
			chunksFillRate = 100 - (100-chunksFillRate)/2
		}
		if chunksFillRate < target {
			writeLimit := autoCommitMemory * int64(fillRate) / int64(max1(chunksFillRate))
			if !idle {
				writeLimit /= 4
			}
			touched, _, err := s.rewriteChunks(writeLimit, chunksFillRate)
			if err != nil && s.cfg.BackgroundExceptionHandler != nil {
				s.cfg.BackgroundExceptionHandler(err)
			}
			if err == nil && touched > 0 {
				s.dropUnusedChunks(now)
			}
		}
	}
}

// getRewritableChunksFillRate estimates the fill rate of the set of chunks
// that would be eligible for the rewrite strategy right now.
func (s *Store) getRewritableChunksFillRate() int {
	var totalMax, totalLive int64
	now := nowMs()
	for _, c := range s.chunks {
		if !c.isLive() || now-s.createdAtMs < c.time+s.retentionTimeMs {
			continue
		}
		totalMax += c.maxLen
		totalLive += c.maxLenLive
	}
	if totalMax == 0 {
		return 100
	}
	return int(totalLive * 100 / totalMax)
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// isIdle reports whether no reads or writes happened since the last
// iteration (§4.8 "Idle = no reads or writes since the last background
// iteration").
func (s *Store) isIdle() bool {
	r := s.readCount.Load()
	w := s.writeCount
	idle := r == s.prevReadCount && w == s.prevWriteCount
	s.prevReadCount = r
	s.prevWriteCount = w
	return idle
}

// registerUnsavedMemory accumulates a non-atomic estimate of unsaved memory
// (§5 "unsavedMemory: intentionally racy counter"), and flags saveNeeded
// once it crosses the configured threshold.
func (s *Store) registerUnsavedMemory(delta int64) {
	s.unsavedMemory += delta
	threshold := int64(s.cfg.AutoCommitBufferSizeKB) << 10
	if threshold > 0 && s.unsavedMemory > threshold {
		s.saveNeeded = true
	}
}

// beforeWrite throttles writers per §4.8: a heavily multi-writer map under
// memory pressure gets a synchronous commit; otherwise a best-effort
// tryCommit.
func (s *Store) beforeWrite(mapID uint32, multiWriter bool) {
	s.writeCount++
	threshold := int64(s.cfg.AutoCommitBufferSizeKB) << 10
	if threshold > 0 && 3*s.unsavedMemory > 4*threshold && multiWriter {
		s.commit()
		return
	}
	s.tryCommit()
}
