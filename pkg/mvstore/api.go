package mvstore

import "time"

// Commit forces a synchronous commit, returning the version just committed.
func (s *Store) Commit() (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.commit()
}

// Compact runs one bounded compaction pass (rewrite + move), per §4.5
// compactFile. maxDur bounds the wall-clock time spent.
func (s *Store) Compact(maxDur time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.compactFile(maxDur)
}

// CurrentVersion returns the store's current committed version.
func (s *Store) CurrentVersion() uint64 { return s.versions.currentVersion() }

// Stats is a snapshot of store-level counters, useful for diagnostics and
// tests (§8 testable properties reference these quantities directly).
type Stats struct {
	CurrentVersion      uint64
	ChunkCount          int
	LiveChunkCount      int
	DeadChunkCount      int
	FillRatePercent     int
	OldestVersionToKeep uint64
}

func (s *Store) Stats() Stats {
	live, dead := 0, 0
	for _, c := range s.chunks {
		if c.isLive() {
			live++
		} else {
			dead++
		}
	}
	return Stats{
		CurrentVersion:      s.versions.currentVersion(),
		ChunkCount:          len(s.chunks),
		LiveChunkCount:      live,
		DeadChunkCount:      dead,
		FillRatePercent:     s.freeSpace.getFillRate(),
		OldestVersionToKeep: s.versions.getOldestVersionToKeep(),
	}
}
