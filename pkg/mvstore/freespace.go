package mvstore

import "math/bits"

// freeSpaceMap is a block-granularity bitmap over the file, the "free-space
// map" of §4.4. Block 0 and 1 (the two header copies) are marked used at
// construction and never handed out.
type freeSpaceMap struct {
	words []uint64 // bit i set => block i in use
}

func newFreeSpaceMap() *freeSpaceMap {
	f := &freeSpaceMap{}
	f.markUsed(0, 2) // the two header blocks
	return f
}

func (f *freeSpaceMap) ensure(blocks uint64) {
	needWords := int((blocks + 63) / 64)
	if needWords > len(f.words) {
		grown := make([]uint64, needWords)
		copy(grown, f.words)
		f.words = grown
	}
}

func (f *freeSpaceMap) get(block uint64) bool {
	w := block / 64
	if int(w) >= len(f.words) {
		return false
	}
	return f.words[w]&(1<<uint(block%64)) != 0
}

func (f *freeSpaceMap) set(block uint64, used bool) {
	f.ensure(block + 1)
	w := block / 64
	bit := uint64(1) << uint(block%64)
	if used {
		f.words[w] |= bit
	} else {
		f.words[w] &^= bit
	}
}

func (f *freeSpaceMap) markUsed(startBlock, count uint64) {
	for b := startBlock; b < startBlock+count; b++ {
		f.set(b, true)
	}
}

func (f *freeSpaceMap) free(startBlock, count uint64) {
	for b := startBlock; b < startBlock+count; b++ {
		f.set(b, false)
	}
}

// getAfterLastBlock returns one past the highest block ever marked used.
func (f *freeSpaceMap) getAfterLastBlock() uint64 {
	for w := len(f.words) - 1; w >= 0; w-- {
		if f.words[w] == 0 {
			continue
		}
		top := 63 - bits.LeadingZeros64(f.words[w])
		return uint64(w)*64 + uint64(top) + 1
	}
	return 0
}

// getFirstFree returns the lowest free block.
func (f *freeSpaceMap) getFirstFree() uint64 {
	for w := 0; w < len(f.words); w++ {
		if f.words[w] == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^f.words[w])
		return uint64(w)*64 + uint64(bit)
	}
	return uint64(len(f.words)) * 64
}

// findFreeRun returns the first block of a run of `count` consecutive free
// blocks at or after `from`, or false if none exists below the current
// high-water mark (callers fall back to appending at getAfterLastBlock()).
func (f *freeSpaceMap) findFreeRun(count, from, avoidLow, avoidHigh uint64) (uint64, bool) {
	limit := f.getAfterLastBlock()
	b := from
	for b+count <= limit {
		if avoidHigh > avoidLow && b < avoidHigh && b+count > avoidLow {
			b = avoidHigh
			continue
		}
		run := uint64(0)
		for run < count && !f.get(b+run) {
			run++
		}
		if run == count {
			return b, true
		}
		b += run + 1
	}
	return 0, false
}

// allocate reserves `count` blocks, preferring a hole in [0, afterLastBlock)
// and avoiding [reservedLow, reservedHigh) (reservedHigh==0 means no
// exclusion window), falling back to appending past the end of file.
func (f *freeSpaceMap) allocate(count, reservedLow, reservedHigh uint64) uint64 {
	if block, ok := f.findFreeRun(count, 0, reservedLow, reservedHigh); ok {
		f.markUsed(block, count)
		return block
	}
	block := f.getAfterLastBlock()
	if reservedHigh > reservedLow && block < reservedHigh && block+count > reservedLow {
		block = reservedHigh
	}
	f.markUsed(block, count)
	return block
}

// predictAllocation is the non-mutating twin of allocate, used to compute a
// chunk's "next" field (§4.2 step 5) without committing the reservation.
func (f *freeSpaceMap) predictAllocation(count, reservedLow, reservedHigh uint64) uint64 {
	if block, ok := f.findFreeRun(count, 0, reservedLow, reservedHigh); ok {
		return block
	}
	block := f.getAfterLastBlock()
	if reservedHigh > reservedLow && block < reservedHigh && block+count > reservedLow {
		block = reservedHigh
	}
	return block
}

// getFillRate returns the percentage of blocks below the high-water mark
// that are in use.
func (f *freeSpaceMap) getFillRate() int {
	total := f.getAfterLastBlock()
	if total == 0 {
		return 100
	}
	used := uint64(0)
	for b := uint64(0); b < total; b++ {
		if f.get(b) {
			used++
		}
	}
	return int(used * 100 / total)
}

// getProjectedFillRate estimates the fill rate if extraFreeBlocks additional
// blocks below the high-water mark became free (used by the background
// writer to decide whether compaction would reach its target).
func (f *freeSpaceMap) getProjectedFillRate(extraFreeBlocks uint64) int {
	total := f.getAfterLastBlock()
	if total == 0 {
		return 100
	}
	used := uint64(0)
	for b := uint64(0); b < total; b++ {
		if f.get(b) {
			used++
		}
	}
	if used > extraFreeBlocks {
		used -= extraFreeBlocks
	} else {
		used = 0
	}
	return int(used * 100 / total)
}

// getMovePriority ranks how attractive moving the chunk at `block` toward
// file-start would be: simply its distance past the first free block,
// scaled so chunks deep past the frontier sort first.
func (f *freeSpaceMap) getMovePriority(block uint64) int {
	first := f.getFirstFree()
	if block <= first {
		return 0
	}
	return int(block - first)
}

// isFragmented reports whether there are free holes below the high-water
// mark (i.e. the file isn't a single compact used-prefix).
func (f *freeSpaceMap) isFragmented() bool {
	return f.getFirstFree() < f.getAfterLastBlock()
}
