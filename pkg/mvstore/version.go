package mvstore

import "sync"

// InitialVersion is the floor below which oldestVersionToKeep never drops.
const InitialVersion = 0

// txCounter is a (version, outstanding-reader-count) pair used for MVCC
// reader visibility (§3 "Version", §4.6).
type txCounter struct {
	version uint64
	count   int64
}

// versionManager owns the queue of txCounters and the monotone
// oldestVersionToKeep counter (§4.6, §5 "oldestVersionToKeep: CAS-updated
// monotone counter; callers must never decrease it").
type versionManager struct {
	mu sync.Mutex

	current *txCounter
	queue   []*txCounter // oldest-first; drained from the front

	oldestVersionToKeep uint64
	versionsToKeep       uint64
}

func newVersionManager(versionsToKeep uint64) *versionManager {
	vm := &versionManager{
		current:        &txCounter{version: InitialVersion, count: 1},
		versionsToKeep: versionsToKeep,
	}
	return vm
}

// registerVersionUsage returns the current txCounter with an incremented
// reference count; callers must later call deregisterVersionUsage with it.
func (vm *versionManager) registerVersionUsage() *txCounter {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.current.count++
	return vm.current
}

// deregisterVersionUsage decrements the counter; if it drops to zero, it may
// unblock reclamation of older versions via dropUnusedVersions.
func (vm *versionManager) deregisterVersionUsage(tc *txCounter) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	tc.count--
	if tc.count <= 0 {
		vm.dropUnusedVersionsLocked()
	}
}

// onVersionChange is called by the committer once a new version V is
// assigned: the old "current" counter (with its extra held increment) is
// pushed onto the queue and decremented symmetrically, and a fresh counter
// for V becomes current.
func (vm *versionManager) onVersionChange(newVersion uint64) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	displaced := vm.current
	displaced.count--
	vm.queue = append(vm.queue, displaced)
	vm.current = &txCounter{version: newVersion, count: 1}
	vm.dropUnusedVersionsLocked()
}

// dropUnusedVersionsLocked drains leading txCounters with count <= 0 and
// advances oldestVersionToKeep to the version of the new head.
func (vm *versionManager) dropUnusedVersionsLocked() {
	for len(vm.queue) > 0 && vm.queue[0].count <= 0 {
		vm.queue = vm.queue[1:]
	}
	head := vm.current.version
	if len(vm.queue) > 0 {
		head = vm.queue[0].version
	}
	if head > vm.oldestVersionToKeep {
		vm.oldestVersionToKeep = head
	}
}

// getOldestVersionToKeep implements the clamp described in §4.6. For
// file-backed stores, dropUnusedChunks further clamps the result to
// lastChunk.version-1.
func (vm *versionManager) getOldestVersionToKeep() uint64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.oldestVersionToKeep < vm.versionsToKeep {
		return InitialVersion
	}
	v := vm.oldestVersionToKeep - vm.versionsToKeep
	if v < InitialVersion {
		return InitialVersion
	}
	return v
}

func (vm *versionManager) currentVersion() uint64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.current.version
}

// queueDepth reports the number of not-yet-drained txCounters, exposed for
// tests verifying the "queue eventually drains" property (§8).
func (vm *versionManager) queueDepth() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.queue)
}
