package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/halvorsen/mvstore/pkg/mvstore"
)

// openFileStore opens a real on-disk store at path, failing the test on error.
func openFileStore(t *testing.T, path string, cfg mvstore.Config) *mvstore.Store {
	t.Helper()
	cfg.FileName = path
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	return store
}

// TestFileStoreSurvivesCloseAndReopen exercises spec scenario "Recovery after
// crash"'s clean-shutdown sibling: a real file, forced into more than one
// physical chunk, must hand back the same data, current version, and chunk
// bookkeeping after a close/reopen cycle. Without loadAllChunks populating
// s.chunks (and the chunk metadata's occupancy field surviving the round
// trip) this wrongly starts every recovered chunk as fully live and leaves
// all but the last chunk's blocks looking free to the allocator.
func TestFileStoreSurvivesCloseAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	store := openFileStore(t, path, mvstore.Config{AutoCommitDelayMs: 0})
	m, err := store.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}

	want := map[string]string{}
	for i := 0; i < 8; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("value-%03d-%s", i, strings.Repeat("x", 256))
		want[k] = v
		if err := m.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
		if _, err := store.Commit(); err != nil {
			t.Fatalf("Commit after %s: %v", k, err)
		}
	}

	statsBefore := store.Stats()
	if statsBefore.ChunkCount < 2 {
		t.Fatalf("expected more than one chunk after %d commits, got %d", len(want), statsBefore.ChunkCount)
	}
	versionBefore := store.CurrentVersion()

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openFileStore(t, path, mvstore.Config{AutoCommitDelayMs: 0})
	defer reopened.Close()

	if got := reopened.CurrentVersion(); got != versionBefore {
		t.Errorf("CurrentVersion after reopen: got %d want %d", got, versionBefore)
	}
	statsAfter := reopened.Stats()
	if statsAfter.ChunkCount != statsBefore.ChunkCount {
		t.Errorf("Stats().ChunkCount after reopen: got %d want %d", statsAfter.ChunkCount, statsBefore.ChunkCount)
	}

	m2, err := reopened.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap after reopen: %v", err)
	}
	for k, v := range want {
		got, ok := m2.Get([]byte(k))
		if !ok {
			t.Errorf("Get(%s) after reopen: not found", k)
			continue
		}
		if string(got) != v {
			t.Errorf("Get(%s) after reopen: got %q want %q", k, got, v)
		}
	}

	if err := reopened.RollbackTo(versionBefore - 1); err != nil {
		t.Errorf("RollbackTo a version preceding the last chunk should still be known after a reopen, got: %v", err)
	}
}

// TestCompactReducesFileSize writes enough data to spread across several
// chunks, deletes most of it so those chunks fall below the rewrite
// threshold, and checks that Compact actually shrinks the file on disk
// (spec scenario "Compaction reduces size").
func TestCompactReducesFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	store := openFileStore(t, path, mvstore.Config{AutoCommitDelayMs: 0, RetentionTimeMs: 1})

	m, err := store.OpenMap("data")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}

	const n = 400
	filler := make([]byte, 512)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("row-%04d", i)
		if err := m.Insert([]byte(k), filler); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	if _, err := store.Commit(); err != nil {
		t.Fatalf("Commit (insert batch): %v", err)
	}

	for i := 0; i < n-5; i++ {
		k := fmt.Sprintf("row-%04d", i)
		m.Delete([]byte(k))
	}
	if _, err := store.Commit(); err != nil {
		t.Fatalf("Commit (delete batch): %v", err)
	}

	time.Sleep(5 * time.Millisecond) // let chunks "season" past RetentionTimeMs

	sizeBefore, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat before compact: %v", err)
	}

	if err := store.Compact(2 * time.Second); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sizeAfter, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat after compact: %v", err)
	}
	if sizeAfter.Size() >= sizeBefore.Size() {
		t.Errorf("Compact did not shrink the file: before=%d after=%d", sizeBefore.Size(), sizeAfter.Size())
	}
}

// TestRecoveryAfterTruncatedWrite simulates a crash that tore off the tail
// of the file mid-write: the store must recover to the last chunk whose
// header/footer still verify, not fail outright or resurrect the torn
// commit's data (spec scenario "Recovery after crash").
func TestRecoveryAfterTruncatedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	fs, err := mvstore.OpenFile(path, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	store, err := Open(mvstore.Config{FileStore: fs, AutoCommitDelayMs: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m, err := store.OpenMap("c")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if err := m.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert(a): %v", err)
	}
	goodVersion, err := store.Commit()
	if err != nil {
		t.Fatalf("Commit(a): %v", err)
	}
	goodSize, err := fs.Size()
	if err != nil {
		t.Fatalf("Size after good commit: %v", err)
	}

	if err := m.Insert([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert(b): %v", err)
	}
	if _, err := store.Commit(); err != nil {
		t.Fatalf("Commit(b): %v", err)
	}
	fullSize, err := fs.Size()
	if err != nil {
		t.Fatalf("Size after torn commit: %v", err)
	}
	if fullSize <= goodSize {
		t.Fatalf("expected the second commit to grow the file: good=%d full=%d", goodSize, fullSize)
	}

	// Simulate the crash: chop off everything the torn commit wrote, then
	// drop the handle directly (never through Store.Close, which would
	// write a fresh clean header and defeat the simulation).
	if err := fs.Truncate(goodSize); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close underlying file: %v", err)
	}

	recovered, err := Open(mvstore.Config{FileName: path, AutoCommitDelayMs: 0})
	if err != nil {
		t.Fatalf("Open after truncation: %v", err)
	}
	defer recovered.Close()

	if got := recovered.CurrentVersion(); got != goodVersion {
		t.Errorf("CurrentVersion after recovery: got %d want %d", got, goodVersion)
	}
	m2, err := recovered.OpenMap("c")
	if err != nil {
		t.Fatalf("OpenMap after recovery: %v", err)
	}
	if v, ok := m2.Get([]byte("a")); !ok || string(v) != "1" {
		t.Errorf("Get(a) after recovery: got (%q, %v) want (\"1\", true)", v, ok)
	}
	if _, ok := m2.Get([]byte("b")); ok {
		t.Error("Get(b) after recovery: the torn commit's key should not be visible")
	}

	if err := m2.Insert([]byte("c"), []byte("3")); err != nil {
		t.Fatalf("Insert(c) on recovered store: %v", err)
	}
	if _, err := recovered.Commit(); err != nil {
		t.Fatalf("Commit(c) on recovered store: %v", err)
	}
}
