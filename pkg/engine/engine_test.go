package engine

import (
	"testing"

	"github.com/halvorsen/mvstore/pkg/mvstore"
)

func openMemStore(t *testing.T) *mvstore.Store {
	t.Helper()
	store, err := Open(mvstore.Config{AutoCommitDelayMs: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenMapPutGetDelete(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}

	if err := m.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, ok := m.Get([]byte("a"))
	if !ok || string(v) != "1" {
		t.Fatalf("Get(a): got (%q, %v) want (\"1\", true)", v, ok)
	}

	if ok := m.Delete([]byte("a")); !ok {
		t.Fatal("Delete(a) should report true for an existing key")
	}
	if _, ok := m.Get([]byte("a")); ok {
		t.Fatal("Get(a) after Delete should report not found")
	}
}

func TestCommitAdvancesVersion(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("default")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	before := store.CurrentVersion()
	if err := m.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := store.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if v <= before {
		t.Errorf("Commit should advance the version: before=%d after=%d", before, v)
	}
	if store.CurrentVersion() != v {
		t.Errorf("CurrentVersion after Commit: got %d want %d", store.CurrentVersion(), v)
	}
}

func TestScanOrdersByKey(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("sorted")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	keys := []string{"banana", "apple", "cherry"}
	for _, k := range keys {
		if err := m.Insert([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	var seen []string
	m.Scan(nil, func(k, v []byte) bool {
		seen = append(seen, string(k))
		return true
	})
	want := []string{"apple", "banana", "cherry"}
	if len(seen) != len(want) {
		t.Fatalf("Scan returned %d keys, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Scan order mismatch at %d: got %q want %q (full: %v)", i, seen[i], want[i], seen)
		}
	}
}

func TestRollbackToRestoresPriorState(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("rb")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if err := m.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v1, err := store.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := m.Insert([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := store.RollbackTo(v1); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	m2, err := store.OpenMap("rb")
	if err != nil {
		t.Fatalf("OpenMap after rollback: %v", err)
	}
	if _, ok := m2.Get([]byte("b")); ok {
		t.Error("key inserted after the rolled-back-to version should not be visible")
	}
	if v, ok := m2.Get([]byte("a")); !ok || string(v) != "1" {
		t.Errorf("key from the rolled-back-to version should still be visible, got (%q, %v)", v, ok)
	}
}

func TestStatsReflectsCommittedState(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("stats")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if err := m.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	st := store.Stats()
	if st.CurrentVersion != store.CurrentVersion() {
		t.Errorf("Stats().CurrentVersion: got %d want %d", st.CurrentVersion, store.CurrentVersion())
	}
	if st.ChunkCount == 0 {
		t.Error("after a commit, Stats().ChunkCount should be nonzero")
	}
}

func TestRollbackToZeroResetsStore(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("rb0")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if err := m.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := store.RollbackTo(0); err != nil {
		t.Fatalf("RollbackTo(0): %v", err)
	}
	if store.CurrentVersion() != 0 {
		t.Errorf("CurrentVersion after RollbackTo(0): got %d want 0", store.CurrentVersion())
	}
	st := store.Stats()
	if st.ChunkCount != 0 {
		t.Errorf("Stats().ChunkCount after RollbackTo(0): got %d want 0", st.ChunkCount)
	}

	m2, err := store.OpenMap("rb0")
	if err != nil {
		t.Fatalf("OpenMap after RollbackTo(0): %v", err)
	}
	if _, ok := m2.Get([]byte("a")); ok {
		t.Error("a map reopened after RollbackTo(0) should start empty")
	}
}

func TestRollbackToUnknownVersionErrors(t *testing.T) {
	store := openMemStore(t)
	if err := store.RollbackTo(999); err == nil {
		t.Error("RollbackTo should reject a version absent from the chunk chain")
	}
}

func TestRemoveMapDropsContents(t *testing.T) {
	store := openMemStore(t)
	m, err := store.OpenMap("temp")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if err := m.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.RemoveMap("temp"); err != nil {
		t.Fatalf("RemoveMap: %v", err)
	}
	m2, err := store.OpenMap("temp")
	if err != nil {
		t.Fatalf("OpenMap after RemoveMap: %v", err)
	}
	if _, ok := m2.Get([]byte("k")); ok {
		t.Error("a removed-then-reopened map should start empty")
	}
}
