// Package engine wires the store core (pkg/mvstore) to its copy-on-write
// B+Tree page layer (pkg/page). The two packages cannot import each other
// directly (pkg/page depends on pkg/mvstore's types), so this small facade
// is where the two halves of the engine are actually assembled, the same
// role the teacher's cmd/treestore main.go played in gluing its kv, btree
// and storage packages together.
package engine

import (
	"github.com/halvorsen/mvstore/pkg/mvstore"
	"github.com/halvorsen/mvstore/pkg/page"
)

func newTree(mapID uint32, createVersion uint64, pageSize int, root mvstore.PagePos, totalCount int64,
	loadCommitted func(mvstore.PagePos) (mvstore.Page, error), onRemove func(mvstore.PagePos)) mvstore.KeyValueMap {
	return page.NewTree(mapID, createVersion, pageSize, root, totalCount, loadCommitted, onRemove)
}

// Open opens a store with the page package's B+Tree as its page layer.
func Open(cfg mvstore.Config) (*mvstore.Store, error) {
	return mvstore.Open(cfg, page.Loader{}, newTree)
}
