package page

import (
	"bytes"

	"github.com/halvorsen/mvstore/pkg/mvstore"
)

// Iterator walks a Tree's key range in order, adapted from a plain
// get-only BTree cursor to fetch through Tree.fetch (so it transparently
// sees both durable and still-pending pages).
type Iterator struct {
	tree *Tree
	path []bnode
	pos  []uint16
}

// NewIterator creates a cursor over the tree's current snapshot.
func (t *Tree) NewIterator() *Iterator {
	return &Iterator{path: make([]bnode, 0, 8), pos: make([]uint16, 0, 8), tree: t}
}

// SeekLE positions the cursor at the last key <= the given key.
func (it *Iterator) SeekLE(key []byte) bool {
	it.path = it.path[:0]
	it.pos = it.pos[:0]

	it.tree.mu.RLock()
	defer it.tree.mu.RUnlock()
	if it.tree.root.IsZero() {
		return false
	}

	node := it.tree.fetch(it.tree.root)
	for {
		it.path = append(it.path, node)
		idx := nodeLookupLE(node, key)
		it.pos = append(it.pos, idx)
		if node.btype() == nodeLeaf {
			break
		}
		node = it.tree.fetch(ptrAt(node, idx))
	}
	return true
}

func ptrAt(node bnode, idx uint16) mvstore.PagePos {
	return mvstore.PagePos(node.getPtr(idx))
}

func (it *Iterator) Valid() bool {
	if len(it.path) == 0 {
		return false
	}
	leaf := it.path[len(it.path)-1]
	pos := it.pos[len(it.pos)-1]
	return pos < leaf.nkeys()
}

func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	leaf := it.path[len(it.path)-1]
	return append([]byte(nil), leaf.getKey(it.pos[len(it.pos)-1])...)
}

func (it *Iterator) Val() []byte {
	if !it.Valid() {
		return nil
	}
	leaf := it.path[len(it.path)-1]
	return append([]byte(nil), leaf.getVal(it.pos[len(it.pos)-1])...)
}

func (it *Iterator) Next() bool {
	if len(it.path) == 0 {
		return false
	}
	leafIdx := len(it.pos) - 1
	it.pos[leafIdx]++
	if it.pos[leafIdx] < it.path[leafIdx].nkeys() {
		return true
	}

	it.path = it.path[:leafIdx]
	it.pos = it.pos[:leafIdx]

	for len(it.pos) > 0 {
		parentIdx := len(it.pos) - 1
		it.pos[parentIdx]++
		if it.pos[parentIdx] < it.path[parentIdx].nkeys() {
			return it.descendToLeftmost()
		}
		it.path = it.path[:parentIdx]
		it.pos = it.pos[:parentIdx]
	}
	return false
}

func (it *Iterator) descendToLeftmost() bool {
	it.tree.mu.RLock()
	defer it.tree.mu.RUnlock()
	for {
		parentIdx := len(it.path) - 1
		parent := it.path[parentIdx]
		pos := it.pos[parentIdx]
		child := it.tree.fetch(ptrAt(parent, pos))
		it.path = append(it.path, child)
		if child.btype() == nodeLeaf {
			it.pos = append(it.pos, 0)
			return true
		}
		it.pos = append(it.pos, 0)
	}
}

// Scan calls fn for every key >= start in ascending order until fn
// returns false.
func (t *Tree) Scan(start []byte, fn func(key, val []byte) bool) {
	it := t.NewIterator()
	if !it.SeekLE(start) {
		return
	}
	if len(it.Key()) == 0 || bytes.Compare(it.Key(), start) < 0 {
		if !it.Next() {
			return
		}
	}
	for it.Valid() {
		if !fn(it.Key(), it.Val()) {
			return
		}
		if !it.Next() {
			return
		}
	}
}
