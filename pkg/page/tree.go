package page

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/halvorsen/mvstore/pkg/mvstore"
)

const (
	maxKeySize = 1000
	maxValSize = 3000
)

// pendingBit marks a PagePos as an in-memory page not yet homed into a
// chunk. The core only ever sees this bit on positions it received back
// from Map.WriteTo's intermediate calls; it never persists one (§3 Page
// position: "Bit 63 is reserved for use by page-layer implementations").
const pendingBit = uint64(1) << 63

func isPending(pos mvstore.PagePos) bool { return uint64(pos)&pendingBit != 0 }

type pendingNode struct {
	raw  []byte
	leaf bool
}

// Tree is a copy-on-write B+Tree addressed by mvstore.PagePos, the
// reference implementation of mvstore.Map and mvstore.Page's page-layer
// half (adapted from a plain in-memory get/new/del BTree: the mutation
// algorithms are unchanged, but "new" no longer hands back a durable id
// immediately — it stakes out a pending one, resolved only when WriteTo
// is called at commit time).
type Tree struct {
	mu sync.RWMutex

	mapID         uint32
	createVersion uint64
	pageSize      int

	root       mvstore.PagePos
	totalCount int64

	pending     map[mvstore.PagePos]*pendingNode
	nextPending uint64

	loadCommitted func(pos mvstore.PagePos) (mvstore.Page, error)
	onRemove      func(pos mvstore.PagePos)
}

// NewTree constructs a Tree bound to a map id. loadCommitted resolves an
// already-durable position to its decoded page (typically the store's
// cache-backed readPage); onRemove reports a durable page becoming
// unreachable, for accountForRemovedPage bookkeeping (§4.4). Both may be
// nil for a Tree used purely in memory (e.g. tests).
func NewTree(mapID uint32, createVersion uint64, pageSize int, root mvstore.PagePos, totalCount int64,
	loadCommitted func(mvstore.PagePos) (mvstore.Page, error), onRemove func(mvstore.PagePos)) *Tree {
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	return &Tree{
		mapID:         mapID,
		createVersion: createVersion,
		pageSize:      pageSize,
		root:          root,
		totalCount:    totalCount,
		pending:       make(map[mvstore.PagePos]*pendingNode),
		loadCommitted: loadCommitted,
		onRemove:      onRemove,
	}
}

func (t *Tree) MapID() uint32            { return t.mapID }
func (t *Tree) CreateVersion() uint64    { return t.createVersion }
func (t *Tree) RootPos() mvstore.PagePos { t.mu.RLock(); defer t.mu.RUnlock(); return t.root }

func (t *Tree) TotalCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCount
}

// SetRootPos re-seats the tree's root and count, used by rollback to
// reseat it from an earlier layout entry (WriteTo updates the root itself
// at commit time). Any
// still-pending pages are discarded: they belong to a mutation the
// caller is overriding.
func (t *Tree) SetRootPos(pos mvstore.PagePos, totalCount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = pos
	t.totalCount = totalCount
	t.pending = make(map[mvstore.PagePos]*pendingNode)
}

// IsChangedSince reports whether the map has mutations not yet made
// durable by a WriteTo call. The store's commit pipeline calls this to
// decide whether to include the map's root among the changed roots for
// this commit (§4.2 step 3); a tree with no pending pages has nothing
// new to serialize regardless of the version being asked about.
func (t *Tree) IsChangedSince(uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return isPending(t.root) || len(t.pending) > 0
}

func (t *Tree) fetch(pos mvstore.PagePos) bnode {
	if pos.IsZero() {
		panic(fmt.Errorf("%w: dereferenced a zero page position", mvstore.ErrInternal))
	}
	if isPending(pos) {
		pn, ok := t.pending[pos]
		if !ok {
			panic(fmt.Errorf("%w: dangling pending page %x", mvstore.ErrInternal, uint64(pos)))
		}
		return bnode(pn.raw)
	}
	p, err := t.loadCommitted(pos)
	if err != nil {
		panic(err)
	}
	src, ok := p.(interface{ Bytes() []byte })
	if !ok {
		panic(fmt.Errorf("%w: loaded page does not expose raw bytes", mvstore.ErrInternal))
	}
	return bnode(src.Bytes())
}

func (t *Tree) newPending(raw bnode, leaf bool) mvstore.PagePos {
	t.nextPending++
	pos := mvstore.PagePos(pendingBit | t.nextPending)
	cp := make([]byte, len(raw))
	copy(cp, raw)
	t.pending[pos] = &pendingNode{raw: cp, leaf: leaf}
	return pos
}

func (t *Tree) drop(pos mvstore.PagePos) {
	if pos.IsZero() {
		return
	}
	if isPending(pos) {
		delete(t.pending, pos)
		return
	}
	if t.onRemove != nil {
		t.onRemove(pos)
	}
}

// Get retrieves a value by key.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root.IsZero() {
		return nil, false
	}
	return t.treeGet(t.fetch(t.root), key)
}

func (t *Tree) treeGet(node bnode, key []byte) ([]byte, bool) {
	idx := nodeLookupLE(node, key)
	switch node.btype() {
	case nodeLeaf:
		if idx < node.nkeys() && bytes.Equal(key, node.getKey(idx)) {
			return append([]byte(nil), node.getVal(idx)...), true
		}
		return nil, false
	case nodeInternal:
		child := t.fetch(mvstore.PagePos(node.getPtr(idx)))
		return t.treeGet(child, key)
	default:
		panic(fmt.Errorf("%w: bad node type %d", mvstore.ErrFileCorrupt, node.btype()))
	}
}

// Insert inserts or updates a key/value pair.
func (t *Tree) Insert(key []byte, val []byte) error {
	if len(key) > maxKeySize || len(val) > maxValSize {
		return fmt.Errorf("%w: key or value too large", mvstore.ErrIllegalArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.IsZero() {
		root := make(bnode, t.pageSize)
		root.setHeader(nodeLeaf, 2)
		nodeAppendKV(root, 0, 0, nil, nil)
		nodeAppendKV(root, 1, 0, key, val)
		t.root = t.newPending(root, true)
		t.totalCount = 1
		return nil
	}

	existed := t.containsKey(t.fetch(t.root), key)
	node := t.treeInsert(t.fetch(t.root), key, val)
	nsplit, split := t.nodeSplit3(node)
	t.drop(t.root)

	if nsplit > 1 {
		root := make(bnode, t.pageSize)
		root.setHeader(nodeInternal, nsplit)
		for i, kid := range split[:nsplit] {
			ptr := t.newPending(kid, kid.btype() == nodeLeaf)
			nodeAppendKV(root, uint16(i), uint64(ptr), kid.getKey(0), nil)
		}
		t.root = t.newPending(root, false)
	} else {
		t.root = t.newPending(split[0], split[0].btype() == nodeLeaf)
	}
	if !existed {
		t.totalCount++
	}
	return nil
}

func (t *Tree) containsKey(node bnode, key []byte) bool {
	idx := nodeLookupLE(node, key)
	switch node.btype() {
	case nodeLeaf:
		return idx < node.nkeys() && bytes.Equal(key, node.getKey(idx))
	case nodeInternal:
		return t.containsKey(t.fetch(mvstore.PagePos(node.getPtr(idx))), key)
	default:
		return false
	}
}

func (t *Tree) treeInsert(node bnode, key []byte, val []byte) bnode {
	newNode := make(bnode, 2*t.pageSize)
	idx := nodeLookupLE(node, key)
	switch node.btype() {
	case nodeLeaf:
		if idx < node.nkeys() && bytes.Equal(key, node.getKey(idx)) {
			leafUpdate(newNode, node, idx, key, val)
		} else {
			leafInsert(newNode, node, idx+1, key, val)
		}
	case nodeInternal:
		t.nodeInsert(newNode, node, idx, key, val)
	default:
		panic(fmt.Errorf("%w: bad node type %d", mvstore.ErrFileCorrupt, node.btype()))
	}
	return newNode
}

func leafInsert(new bnode, old bnode, idx uint16, key []byte, val []byte) {
	new.setHeader(nodeLeaf, old.nkeys()+1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, 0, key, val)
	nodeAppendRange(new, old, idx+1, idx, old.nkeys()-idx)
}

func leafUpdate(new bnode, old bnode, idx uint16, key []byte, val []byte) {
	new.setHeader(nodeLeaf, old.nkeys())
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, 0, key, val)
	nodeAppendRange(new, old, idx+1, idx+1, old.nkeys()-(idx+1))
}

func (t *Tree) nodeInsert(new bnode, node bnode, idx uint16, key []byte, val []byte) {
	kptr := mvstore.PagePos(node.getPtr(idx))
	knode := t.treeInsert(t.fetch(kptr), key, val)
	nsplit, split := t.nodeSplit3(knode)
	t.drop(kptr)
	t.nodeReplaceKidN(new, node, idx, split[:nsplit]...)
}

func (t *Tree) nodeReplaceKidN(new bnode, old bnode, idx uint16, kids ...bnode) {
	inc := uint16(len(kids))
	new.setHeader(nodeInternal, old.nkeys()+inc-1)
	nodeAppendRange(new, old, 0, 0, idx)
	for i, kid := range kids {
		ptr := t.newPending(kid, kid.btype() == nodeLeaf)
		nodeAppendKV(new, idx+uint16(i), uint64(ptr), kid.getKey(0), nil)
	}
	nodeAppendRange(new, old, idx+inc, idx+1, old.nkeys()-(idx+1))
}

func (t *Tree) nodeSplit3(old bnode) (uint16, [3]bnode) {
	if old.nbytes() <= uint16(t.pageSize) {
		old = old[:t.pageSize]
		return 1, [3]bnode{old}
	}

	left := make(bnode, 2*t.pageSize)
	right := make(bnode, t.pageSize)
	t.nodeSplit2(left, right, old)

	if left.nbytes() <= uint16(t.pageSize) {
		left = left[:t.pageSize]
		return 2, [3]bnode{left, right}
	}

	leftleft := make(bnode, t.pageSize)
	middle := make(bnode, t.pageSize)
	t.nodeSplit2(leftleft, middle, left)
	return 3, [3]bnode{leftleft, middle, right}
}

func (t *Tree) nodeSplit2(left bnode, right bnode, old bnode) {
	nkeys := old.nkeys()
	nleft := uint16(0)
	for i := uint16(0); i < nkeys; i++ {
		nleft = i + 1
		if old.kvPos(nleft) >= uint16(t.pageSize)*3/4 {
			break
		}
	}
	left.setHeader(old.btype(), nleft)
	nodeAppendRange(left, old, 0, 0, nleft)
	right.setHeader(old.btype(), nkeys-nleft)
	nodeAppendRange(right, old, 0, nleft, nkeys-nleft)
}

// Delete removes a key, returning whether it was present.
func (t *Tree) Delete(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root.IsZero() {
		return false
	}
	updated := t.treeDelete(t.fetch(t.root), key)
	if updated == nil {
		return false
	}
	t.drop(t.root)
	if updated.btype() == nodeInternal && updated.nkeys() == 1 {
		t.root = mvstore.PagePos(updated.getPtr(0))
	} else {
		t.root = t.newPending(updated, updated.btype() == nodeLeaf)
	}
	t.totalCount--
	return true
}

func (t *Tree) treeDelete(node bnode, key []byte) bnode {
	idx := nodeLookupLE(node, key)
	switch node.btype() {
	case nodeLeaf:
		if idx >= node.nkeys() || !bytes.Equal(key, node.getKey(idx)) {
			return nil
		}
		newNode := make(bnode, t.pageSize)
		leafDelete(newNode, node, idx)
		return newNode
	case nodeInternal:
		return t.nodeDelete(node, idx, key)
	default:
		panic(fmt.Errorf("%w: bad node type %d", mvstore.ErrFileCorrupt, node.btype()))
	}
}

func leafDelete(new bnode, old bnode, idx uint16) {
	new.setHeader(nodeLeaf, old.nkeys()-1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendRange(new, old, idx, idx+1, old.nkeys()-(idx+1))
}

func (t *Tree) nodeDelete(node bnode, idx uint16, key []byte) bnode {
	kptr := mvstore.PagePos(node.getPtr(idx))
	updated := t.treeDelete(t.fetch(kptr), key)
	if updated == nil {
		return nil
	}
	t.drop(kptr)
	newNode := make(bnode, t.pageSize)

	mergeDir, sibling := t.shouldMerge(node, idx, updated)
	switch {
	case mergeDir < 0:
		merged := make(bnode, t.pageSize)
		nodeMerge(merged, sibling, updated)
		t.drop(mvstore.PagePos(node.getPtr(idx - 1)))
		ptr := t.newPending(merged, merged.btype() == nodeLeaf)
		nodeReplace2Kid(newNode, node, idx-1, uint64(ptr), merged.getKey(0))
	case mergeDir > 0:
		merged := make(bnode, t.pageSize)
		nodeMerge(merged, updated, sibling)
		t.drop(mvstore.PagePos(node.getPtr(idx + 1)))
		ptr := t.newPending(merged, merged.btype() == nodeLeaf)
		nodeReplace2Kid(newNode, node, idx, uint64(ptr), merged.getKey(0))
	case updated.nkeys() == 0:
		newNode.setHeader(nodeInternal, 0)
	default:
		t.nodeReplaceKidN(newNode, node, idx, updated)
	}
	return newNode
}

func (t *Tree) shouldMerge(node bnode, idx uint16, updated bnode) (int, bnode) {
	if updated.nbytes() > uint16(t.pageSize)/4 {
		return 0, nil
	}
	if idx > 0 {
		sibling := t.fetch(mvstore.PagePos(node.getPtr(idx - 1)))
		if int(sibling.nbytes())+int(updated.nbytes())-nodeHeader <= t.pageSize {
			return -1, sibling
		}
	}
	if idx+1 < node.nkeys() {
		sibling := t.fetch(mvstore.PagePos(node.getPtr(idx + 1)))
		if int(sibling.nbytes())+int(updated.nbytes())-nodeHeader <= t.pageSize {
			return 1, sibling
		}
	}
	return 0, nil
}

func nodeMerge(new bnode, left bnode, right bnode) {
	new.setHeader(left.btype(), left.nkeys()+right.nkeys())
	nodeAppendRange(new, left, 0, 0, left.nkeys())
	nodeAppendRange(new, right, left.nkeys(), 0, right.nkeys())
}

func nodeReplace2Kid(new bnode, old bnode, idx uint16, ptr uint64, key []byte) {
	new.setHeader(nodeInternal, old.nkeys()-1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, ptr, key, nil)
	nodeAppendRange(new, old, idx+1, idx+2, old.nkeys()-(idx+2))
}

// WriteTo resolves every still-pending page reachable from the root into
// w, leaves first, patching parent pointers as it unwinds (§4.2 step 5
// "leaves only, then interior pages" generalized to arbitrary depth via
// post-order traversal: a leaf has no pending children so it always
// serializes on the way down, before any ancestor serializes on the way
// back up).
func (t *Tree) WriteTo(w *mvstore.ChunkWriter) (mvstore.PagePos, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root.IsZero() {
		return 0, nil
	}
	resolved, err := t.resolve(w, t.root)
	if err != nil {
		return 0, err
	}
	t.root = resolved
	return resolved, nil
}

func (t *Tree) resolve(w *mvstore.ChunkWriter, pos mvstore.PagePos) (mvstore.PagePos, error) {
	if !isPending(pos) {
		return pos, nil
	}
	pn, ok := t.pending[pos]
	if !ok {
		return 0, fmt.Errorf("%w: dangling pending page %x", mvstore.ErrInternal, uint64(pos))
	}
	node := bnode(pn.raw)
	if node.btype() == nodeInternal {
		nk := node.nkeys()
		for i := uint16(0); i < nk; i++ {
			child := mvstore.PagePos(node.getPtr(i))
			resolvedChild, err := t.resolve(w, child)
			if err != nil {
				return 0, err
			}
			node.setPtr(i, uint64(resolvedChild))
		}
	}
	raw := []byte(node)[:node.nbytes()]
	final := w.WritePage(raw, node.btype() == nodeLeaf)
	delete(t.pending, pos)
	return final, nil
}

// RewritePage re-homes the still-live leaf at pos by re-inserting one of
// its keys unchanged, forcing ordinary copy-on-write to copy it (and its
// ancestors) into the current in-memory root; the next commit then
// serializes it out of its old, low-fill chunk (§4.5 rewrite strategy).
// Interior pages need no direct handling: they are re-homed as a side
// effect of rewriting any live leaf beneath them.
func (t *Tree) RewritePage(pos mvstore.PagePos) error {
	if pos.IsZero() || isPending(pos) {
		return nil
	}
	p, err := t.loadCommitted(pos)
	if err != nil {
		return err
	}
	if !p.IsLeaf() {
		return nil
	}
	src, ok := p.(interface{ Bytes() []byte })
	if !ok {
		return fmt.Errorf("%w: loaded page does not expose raw bytes", mvstore.ErrInternal)
	}
	node := bnode(src.Bytes())
	if node.nkeys() == 0 {
		return nil
	}
	key := append([]byte(nil), node.getKey(0)...)
	val := append([]byte(nil), node.getVal(0)...)
	return t.Insert(key, val)
}
