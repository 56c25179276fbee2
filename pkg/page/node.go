// Package page implements mvstore.Page and mvstore.Map on top of a
// copy-on-write B+Tree, the reference page layer the core store is
// written against but does not itself depend on.
package page

import (
	"bytes"
	"encoding/binary"
)

const (
	nodeInternal = 1 // internal node: pointers only, no values
	nodeLeaf     = 2 // leaf node: keys with values
)

const (
	nodeHeader  = 4
	minPageSize = 512

	// kvHeader is the per-entry overhead preceding a packed key: just the
	// 2-byte key length, since the value's length is derived from the
	// offset table rather than stored alongside it.
	kvHeader = 2
)

// bnode is a single B+Tree node laid out as:
// header(4) | pointers(8*nkeys) | offsets(2*nkeys) | packed KV data, each
// KV entry itself klen(2) | key | val.
type bnode []byte

func (node bnode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node bnode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node bnode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

func (node bnode) getPtr(idx uint16) uint64 {
	if idx >= node.nkeys() {
		panic("page: pointer index out of range")
	}
	pos := nodeHeader + 8*idx
	return binary.LittleEndian.Uint64(node[pos:])
}

func (node bnode) setPtr(idx uint16, val uint64) {
	if idx >= node.nkeys() {
		panic("page: pointer index out of range")
	}
	pos := nodeHeader + 8*idx
	binary.LittleEndian.PutUint64(node[pos:], val)
}

func offsetPos(node bnode, idx uint16) uint16 {
	if idx < 1 || idx > node.nkeys() {
		panic("page: offset index out of range")
	}
	return nodeHeader + 8*node.nkeys() + 2*(idx-1)
}

func (node bnode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(node[offsetPos(node, idx):])
}

func (node bnode) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(node[offsetPos(node, idx):], offset)
}

func (node bnode) kvPos(idx uint16) uint16 {
	if idx > node.nkeys() {
		panic("page: kv index out of range")
	}
	return nodeHeader + 8*node.nkeys() + 2*node.nkeys() + node.getOffset(idx)
}

// A KV entry is laid out as klen(2) | key | val, with no separate vlen
// field: val's length falls out of the gap between this entry's offset and
// the next one, which the offset table already carries for every slot
// (including the past-the-end slot at nkeys()). That trades one offset
// lookup for the 2 bytes/entry a stored vlen would otherwise cost.
func (node bnode) getKey(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("page: key index out of range")
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	return node[pos+kvHeader:][:klen]
}

func (node bnode) getVal(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("page: val index out of range")
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	vlen := node.kvPos(idx+1) - pos - kvHeader - klen
	return node[pos+kvHeader+klen:][:vlen]
}

func (node bnode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

// nodeLookupLE returns the last index whose key is <= the search key; the
// first key of every node is a copy of its parent's separator and is
// always <= any key that can reach this node.
func nodeLookupLE(node bnode, key []byte) uint16 {
	nkeys := node.nkeys()
	found := uint16(0)
	for i := uint16(1); i < nkeys; i++ {
		cmp := bytes.Compare(node.getKey(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

func nodeAppendRange(new bnode, old bnode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() {
		panic("page: source range out of bounds")
	}
	if dstNew+n > new.nkeys() {
		panic("page: destination range out of bounds")
	}
	if n == 0 {
		return
	}
	if old.btype() == nodeInternal {
		for i := uint16(0); i < n; i++ {
			new.setPtr(dstNew+i, old.getPtr(srcOld+i))
		}
	}

	dstBegin := new.getOffset(dstNew)
	srcBegin := old.getOffset(srcOld)
	for i := uint16(1); i <= n; i++ {
		offset := dstBegin + old.getOffset(srcOld+i) - srcBegin
		new.setOffset(dstNew+i, offset)
	}

	begin := old.kvPos(srcOld)
	end := old.kvPos(srcOld + n)
	copy(new[new.kvPos(dstNew):], old[begin:end])
}

func nodeAppendKV(new bnode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setPtr(idx, ptr)
	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos:], uint16(len(key)))
	copy(new[pos+kvHeader:], key)
	copy(new[pos+kvHeader+uint16(len(key)):], val)
	new.setOffset(idx+1, new.getOffset(idx)+kvHeader+uint16(len(key)+len(val)))
}
