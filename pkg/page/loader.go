package page

import "github.com/halvorsen/mvstore/pkg/mvstore"

// DecodedNode is the mvstore.Page wrapper around a single durable bnode's
// raw bytes: the decoding step for this page layer is the identity
// (the store already handed over decompressed bytes), so this is mostly
// a typed box the page cache can hold and Tree.fetch can unwrap.
type DecodedNode struct {
	raw []byte
}

func (n *DecodedNode) IsLeaf() bool        { return bnode(n.raw).btype() == nodeLeaf }
func (n *DecodedNode) MemoryEstimate() int { return len(n.raw) + 48 }
func (n *DecodedNode) Bytes() []byte       { return n.raw }

func (n *DecodedNode) WriteTo(w *mvstore.ChunkWriter) (mvstore.PagePos, error) {
	return w.WritePage(n.raw, n.IsLeaf()), nil
}

// Loader implements mvstore.PageLoader for this page layer.
type Loader struct{}

// LoadPage reconstructs a page from its on-disk bytes. A short or empty raw
// buffer stands for recovery mode's "substitute an empty leaf for corrupt
// or missing data" fallback (spec §4.3, §7): rather than have the store
// package, which cannot see this package's node layout, fabricate bytes
// itself, it passes raw=nil and this constructs a minimal valid empty leaf.
func (Loader) LoadPage(mapID uint32, pos mvstore.PagePos, raw []byte, leaf bool) (mvstore.Page, error) {
	if len(raw) < nodeHeader {
		empty := make(bnode, minPageSize)
		empty.setHeader(nodeLeaf, 0)
		return &DecodedNode{raw: []byte(empty)[:empty.nbytes()]}, nil
	}
	return &DecodedNode{raw: raw}, nil
}
