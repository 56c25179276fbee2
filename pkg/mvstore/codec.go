package mvstore

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
)

// Compress selects the page-body codec the store builds at Open (§4.1 Open
// "compress ∈ {0,1,2}", §6 config
// surface "compress: off / LZF / Deflate"). The teacher's reference
// implementation uses its own LZF port for the fast tier; the pack offers
// S2 (klauspost/compress), a faster-than-LZF block codec, for the same
// "cheap, low-ratio" role, and stdlib flate for the "slow, high-ratio" tier.
// The commit and read paths do not apply the codec: chunk page regions are
// written to and read from disk uncompressed whatever the level.
type Compress int

const (
	CompressOff  Compress = 0
	CompressFast Compress = 1 // S2 (github.com/klauspost/compress/s2)
	CompressHigh Compress = 2 // DEFLATE (compress/flate)
)

// Codec compresses and decompresses a whole byte region in one call rather
// than page by page.
type Codec interface {
	Compress(src []byte) []byte
	Decompress(src []byte, sizeHint int) ([]byte, error)
}

type passthroughCodec struct{}

func (passthroughCodec) Compress(src []byte) []byte { return src }
func (passthroughCodec) Decompress(src []byte, _ int) ([]byte, error) {
	return src, nil
}

type s2Codec struct{}

func (s2Codec) Compress(src []byte) []byte {
	return s2.Encode(nil, src)
}

func (s2Codec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	dst := make([]byte, 0, sizeHint)
	out, err := s2.Decode(dst[:cap(dst)][:0], src)
	if err != nil {
		return nil, fmt.Errorf("%w: s2 decompress: %v", ErrFileCorrupt, err)
	}
	return out, nil
}

type flateCodec struct{ level int }

func (c flateCodec) Compress(src []byte) []byte {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, c.level)
	w.Write(src)
	w.Close()
	return buf.Bytes()
}

func (flateCodec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	out := make([]byte, 0, sizeHint)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("%w: flate decompress: %v", ErrFileCorrupt, err)
	}
	return buf.Bytes(), nil
}

// newCodec returns the Codec for the given compress level (§6 "compress ∈ {0,1,2}").
func newCodec(level Compress) Codec {
	switch level {
	case CompressFast:
		return s2Codec{}
	case CompressHigh:
		return flateCodec{level: flate.DefaultCompression}
	default:
		return passthroughCodec{}
	}
}
