package mvstore

import "testing"

func TestCodecRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps again")

	for _, level := range []Compress{CompressOff, CompressFast, CompressHigh} {
		codec := newCodec(level)
		compressed := codec.Compress(payload)
		decompressed, err := codec.Decompress(compressed, len(payload))
		if err != nil {
			t.Fatalf("level %d: decompress: %v", level, err)
		}
		if string(decompressed) != string(payload) {
			t.Errorf("level %d: round trip mismatch: got %q want %q", level, decompressed, payload)
		}
	}
}

func TestNewCodecDefaultsToPassthrough(t *testing.T) {
	codec := newCodec(Compress(99))
	if _, ok := codec.(passthroughCodec); !ok {
		t.Errorf("unknown compress level should fall back to passthroughCodec, got %T", codec)
	}
}

func TestPassthroughCodecIsIdentity(t *testing.T) {
	payload := []byte("unchanged")
	codec := passthroughCodec{}
	if string(codec.Compress(payload)) != string(payload) {
		t.Error("passthroughCodec.Compress must return its input unchanged")
	}
}
