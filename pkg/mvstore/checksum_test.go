package mvstore

import "testing"

func TestFletcher32Deterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	a := fletcher32(data)
	b := fletcher32(data)
	if a != b {
		t.Fatal("fletcher32 must be a pure function of its input")
	}
}

func TestFletcher32DetectsSingleByteFlip(t *testing.T) {
	data := []byte("chunk:5,version:2a,block:10\n")
	orig := fletcher32(data)
	flipped := append([]byte(nil), data...)
	flipped[3] ^= 0x01
	if fletcher32(flipped) == orig {
		t.Error("a single bit flip should change the checksum")
	}
}

func TestFletcher32EmptyInput(t *testing.T) {
	if fletcher32(nil) != 0 {
		t.Error("fletcher32 of empty input should be 0")
	}
}

func TestFletcher32OddLength(t *testing.T) {
	// Exercise the odd-trailing-byte padding path.
	if fletcher32([]byte("abc")) == fletcher32([]byte("ab")) {
		t.Error("trailing odd byte must affect the checksum")
	}
}
