package mvstore

import "testing"

func TestWriteBufferPoolReusesReleasedBuffer(t *testing.T) {
	p := newWriteBufferPool()
	buf := p.get(1024)
	buf = append(buf, make([]byte, 512)...)
	p.release(buf)

	got := p.get(256)
	if cap(got) < 512 {
		t.Errorf("expected a recycled buffer with capacity >= 512, got cap %d", cap(got))
	}
	if len(got) != 0 {
		t.Errorf("a buffer handed out by get() should be reset to zero length, got %d", len(got))
	}
}

func TestWriteBufferPoolDropsOversizedBuffers(t *testing.T) {
	p := newWriteBufferPool()
	huge := make([]byte, 0, maxPooledBufferSize+1)
	p.release(huge)
	p.mu.Lock()
	n := len(p.free)
	p.mu.Unlock()
	if n != 0 {
		t.Error("a buffer larger than maxPooledBufferSize must not be recycled")
	}
}

func TestWriteBufferPoolBoundedCapacity(t *testing.T) {
	p := newWriteBufferPool()
	for i := 0; i < p.cap+5; i++ {
		p.release(make([]byte, 0, 16))
	}
	p.mu.Lock()
	n := len(p.free)
	p.mu.Unlock()
	if n > p.cap {
		t.Errorf("free list should never exceed its bounded capacity %d, got %d", p.cap, n)
	}
}
