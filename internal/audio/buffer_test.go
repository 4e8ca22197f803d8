package audio

import (
	"bytes"
	"testing"
)

func TestRingBufferWriteRead(t *testing.T) {
	rb := NewRingBuffer(16)

	data := []byte("hello")
	if n := rb.Write(data); n != 5 {
		t.Fatalf("Write() = %d, want 5", n)
	}
	if rb.Available() != 5 {
		t.Errorf("Available() = %d, want 5", rb.Available())
	}

	out := make([]byte, 5)
	if n := rb.Read(out); n != 5 {
		t.Fatalf("Read() = %d, want 5", n)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Read() = %q, want %q", out, data)
	}
	if !rb.IsEmpty() {
		t.Error("buffer not empty after full read")
	}
}

func TestRingBufferCapacity(t *testing.T) {
	rb := NewRingBuffer(8)

	// Capacity is size-1 to disambiguate full from empty
	written := rb.Write([]byte("abcdefgh"))
	if written != 7 {
		t.Fatalf("Write() into size-8 buffer = %d, want 7", written)
	}
	if rb.Space() != 0 {
		t.Errorf("Space() on full buffer = %d, want 0", rb.Space())
	}

	// Further writes find no room
	if n := rb.Write([]byte("x")); n != 0 {
		t.Errorf("Write() on full buffer = %d, want 0", n)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	rb := NewRingBuffer(8)

	rb.Write([]byte("abcde"))
	out := make([]byte, 4)
	rb.Read(out)

	// Write past the physical end of the backing array
	if n := rb.Write([]byte("fghij")); n != 5 {
		t.Fatalf("wraparound Write() = %d, want 5", n)
	}

	remaining := make([]byte, 6)
	if n := rb.Read(remaining); n != 6 {
		t.Fatalf("Read() after wraparound = %d, want 6", n)
	}
	if string(remaining) != "efghij" {
		t.Errorf("Read() = %q, want efghij", remaining)
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("data"))

	rb.Clear()
	if !rb.IsEmpty() {
		t.Error("buffer not empty after Clear")
	}
	if rb.Available() != 0 {
		t.Errorf("Available() after Clear = %d, want 0", rb.Available())
	}
}

func TestRingBufferPartialRead(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("ab"))

	out := make([]byte, 8)
	if n := rb.Read(out); n != 2 {
		t.Errorf("Read() = %d, want 2 (only buffered bytes)", n)
	}
}
