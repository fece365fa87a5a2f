package bitio

import "testing"

func TestWriteReadBitsRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	if err := w.WriteBits(0x1f, 5); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	if err := w.WriteBit(true); err != nil {
		t.Fatalf("WriteBit: %v", err)
	}
	if err := w.WriteBits(3, 10); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}

	r := NewReader(buf)
	v, err := r.ReadBits(5)
	if err != nil || v != 0x1f {
		t.Fatalf("ReadBits(5) = %d, %v, want 0x1f", v, err)
	}
	bit, err := r.ReadBit()
	if err != nil || !bit {
		t.Fatalf("ReadBit = %v, %v, want true", bit, err)
	}
	v, err = r.ReadBits(10)
	if err != nil || v != 3 {
		t.Fatalf("ReadBits(10) = %d, %v, want 3", v, err)
	}
}

func TestWriteBytesRequiresAlignment(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	w.WriteBit(true)
	if err := w.WriteBytes([]byte{1, 2}); err != ErrNotAligned {
		t.Fatalf("WriteBytes on unaligned writer = %v, want ErrNotAligned", err)
	}
}

func TestByteAlignPadsWithZero(t *testing.T) {
	buf := make([]byte, 2)
	w := NewWriter(buf)
	w.WriteBits(0x1f, 5)
	w.ByteAlign()
	if w.BitPos() != 8 {
		t.Fatalf("BitPos after align = %d, want 8", w.BitPos())
	}
	if buf[0] != 0xf8 {
		t.Fatalf("buf[0] = %08b, want 11111000", buf[0])
	}
}

func TestNoSpace(t *testing.T) {
	buf := make([]byte, 1)
	w := NewWriter(buf)
	w.WriteBits(0, 8)
	if err := w.WriteBit(true); err != ErrNoSpace {
		t.Fatalf("WriteBit past end = %v, want ErrNoSpace", err)
	}

	r := NewReader(buf)
	r.ReadBits(8)
	if _, err := r.ReadBit(); err != ErrNoSpace {
		t.Fatalf("ReadBit past end = %v, want ErrNoSpace", err)
	}
}

func TestSkipAndRemaining(t *testing.T) {
	buf := make([]byte, 2)
	r := NewReader(buf)
	if r.Remaining() != 16 {
		t.Fatalf("Remaining = %d, want 16", r.Remaining())
	}
	if err := r.Skip(7); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if r.Remaining() != 9 {
		t.Fatalf("Remaining after skip = %d, want 9", r.Remaining())
	}
	if err := r.Skip(100); err != ErrNoSpace {
		t.Fatalf("Skip past end = %v, want ErrNoSpace", err)
	}
}
