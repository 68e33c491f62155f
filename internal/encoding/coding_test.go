package encoding

import (
	"bytes"
	"testing"
)

func TestFixed32(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x00, 0x00, 0x00, 0x00}},
		{"one", 1, []byte{0x01, 0x00, 0x00, 0x00}},
		{"max", 0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"0x12345678", 0x12345678, []byte{0x78, 0x56, 0x34, 0x12}}, // little-endian
		{"65536", 65536, []byte{0x00, 0x00, 0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, Fixed32Size)
			EncodeFixed32(buf, tt.value)
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("EncodeFixed32(%d) = %v, want %v", tt.value, buf, tt.want)
			}

			got := DecodeFixed32(tt.want)
			if got != tt.value {
				t.Errorf("DecodeFixed32(%v) = %d, want %d", tt.want, got, tt.value)
			}

			appended := AppendFixed32(nil, tt.value)
			if !bytes.Equal(appended, tt.want) {
				t.Errorf("AppendFixed32(%d) = %v, want %v", tt.value, appended, tt.want)
			}
		})
	}
}

func TestFixed64(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		want  []byte
	}{
		{"zero", 0, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"one", 1, []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"max", 0xFFFFFFFFFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"0x0123456789ABCDEF", 0x0123456789ABCDEF, []byte{0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, Fixed64Size)
			EncodeFixed64(buf, tt.value)
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("EncodeFixed64(%d) = %v, want %v", tt.value, buf, tt.want)
			}

			got := DecodeFixed64(tt.want)
			if got != tt.value {
				t.Errorf("DecodeFixed64(%v) = %d, want %d", tt.want, got, tt.value)
			}

			appended := AppendFixed64(nil, tt.value)
			if !bytes.Equal(appended, tt.want) {
				t.Errorf("AppendFixed64(%d) = %v, want %v", tt.value, appended, tt.want)
			}
		})
	}
}

func TestAppendChaining(t *testing.T) {
	buf := AppendFixed32(nil, 7)
	buf = AppendFixed64(buf, 9)
	buf = AppendFixed32(buf, 0xDEADBEEF)

	want := []byte{
		0x07, 0x00, 0x00, 0x00,
		0x09, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xEF, 0xBE, 0xAD, 0xDE,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("chained append = %v, want %v", buf, want)
	}
}

func TestSliceSequentialReads(t *testing.T) {
	var buf []byte
	buf = AppendFixed32(buf, 42)
	buf = AppendFixed64(buf, 1<<40)
	buf = append(buf, []byte("tide")...)

	s := NewSlice(buf)
	if got := s.Remaining(); got != len(buf) {
		t.Fatalf("Remaining() = %d, want %d", got, len(buf))
	}

	v32, ok := s.GetFixed32()
	if !ok || v32 != 42 {
		t.Fatalf("GetFixed32() = (%d, %v), want (42, true)", v32, ok)
	}
	if got := s.Offset(); got != Fixed32Size {
		t.Fatalf("Offset() = %d, want %d", got, Fixed32Size)
	}

	v64, ok := s.GetFixed64()
	if !ok || v64 != 1<<40 {
		t.Fatalf("GetFixed64() = (%d, %v), want (%d, true)", v64, ok, uint64(1)<<40)
	}

	b, ok := s.GetBytes(4)
	if !ok || string(b) != "tide" {
		t.Fatalf("GetBytes(4) = (%q, %v), want (\"tide\", true)", b, ok)
	}
	if s.Remaining() != 0 {
		t.Fatalf("Remaining() = %d after full consumption, want 0", s.Remaining())
	}
}

func TestSliceShortReads(t *testing.T) {
	s := NewSlice([]byte{0x01, 0x02})

	if _, ok := s.GetFixed32(); ok {
		t.Error("GetFixed32 succeeded on 2-byte input")
	}
	if _, ok := s.GetFixed64(); ok {
		t.Error("GetFixed64 succeeded on 2-byte input")
	}
	if _, ok := s.GetBytes(3); ok {
		t.Error("GetBytes(3) succeeded on 2-byte input")
	}
	if _, ok := s.GetBytes(-1); ok {
		t.Error("GetBytes(-1) succeeded")
	}

	// Failed reads must not move the cursor.
	if got := s.Offset(); got != 0 {
		t.Errorf("Offset() = %d after failed reads, want 0", got)
	}
	b, ok := s.GetBytes(2)
	if !ok || !bytes.Equal(b, []byte{0x01, 0x02}) {
		t.Errorf("GetBytes(2) = (%v, %v), want ([1 2], true)", b, ok)
	}
}

func TestSliceData(t *testing.T) {
	data := []byte("hello world")
	s := NewSlice(data)

	if string(s.Data()) != "hello world" {
		t.Errorf("Data() = %q, want %q", s.Data(), data)
	}
	s.GetBytes(6)
	if string(s.Data()) != "world" {
		t.Errorf("Data() after consuming 6 bytes = %q, want %q", s.Data(), "world")
	}
}
