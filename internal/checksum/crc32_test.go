package checksum

import (
	"math/rand"
	"testing"
)

func TestCRC32Golden(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", []byte{}, 0x00000000},
		{"a", []byte("a"), 0xe8b7be43},
		{"abc", []byte("abc"), 0x352441c2},
		// Standard check value for the IEEE polynomial.
		{"123456789", []byte("123456789"), 0xcbf43926},
		{"hello world", []byte("hello world"), 0x0d4a1185},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Value(tt.data)
			if got != tt.want {
				t.Errorf("Value(%q) = 0x%08x, want 0x%08x", tt.data, got, tt.want)
			}
		})
	}
}

func TestCRC32Patterns(t *testing.T) {
	buf := make([]byte, 32)
	if got := Value(buf); got != 0x190a55ad {
		t.Errorf("all zeros: got 0x%08x, want 0x190a55ad", got)
	}

	for i := range buf {
		buf[i] = 0xFF
	}
	if got := Value(buf); got != 0xff6cab0b {
		t.Errorf("all 0xFF: got 0x%08x, want 0xff6cab0b", got)
	}

	for i := range buf {
		buf[i] = byte(i)
	}
	if got := Value(buf); got != 0x91267e8a {
		t.Errorf("ascending: got 0x%08x, want 0x91267e8a", got)
	}
}

func TestExtend(t *testing.T) {
	whole := Value([]byte("hello world"))
	split := Extend(Value([]byte("hello ")), []byte("world"))
	if whole != split {
		t.Errorf("Extend mismatch: whole=0x%08x split=0x%08x", whole, split)
	}

	// Extending from zero with the full input equals Value.
	if got := Extend(0, []byte("hello world")); got != whole {
		t.Errorf("Extend(0, data) = 0x%08x, want 0x%08x", got, whole)
	}
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		crc := rng.Uint32()
		masked := Mask(crc)
		if masked == crc {
			t.Errorf("Mask(0x%08x) is a fixed point", crc)
		}
		if got := Unmask(masked); got != crc {
			t.Errorf("Unmask(Mask(0x%08x)) = 0x%08x", crc, got)
		}
	}
}

func TestMaskGolden(t *testing.T) {
	// Pins the rotate-right-15 + delta scheme.
	if got := Mask(0xcbf43926); got != 0x14d082c0 {
		t.Errorf("Mask(0xcbf43926) = 0x%08x, want 0x14d082c0", got)
	}
}

func TestMaskedValue(t *testing.T) {
	data := []byte("payload bytes")
	if got, want := MaskedValue(data), Mask(Value(data)); got != want {
		t.Errorf("MaskedValue = 0x%08x, want 0x%08x", got, want)
	}
}

func TestXXH3_128(t *testing.T) {
	// The exact 128-bit values come from the xxh3 library; pin the
	// properties the Bloom filter depends on.
	lo1, hi1 := XXH3_128([]byte("user:123"))
	lo2, hi2 := XXH3_128([]byte("user:123"))
	if lo1 != lo2 || hi1 != hi2 {
		t.Fatal("XXH3_128 is not deterministic")
	}

	lo3, hi3 := XXH3_128([]byte("user:124"))
	if lo1 == lo3 && hi1 == hi3 {
		t.Error("distinct keys hashed to the same 128-bit value")
	}

	loE, hiE := XXH3_128(nil)
	loE2, hiE2 := XXH3_128([]byte{})
	if loE != loE2 || hiE != hiE2 {
		t.Error("nil and empty input hash differently")
	}
}

func BenchmarkCRC32(b *testing.B) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		Value(data)
	}
}

func BenchmarkXXH3_128(b *testing.B) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		XXH3_128(data)
	}
}
