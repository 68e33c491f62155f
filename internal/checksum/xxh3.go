package checksum

import "github.com/zeebo/xxh3"

// XXH3_128 computes the 128-bit XXH3 hash of data, returned as two 64-bit
// halves. The Bloom filter derives its probe sequence from the pair by
// double hashing.
func XXH3_128(data []byte) (lo, hi uint64) {
	sum := xxh3.Hash128(data)
	return sum.Lo, sum.Hi
}
