package common

import (
	"crypto/rand"

	"golang.org/x/crypto/blake2b"
)

// NibblesPerKey is the depth of the 16-ary key space.
const NibblesPerKey = HashLength * 2

// BitsPerKey is the depth of the binary key space.
const BitsPerKey = HashLength * 8

func Blake2Hash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Blake2HashWithPrefix hashes prefix ‖ parts without concatenating the inputs.
func Blake2HashWithPrefix(prefix string, parts ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prefix))
	for _, p := range parts {
		h.Write(p)
	}
	return BytesToHash(h.Sum(nil))
}

// RandomHash returns a uniformly random hash.
func RandomHash() Hash {
	var h Hash
	if _, err := rand.Read(h[:]); err != nil {
		panic(err)
	}
	return h
}

// Nibble returns the i-th 4-bit unit of h, most significant first.
func (h Hash) Nibble(i int) uint8 {
	b := h[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// Bit returns the i-th bit of h, most significant first.
func (h Hash) Bit(i int) bool {
	return h[i/8]&(0x80>>(i%8)) != 0
}

// WithNibble returns a copy of h whose n-th nibble is set to nibble.
func (h Hash) WithNibble(n int, nibble uint8) Hash {
	if nibble > 0x0f {
		panic("nibble out of range")
	}
	if n%2 == 0 {
		h[n/2] = h[n/2]&0x0f | nibble<<4
	} else {
		h[n/2] = h[n/2]&0xf0 | nibble
	}
	return h
}

// CommonPrefixBits returns the number of leading bits a and b share.
func CommonPrefixBits(a, b Hash) int {
	for i := 0; i < HashLength; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			n := i * 8
			for mask := byte(0x80); x&mask == 0; mask >>= 1 {
				n++
			}
			return n
		}
	}
	return BitsPerKey
}

// CommonPrefixNibbles returns the number of leading nibbles a and b share.
func CommonPrefixNibbles(a, b Hash) int {
	return CommonPrefixBits(a, b) / 4
}
