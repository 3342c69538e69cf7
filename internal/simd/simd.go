// Package simd implements the word-parallel scan primitives the rest of the
// pipeline builds on: single-character search, substring search, and ASCII
// lowercasing. The original implementation dispatches to hand-written AVX2
// assembly below a scalar fallback; this port keeps the same two-tier shape
// (word-parallel fast path, byte-at-a-time tail) but expresses the fast path
// as portable SWAR (SIMD-within-a-register) bit tricks over uint64 words
// instead of machine-specific instructions. See DESIGN.md for the tradeoff.
package simd

import (
	"bytes"
	"math/bits"
)

const wordSize = 8

// broadcast replicates b into every byte of a uint64.
func broadcast(b byte) uint64 {
	return 0x0101010101010101 * uint64(b)
}

// hasZeroByte returns a non-zero word iff v contains a zero byte, with the
// high bit of the lowest zero byte set; it is the classic "SWAR find zero
// byte" trick (Alan Mycroft's null-byte detection). A borrow can also set
// the high bit of a 0x01 byte above a zero byte, so only the lowest set bit
// is exact.
func hasZeroByte(v uint64) uint64 {
	return (v - 0x0101010101010101) & ^v & 0x8080808080808080
}

// FindChar returns the index of the first occurrence of c in s starting at
// from, or -1 if absent. Matches the contract of the original's
// find_next(char): an empty remaining range yields -1.
func FindChar(s []byte, from int, c byte) int {
	if from < 0 {
		from = 0
	}
	n := len(s)
	i := from

	pattern := broadcast(c)
	for ; i+wordSize <= n; i += wordSize {
		word := nativeEndianUint64(s[i : i+wordSize])
		xored := word ^ pattern
		if z := hasZeroByte(xored); z != 0 {
			return i + bits.TrailingZeros64(z)/8
		}
	}
	for ; i < n; i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// FindSubstr returns the index of the first occurrence of sub in s starting
// at from, or -1 if absent or sub is empty. The word-parallel loop uses
// FindChar to locate candidate first-byte matches, then verifies the full
// substring with a scalar compare, the same two-step shape as the original's
// find_next(string) (strchr-then-memcmp rather than a full multi-byte SIMD
// compare).
func FindSubstr(s []byte, from int, sub []byte) int {
	if len(sub) == 0 {
		return -1
	}
	if from < 0 {
		from = 0
	}
	n, m := len(s), len(sub)
	if from+m > n {
		return -1
	}

	first := sub[0]
	i := from
	for {
		i = FindChar(s, i, first)
		if i == -1 || i+m > n {
			return -1
		}
		if bytes.Equal(s[i:i+m], sub) {
			return i
		}
		i++
	}
}

// FindNewline returns the index of the next '\n' at or after from, or -1.
func FindNewline(s []byte, from int) int {
	return FindChar(s, from, '\n')
}

// CountByte counts occurrences of c in s, word-parallel over the bulk of
// the buffer with a scalar tail.
func CountByte(s []byte, c byte) int {
	n := len(s)
	i, count := 0, 0
	pattern := broadcast(c)
	for ; i+wordSize <= n; i += wordSize {
		word := nativeEndianUint64(s[i : i+wordSize])
		xored := word ^ pattern
		// carry-free zero-byte mask: unlike hasZeroByte, every set high bit
		// marks a real match, so all of them can be counted
		z := ^(((xored & 0x7F7F7F7F7F7F7F7F) + 0x7F7F7F7F7F7F7F7F) | xored) & 0x8080808080808080
		for z != 0 {
			count++
			z &= z - 1
		}
	}
	for ; i < n; i++ {
		if s[i] == c {
			count++
		}
	}
	return count
}

const asciiUpperLo = 'A'
const asciiUpperHi = 'Z'

// ToLowerASCII lowercases s in place, treating only the ['A', 'Z'] range as
// uppercase (no locale or Unicode awareness, matching the original's
// ascii-only to_lower). The word-parallel path computes, for each byte
// lane, a saturating "is this byte in ['A','Z']" mask and flips bit 0x20
// only where the mask is set.
func ToLowerASCII(s []byte) {
	n := len(s)
	i := 0
	for ; i+wordSize <= n; i += wordSize {
		word := nativeEndianUint64(s[i : i+wordSize])
		mask := upperCaseMask(word)
		if mask == 0 {
			continue
		}
		lowered := word | (mask >> 2 & broadcast(0x20))
		putNativeEndianUint64(s[i:i+wordSize], lowered)
	}
	for ; i < n; i++ {
		if s[i] >= asciiUpperLo && s[i] <= asciiUpperHi {
			s[i] += 0x20
		}
	}
}

// upperCaseMask sets the high bit of every byte lane in v that falls in
// ['A','Z']. Built from carry-free variants of the "hasless"/"hasmore" SWAR
// formulas (Seander's bit-twiddling hacks): each lane's top bit is masked
// off before the add or subtract, so no carry or borrow crosses into a
// neighbouring lane, and lanes >= 0x80 are never reported as upper case.
func upperCaseMask(v uint64) uint64 {
	notLess := (^hasLessByte(v, asciiUpperLo)) & 0x8080808080808080
	notMore := (^hasMoreByte(v, asciiUpperHi)) & 0x8080808080808080
	return notLess & notMore
}

// hasLessByte sets the high bit of each lane of v that is below 0x80 and
// less than n (1 <= n <= 0x80).
func hasLessByte(v uint64, n byte) uint64 {
	return ^((v & 0x7F7F7F7F7F7F7F7F) + broadcast(0x80-n)) & ^v & 0x8080808080808080
}

// hasMoreByte sets the high bit of each lane of v that is greater than n
// (n < 0x80); every lane >= 0x80 is flagged.
func hasMoreByte(v uint64, n byte) uint64 {
	return (((v & 0x7F7F7F7F7F7F7F7F) + broadcast(127-n)) | v) & 0x8080808080808080
}

func nativeEndianUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < wordSize; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putNativeEndianUint64(b []byte, v uint64) {
	for i := 0; i < wordSize; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
