// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package hashtree implements the Merkle integrity layer bins are addressed
// against: a static tree over a fixed-size file (peaks computed once, an
// uncle chain verifies any one leaf against them) and a live tree that grows
// leaf by leaf, periodically sealing an epoch under a source-signed munro
// instead of a fixed peak.
package hashtree

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/tswift/tswift/bin"
)

// HashFunc names the Merkle hash function negotiated in a handshake.
type HashFunc uint8

const (
	SHA1 HashFunc = iota
	SHA224
	SHA256
	SHA384
	SHA512
)

func (f HashFunc) new() hash.Hash {
	switch f {
	case SHA224:
		return sha256.New224()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	default:
		return sha1.New()
	}
}

// Size returns the digest length in bytes for f.
func (f HashFunc) Size() int { return f.new().Size() }

// Hash is a Merkle node digest. Its length depends on the negotiated
// HashFunc, so it is carried as a plain byte slice rather than a fixed
// array.
type Hash []byte

var leafDomain = []byte{0x00}

// leafHash computes the domain-separated hash of a chunk's bytes.
func (f HashFunc) leafHash(data []byte) Hash {
	h := f.new()
	h.Write(leafDomain)
	h.Write(data)
	return h.Sum(nil)
}

// combine computes the interior hash over two children, left-to-right.
func (f HashFunc) combine(left, right Hash) Hash {
	h := f.new()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// zeroHash returns the all-zero sentinel digest for f, used to detect
// content-free placeholder chunks.
func (f HashFunc) zeroHash() Hash {
	return make(Hash, f.Size())
}

func (h Hash) equal(o Hash) bool {
	if len(h) != len(o) {
		return false
	}
	for i := range h {
		if h[i] != o[i] {
			return false
		}
	}
	return true
}

func (h Hash) isZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// DeriveRoot folds peak hashes from rightmost to leftmost, as
// root = H(peak_0 || H(peak_1 || ... || H(peak_n || zero-hash))).
func DeriveRoot(f HashFunc, peaks []bin.Bin, peakHash map[bin.Bin]Hash) Hash {
	acc := f.zeroHash()
	for i := len(peaks) - 1; i >= 0; i-- {
		acc = f.combine(peakHash[peaks[i]], acc)
	}
	return acc
}

// UncleChain returns the siblings on the path from leaf up to (but
// excluding) peak, in descending-layer (top-down) order: the sibling
// nearest the peak comes first, the leaf's immediate sibling comes last.
func UncleChain(leaf, peak bin.Bin) []bin.Bin {
	var chain []bin.Bin
	cur := leaf
	for cur != peak {
		chain = append(chain, cur.Sibling())
		cur = cur.Parent()
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
