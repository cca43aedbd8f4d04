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

// Package bin names nodes of the implicit binary tree that bin-addressed
// content transport is built on. A node at layer l, offset o is numbered
//
//	bin = o*2^(l+1) + 2^l - 1
//
// so that leaves (layer 0) are the even integers 0, 2, 4, ... in order, and
// every interior bin sits exactly between its two children. NONE is the
// all-ones sentinel; ALL is the single bin spanning the entire addressable
// tree (layer 63, offset 0).
package bin

import (
	"fmt"
	"math/bits"
)

// Bin identifies a node of the implicit binary tree.
type Bin uint64

const (
	// NONE is the sentinel "no such bin" value.
	NONE Bin = ^Bin(0)
	// ALL is the bin spanning the entire addressable tree.
	ALL Bin = NONE >> 1
)

// FromLayerOffset builds the bin at the given layer and offset.
func FromLayerOffset(layer uint, offset uint64) Bin {
	return Bin(offset<<(layer+1)) + Bin(1)<<layer - 1
}

// Leaf constructs the bin naming leaf number i (the i-th base chunk).
func Leaf(i uint64) Bin {
	return FromLayerOffset(0, i)
}

// Layer returns the tree layer of b; a leaf is layer 0. NONE reports 64.
func (b Bin) Layer() uint {
	if b == NONE {
		return 64
	}
	return uint(bits.TrailingZeros64(uint64(b) + 1))
}

// Offset returns the index of b within its layer.
func (b Bin) Offset() uint64 {
	if b == NONE {
		return 0
	}
	return uint64(b) >> (b.Layer() + 1)
}

// IsNone reports whether b is the NONE sentinel.
func (b Bin) IsNone() bool { return b == NONE }

// IsBase reports whether b names a leaf (layer 0).
func (b Bin) IsBase() bool {
	return b != NONE && uint64(b)&1 == 0
}

// BaseLength returns the number of leaves subsumed by b (2^layer).
func (b Bin) BaseLength() uint64 {
	if b == NONE {
		return 0
	}
	return uint64(1) << b.Layer()
}

// BaseLeft returns the leftmost leaf bin subsumed by b.
func (b Bin) BaseLeft() Bin {
	if b == NONE {
		return NONE
	}
	return Leaf(b.Offset() << b.Layer())
}

// BaseRight returns the rightmost leaf bin subsumed by b.
func (b Bin) BaseRight() Bin {
	if b == NONE {
		return NONE
	}
	return Leaf((b.Offset()+1)<<b.Layer() - 1)
}

// BaseOffset is the leaf index of BaseLeft (the "chunk index" of b).
func (b Bin) BaseOffset() uint64 {
	return b.BaseLeft().Offset()
}

// Parent returns the bin one layer up that contains b. ALL has no parent.
func (b Bin) Parent() Bin {
	if b == NONE || b == ALL {
		return NONE
	}
	l := b.Layer()
	return FromLayerOffset(l+1, b.Offset()>>1)
}

// Sibling returns the bin that shares b's parent.
func (b Bin) Sibling() Bin {
	if b == NONE {
		return NONE
	}
	l := b.Layer()
	return FromLayerOffset(l, b.Offset()^1)
}

// Left returns b's left child, or NONE if b is a leaf.
func (b Bin) Left() Bin {
	if b == NONE || b.Layer() == 0 {
		return NONE
	}
	l := b.Layer()
	return FromLayerOffset(l-1, b.Offset()<<1)
}

// Right returns b's right child, or NONE if b is a leaf.
func (b Bin) Right() Bin {
	if b == NONE || b.Layer() == 0 {
		return NONE
	}
	l := b.Layer()
	return FromLayerOffset(l-1, b.Offset()<<1+1)
}

// Contains reports whether b's subtree contains other (b itself counts).
func (b Bin) Contains(other Bin) bool {
	if b == NONE || other == NONE {
		return false
	}
	bl, br := b.BaseLeft(), b.BaseRight()
	ol, or := other.BaseLeft(), other.BaseRight()
	return bl <= ol && or <= br
}

// Twisted XORs the layer offset of b with x, leaving the layer unchanged.
// Used to de-synchronise otherwise identical peers picking from the same
// bin tree.
func (b Bin) Twisted(x uint64) Bin {
	if b == NONE {
		return NONE
	}
	l := b.Layer()
	return FromLayerOffset(l, b.Offset()^x)
}

// String renders b as "(layer,offset)" in the libswift convention.
func (b Bin) String() string {
	if b == NONE {
		return "NONE"
	}
	return fmt.Sprintf("(%d,%d)", b.Layer(), b.Offset())
}
