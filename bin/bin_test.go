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

package bin

import "testing"

func TestLeafLayerZero(t *testing.T) {
	for i := uint64(0); i < 16; i++ {
		b := Leaf(i)
		if l := b.Layer(); l != 0 {
			t.Fatalf("leaf %d: got layer %d, want 0", i, l)
		}
		if b.Offset() != i {
			t.Fatalf("leaf %d: got offset %d, want %d", i, b.Offset(), i)
		}
		if !b.IsBase() {
			t.Fatalf("leaf %d should be a base bin", i)
		}
	}
}

func TestParentChildRoundTrip(t *testing.T) {
	for _, b := range []Bin{Leaf(0), Leaf(1), Leaf(4), Leaf(5), FromLayerOffset(3, 1)} {
		p := b.Parent()
		if p.Left() != b && p.Right() != b {
			t.Fatalf("bin %v: parent %v does not have it as a child (left=%v right=%v)", b, p, p.Left(), p.Right())
		}
		if b.Sibling().Sibling() != b {
			t.Fatalf("bin %v: sibling is not an involution", b)
		}
	}
}

func TestBaseLeftRight(t *testing.T) {
	// (2,0) covers leaves 0..3, (0,4) is leaf 4: the two peaks of a 5-chunk
	// file's hash tree.
	peak1 := FromLayerOffset(2, 0)
	if peak1.BaseLeft() != Leaf(0) || peak1.BaseRight() != Leaf(3) {
		t.Fatalf("peak (2,0): got base range [%v,%v]", peak1.BaseLeft(), peak1.BaseRight())
	}
	peak2 := FromLayerOffset(0, 4)
	if peak2.BaseLeft() != Leaf(4) || peak2.BaseRight() != Leaf(4) {
		t.Fatalf("peak (0,4): got base range [%v,%v]", peak2.BaseLeft(), peak2.BaseRight())
	}
}

func TestContains(t *testing.T) {
	root := FromLayerOffset(3, 0)
	if !root.Contains(Leaf(5)) {
		t.Fatalf("expected (3,0) to contain leaf 5")
	}
	if root.Contains(Leaf(9)) {
		t.Fatalf("did not expect (3,0) to contain leaf 9")
	}
}

func TestTwistedPreservesLayer(t *testing.T) {
	b := FromLayerOffset(4, 3)
	tw := b.Twisted(0x2a)
	if tw.Layer() != b.Layer() {
		t.Fatalf("twisted bin changed layer: %d -> %d", b.Layer(), tw.Layer())
	}
	if tw.Twisted(0x2a) != b {
		t.Fatalf("twist with the same mask should be its own inverse")
	}
}

func TestDecomposeRangeCanonicalDecomposition(t *testing.T) {
	got := DecomposeRange(5, 25)
	want := []Bin{
		FromLayerOffset(0, 5),
		FromLayerOffset(1, 3),
		FromLayerOffset(3, 1),
		FromLayerOffset(3, 2),
		FromLayerOffset(1, 12),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d bins, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bin %d: got %v, want %v", i, got[i], want[i])
		}
	}

	// every integer in [5,25] is covered exactly once
	covered := make(map[uint64]int)
	for _, b := range got {
		for l := b.BaseLeft().Offset(); l <= b.BaseRight().Offset(); l++ {
			covered[l]++
		}
	}
	for i := uint64(5); i <= 25; i++ {
		if covered[i] != 1 {
			t.Fatalf("chunk %d covered %d times, want exactly 1", i, covered[i])
		}
	}
}

func TestNoneSentinel(t *testing.T) {
	if !NONE.IsNone() {
		t.Fatal("NONE.IsNone() should be true")
	}
	if Leaf(0).IsNone() {
		t.Fatal("a real bin should not report IsNone")
	}
	if NONE.Parent() != NONE || NONE.Left() != NONE || NONE.Right() != NONE {
		t.Fatal("NONE navigation should stay NONE")
	}
}
