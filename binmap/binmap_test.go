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

package binmap

import (
	"bytes"
	"testing"

	"github.com/tswift/tswift/bin"
)

func TestEmptyMapIsEmptyEverywhere(t *testing.T) {
	m := New()
	if !m.IsEmpty(bin.Leaf(0)) {
		t.Fatal("fresh binmap should be empty at leaf 0")
	}
	if m.IsFilled(bin.Leaf(0)) {
		t.Fatal("fresh binmap should not be filled anywhere")
	}
	if !m.WholeEmpty() {
		t.Fatal("fresh binmap should report WholeEmpty")
	}
}

func TestSetSingleLeafThenReset(t *testing.T) {
	m := New()
	if err := m.Set(bin.Leaf(5)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !m.IsFilled(bin.Leaf(5)) {
		t.Fatal("leaf 5 should be filled")
	}
	if !m.IsEmpty(bin.Leaf(4)) || !m.IsEmpty(bin.Leaf(6)) {
		t.Fatal("neighbouring leaves should remain empty")
	}
	if err := m.Reset(bin.Leaf(5)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !m.WholeEmpty() {
		t.Fatal("binmap should be empty again after reset")
	}
}

func TestSetWholeSubtreeFillsAllLeaves(t *testing.T) {
	m := New()
	root := bin.FromLayerOffset(4, 0) // covers leaves 0..15
	if err := m.Set(root); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := uint64(0); i < 16; i++ {
		if !m.IsFilled(bin.Leaf(i)) {
			t.Fatalf("leaf %d should be filled after setting the covering subtree", i)
		}
	}
	if !m.IsFilled(root) {
		t.Fatal("the subtree itself should report filled")
	}
}

func TestSetAllLeavesCollapsesToFilledRoot(t *testing.T) {
	m := New()
	for i := uint64(0); i < 8; i++ {
		if err := m.Set(bin.Leaf(i)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	root := bin.FromLayerOffset(3, 0)
	if !m.IsFilled(root) {
		t.Fatal("setting every leaf of a subtree should report the subtree filled")
	}
	// packing should have collapsed the cells back down to a single solid half
	if m.CellsAllocated() != 0 {
		t.Fatalf("expected 0 allocated cells after full collapse, got %d", m.CellsAllocated())
	}
}

func TestResetPunchesHoleInFilledSubtree(t *testing.T) {
	m := New()
	root := bin.FromLayerOffset(3, 0) // leaves 0..7
	if err := m.Set(root); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Reset(bin.Leaf(3)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.IsFilled(root) {
		t.Fatal("subtree should no longer report fully filled")
	}
	if !m.IsEmpty(bin.Leaf(3)) {
		t.Fatal("leaf 3 should be empty")
	}
	for _, i := range []uint64{0, 1, 2, 4, 5, 6, 7} {
		if !m.IsFilled(bin.Leaf(i)) {
			t.Fatalf("leaf %d should still be filled", i)
		}
	}
}

func TestCoverReturnsSmallestSolidAncestor(t *testing.T) {
	m := New()
	root := bin.FromLayerOffset(3, 0)
	if err := m.Set(root); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Reset(bin.Leaf(3)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := m.Cover(bin.Leaf(0)); got != bin.FromLayerOffset(1, 0) {
		t.Fatalf("Cover(leaf 0): got %v, want the two-leaf solid pair (1,0)", got)
	}
	if got := m.Cover(root); got != bin.NONE {
		t.Fatalf("Cover(mixed subtree): got %v, want NONE", got)
	}
}

func TestFindEmptyAndFindFilled(t *testing.T) {
	m := New()
	if got := m.FindFilled(); !got.IsNone() {
		t.Fatalf("FindFilled on empty map: got %v, want NONE", got)
	}
	if err := m.Set(bin.Leaf(3)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := m.FindFilled(); got != bin.Leaf(3) {
		t.Fatalf("FindFilled: got %v, want leaf 3", got)
	}
	if got := m.FindEmpty(); got != bin.Leaf(0) {
		t.Fatalf("FindEmpty: got %v, want leaf 0", got)
	}
}

func TestFindComplementFindsBinPresentInSourceOnly(t *testing.T) {
	have := New()
	want := New()
	for _, i := range []uint64{0, 1, 2, 3, 4} {
		if err := have.Set(bin.Leaf(i)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if err := want.Set(bin.Leaf(0)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := want.Set(bin.Leaf(1)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rng := bin.FromLayerOffset(3, 0) // covers leaves 0..7
	got := have.FindComplement(want, rng, 0)
	if got.IsNone() {
		t.Fatal("expected to find a bin have has and want doesn't")
	}
	if !have.IsFilled(got) || !want.IsEmpty(got) {
		t.Fatalf("bin %v must be filled in have and empty in want", got)
	}
}

func TestFindComplementNoneWhenFullySubsumed(t *testing.T) {
	have := New()
	want := New()
	for _, i := range []uint64{0, 1} {
		if err := have.Set(bin.Leaf(i)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
		if err := want.Set(bin.Leaf(i)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	rng := bin.FromLayerOffset(3, 0)
	if got := have.FindComplement(want, rng, 0); !got.IsNone() {
		t.Fatalf("expected NONE, got %v", got)
	}
}

func TestFindComplementTwistChangesOrder(t *testing.T) {
	have := New()
	want := New()
	if err := have.Set(bin.Leaf(0)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := have.Set(bin.Leaf(4)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rng := bin.FromLayerOffset(3, 0)
	left := have.FindComplement(want, rng, 0)
	right := have.FindComplement(want, rng, ^uint64(0))
	if left == right {
		t.Fatal("a fully-inverted twist should pick the opposite leaf first")
	}
}

func TestCopyDeepCopiesIndependentState(t *testing.T) {
	src := New()
	if err := src.Set(bin.Leaf(2)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	dst := New()
	if err := Copy(dst, src); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if !dst.IsFilled(bin.Leaf(2)) {
		t.Fatal("copy should carry over filled state")
	}
	if err := src.Set(bin.Leaf(3)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if dst.IsFilled(bin.Leaf(3)) {
		t.Fatal("mutating src after Copy must not affect dst")
	}
}

func TestCopyRangeReplacesOnlySubtree(t *testing.T) {
	src := New()
	if err := src.Set(bin.FromLayerOffset(2, 0)); err != nil { // leaves 0..3
		t.Fatalf("Set: %v", err)
	}
	dst := New()
	if err := dst.Set(bin.Leaf(10)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := CopyRange(dst, src, bin.FromLayerOffset(2, 0)); err != nil {
		t.Fatalf("CopyRange: %v", err)
	}
	for i := uint64(0); i < 4; i++ {
		if !dst.IsFilled(bin.Leaf(i)) {
			t.Fatalf("leaf %d should be filled after CopyRange", i)
		}
	}
	if !dst.IsFilled(bin.Leaf(10)) {
		t.Fatal("CopyRange must not disturb bins outside the replaced range")
	}
}

func TestAllocationErrorOnExhaustedArena(t *testing.T) {
	m := New()
	m.MaxCells = 1
	if err := m.Set(bin.Leaf(0)); err != nil {
		t.Fatalf("first Set should need no cells: %v", err)
	}
	// growing the root to cover a far-away leaf stays dense up to layer 6,
	// then allocates one cell per further doubling; with MaxCells=1 the
	// second of those doublings must fail.
	if err := m.Set(bin.Leaf(1000000)); err == nil {
		t.Fatal("expected an allocation error when growing past MaxCells")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	src := New()
	for _, i := range []uint64{0, 5, 6, 200} {
		if err := src.Set(bin.Leaf(i)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	var buf bytes.Buffer
	if err := src.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	for _, i := range []uint64{0, 5, 6, 200} {
		if !got.IsFilled(bin.Leaf(i)) {
			t.Fatalf("round-tripped map missing filled leaf %d", i)
		}
	}
	if !got.IsEmpty(bin.Leaf(1)) {
		t.Fatal("round-tripped map should not fabricate fill state")
	}
}

func TestDeserializeRejectsMismatchedCellCount(t *testing.T) {
	bad := "rootbin 0\nroot F\ncells 3\nfreehead 4294967295\n"
	if _, err := Deserialize(bytes.NewBufferString(bad)); err == nil {
		t.Fatal("expected an error when the declared cell count does not match the body")
	}
}
