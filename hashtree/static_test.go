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

package hashtree

import (
	"bytes"
	"testing"

	"github.com/tswift/tswift/bin"
)

type sliceSource [][]byte

func (s sliceSource) ReadChunk(i uint64) ([]byte, error) { return s[i], nil }

func fiveChunkSource() sliceSource {
	return sliceSource{
		[]byte("chunk-0"),
		[]byte("chunk-1"),
		[]byte("chunk-2"),
		[]byte("chunk-3"),
		[]byte("chunk-4"),
	}
}

func TestStaticPeaksMatchFiveChunkLayout(t *testing.T) {
	src := fiveChunkSource()
	tree, err := NewStaticFromSource(src, 5, 7, SHA1)
	if err != nil {
		t.Fatalf("NewStaticFromSource: %v", err)
	}
	if tree.PeakCount() != 2 {
		t.Fatalf("got %d peaks, want 2", tree.PeakCount())
	}
	if tree.Peak(0) != bin.FromLayerOffset(2, 0) || tree.Peak(1) != bin.FromLayerOffset(0, 4) {
		t.Fatalf("got peaks %v, %v; want (2,0), (0,4)", tree.Peak(0), tree.Peak(1))
	}
	for i := uint64(0); i < 5; i++ {
		if !tree.AckOut().IsFilled(bin.Leaf(i)) {
			t.Fatalf("leaf %d should already be acked after building from a complete source", i)
		}
	}
}

func TestOfferDataAcceptsChunkMatchingUncleChain(t *testing.T) {
	src := fiveChunkSource()
	source, err := NewStaticFromSource(src, 5, 7, SHA1)
	if err != nil {
		t.Fatalf("NewStaticFromSource: %v", err)
	}

	peakHashes := make(map[bin.Bin]Hash)
	var peaks []bin.Bin
	for i := 0; i < source.PeakCount(); i++ {
		p := source.Peak(i)
		peaks = append(peaks, p)
		peakHashes[p] = source.PeakHash(p)
	}
	receiver := NewStaticFromPeaks(peaks, peakHashes, 5, 7, SHA1)
	if !bytes.Equal(receiver.Root(), source.Root()) {
		t.Fatal("receiver's derived root should match the source's")
	}

	leaf := bin.Leaf(2)
	peak := source.PeakFor(leaf)
	for _, sib := range UncleChain(leaf, peak) {
		h, ok := source.lookup(sib)
		if !ok {
			t.Fatalf("source missing hash for uncle %v", sib)
		}
		if err := receiver.OfferHash(sib, h); err != nil {
			t.Fatalf("OfferHash(%v): %v", sib, err)
		}
	}
	ok, err := receiver.OfferData(leaf, src[2])
	if err != nil {
		t.Fatalf("OfferData: %v", err)
	}
	if !ok {
		t.Fatal("OfferData should have accepted a chunk matching its uncle chain")
	}
	if !receiver.AckOut().IsFilled(leaf) {
		t.Fatal("ack_out should be set after a successful OfferData")
	}
}

func TestOfferDataRejectsTamperedChunk(t *testing.T) {
	src := fiveChunkSource()
	source, err := NewStaticFromSource(src, 5, 7, SHA1)
	if err != nil {
		t.Fatalf("NewStaticFromSource: %v", err)
	}
	peakHashes := map[bin.Bin]Hash{}
	var peaks []bin.Bin
	for i := 0; i < source.PeakCount(); i++ {
		p := source.Peak(i)
		peaks = append(peaks, p)
		peakHashes[p] = source.PeakHash(p)
	}
	receiver := NewStaticFromPeaks(peaks, peakHashes, 5, 7, SHA1)

	leaf := bin.Leaf(2)
	peak := source.PeakFor(leaf)
	for _, sib := range UncleChain(leaf, peak) {
		h, _ := source.lookup(sib)
		receiver.OfferHash(sib, h)
	}
	ok, err := receiver.OfferData(leaf, []byte("tampered data"))
	if err != nil {
		t.Fatalf("OfferData returned an error instead of a clean rejection: %v", err)
	}
	if ok {
		t.Fatal("OfferData must reject data that does not match the uncle chain")
	}
}

func TestOfferHashRejectsZeroSentinel(t *testing.T) {
	tree := NewStaticFromPeaks(nil, nil, 1, 7, SHA1)
	err := tree.OfferHash(bin.Leaf(0), make(Hash, SHA1.Size()))
	if err == nil {
		t.Fatal("expected an IntegrityError when offering the zero-sentinel hash")
	}
}

func TestUncleChainOrderIsTopDown(t *testing.T) {
	leaf := bin.Leaf(5)
	peak := bin.FromLayerOffset(3, 0) // covers leaves 0..7
	chain := UncleChain(leaf, peak)
	if len(chain) != 3 {
		t.Fatalf("got chain length %d, want 3", len(chain))
	}
	// the last entry must be the leaf's immediate sibling
	if chain[len(chain)-1] != leaf.Sibling() {
		t.Fatalf("last uncle should be the leaf's sibling, got %v", chain[len(chain)-1])
	}
	// the first entry must be the sibling nearest the peak
	if chain[0].Parent() != peak {
		t.Fatalf("first uncle's parent should be the peak, got parent %v of %v", chain[0].Parent(), chain[0])
	}
}
