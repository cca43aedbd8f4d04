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

package transfer

import (
	"testing"

	"github.com/tswift/tswift/bin"
)

func TestProgressRegistryNotifiesAtOrAboveAggLayer(t *testing.T) {
	r := newProgressRegistry()
	var got []bin.Bin
	r.Add(func(b bin.Bin) { got = append(got, b) }, 2)

	leaf := bin.Leaf(4) // layer 0
	r.notify(leaf)
	if len(got) != 0 {
		t.Fatalf("callback fired for a bin below agg_layer: got %v", got)
	}

	layer2 := bin.FromLayerOffset(2, 1) // layer 2
	r.notify(layer2)
	if len(got) != 1 || got[0] != layer2 {
		t.Fatalf("callback did not fire for a bin at agg_layer: got %v", got)
	}

	layer3 := bin.FromLayerOffset(3, 0)
	r.notify(layer3)
	if len(got) != 2 || got[1] != layer3 {
		t.Fatalf("callback did not fire for a bin above agg_layer: got %v", got)
	}
}

func TestProgressRegistryRemoveStopsFurtherCalls(t *testing.T) {
	r := newProgressRegistry()
	calls := 0
	handle := r.Add(func(b bin.Bin) { calls++ }, 0)

	r.notify(bin.Leaf(0))
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	r.Remove(handle)
	r.notify(bin.Leaf(1))
	if calls != 1 {
		t.Fatalf("calls after Remove = %d, want still 1", calls)
	}
}

func TestProgressRegistryRemoveUnknownHandleIsNoop(t *testing.T) {
	r := newProgressRegistry()
	r.Add(func(b bin.Bin) {}, 0)
	r.Remove("not-a-real-handle")
	if len(r.entries) != 1 {
		t.Fatalf("Remove of an unknown handle mutated the registry: %d entries left", len(r.entries))
	}
}

func TestProgressRegistryHandlesAreUniquePerAdd(t *testing.T) {
	r := newProgressRegistry()
	h1 := r.Add(func(b bin.Bin) {}, 0)
	h2 := r.Add(func(b bin.Bin) {}, 0)
	if h1 == h2 {
		t.Fatalf("two Add calls returned the same handle: %q", h1)
	}
	if len(r.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(r.entries))
	}
}

func TestTransferProgressCallbackWiring(t *testing.T) {
	tr := &Transfer{progress: newProgressRegistry()}
	var fired bin.Bin
	handle := tr.AddProgressCallback(func(b bin.Bin) { fired = b }, 0)

	tr.progress.notify(bin.Leaf(7))
	if fired != bin.Leaf(7) {
		t.Fatalf("fired = %v, want %v", fired, bin.Leaf(7))
	}

	tr.RemoveProgressCallback(handle)
	fired = bin.NONE
	tr.progress.notify(bin.Leaf(8))
	if fired != bin.NONE {
		t.Fatalf("callback still fired after RemoveProgressCallback: %v", fired)
	}
}
