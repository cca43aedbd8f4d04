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
	"time"

	"github.com/tswift/tswift/bin"
)

func TestFetchersTrackCreatesAndAppendsPeers(t *testing.T) {
	f := newFetchers()
	now := time.Unix(1000, 0)
	pos := bin.Leaf(5)

	f.Track(pos, 1, now)
	v, ok := f.cache.Get(pos)
	if !ok {
		t.Fatal("Track did not record an entry")
	}
	rec := v.(*fetchRecord)
	if len(rec.peers) != 1 || rec.peers[0] != 1 {
		t.Fatalf("peers = %v, want [1]", rec.peers)
	}
	if !rec.requestedAt.Equal(now) {
		t.Fatalf("requestedAt = %v, want %v", rec.requestedAt, now)
	}

	f.Track(pos, 2, now.Add(time.Second))
	v, _ = f.cache.Get(pos)
	rec = v.(*fetchRecord)
	if len(rec.peers) != 2 || rec.peers[1] != 2 {
		t.Fatalf("peers after second Track = %v, want [1 2]", rec.peers)
	}
	// requestedAt should still reflect the first hint, not the second.
	if !rec.requestedAt.Equal(now) {
		t.Fatalf("requestedAt changed on a repeat Track: %v, want %v", rec.requestedAt, now)
	}
}

func TestFetchersForgetRemovesEntry(t *testing.T) {
	f := newFetchers()
	pos := bin.Leaf(9)
	f.Track(pos, 1, time.Unix(0, 0))
	if f.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", f.Len())
	}
	f.Forget(pos)
	if f.Len() != 0 {
		t.Fatalf("Len() after Forget = %d, want 0", f.Len())
	}
	if _, ok := f.cache.Get(pos); ok {
		t.Fatal("Forget left the entry in the cache")
	}
}

func TestFetchersForgetUnknownPosIsNoop(t *testing.T) {
	f := newFetchers()
	f.Forget(bin.Leaf(42)) // must not panic
	if f.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", f.Len())
	}
}

func TestFetchersLenTracksDistinctPositions(t *testing.T) {
	f := newFetchers()
	now := time.Unix(0, 0)
	f.Track(bin.Leaf(1), 1, now)
	f.Track(bin.Leaf(2), 1, now)
	f.Track(bin.Leaf(1), 2, now) // same pos, different peer: no new entry
	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.Len())
	}
}
