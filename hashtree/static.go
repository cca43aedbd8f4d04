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
	"bufio"
	"fmt"
	"io"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/xerr"
)

// ChunkSource supplies chunk bytes by index, for bootstrapping a Static
// tree from an already-complete local file.
type ChunkSource interface {
	ReadChunk(index uint64) ([]byte, error)
}

// Static is a Merkle tree over a fixed number of chunks: peaks are computed
// once at construction (or load) time and never change.
type Static struct {
	f            HashFunc
	chunkSize    uint32
	sizeInChunks uint64
	peaks        []bin.Bin
	peakHash     map[bin.Bin]Hash
	root         Hash

	verified  map[bin.Bin]Hash
	candidate map[bin.Bin]Hash

	ackOut *binmap.Binmap
}

// NewStaticFromSource hashes every chunk of an already-complete source and
// builds the peak/root structure from scratch (the "re-hash the whole file"
// path when no sidecar is present or it doesn't match).
func NewStaticFromSource(src ChunkSource, sizeInChunks uint64, chunkSize uint32, f HashFunc) (*Static, error) {
	t := &Static{
		f:            f,
		chunkSize:    chunkSize,
		sizeInChunks: sizeInChunks,
		peakHash:     make(map[bin.Bin]Hash),
		verified:     make(map[bin.Bin]Hash),
		candidate:    make(map[bin.Bin]Hash),
		ackOut:       binmap.New(),
	}
	if sizeInChunks == 0 {
		t.root = f.zeroHash()
		return t, nil
	}
	t.peaks = bin.DecomposeRange(0, sizeInChunks-1)

	leafHashes := make(map[bin.Bin]Hash, sizeInChunks)
	for i := uint64(0); i < sizeInChunks; i++ {
		data, err := src.ReadChunk(i)
		if err != nil {
			return nil, xerr.Storage("hashtree.NewStaticFromSource", err)
		}
		h := f.leafHash(data)
		if h.isZero() {
			return nil, xerr.Integrity("hashtree.NewStaticFromSource", fmt.Errorf("chunk %d hashes to the zero sentinel", i))
		}
		leafHashes[bin.Leaf(i)] = h
		t.verified[bin.Leaf(i)] = h
		if err := t.ackOut.Set(bin.Leaf(i)); err != nil {
			return nil, err
		}
	}
	for _, peak := range t.peaks {
		h, err := computeSubtree(f, peak, leafHashes)
		if err != nil {
			return nil, err
		}
		t.peakHash[peak] = h
		t.verified[peak] = h
	}
	t.root = DeriveRoot(f, t.peaks, t.peakHash)
	return t, nil
}

// NewStaticFromPeaks builds the receiving side of a Static tree from an
// already-trusted root decomposition (peaks learned via INTEGRITY messages
// or a signed root at handshake time), with no chunk data yet.
func NewStaticFromPeaks(peaks []bin.Bin, peakHashes map[bin.Bin]Hash, sizeInChunks uint64, chunkSize uint32, f HashFunc) *Static {
	t := &Static{
		f:            f,
		chunkSize:    chunkSize,
		sizeInChunks: sizeInChunks,
		peaks:        peaks,
		peakHash:     make(map[bin.Bin]Hash, len(peakHashes)),
		verified:     make(map[bin.Bin]Hash),
		candidate:    make(map[bin.Bin]Hash),
		ackOut:       binmap.New(),
	}
	for b, h := range peakHashes {
		t.peakHash[b] = h
		t.verified[b] = h
	}
	t.root = DeriveRoot(f, peaks, t.peakHash)
	return t
}

func computeSubtree(f HashFunc, b bin.Bin, leaves map[bin.Bin]Hash) (Hash, error) {
	if b.IsBase() {
		h, ok := leaves[b]
		if !ok {
			return nil, xerr.Integrity("hashtree.computeSubtree", fmt.Errorf("missing leaf hash for %v", b))
		}
		return h, nil
	}
	left, err := computeSubtree(f, b.Left(), leaves)
	if err != nil {
		return nil, err
	}
	right, err := computeSubtree(f, b.Right(), leaves)
	if err != nil {
		return nil, err
	}
	return f.combine(left, right), nil
}

func (t *Static) lookup(b bin.Bin) (Hash, bool) {
	if h, ok := t.verified[b]; ok {
		return h, true
	}
	if h, ok := t.peakHash[b]; ok {
		return h, true
	}
	if h, ok := t.candidate[b]; ok {
		return h, true
	}
	return nil, false
}

func (t *Static) isPeak(b bin.Bin) bool {
	_, ok := t.peakHash[b]
	return ok
}

// OfferHash records a hash received out-of-band (an INTEGRITY message
// carrying part of an uncle chain) as a candidate, to be confirmed the next
// time OfferData walks a path through it.
func (t *Static) OfferHash(pos bin.Bin, h Hash) error {
	if h.isZero() {
		return xerr.Integrity("hashtree.Static.OfferHash", fmt.Errorf("refusing to store a zero-sentinel hash at %v", pos))
	}
	if existing, ok := t.lookup(pos); ok {
		if !existing.equal(h) {
			return xerr.Integrity("hashtree.Static.OfferHash", fmt.Errorf("hash mismatch at %v", pos))
		}
		return nil
	}
	t.candidate[pos] = h
	return nil
}

// OfferData verifies data against the chain of hashes offered so far and,
// on success, marks pos filled in ack_out and returns true. It leaves all
// state unchanged on failure.
func (t *Static) OfferData(pos bin.Bin, data []byte) (bool, error) {
	if uint64(len(data)) > uint64(t.chunkSize) {
		return false, xerr.Protocol("hashtree.Static.OfferData", fmt.Errorf("chunk %v exceeds configured chunk size", pos))
	}
	leaf := t.f.leafHash(data)
	if leaf.isZero() {
		return false, xerr.Integrity("hashtree.Static.OfferData", fmt.Errorf("chunk %v hashes to the zero sentinel", pos))
	}
	if existing, ok := t.verified[pos]; ok {
		return existing.equal(leaf), nil
	}

	// walk up from the leaf, combining with offered sibling hashes, until
	// the accumulated hash lands on an already-trusted node (a peak or a
	// previously verified interior hash).
	type step struct {
		node bin.Bin
		hash Hash
	}
	cur, curHash := pos, leaf
	path := []step{{pos, leaf}}
	for !t.isPeak(cur) {
		if _, ok := t.verified[cur]; ok {
			break
		}
		sibHash, ok := t.lookup(cur.Sibling())
		if !ok {
			return false, nil
		}
		if cur.Parent().Left() == cur {
			curHash = t.f.combine(curHash, sibHash)
		} else {
			curHash = t.f.combine(sibHash, curHash)
		}
		cur = cur.Parent()
		path = append(path, step{cur, curHash})
	}
	if expected, ok := t.lookup(cur); ok && !expected.equal(curHash) {
		return false, xerr.Integrity("hashtree.Static.OfferData", fmt.Errorf("uncle chain for %v does not reach a matching hash at %v", pos, cur))
	}
	for _, s := range path {
		t.verified[s.node] = s.hash
	}
	if err := t.ackOut.Set(pos); err != nil {
		return false, err
	}
	return true, nil
}

// PeakCount, Peak, PeakHash, Root, SizeInChunks, ChunkSize, AckOut are the
// read accessors a Transfer needs.
func (t *Static) PeakCount() int        { return len(t.peaks) }
func (t *Static) Peak(i int) bin.Bin    { return t.peaks[i] }
func (t *Static) PeakHash(b bin.Bin) Hash { return t.peakHash[b] }
func (t *Static) Root() Hash             { return t.root }
func (t *Static) SizeInChunks() uint64   { return t.sizeInChunks }
func (t *Static) ChunkSize() uint32      { return t.chunkSize }
func (t *Static) AckOut() *binmap.Binmap { return t.ackOut }

// HashAt returns the hash stored at b (verified, peak, or still-candidate),
// for the channel layer to pull uncle-chain hashes to send alongside data.
func (t *Static) HashAt(b bin.Bin) (Hash, bool) {
	return t.lookup(b)
}

// PeakFor returns the peak that subsumes pos, or bin.NONE if pos is outside
// the tree.
func (t *Static) PeakFor(pos bin.Bin) bin.Bin {
	for _, p := range t.peaks {
		if p.Contains(pos) || p == pos {
			return p
		}
	}
	return bin.NONE
}

// AnchorFor is PeakFor under the name the channel layer uses generically
// across Static and Live trees (a "peak" and a "munro" both being the
// nearest trust anchor subsuming a position).
func (t *Static) AnchorFor(pos bin.Bin) bin.Bin { return t.PeakFor(pos) }

// Signed reports that a Static tree's anchors (peaks) are trusted by root
// derivation, not by a per-anchor signature.
func (t *Static) Signed() bool { return false }

// Signature always returns nil for a Static tree; callers must check Signed
// first.
func (t *Static) Signature(bin.Bin) []byte { return nil }

// Save/LoadStatic implement the .mhash sidecar: hash func, size in
// chunks, chunk size, then one "peak <bin> <hex-hash>" line per peak.
func (t *Static) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "hashfunc %d\n", t.f)
	fmt.Fprintf(bw, "sizeinchunks %d\n", t.sizeInChunks)
	fmt.Fprintf(bw, "chunksize %d\n", t.chunkSize)
	fmt.Fprintf(bw, "peaks %d\n", len(t.peaks))
	for _, p := range t.peaks {
		fmt.Fprintf(bw, "peak %d %x\n", uint64(p), []byte(t.peakHash[p]))
	}
	return bw.Flush()
}

// LoadStatic reconstructs a Static tree from its sidecar, verifying the
// derived root against expectedRoot. A mismatch means the caller must fall
// back to NewStaticFromSource.
func LoadStatic(r io.Reader, expectedRoot Hash) (*Static, error) {
	t := &Static{peakHash: make(map[bin.Bin]Hash), verified: make(map[bin.Bin]Hash), candidate: make(map[bin.Bin]Hash), ackOut: binmap.New()}
	var nPeaks int
	br := bufio.NewReader(r)
	for {
		var kind string
		n, err := fmt.Fscan(br, &kind)
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return nil, xerr.Protocol("hashtree.LoadStatic", err)
		}
		switch kind {
		case "hashfunc":
			var v uint8
			fmt.Fscan(br, &v)
			t.f = HashFunc(v)
		case "sizeinchunks":
			fmt.Fscan(br, &t.sizeInChunks)
		case "chunksize":
			fmt.Fscan(br, &t.chunkSize)
		case "peaks":
			fmt.Fscan(br, &nPeaks)
		case "peak":
			var bv uint64
			var hx string
			fmt.Fscan(br, &bv, &hx)
			p := bin.Bin(bv)
			h := make(Hash, len(hx)/2)
			if _, err := fmt.Sscanf(hx, "%x", &h); err != nil {
				return nil, xerr.Protocol("hashtree.LoadStatic", err)
			}
			t.peaks = append(t.peaks, p)
			t.peakHash[p] = h
			t.verified[p] = h
		default:
			return nil, xerr.Protocol("hashtree.LoadStatic", fmt.Errorf("unknown sidecar field %q", kind))
		}
	}
	if len(t.peaks) != nPeaks {
		return nil, xerr.Protocol("hashtree.LoadStatic", fmt.Errorf("sidecar declared %d peaks, found %d", nPeaks, len(t.peaks)))
	}
	t.root = DeriveRoot(t.f, t.peaks, t.peakHash)
	if !t.root.equal(expectedRoot) {
		return nil, xerr.Integrity("hashtree.LoadStatic", fmt.Errorf("sidecar root does not match expected root"))
	}
	return t, nil
}
