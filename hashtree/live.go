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
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/xerr"
)

// Live is a hash tree that grows leaf by leaf instead of being bootstrapped
// over a known-size file. Every epochSize chunks, the interior node
// subsuming that epoch (the "munro") is sealed: the source signs it with
// its own keypair, and clients verify the signature before trusting it the
// way a Static tree trusts a peak.
type Live struct {
	f         HashFunc
	chunkSize uint32
	epochSize uint64

	isSource bool
	privKey  *ecdsa.PrivateKey
	pubKey   *ecdsa.PublicKey

	nextLeaf uint64

	munros    []bin.Bin
	munroHash map[bin.Bin]Hash
	munroSig  map[bin.Bin][]byte

	verified  map[bin.Bin]Hash
	candidate map[bin.Bin]Hash

	ackOut *binmap.Binmap
}

// NewLiveSource creates the hash tree for a live stream's originating peer.
func NewLiveSource(privKey *ecdsa.PrivateKey, chunkSize uint32, f HashFunc, epochSize uint64) *Live {
	return newLive(f, chunkSize, epochSize, true, privKey, nil)
}

// NewLiveClient creates the hash tree for a peer receiving a live stream,
// verifying munros against the source's known public key.
func NewLiveClient(pubKey *ecdsa.PublicKey, chunkSize uint32, f HashFunc, epochSize uint64) *Live {
	return newLive(f, chunkSize, epochSize, false, nil, pubKey)
}

func newLive(f HashFunc, chunkSize uint32, epochSize uint64, isSource bool, priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) *Live {
	return &Live{
		f:         f,
		chunkSize: chunkSize,
		epochSize: epochSize,
		isSource:  isSource,
		privKey:   priv,
		pubKey:    pub,
		munroHash: make(map[bin.Bin]Hash),
		munroSig:  make(map[bin.Bin][]byte),
		verified:  make(map[bin.Bin]Hash),
		candidate: make(map[bin.Bin]Hash),
		ackOut:    binmap.New(),
	}
}

func (t *Live) lookup(b bin.Bin) (Hash, bool) {
	if h, ok := t.verified[b]; ok {
		return h, true
	}
	if h, ok := t.munroHash[b]; ok {
		return h, true
	}
	if h, ok := t.candidate[b]; ok {
		return h, true
	}
	return nil, false
}

func (t *Live) isMunro(b bin.Bin) bool {
	_, ok := t.munroHash[b]
	return ok
}

// AddData appends one chunk at the source's write cursor, returning the bin
// it was assigned.
func (t *Live) AddData(data []byte) (bin.Bin, error) {
	if !t.isSource {
		return bin.NONE, xerr.Protocol("hashtree.Live.AddData", fmt.Errorf("only the live source may append data"))
	}
	h := t.f.leafHash(data)
	if h.isZero() {
		return bin.NONE, xerr.Integrity("hashtree.Live.AddData", fmt.Errorf("refusing to append a content-free placeholder chunk"))
	}
	leaf := bin.Leaf(t.nextLeaf)
	t.verified[leaf] = h
	if err := t.ackOut.Set(leaf); err != nil {
		return bin.NONE, err
	}
	t.nextLeaf++

	// combine upward as far as both children are now determined
	cur := leaf
	for {
		sib := cur.Sibling()
		sibHash, ok := t.verified[sib]
		if !ok {
			break
		}
		var combined Hash
		if cur.Parent().Left() == cur {
			combined = t.f.combine(t.verified[cur], sibHash)
		} else {
			combined = t.f.combine(sibHash, t.verified[cur])
		}
		cur = cur.Parent()
		t.verified[cur] = combined
	}

	if t.nextLeaf%t.epochSize == 0 {
		if err := t.sealEpoch(); err != nil {
			return leaf, err
		}
	}
	return leaf, nil
}

// sealEpoch signs the interior node exactly subsuming the epoch that just
// completed.
func (t *Live) sealEpoch() error {
	epochStart := t.nextLeaf - t.epochSize
	bins := bin.DecomposeRange(epochStart, t.nextLeaf-1)
	if len(bins) != 1 {
		return xerr.Protocol("hashtree.Live.sealEpoch", fmt.Errorf("epoch [%d,%d) is not aligned to a single subtree", epochStart, t.nextLeaf))
	}
	munro := bins[0]
	h, ok := t.verified[munro]
	if !ok {
		return xerr.Integrity("hashtree.Live.sealEpoch", fmt.Errorf("epoch root %v not yet determined", munro))
	}
	digest := munroDigest(munro, h)
	sig, err := crypto.Sign(digest, t.privKey)
	if err != nil {
		return xerr.Signature("hashtree.Live.sealEpoch", err)
	}
	t.munros = append(t.munros, munro)
	t.munroHash[munro] = h
	t.munroSig[munro] = sig
	return nil
}

// munroDigest is the 32-byte message actually signed: keccak256(bin ||
// hash), since ECDSA signing needs a fixed-size digest regardless of the
// negotiated Merkle hash function's output length.
func munroDigest(pos bin.Bin, h Hash) []byte {
	buf := make([]byte, 8+len(h))
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(pos) >> (8 * i))
	}
	copy(buf[8:], h)
	return crypto.Keccak256(buf)
}

// OfferSignedMunro verifies and, on success, adopts a source-signed munro
// as a new trust anchor — the live-tree equivalent of a Static peak.
func (t *Live) OfferSignedMunro(pos bin.Bin, h Hash, sig []byte) (bool, error) {
	if t.isSource {
		return false, xerr.Protocol("hashtree.Live.OfferSignedMunro", fmt.Errorf("the source does not accept munros from peers"))
	}
	digest := munroDigest(pos, h)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	if crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(*t.pubKey) {
		return false, nil
	}
	t.munros = append(t.munros, pos)
	t.munroHash[pos] = h
	t.munroSig[pos] = sig
	t.verified[pos] = h
	return true, nil
}

// OfferHash mirrors Static.OfferHash, against the live tree's growing
// munro set instead of fixed peaks.
func (t *Live) OfferHash(pos bin.Bin, h Hash) error {
	if h.isZero() {
		return xerr.Integrity("hashtree.Live.OfferHash", fmt.Errorf("refusing to store a zero-sentinel hash at %v", pos))
	}
	if existing, ok := t.lookup(pos); ok {
		if !existing.equal(h) {
			return xerr.Integrity("hashtree.Live.OfferHash", fmt.Errorf("hash mismatch at %v", pos))
		}
		return nil
	}
	t.candidate[pos] = h
	return nil
}

// OfferData mirrors Static.OfferData, walking up to the nearest verified
// munro instead of a fixed peak.
func (t *Live) OfferData(pos bin.Bin, data []byte) (bool, error) {
	leaf := t.f.leafHash(data)
	if leaf.isZero() {
		return false, xerr.Integrity("hashtree.Live.OfferData", fmt.Errorf("chunk %v hashes to the zero sentinel", pos))
	}
	if existing, ok := t.verified[pos]; ok {
		return existing.equal(leaf), nil
	}
	type step struct {
		node bin.Bin
		hash Hash
	}
	cur, curHash := pos, leaf
	path := []step{{pos, leaf}}
	for !t.isMunro(cur) {
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
		return false, xerr.Integrity("hashtree.Live.OfferData", fmt.Errorf("uncle chain for %v does not reach a matching hash at %v", pos, cur))
	}
	for _, s := range path {
		t.verified[s.node] = s.hash
	}
	if err := t.ackOut.Set(pos); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeTree drops hashes and candidates entirely to the left of pos, once
// the live-discard-window has moved past them.
func (t *Live) PurgeTree(pos bin.Bin) {
	cutoff := pos.BaseOffset()
	for b := range t.verified {
		if b.BaseRight().Offset() < cutoff {
			delete(t.verified, b)
		}
	}
	for b := range t.candidate {
		if b.BaseRight().Offset() < cutoff {
			delete(t.candidate, b)
		}
	}
}

// MunroCount, Munro, MunroSig, AckOut, ChunkSize are the read accessors a
// Transfer and the channel layer need to build INTEGRITY/SIGNED_INTEGRITY
// messages.
func (t *Live) MunroCount() int          { return len(t.munros) }
func (t *Live) Munro(i int) bin.Bin      { return t.munros[i] }
func (t *Live) MunroHash(b bin.Bin) Hash { return t.munroHash[b] }
func (t *Live) MunroSig(b bin.Bin) []byte {
	return t.munroSig[b]
}
func (t *Live) AckOut() *binmap.Binmap { return t.ackOut }
func (t *Live) ChunkSize() uint32      { return t.chunkSize }

// HashAt returns the hash stored at b (verified, munro, or still-candidate),
// for the channel layer to pull uncle-chain hashes to send alongside data.
func (t *Live) HashAt(b bin.Bin) (Hash, bool) {
	return t.lookup(b)
}

// MunroFor returns the nearest sealed munro subsuming pos, or bin.NONE.
func (t *Live) MunroFor(pos bin.Bin) bin.Bin {
	var best bin.Bin = bin.NONE
	for _, m := range t.munros {
		if m.Contains(pos) || m == pos {
			if best.IsNone() || m.Layer() < best.Layer() {
				best = m
			}
		}
	}
	return best
}

// AnchorFor is MunroFor under the name the channel layer uses generically
// across Static and Live trees.
func (t *Live) AnchorFor(pos bin.Bin) bin.Bin { return t.MunroFor(pos) }

// Signed reports that a Live tree's anchors (munros) are individually
// signed by the source, unlike a Static tree's root-derived peaks.
func (t *Live) Signed() bool { return true }

// Signature returns the source's signature over the munro at anchor, or nil
// if anchor is not a sealed munro.
func (t *Live) Signature(anchor bin.Bin) []byte { return t.munroSig[anchor] }

// SizeInChunks always reports zero: a live tree's length is unbounded by
// definition, matching the size() operation's documented zero-for-live case.
func (t *Live) SizeInChunks() uint64 { return 0 }
