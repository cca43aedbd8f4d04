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

package picker

import (
	"math/rand"
	"time"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
)

// maxAttemptsBeforeDrop is how many consecutive Pick calls may fail to find
// the current bin on offer before the skip policy considers moving past it.
const maxAttemptsBeforeDrop = 100

// Live picks nearly sequentially starting from a hook-in point derived from
// the source's signed munro epochs. Before any munro has been seen it
// refuses every pick (the "searching for hook-in" state); once hooked in it
// requests the widest available run starting at the current position, and
// falls back to whatever is offered further along if the current position
// stalls.
type Live struct {
	*base

	searchingHookin bool
	lastMunro       bin.Bin
	hookin          bin.Bin
	current         bin.Bin
	sameCurCount    int

	// offers remembers the most recent ack_in binmap seen from each peer,
	// so the skip policy can ask "does any connected peer still offer the
	// current bin" without a separate channel-set dependency. Callers
	// should pass each channel's own persistent ack_in object into Pick
	// (not a throwaway copy) so this stays accurate as peers ack more.
	offers map[uint32]*binmap.Binmap
}

// NewLive returns a Live picker with no hook-in point yet; AddPeerMunro must
// be called at least once (as munros arrive from peers) before Pick will
// return anything but bin.NONE.
func NewLive(ack AckSource) (*Live, error) {
	b, err := newBase(ack)
	if err != nil {
		return nil, err
	}
	return &Live{
		base:            b,
		searchingHookin: true,
		lastMunro:       bin.NONE,
		hookin:          bin.NONE,
		current:         bin.NONE,
		offers:          make(map[uint32]*binmap.Binmap),
	}, nil
}

// AddPeerMunro records a munro a peer has announced and, the first time
// any munro is seen, hooks in at its leftmost leaf - prebuffering exactly
// one epoch's worth of chunks before requesting anything.
func (p *Live) AddPeerMunro(munro bin.Bin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastMunro = munro
	if p.searchingHookin {
		p.hookin = munro.BaseLeft()
		p.current = p.hookin
		p.searchingHookin = false
	}
}

// SearchingHookin reports whether the picker still has no hook-in point.
func (p *Live) SearchingHookin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searchingHookin
}

// HookinPos returns the chosen hook-in bin, or bin.NONE before hook-in.
func (p *Live) HookinPos() bin.Bin {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hookin
}

func (p *Live) Pick(peerAckIn *binmap.Binmap, maxWidth uint64, deadline time.Time, peerID uint32) (bin.Bin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hb, _, err := p.pickCore(peerAckIn, peerID)
	if err != nil || hb.IsNone() {
		return bin.NONE, err
	}
	for hb.BaseLength() > maxWidth {
		hb = hb.Left()
	}
	if err := p.recordHint(hb); err != nil {
		return bin.NONE, err
	}
	return hb, nil
}

// pickCore runs the shared hook-in/sequential/skip logic and reports
// whether the result came from the urgent path (the current position
// itself, or a forced skip past it) as opposed to opportunistically
// grabbing something further ahead - the distinction LiveSharing uses to
// decide whether the small-swarm source bias applies. Caller must hold
// p.mu.
func (p *Live) pickCore(peerAckIn *binmap.Binmap, peerID uint32) (bin.Bin, bool, error) {
	p.offers[peerID] = peerAckIn

	if p.searchingHookin {
		return bin.NONE, true, nil
	}
	if err := p.ageHints(); err != nil {
		return bin.NONE, true, err
	}
	p.advanceCurrent()
	p.sameCurCount++

	urgent := true
	hb := p.pickLargestBin(peerAckIn, p.current)
	if hb.IsNone() {
		if p.sameCurCount > maxAttemptsBeforeDrop {
			p.sameCurCount = 0
			if p.checkSkipPolicy() {
				p.current = bin.Leaf(p.current.Offset() + 1)
				hb = p.pickLargestBin(peerAckIn, p.current)
				if hb.IsNone() {
					urgent = false
					hb = p.pickBeyond(peerAckIn)
				}
			}
			// else: no peer offers anything beyond current either; wait.
		} else {
			urgent = false
			hb = p.pickBeyond(peerAckIn)
		}
	}
	return hb, urgent, nil
}

// advanceCurrent walks current past every leaf already acked. Caller must
// hold p.mu.
func (p *Live) advanceCurrent() {
	for p.ack.AckOut().IsFilled(p.current) {
		p.current = bin.Leaf(p.current.Offset() + 1)
		p.sameCurCount = 0
	}
}

// pickLargestBin returns the widest ancestor of start that offer covers
// entirely and that has no outstanding hint, walking up through left
// siblings for as long as each wider parent is still fully on offer - so a
// peer offering a whole run at once is asked for the whole run, not one
// chunk at a time.
func (p *Live) pickLargestBin(offer *binmap.Binmap, start bin.Bin) bin.Bin {
	if start.IsNone() || !offer.IsFilled(start) || !p.ackHintOut.IsEmpty(start) {
		return bin.NONE
	}
	good, cur := start, start
	for isLeftChild(cur) {
		sib := cur.Sibling()
		if !offer.IsFilled(sib) || !p.ackHintOut.IsEmpty(sib) {
			break
		}
		cur = cur.Parent()
		good = cur
	}
	return good
}

// pickBeyondScanLimit bounds how far past current pickBeyond looks before
// giving up, so a source that has gone quiet doesn't turn every Pick call
// into an unbounded scan.
const pickBeyondScanLimit = 4096

// pickBeyond looks for the first chunk beyond current that offer has and
// that isn't already outstanding, skipping the (presumably stalled) current
// position entirely. It scans offer directly leaf by leaf rather than
// asking ackHintOut for "the next empty position from current" - current
// itself is always empty in ackHintOut precisely because it was never
// successfully hinted, which would make that query trivially return current
// again instead of anything genuinely further along.
func (p *Live) pickBeyond(offer *binmap.Binmap) bin.Bin {
	base := p.current.BaseOffset()
	for i := uint64(1); i <= pickBeyondScanLimit; i++ {
		cand := bin.Leaf(base + i)
		if !offer.IsFilled(cand) || !p.ackHintOut.IsEmpty(cand) {
			continue
		}
		return p.pickLargestBin(offer, cand)
	}
	return bin.NONE
}

// checkSkipPolicy reports whether current should be abandoned: true only
// when no known peer still offers it and at least one known peer offers
// something further along. Caller must hold p.mu.
func (p *Live) checkSkipPolicy() bool {
	beyond := false
	for _, offer := range p.offers {
		if offer.IsFilled(p.current) {
			return false
		}
		if !p.pickBeyond(offer).IsNone() {
			beyond = true
		}
	}
	return beyond
}

func isLeftChild(b bin.Bin) bool { return b.Offset()&1 == 0 }

// SwarmSize reports how many peers a small-swarm bias should weigh against.
type SwarmSize interface {
	NumLeechers() int
	NumSeeders() int
}

// SourceChecker reports whether a given channel's peer is the live source
// itself, as opposed to another downloading peer.
type SourceChecker interface {
	IsSource(peerID uint32) bool
}

// lowNPeersBias is the peer count at which download-from-source
// probability is lowest (Z in the small-swarm sharing policy).
const lowNPeersBias = 10

// LiveSharing wraps Live with the small-swarm sharing policy: once a bin is
// available from the source but picking it isn't urgent (the peer wasn't
// the one offering the stalled current position), it downloads from the
// source with a probability that dips as the swarm grows past a handful of
// peers and rises back towards 1 for larger swarms, pushing peers to get
// their data from each other instead of all hammering the source.
type LiveSharing struct {
	*Live
	swarm  SwarmSize
	source SourceChecker
	rng    *rand.Rand
}

// NewLiveSharing returns a LiveSharing picker. swarm and source may be nil,
// in which case the small-swarm bias never applies (every pick is treated
// as urgent). seed drives the download-probability coin flip; pass a fixed
// seed in tests for determinism.
func NewLiveSharing(ack AckSource, swarm SwarmSize, source SourceChecker, seed int64) (*LiveSharing, error) {
	live, err := NewLive(ack)
	if err != nil {
		return nil, err
	}
	return &LiveSharing{
		Live:   live,
		swarm:  swarm,
		source: source,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

func (p *LiveSharing) Pick(peerAckIn *binmap.Binmap, maxWidth uint64, deadline time.Time, peerID uint32) (bin.Bin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hb, urgent, err := p.pickCore(peerAckIn, peerID)
	if err != nil || hb.IsNone() {
		return bin.NONE, err
	}
	for hb.BaseLength() > maxWidth {
		hb = hb.Left()
	}

	if !urgent && p.source != nil && p.swarm != nil && p.source.IsSource(peerID) {
		npeers := p.swarm.NumLeechers() + p.swarm.NumSeeders()
		if p.rng.Float64() >= downloadProbability(npeers) {
			// Trust another peer to deliver it a little later instead.
			return bin.NONE, nil
		}
	}

	if err := p.recordHint(hb); err != nil {
		return bin.NONE, err
	}
	return hb, nil
}

// downloadProbability implements the small-swarm bias curve: it dips to its
// minimum at lowNPeersBias peers and climbs back towards 1 on both sides.
func downloadProbability(npeers int) float64 {
	x := max(1, min(npeers, lowNPeersBias)-max(0, npeers-lowNPeersBias))
	return 1.0 / float64(x)
}
