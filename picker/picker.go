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

// Package picker chooses the next bin to request from a given peer's
// offered binmap. Every variant shares one contract: the chosen bin must be
// set in the peer's offer, empty in both the transfer's own ack_out and the
// picker's own outstanding-hint set, no wider than a caller-supplied cap,
// and - when more than one candidate qualifies - the widest one available.
package picker

import (
	"sync"
	"time"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/xerr"
)

// defaultHintAge is how long an outstanding request is trusted before the
// picker considers it possibly lost and reoffers the same bin.
const defaultHintAge = 1500 * time.Millisecond

// AckSource supplies the transfer's authoritative received-bin state. For a
// static transfer this is the hash tree's ack_out; for a live transfer it is
// the transfer's own ack_out directly.
type AckSource interface {
	AckOut() *binmap.Binmap
}

// Picker is the common contract every variant below satisfies.
type Picker interface {
	// Pick returns a bin set in peerAckIn, empty in ack_out and in any
	// outstanding hint, no wider than maxWidth, preferring the widest
	// qualifying bin. It returns bin.NONE (no error) when nothing
	// qualifies right now, and xerr.ErrRateLimited when the picker has
	// nothing left to offer this peer at all.
	Pick(peerAckIn *binmap.Binmap, maxWidth uint64, deadline time.Time, peerID uint32) (bin.Bin, error)
	// Randomize sets the twist XORed into find_complement's search order,
	// so peers with identical binmaps don't all request the same bin.
	Randomize(twist uint64)
	// LimitRange confines every future pick to rng's subtree.
	LimitRange(rng bin.Bin)
}

type hintEntry struct {
	at time.Time
	b  bin.Bin
}

// base holds the bookkeeping every variant needs: a picker-owned view of
// outstanding requests (ack_hint_out), the aging queue that forgets them
// after defaultHintAge, and the twist/range knobs every variant exposes
// through Randomize/LimitRange.
type base struct {
	mu sync.Mutex

	ack        AckSource
	ackHintOut *binmap.Binmap
	hints      []hintEntry

	twist   uint64
	rng     bin.Bin
	hintAge time.Duration
	now     func() time.Time
}

func newBase(ack AckSource) (*base, error) {
	b := &base{
		ack:     ack,
		rng:     bin.ALL,
		hintAge: defaultHintAge,
		now:     time.Now,
	}
	b.ackHintOut = binmap.New()
	if err := binmap.Copy(b.ackHintOut, ack.AckOut()); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *base) Randomize(twist uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.twist = twist
}

func (b *base) LimitRange(rng bin.Bin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rng
}

// ageHints drops outstanding hints older than hintAge, resyncing
// ack_hint_out at each dropped hint's bin from the authoritative ack_out
// first - a bin that really was acked while its hint was outstanding must
// not be re-requested just because the hint itself expired. Caller must
// hold b.mu.
func (b *base) ageHints() error {
	cutoff := b.now().Add(-b.hintAge)
	for len(b.hints) > 0 && b.hints[0].at.Before(cutoff) {
		h := b.hints[0]
		b.hints = b.hints[1:]
		if err := binmap.CopyRange(b.ackHintOut, b.ack.AckOut(), h.b); err != nil {
			return err
		}
	}
	return nil
}

// recordHint marks hb as outstanding and queues it for aging. Caller must
// hold b.mu.
func (b *base) recordHint(hb bin.Bin) error {
	if err := b.ackHintOut.Set(hb); err != nil {
		return err
	}
	b.hints = append(b.hints, hintEntry{at: b.now(), b: hb})
	return nil
}

// Sequential picks nearly in bin order, twisted by the low bits of the
// hash tree's first peak so that peers with an otherwise identical view of
// the swarm don't all request the same chunk at once.
type Sequential struct {
	*base
}

// NewSequential returns a Sequential picker. firstPeak should be the hash
// tree's first peak (peak 0); its low 6 bits seed the twist.
func NewSequential(ack AckSource, firstPeak bin.Bin) (*Sequential, error) {
	b, err := newBase(ack)
	if err != nil {
		return nil, err
	}
	b.twist = uint64(firstPeak) & 0x3f
	return &Sequential{base: b}, nil
}

func (s *Sequential) Pick(peerAckIn *binmap.Binmap, maxWidth uint64, deadline time.Time, peerID uint32) (bin.Bin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ageHints(); err != nil {
		return bin.NONE, err
	}
	if s.ack.AckOut().WholeEmpty() {
		return bin.Leaf(0), nil // nothing received anywhere yet; take whoever sends first
	}

	for {
		hb := peerAckIn.FindComplement(s.ackHintOut, s.rng, s.twist)
		if hb.IsNone() {
			return bin.NONE, xerr.ErrRateLimited
		}
		if !s.ack.AckOut().IsEmpty(hb) {
			// Really acked already (e.g. via another channel); resync and
			// keep looking instead of re-requesting it.
			if err := binmap.CopyRange(s.ackHintOut, s.ack.AckOut(), hb); err != nil {
				return bin.NONE, err
			}
			continue
		}
		for hb.BaseLength() > maxWidth {
			hb = hb.Left()
		}
		if err := s.recordHint(hb); err != nil {
			return bin.NONE, err
		}
		return hb, nil
	}
}
