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
	"time"

	"github.com/tswift/tswift/availability"
	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/xerr"
)

// RarestFirst consults an availability.Availability table and, among the
// bins a given peer currently offers, requests the one known to be held by
// the fewest other peers.
type RarestFirst struct {
	*base
	avail *availability.Availability
}

// NewRarestFirst returns a RarestFirst picker backed by avail, which the
// caller keeps up to date via AddPeer/RemovePeer/OnHave as channels connect,
// disconnect, and ack new bins.
func NewRarestFirst(ack AckSource, avail *availability.Availability) (*RarestFirst, error) {
	b, err := newBase(ack)
	if err != nil {
		return nil, err
	}
	return &RarestFirst{base: b, avail: avail}, nil
}

func (p *RarestFirst) Pick(peerAckIn *binmap.Binmap, maxWidth uint64, deadline time.Time, peerID uint32) (bin.Bin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ageHints(); err != nil {
		return bin.NONE, err
	}
	if p.ack.AckOut().WholeEmpty() {
		return bin.Leaf(0), nil
	}

	for {
		hb, err := p.avail.Rarest(p.rng, p.ackHintOut, peerAckIn, p.twist)
		if err != nil {
			return bin.NONE, err
		}
		if hb.IsNone() {
			// Nothing rare on offer from this peer right now (the rarity
			// table may simply not know about bins it has); fall back to a
			// plain twisted scan so the peer isn't starved.
			hb = peerAckIn.FindComplement(p.ackHintOut, p.rng, p.twist)
			if hb.IsNone() {
				return bin.NONE, xerr.ErrRateLimited
			}
		}
		if !p.ack.AckOut().IsEmpty(hb) {
			if err := binmap.CopyRange(p.ackHintOut, p.ack.AckOut(), hb); err != nil {
				return bin.NONE, err
			}
			continue
		}
		for hb.BaseLength() > maxWidth {
			hb = hb.Left()
		}
		if err := p.recordHint(hb); err != nil {
			return bin.NONE, err
		}
		return hb, nil
	}
}
