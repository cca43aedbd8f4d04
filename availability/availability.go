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

// Package availability tracks, for every bin of a swarm, how many connected
// peers are known to offer it. Bins are bucketed into rarity levels: level r
// holds exactly the bins known to be present at r+1 peers, with the last
// level absorbing anything more common still (present at more peers than there
// are levels to track). A rarest-first picker walks the levels from 0
// upward so it always considers the scarcest copies first.
package availability

import (
	"sync"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/xerr"
)

// Availability holds one binmap per rarity level. A swarm's channels call
// into it concurrently (each channel goroutine reports its own peer's
// HAVEs), so every method guards the level array with a mutex.
type Availability struct {
	mu     sync.RWMutex
	levels []*binmap.Binmap
}

// New returns an Availability tracking up to channels rarity levels,
// typically the swarm's configured channel capacity.
func New(channels int) *Availability {
	if channels < 1 {
		channels = 1
	}
	levels := make([]*binmap.Binmap, channels)
	for i := range levels {
		levels[i] = binmap.New()
	}
	return &Availability{levels: levels}
}

// Levels returns the number of tracked rarity levels.
func (a *Availability) Levels() int { return len(a.levels) }

// Level returns the binmap for rarity level r: the bins known to be present
// at exactly r+1 peers (or at least that many, for the top level). Callers
// must treat the result as read-only.
func (a *Availability) Level(r int) *binmap.Binmap {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.levels[r]
}

// AddPeer folds a newly connected peer's full binmap into the rarity
// tracking, promoting every bin it offers by one level. Call this once,
// right after a peer's initial HAVE/bitmap exchange; incremental updates
// after that go through OnHave.
func (a *Availability) AddPeer(peerBinmap *binmap.Binmap) error {
	bins, err := filledBins(peerBinmap)
	if err != nil {
		return xerr.Allocation("availability.AddPeer", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	top := len(a.levels) - 1
	for _, b := range bins {
		if err := a.promote(b, top); err != nil {
			return xerr.Allocation("availability.AddPeer", err)
		}
	}
	return nil
}

// RemovePeer undoes the promotions AddPeer and any subsequent OnHave calls
// made on behalf of this peer, called when the peer disconnects.
func (a *Availability) RemovePeer(peerBinmap *binmap.Binmap) error {
	bins, err := filledBins(peerBinmap)
	if err != nil {
		return xerr.Allocation("availability.RemovePeer", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	top := len(a.levels) - 1
	for _, b := range bins {
		if err := a.demote(b, top); err != nil {
			return xerr.Allocation("availability.RemovePeer", err)
		}
	}
	return nil
}

// OnHave records that a peer has newly acknowledged target, promoting every
// base bin target newly covers by one rarity level. before must be the
// peer's acknowledged binmap immediately prior to this ack and is read only
// here; callers record target into their own copy of the peer's binmap
// afterwards. target may cover more than one previously unacknowledged base
// bin (an ACK can cover a whole range), so every newly covered leaf is
// promoted individually.
func (a *Availability) OnHave(before *binmap.Binmap, target bin.Bin) error {
	full := binmap.New()
	if err := full.Set(target); err != nil {
		return xerr.Allocation("availability.OnHave", err)
	}
	seen := binmap.New()
	if err := binmap.CopyRange(seen, before, target); err != nil {
		return xerr.Allocation("availability.OnHave", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	top := len(a.levels) - 1
	for {
		b := full.FindComplement(seen, target, 0)
		if b.IsNone() {
			return nil
		}
		if err := a.promote(b, top); err != nil {
			return xerr.Allocation("availability.OnHave", err)
		}
		if err := seen.Set(b); err != nil {
			return xerr.Allocation("availability.OnHave", err)
		}
	}
}

// Rarest returns the scarcest bin within rng that peerHave offers and have
// does not, or bin.NONE if peerHave has nothing new to offer there. It
// walks the rarity levels from 0 (rarest) upward, so a bin known to be held
// by only one other peer is always preferred over one held by many. twist
// breaks ties within a level the same way the sequential picker's
// find_complement does. The result is always a single base bin; widening it
// into a larger request is the picker's job, not this package's.
func (a *Availability) Rarest(rng bin.Bin, have, peerHave *binmap.Binmap, twist uint64) (bin.Bin, error) {
	excluded := binmap.New()
	if err := binmap.CopyRange(excluded, have, rng); err != nil {
		return bin.NONE, xerr.Allocation("availability.Rarest", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, lv := range a.levels {
		for {
			b := lv.FindComplement(excluded, rng, twist)
			if b.IsNone() {
				break
			}
			if peerHave.IsFilled(b) {
				return b, nil
			}
			// This rarity level recorded the bin, but this particular peer
			// isn't currently offering it (e.g. a stale entry from a peer
			// that just left); skip it and keep scanning the same level.
			if err := excluded.Set(b); err != nil {
				return bin.NONE, xerr.Allocation("availability.Rarest", err)
			}
		}
	}
	return bin.NONE, nil
}

// promote moves a single bin up one rarity level. It searches downward from
// level, the level most recently known to hold more widely available bins:
// empty at a level means "not found yet, keep searching down"; filled means
// "found it here, bump to the level above"; mixed splits the bin in half
// and recurses on each independently. This mirrors libswift's
// Availability::setBin.
func (a *Availability) promote(b bin.Bin, level int) error {
	lv := a.levels[level]
	switch {
	case lv.IsEmpty(b):
		if level == 0 {
			return a.levels[0].Set(b)
		}
		return a.promote(b, level-1)
	case lv.IsFilled(b):
		top := len(a.levels) - 1
		if level == top {
			return nil // already at the level absorbing everything more common
		}
		if err := lv.Reset(b); err != nil {
			return err
		}
		return a.levels[level+1].Set(b)
	default:
		if err := a.promote(b.Left(), level); err != nil {
			return err
		}
		return a.promote(b.Right(), level)
	}
}

// demote is promote's mirror image, used when a peer's bins no longer
// count towards availability. It mirrors libswift's
// Availability::removeBin.
func (a *Availability) demote(b bin.Bin, level int) error {
	lv := a.levels[level]
	switch {
	case lv.IsEmpty(b):
		if level == 0 {
			return nil // never reached availability 1; nothing to demote
		}
		return a.demote(b, level-1)
	case lv.IsFilled(b):
		if err := lv.Reset(b); err != nil {
			return err
		}
		if level == 0 {
			return nil // dropped below availability 1; no longer tracked
		}
		return a.levels[level-1].Set(b)
	default:
		if err := a.demote(b.Left(), level); err != nil {
			return err
		}
		return a.demote(b.Right(), level)
	}
}

// filledBins returns the maximal filled bins of m without mutating it.
func filledBins(m *binmap.Binmap) ([]bin.Bin, error) {
	scratch := binmap.New()
	if err := binmap.Copy(scratch, m); err != nil {
		return nil, err
	}
	var out []bin.Bin
	for {
		leaf := scratch.FindFilled()
		if leaf.IsNone() {
			return out, nil
		}
		covering := scratch.Cover(leaf)
		out = append(out, covering)
		if err := scratch.Reset(covering); err != nil {
			return nil, err
		}
	}
}
