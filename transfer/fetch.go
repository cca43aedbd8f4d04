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
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tswift/tswift/bin"
)

// fetchersCapacity bounds how many in-flight-request records a transfer
// keeps at once, the same role fetchersCapacity plays for NetStore's
// remote-fetch bookkeeping.
const fetchersCapacity = 65536

// fetchRecord is one bin's outstanding-request bookkeeping: which peers it
// has been hinted to and when the first hint went out, used for picker
// diagnostics and stall detection above the per-channel hint-age tracking
// channel.go's own picker already does.
type fetchRecord struct {
	requestedAt time.Time
	peers       []uint32
}

// fetchers bounds the set of bins currently being tracked as in-flight
// across every channel of one transfer, evicting the oldest entry once
// fetchersCapacity is exceeded rather than growing unbounded across a
// long-running swarm.
type fetchers struct {
	cache *lru.Cache
}

func newFetchers() *fetchers {
	c, _ := lru.New(fetchersCapacity)
	return &fetchers{cache: c}
}

// Track records that channelID hinted pos at now, creating the record if
// this is the first peer to request it.
func (f *fetchers) Track(pos bin.Bin, channelID uint32, now time.Time) {
	if v, ok := f.cache.Get(pos); ok {
		rec := v.(*fetchRecord)
		rec.peers = append(rec.peers, channelID)
		return
	}
	f.cache.Add(pos, &fetchRecord{requestedAt: now, peers: []uint32{channelID}})
}

// Forget drops pos's bookkeeping once it has been delivered and verified.
func (f *fetchers) Forget(pos bin.Bin) {
	f.cache.Remove(pos)
}

// Len reports how many bins are currently tracked in flight.
func (f *fetchers) Len() int {
	return f.cache.Len()
}
