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

package channel

import "time"

// pexState is one channel's reverse-PEX bookkeeping. This implementation is
// forwarding-only: it relays addresses a sibling channel on the same swarm
// has already discovered, and never attempts to punch a hole through NAT on
// a peer's behalf.
type pexState struct {
	respondPending bool
	queue          []Addr

	requestDue time.Time
	wantMore   bool
}

// QueueAddr enqueues a peer address, typically just learned from another
// channel on the same swarm, to offer to this channel's peer on the next
// Send.
func (c *Channel) QueueAddr(a Addr) {
	if c.pex == nil {
		c.pex = &pexState{}
	}
	c.pex.queue = append(c.pex.queue, a)
}

// recvPexReq records that the peer asked us for addresses.
func (c *Channel) recvPexReq(now time.Time) {
	if c.pex == nil {
		c.pex = &pexState{}
	}
	c.pex.respondPending = true
}

// recvPexAddr adopts an address the peer offered us via PEX_RESv4/v6. A
// forwarding-only implementation has nothing further to do with it beyond
// making it available to whatever layer dials out new peers; Transfer reads
// it back via DrainLearned.
func (c *Channel) recvPexAddr(a Addr) {
	c.learned = append(c.learned, a)
}

// DrainLearned returns and clears the addresses this channel's peer has
// offered via PEX since the last call.
func (c *Channel) DrainLearned() []Addr {
	out := c.learned
	c.learned = nil
	return out
}

// RequestPex schedules a PEX_REQ to this channel's peer on the next Send,
// subject to minPexRequestInterval.
func (c *Channel) RequestPex(now time.Time) {
	if c.pex == nil {
		c.pex = &pexState{}
	}
	if now.Before(c.pex.requestDue) {
		return
	}
	c.pex.wantMore = true
	c.pex.requestDue = now.Add(minPexRequestInterval)
}

// nextPexResponses drains up to n queued addresses to send as PEX_RESv4/v6
// messages, clearing the outstanding request flag once the queue empties.
func (c *Channel) nextPexResponses(n int) []Addr {
	if c.pex == nil || !c.pex.respondPending || n <= 0 {
		return nil
	}
	if n > len(c.pex.queue) {
		n = len(c.pex.queue)
	}
	out := c.pex.queue[:n]
	c.pex.queue = c.pex.queue[n:]
	if len(c.pex.queue) == 0 {
		c.pex.respondPending = false
	}
	return out
}

// wantsPexRequest reports whether a PEX_REQ to the peer is due, consuming
// the request so it is only sent once.
func (c *Channel) wantsPexRequest() bool {
	if c.pex == nil || !c.pex.wantMore {
		return false
	}
	c.pex.wantMore = false
	return true
}
