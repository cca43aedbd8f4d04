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

// Package dispatcher demultiplexes the one process-global UDP socket every
// transfer shares: an inbound datagram names its channel by a leading
// 4-byte little-endian id, and Dispatcher is the single table that id
// space is drawn from, since a channel id must be unique across every
// swarm a process has open, not just within the swarm it belongs to.
package dispatcher

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/transfer"
	"github.com/tswift/tswift/xerr"
)

// maxChannelsPerSwarm bounds how many channels (incoming or outgoing) one
// transfer may hold at once, independent of transfer.Transfer's own
// outgoing-only dial budget.
const maxChannelsPerSwarm = 100

// SwarmLookup resolves a first-contact datagram to the transfer it names
// and the handshake this process should answer with. body is the datagram
// with its leading channel-id prefix already stripped, the same
// not-yet-decoded bytes Dispatcher itself never looks inside — swarm
// identification (a legacy connection's leading root-hash INTEGRITY
// message, or a PPSPv1 handshake's SWARMID option) depends on knowledge
// only the caller (normally package runtime) has: which swarms this
// process currently has open.
type SwarmLookup func(peer channel.Addr, body []byte) (*transfer.Transfer, channel.Handshake, error)

type registration struct {
	transfer *transfer.Transfer
	channel  *channel.Channel
}

// Dispatcher owns the process-wide channel-id table. Its own mutex
// protects only that table: once a datagram is handed to a *channel.Channel
// or *transfer.Transfer, spec.md's single-event-loop-serializes-the-socket
// model applies and no further locking happens here. The table itself
// still needs one, since AddPeer (a public-API call, e.g. add_peer) can run
// on a different goroutine than whatever goroutine is pumping Route for
// inbound datagrams.
type Dispatcher struct {
	mu      sync.Mutex
	entries map[uint32]registration
	free    []uint32
	nextID  uint32
	lookup  SwarmLookup
}

// New returns an empty Dispatcher. lookup may be nil if this process never
// accepts incoming connections (lookup is only consulted for a first-contact
// datagram, never for traffic on an already-registered channel).
func New(lookup SwarmLookup) *Dispatcher {
	return &Dispatcher{entries: make(map[uint32]registration), lookup: lookup}
}

// allocID returns a fresh process-wide channel id, reusing a freed slot
// before growing the counter, mirroring the free-slot reuse a
// never-shrinking channel table would otherwise need. 0 is never issued:
// it is the wire sentinel for "no channel yet"/"closed".
func (d *Dispatcher) allocID() uint32 {
	if n := len(d.free); n > 0 {
		id := d.free[n-1]
		d.free = d.free[:n-1]
		return id
	}
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) releaseID(id uint32) {
	delete(d.entries, id)
	d.free = append(d.free, id)
}

// AddPeer dials addr on behalf of tr: it allocates a process-wide id,
// registers the resulting channel for Route to find, and returns it.
func (d *Dispatcher) AddPeer(tr *transfer.Transfer, addr channel.Addr, hsOut channel.Handshake) (*channel.Channel, error) {
	d.mu.Lock()
	id := d.allocID()
	d.mu.Unlock()

	c, err := tr.AddPeer(id, addr, hsOut)
	if err != nil {
		d.mu.Lock()
		d.free = append(d.free, id)
		d.mu.Unlock()
		return nil, err
	}

	d.mu.Lock()
	d.entries[id] = registration{transfer: tr, channel: c}
	d.mu.Unlock()
	return c, nil
}

// Route demultiplexes one inbound datagram from peer. An id naming a
// channel this dispatcher already holds goes straight to that channel's
// Recv; id 0, or an id this dispatcher no longer recognizes (e.g. a
// straggler arriving just after the channel it named was closed), is
// treated as a new connection attempt via acceptNew.
func (d *Dispatcher) Route(peer channel.Addr, datagram []byte, now time.Time) error {
	const op = "dispatcher.Dispatcher.Route"
	if len(datagram) < 4 {
		return xerr.Protocol(op, fmt.Errorf("datagram of %d bytes too short for a channel id", len(datagram)))
	}
	id := binary.LittleEndian.Uint32(datagram[:4])
	body := datagram[4:]

	if id != 0 {
		d.mu.Lock()
		reg, ok := d.entries[id]
		d.mu.Unlock()
		if ok {
			return reg.channel.Recv(body, now)
		}
	}
	return d.acceptNew(peer, body, now)
}

// acceptNew resolves body's swarm via lookup, builds a candidate incoming
// channel, lets it process the handshake, and rejects it — releasing its id
// — on a self-connection or a losing duplicate, per spec.md's dispatcher
// responsibilities.
func (d *Dispatcher) acceptNew(peer channel.Addr, body []byte, now time.Time) error {
	const op = "dispatcher.Dispatcher.acceptNew"
	if d.lookup == nil {
		return xerr.Protocol(op, fmt.Errorf("no swarm lookup configured, dropping an unsolicited connection from %s", peer))
	}
	tr, hsOut, err := d.lookup(peer, body)
	if err != nil {
		return err
	}
	if len(tr.Channels()) >= maxChannelsPerSwarm {
		return xerr.Protocol(op, fmt.Errorf("swarm already holds %d channels, refusing a new one from %s", maxChannelsPerSwarm, peer))
	}

	d.mu.Lock()
	id := d.allocID()
	d.mu.Unlock()

	cand, err := tr.AddIncomingChannel(id, peer, hsOut)
	if err != nil {
		d.mu.Lock()
		d.free = append(d.free, id)
		d.mu.Unlock()
		return err
	}
	reject := func() {
		tr.CloseChannel(id)
		d.mu.Lock()
		d.releaseID(id)
		d.mu.Unlock()
	}

	if err := cand.Recv(body, now); err != nil {
		reject()
		return err
	}
	if cand.IsSelfConnection() {
		reject()
		return xerr.Protocol(op, fmt.Errorf("refusing a self-connection from %s", peer))
	}
	for _, existing := range tr.Channels() {
		if existing.LocalID == cand.LocalID || !existing.Handshaked() {
			continue
		}
		if channel.DuplicateOf(existing, cand) {
			reject()
			return xerr.DuplicateChannel(op, fmt.Errorf("duplicate connection attempt from %s", peer))
		}
	}

	d.mu.Lock()
	d.entries[id] = registration{transfer: tr, channel: cand}
	d.mu.Unlock()
	return nil
}

// CloseChannel releases id's routing entry and asks its owning transfer to
// close the underlying channel.
func (d *Dispatcher) CloseChannel(id uint32) ([]channel.Msg, error) {
	const op = "dispatcher.Dispatcher.CloseChannel"
	d.mu.Lock()
	reg, ok := d.entries[id]
	if !ok {
		d.mu.Unlock()
		return nil, xerr.NotFound(op, fmt.Errorf("channel %d is not registered", id))
	}
	d.releaseID(id)
	d.mu.Unlock()
	return reg.transfer.CloseChannel(id)
}

// Len reports how many channels are currently routable, across every
// transfer this dispatcher serves.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
