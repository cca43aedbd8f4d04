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

// Package runtime is the process-wide object spec.md §9's design notes
// call for in place of the original's global mutable state (channel table,
// socket table, tracker URL, debug files): one Runtime owns the UDP socket,
// the dispatcher demultiplexing it, and every open transfer, each
// addressed from the outside by a stable integer id (td) rather than a
// pointer, so ownership stays a tree (Runtime -> Transfer -> Channel)
// instead of the original's web of back-references.
package runtime

import (
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/config"
	"github.com/tswift/tswift/dispatcher"
	"github.com/tswift/tswift/log"
	"github.com/tswift/tswift/transfer"
	"github.com/tswift/tswift/xerr"
)

// TD is the public API's opaque transfer-descriptor handle.
type TD int32

// tickInterval is how often the send loop gives every channel a chance to
// emit a datagram and the idle sweep a chance to run; the original's
// event-driven bufferevent timer fires on the same rough cadence.
const tickInterval = 25 * time.Millisecond

// Runtime is the listen(addr) socket plus every transfer opened against it.
type Runtime struct {
	cfg *config.Config
	log log.Logger

	conn net.PacketConn
	disp *dispatcher.Dispatcher

	mu        sync.Mutex
	handles   map[TD]*Handle
	bySwarm   map[string]*Handle // hex(swarmID) -> Handle
	nextTD    TD

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a Runtime bound to cfg but with no socket open yet; call
// Listen to start serving datagrams.
func New(cfg *config.Config) *Runtime {
	rt := &Runtime{
		cfg:     cfg,
		log:     log.New("pkg", "runtime"),
		handles: make(map[TD]*Handle),
		bySwarm: make(map[string]*Handle),
	}
	rt.disp = dispatcher.New(rt.lookupSwarm)
	return rt
}

// Listen implements the public API's listen(addr): it opens the
// process-global UDP socket and starts the read and send loops.
func (rt *Runtime) Listen(addr string) error {
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", rt.cfg.ListenAddr, rt.cfg.Port)
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return xerr.Storage("runtime.Runtime.Listen", fmt.Errorf("opening %s: %w", addr, err))
	}
	rt.conn = conn
	rt.stop = make(chan struct{})
	rt.log.Info("listening", "addr", conn.LocalAddr())

	rt.wg.Add(2)
	go rt.readLoop()
	go rt.sendLoop()
	return nil
}

// Addr returns the socket's bound local address, for a caller (simulation,
// tests) that asked Listen for an OS-assigned port and needs to learn
// which one it got.
func (rt *Runtime) Addr() net.Addr {
	if rt.conn == nil {
		return nil
	}
	return rt.conn.LocalAddr()
}

// Close shuts down the socket and every loop goroutine. Open transfers must
// be closed individually first.
func (rt *Runtime) Close() error {
	if rt.conn == nil {
		return nil
	}
	close(rt.stop)
	err := rt.conn.Close()
	rt.wg.Wait()
	return err
}

func (rt *Runtime) readLoop() {
	defer rt.wg.Done()
	buf := make([]byte, rt.cfg.MTU)
	for {
		n, addr, err := rt.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-rt.stop:
				return
			default:
				rt.log.Warn("read failed", "err", err)
				return
			}
		}
		peer, ok := toChannelAddr(addr)
		if !ok {
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		if err := rt.disp.Route(peer, datagram, time.Now()); err != nil {
			rt.log.Debug("datagram rejected", "peer", peer, "err", err)
		}
	}
}

func (rt *Runtime) sendLoop() {
	defer rt.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rt.stop:
			return
		case now := <-ticker.C:
			rt.tick(now)
		}
	}
}

func (rt *Runtime) tick(now time.Time) {
	rt.mu.Lock()
	handles := make([]*Handle, 0, len(rt.handles))
	for _, h := range rt.handles {
		handles = append(handles, h)
	}
	rt.mu.Unlock()

	for _, h := range handles {
		h.xfer.CloseChannelsIfIdle(now)
		if err := h.xfer.TrackerReconnectIfAllowed(now, h.movingForward(now)); err != nil {
			rt.log.Debug("tracker reconnect failed", "td", h.td, "err", err)
		}
		for _, c := range h.xfer.Channels() {
			datagram, err := c.SendDatagram(now)
			if err != nil {
				rt.log.Debug("send failed", "td", h.td, "channel", c.LocalID, "err", err)
				continue
			}
			if len(datagram) == 0 {
				continue
			}
			addr := &net.UDPAddr{IP: c.Peer.IP, Port: c.Peer.Port}
			if _, err := rt.conn.WriteTo(datagram, addr); err != nil {
				rt.log.Debug("write failed", "td", h.td, "peer", c.Peer, "err", err)
			}
		}
	}
}

func toChannelAddr(addr net.Addr) (channel.Addr, bool) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return channel.Addr{}, false
	}
	return channel.Addr{IP: udp.IP, Port: udp.Port}, true
}

// lookupSwarm is the dispatcher.SwarmLookup this Runtime supplies: it peeks
// a first-contact datagram's swarm identity (a legacy root hash or a
// PPSPv1 SWARM_ID option) and resolves it against the swarms this process
// currently has open.
func (rt *Runtime) lookupSwarm(peer channel.Addr, body []byte) (*transfer.Transfer, channel.Handshake, error) {
	const op = "runtime.Runtime.lookupSwarm"
	swarmID, legacy, err := channel.PeekSwarmIdentity(body)
	if err != nil {
		return nil, channel.Handshake{}, err
	}
	rt.mu.Lock()
	h, ok := rt.bySwarm[swarmKey(swarmID)]
	rt.mu.Unlock()
	if !ok {
		return nil, channel.Handshake{}, xerr.NotFound(op, fmt.Errorf("no open transfer for swarm %x", swarmID))
	}
	hsOut := h.replyHandshake(legacy)
	return h.xfer, hsOut, nil
}

func swarmKey(swarmID []byte) string { return hex.EncodeToString(swarmID) }

// register assigns h the next free td and indexes it by swarm id, so
// inbound datagrams naming that swarm and the tick loop both find it.
func (rt *Runtime) register(h *Handle) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextTD++
	h.td = rt.nextTD
	h.rt = rt
	rt.handles[h.td] = h
	rt.bySwarm[swarmKey(h.swarmID)] = h
}

// unregister removes h so no further datagram or tick touches it; the
// caller (Handle.Close) is responsible for releasing its own resources.
func (rt *Runtime) unregister(h *Handle) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.handles, h.td)
	delete(rt.bySwarm, swarmKey(h.swarmID))
}

// Handle looks up an open swarm by its td, for the public API's per-swarm
// operations that take a td rather than a *Handle directly.
func (rt *Runtime) Handle(td TD) (*Handle, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h, ok := rt.handles[td]
	return h, ok
}

// TD reports h's transfer descriptor.
func (h *Handle) TD() TD { return h.td }

// Handles returns a snapshot slice of every open swarm, for a reporting
// surface (statsapi) that iterates all of them rather than looking one up
// by td.
func (rt *Runtime) Handles() []*Handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Handle, 0, len(rt.handles))
	for _, h := range rt.handles {
		out = append(out, h)
	}
	return out
}
