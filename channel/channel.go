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

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tilinna/clock"
	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/hashtree"
	"github.com/tswift/tswift/picker"
	"github.com/tswift/tswift/xerr"
)

// DefaultMTU is the default receive MTU spec.md names for rejecting
// oversized datagrams outright.
const DefaultMTU = 65535

// maxPossibleRTT bounds how long a send may sit in the timeout queue before
// it is given up on entirely rather than retransmitted again.
const maxPossibleRTT = 10 * time.Second

// minRTOFloor is the dev_avg floor spec.md's ack_timeout formula applies
// before the 4x multiplier, so a channel with an unrealistically tight
// initial jitter estimate doesn't retransmit too eagerly.
const minRTOFloor = 50 * time.Millisecond

// maxAckTimeout caps the retransmission timeout regardless of how large
// rtt_avg/dev_avg have grown.
const maxAckTimeout = 30 * time.Second

// hintBatchBudget bounds how many REQUEST messages one Send call may add
// absent a wired-in congestion controller (see CongestionBudget).
const hintBatchBudget = 4

// closeInactivity is the handshake-established inactivity timeout after
// which a channel is flagged for deletion.
const closeInactivity = 60 * time.Second

// minPexRequestInterval is the minimum spacing between this channel's own
// PEX_REQ sends to its peer.
const minPexRequestInterval = time.Second

// Tree is the integrity-layer surface a Channel drives: verify and store
// newly arrived hashes/data, and read back what is already trusted.
// *hashtree.Static and *hashtree.Live both satisfy it.
type Tree interface {
	AckOut() *binmap.Binmap
	ChunkSize() uint32
	OfferHash(pos bin.Bin, h hashtree.Hash) error
	OfferData(pos bin.Bin, data []byte) (bool, error)
	HashAt(pos bin.Bin) (hashtree.Hash, bool)
	AnchorFor(pos bin.Bin) bin.Bin
	Signed() bool
	Signature(anchor bin.Bin) []byte
}

// ChunkSource supplies chunk bytes for outgoing DATA messages.
type ChunkSource interface {
	ReadChunk(pos bin.Bin) ([]byte, error)
}

// CongestionBudget is the hook sendctrl's controller fills once wired in:
// how many more chunks this channel may request right now, and whether its
// send window currently permits pushing a DATA message. Absent a real
// controller, noBudget grants a small fixed hint allowance and never blocks
// DATA, matching the original's PING_PONG behavior before any ack arrives.
type CongestionBudget interface {
	HintBudget() int
	CanSendData() bool
	OnAck(rtt time.Duration)
	OnLoss()
	OnOwdSample(owd time.Duration)
}

type noBudget struct{}

func (noBudget) HintBudget() int         { return hintBatchBudget }
func (noBudget) CanSendData() bool       { return true }
func (noBudget) OnAck(time.Duration)     {}
func (noBudget) OnLoss()                 {}
func (noBudget) OnOwdSample(time.Duration) {}

// Addr is a UDP peer address. The protocol runs over raw UDP rather than
// devp2p/RLPx, so unlike the rest of this module's transport-adjacent
// pieces it has no teacher counterpart to generalize; net.IP/net.JoinHostPort
// are the direct stdlib fit.
type Addr struct {
	IP   net.IP
	Port int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// IsPrivate reports whether a is a loopback or RFC1918/RFC4193 address, the
// condition spec.md's duplicate-detection tie-break applies to.
func (a Addr) IsPrivate() bool {
	return a.IP.IsLoopback() || a.IP.IsPrivate()
}

type dataOutEntry struct {
	pos  bin.Bin
	sent time.Time
}

// Channel is one virtual connection to a peer.
type Channel struct {
	LocalID   uint32
	RemoteID  uint32
	Peer      Addr
	LocalPort int

	clk clock.Clock

	hsOut Handshake
	hsIn  Handshake

	handshaked      bool
	legacyHandshake bool
	outgoing        bool // we initiated; governs whether we send the first packet

	tree   Tree
	source ChunkSource
	pick   picker.Picker
	budget CongestionBudget

	peerAckIn *binmap.Binmap // peer's offered bins, updated by incoming HAVE/ACK
	haveSent  *binmap.Binmap // subset of tree.AckOut() already announced via HAVE

	pendingAck    bin.Bin // last received chunk awaiting an ACK, or bin.NONE
	pendingAckTS  uint64
	lastDataInAt  time.Time

	dataOut    []dataOutEntry
	dataOutTmo []dataOutEntry

	rttAvg time.Duration
	devAvg time.Duration

	lastSendTime time.Time
	lastRecvTime time.Time

	pex     *pexState
	learned []Addr

	pendingRequests []bin.Bin
	peerChoked      bool

	scheduledForDeletion bool
	closeErr             error
}

// NewChannel constructs an outgoing (we-initiate) or incoming (peer-initiate)
// channel. hsOut is the handshake we will offer; pick drives REQUEST
// selection; budget may be nil, in which case noBudget applies until
// sendctrl wires in a real controller.
func NewChannel(localID uint32, peer Addr, hsOut Handshake, tree Tree, source ChunkSource, pick picker.Picker, budget CongestionBudget, outgoing bool, clk clock.Clock) *Channel {
	if clk == nil {
		clk = clock.Realtime
	}
	if budget == nil {
		budget = noBudget{}
	}
	return &Channel{
		LocalID:   localID,
		Peer:      peer,
		clk:       clk,
		hsOut:     hsOut,
		outgoing:  outgoing,
		tree:      tree,
		source:    source,
		pick:      pick,
		budget:    budget,
		peerAckIn: binmap.New(),
		haveSent:  binmap.New(),
		pendingAck: bin.NONE,
		rttAvg:    time.Second,
		devAvg:    0,
	}
}

// Handshaked reports whether this channel has completed handshake
// negotiation in both directions.
func (c *Channel) Handshaked() bool { return c.handshaked }

// Outgoing reports whether this side initiated the channel (add_peer) as
// opposed to accepting one a peer dialed in.
func (c *Channel) Outgoing() bool { return c.outgoing }

// PeerAckIn returns the peer's offered binmap, as tracked by incoming HAVE
// and ACK messages. Callers must treat the result as read-only.
func (c *Channel) PeerAckIn() *binmap.Binmap { return c.peerAckIn }

// IsSelfConnection reports whether the peer's handshake names this very
// channel's own local id as the channel to address - i.e. we connected to
// ourselves.
func (c *Channel) IsSelfConnection() bool {
	return c.handshaked && c.hsIn.ChannelID == c.LocalID
}

// DuplicateOf reports whether cand is a duplicate connection attempt to the
// same peer as existing, to be resolved per spec.md's private-address
// tie-break: a second handshake from the same address with a lower port
// than our own local port loses and should be closed in favor of existing.
func DuplicateOf(existing, cand *Channel) bool {
	if !existing.Peer.IP.Equal(cand.Peer.IP) {
		return false
	}
	if !existing.Peer.IsPrivate() {
		return false
	}
	return cand.Peer.Port < existing.LocalPort
}

func (c *Channel) codec() codec {
	hashSize := hashtree.SHA1.Size()
	sigSize := 0
	if c.handshaked {
		hashSize = c.hsIn.HashFunc.Size()
	}
	if c.tree != nil && c.tree.Signed() {
		sigSize = 65 // secp256k1 recoverable signature, as hashtree.Live signs with crypto.Sign
	}
	return codec{
		addr:       c.hsIn.ChunkAddr,
		chunkSize:  c.tree.ChunkSize(),
		timestamps: c.handshaked && c.hsIn.Version == VerPPSPv1,
		hashSize:   hashSize,
		sigSize:    sigSize,
	}
}

// Recv parses and dispatches exactly one datagram's worth of messages.
// body is the datagram with its leading remote_channel_id prefix already
// stripped by the dispatcher that routed it here.
func (c *Channel) Recv(body []byte, now time.Time) error {
	const op = "channel.Channel.Recv"
	if len(body) > DefaultMTU {
		return xerr.Protocol(op, fmt.Errorf("datagram of %d bytes exceeds the %d-byte receive MTU", len(body), DefaultMTU))
	}
	if !c.handshaked {
		if err := c.recvHandshake(body, now); err != nil {
			return err
		}
		c.lastRecvTime = now
		return nil
	}
	msgs, err := DecodeDatagram(body, c.codec(), false, DefaultMTU)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := c.applyMessage(m, now); err != nil {
			return err
		}
	}
	c.lastRecvTime = now
	return nil
}

// recvHandshake handles the first datagram on a not-yet-handshaked channel,
// per spec.md's legacy-vs-PPSP detection rule.
func (c *Channel) recvHandshake(body []byte, now time.Time) error {
	const op = "channel.Channel.recvHandshake"
	if len(body) == 0 {
		return xerr.Protocol(op, fmt.Errorf("empty handshake datagram"))
	}
	preCodec := codec{addr: BIN32, hashSize: hashtree.SHA1.Size()}

	legacy := MsgID(body[0]) == MsgIntegrity
	var leading []Msg
	if legacy {
		msgs, rest, err := decodeMessage(body, preCodec, false)
		if err != nil {
			return err
		}
		leading = msgs
		body = rest
	}
	if len(body) == 0 || MsgID(body[0]) != MsgHandshake {
		return xerr.Protocol(op, fmt.Errorf("first message on an unhandshaked channel must be HANDSHAKE"))
	}
	hs, n, err := DecodeHandshakeBody(body[1:], legacy)
	if err != nil {
		return err
	}
	if !hs.Supported() {
		return xerr.Protocol(op, fmt.Errorf("unsupported handshake option combination from %s", c.Peer))
	}
	c.hsIn = hs
	c.legacyHandshake = legacy
	c.handshaked = true
	c.RemoteID = hs.ChannelID

	for _, m := range leading {
		if err := c.applyMessage(m, now); err != nil {
			return err
		}
	}
	rest := body[1+n:]
	if len(rest) > 0 {
		more, err := DecodeDatagram(rest, c.codec(), false, len(rest))
		if err != nil {
			return err
		}
		for _, m := range more {
			if err := c.applyMessage(m, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Channel) applyMessage(m Msg, now time.Time) error {
	switch v := m.(type) {
	case HandshakeMsg:
		if v.HS.ChannelID == 0 {
			c.closeErr = xerr.Protocol("channel.Channel.applyMessage", fmt.Errorf("peer closed the channel"))
			c.scheduledForDeletion = true
			return nil
		}
		c.RemoteID = v.HS.ChannelID
		return nil
	case DataMsg:
		ok, err := c.tree.OfferData(v.Pos, v.Data)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.pendingAck = v.Pos
		if v.Timestamp != 0 {
			c.pendingAckTS = v.Timestamp
		}
		c.lastDataInAt = now
		return nil
	case AckMsg:
		c.onAck(v.Pos, v.OneWayDelay, now)
		return nil
	case HaveMsg:
		return c.peerAckIn.Set(v.Pos)
	case IntegrityMsg:
		return c.tree.OfferHash(v.Pos, hashtree.Hash(v.Hash))
	case SignedIntegrityMsg:
		if len(v.Signature) > 0 {
			live, ok := c.tree.(interface {
				OfferSignedMunro(bin.Bin, hashtree.Hash, []byte) (bool, error)
			})
			if !ok {
				return xerr.Protocol("channel.Channel.applyMessage", fmt.Errorf("SIGNED_INTEGRITY received on a non-live tree"))
			}
			_, err := live.OfferSignedMunro(v.Pos, hashtree.Hash(v.Hash), v.Signature)
			return err
		}
		return c.tree.OfferHash(v.Pos, hashtree.Hash(v.Hash))
	case PexReqMsg:
		c.recvPexReq(now)
		return nil
	case PexResv4Msg:
		c.recvPexAddr(Addr{IP: net.IPv4(v.IP[0], v.IP[1], v.IP[2], v.IP[3]), Port: int(v.Port)})
		return nil
	case PexResv6Msg:
		ip := make(net.IP, 16)
		copy(ip, v.IP[:])
		c.recvPexAddr(Addr{IP: ip, Port: int(v.Port)})
		return nil
	case RequestMsg:
		// Recorded so a future Send knows to serve it; transfer-level
		// upload scheduling beyond "do we have it" is out of scope here.
		c.pendingRequests = append(c.pendingRequests, v.Pos)
		return nil
	case CancelMsg:
		c.pendingRequests = removeBin(c.pendingRequests, v.Pos)
		return nil
	case ChokeMsg:
		c.peerChoked = true
		return nil
	case UnchokeMsg:
		c.peerChoked = false
		return nil
	default:
		return xerr.Protocol("channel.Channel.applyMessage", fmt.Errorf("unhandled message type %T", m))
	}
}

func removeBin(s []bin.Bin, b bin.Bin) []bin.Bin {
	out := s[:0]
	for _, x := range s {
		if x != b {
			out = append(out, x)
		}
	}
	return out
}

// onAck updates RTT statistics (a simple exponential estimator, the same
// shape TCP/LEDBAT implementations use) and removes any outstanding sends
// subsumed by pos from the retransmission queues.
func (c *Channel) onAck(pos bin.Bin, owd time.Duration, now time.Time) {
	if owd > 0 {
		c.budget.OnOwdSample(owd)
	}
	var matched time.Time
	kept := c.dataOut[:0]
	for _, e := range c.dataOut {
		if pos.Contains(e.pos) || e.pos == pos {
			matched = e.sent
			continue
		}
		kept = append(kept, e)
	}
	c.dataOut = kept
	keptTmo := c.dataOutTmo[:0]
	for _, e := range c.dataOutTmo {
		if pos.Contains(e.pos) || e.pos == pos {
			if matched.IsZero() {
				matched = e.sent
			}
			continue
		}
		keptTmo = append(keptTmo, e)
	}
	c.dataOutTmo = keptTmo

	if !matched.IsZero() {
		rtt := now.Sub(matched)
		if c.rttAvg == 0 {
			c.rttAvg = rtt
		} else {
			delta := rtt - c.rttAvg
			c.rttAvg += delta / 8
			if delta < 0 {
				delta = -delta
			}
			c.devAvg += (delta - c.devAvg) / 4
		}
		c.budget.OnAck(rtt)
	}
}

// ackTimeout computes spec.md's retransmission deadline: rtt_avg plus four
// times the larger of dev_avg or a 50ms floor, capped at 30s.
func (c *Channel) ackTimeout() time.Duration {
	dev := c.devAvg
	if dev < minRTOFloor {
		dev = minRTOFloor
	}
	t := c.rttAvg + 4*dev
	if t > maxAckTimeout {
		t = maxAckTimeout
	}
	return t
}

// sweep runs the per-tick retransmission policy: entries older than
// ackTimeout move from dataOut to dataOutTmo; dataOutTmo heads are returned
// for resending (and reported as a loss unless empty); entries that have
// sat in dataOutTmo past maxPossibleRTT are discarded outright.
func (c *Channel) sweep(now time.Time) (resend []bin.Bin) {
	to := c.ackTimeout()
	kept := c.dataOut[:0]
	for _, e := range c.dataOut {
		if now.Sub(e.sent) > to {
			c.dataOutTmo = append(c.dataOutTmo, e)
		} else {
			kept = append(kept, e)
		}
	}
	c.dataOut = kept

	keptTmo := c.dataOutTmo[:0]
	for _, e := range c.dataOutTmo {
		if now.Sub(e.sent) > maxPossibleRTT {
			continue
		}
		keptTmo = append(keptTmo, e)
		resend = append(resend, e.pos)
	}
	if len(keptTmo) > 0 {
		c.budget.OnLoss()
	}
	c.dataOutTmo = keptTmo
	return resend
}

// Send constructs at most one outgoing datagram's worth of messages,
// following the priority order: integrity hashes, HAVE, ACK, a batch of
// HINTs, PEX traffic, then DATA; it never emits CANCEL messages. It returns
// nil, nil when there is nothing to send. Use SendDatagram to get wire-ready bytes.
func (c *Channel) Send(now time.Time) ([]Msg, error) {
	if !c.handshaked {
		return c.sendHandshake(), nil
	}

	var msgs []Msg

	msgs = append(msgs, c.integrityMsgs()...)

	if have, ok := c.nextHave(); ok {
		msgs = append(msgs, HaveMsg{Pos: have})
		if err := c.haveSent.Set(have); err != nil {
			return nil, err
		}
	}

	if c.pendingAck != bin.NONE {
		owd := time.Duration(0)
		if !c.lastDataInAt.IsZero() {
			owd = now.Sub(c.lastDataInAt)
		}
		msgs = append(msgs, AckMsg{Pos: c.pendingAck, OneWayDelay: owd})
		c.pendingAck = bin.NONE
	}

	msgs = append(msgs, c.hintMsgs(now)...)

	if c.wantsPexRequest() {
		msgs = append(msgs, PexReqMsg{})
	}
	for _, a := range c.nextPexResponses(4) {
		msgs = append(msgs, pexResponseFor(a))
	}

	if resend := c.sweep(now); len(resend) > 0 && c.budget.CanSendData() {
		if m, ok := c.dataMsgFor(resend[0], now); ok {
			msgs = append(msgs, m)
		}
	} else if len(c.pendingRequests) > 0 && c.budget.CanSendData() {
		pos := c.pendingRequests[0]
		c.pendingRequests = c.pendingRequests[1:]
		if m, ok := c.dataMsgFor(pos, now); ok {
			msgs = append(msgs, m)
		}
	}

	if len(msgs) == 0 {
		return nil, nil
	}
	c.lastSendTime = now
	return msgs, nil
}

func (c *Channel) sendHandshake() []Msg {
	if c.hsOut.Version == VerLegacy {
		if h, ok := c.tree.HashAt(0); ok {
			return []Msg{IntegrityMsg{Pos: 0, Hash: []byte(h)}, HandshakeMsg{HS: c.hsOut}}
		}
	}
	return []Msg{HandshakeMsg{HS: c.hsOut}}
}

// integrityMsgs offers the uncle-chain hashes needed to verify whatever
// DATA this Send call is about to push, walking from the anchor down to the
// position's sibling path.
func (c *Channel) integrityMsgs() []Msg {
	if len(c.pendingRequests) == 0 && len(c.dataOutTmo) == 0 {
		return nil
	}
	var target bin.Bin
	if len(c.dataOutTmo) > 0 {
		target = c.dataOutTmo[0].pos
	} else {
		target = c.pendingRequests[0]
	}
	anchor := c.tree.AnchorFor(target)
	if anchor.IsNone() {
		return nil
	}
	var msgs []Msg
	if c.tree.Signed() {
		if h, ok := c.tree.HashAt(anchor); ok {
			msgs = append(msgs, SignedIntegrityMsg{Pos: anchor, Signature: c.tree.Signature(anchor), Hash: []byte(h)})
		}
	}
	for cur := target; cur != anchor && !cur.IsNone(); cur = cur.Parent() {
		if h, ok := c.tree.HashAt(cur.Sibling()); ok {
			msgs = append(msgs, IntegrityMsg{Pos: cur.Sibling(), Hash: []byte(h)})
		}
	}
	return msgs
}

// nextHave returns the next bin in tree.AckOut() not yet covered by
// haveSent, if any.
func (c *Channel) nextHave() (bin.Bin, bool) {
	b := c.tree.AckOut().FindComplement(c.haveSent, bin.ALL, 0)
	if b.IsNone() {
		return bin.NONE, false
	}
	return b, true
}

// hintMsgs asks the picker for up to the congestion controller's current
// hint budget worth of REQUEST messages.
func (c *Channel) hintMsgs(now time.Time) []Msg {
	budget := c.budget.HintBudget()
	var msgs []Msg
	for i := 0; i < budget; i++ {
		p, err := c.pick.Pick(c.peerAckIn, ^uint64(0), now.Add(c.ackTimeout()), c.LocalID)
		if err != nil || p.IsNone() {
			break
		}
		msgs = append(msgs, RequestMsg{Pos: p})
	}
	return msgs
}

func (c *Channel) dataMsgFor(pos bin.Bin, now time.Time) (Msg, bool) {
	data, err := c.source.ReadChunk(pos)
	if err != nil {
		return nil, false
	}
	c.dataOut = append(c.dataOut, dataOutEntry{pos: pos, sent: now})
	ts := uint64(0)
	if c.hsIn.Version == VerPPSPv1 {
		ts = uint64(now.UnixNano())
	}
	return DataMsg{Pos: pos, Timestamp: ts, Data: data}, true
}

func pexResponseFor(a Addr) Msg {
	if ip4 := a.IP.To4(); ip4 != nil {
		var b [4]byte
		copy(b[:], ip4)
		return PexResv4Msg{IP: b, Port: uint16(a.Port)}
	}
	var b [16]byte
	copy(b[:], a.IP.To16())
	return PexResv6Msg{IP: b, Port: uint16(a.Port)}
}

// SendDatagram is Send, encoded to wire-ready bytes with the
// remote_channel_id prefix prepended. It returns nil, nil when Send has
// nothing to offer.
func (c *Channel) SendDatagram(now time.Time) ([]byte, error) {
	msgs, err := c.Send(now)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	body, err := EncodeDatagram(msgs, c.codec())
	if err != nil {
		return nil, err
	}
	return append(appendU32LE(nil, c.RemoteID), body...), nil
}

// Idle reports whether this channel has been silent long enough to close,
// per spec.md's close_channels_if_idle policy.
func (c *Channel) Idle(now time.Time) bool {
	if c.lastRecvTime.IsZero() {
		return false
	}
	return now.Sub(c.lastRecvTime) > closeInactivity
}

// ScheduledForDeletion reports whether the peer has explicitly closed this
// channel (a HANDSHAKE carrying a zero channel id).
func (c *Channel) ScheduledForDeletion() bool { return c.scheduledForDeletion }

// CloseErr returns the error that caused ScheduledForDeletion, if any.
func (c *Channel) CloseErr() error { return c.closeErr }

// Close constructs the zero-channel-id HANDSHAKE that tells the peer this
// channel is going away.
func (c *Channel) Close() []Msg {
	c.scheduledForDeletion = true
	return []Msg{HandshakeMsg{HS: Handshake{ChannelID: 0}}}
}
