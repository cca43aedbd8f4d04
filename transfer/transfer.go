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

// Package transfer owns everything one swarm needs outside its wire
// protocol: the hash tree, the storage backing it, the piece picker and
// availability tracker shared by every channel, the channels themselves,
// speed estimation, and the progress-callback registry the public API
// drives. It is the "Transfer" of spec.md's §4.8.
package transfer

import (
	"errors"
	"sync"
	"time"

	"github.com/tswift/tswift/availability"
	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/picker"
	"github.com/tswift/tswift/sendctrl"
	"github.com/tswift/tswift/xerr"
)

// Dir names a transfer direction for speed accounting.
type Dir int

const (
	Down Dir = iota
	Up
)

// maxOutgoingChannels is the outgoing-connection budget spec.md §4.8 fixes:
// add_peer beyond this many active channels is queued, not dialed.
const maxOutgoingChannels = 20

// closeSweepInterval is how often close_channels_if_idle runs.
const closeSweepInterval = 5 * time.Second

// ErrOutgoingBudgetExhausted is returned by AddPeer once maxOutgoingChannels
// channels are already open or pending.
var ErrOutgoingBudgetExhausted = errors.New("transfer: outgoing connection budget exhausted")

// Tree is the subset of hashtree.Static/hashtree.Live a Transfer needs
// beyond what channel.Tree already requires: a size in chunks for static
// swarms (zero for live, which has none).
type Tree interface {
	channel.Tree
	SizeInChunks() uint64
}

// Sender abstracts the UDP socket a dispatcher owns; Transfer never opens
// one itself, matching the process-global shared-socket model spec.md §5
// describes.
type Sender interface {
	SendTo(addr channel.Addr, datagram []byte) error
}

// Transfer is one swarm: the tree/storage/picker/availability quadruple
// shared by every channel dialed or accepted for it, plus the bookkeeping
// the public API's per-swarm operations read and write.
type Transfer struct {
	mu sync.Mutex

	tree      Tree
	source    channel.ChunkSource
	store     Storer
	chunkSize uint32
	zeroState bool

	avail *availability.Availability

	channels       map[uint32]*channel.Channel
	outgoing       int
	completeChunks uint64

	speed [2]*SpeedEstimator

	progress *progressRegistry

	fetchers *fetchers

	tracker        TrackerClient
	trackerBackoff time.Duration
	trackerLastTry time.Time
	lastCloseSweep time.Time
}

// TrackerClient is the small interface an external-tracker implementation
// (package tracker) satisfies; Transfer only needs to ask it to reconnect.
type TrackerClient interface {
	Reconnect() error
}

// Config seeds a new Transfer's fixed parameters.
type Config struct {
	Tree         Tree
	Source       channel.ChunkSource
	Store        Storer
	ChunkSize    uint32
	ZeroState    bool
	Tracker      TrackerClient
	RarityLevels int
}

// New returns a Transfer over an already-constructed tree/storage pair.
// RarityLevels defaults to maxOutgoingChannels when unset, since the
// availability tracker only needs as many rarity buckets as the transfer
// can have peers.
func New(cfg Config) *Transfer {
	levels := cfg.RarityLevels
	if levels < 1 {
		levels = maxOutgoingChannels
	}
	return &Transfer{
		tree:      cfg.Tree,
		source:    cfg.Source,
		store:     cfg.Store,
		chunkSize: cfg.ChunkSize,
		zeroState: cfg.ZeroState,
		avail:     availability.New(levels),
		channels:  make(map[uint32]*channel.Channel),
		speed:     [2]*SpeedEstimator{NewSpeedEstimator(), NewSpeedEstimator()},
		progress:  newProgressRegistry(),
		fetchers:  newFetchers(),
		tracker:   cfg.Tracker,
	}
}

// Size returns the swarm's total byte length, or 0 for a live swarm (whose
// length is unbounded by definition).
func (t *Transfer) Size() uint64 {
	if t.tree.SizeInChunks() == 0 {
		return 0
	}
	return t.tree.SizeInChunks() * uint64(t.chunkSize)
}

// Complete returns how many bytes have been verified and stored so far.
func (t *Transfer) Complete() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeChunks * uint64(t.chunkSize)
}

// SeqComplete returns how many bytes starting at offset are contiguously
// complete: offset plus the run of filled chunks immediately following it,
// with no gap.
func (t *Transfer) SeqComplete(offset uint64) uint64 {
	firstEmpty := t.tree.AckOut().FindEmptyFrom(bin.Leaf(offset / uint64(t.chunkSize)))
	if firstEmpty.IsNone() {
		return t.Size()
	}
	return firstEmpty.Offset() * uint64(t.chunkSize)
}

// onChunkAccepted is called by countingTree whenever OfferData newly
// accepts a chunk: it advances the completed-chunk count and fires any
// progress callback whose aggregation layer this bin satisfies.
func (t *Transfer) onChunkAccepted(pos bin.Bin) {
	span := startSpan("transfer.progress")
	defer span.Finish()

	t.mu.Lock()
	t.completeChunks++
	t.mu.Unlock()
	t.fetchers.Forget(pos)
	t.progress.notify(pos)
}

// NumLeechers counts channels whose peer has not yet acked the whole
// swarm (still downloading from us).
func (t *Transfer) NumLeechers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.channels {
		if !c.PeerAckIn().WholeFilled() {
			n++
		}
	}
	return n
}

// NumSeeders counts channels whose peer has acked the whole swarm.
func (t *Transfer) NumSeeders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.channels {
		if c.PeerAckIn().WholeFilled() {
			n++
		}
	}
	return n
}

// SetMaxSpeed caps the moving-average estimator for dir.
func (t *Transfer) SetMaxSpeed(dir Dir, bytesPerSec float64) {
	t.speed[dir].SetMax(bytesPerSec)
}

// CurrentSpeed reports the dir estimator's current moving average.
func (t *Transfer) CurrentSpeed(dir Dir, now time.Time) float64 {
	return t.speed[dir].Rate(now)
}

// RecordBytes feeds dir's estimator n bytes moved at now; channels call
// this whenever a DATA message is sent or accepted.
func (t *Transfer) RecordBytes(dir Dir, n int, now time.Time) {
	t.speed[dir].Add(n, now)
}

// AddPeer registers a new outgoing channel to addr under id, refusing once
// maxOutgoingChannels channels are already open or pending, per spec.md
// §4.8's fixed outgoing budget. id must already be unique process-wide:
// channel ids are a single flat space shared by every transfer behind one
// dispatcher (the original's static channels_t table indexed the same
// way), so Transfer never assigns one itself — the caller (normally
// dispatcher.Dispatcher) does.
func (t *Transfer) AddPeer(id uint32, addr channel.Addr, hsOut channel.Handshake) (*channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outgoing >= maxOutgoingChannels {
		return nil, ErrOutgoingBudgetExhausted
	}
	pick, err := t.newPicker()
	if err != nil {
		return nil, err
	}
	budget := sendctrl.New(nil)
	hsOut.ChannelID = id
	c := channel.NewChannel(id, addr, hsOut, &countingTree{Tree: t.tree, xfer: t}, t.source, pick, budget, true, nil)
	t.channels[id] = c
	t.outgoing++
	return c, nil
}

// AddIncomingChannel registers a channel a dispatcher just accepted
// (handshake not yet verified); id must already be unique process-wide.
func (t *Transfer) AddIncomingChannel(id uint32, peer channel.Addr, hsOut channel.Handshake) (*channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pick, err := t.newPicker()
	if err != nil {
		return nil, err
	}
	budget := sendctrl.New(nil)
	hsOut.ChannelID = id
	c := channel.NewChannel(id, peer, hsOut, &countingTree{Tree: t.tree, xfer: t}, t.source, pick, budget, false, nil)
	t.channels[id] = c
	return c, nil
}

func (t *Transfer) newPicker() (picker.Picker, error) {
	return picker.NewRarestFirst(t.tree, t.avail)
}

// SetTracker installs a tracker client after construction, for callers (like
// runtime.Handle) that need a *Transfer to exist before they can build a
// tracker.Client whose progress callback reads that same transfer.
func (t *Transfer) SetTracker(tc TrackerClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracker = tc
}

// Channels returns a snapshot slice of this transfer's live channels, for a
// dispatcher's or event loop's iteration.
func (t *Transfer) Channels() []*channel.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*channel.Channel, 0, len(t.channels))
	for _, c := range t.channels {
		out = append(out, c)
	}
	return out
}

// CloseChannelsIfIdle deletes channels flagged for deletion and any channel
// that has been idle past its close-inactivity timeout, at most once every
// closeSweepInterval.
func (t *Transfer) CloseChannelsIfIdle(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastCloseSweep.IsZero() && now.Sub(t.lastCloseSweep) < closeSweepInterval {
		return
	}
	t.lastCloseSweep = now
	for id, c := range t.channels {
		if c.ScheduledForDeletion() || c.Idle(now) {
			delete(t.channels, id)
			if t.outgoing > 0 {
				t.outgoing--
			}
		}
	}
}

// TrackerReconnectIfAllowed retries the external tracker (if any) under
// exponential back-off, starting at 30s per spec.md §5, when no channel is
// established and either there is no live source or it has gone silent.
func (t *Transfer) TrackerReconnectIfAllowed(now time.Time, movingForward bool) error {
	if t.tracker == nil || movingForward {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.trackerBackoff == 0 {
		t.trackerBackoff = 30 * time.Second
	}
	if !t.trackerLastTry.IsZero() && now.Sub(t.trackerLastTry) < t.trackerBackoff {
		return nil
	}
	t.trackerLastTry = now
	err := t.tracker.Reconnect()
	if err != nil {
		t.trackerBackoff *= 2
		return err
	}
	t.trackerBackoff = 30 * time.Second
	return nil
}

// ErrUnknownChannel is the cause wrapped by xerr.NotFound when
// CloseChannel is asked to close an id this transfer does not hold.
var ErrUnknownChannel = errors.New("transfer: unknown channel id")

// CloseChannel closes and removes one channel by id, returning an
// xerr.KindNotFound error if it is not this transfer's.
func (t *Transfer) CloseChannel(id uint32) ([]channel.Msg, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[id]
	if !ok {
		return nil, xerr.NotFound("transfer.CloseChannel", ErrUnknownChannel)
	}
	msgs := c.Close()
	delete(t.channels, id)
	if t.outgoing > 0 {
		t.outgoing--
	}
	return msgs, nil
}
