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

package runtime

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/hashtree"
	"github.com/tswift/tswift/runtime/peerstate"
	"github.com/tswift/tswift/storage"
	"github.com/tswift/tswift/tracker"
	"github.com/tswift/tswift/transfer"
	"github.com/tswift/tswift/xerr"
)

// staleAfter is how long a transfer may go without a newly completed chunk
// before TrackerReconnectIfAllowed considers it stalled rather than
// "moving forward" on its own.
const staleAfter = 10 * time.Second

// OpenOptions carries open's optional parameters; a zero value selects the
// package defaults (PPSPv1, no forced re-hash, no tracker, no speed
// limiting).
type OpenOptions struct {
	TrackerURL string
	ForceCheck bool
	CIPM       channel.ContIntProt
	ZeroState  bool
	Activate   bool
	ChunkSize  uint32
}

// LiveOpenOptions carries live_open's optional parameters.
type LiveOpenOptions struct {
	TrackerURL string
	SourceAddr channel.Addr
	CIPM       channel.ContIntProt
	DiscWnd    uint64
	ChunkSize  uint32
}

// LiveCreateOptions carries live_create's optional parameters.
type LiveCreateOptions struct {
	CheckpointFile string
	CIPM           channel.ContIntProt
	DiscWnd        uint64
	ChunksPerSign  uint64
	ChunkSize      uint32
}

// Handle is one open swarm: the transfer driving its channels plus
// everything Runtime needs to answer to it by td without walking the
// dispatcher — the storage this swarm's chunks are read from and written
// to, its sidecar paths, and the handshake template new channels are
// accepted against.
type Handle struct {
	rt  *Runtime
	td  TD
	log string // descriptive name for log lines; not a filesystem path guarantee

	mu sync.Mutex

	xfer    *transfer.Transfer
	hsOut   channel.Handshake
	swarmID []byte
	legacy  bool

	filename  string
	chunkSize uint32
	live      bool

	store      *storage.Storage
	liveStore  *storage.LiveWrap
	staticTree *hashtree.Static
	liveTree   *hashtree.Live
	peers      *peerstate.DB

	checkpointFile string

	lastComplete   uint64
	lastProgressAt time.Time
}

// sidecarPaths returns the hash and binmap sidecar paths open's naming
// convention derives from a swarm's filename: "<name>.mhash" and
// "<name>.mbinmap", written next to (not inside) the content directory.
func sidecarPaths(filename string) (hashPath, binmapPath string) {
	return filename + ".mhash", filename + ".mbinmap"
}

// peerstatePath is where Open's known-peer/PEX table and tracker cursor
// persist across restarts, next to the other sidecar files.
func peerstatePath(filename string) string {
	return filename + ".peers.ldb"
}

// Open implements the public API's open(): a static swarm backed by a file
// (or, transparently, a multi-file spec) on disk, identified by swarm_id
// (its Merkle root hash). filename names the directory storage.Storage lays
// that file (or file set) out under; the .mhash/.mbinmap sidecars sit next
// to it.
func (rt *Runtime) Open(filename string, swarmID []byte, opts OpenOptions) (*Handle, error) {
	const op = "runtime.Runtime.Open"
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = rt.cfg.ChunkSize
	}
	if err := os.MkdirAll(filename, 0700); err != nil {
		return nil, xerr.Storage(op, fmt.Errorf("creating swarm directory %s: %w", filename, err))
	}
	store := storage.NewStorage(filename, 0)
	root := hashtree.Hash(swarmID)

	tree, err := loadOrBootstrapStatic(filename, chunkSize, root, opts.ForceCheck)
	if err != nil {
		return nil, err
	}

	hsOut := channel.Default()
	if opts.CIPM != 0 {
		hsOut.CIPM = opts.CIPM
	}
	hsOut.SwarmID = append([]byte(nil), swarmID...)

	cs := &chunkStore{backing: store, chunkSize: chunkSize}
	xfer := transfer.New(transfer.Config{
		Tree:      tree,
		Source:    cs,
		Store:     cs,
		ChunkSize: chunkSize,
		ZeroState: opts.ZeroState,
	})

	h := &Handle{
		rt:         rt,
		xfer:       xfer,
		hsOut:      hsOut,
		swarmID:    append([]byte(nil), swarmID...),
		filename:   filename,
		chunkSize:  chunkSize,
		store:      store,
		staticTree: tree,
	}
	if opts.TrackerURL != "" {
		xfer.SetTracker(rt.newTracker(opts.TrackerURL, swarmID, h))
	}
	rt.register(h)
	rt.loadPeerstate(h, filename)
	return h, nil
}

// loadPeerstate opens h's persisted peer table, best-effort, and dials every
// address it remembers; a process restart reconnects without waiting on a
// tracker announce. Failure to open the database is logged and otherwise
// ignored, since the peer table is a cache, not a requirement for Open to
// succeed.
func (rt *Runtime) loadPeerstate(h *Handle, filename string) {
	pdb, err := peerstate.Open(peerstatePath(filename))
	if err != nil {
		rt.log.Debug("peerstate unavailable", "swarm", filename, "err", err)
		return
	}
	h.peers = pdb
	known, err := pdb.Peers()
	if err != nil {
		rt.log.Debug("peerstate: reading known peers failed", "err", err)
		return
	}
	for _, addr := range known {
		if _, err := h.AddPeer(addr); err != nil {
			rt.log.Debug("peerstate: reconnect to known peer failed", "peer", addr, "err", err)
		}
	}
}

// newTracker builds the tracker.Client a Handle's transfer reconnects
// through: its progress callback reads straight off h's own transfer, and
// a successful announce's peer list is dialed out via the dispatcher the
// same way add_peer is.
func (rt *Runtime) newTracker(trackerURL string, infoHash []byte, h *Handle) *tracker.Client {
	return tracker.NewClient(trackerURL, infoHash, rt.cfg.Port,
		func() tracker.Progress {
			size := h.xfer.Size()
			complete := h.xfer.Complete()
			left := uint64(0)
			if size > complete {
				left = size - complete
			}
			return tracker.Progress{Downloaded: complete, Left: left, Complete: left == 0}
		},
		func(peers []channel.Addr) {
			for _, addr := range peers {
				if _, err := h.AddPeer(addr); err != nil {
					rt.log.Debug("tracker peer dial failed", "peer", addr, "err", err)
				}
			}
		},
	)
}

// loadOrBootstrapStatic resolves a static tree for Open: trust a matching
// sidecar if one is on disk and forceCheck didn't ask to skip it, otherwise
// bootstrap a tree that knows only the root hash, for the fresh-leech case
// where nothing has been downloaded yet. A swarm already fully present on
// disk from a prior run is expected to have a sidecar; re-hashing a
// complete local file with no sidecar at all is left to a future checkpoint
// recovery tool rather than implemented here.
func loadOrBootstrapStatic(filename string, chunkSize uint32, root hashtree.Hash, forceCheck bool) (*hashtree.Static, error) {
	if !forceCheck {
		hashPath, _ := sidecarPaths(filename)
		if f, err := os.Open(hashPath); err == nil {
			defer f.Close()
			if t, err := hashtree.LoadStatic(f, root); err == nil {
				return t, nil
			}
			// stale or corrupt sidecar: fall through to a fresh bootstrap
		}
	}
	// The root hash alone only determines a single peak's hash when the
	// swarm's chunk count is a power of two — the common case this
	// bootstraps. A non-power-of-two swarm needs its peak hashes learned
	// out-of-band (e.g. a cached sidecar) before Open; cold bootstrap from a
	// bare root hash is not implemented for it.
	return hashtree.NewStaticFromPeaks([]bin.Bin{bin.ALL}, map[bin.Bin]hashtree.Hash{bin.ALL: root}, 0, chunkSize, hashtree.SHA1), nil
}

// LiveOpen implements the public API's live_open(): a live swarm received
// from a remote source, verified by that source's public key (carried as
// swarm_id, per spec.md's live addressing).
func (rt *Runtime) LiveOpen(filename string, sourcePubKey *ecdsa.PublicKey, opts LiveOpenOptions) (*Handle, error) {
	const op = "runtime.Runtime.LiveOpen"
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = rt.cfg.ChunkSize
	}
	discWnd := opts.DiscWnd
	if discWnd == 0 {
		discWnd = channel.LiveDiscWndAll
	}
	if err := os.MkdirAll(filename, 0700); err != nil {
		return nil, xerr.Storage(op, fmt.Errorf("creating swarm directory %s: %w", filename, err))
	}
	windowBytes := int64(discWnd) * int64(chunkSize)
	if discWnd == channel.LiveDiscWndAll {
		windowBytes = 1 << 30 // an unbounded window still needs a concrete ring size on disk
	}
	lw, err := storage.NewLiveWrap(filename+"/content", windowBytes)
	if err != nil {
		return nil, err
	}

	tree := hashtree.NewLiveClient(sourcePubKey, chunkSize, hashtree.SHA1, defaultEpochSize)
	swarmID := crypto.FromECDSAPub(sourcePubKey)

	hsOut := channel.Default()
	if opts.CIPM != 0 {
		hsOut.CIPM = opts.CIPM
	}
	hsOut.SwarmID = swarmID
	hsOut.LiveDiscWnd = discWnd

	cs := &chunkStore{backing: lw, chunkSize: chunkSize}
	xfer := transfer.New(transfer.Config{
		Tree:      tree,
		Source:    cs,
		Store:     cs,
		ChunkSize: chunkSize,
	})

	h := &Handle{
		rt:        rt,
		xfer:      xfer,
		hsOut:     hsOut,
		swarmID:   swarmID,
		filename:  filename,
		chunkSize: chunkSize,
		live:      true,
		liveStore: lw,
		liveTree:  tree,
	}
	if opts.TrackerURL != "" {
		xfer.SetTracker(rt.newTracker(opts.TrackerURL, swarmID, h))
	}
	rt.register(h)
	rt.loadPeerstate(h, filename)
	return h, nil
}

// defaultEpochSize is how many chunks a live source seals under one signed
// munro before starting the next, absent an explicit chunks_per_sign.
const defaultEpochSize = 1024

// LiveCreate implements the public API's live_create(): this process is the
// live swarm's originating source, signing every epoch with keypair.
func (rt *Runtime) LiveCreate(filename string, keypair *ecdsa.PrivateKey, opts LiveCreateOptions) (*Handle, error) {
	const op = "runtime.Runtime.LiveCreate"
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = rt.cfg.ChunkSize
	}
	epochSize := opts.ChunksPerSign
	if epochSize == 0 {
		epochSize = defaultEpochSize
	}
	discWnd := opts.DiscWnd
	if discWnd == 0 {
		discWnd = channel.LiveDiscWndAll
	}
	if err := os.MkdirAll(filename, 0700); err != nil {
		return nil, xerr.Storage(op, fmt.Errorf("creating swarm directory %s: %w", filename, err))
	}
	windowBytes := int64(discWnd) * int64(chunkSize)
	if discWnd == channel.LiveDiscWndAll {
		windowBytes = 1 << 30
	}
	lw, err := storage.NewLiveWrap(filename+"/content", windowBytes)
	if err != nil {
		return nil, err
	}

	tree := hashtree.NewLiveSource(keypair, chunkSize, hashtree.SHA1, epochSize)
	swarmID := crypto.FromECDSAPub(&keypair.PublicKey)

	hsOut := channel.Default()
	if opts.CIPM != 0 {
		hsOut.CIPM = opts.CIPM
	}
	hsOut.SwarmID = swarmID
	hsOut.LiveDiscWnd = discWnd

	cs := &chunkStore{backing: lw, chunkSize: chunkSize}
	xfer := transfer.New(transfer.Config{
		Tree:      tree,
		Source:    cs,
		Store:     cs,
		ChunkSize: chunkSize,
	})

	h := &Handle{
		rt:             rt,
		xfer:           xfer,
		hsOut:          hsOut,
		swarmID:        swarmID,
		filename:       filename,
		chunkSize:      chunkSize,
		live:           true,
		liveStore:      lw,
		liveTree:       tree,
		checkpointFile: opts.CheckpointFile,
	}
	rt.register(h)
	rt.loadPeerstate(h, filename)
	return h, nil
}

// LiveWrite implements the public API's live_write(td, bytes): the source
// appends application data, splitting it into chunk_size pieces.
func (h *Handle) LiveWrite(data []byte) (int, error) {
	const op = "runtime.Handle.LiveWrite"
	if !h.live || h.liveTree == nil {
		return 0, xerr.Protocol(op, fmt.Errorf("td is not a live source"))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for len(data) > int(h.chunkSize) {
		chunk := data[:h.chunkSize]
		pos, err := h.liveTree.AddData(chunk)
		if err != nil {
			return n, err
		}
		if _, err := h.liveStore.Write(chunk, int64(pos.BaseOffset())*int64(h.chunkSize)); err != nil {
			return n, xerr.Storage(op, err)
		}
		data = data[h.chunkSize:]
		n += len(chunk)
	}
	if len(data) > 0 {
		pos, err := h.liveTree.AddData(data)
		if err != nil {
			return n, err
		}
		if _, err := h.liveStore.Write(data, int64(pos.BaseOffset())*int64(h.chunkSize)); err != nil {
			return n, xerr.Storage(op, err)
		}
		n += len(data)
	}
	return n, nil
}

// Read implements the public API's read(td, offset, length): bytes may only
// be read back once they are verified complete.
func (h *Handle) Read(buf []byte, offset int64) (int, error) {
	if h.live {
		return h.liveStore.Read(buf, offset)
	}
	return h.store.Read(buf, offset)
}

// Write lets a caller seed local bytes directly (e.g. restoring a seed from
// an existing copy before Open re-hashes it); most callers instead let
// channels fill the swarm via the wire protocol.
func (h *Handle) Write(buf []byte, offset int64) (int, error) {
	if h.live {
		return h.liveStore.Write(buf, offset)
	}
	return h.store.Write(buf, offset)
}

// Size implements the public API's size(td).
func (h *Handle) Size() uint64 { return h.xfer.Size() }

// Complete implements the public API's complete(td).
func (h *Handle) Complete() uint64 { return h.xfer.Complete() }

// SeqComplete implements the public API's seq_complete(td, offset?).
func (h *Handle) SeqComplete(offset uint64) uint64 { return h.xfer.SeqComplete(offset) }

// GetSwarmID implements the public API's get_swarm_id(td).
func (h *Handle) GetSwarmID() []byte { return append([]byte(nil), h.swarmID...) }

// SetMaxSpeed implements the public API's set_max_speed(td, dir, bps).
func (h *Handle) SetMaxSpeed(dir transfer.Dir, bytesPerSec float64) { h.xfer.SetMaxSpeed(dir, bytesPerSec) }

// CurrentSpeed implements the public API's current_speed(td, dir).
func (h *Handle) CurrentSpeed(dir transfer.Dir) float64 { return h.xfer.CurrentSpeed(dir, time.Now()) }

// AddProgressCallback implements the public API's add_progress_callback.
func (h *Handle) AddProgressCallback(cb transfer.ProgressFunc, aggLayer uint) string {
	return h.xfer.AddProgressCallback(cb, aggLayer)
}

// RemoveProgressCallback implements the public API's remove_progress_callback.
func (h *Handle) RemoveProgressCallback(token string) { h.xfer.RemoveProgressCallback(token) }

// NumLeechers reports how many open channels have not yet acked the whole
// swarm, for a reporting surface (statsapi) rather than the core protocol.
func (h *Handle) NumLeechers() int { return h.xfer.NumLeechers() }

// NumSeeders reports how many open channels have acked the whole swarm.
func (h *Handle) NumSeeders() int { return h.xfer.NumSeeders() }

// Channels returns a snapshot of this swarm's open channels, for a
// reporting surface that lists peers per swarm.
func (h *Handle) Channels() []*channel.Channel { return h.xfer.Channels() }

// AddPeer implements the public API's add_peer(td, addr): it asks the
// shared dispatcher for a process-wide channel id and dials out.
func (h *Handle) AddPeer(addr channel.Addr) (*channel.Channel, error) {
	c, err := h.rt.disp.AddPeer(h.xfer, addr, h.hsOut)
	if err == nil && h.peers != nil {
		if rerr := h.peers.RecordPeer(addr, time.Now()); rerr != nil {
			h.rt.log.Debug("peerstate: recording peer failed", "peer", addr, "err", rerr)
		}
	}
	return c, err
}

// Close implements the public API's close(td, remove_state?, remove_content?).
func (h *Handle) Close(removeState, removeContent bool) error {
	h.rt.unregister(h)
	var firstErr error
	if h.live {
		if err := h.liveStore.Close(); err != nil {
			firstErr = err
		}
	} else {
		if err := h.store.Close(); err != nil {
			firstErr = err
		}
	}
	if h.peers != nil {
		if err := h.peers.SetCursor(time.Now()); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.peers.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if removeState {
		hashPath, binmapPath := sidecarPaths(h.filename)
		os.Remove(hashPath)
		os.Remove(binmapPath)
		os.Remove(h.checkpointFile)
		if h.peers != nil {
			os.RemoveAll(peerstatePath(h.filename))
		}
	}
	if removeContent {
		os.RemoveAll(h.filename)
	}
	return firstErr
}

// Checkpoint implements the public API's checkpoint(td): it atomically
// writes the .mhash/.mbinmap sidecars (write to a temp file, rename over the
// old one), plus, for a live source, a small text file naming the last
// signed munro and its signature.
func (h *Handle) Checkpoint() error {
	const op = "runtime.Handle.Checkpoint"
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.live {
		return h.checkpointLive(op)
	}
	hashPath, binmapPath := sidecarPaths(h.filename)
	if err := atomicWrite(hashPath, h.staticTree.Save); err != nil {
		return xerr.Storage(op, err)
	}
	if err := atomicWrite(binmapPath, func(w *os.File) error {
		return h.staticTree.AckOut().Serialize(w)
	}); err != nil {
		return xerr.Storage(op, err)
	}
	return nil
}

func (h *Handle) checkpointLive(op string) error {
	if h.checkpointFile == "" || h.liveTree.MunroCount() == 0 {
		return nil
	}
	last := h.liveTree.Munro(h.liveTree.MunroCount() - 1)
	hash := h.liveTree.MunroHash(last)
	sig := h.liveTree.MunroSig(last)
	return atomicWrite(h.checkpointFile, func(w *os.File) error {
		_, err := fmt.Fprintf(w, "munro %d %x %x\n", uint64(last), []byte(hash), sig)
		return err
	})
}

func atomicWrite(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// movingForward reports whether this swarm has completed a new chunk within
// staleAfter, or has any channel open at all — either way TrackerReconnectIfAllowed
// should leave the existing connections alone rather than churn the tracker.
func (h *Handle) movingForward(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.xfer.Channels()) > 0 {
		return true
	}
	complete := h.xfer.Complete() / uint64(h.chunkSize)
	if complete > h.lastComplete {
		h.lastComplete = complete
		h.lastProgressAt = now
		return true
	}
	if h.lastProgressAt.IsZero() {
		return false
	}
	return now.Sub(h.lastProgressAt) < staleAfter
}

// replyHandshake builds the handshake this Handle's transfer answers a
// first-contact datagram with: its own negotiated settings, addressed
// legacy or PPSPv1 to match what the peer opened with.
func (h *Handle) replyHandshake(legacy bool) channel.Handshake {
	hs := h.hsOut
	if legacy {
		hs = channel.DefaultLegacy()
		hs.CIPM = h.hsOut.CIPM
		hs.SwarmID = h.hsOut.SwarmID
	}
	return hs
}
