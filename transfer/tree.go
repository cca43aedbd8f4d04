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

import "github.com/tswift/tswift/bin"

// Storer persists a verified chunk's bytes so they survive past the
// datagram that carried them — the hash tree itself only tracks which bins
// are verified, it never keeps the bytes. package storage's *Storage (a
// file, or a file-spec fan-out over several) and *LiveWrap (a ring buffer)
// are addressed by byte offset and do not satisfy this themselves; runtime's
// chunkStore adapts either of them into a Storer.
type Storer interface {
	WriteChunk(pos bin.Bin, data []byte) error
}

// countingTree decorates a Transfer's tree so every channel shares one
// completed-chunk counter, one progress-callback registry, and one backing
// store, rather than each channel needing to know about any of them. This
// is the only tree value ever handed to channel.NewChannel.
type countingTree struct {
	Tree
	xfer *Transfer
}

// OfferData forwards to the wrapped tree and, on acceptance, persists the
// chunk's bytes (if a Storer is configured) and advances the transfer's
// complete-chunk count and fires any due progress callbacks. A chunk whose
// hash verifies but whose bytes fail to persist is not counted complete:
// the hash tree's own OfferData has already recorded it as acked, so the
// peer will not re-offer it, but onChunkAccepted must not fire a progress
// callback implying readable bytes when there are none.
func (c *countingTree) OfferData(pos bin.Bin, data []byte) (bool, error) {
	accepted, err := c.Tree.OfferData(pos, data)
	if !accepted {
		return accepted, err
	}
	if c.xfer.store != nil {
		if werr := c.xfer.store.WriteChunk(pos, data); werr != nil {
			return false, werr
		}
	}
	c.xfer.onChunkAccepted(pos)
	return accepted, err
}
