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

package bin

import "math/bits"

// DecomposeRange decomposes the inclusive leaf-index interval [start, end]
// into the minimum sequence of complete, left-to-right ordered subtrees
// (bins) that together cover every leaf in the interval exactly once. This
// is the CHUNK32-to-BIN32 decomposition used to decode a chunk-address
// range message.
func DecomposeRange(start, end uint64) []Bin {
	if end < start {
		return nil
	}
	var out []Bin
	pos := start
	for pos <= end {
		remaining := end - pos + 1
		align := uint(63)
		if pos != 0 {
			align = uint(bits.TrailingZeros64(pos))
		}
		size := uint(bits.Len64(remaining)) - 1 // exponent of the largest power of two <= remaining
		layer := align
		if size < layer {
			layer = size
		}
		out = append(out, FromLayerOffset(layer, pos>>layer))
		pos += uint64(1) << layer
	}
	return out
}
