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

import "github.com/tswift/tswift/bin"

// byteBacking is the Read/Write shape both *storage.Storage (a file, or a
// file-spec fan-out over several) and *storage.LiveWrap (a ring buffer)
// already share.
type byteBacking interface {
	Read(buf []byte, offset int64) (int, error)
	Write(buf []byte, offset int64) (int, error)
}

// chunkStore adapts a byteBacking, addressed by byte offset, into the
// bin-addressed channel.ChunkSource and transfer.Storer a Handle's
// channels and tree need: a chunk's position translates to an offset via
// its base (leftmost leaf) index times the configured chunk size.
type chunkStore struct {
	backing   byteBacking
	chunkSize uint32
}

func (s *chunkStore) offset(pos bin.Bin) int64 {
	return int64(pos.BaseOffset()) * int64(s.chunkSize)
}

// ReadChunk implements channel.ChunkSource.
func (s *chunkStore) ReadChunk(pos bin.Bin) ([]byte, error) {
	buf := make([]byte, s.chunkSize)
	n, err := s.backing.Read(buf, s.offset(pos))
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteChunk implements transfer.Storer.
func (s *chunkStore) WriteChunk(pos bin.Bin, data []byte) error {
	_, err := s.backing.Write(data, s.offset(pos))
	return err
}
