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
	"encoding/binary"
	"fmt"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/xerr"
)

// AddrEncoding names one of the five chunk-address encodings negotiable via
// the CHUNK_ADDR handshake option. Only BIN32 and CHUNK32 are ever actually
// carried on the wire by a supported handshake (see Handshake.Supported) -
// the 64-bit variants exist for completeness of the option space but are
// rejected at negotiation time, exactly as the address space they'd need
// (more than 2^32 chunks) never arises for any swarm this transport is sized
// for.
type AddrEncoding uint8

const (
	BIN32 AddrEncoding = iota
	BYTE64
	CHUNK32
	BIN64
	CHUNK64
)

func (e AddrEncoding) String() string {
	switch e {
	case BIN32:
		return "BIN32"
	case BYTE64:
		return "BYTE64"
	case CHUNK32:
		return "CHUNK32"
	case BIN64:
		return "BIN64"
	case CHUNK64:
		return "CHUNK64"
	default:
		return fmt.Sprintf("AddrEncoding(%d)", uint8(e))
	}
}

// Supported reports whether e is usable on the wire. BYTE64/BIN64/CHUNK64
// are declared by the option space but carried by no swarm this transport
// serves, the same restriction the original handshake negotiation applies.
func (e AddrEncoding) Supported() bool {
	return e == BIN32 || e == CHUNK32
}

// EncodeAddr appends pos to buf in encoding e and returns the extended
// slice. chunkSize is only consulted for BYTE64.
func EncodeAddr(buf []byte, e AddrEncoding, pos bin.Bin, chunkSize uint32) []byte {
	switch e {
	case BIN32:
		return appendU32(buf, uint32(pos))
	case BIN64:
		return appendU64(buf, uint64(pos))
	case CHUNK32:
		buf = appendU32(buf, uint32(pos.BaseOffset()))
		return appendU32(buf, uint32(pos.BaseRight().Offset()))
	case CHUNK64:
		buf = appendU64(buf, pos.BaseOffset())
		return appendU64(buf, pos.BaseRight().Offset())
	case BYTE64:
		return appendU64(buf, pos.BaseOffset()*uint64(chunkSize))
	default:
		return buf
	}
}

// DecodeAddr consumes one chunk address from buf in encoding e, returning
// every bin it denotes - more than one only for the CHUNK encodings, whose
// [start,end] chunk-index range decomposes into the minimum covering set of
// subtrees via bin.DecomposeRange - and the unconsumed remainder of buf.
func DecodeAddr(buf []byte, e AddrEncoding, chunkSize uint32) ([]bin.Bin, []byte, error) {
	const op = "channel.DecodeAddr"
	switch e {
	case BIN32:
		if len(buf) < 4 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated BIN32 address"))
		}
		return []bin.Bin{bin.Bin(binary.BigEndian.Uint32(buf))}, buf[4:], nil
	case BIN64:
		if len(buf) < 8 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated BIN64 address"))
		}
		return []bin.Bin{bin.Bin(binary.BigEndian.Uint64(buf))}, buf[8:], nil
	case CHUNK32:
		if len(buf) < 8 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated CHUNK32 address"))
		}
		s, e2 := binary.BigEndian.Uint32(buf), binary.BigEndian.Uint32(buf[4:])
		if s > e2 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("chunk range [%d,%d] has start after end", s, e2))
		}
		return bin.DecomposeRange(uint64(s), uint64(e2)), buf[8:], nil
	case CHUNK64:
		if len(buf) < 16 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated CHUNK64 address"))
		}
		s, e2 := binary.BigEndian.Uint64(buf), binary.BigEndian.Uint64(buf[8:])
		if s > e2 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("chunk range [%d,%d] has start after end", s, e2))
		}
		return bin.DecomposeRange(s, e2), buf[16:], nil
	case BYTE64:
		if len(buf) < 8 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated BYTE64 address"))
		}
		if chunkSize == 0 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("BYTE64 address requires a known chunk size"))
		}
		off := binary.BigEndian.Uint64(buf)
		return []bin.Bin{bin.Leaf(off / uint64(chunkSize))}, buf[8:], nil
	default:
		return nil, nil, xerr.Protocol(op, fmt.Errorf("unknown chunk address encoding %v", e))
	}
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// appendU32LE writes v little-endian, the one wire field spec.md calls out
// as an exception to the otherwise-all-big-endian message bodies: the
// datagram's leading remote_channel_id.
func appendU32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
