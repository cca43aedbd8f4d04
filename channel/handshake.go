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

	"github.com/tswift/tswift/hashtree"
	"github.com/tswift/tswift/xerr"
)

// OptionTag names a PPSPv1 handshake option.
type OptionTag uint8

const (
	OptVersion        OptionTag = 0
	OptMinVersion     OptionTag = 1
	OptSwarmID        OptionTag = 2
	OptContIntProt    OptionTag = 3
	OptMerkleHashFunc OptionTag = 4
	OptLiveSigAlg     OptionTag = 5
	OptChunkAddr      OptionTag = 6
	OptLiveDiscWnd    OptionTag = 7
	OptSuppMsgs       OptionTag = 8
	optEnd            OptionTag = 255
)

// Version distinguishes the pre-IETF wire format from PPSPv1's option-TLV
// handshake.
type Version uint8

const (
	VerLegacy Version = 0
	VerPPSPv1 Version = 1
)

// ContIntProt names the negotiated content-integrity-protection mode.
type ContIntProt uint8

const (
	CIPMNone          ContIntProt = 0
	CIPMMerkle        ContIntProt = 1
	CIPMSignAll       ContIntProt = 2
	CIPMUnifiedMerkle ContIntProt = 3
)

// LiveDiscWndAll marks an unbounded live discard window (no purging).
const LiveDiscWndAll = ^uint64(0)

// Handshake is the negotiated state of one side of a channel: everything
// spec.md's handshake_out/handshake_in pair names. The Merkle hash function
// is carried as hashtree.HashFunc directly - the PPSPv1 option values
// (SHA1=0 .. SHA512=4) are numerically identical to that type's constants,
// so no separate enum or translation is needed.
type Handshake struct {
	ChannelID   uint32
	Version     Version
	MinVersion  Version
	SwarmID     []byte
	CIPM        ContIntProt
	HashFunc    hashtree.HashFunc
	LiveSigAlg  uint8
	ChunkAddr   AddrEncoding
	LiveDiscWnd uint64
	SuppMsgs    []byte
}

// Default returns the PPSPv1 default handshake: CHUNK32 addressing, SHA1,
// MERKLE integrity, no discard window limit.
func Default() Handshake {
	return Handshake{
		Version:     VerPPSPv1,
		MinVersion:  VerPPSPv1,
		CIPM:        CIPMMerkle,
		HashFunc:    hashtree.SHA1,
		ChunkAddr:   CHUNK32,
		LiveDiscWnd: LiveDiscWndAll,
	}
}

// DefaultLegacy returns the pre-IETF default handshake: BIN32 addressing,
// no option TLV at all.
func DefaultLegacy() Handshake {
	h := Default()
	h.Version = VerLegacy
	h.MinVersion = VerLegacy
	h.ChunkAddr = BIN32
	return h
}

// Supported reports whether h is a handshake this implementation can
// actually serve, mirroring the original's Handshake::IsSupported: SIGN_ALL
// integrity, non-SHA1 Merkle hashes, and the 64-bit chunk-address variants
// are all declared by the option space but not carried on any wire path
// here.
func (h Handshake) Supported() bool {
	if h.CIPM == CIPMSignAll {
		return false
	}
	if h.HashFunc != hashtree.SHA1 {
		return false
	}
	if !h.ChunkAddr.Supported() {
		return false
	}
	return true
}

// EncodeHandshakeBody serializes h's channel id and, for PPSPv1, its option
// TLV terminated by POPT_END. A legacy handshake carries only the channel
// id.
func EncodeHandshakeBody(h Handshake) []byte {
	buf := appendU32(nil, h.ChannelID)
	if h.Version == VerLegacy {
		return buf
	}
	buf = appendOption(buf, OptVersion, []byte{byte(h.Version)})
	buf = appendOption(buf, OptMinVersion, []byte{byte(h.MinVersion)})
	if len(h.SwarmID) > 0 {
		lenBuf := appendU16(nil, uint16(len(h.SwarmID)))
		buf = append(buf, byte(OptSwarmID))
		buf = append(buf, lenBuf...)
		buf = append(buf, h.SwarmID...)
	}
	buf = appendOption(buf, OptContIntProt, []byte{byte(h.CIPM)})
	buf = appendOption(buf, OptMerkleHashFunc, []byte{byte(h.HashFunc)})
	buf = appendOption(buf, OptLiveSigAlg, []byte{h.LiveSigAlg})
	buf = appendOption(buf, OptChunkAddr, []byte{byte(h.ChunkAddr)})
	if discWndIsWide(h.ChunkAddr) {
		buf = append(buf, byte(OptLiveDiscWnd))
		buf = appendU64(buf, h.LiveDiscWnd)
	} else {
		buf = append(buf, byte(OptLiveDiscWnd))
		buf = appendU32(buf, uint32(h.LiveDiscWnd))
	}
	if len(h.SuppMsgs) > 0 {
		buf = append(buf, byte(OptSuppMsgs), byte(len(h.SuppMsgs)))
		buf = append(buf, h.SuppMsgs...)
	}
	buf = append(buf, byte(optEnd))
	return buf
}

func appendOption(buf []byte, tag OptionTag, body []byte) []byte {
	buf = append(buf, byte(tag))
	return append(buf, body...)
}

// discWndIsWide reports whether LIVE_DISC_WND is carried as a 64-bit field
// for a given chunk-address encoding, per spec.md's "u32-or-u64 depending on
// CHUNK_ADDR" rule: the 64-bit chunk-address variants get a 64-bit window.
func discWndIsWide(e AddrEncoding) bool {
	return e == BYTE64 || e == BIN64 || e == CHUNK64
}

// DecodeHandshakeBody parses a handshake body: legacy if there is exactly a
// 4-byte channel id and nothing else, PPSPv1 otherwise. isLegacyHint lets
// the caller (which has already peeked at the surrounding message stream to
// tell legacy and PPSPv1 handshakes apart, per spec.md's "first packet"
// rule) skip straight to the right parse. It returns the number of bytes of
// buf the handshake body actually consumed, so the caller can continue
// decoding any further messages concatenated into the same datagram.
func DecodeHandshakeBody(buf []byte, isLegacyHint bool) (Handshake, int, error) {
	const op = "channel.DecodeHandshakeBody"
	if len(buf) < 4 {
		return Handshake{}, 0, xerr.Protocol(op, fmt.Errorf("truncated handshake: need at least 4 bytes for the channel id"))
	}
	h := Handshake{ChannelID: binary.BigEndian.Uint32(buf)}
	rest := buf[4:]
	if isLegacyHint || len(rest) == 0 {
		h.Version = VerLegacy
		h.MinVersion = VerLegacy
		h.ChunkAddr = BIN32
		h.HashFunc = hashtree.SHA1
		h.CIPM = CIPMMerkle
		h.LiveDiscWnd = LiveDiscWndAll
		return h, 4, nil
	}

	h.ChunkAddr = BIN32 // option-space default until CHUNK_ADDR itself is seen
	consumed := 4
	for {
		if len(rest) == 0 {
			return Handshake{}, 0, xerr.Protocol(op, fmt.Errorf("handshake options not terminated by POPT_END"))
		}
		tag := OptionTag(rest[0])
		rest = rest[1:]
		consumed++
		if tag == optEnd {
			return h, consumed, nil
		}
		before := len(rest)
		var err error
		rest, err = h.decodeOption(tag, rest)
		if err != nil {
			return Handshake{}, 0, err
		}
		consumed += before - len(rest)
	}
}

func (h *Handshake) decodeOption(tag OptionTag, buf []byte) ([]byte, error) {
	const op = "channel.decodeOption"
	need := func(n int) error {
		if len(buf) < n {
			return xerr.Protocol(op, fmt.Errorf("option %d truncated: need %d bytes, have %d", tag, n, len(buf)))
		}
		return nil
	}
	switch tag {
	case OptVersion:
		if err := need(1); err != nil {
			return nil, err
		}
		h.Version = Version(buf[0])
		return buf[1:], nil
	case OptMinVersion:
		if err := need(1); err != nil {
			return nil, err
		}
		h.MinVersion = Version(buf[0])
		return buf[1:], nil
	case OptSwarmID:
		if err := need(2); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
		if n > 1024 {
			return nil, xerr.Protocol(op, fmt.Errorf("swarm id length %d exceeds the 1024-byte maximum", n))
		}
		if err := need2(buf, n); err != nil {
			return nil, err
		}
		h.SwarmID = append([]byte(nil), buf[:n]...)
		return buf[n:], nil
	case OptContIntProt:
		if err := need(1); err != nil {
			return nil, err
		}
		h.CIPM = ContIntProt(buf[0])
		return buf[1:], nil
	case OptMerkleHashFunc:
		if err := need(1); err != nil {
			return nil, err
		}
		h.HashFunc = hashtree.HashFunc(buf[0])
		return buf[1:], nil
	case OptLiveSigAlg:
		if err := need(1); err != nil {
			return nil, err
		}
		h.LiveSigAlg = buf[0]
		return buf[1:], nil
	case OptChunkAddr:
		if err := need(1); err != nil {
			return nil, err
		}
		h.ChunkAddr = AddrEncoding(buf[0])
		return buf[1:], nil
	case OptLiveDiscWnd:
		if discWndIsWide(h.ChunkAddr) {
			if err := need(8); err != nil {
				return nil, err
			}
			h.LiveDiscWnd = binary.BigEndian.Uint64(buf)
			return buf[8:], nil
		}
		if err := need(4); err != nil {
			return nil, err
		}
		h.LiveDiscWnd = uint64(binary.BigEndian.Uint32(buf))
		return buf[4:], nil
	case OptSuppMsgs:
		if err := need(1); err != nil {
			return nil, err
		}
		n := int(buf[0])
		buf = buf[1:]
		if err := need2(buf, n); err != nil {
			return nil, err
		}
		h.SuppMsgs = append([]byte(nil), buf[:n]...)
		return buf[n:], nil
	default:
		return nil, xerr.Protocol(op, fmt.Errorf("unknown handshake option tag %d", tag))
	}
}

func need2(buf []byte, n int) error {
	if len(buf) < n {
		return xerr.Protocol("channel.decodeOption", fmt.Errorf("option body truncated: need %d bytes, have %d", n, len(buf)))
	}
	return nil
}

// PeekSwarmIdentity looks far enough into a first-contact datagram body
// (no channel has been built for it yet) to learn which swarm it names,
// without fully handshaking: a legacy connection names its swarm by the
// root hash its leading INTEGRITY message carries, a PPSPv1 connection
// names it by its HANDSHAKE's SWARM_ID option. Callers resolving a
// dispatcher.SwarmLookup use this to find the right transfer before a
// channel.Channel exists to do it themselves.
func PeekSwarmIdentity(body []byte) (swarmID []byte, legacy bool, err error) {
	const op = "channel.PeekSwarmIdentity"
	if len(body) == 0 {
		return nil, false, xerr.Protocol(op, fmt.Errorf("empty handshake datagram"))
	}
	if MsgID(body[0]) == MsgIntegrity {
		preCodec := codec{addr: BIN32, hashSize: hashtree.SHA1.Size()}
		msgs, _, err := decodeMessage(body, preCodec, false)
		if err != nil {
			return nil, true, err
		}
		im, ok := msgs[0].(IntegrityMsg)
		if !ok {
			return nil, true, xerr.Protocol(op, fmt.Errorf("leading legacy message must be INTEGRITY"))
		}
		return im.Hash, true, nil
	}
	if MsgID(body[0]) != MsgHandshake {
		return nil, false, xerr.Protocol(op, fmt.Errorf("first message on an unhandshaked channel must be HANDSHAKE"))
	}
	hs, _, err := DecodeHandshakeBody(body[1:], false)
	if err != nil {
		return nil, false, err
	}
	if len(hs.SwarmID) == 0 {
		return nil, false, xerr.Protocol(op, fmt.Errorf("PPSPv1 handshake missing a SWARM_ID option"))
	}
	return hs.SwarmID, false, nil
}
