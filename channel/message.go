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

// Package channel implements one peer-to-peer virtual connection: handshake
// negotiation, wire message encode/decode, the retransmission and
// reverse-PEX policies layered on top, and self-connection/duplicate
// detection at handshake time.
package channel

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/xerr"
)

// MsgID is the one-byte message type tag that opens every message body.
type MsgID uint8

const (
	MsgHandshake       MsgID = 0
	MsgData            MsgID = 1
	MsgAck             MsgID = 2
	MsgHave            MsgID = 3
	MsgIntegrity       MsgID = 4
	MsgPexResv4        MsgID = 5
	MsgPexReq          MsgID = 6
	MsgSignedIntegrity MsgID = 7
	MsgRequest         MsgID = 8
	MsgCancel          MsgID = 9
	MsgChoke           MsgID = 10
	MsgUnchoke         MsgID = 11
	MsgPexResv6        MsgID = 12
)

func (id MsgID) String() string {
	switch id {
	case MsgHandshake:
		return "HANDSHAKE"
	case MsgData:
		return "DATA"
	case MsgAck:
		return "ACK"
	case MsgHave:
		return "HAVE"
	case MsgIntegrity:
		return "INTEGRITY"
	case MsgPexResv4:
		return "PEX_RESv4"
	case MsgPexReq:
		return "PEX_REQ"
	case MsgSignedIntegrity:
		return "SIGNED_INTEGRITY"
	case MsgRequest:
		return "REQUEST"
	case MsgCancel:
		return "CANCEL"
	case MsgChoke:
		return "CHOKE"
	case MsgUnchoke:
		return "UNCHOKE"
	case MsgPexResv6:
		return "PEX_RESv6"
	default:
		return fmt.Sprintf("MsgID(%d)", uint8(id))
	}
}

// Msg is any decoded wire message. Every concrete message type below
// implements it.
type Msg interface {
	ID() MsgID
}

type HandshakeMsg struct{ HS Handshake }

func (HandshakeMsg) ID() MsgID { return MsgHandshake }

// DataMsg carries one chunk. Timestamp is the PPSPv1 source send time and
// is zero on a legacy connection, where it is never sent.
type DataMsg struct {
	Pos       bin.Bin
	Timestamp uint64
	Data      []byte
}

func (DataMsg) ID() MsgID { return MsgData }

// AckMsg acknowledges the last chunk(s) decoded to Pos, carrying the
// one-way delay sample the sender uses to drive LEDBAT.
type AckMsg struct {
	Pos         bin.Bin
	OneWayDelay time.Duration
}

func (AckMsg) ID() MsgID { return MsgAck }

type HaveMsg struct{ Pos bin.Bin }

func (HaveMsg) ID() MsgID { return MsgHave }

// IntegrityMsg carries one hash of a static tree's uncle chain.
type IntegrityMsg struct {
	Pos  bin.Bin
	Hash []byte
}

func (IntegrityMsg) ID() MsgID { return MsgIntegrity }

// SignedIntegrityMsg carries a live tree's munro (or an uncle of one) plus,
// when Pos is itself a munro, the source's signature over it.
type SignedIntegrityMsg struct {
	Pos       bin.Bin
	Timestamp uint64
	Signature []byte
	Hash      []byte
}

func (SignedIntegrityMsg) ID() MsgID { return MsgSignedIntegrity }

// PexResv4Msg and PexResv6Msg forward a peer address learned from another
// channel (reverse-PEX only, see pex.go).
type PexResv4Msg struct {
	IP   [4]byte
	Port uint16
}

func (PexResv4Msg) ID() MsgID { return MsgPexResv4 }

type PexResv6Msg struct {
	IP   [16]byte
	Port uint16
}

func (PexResv6Msg) ID() MsgID { return MsgPexResv6 }

type PexReqMsg struct{}

func (PexReqMsg) ID() MsgID { return MsgPexReq }

type RequestMsg struct{ Pos bin.Bin }

func (RequestMsg) ID() MsgID { return MsgRequest }

type CancelMsg struct{ Pos bin.Bin }

func (CancelMsg) ID() MsgID { return MsgCancel }

type ChokeMsg struct{}

func (ChokeMsg) ID() MsgID { return MsgChoke }

type UnchokeMsg struct{}

func (UnchokeMsg) ID() MsgID { return MsgUnchoke }

// codec bundles the per-channel parameters every message's body encoding
// depends on: the negotiated chunk-address encoding, the chunk size (for
// BYTE64 and for bounding a DATA body), whether timestamps ride along with
// DATA (PPSPv1 only), and the Merkle hash size (for INTEGRITY/
// SIGNED_INTEGRITY bodies).
type codec struct {
	addr       AddrEncoding
	chunkSize  uint32
	timestamps bool
	hashSize   int
	sigSize    int
}

// encodeMessage appends one message's wire form to buf.
func encodeMessage(buf []byte, m Msg, c codec) ([]byte, error) {
	buf = append(buf, byte(m.ID()))
	switch v := m.(type) {
	case HandshakeMsg:
		return append(buf, EncodeHandshakeBody(v.HS)...), nil
	case DataMsg:
		buf = EncodeAddr(buf, c.addr, v.Pos, c.chunkSize)
		if c.timestamps {
			buf = appendU64(buf, v.Timestamp)
		}
		return append(buf, v.Data...), nil
	case AckMsg:
		buf = EncodeAddr(buf, c.addr, v.Pos, c.chunkSize)
		return appendU64(buf, uint64(v.OneWayDelay.Microseconds())), nil
	case HaveMsg:
		return EncodeAddr(buf, c.addr, v.Pos, c.chunkSize), nil
	case IntegrityMsg:
		buf = EncodeAddr(buf, c.addr, v.Pos, c.chunkSize)
		return append(buf, v.Hash...), nil
	case SignedIntegrityMsg:
		buf = EncodeAddr(buf, c.addr, v.Pos, c.chunkSize)
		buf = appendU64(buf, v.Timestamp)
		if len(v.Signature) > 0 {
			return append(buf, v.Signature...), nil
		}
		return append(buf, v.Hash...), nil
	case PexResv4Msg:
		buf = append(buf, v.IP[:]...)
		return appendU16(buf, v.Port), nil
	case PexResv6Msg:
		buf = append(buf, v.IP[:]...)
		return appendU16(buf, v.Port), nil
	case PexReqMsg:
		return buf, nil
	case RequestMsg:
		return EncodeAddr(buf, c.addr, v.Pos, c.chunkSize), nil
	case CancelMsg:
		return EncodeAddr(buf, c.addr, v.Pos, c.chunkSize), nil
	case ChokeMsg:
		return buf, nil
	case UnchokeMsg:
		return buf, nil
	default:
		return nil, xerr.Protocol("channel.encodeMessage", fmt.Errorf("unknown message type %T", m))
	}
}

// decodeMessage consumes exactly one message from buf, returning every bin
// it denoted as separate Msg values when an address decodes to more than
// one bin (a CHUNK-range HAVE/ACK/REQUEST/CANCEL, per spec.md's chunk-range
// decomposition).
func decodeMessage(buf []byte, c codec, legacyHandshake bool) ([]Msg, []byte, error) {
	const op = "channel.decodeMessage"
	if len(buf) == 0 {
		return nil, nil, xerr.Protocol(op, fmt.Errorf("empty message"))
	}
	id := MsgID(buf[0])
	buf = buf[1:]
	switch id {
	case MsgHandshake:
		hs, n, err := DecodeHandshakeBody(buf, legacyHandshake)
		if err != nil {
			return nil, nil, err
		}
		return []Msg{HandshakeMsg{HS: hs}}, buf[n:], nil
	case MsgData:
		bins, rest, err := DecodeAddr(buf, c.addr, c.chunkSize)
		if err != nil {
			return nil, nil, err
		}
		if len(bins) != 1 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("DATA must address exactly one bin"))
		}
		var ts uint64
		if c.timestamps {
			if len(rest) < 8 {
				return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated DATA timestamp"))
			}
			ts = binary.BigEndian.Uint64(rest)
			rest = rest[8:]
		}
		chunkLen := int(c.chunkSize)
		if chunkLen == 0 || chunkLen > len(rest) {
			chunkLen = len(rest)
		}
		data := append([]byte(nil), rest[:chunkLen]...)
		return []Msg{DataMsg{Pos: bins[0], Timestamp: ts, Data: data}}, rest[chunkLen:], nil
	case MsgAck:
		bins, rest, err := decodeAddrList(buf, c)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < 8 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated ACK delay"))
		}
		owd := time.Duration(binary.BigEndian.Uint64(rest)) * time.Microsecond
		rest = rest[8:]
		out := make([]Msg, len(bins))
		for i, b := range bins {
			out[i] = AckMsg{Pos: b, OneWayDelay: owd}
		}
		return out, rest, nil
	case MsgHave:
		bins, rest, err := decodeAddrList(buf, c)
		if err != nil {
			return nil, nil, err
		}
		out := make([]Msg, len(bins))
		for i, b := range bins {
			out[i] = HaveMsg{Pos: b}
		}
		return out, rest, nil
	case MsgIntegrity:
		bins, rest, err := decodeAddrList(buf, c)
		if err != nil {
			return nil, nil, err
		}
		if len(bins) != 1 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("INTEGRITY must address exactly one bin"))
		}
		if len(rest) < c.hashSize {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated INTEGRITY hash"))
		}
		h := append([]byte(nil), rest[:c.hashSize]...)
		return []Msg{IntegrityMsg{Pos: bins[0], Hash: h}}, rest[c.hashSize:], nil
	case MsgSignedIntegrity:
		bins, rest, err := decodeAddrList(buf, c)
		if err != nil {
			return nil, nil, err
		}
		if len(bins) != 1 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("SIGNED_INTEGRITY must address exactly one bin"))
		}
		if len(rest) < 8 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated SIGNED_INTEGRITY timestamp"))
		}
		ts := binary.BigEndian.Uint64(rest)
		rest = rest[8:]
		if bins[0].IsBase() || c.sigSize == 0 || len(rest) < c.sigSize {
			// An uncle carries a plain hash, not a signature.
			if len(rest) < c.hashSize {
				return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated SIGNED_INTEGRITY hash"))
			}
			h := append([]byte(nil), rest[:c.hashSize]...)
			return []Msg{SignedIntegrityMsg{Pos: bins[0], Timestamp: ts, Hash: h}}, rest[c.hashSize:], nil
		}
		sig := append([]byte(nil), rest[:c.sigSize]...)
		return []Msg{SignedIntegrityMsg{Pos: bins[0], Timestamp: ts, Signature: sig}}, rest[c.sigSize:], nil
	case MsgPexResv4:
		if len(buf) < 6 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated PEX_RESv4"))
		}
		var m PexResv4Msg
		copy(m.IP[:], buf[:4])
		m.Port = binary.BigEndian.Uint16(buf[4:6])
		return []Msg{m}, buf[6:], nil
	case MsgPexResv6:
		if len(buf) < 18 {
			return nil, nil, xerr.Protocol(op, fmt.Errorf("truncated PEX_RESv6"))
		}
		var m PexResv6Msg
		copy(m.IP[:], buf[:16])
		m.Port = binary.BigEndian.Uint16(buf[16:18])
		return []Msg{m}, buf[18:], nil
	case MsgPexReq:
		return []Msg{PexReqMsg{}}, buf, nil
	case MsgRequest:
		bins, rest, err := decodeAddrList(buf, c)
		if err != nil {
			return nil, nil, err
		}
		out := make([]Msg, len(bins))
		for i, b := range bins {
			out[i] = RequestMsg{Pos: b}
		}
		return out, rest, nil
	case MsgCancel:
		bins, rest, err := decodeAddrList(buf, c)
		if err != nil {
			return nil, nil, err
		}
		out := make([]Msg, len(bins))
		for i, b := range bins {
			out[i] = CancelMsg{Pos: b}
		}
		return out, rest, nil
	case MsgChoke:
		return []Msg{ChokeMsg{}}, buf, nil
	case MsgUnchoke:
		return []Msg{UnchokeMsg{}}, buf, nil
	default:
		return nil, nil, xerr.Protocol(op, fmt.Errorf("unknown message id %d", id))
	}
}

func decodeAddrList(buf []byte, c codec) ([]bin.Bin, []byte, error) {
	return DecodeAddr(buf, c.addr, c.chunkSize)
}

// DecodeDatagram decodes every message in a channel's post-routing datagram
// body (the remote_channel_id prefix has already been stripped by the
// dispatcher). Per spec.md, a datagram is rejected outright if it exceeds
// maxDatagram bytes before any decoding is attempted.
func DecodeDatagram(body []byte, c codec, legacyHandshake bool, maxDatagram int) ([]Msg, error) {
	if len(body) > maxDatagram {
		return nil, xerr.Protocol("channel.DecodeDatagram", fmt.Errorf("datagram of %d bytes exceeds the %d-byte receive MTU", len(body), maxDatagram))
	}
	var out []Msg
	for len(body) > 0 {
		msgs, rest, err := decodeMessage(body, c, legacyHandshake && len(out) == 0)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
		body = rest
	}
	return out, nil
}

// EncodeDatagram serializes msgs in order into one datagram body.
func EncodeDatagram(msgs []Msg, c codec) ([]byte, error) {
	var buf []byte
	for _, m := range msgs {
		var err error
		buf, err = encodeMessage(buf, m, c)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
