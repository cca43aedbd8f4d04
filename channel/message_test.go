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
	"testing"
	"time"

	"github.com/tswift/tswift/bin"
)

func testCodec() codec {
	return codec{addr: BIN32, chunkSize: 1024, timestamps: false, hashSize: 20, sigSize: 65}
}

func TestEncodeDecodeDataMessage(t *testing.T) {
	c := testCodec()
	msg := DataMsg{Pos: bin.Leaf(3), Data: []byte("hello chunk")}
	buf, err := EncodeDatagram([]Msg{msg}, c)
	if err != nil {
		t.Fatalf("EncodeDatagram: %v", err)
	}
	got, err := DecodeDatagram(buf, c, false, DefaultMTU)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(got))
	}
	dm, ok := got[0].(DataMsg)
	if !ok {
		t.Fatalf("decoded %T, want DataMsg", got[0])
	}
	if dm.Pos != msg.Pos || string(dm.Data) != string(msg.Data) {
		t.Fatalf("decoded %+v, want %+v", dm, msg)
	}
}

func TestEncodeDecodeHaveRangeExpandsToMultipleMsgs(t *testing.T) {
	c := testCodec()
	c.addr = CHUNK32
	// [1,3] is not power-of-two aligned: it decomposes into more than one
	// covering bin, so a single HAVE's CHUNK32 range expands into several
	// HaveMsg values on decode.
	buf := []byte{byte(MsgHave)}
	buf = appendU32(buf, 1)
	buf = appendU32(buf, 3)
	got, err := DecodeDatagram(buf, c, false, DefaultMTU)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	want := bin.DecomposeRange(1, 3)
	if len(got) != len(want) {
		t.Fatalf("decoded %d HaveMsgs for range [1,3], want %d", len(got), len(want))
	}
	for i, m := range got {
		hm, ok := m.(HaveMsg)
		if !ok {
			t.Fatalf("got[%d] = %T, want HaveMsg", i, m)
		}
		if hm.Pos != want[i] {
			t.Errorf("got[%d].Pos = %v, want %v", i, hm.Pos, want[i])
		}
	}
}

func TestEncodeDecodeAckMessage(t *testing.T) {
	c := testCodec()
	msg := AckMsg{Pos: bin.Leaf(9), OneWayDelay: 42 * time.Millisecond}
	buf, err := EncodeDatagram([]Msg{msg}, c)
	if err != nil {
		t.Fatalf("EncodeDatagram: %v", err)
	}
	got, err := DecodeDatagram(buf, c, false, DefaultMTU)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	am := got[0].(AckMsg)
	if am.Pos != msg.Pos {
		t.Fatalf("Pos = %v, want %v", am.Pos, msg.Pos)
	}
	if am.OneWayDelay != msg.OneWayDelay {
		t.Fatalf("OneWayDelay = %v, want %v (microsecond-truncated)", am.OneWayDelay, msg.OneWayDelay)
	}
}

func TestDecodeDatagramRejectsOversized(t *testing.T) {
	c := testCodec()
	buf := make([]byte, 100)
	_, err := DecodeDatagram(buf, c, false, 10)
	if err == nil {
		t.Fatal("expected an error decoding an over-MTU datagram")
	}
}

func TestDecodeDatagramRejectsUnknownMessageID(t *testing.T) {
	c := testCodec()
	_, err := DecodeDatagram([]byte{200}, c, false, DefaultMTU)
	if err == nil {
		t.Fatal("expected an error decoding an unknown message id")
	}
}

func TestEncodeDecodeChokeUnchoke(t *testing.T) {
	c := testCodec()
	buf, err := EncodeDatagram([]Msg{ChokeMsg{}, UnchokeMsg{}}, c)
	if err != nil {
		t.Fatalf("EncodeDatagram: %v", err)
	}
	got, err := DecodeDatagram(buf, c, false, DefaultMTU)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d messages, want 2", len(got))
	}
	if _, ok := got[0].(ChokeMsg); !ok {
		t.Errorf("got[0] = %T, want ChokeMsg", got[0])
	}
	if _, ok := got[1].(UnchokeMsg); !ok {
		t.Errorf("got[1] = %T, want UnchokeMsg", got[1])
	}
}

func TestEncodeDecodeHandshakeThenIntegrity(t *testing.T) {
	c := testCodec()
	hs := Default()
	hs.ChannelID = 99
	integrity := IntegrityMsg{Pos: bin.Leaf(0), Hash: make([]byte, 20)}
	buf, err := EncodeDatagram([]Msg{HandshakeMsg{HS: hs}, integrity}, c)
	if err != nil {
		t.Fatalf("EncodeDatagram: %v", err)
	}
	got, err := DecodeDatagram(buf, c, false, DefaultMTU)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d messages, want 2", len(got))
	}
	hm, ok := got[0].(HandshakeMsg)
	if !ok || hm.HS.ChannelID != hs.ChannelID {
		t.Fatalf("got[0] = %+v, want HandshakeMsg{ChannelID: %d}", got[0], hs.ChannelID)
	}
	if _, ok := got[1].(IntegrityMsg); !ok {
		t.Fatalf("got[1] = %T, want IntegrityMsg", got[1])
	}
}
