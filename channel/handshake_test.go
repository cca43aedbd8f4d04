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

	"github.com/tswift/tswift/hashtree"
)

func TestDefaultHandshakeSupported(t *testing.T) {
	if !Default().Supported() {
		t.Fatal("Default() handshake should be supported")
	}
	if !DefaultLegacy().Supported() {
		t.Fatal("DefaultLegacy() handshake should be supported")
	}
}

func TestHandshakeUnsupportedCombinations(t *testing.T) {
	base := Default()

	signAll := base
	signAll.CIPM = CIPMSignAll
	if signAll.Supported() {
		t.Error("SIGN_ALL content integrity protection should be unsupported")
	}

	sha256 := base
	sha256.HashFunc = hashtree.SHA256
	if sha256.Supported() {
		t.Error("non-SHA1 hash functions should be unsupported")
	}

	bin64 := base
	bin64.ChunkAddr = BIN64
	if bin64.Supported() {
		t.Error("BIN64 chunk addressing should be unsupported")
	}
}

func TestEncodeDecodeHandshakePPSPv1RoundTrip(t *testing.T) {
	h := Default()
	h.ChannelID = 0xCAFEBABE
	h.SwarmID = []byte("swarm-id-bytes")
	h.LiveDiscWnd = 1000

	body := EncodeHandshakeBody(h)
	got, n, err := DecodeHandshakeBody(body, false)
	if err != nil {
		t.Fatalf("DecodeHandshakeBody: %v", err)
	}
	if n != len(body) {
		t.Fatalf("DecodeHandshakeBody consumed %d bytes, want %d", n, len(body))
	}
	if got.ChannelID != h.ChannelID {
		t.Errorf("ChannelID = %#x, want %#x", got.ChannelID, h.ChannelID)
	}
	if string(got.SwarmID) != string(h.SwarmID) {
		t.Errorf("SwarmID = %q, want %q", got.SwarmID, h.SwarmID)
	}
	if got.ChunkAddr != h.ChunkAddr {
		t.Errorf("ChunkAddr = %v, want %v", got.ChunkAddr, h.ChunkAddr)
	}
	if got.LiveDiscWnd != h.LiveDiscWnd {
		t.Errorf("LiveDiscWnd = %d, want %d", got.LiveDiscWnd, h.LiveDiscWnd)
	}
}

func TestEncodeDecodeHandshakeLegacy(t *testing.T) {
	h := DefaultLegacy()
	h.ChannelID = 7
	body := EncodeHandshakeBody(h)
	if len(body) != 4 {
		t.Fatalf("legacy handshake body is %d bytes, want 4", len(body))
	}
	got, n, err := DecodeHandshakeBody(body, true)
	if err != nil {
		t.Fatalf("DecodeHandshakeBody: %v", err)
	}
	if n != 4 {
		t.Fatalf("consumed %d bytes, want 4", n)
	}
	if got.ChannelID != 7 || got.Version != VerLegacy || got.ChunkAddr != BIN32 {
		t.Fatalf("unexpected legacy handshake: %+v", got)
	}
}

func TestDecodeHandshakeMissingEnd(t *testing.T) {
	buf := appendU32(nil, 1)
	buf = append(buf, byte(OptVersion), byte(VerPPSPv1))
	// no POPT_END terminator
	_, _, err := DecodeHandshakeBody(buf, false)
	if err == nil {
		t.Fatal("expected an error for an option stream missing POPT_END")
	}
}

func TestDiscWndWidthFollowsChunkAddr(t *testing.T) {
	h := Default()
	h.ChunkAddr = BIN64
	h.LiveDiscWnd = 1 << 40
	// BIN64 itself is unsupported, but LIVE_DISC_WND width still follows
	// CHUNK_ADDR exactly as decoded, independent of Supported().
	body := EncodeHandshakeBody(h)
	got, _, err := DecodeHandshakeBody(body, false)
	if err != nil {
		t.Fatalf("DecodeHandshakeBody: %v", err)
	}
	if got.LiveDiscWnd != h.LiveDiscWnd {
		t.Errorf("LiveDiscWnd = %d, want %d", got.LiveDiscWnd, h.LiveDiscWnd)
	}
}
