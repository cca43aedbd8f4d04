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
	"net"
	"testing"
	"time"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/binmap"
	"github.com/tswift/tswift/hashtree"
)

// fakeTree is a minimal Tree double: enough bookkeeping to exercise
// Channel's send/receive paths without a real Merkle tree.
type fakeTree struct {
	ackOut    *binmap.Binmap
	chunkSize uint32
	hashes    map[bin.Bin]hashtree.Hash
	anchor    bin.Bin
	signed    bool
}

func newFakeTree(chunkSize uint32) *fakeTree {
	return &fakeTree{
		ackOut:    binmap.New(),
		chunkSize: chunkSize,
		hashes:    make(map[bin.Bin]hashtree.Hash),
		anchor:    bin.NONE,
	}
}

func (f *fakeTree) AckOut() *binmap.Binmap { return f.ackOut }
func (f *fakeTree) ChunkSize() uint32      { return f.chunkSize }
func (f *fakeTree) OfferHash(pos bin.Bin, h hashtree.Hash) error {
	f.hashes[pos] = h
	return nil
}
func (f *fakeTree) OfferData(pos bin.Bin, data []byte) (bool, error) {
	return true, f.ackOut.Set(pos)
}
func (f *fakeTree) HashAt(pos bin.Bin) (hashtree.Hash, bool) {
	h, ok := f.hashes[pos]
	return h, ok
}
func (f *fakeTree) AnchorFor(bin.Bin) bin.Bin      { return f.anchor }
func (f *fakeTree) Signed() bool                   { return f.signed }
func (f *fakeTree) Signature(bin.Bin) []byte       { return nil }

// fakeSource serves fixed chunk bytes for any bin, for DATA message tests.
type fakeSource struct{ data []byte }

func (s fakeSource) ReadChunk(bin.Bin) ([]byte, error) { return s.data, nil }

// noopPicker never has anything to offer; tests that need REQUESTs build
// the datagram bytes directly instead of relying on Send's hint path.
type noopPicker struct{}

func (noopPicker) Pick(*binmap.Binmap, uint64, time.Time, uint32) (bin.Bin, error) {
	return bin.NONE, nil
}
func (noopPicker) Randomize(uint64)   {}
func (noopPicker) LimitRange(bin.Bin) {}

func testAddr(port int) Addr {
	return Addr{IP: net.ParseIP("192.168.1.1"), Port: port}
}

func newTestChannel(localID uint32, peer Addr, hsOut Handshake) *Channel {
	return NewChannel(localID, peer, hsOut, newFakeTree(1024), fakeSource{data: []byte("x")}, noopPicker{}, nil, true, nil)
}

func TestIsSelfConnection(t *testing.T) {
	c := newTestChannel(5, testAddr(6881), Default())
	c.handshaked = true
	c.hsIn = Handshake{ChannelID: 5}
	if !c.IsSelfConnection() {
		t.Fatal("expected a handshake naming our own local id to be detected as a self-connection")
	}
	c.hsIn.ChannelID = 6
	if c.IsSelfConnection() {
		t.Fatal("a handshake naming a different id should not be a self-connection")
	}
}

func TestDuplicateOfPrivateAddressTieBreak(t *testing.T) {
	existing := newTestChannel(1, testAddr(6881), Default())
	existing.LocalPort = 6881

	lowerPort := newTestChannel(2, testAddr(6000), Default())
	if !DuplicateOf(existing, lowerPort) {
		t.Fatal("a second attempt from the same private address with a lower port should be a duplicate")
	}

	higherPort := newTestChannel(2, testAddr(7000), Default())
	if DuplicateOf(existing, higherPort) {
		t.Fatal("a second attempt with a higher port should not be treated as a duplicate")
	}

	publicExisting := newTestChannel(1, Addr{IP: net.ParseIP("8.8.8.8"), Port: 6881}, Default())
	publicExisting.LocalPort = 6881
	publicCand := newTestChannel(2, Addr{IP: net.ParseIP("8.8.8.8"), Port: 1}, Default())
	if DuplicateOf(publicExisting, publicCand) {
		t.Fatal("the tie-break only applies to private/loopback addresses")
	}
}

func TestAckTimeoutFormula(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), Default())

	c.rttAvg = 100 * time.Millisecond
	c.devAvg = 10 * time.Millisecond // below the 50ms floor
	if got, want := c.ackTimeout(), 100*time.Millisecond+4*50*time.Millisecond; got != want {
		t.Errorf("ackTimeout() = %v, want %v (dev floor applied)", got, want)
	}

	c.rttAvg = 20 * time.Second
	c.devAvg = 5 * time.Second
	if got := c.ackTimeout(); got != maxAckTimeout {
		t.Errorf("ackTimeout() = %v, want the %v ceiling", got, maxAckTimeout)
	}
}

func TestSweepMovesStaleSendsAndDiscardsOld(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), Default())
	c.rttAvg = 100 * time.Millisecond
	c.devAvg = 0

	t0 := time.Unix(1000, 0)
	c.dataOut = []dataOutEntry{{pos: bin.Leaf(0), sent: t0}}

	resend := c.sweep(t0.Add(c.ackTimeout() + time.Millisecond))
	if len(resend) != 1 || resend[0] != bin.Leaf(0) {
		t.Fatalf("sweep() = %v, want a single resend of leaf 0", resend)
	}
	if len(c.dataOut) != 0 {
		t.Fatalf("dataOut should be empty after the entry moved to the timeout queue")
	}
	if len(c.dataOutTmo) != 1 {
		t.Fatalf("dataOutTmo should retain the entry until maxPossibleRTT elapses")
	}

	resend = c.sweep(t0.Add(maxPossibleRTT + time.Second))
	if len(resend) != 0 {
		t.Fatalf("sweep() after maxPossibleRTT = %v, want the entry discarded", resend)
	}
	if len(c.dataOutTmo) != 0 {
		t.Fatal("dataOutTmo should be empty once the entry exceeds maxPossibleRTT")
	}
}

func TestOnAckClearsDataOutAndUpdatesRTT(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), Default())
	t0 := time.Unix(2000, 0)
	c.dataOut = []dataOutEntry{{pos: bin.Leaf(0), sent: t0}}
	c.rttAvg = 0
	c.devAvg = 0

	c.onAck(bin.Leaf(0), 0, t0.Add(50*time.Millisecond))

	if len(c.dataOut) != 0 {
		t.Fatal("onAck should remove the matching entry from dataOut")
	}
	if c.rttAvg != 50*time.Millisecond {
		t.Errorf("rttAvg = %v, want the first RTT sample taken verbatim (50ms)", c.rttAvg)
	}
}

func TestRecvHandshakeLegacyEstablishes(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), DefaultLegacy())

	var body []byte
	body = append(body, byte(MsgIntegrity))
	body = appendU32(body, 0)
	body = append(body, make([]byte, hashtree.SHA1.Size())...)
	body = append(body, byte(MsgHandshake))
	body = appendU32(body, 42)

	if err := c.Recv(body, time.Now()); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !c.Handshaked() {
		t.Fatal("expected the legacy handshake to establish the channel")
	}
	if c.RemoteID != 42 {
		t.Errorf("RemoteID = %d, want 42", c.RemoteID)
	}
	if !c.legacyHandshake {
		t.Error("expected legacyHandshake to be recorded true")
	}
}

func TestRecvHandshakeUnsupportedOptionRejected(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), Default())

	hs := Default()
	hs.ChannelID = 1
	hs.CIPM = CIPMSignAll
	var body []byte
	body = append(body, byte(MsgHandshake))
	body = append(body, EncodeHandshakeBody(hs)...)

	if err := c.Recv(body, time.Now()); err == nil {
		t.Fatal("expected an error for a handshake offering an unsupported option combination")
	}
	if c.Handshaked() {
		t.Fatal("an unsupported handshake must not establish the channel")
	}
}

func TestSendHandshakeBeforeEstablished(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), Default())
	msgs, err := c.Send(time.Now())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Send() before handshake = %d messages, want 1", len(msgs))
	}
	if _, ok := msgs[0].(HandshakeMsg); !ok {
		t.Fatalf("Send()[0] = %T, want HandshakeMsg", msgs[0])
	}
}

func TestCloseEmitsZeroChannelHandshake(t *testing.T) {
	c := newTestChannel(1, testAddr(6881), Default())
	msgs := c.Close()
	if !c.ScheduledForDeletion() {
		t.Fatal("Close should mark the channel scheduled for deletion")
	}
	hm, ok := msgs[0].(HandshakeMsg)
	if !ok || hm.HS.ChannelID != 0 {
		t.Fatalf("Close() = %+v, want a zero-channel-id HandshakeMsg", msgs[0])
	}
}
