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

// Package tracker implements an external-tracker client against the
// BitTorrent HTTP tracker protocol: announce a swarm's progress, get back a
// compact peer list. spec.md's §1 names an external tracker as a
// collaborator without specifying its wire format; original_source's
// exttrack.cpp is the concrete reference this package follows.
package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/xerr"
)

const (
	peerIDPrefix          = "-SW1000-"
	peerIDLength          = 20
	initialReportInterval = 30 * time.Second
)

// Progress is the swarm stats an announce request reports, supplied by the
// caller at Reconnect time since the tracker client itself holds no state
// about the swarm beyond its info hash.
type Progress struct {
	Uploaded, Downloaded, Left uint64
	// Complete reports whether the swarm finished since the last announce,
	// so the client can send the BEP 3 one-shot "completed" event.
	Complete bool
}

// Client announces one swarm to one BitTorrent-style HTTP tracker and
// reports back the peer list it receives. It implements
// transfer.TrackerClient's Reconnect() error.
type Client struct {
	url      string
	infoHash []byte
	peerID   [peerIDLength]byte
	port     int

	httpClient *http.Client

	progress func() Progress
	onPeers  func([]channel.Addr)

	interval         time.Duration
	reportedComplete bool
	startedSent      bool
}

// NewClient returns a tracker client for infoHash (a swarm's root hash, or
// its live public key), announcing itself on port and reporting progress
// via progress. onPeers is called with every peer address a successful
// announce returns.
func NewClient(trackerURL string, infoHash []byte, port int, progress func() Progress, onPeers func([]channel.Addr)) *Client {
	return &Client{
		url:        trackerURL,
		infoHash:   infoHash,
		peerID:     newPeerID(),
		port:       port,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		progress:   progress,
		onPeers:    onPeers,
		interval:   initialReportInterval,
	}
}

func newPeerID() [peerIDLength]byte {
	var id [peerIDLength]byte
	copy(id[:], peerIDPrefix)
	rand.Read(id[len(peerIDPrefix):])
	return id
}

// Reconnect implements transfer.TrackerClient: it announces once, updates
// the reporting interval tracker told us, and forwards any peers found.
func (c *Client) Reconnect() error {
	const op = "tracker.Client.Reconnect"
	event := ""
	if !c.startedSent {
		event = "started"
	}
	p := c.progress()
	if p.Complete && !c.reportedComplete {
		event = "completed"
	}

	peers, interval, err := c.announce(event, p)
	if err != nil {
		return xerr.Storage(op, err)
	}
	c.startedSent = true
	if p.Complete {
		c.reportedComplete = true
	}
	if interval > 0 {
		c.interval = interval
	}
	if c.onPeers != nil && len(peers) > 0 {
		c.onPeers(peers)
	}
	return nil
}

// Interval is the tracker's requested re-announce interval, for a caller
// that wants to pace Reconnect itself rather than rely on
// Transfer.TrackerReconnectIfAllowed's own fixed back-off.
func (c *Client) Interval() time.Duration { return c.interval }

func (c *Client) announce(event string, p Progress) ([]channel.Addr, time.Duration, error) {
	q := url.Values{}
	q.Set("info_hash", string(c.infoHash))
	q.Set("peer_id", string(c.peerID[:]))
	q.Set("port", strconv.Itoa(c.port))
	q.Set("uploaded", strconv.FormatUint(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatUint(p.Downloaded, 10))
	q.Set("left", strconv.FormatUint(p.Left, 10))
	q.Set("compact", "1")
	if event != "" {
		q.Set("event", event)
	}

	resp, err := c.httpClient.Get(c.url + "?" + q.Encode())
	if err != nil {
		return nil, 0, fmt.Errorf("contacting tracker: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading tracker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected tracker HTTP status %d", resp.StatusCode)
	}

	dict, _, err := decodeDict(body, 1) // body[0] is the leading 'd'
	if err != nil {
		return nil, 0, fmt.Errorf("parsing tracker response: %w", err)
	}
	if reason, ok := dict["failure reason"].(string); ok {
		return nil, 0, fmt.Errorf("tracker responded: %s", reason)
	}

	var interval time.Duration
	if iv, ok := dict["interval"].(int64); ok {
		interval = time.Duration(iv) * time.Second
	}

	var peers []channel.Addr
	if compact, ok := dict["peers"].(string); ok {
		peers = append(peers, decodeCompactIPv4([]byte(compact))...)
	}
	if compact, ok := dict["peers6"].(string); ok {
		peers = append(peers, decodeCompactIPv6([]byte(compact))...)
	}
	return peers, interval, nil
}

// decodeCompactIPv4 unpacks BEP 23's compact peer list: 4-byte IP, 2-byte
// big-endian port, repeated.
func decodeCompactIPv4(b []byte) []channel.Addr {
	var out []channel.Addr
	for i := 0; i+6 <= len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		out = append(out, channel.Addr{IP: ip, Port: int(port)})
	}
	return out
}

// decodeCompactIPv6 unpacks the IPv6 analogue: 16-byte IP, 2-byte port.
func decodeCompactIPv6(b []byte) []channel.Addr {
	var out []channel.Addr
	for i := 0; i+18 <= len(b); i += 18 {
		ip := make(net.IP, 16)
		copy(ip, b[i:i+16])
		port := binary.BigEndian.Uint16(b[i+16 : i+18])
		out = append(out, channel.Addr{IP: ip, Port: int(port)})
	}
	return out
}
