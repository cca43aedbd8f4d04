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

// Package uri parses and formats tswift:// swarm URIs:
//
//	tswift://<tracker>/<swarm-id-hex>[/<filename>][?k=v&…]
//
// original_source/swift.h names the scheme (SWIFT_URI_SCHEME) and
// httpgw.cpp's ParseURI carries the legacy "$chunksize@duration" path
// modifiers this package generalizes into ordinary query parameters, one
// per recognised key.
package uri

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/hashtree"
)

// Scheme is the URI scheme a SwarmURI parses and formats.
const Scheme = "tswift"

// SwarmURI is a parsed tswift:// URI. Every field beyond Tracker, SwarmID
// and Filename corresponds to one recognised query key; a field holds its
// zero value when the URI carried no matching key.
type SwarmURI struct {
	Tracker  string // host[:port] between "tswift://" and the swarm id
	SwarmID  []byte // swarm-id-hex, decoded
	Filename string // optional path segment after the swarm id

	Version         channel.Version     // v
	CIPM            channel.ContIntProt // cp
	HashFunc        hashtree.HashFunc   // hf
	LiveSigAlg      uint8               // ls
	ChunkAddr       channel.AddrEncoding // ca
	LiveDiscWnd     uint64              // ld
	ChunkSize       uint32              // cs
	ContentLength   int64               // cl
	Duration        int64               // cd, -1 = live
	ExternalTracker string              // et
	MIMEType        string              // mt
	InjectorAddr    string              // ia
	BitTorrent      string              // bt

	hasVersion, hasCIPM, hasHashFunc, hasLiveSigAlg, hasChunkAddr bool
	hasLiveDiscWnd, hasChunkSize, hasContentLength, hasDuration   bool
}

// Parse decodes a tswift:// URI. The swarm id segment must be valid hex;
// every other component is optional.
func Parse(raw string) (*SwarmURI, error) {
	const op = "uri.Parse"
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("%s: unrecognised scheme %q, want %q", op, u.Scheme, Scheme)
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return nil, fmt.Errorf("%s: missing swarm id", op)
	}
	swarmID, err := hex.DecodeString(segs[0])
	if err != nil {
		return nil, fmt.Errorf("%s: malformed swarm id %q: %w", op, segs[0], err)
	}

	out := &SwarmURI{
		Tracker: u.Host,
		SwarmID: swarmID,
	}
	if len(segs) > 1 {
		out.Filename = strings.Join(segs[1:], "/")
	}

	q := u.Query()
	if v := q.Get("v"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: bad v= value %q: %w", op, v, err)
		}
		out.Version, out.hasVersion = channel.Version(n), true
	}
	if v := q.Get("cp"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: bad cp= value %q: %w", op, v, err)
		}
		out.CIPM, out.hasCIPM = channel.ContIntProt(n), true
	}
	if v := q.Get("hf"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: bad hf= value %q: %w", op, v, err)
		}
		out.HashFunc, out.hasHashFunc = hashtree.HashFunc(n), true
	}
	if v := q.Get("ls"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: bad ls= value %q: %w", op, v, err)
		}
		out.LiveSigAlg, out.hasLiveSigAlg = uint8(n), true
	}
	if v := q.Get("ca"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: bad ca= value %q: %w", op, v, err)
		}
		out.ChunkAddr, out.hasChunkAddr = channel.AddrEncoding(n), true
	}
	if v := q.Get("ld"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad ld= value %q: %w", op, v, err)
		}
		out.LiveDiscWnd, out.hasLiveDiscWnd = n, true
	}
	if v := q.Get("cs"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: bad cs= value %q: %w", op, v, err)
		}
		out.ChunkSize, out.hasChunkSize = uint32(n), true
	}
	if v := q.Get("cl"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad cl= value %q: %w", op, v, err)
		}
		out.ContentLength, out.hasContentLength = n, true
	}
	if v := q.Get("cd"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad cd= value %q: %w", op, v, err)
		}
		out.Duration, out.hasDuration = n, true
	}
	out.ExternalTracker = q.Get("et")
	out.MIMEType = q.Get("mt")
	out.InjectorAddr = q.Get("ia")
	out.BitTorrent = q.Get("bt")

	return out, nil
}

// IsLive reports whether cd was present and set to -1, the table's encoding
// for "this swarm has no fixed duration".
func (s *SwarmURI) IsLive() bool {
	return s.hasDuration && s.Duration == -1
}

// String reassembles the URI, omitting any query key whose field was never
// set by Parse or explicitly requested via the With* setters below.
func (s *SwarmURI) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(s.Tracker)
	b.WriteByte('/')
	b.WriteString(hex.EncodeToString(s.SwarmID))
	if s.Filename != "" {
		b.WriteByte('/')
		b.WriteString(s.Filename)
	}

	q := url.Values{}
	if s.hasVersion {
		q.Set("v", strconv.FormatUint(uint64(s.Version), 10))
	}
	if s.hasCIPM {
		q.Set("cp", strconv.FormatUint(uint64(s.CIPM), 10))
	}
	if s.hasHashFunc {
		q.Set("hf", strconv.FormatUint(uint64(s.HashFunc), 10))
	}
	if s.hasLiveSigAlg {
		q.Set("ls", strconv.FormatUint(uint64(s.LiveSigAlg), 10))
	}
	if s.hasChunkAddr {
		q.Set("ca", strconv.FormatUint(uint64(s.ChunkAddr), 10))
	}
	if s.hasLiveDiscWnd {
		q.Set("ld", strconv.FormatUint(s.LiveDiscWnd, 10))
	}
	if s.hasChunkSize {
		q.Set("cs", strconv.FormatUint(uint64(s.ChunkSize), 10))
	}
	if s.hasContentLength {
		q.Set("cl", strconv.FormatInt(s.ContentLength, 10))
	}
	if s.hasDuration {
		q.Set("cd", strconv.FormatInt(s.Duration, 10))
	}
	if s.ExternalTracker != "" {
		q.Set("et", s.ExternalTracker)
	}
	if s.MIMEType != "" {
		q.Set("mt", s.MIMEType)
	}
	if s.InjectorAddr != "" {
		q.Set("ia", s.InjectorAddr)
	}
	if s.BitTorrent != "" {
		q.Set("bt", s.BitTorrent)
	}
	if encoded := q.Encode(); encoded != "" {
		b.WriteByte('?')
		b.WriteString(encoded)
	}
	return b.String()
}

// WithChunkSize sets cs and marks it present, for a caller building a URI
// programmatically (e.g. to advertise a freshly created live swarm).
func (s *SwarmURI) WithChunkSize(n uint32) *SwarmURI {
	s.ChunkSize, s.hasChunkSize = n, true
	return s
}

// WithContentLength sets cl and marks it present.
func (s *SwarmURI) WithContentLength(n int64) *SwarmURI {
	s.ContentLength, s.hasContentLength = n, true
	return s
}

// WithDuration sets cd and marks it present; pass -1 for a live swarm.
func (s *SwarmURI) WithDuration(n int64) *SwarmURI {
	s.Duration, s.hasDuration = n, true
	return s
}

// WithCIPM sets cp and marks it present.
func (s *SwarmURI) WithCIPM(cipm channel.ContIntProt) *SwarmURI {
	s.CIPM, s.hasCIPM = cipm, true
	return s
}
