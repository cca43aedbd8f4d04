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

// Package statsapi exposes a minimal read-only HTTP view of every swarm a
// runtime.Runtime has open: overall progress, leecher/seeder counts and
// per-swarm peer lists. It stands in for original_source's
// statsgw.cpp/httpgw.cpp status pages, but as JSON for a programmatic
// dashboard rather than the original's hand-written HTML.
package statsapi

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/tswift/tswift/config"
	"github.com/tswift/tswift/log"
	"github.com/tswift/tswift/runtime"
	"github.com/tswift/tswift/transfer"
)

// Server serves the stats endpoints over HTTP.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
}

// SwarmStats is one swarm's /stats entry.
type SwarmStats struct {
	TD        int64  `json:"td"`
	SwarmID   string `json:"swarm_id"`
	Size      uint64 `json:"size"`
	Complete  uint64 `json:"complete"`
	Leechers  int    `json:"leechers"`
	Seeders   int    `json:"seeders"`
	DownSpeed int64  `json:"down_speed_bps"`
	UpSpeed   int64  `json:"up_speed_bps"`
}

// PeerStats is one channel's /peers or /channels entry.
type PeerStats struct {
	TD      int64  `json:"td"`
	Channel uint32 `json:"channel_id"`
	Addr    string `json:"addr"`
	Ours    bool   `json:"dialed_by_us"`
}

// New wraps rt with HTTP handlers for /stats, /peers and /channels, behind
// CORS rules permissive enough for a browser-based dashboard served from a
// different origin — matching the original's webUI, which polled the same
// kind of endpoint cross-origin from a local player process.
func New(rt *runtime.Runtime, allowedOrigins []string) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt}
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/channels", s.handlePeers)

	opts := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}
	if len(allowedOrigins) == 0 {
		// rs/cors reads an empty origin list as "allow every origin".
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	c := cors.New(opts)
	s.srv = &http.Server{Handler: c.Handler(mux)}
	return s
}

// NewFromConfig builds a Server from a process Config's StatsAPIAddr/
// StatsAPICors fields, returning ("", nil, nil) when StatsAPIAddr is unset
// (the stats endpoint is opt-in). StatsAPICors is a comma-separated
// allowed-origin list; an empty value disables cross-origin requests
// entirely rather than defaulting to "*".
func NewFromConfig(rt *runtime.Runtime, cfg *config.Config) (addr string, s *Server, err error) {
	if cfg.StatsAPIAddr == "" {
		return "", nil, nil
	}
	var origins []string
	if cfg.StatsAPICors != "" {
		origins = strings.Split(cfg.StatsAPICors, ",")
	}
	return cfg.StatsAPIAddr, New(rt, origins), nil
}

// Serve blocks accepting connections on l until the listener is closed.
func (s *Server) Serve(l net.Listener) error {
	log.Info("statsapi: serving", "addr", l.Addr())
	return s.srv.Serve(l)
}

// Close shuts the HTTP server down.
func (s *Server) Close() error { return s.srv.Close() }

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := make([]SwarmStats, 0)
	for _, h := range s.rt.Handles() {
		out = append(out, SwarmStats{
			TD:        int64(h.TD()),
			SwarmID:   hex.EncodeToString(h.GetSwarmID()),
			Size:      h.Size(),
			Complete:  h.Complete(),
			Leechers:  h.NumLeechers(),
			Seeders:   h.NumSeeders(),
			DownSpeed: int64(h.CurrentSpeed(transfer.Down)),
			UpSpeed:   int64(h.CurrentSpeed(transfer.Up)),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	out := make([]PeerStats, 0)
	for _, h := range s.rt.Handles() {
		for _, c := range h.Channels() {
			out = append(out, PeerStats{
				TD:      int64(h.TD()),
				Channel: c.LocalID,
				Addr:    c.Peer.String(),
				Ours:    c.Outgoing(),
			})
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("statsapi: encoding response failed", "err", err)
	}
}
