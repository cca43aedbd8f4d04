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

package statsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tswift/tswift/config"
	"github.com/tswift/tswift/runtime"
)

func newTestRuntimeWithSwarm(t *testing.T) (*runtime.Runtime, *runtime.Handle) {
	t.Helper()
	rt := runtime.New(config.NewConfig())
	dir := filepath.Join(t.TempDir(), "swarm")
	h, err := rt.Open(dir, []byte{1, 2, 3, 4}, runtime.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return rt, h
}

func TestHandleStatsListsOpenSwarms(t *testing.T) {
	rt, h := newTestRuntimeWithSwarm(t)
	s := New(rt, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out []SwarmStats
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d swarms, want 1", len(out))
	}
	if out[0].TD != int64(h.TD()) {
		t.Fatalf("td = %d, want %d", out[0].TD, h.TD())
	}
	if out[0].SwarmID != "01020304" {
		t.Fatalf("swarm_id = %q, want 01020304", out[0].SwarmID)
	}
}

func TestHandlePeersEmptyWithNoChannels(t *testing.T) {
	rt, _ := newTestRuntimeWithSwarm(t)
	s := New(rt, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	var out []PeerStats
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d peers, want 0", len(out))
	}
}

func TestNewFromConfigDisabledWhenAddrEmpty(t *testing.T) {
	rt, _ := newTestRuntimeWithSwarm(t)
	cfg := config.NewConfig()
	cfg.StatsAPIAddr = ""

	addr, s, err := NewFromConfig(rt, cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if addr != "" || s != nil {
		t.Fatalf("NewFromConfig with empty StatsAPIAddr = (%q, %v), want (\"\", nil)", addr, s)
	}
}

func TestNewFromConfigSplitsCorsOrigins(t *testing.T) {
	rt, _ := newTestRuntimeWithSwarm(t)
	cfg := config.NewConfig()
	cfg.StatsAPIAddr = "127.0.0.1:9999"
	cfg.StatsAPICors = "http://a.example.org,http://b.example.org"

	addr, s, err := NewFromConfig(rt, cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if addr != "127.0.0.1:9999" || s == nil {
		t.Fatalf("NewFromConfig = (%q, %v), want a bound server", addr, s)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "http://b.example.org")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://b.example.org" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want http://b.example.org", got)
	}
}

func TestStatsEndpointSetsCORSHeader(t *testing.T) {
	rt, _ := newTestRuntimeWithSwarm(t)
	s := New(rt, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "http://dashboard.example.org")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want \"*\"", got)
	}
}
