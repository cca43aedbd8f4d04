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

package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tswift/tswift/config"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.NewConfig()
	return New(cfg)
}

func TestOpenRegistersHandleAndAssignsTD(t *testing.T) {
	rt := newTestRuntime(t)
	dir := filepath.Join(t.TempDir(), "swarm1")
	swarmID := make([]byte, 20)
	for i := range swarmID {
		swarmID[i] = byte(i)
	}

	h, err := rt.Open(dir, swarmID, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h.TD() == 0 {
		t.Fatal("TD() = 0, want a nonzero transfer descriptor")
	}
	got, ok := rt.Handle(h.TD())
	if !ok || got != h {
		t.Fatalf("Handle(%d) = %v, %v; want %v, true", h.TD(), got, ok, h)
	}
	if len(rt.Handles()) != 1 {
		t.Fatalf("len(Handles()) = %d, want 1", len(rt.Handles()))
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("swarm directory not created: %v", err)
	}
}

func TestOpenSecondSwarmGetsDistinctTD(t *testing.T) {
	rt := newTestRuntime(t)
	base := t.TempDir()
	swarmA := make([]byte, 20)
	swarmB := make([]byte, 20)
	swarmB[0] = 1

	ha, err := rt.Open(filepath.Join(base, "a"), swarmA, OpenOptions{})
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	hb, err := rt.Open(filepath.Join(base, "b"), swarmB, OpenOptions{})
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if ha.TD() == hb.TD() {
		t.Fatalf("both swarms got TD %d", ha.TD())
	}
	if len(rt.Handles()) != 2 {
		t.Fatalf("len(Handles()) = %d, want 2", len(rt.Handles()))
	}
}

func TestGetSwarmIDReturnsCopy(t *testing.T) {
	rt := newTestRuntime(t)
	dir := filepath.Join(t.TempDir(), "swarm")
	swarmID := []byte{1, 2, 3, 4}
	h, err := rt.Open(dir, swarmID, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := h.GetSwarmID()
	got[0] = 0xff
	if h.GetSwarmID()[0] == 0xff {
		t.Fatal("GetSwarmID returned an aliased slice, mutation leaked into Handle state")
	}
}

func TestCloseUnregistersHandle(t *testing.T) {
	rt := newTestRuntime(t)
	dir := filepath.Join(t.TempDir(), "swarm")
	swarmID := []byte{9, 9, 9}
	h, err := rt.Open(dir, swarmID, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	td := h.TD()
	if err := h.Close(false, false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := rt.Handle(td); ok {
		t.Fatal("Handle still registered after Close")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Close(removeContent=false) should not remove the swarm directory: %v", err)
	}
}

func TestCloseRemovesContentWhenAsked(t *testing.T) {
	rt := newTestRuntime(t)
	dir := filepath.Join(t.TempDir(), "swarm")
	swarmID := []byte{1}
	h, err := rt.Open(dir, swarmID, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Close(true, true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("swarm directory still present after Close(removeContent=true): %v", err)
	}
}

func TestSizeZeroBeforeTreeSizeKnown(t *testing.T) {
	rt := newTestRuntime(t)
	dir := filepath.Join(t.TempDir(), "swarm")
	h, err := rt.Open(dir, []byte{7, 7}, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 for a freshly bootstrapped tree with no known chunk count", h.Size())
	}
	if h.Complete() != 0 {
		t.Fatalf("Complete() = %d, want 0", h.Complete())
	}
	if h.NumLeechers() != 0 || h.NumSeeders() != 0 {
		t.Fatalf("expected no channels yet, got leechers=%d seeders=%d", h.NumLeechers(), h.NumSeeders())
	}
	if len(h.Channels()) != 0 {
		t.Fatalf("Channels() = %v, want empty", h.Channels())
	}
}
