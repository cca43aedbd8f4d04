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

package cluster

import (
	"testing"
	"time"

	"github.com/tswift/tswift/runtime"
	"github.com/tswift/tswift/simulation"
)

// TestCluster brings up a star-shaped network of in-process nodes, dials
// every leech at the hub, and waits for the network to settle, the
// in-process analogue of bzz_hive/WaitForHealthyNetwork against a cluster of
// spawned daemon processes.
func TestCluster(t *testing.T) {
	const nodeCount = 6

	c, err := simulation.NewCluster(t.TempDir(), nodeCount)
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	defer c.StopAll()

	nodes := c.Nodes()
	swarmID := []byte{0xca, 0xfe, 0xba, 0xbe}

	handles := make([]*runtime.Handle, len(nodes))
	for i, n := range nodes {
		h, err := n.Runtime.Open(n.SwarmDir("test"), swarmID, runtime.OpenOptions{})
		if err != nil {
			t.Fatalf("Open on %s: %v", n.Name, err)
		}
		handles[i] = h
	}

	hub, leeches := handles[0], handles[1:]
	if err := simulation.ConnectStar(hub, nodes[0].Addr(), leeches); err != nil {
		t.Fatalf("ConnectStar: %v", err)
	}

	if err := simulation.WaitForHealthyNetwork(handles, 5*time.Second, simulation.HasPeers); err != nil {
		t.Fatalf("network did not become healthy: %v", err)
	}

	if hub.NumLeechers()+hub.NumSeeders() != len(leeches) {
		t.Fatalf("hub sees %d peers, want %d", hub.NumLeechers()+hub.NumSeeders(), len(leeches))
	}
}
