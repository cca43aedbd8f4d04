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

// Package simulation builds a multi-node test network out of in-process
// runtime.Runtime instances bound to the loopback interface, rather than the
// original's out-of-process exec/docker/kubernetes Adapter trio: a bin-
// addressed swarm has no separate daemon binary to spawn, so the only
// adapter left standing is the in-process one.
package simulation

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/config"
	"github.com/tswift/tswift/runtime"
)

// Node is one simulated peer: its own Runtime, listening on an OS-assigned
// loopback port, plus the base directory its swarms are rooted under.
type Node struct {
	Name    string
	Runtime *runtime.Runtime
	Dir     string
}

// Addr returns the UDP address other nodes dial this one on.
func (n *Node) Addr() channel.Addr {
	udp := n.Runtime.Addr().(*net.UDPAddr)
	return channel.Addr{IP: udp.IP, Port: udp.Port}
}

// Cluster is a set of Nodes sharing one base directory, standing in for
// NewSimulation's adapter-driven node pool.
type Cluster struct {
	nodes []*Node
}

// NewCluster starts n Runtimes under baseDir/node<i>, each listening on
// 127.0.0.1 with a kernel-assigned port, mirroring CreateClusterWithBootnode's
// role of bringing up a named pool of nodes before any topology is wired
// between them.
func NewCluster(baseDir string, n int) (*Cluster, error) {
	c := &Cluster{}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("node%d", i)
		cfg := config.NewConfig()
		cfg.ListenAddr = "127.0.0.1"
		cfg.Port = 0

		rt := runtime.New(cfg)
		if err := rt.Listen("127.0.0.1:0"); err != nil {
			c.StopAll()
			return nil, fmt.Errorf("simulation: starting %s: %w", name, err)
		}
		c.nodes = append(c.nodes, &Node{
			Name:    name,
			Runtime: rt,
			Dir:     filepath.Join(baseDir, name),
		})
	}
	return c, nil
}

// Nodes returns every node in the cluster, in start order.
func (c *Cluster) Nodes() []*Node { return c.nodes }

// StopAll shuts every node's Runtime down, mirroring sim.StopAll().
func (c *Cluster) StopAll() {
	for _, n := range c.nodes {
		n.Runtime.Close()
	}
}

// SwarmDir returns the per-swarm content directory a node should pass to
// Open/LiveOpen for the given swarm name, namespacing it under the node's
// own directory so distinct nodes never collide on disk.
func (n *Node) SwarmDir(swarmName string) string {
	return filepath.Join(n.Dir, swarmName)
}

// ConnectStar dials every node in leeches at hub, mirroring
// CreateClusterWithBootnode's star topology (one bootnode, every other node
// dials it) rather than a full mesh.
func ConnectStar(hub *runtime.Handle, hubAddr channel.Addr, leeches []*runtime.Handle) error {
	for _, h := range leeches {
		if _, err := h.AddPeer(hubAddr); err != nil {
			return fmt.Errorf("simulation: connecting to hub: %w", err)
		}
	}
	return nil
}

// WaitForHealthyNetwork polls ready against every handle until all report
// true or timeout elapses, mirroring sim.WaitForHealthyNetwork's readiness
// poll over the adapter-spawned nodes.
func WaitForHealthyNetwork(handles []*runtime.Handle, timeout time.Duration, ready func(*runtime.Handle) bool) error {
	deadline := time.Now().Add(timeout)
	const pollInterval = 25 * time.Millisecond
	for {
		allReady := true
		for _, h := range handles {
			if !ready(h) {
				allReady = false
				break
			}
		}
		if allReady {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("simulation: network did not become healthy within %s", timeout)
		}
		time.Sleep(pollInterval)
	}
}

// HasPeers reports whether h has at least one open channel, the simplest
// readiness predicate WaitForHealthyNetwork callers have for "this swarm
// found the rest of the network".
func HasPeers(h *runtime.Handle) bool {
	return len(h.Channels()) > 0
}
