// Copyright 2016 The go-ethereum Authors
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

// Package config holds one process's flat, serialisable configuration: the
// protocol defaults every swarm inherits unless a tswift:// URI overrides
// them, plus where on disk this process keeps its state.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/naoina/toml"
)

const (
	DefaultListenAddr = "0.0.0.0"
	DefaultPort       = 6778

	// DefaultChunkSize is spec.md §2's default chunk length C, overridable
	// per swarm at creation time.
	DefaultChunkSize = 8192

	// DefaultMTU is the receive MTU a datagram larger than is rejected
	// outright, per spec.md §4.5.
	DefaultMTU = 65535

	// DefaultCloseInactivity is how long a handshaked channel may go
	// without a received datagram before it is swept as idle.
	DefaultCloseInactivity = 60 * time.Second

	// DefaultTrackerBackoff is the external tracker's initial retry
	// interval, doubling on each further failure.
	DefaultTrackerBackoff = 30 * time.Second

	// DefaultDivergenceWindow is D_div from spec.md §2: how far a live
	// munro's timestamp may drift from local time and still verify.
	DefaultDivergenceWindow = 30 * time.Second

	// DefaultMaxOutgoingChannels is spec.md §4.8's fixed add_peer budget.
	DefaultMaxOutgoingChannels = 20
)

// Config is the flat, TOML-serialisable set of parameters one process runs
// with, in the shape api/config.go's own Config/NewConfig/Init trio takes:
// a plain struct, a constructor seeding protocol defaults, and a
// side-effecting Init that turns Path into an actual directory on disk.
type Config struct {
	Path       string
	ListenAddr string
	Port       int

	ChunkSize           uint32
	MTU                 int
	CloseInactivity     time.Duration
	TrackerBackoff      time.Duration
	DivergenceWindow    time.Duration
	MaxOutgoingChannels int

	StatsAPIAddr string `toml:",omitempty"`
	StatsAPICors string `toml:",omitempty"`
}

// NewConfig returns a Config seeded with spec.md's protocol defaults and a
// per-user default data directory.
func NewConfig() *Config {
	return &Config{
		Path:                defaultDataDir(),
		ListenAddr:          DefaultListenAddr,
		Port:                DefaultPort,
		ChunkSize:           DefaultChunkSize,
		MTU:                 DefaultMTU,
		CloseInactivity:     DefaultCloseInactivity,
		TrackerBackoff:      DefaultTrackerBackoff,
		DivergenceWindow:    DefaultDivergenceWindow,
		MaxOutgoingChannels: DefaultMaxOutgoingChannels,
	}
}

// Init makes sure c.Path exists, creating it (and its parents) if not.
func (c *Config) Init() error {
	if c.Path == "" {
		return fmt.Errorf("config: Path must not be empty")
	}
	if err := os.MkdirAll(c.Path, 0700); err != nil {
		return fmt.Errorf("config: creating data directory %s: %w", c.Path, err)
	}
	return nil
}

// tomlSettings matches go-ethereum's own cmd/geth/config.go: field names are
// taken verbatim rather than lower-cased, and an unrecognized key in the
// file is a hard error that fails the whole decode.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, field string) string { return field },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field %q is not defined in %s", field, rt.String())
	},
}

// Load reads a TOML config document, starting from NewConfig's defaults so
// a sparse file only needs to name the fields it overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	c := NewConfig()
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(c); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return c, nil
}

// Save writes c as a TOML document, e.g. so a tswift:// URI resolved at
// swarm-creation time can be persisted for the next run.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return tomlSettings.NewEncoder(f).Encode(c)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "tswift")
	}
	switch {
	case os.Getenv("APPDATA") != "":
		return filepath.Join(os.Getenv("APPDATA"), "Tswift")
	default:
		return filepath.Join(home, ".tswift")
	}
}
