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

package transfer

import (
	"sync"

	"github.com/pborman/uuid"

	"github.com/tswift/tswift/bin"
)

// ProgressFunc is invoked once per qualifying bin, per spec.md §4.8's
// progress(bin) operation.
type ProgressFunc func(b bin.Bin)

type progressEntry struct {
	cb       ProgressFunc
	aggLayer uint
}

// progressRegistry holds the (callback, agg_layer) pairs add_progress_callback
// registers, keyed by an opaque handle so remove_progress_callback doesn't
// need the original function value back (Go funcs aren't comparable).
type progressRegistry struct {
	mu      sync.Mutex
	entries map[string]progressEntry
}

func newProgressRegistry() *progressRegistry {
	return &progressRegistry{entries: make(map[string]progressEntry)}
}

// Add registers cb to fire for every bin at or above aggLayer, returning a
// handle remove_progress_callback can later pass to Remove.
func (r *progressRegistry) Add(cb ProgressFunc, aggLayer uint) string {
	handle := uuid.NewRandom().String()
	r.mu.Lock()
	r.entries[handle] = progressEntry{cb: cb, aggLayer: aggLayer}
	r.mu.Unlock()
	return handle
}

// Remove deregisters a callback by its handle. Removing an unknown handle
// is a no-op, matching remove_progress_callback's documented tolerance of a
// stale handle.
func (r *progressRegistry) Remove(handle string) {
	r.mu.Lock()
	delete(r.entries, handle)
	r.mu.Unlock()
}

// notify calls every registered callback whose agg_layer the given bin
// satisfies (bin.Layer() >= agg_layer), per spec.md §4.8's progress rule.
func (r *progressRegistry) notify(b bin.Bin) {
	r.mu.Lock()
	entries := make([]progressEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		if b.Layer() >= e.aggLayer {
			e.cb(b)
		}
	}
}

// AddProgressCallback registers cb for bins at or above aggLayer and
// returns the opaque handle needed to remove it later.
func (t *Transfer) AddProgressCallback(cb ProgressFunc, aggLayer uint) string {
	return t.progress.Add(cb, aggLayer)
}

// RemoveProgressCallback deregisters a callback previously returned by
// AddProgressCallback.
func (t *Transfer) RemoveProgressCallback(handle string) {
	t.progress.Remove(handle)
}
