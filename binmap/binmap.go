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

// Package binmap implements a compressed bin->{empty,filled} set: a tree of
// cells, each cell holding two halves, where a half is either a solid state
// (the whole subtree is uniformly empty or filled, representable at any
// depth with no further structure), a dense W-bit leaf bitmap (valid
// whenever the half's own bin has at most W=64 leaves, i.e. layer <=
// halfDepth), or a reference to a child cell for deeper, non-uniform
// subtrees. Cells live in an arena (m.cells) threaded with a free list.
package binmap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/xerr"
)

const (
	// halfDepth is log2(W) for a 64-bit dense leaf bitmap (W=64): any half
	// whose own bin sits at layer <= halfDepth can be represented as a flat
	// bitmap instead of a child cell.
	halfDepth = 6
	noRef     = ^uint32(0)
)

type halfState uint8

const (
	hsEmpty halfState = iota
	hsFilled
	hsDense
	hsRef
)

type half struct {
	state  halfState
	bitmap uint64
	ref    uint32
}

type cell struct {
	bin      bin.Bin
	left     half
	right    half
	free     bool
	freeNext uint32
}

// Binmap is a compressed, mutable set of bins.
type Binmap struct {
	rootBin  bin.Bin
	root     half
	cells    []cell
	freeHead uint32

	// MaxCells caps arena growth so AllocationError is reachable in tests;
	// zero means unlimited.
	MaxCells int
}

// New returns an empty binmap.
func New() *Binmap {
	return &Binmap{rootBin: bin.NONE, freeHead: noRef}
}

type triState uint8

const (
	tsEmpty triState = iota
	tsFilled
	tsMixed
)

// ---- cell arena ----

func (m *Binmap) allocCell() (uint32, error) {
	if m.freeHead != noRef {
		idx := m.freeHead
		m.freeHead = m.cells[idx].freeNext
		m.cells[idx].free = false
		return idx, nil
	}
	if m.MaxCells > 0 && len(m.cells) >= m.MaxCells {
		return 0, xerr.Allocation("binmap.allocCell", fmt.Errorf("cell arena exhausted at %d cells", m.MaxCells))
	}
	m.cells = append(m.cells, cell{})
	return uint32(len(m.cells) - 1), nil
}

func (m *Binmap) freeCell(idx uint32) {
	m.cells[idx] = cell{free: true, freeNext: m.freeHead}
	m.freeHead = idx
}

// ---- dense bitmap helpers ----

func denseMask(length uint64) uint64 {
	if length >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<length - 1
}

// toDenseBitmap renders a half whose own bin has layer <= halfDepth as a
// flat bitmap, without mutating the arena.
func (m *Binmap) toDenseBitmap(h half, hb bin.Bin) uint64 {
	switch h.state {
	case hsFilled:
		return denseMask(hb.BaseLength())
	case hsDense:
		return h.bitmap
	default: // hsEmpty
		return 0
	}
}

func normalizeDense(bm uint64, length uint64) half {
	mask := denseMask(length)
	bm &= mask
	if bm == 0 {
		return half{state: hsEmpty}
	}
	if bm == mask {
		return half{state: hsFilled}
	}
	return half{state: hsDense, bitmap: bm}
}

// ---- growth ----

func (m *Binmap) ensureCovers(b bin.Bin) error {
	if m.rootBin == bin.NONE {
		m.rootBin = b
		m.root = half{state: hsEmpty}
		return nil
	}
	for !m.rootBin.Contains(b) {
		if m.rootBin == bin.ALL {
			return xerr.Allocation("binmap.ensureCovers", fmt.Errorf("bin %v is outside the addressable tree", b))
		}
		parent := m.rootBin.Parent()
		isLeftChild := parent.Left() == m.rootBin
		if parent.Layer() <= halfDepth {
			// the grown root is still dense-capable: merge directly into a
			// wider bitmap instead of wrapping in a ref cell.
			bm := m.toDenseBitmap(m.root, m.rootBin)
			if !isLeftChild {
				bm <<= m.rootBin.BaseLength()
			}
			m.rootBin = parent
			m.root = normalizeDense(bm, parent.BaseLength())
			continue
		}
		idx, err := m.allocCell()
		if err != nil {
			return err
		}
		if isLeftChild {
			m.cells[idx] = cell{bin: parent, left: m.root, right: half{state: hsEmpty}}
		} else {
			m.cells[idx] = cell{bin: parent, left: half{state: hsEmpty}, right: m.root}
		}
		m.rootBin = parent
		m.root = half{state: hsRef, ref: idx}
	}
	return nil
}

// ensureRefCell materializes a child cell for h (which must currently be
// hsEmpty or hsFilled, since hb.Layer() > halfDepth rules out hsDense and we
// only call this when h is not already hsRef).
func (m *Binmap) ensureRefCell(h half, hb bin.Bin) (uint32, error) {
	if h.state == hsRef {
		return h.ref, nil
	}
	idx, err := m.allocCell()
	if err != nil {
		return 0, err
	}
	m.cells[idx] = cell{bin: hb, left: half{state: h.state}, right: half{state: h.state}}
	return idx, nil
}

// packCell collapses a cell whose two halves have become equal solid
// states, freeing it and returning the collapsed half; otherwise it returns
// an unchanged hsRef half. This is the "packed" invariant: no cell is kept
// whose two halves agree on a solid state.
func (m *Binmap) packCell(idx uint32) half {
	c := m.cells[idx]
	if (c.left.state == hsEmpty || c.left.state == hsFilled) && c.left.state == c.right.state {
		m.freeCell(idx)
		return half{state: c.left.state}
	}
	return half{state: hsRef, ref: idx}
}

// ---- mutation ----

// Set marks every leaf in b's subtree as filled.
func (m *Binmap) Set(b bin.Bin) error {
	if err := m.ensureCovers(b); err != nil {
		return err
	}
	h, err := m.setIn(m.root, m.rootBin, b)
	if err != nil {
		return err
	}
	m.root = h
	return nil
}

// Reset marks every leaf in b's subtree as empty.
func (m *Binmap) Reset(b bin.Bin) error {
	if m.rootBin == bin.NONE || !m.rootBin.Contains(b) {
		return nil // nothing set there in the first place
	}
	h, err := m.resetIn(m.root, m.rootBin, b)
	if err != nil {
		return err
	}
	m.root = h
	return nil
}

func (m *Binmap) setIn(h half, hb, target bin.Bin) (half, error) {
	if hb == target {
		if h.state == hsRef {
			m.freeSubtree(h.ref)
		}
		return half{state: hsFilled}, nil
	}
	if hb.Layer() <= halfDepth {
		bm := m.toDenseBitmap(h, hb)
		lo := target.BaseLeft().Offset() - hb.BaseLeft().Offset()
		hi := target.BaseRight().Offset() - hb.BaseLeft().Offset()
		for i := lo; i <= hi; i++ {
			bm |= uint64(1) << i
		}
		return normalizeDense(bm, hb.BaseLength()), nil
	}
	idx, err := m.ensureRefCell(h, hb)
	if err != nil {
		return half{}, err
	}
	c := m.cells[idx]
	var updated half
	if hb.Left().Contains(target) || hb.Left() == target {
		updated, err = m.setIn(c.left, hb.Left(), target)
		if err != nil {
			return half{}, err
		}
		m.cells[idx].left = updated
	} else {
		updated, err = m.setIn(c.right, hb.Right(), target)
		if err != nil {
			return half{}, err
		}
		m.cells[idx].right = updated
	}
	return m.packCell(idx), nil
}

func (m *Binmap) resetIn(h half, hb, target bin.Bin) (half, error) {
	if hb == target {
		if h.state == hsRef {
			m.freeSubtree(h.ref)
		}
		return half{state: hsEmpty}, nil
	}
	if hb.Layer() <= halfDepth {
		bm := m.toDenseBitmap(h, hb)
		lo := target.BaseLeft().Offset() - hb.BaseLeft().Offset()
		hi := target.BaseRight().Offset() - hb.BaseLeft().Offset()
		for i := lo; i <= hi; i++ {
			bm &^= uint64(1) << i
		}
		return normalizeDense(bm, hb.BaseLength()), nil
	}
	if h.state != hsRef && h.state == hsEmpty {
		return h, nil // already all-empty, nothing to clear
	}
	idx, err := m.ensureRefCell(h, hb)
	if err != nil {
		return half{}, err
	}
	c := m.cells[idx]
	var updated half
	if hb.Left().Contains(target) || hb.Left() == target {
		updated, err = m.resetIn(c.left, hb.Left(), target)
		if err != nil {
			return half{}, err
		}
		m.cells[idx].left = updated
	} else {
		updated, err = m.resetIn(c.right, hb.Right(), target)
		if err != nil {
			return half{}, err
		}
		m.cells[idx].right = updated
	}
	return m.packCell(idx), nil
}

// freeSubtree releases a whole ref chain, used when a deep subtree
// collapses to a single solid half.
func (m *Binmap) freeSubtree(idx uint32) {
	c := m.cells[idx]
	if c.left.state == hsRef {
		m.freeSubtree(c.left.ref)
	}
	if c.right.state == hsRef {
		m.freeSubtree(c.right.ref)
	}
	m.freeCell(idx)
}

// ---- queries ----

func (m *Binmap) queryHalf(h half, hb, target bin.Bin) triState {
	if hb.Layer() <= halfDepth {
		bm := m.toDenseBitmap(h, hb)
		lo := target.BaseLeft().Offset() - hb.BaseLeft().Offset()
		hi := target.BaseRight().Offset() - hb.BaseLeft().Offset()
		allOnes, allZeros := true, true
		for i := lo; i <= hi; i++ {
			if bm&(uint64(1)<<i) != 0 {
				allZeros = false
			} else {
				allOnes = false
			}
		}
		switch {
		case allOnes:
			return tsFilled
		case allZeros:
			return tsEmpty
		default:
			return tsMixed
		}
	}
	if hb == target {
		switch h.state {
		case hsFilled:
			return tsFilled
		case hsEmpty:
			return tsEmpty
		default: // hsRef
			c := m.cells[h.ref]
			l := m.queryHalf(c.left, hb.Left(), hb.Left())
			r := m.queryHalf(c.right, hb.Right(), hb.Right())
			if l == r {
				return l
			}
			return tsMixed
		}
	}
	switch h.state {
	case hsFilled:
		return tsFilled
	case hsEmpty:
		return tsEmpty
	default: // hsRef, target strictly inside hb
		c := m.cells[h.ref]
		if hb.Left().Contains(target) || hb.Left() == target {
			return m.queryHalf(c.left, hb.Left(), target)
		}
		return m.queryHalf(c.right, hb.Right(), target)
	}
}

func (m *Binmap) stateOf(target bin.Bin) triState {
	if m.rootBin == bin.NONE {
		return tsEmpty
	}
	switch {
	case target == m.rootBin || m.rootBin.Contains(target):
		return m.queryHalf(m.root, m.rootBin, target)
	case target.Contains(m.rootBin):
		root := m.queryHalf(m.root, m.rootBin, m.rootBin)
		if root == tsEmpty {
			return tsEmpty
		}
		return tsMixed
	default:
		return tsEmpty
	}
}

// IsFilled reports whether every leaf under b is filled.
func (m *Binmap) IsFilled(b bin.Bin) bool { return m.stateOf(b) == tsFilled }

// IsEmpty reports whether every leaf under b is empty.
func (m *Binmap) IsEmpty(b bin.Bin) bool { return m.stateOf(b) == tsEmpty }

// WholeEmpty reports whether the binmap has nothing set anywhere.
func (m *Binmap) WholeEmpty() bool {
	if m.rootBin == bin.NONE {
		return true
	}
	return m.queryHalf(m.root, m.rootBin, m.rootBin) == tsEmpty
}

// WholeFilled reports whether the binmap is filled everywhere it covers
// (note: this only reflects the currently-rooted range, matching the
// invariant that the root always bounds every set bin).
func (m *Binmap) WholeFilled() bool {
	if m.rootBin == bin.NONE {
		return false
	}
	return m.queryHalf(m.root, m.rootBin, m.rootBin) == tsFilled
}

// Cover returns the largest bin containing b that is uniformly filled or
// uniformly empty, or NONE if b itself straddles filled and empty regions.
func (m *Binmap) Cover(b bin.Bin) bin.Bin {
	if b.IsNone() {
		return bin.NONE
	}
	st := m.stateOf(b)
	if st == tsMixed {
		return bin.NONE
	}
	cur := b
	for cur != bin.ALL {
		p := cur.Parent()
		if m.stateOf(p) != st {
			break
		}
		cur = p
	}
	return cur
}

// findFirst walks the tree for the leftmost (or rightmost, reversed) base
// bin whose fill state equals wantFilled.
func (m *Binmap) findFirst(h half, hb bin.Bin, wantFilled bool) bin.Bin {
	st := m.queryHalf(h, hb, hb)
	if wantFilled && st == tsEmpty {
		return bin.NONE
	}
	if !wantFilled && st == tsFilled {
		return bin.NONE
	}
	if hb.IsBase() {
		if (wantFilled && st == tsFilled) || (!wantFilled && st == tsEmpty) {
			return hb
		}
		return bin.NONE
	}
	if hb.Layer() <= halfDepth {
		bm := m.toDenseBitmap(h, hb)
		for i := uint64(0); i < hb.BaseLength(); i++ {
			bit := bm&(uint64(1)<<i) != 0
			if bit == wantFilled {
				return bin.Leaf(hb.BaseLeft().Offset() + i)
			}
		}
		return bin.NONE
	}
	var c cell
	if h.state == hsRef {
		c = m.cells[h.ref]
	} else {
		c = cell{left: half{state: h.state}, right: half{state: h.state}}
	}
	if b := m.findFirst(c.left, hb.Left(), wantFilled); !b.IsNone() {
		return b
	}
	return m.findFirst(c.right, hb.Right(), wantFilled)
}

// FindEmpty returns the first (leftmost) empty base bin, or NONE.
func (m *Binmap) FindEmpty() bin.Bin {
	if m.rootBin == bin.NONE || m.rootBin.BaseOffset() > 0 {
		return bin.Leaf(0)
	}
	if b := m.findFirst(m.root, m.rootBin, false); !b.IsNone() {
		return b
	}
	if m.rootBin == bin.ALL {
		return bin.NONE
	}
	return bin.Leaf(m.rootBin.BaseRight().Offset() + 1)
}

// FindFilled returns the first (leftmost) filled base bin, or NONE.
func (m *Binmap) FindFilled() bin.Bin {
	if m.rootBin == bin.NONE {
		return bin.NONE
	}
	return m.findFirst(m.root, m.rootBin, true)
}

// FindEmptyFrom returns the first base bin with an empty value at or to the
// right of from.
func (m *Binmap) FindEmptyFrom(from bin.Bin) bin.Bin {
	if m.rootBin == bin.NONE {
		// Nothing has ever been set: every position, including from
		// itself, is empty. FindEmpty() would answer Leaf(0) regardless
		// of from, which is wrong for any from past the first leaf.
		return from
	}
	if from.Offset() == 0 {
		return m.FindEmpty()
	}
	cur := from
	for {
		if m.IsEmpty(cur) {
			return cur
		}
		next := bin.Leaf(cur.BaseOffset() + 1)
		if m.rootBin != bin.NONE && !m.rootBin.Contains(next) && !next.Contains(m.rootBin) {
			return bin.NONE
		}
		cur = next
	}
}

// FindComplement returns the first base bin set in m (S) and not in d (D),
// restricted to rng, ordered by twist.
func (m *Binmap) FindComplement(d *Binmap, rng bin.Bin, twist uint64) bin.Bin {
	return m.searchComplement(d, rng, twist)
}

func (m *Binmap) searchComplement(d *Binmap, node bin.Bin, twist uint64) bin.Bin {
	if node.IsNone() {
		return bin.NONE
	}
	if m.stateOf(node) == tsEmpty {
		return bin.NONE
	}
	if d.stateOf(node) == tsFilled {
		return bin.NONE
	}
	if node.IsBase() {
		if m.IsFilled(node) && d.IsEmpty(node) {
			return node
		}
		return bin.NONE
	}
	left, right := node.Left(), node.Right()
	rightFirst := twist&(node.BaseLength()>>1) != 0
	if rightFirst {
		if b := m.searchComplement(d, right, twist); !b.IsNone() {
			return b
		}
		return m.searchComplement(d, left, twist)
	}
	if b := m.searchComplement(d, left, twist); !b.IsNone() {
		return b
	}
	return m.searchComplement(d, right, twist)
}

// ---- copy ----

// Copy replaces dst entirely with a deep copy of src.
func Copy(dst, src *Binmap) error {
	dst.rootBin = bin.NONE
	dst.root = half{}
	dst.cells = nil
	dst.freeHead = noRef
	if src.rootBin == bin.NONE {
		return nil
	}
	dst.rootBin = src.rootBin
	h, err := copyHalf(dst, src, src.root)
	if err != nil {
		return err
	}
	dst.root = h
	return nil
}

// CopyRange replaces the range subtree of dst with src's content there.
func CopyRange(dst, src *Binmap, rng bin.Bin) error {
	if err := dst.ensureCovers(rng); err != nil {
		return err
	}
	if err := dst.Reset(rng); err != nil {
		return err
	}
	for {
		leaf := src.FindComplement(dst, rng, 0)
		if leaf.IsNone() {
			return nil
		}
		b := src.Cover(leaf)
		if b.Contains(rng) {
			b = rng
		}
		if err := dst.Set(b); err != nil {
			return err
		}
	}
}

// findHalf locates the half value governing exactly the bin `target`
// within src (target must be <= src's rooted range).
func findHalf(src *Binmap, h half, hb, target bin.Bin) half {
	if hb == target {
		return h
	}
	switch h.state {
	case hsEmpty, hsFilled:
		return h
	default: // hsRef
		c := src.cells[h.ref]
		if hb.Left().Contains(target) || hb.Left() == target {
			return findHalf(src, c.left, hb.Left(), target)
		}
		return findHalf(src, c.right, hb.Right(), target)
	}
}

func copyHalf(dst, src *Binmap, h half) (half, error) {
	switch h.state {
	case hsEmpty, hsFilled, hsDense:
		return h, nil
	default: // hsRef
		c := src.cells[h.ref]
		idx, err := dst.allocCell()
		if err != nil {
			return half{}, err
		}
		left, err := copyHalf(dst, src, c.left)
		if err != nil {
			return half{}, err
		}
		right, err := copyHalf(dst, src, c.right)
		if err != nil {
			return half{}, err
		}
		dst.cells[idx] = cell{bin: c.bin, left: left, right: right}
		return half{state: hsRef, ref: idx}, nil
	}
}

func (m *Binmap) replaceIn(h half, hb, target bin.Bin, replacement half) (half, error) {
	if hb == target {
		if h.state == hsRef {
			m.freeSubtree(h.ref)
		}
		return replacement, nil
	}
	if h.state != hsRef {
		idx, err := m.ensureRefCell(h, hb)
		if err != nil {
			return half{}, err
		}
		h = half{state: hsRef, ref: idx}
	}
	c := m.cells[h.ref]
	if hb.Left().Contains(target) || hb.Left() == target {
		updated, err := m.replaceIn(c.left, hb.Left(), target, replacement)
		if err != nil {
			return half{}, err
		}
		m.cells[h.ref].left = updated
	} else {
		updated, err := m.replaceIn(c.right, hb.Right(), target, replacement)
		if err != nil {
			return half{}, err
		}
		m.cells[h.ref].right = updated
	}
	return m.packCell(h.ref), nil
}

// ---- serialisation ----

// Serialize writes a text form: root bin, allocated-cell count, free-list
// head, then one line per cell.
func (m *Binmap) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "rootbin %d\n", uint64(m.rootBin))
	fmt.Fprintf(bw, "root %s\n", encodeHalf(m.root))
	fmt.Fprintf(bw, "cells %d\n", len(m.cells))
	fmt.Fprintf(bw, "freehead %d\n", m.freeHead)
	for i, c := range m.cells {
		fmt.Fprintf(bw, "cell %d %d %v %s %s %d\n", i, uint64(c.bin), c.free, encodeHalf(c.left), encodeHalf(c.right), c.freeNext)
	}
	return bw.Flush()
}

func encodeHalf(h half) string {
	switch h.state {
	case hsEmpty:
		return "E"
	case hsFilled:
		return "F"
	case hsDense:
		return fmt.Sprintf("D:%x", h.bitmap)
	default:
		return fmt.Sprintf("R:%d", h.ref)
	}
}

func decodeHalf(s string) (half, error) {
	switch {
	case s == "E":
		return half{state: hsEmpty}, nil
	case s == "F":
		return half{state: hsFilled}, nil
	case strings.HasPrefix(s, "D:"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return half{}, xerr.Protocol("binmap.decodeHalf", err)
		}
		return half{state: hsDense, bitmap: v}, nil
	case strings.HasPrefix(s, "R:"):
		v, err := strconv.ParseUint(s[2:], 10, 32)
		if err != nil {
			return half{}, xerr.Protocol("binmap.decodeHalf", err)
		}
		return half{state: hsRef, ref: uint32(v)}, nil
	default:
		return half{}, xerr.Protocol("binmap.decodeHalf", fmt.Errorf("corrupt half token %q", s))
	}
}

// Deserialize parses the Serialize format, rejecting headers whose declared
// cell count does not match the number of cell lines that follow.
func Deserialize(r io.Reader) (*Binmap, error) {
	sc := bufio.NewScanner(r)
	m := New()
	var nCells int
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "rootbin":
			v, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, xerr.Protocol("binmap.Deserialize", err)
			}
			m.rootBin = bin.Bin(v)
		case "root":
			h, err := decodeHalf(fields[1])
			if err != nil {
				return nil, err
			}
			m.root = h
		case "cells":
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, xerr.Protocol("binmap.Deserialize", err)
			}
			nCells = v
			m.cells = make([]cell, 0, nCells)
		case "freehead":
			v, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, xerr.Protocol("binmap.Deserialize", err)
			}
			m.freeHead = uint32(v)
		case "cell":
			if len(fields) != 7 {
				return nil, xerr.Protocol("binmap.Deserialize", fmt.Errorf("malformed cell line: %q", line))
			}
			b, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return nil, xerr.Protocol("binmap.Deserialize", err)
			}
			free := fields[3] == "true"
			left, err := decodeHalf(fields[4])
			if err != nil {
				return nil, err
			}
			right, err := decodeHalf(fields[5])
			if err != nil {
				return nil, err
			}
			next, err := strconv.ParseUint(fields[6], 10, 32)
			if err != nil {
				return nil, xerr.Protocol("binmap.Deserialize", err)
			}
			m.cells = append(m.cells, cell{bin: bin.Bin(b), free: free, left: left, right: right, freeNext: uint32(next)})
		default:
			return nil, xerr.Protocol("binmap.Deserialize", fmt.Errorf("unknown header %q", fields[0]))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(m.cells) != nCells {
		return nil, xerr.Protocol("binmap.Deserialize", fmt.Errorf("header declared %d cells, got %d", nCells, len(m.cells)))
	}
	return m, nil
}

// RootBin reports the bin currently rooting the map (bin.NONE if untouched).
func (m *Binmap) RootBin() bin.Bin { return m.rootBin }

// CellsAllocated reports the number of allocated (non-free) cells, for
// metrics and tests.
func (m *Binmap) CellsAllocated() int {
	n := 0
	for _, c := range m.cells {
		if !c.free {
			n++
		}
	}
	return n
}
