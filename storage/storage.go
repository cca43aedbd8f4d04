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

// Package storage maps a contiguous logical byte space — the content a hash
// tree addresses — onto one OS file or a list of them described by a
// multi-file spec occupying the first bytes of the swarm. Live swarms skip
// the spec entirely and instead wrap a fixed-size ring buffer.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tswift/tswift/xerr"
)

// multiFileMarker is the literal prefix chunk 0 carries when the swarm
// describes more than one file.
const multiFileMarker = "META-INF-multifilespec.txt"

// Storage subcase sentinels, wrapped by xerr.Storage so callers can still
// errors.Is against the specific cause.
var (
	ErrNotReady  = errors.New("storage: multi-file spec still being parsed")
	ErrOutOfRange = errors.New("storage: offset outside the swarm's byte space")
	ErrIOError   = errors.New("storage: underlying file I/O failed")
)

type state int

const (
	stateInit state = iota
	stateMultiSizeKnown
	stateMultiComplete
	stateSingleFile
)

// file is one entry of the multi-file table: the OS file backing logical
// bytes [start, end].
type file struct {
	path       string
	start, end int64 // inclusive
	f          *os.File
}

func (sf *file) size() int64 { return sf.end - sf.start + 1 }

// Storage implements Read/Write over a logical byte space backed by one or
// more OS files under baseDir, auto-detecting single- vs multi-file mode
// from the bytes written (or read) at offset 0.
type Storage struct {
	mu sync.Mutex

	baseDir   string
	totalSize int64

	state    state
	specSize int64
	specBuf  []byte // accumulates the multi-file spec until fully written
	files    []*file

	single *file

	requestGroup singleflight.Group
}

// NewStorage creates a Storage for a swarm of the given total logical size.
// Mode (single-file or multi-file) is determined the first time byte 0 is
// written or, on the receiving side, once enough of it has been read back
// to parse the spec.
func NewStorage(baseDir string, totalSize int64) *Storage {
	return &Storage{baseDir: baseDir, totalSize: totalSize, state: stateInit}
}

// Write stores nbyte bytes starting at the given logical offset, following
// the same incremental spec-detection state machine as the reference
// implementation: the first write must start at offset 0 so the marker (or
// its absence) can be inspected.
func (s *Storage) Write(buf []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(buf, offset)
}

func (s *Storage) writeLocked(buf []byte, offset int64) (int, error) {
	switch s.state {
	case stateSingleFile:
		return s.single.f.WriteAt(buf, offset-s.single.start)

	case stateInit:
		if offset != 0 {
			return 0, xerr.Storage("storage.Write", fmt.Errorf("%w: first write must start at offset 0", ErrNotReady))
		}
		if isMultiFileSpec(buf) {
			specSize, err := parseSpecSize(buf)
			if err != nil {
				return 0, xerr.Storage("storage.Write", err)
			}
			f, err := os.OpenFile(filepath.Join(s.baseDir, multiFileMarker), os.O_RDWR|os.O_CREATE, 0644)
			if err != nil {
				return 0, xerr.Storage("storage.Write", fmt.Errorf("%w: %v", ErrIOError, err))
			}
			s.specSize = specSize
			s.specBuf = make([]byte, 0, specSize)
			s.files = []*file{{path: multiFileMarker, start: 0, end: specSize - 1, f: f}}
			return s.writeSpecPart(buf, offset)
		}
		f, err := s.openSingleFile()
		if err != nil {
			return 0, xerr.Storage("storage.Write", fmt.Errorf("%w: %v", ErrIOError, err))
		}
		s.single = &file{path: f.Name(), start: 0, end: s.totalSize - 1, f: f}
		s.state = stateSingleFile
		return s.single.f.WriteAt(buf, offset)

	case stateMultiSizeKnown:
		return s.writeSpecPart(buf, offset)

	default: // stateMultiComplete
		sf, err := s.findFile(offset)
		if err != nil {
			return 0, err
		}
		n, rest, err := s.writeBuffer(sf, buf, offset)
		if err != nil {
			return 0, err
		}
		if len(rest) > 0 {
			m, err := s.writeLocked(rest, offset+int64(n))
			if err != nil {
				return n, err
			}
			return n + m, nil
		}
		return n, nil
	}
}

func (s *Storage) writeSpecPart(buf []byte, offset int64) (int, error) {
	sf := s.files[0]
	n, rest, err := s.writeBuffer(sf, buf, offset)
	if err != nil {
		return 0, err
	}
	s.specBuf = append(s.specBuf, buf[:n]...)

	if offset+int64(n) == sf.end+1 {
		s.state = stateMultiComplete
		if err := s.parseSpec(); err != nil {
			return 0, xerr.Storage("storage.Write", err)
		}
		if len(rest) > 0 {
			m, err := s.writeLocked(rest, offset+int64(n))
			if err != nil {
				return n, err
			}
			return n + m, nil
		}
		return n, nil
	}
	s.state = stateMultiSizeKnown
	return n, nil
}

// writeBuffer splits buf at sf's end if necessary, returning the number of
// bytes that belonged to sf and whatever tail remains for the next file.
func (s *Storage) writeBuffer(sf *file, buf []byte, offset int64) (int, []byte, error) {
	if offset+int64(len(buf)) <= sf.end+1 {
		if _, err := sf.f.WriteAt(buf, offset-sf.start); err != nil {
			return 0, nil, xerr.Storage("storage.writeBuffer", fmt.Errorf("%w: %v", ErrIOError, err))
		}
		return len(buf), nil, nil
	}
	head := sf.end + 1 - offset
	if _, err := sf.f.WriteAt(buf[:head], offset-sf.start); err != nil {
		return 0, nil, xerr.Storage("storage.writeBuffer", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	return int(head), buf[head:], nil
}

// Read fills buf starting at the given logical offset, recursing across
// file boundaries exactly as Write does. Concurrent reads of the same
// (offset, len) pair are deduplicated through a singleflight.Group the way
// NetStore dedupes concurrent remote fetches of the same chunk.
func (s *Storage) Read(buf []byte, offset int64) (int, error) {
	key := strconv.FormatInt(offset, 10) + ":" + strconv.Itoa(len(buf))
	v, err, _ := s.requestGroup.Do(key, func() (interface{}, error) {
		tmp := make([]byte, len(buf))
		n, err := s.readLocked(tmp, offset)
		if err != nil {
			return nil, err
		}
		return tmp[:n], nil
	})
	if err != nil {
		return 0, err
	}
	data := v.([]byte)
	copy(buf, data)
	return len(data), nil
}

func (s *Storage) readLocked(buf []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAt(buf, offset)
}

// readAt assumes s.mu is already held. It recurses across file boundaries
// exactly as writeLocked does.
func (s *Storage) readAt(buf []byte, offset int64) (int, error) {
	if s.state == stateSingleFile {
		if offset < s.single.start || offset > s.single.end {
			return 0, xerr.Storage("storage.Read", fmt.Errorf("%w: offset %d", ErrOutOfRange, offset))
		}
		return s.single.f.ReadAt(buf, offset-s.single.start)
	}
	if s.state != stateMultiComplete {
		return 0, xerr.Storage("storage.Read", ErrNotReady)
	}
	sf, err := s.findFile(offset)
	if err != nil {
		return 0, err
	}
	n, err := sf.f.ReadAt(buf, offset-sf.start)
	if err != nil && n == 0 {
		return 0, xerr.Storage("storage.Read", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if int64(n) < int64(len(buf)) && offset+int64(n) != s.totalSize {
		m, err := s.readAt(buf[n:], offset+int64(n))
		if err != nil {
			return n, err
		}
		return n + m, nil
	}
	return n, nil
}

// findFile binary-searches the ordered (start, end, path) table for the
// file covering offset.
func (s *Storage) findFile(offset int64) (*file, error) {
	i := sort.Search(len(s.files), func(i int) bool { return s.files[i].end >= offset })
	if i == len(s.files) || offset < s.files[i].start {
		return nil, xerr.Storage("storage.findFile", fmt.Errorf("%w: offset %d", ErrOutOfRange, offset))
	}
	return s.files[i], nil
}

func (s *Storage) openSingleFile() (*os.File, error) {
	return os.OpenFile(filepath.Join(s.baseDir, "content"), os.O_RDWR|os.O_CREATE, 0644)
}

func isMultiFileSpec(chunk0 []byte) bool {
	return strings.HasPrefix(string(chunk0), multiFileMarker)
}

func parseSpecSize(chunk0 []byte) (int64, error) {
	rest := string(chunk0[len(multiFileMarker):])
	rest = strings.TrimPrefix(rest, " ")
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return 0, fmt.Errorf("multi-file spec header has no newline within the first write")
	}
	size, err := strconv.ParseInt(rest[:nl], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed multi-file spec size: %w", err)
	}
	return size, nil
}

// parseSpec parses the fully-received "<path> <size>" table and opens one
// file per entry, laying each out contiguously after the spec itself.
func (s *Storage) parseSpec() error {
	sc := bufio.NewScanner(strings.NewReader(string(s.specBuf)))
	offset := s.specSize
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			// first line is the marker/specsize header itself, already
			// accounted for by the spec file entry pushed in Write.
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("malformed multi-file spec line %q", line)
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("malformed multi-file spec size in %q: %w", line, err)
		}
		f, err := os.OpenFile(filepath.Join(s.baseDir, fields[0]), os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIOError, err)
		}
		s.files = append(s.files, &file{path: fields[0], start: offset, end: offset + size - 1, f: f})
		offset += size
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

// LiveWrap is the optional live-storage mode: a fixed-size ring backing the
// live discard window. Live content has no total size and no multi-file
// spec, so it bypasses Storage's state machine entirely — writes past the
// end of the ring wrap to the beginning, and reads of positions the ring
// has already overwritten fail with ErrOutOfRange.
type LiveWrap struct {
	mu         sync.Mutex
	f          *os.File
	windowSize int64
	written    int64 // highest logical offset written so far, exclusive
}

// NewLiveWrap opens (or creates) the ring file backing a live discard
// window of windowSize bytes.
func NewLiveWrap(path string, windowSize int64) (*LiveWrap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xerr.Storage("storage.NewLiveWrap", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	return &LiveWrap{f: f, windowSize: windowSize}, nil
}

// Write assumes, as the picker/channel layer guarantees, that a single
// chunk-sized write never itself needs to wrap: only the logical
// (offset % windowSize) position changes as offset advances past the ring.
func (lw *LiveWrap) Write(buf []byte, offset int64) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	ring := offset % lw.windowSize
	if ring+int64(len(buf)) > lw.windowSize {
		return 0, xerr.Storage("storage.LiveWrap.Write", fmt.Errorf("%w: write of %d bytes at ring position %d crosses the wrap boundary", ErrOutOfRange, len(buf), ring))
	}
	n, err := lw.f.WriteAt(buf, ring)
	if err != nil {
		return n, xerr.Storage("storage.LiveWrap.Write", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if end := offset + int64(n); end > lw.written {
		lw.written = end
	}
	return n, nil
}

func (lw *LiveWrap) Read(buf []byte, offset int64) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if purged := lw.written - lw.windowSize; offset < purged {
		return 0, xerr.Storage("storage.LiveWrap.Read", fmt.Errorf("%w: offset %d already purged from the discard window", ErrOutOfRange, offset))
	}
	if offset >= lw.written {
		return 0, xerr.Storage("storage.LiveWrap.Read", fmt.Errorf("%w: offset %d not written yet", ErrOutOfRange, offset))
	}
	return lw.f.ReadAt(buf, offset%lw.windowSize)
}

func (lw *LiveWrap) Close() error { return lw.f.Close() }

// Close releases all open file handles.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.single != nil {
		if err := s.single.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range s.files {
		if f.f == nil {
			continue
		}
		if err := f.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
