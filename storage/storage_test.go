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

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestSingleFileWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello, single file world")
	s := NewStorage(dir, int64(len(content)))

	n, err := s.Write(content, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(content) {
		t.Fatalf("got %d bytes written, want %d", n, len(content))
	}

	got := make([]byte, len(content))
	n, err = s.Read(got, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(content) || !bytes.Equal(got, content) {
		t.Fatalf("got %q, want %q", got[:n], content)
	}
}

// TestMultiFileRoundTrip builds a multi-file spec with a known specsize,
// writes the whole logical byte space (spec + two files) through Storage in
// arbitrarily-sized pieces, and confirms Read reconstructs every file's
// content and that the file table was laid out with the expected byte
// ranges.
func TestMultiFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	body := "a.txt 5\nb.txt 7\n"
	// the header's own size must be included in specSize, so compute it by
	// fixed point: try candidate sizes until "<marker> <candidate>\n<body>"
	// is exactly candidate bytes long.
	var header string
	for n := len(multiFileMarker) + 1 + 1 + 1 + len(body); ; n++ {
		candidate := fmt.Sprintf("%s %d\n%s", multiFileMarker, n, body)
		if len(candidate) == n {
			header = candidate
			break
		}
	}
	spec := []byte(header)

	fileA := bytes.Repeat([]byte("A"), 5)
	fileB := bytes.Repeat([]byte("B"), 7)
	whole := append(append([]byte{}, spec...), append(fileA, fileB...)...)

	s := NewStorage(dir, int64(len(whole)))

	// The first write must carry the whole marker/specsize header line in
	// one call, exactly like a real chunk write (chunks are far larger
	// than this tiny header). Subsequent writes are deliberately small and
	// boundary-crossing, to exercise the a.txt/b.txt split.
	n, err := s.Write(whole[:len(header)], 0)
	if err != nil {
		t.Fatalf("Write header: %v", err)
	}
	off := n
	const block = 4
	for off < len(whole) {
		end := off + block
		if end > len(whole) {
			end = len(whole)
		}
		n, err := s.Write(whole[off:end], int64(off))
		if err != nil {
			t.Fatalf("Write at %d: %v", off, err)
		}
		off += n
	}

	if len(s.files) != 3 {
		t.Fatalf("got %d files in table, want 3 (spec, a.txt, b.txt)", len(s.files))
	}
	if s.files[1].path != "a.txt" || s.files[1].size() != 5 {
		t.Fatalf("file 1: got path=%s size=%d, want a.txt size=5", s.files[1].path, s.files[1].size())
	}
	if s.files[2].path != "b.txt" || s.files[2].size() != 7 {
		t.Fatalf("file 2: got path=%s size=%d, want b.txt size=7", s.files[2].path, s.files[2].size())
	}

	got := make([]byte, len(whole))
	n, err := s.Read(got, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(whole) || !bytes.Equal(got, whole) {
		t.Fatalf("round trip mismatch: got %q, want %q", got[:n], whole)
	}

	aContent, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("reading a.txt from disk: %v", err)
	}
	if !bytes.Equal(aContent, fileA) {
		t.Fatalf("a.txt on disk: got %q, want %q", aContent, fileA)
	}
}

func TestReadBeforeSpecParsedReturnsNotReady(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir, 1000)
	if _, err := s.Read(make([]byte, 1), 0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
}

func TestReadPastEndOfSwarmIsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	content := []byte("short")
	s := NewStorage(dir, int64(len(content)))
	if _, err := s.Write(content, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Read(make([]byte, 4), 100); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("got %v, want ErrOutOfRange", err)
	}
}

func TestLiveWrapWrapsAndPurges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	lw, err := NewLiveWrap(path, 16)
	if err != nil {
		t.Fatalf("NewLiveWrap: %v", err)
	}
	defer lw.Close()

	for i := int64(0); i < 4; i++ {
		buf := bytes.Repeat([]byte{byte('a' + i)}, 4)
		if _, err := lw.Write(buf, i*4); err != nil {
			t.Fatalf("Write at %d: %v", i*4, err)
		}
	}
	// window is exactly full (16 bytes written, window size 16): nothing
	// purged yet, position 0 still readable.
	got := make([]byte, 4)
	if _, err := lw.Read(got, 0); err != nil {
		t.Fatalf("Read at 0 before any wrap: %v", err)
	}
	if !bytes.Equal(got, []byte("aaaa")) {
		t.Fatalf("got %q, want %q", got, "aaaa")
	}

	// writing a 5th block wraps and purges position 0..3.
	if _, err := lw.Write(bytes.Repeat([]byte{'e'}, 4), 16); err != nil {
		t.Fatalf("Write at 16: %v", err)
	}
	if _, err := lw.Read(got, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("got %v, want ErrOutOfRange for a purged position", err)
	}
	if _, err := lw.Read(got, 16); err != nil {
		t.Fatalf("Read at 16 after wrap: %v", err)
	}
	if !bytes.Equal(got, []byte("eeee")) {
		t.Fatalf("got %q, want %q", got, "eeee")
	}
}
