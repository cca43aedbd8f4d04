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

package tracker

import (
	"fmt"
	"strconv"
)

// decodeBencode parses one bencoded value (dict, list, integer, or byte
// string) starting at data[pos], returning the decoded value and the index
// just past it. The corpus carries no bencode library, so this is the one
// piece of the tracker client built directly against the standard library:
// it is a handful of lines against a well-specified grammar, not a concern
// worth a dependency of its own.
func decodeBencode(data []byte, pos int) (interface{}, int, error) {
	if pos >= len(data) {
		return nil, pos, fmt.Errorf("tracker: bencode: unexpected end of input")
	}
	switch {
	case data[pos] == 'd':
		return decodeDict(data, pos+1)
	case data[pos] == 'l':
		return decodeList(data, pos+1)
	case data[pos] == 'i':
		return decodeInt(data, pos+1)
	case data[pos] >= '0' && data[pos] <= '9':
		return decodeString(data, pos)
	default:
		return nil, pos, fmt.Errorf("tracker: bencode: unrecognized value at offset %d", pos)
	}
}

func decodeInt(data []byte, pos int) (int64, int, error) {
	end := pos
	for end < len(data) && data[end] != 'e' {
		end++
	}
	if end >= len(data) {
		return 0, pos, fmt.Errorf("tracker: bencode: unterminated integer")
	}
	v, err := strconv.ParseInt(string(data[pos:end]), 10, 64)
	if err != nil {
		return 0, pos, fmt.Errorf("tracker: bencode: malformed integer: %w", err)
	}
	return v, end + 1, nil
}

func decodeString(data []byte, pos int) (string, int, error) {
	colon := pos
	for colon < len(data) && data[colon] != ':' {
		colon++
	}
	if colon >= len(data) {
		return "", pos, fmt.Errorf("tracker: bencode: malformed string length")
	}
	n, err := strconv.Atoi(string(data[pos:colon]))
	if err != nil || n < 0 {
		return "", pos, fmt.Errorf("tracker: bencode: malformed string length")
	}
	start := colon + 1
	end := start + n
	if end > len(data) {
		return "", pos, fmt.Errorf("tracker: bencode: string runs past end of input")
	}
	return string(data[start:end]), end, nil
}

func decodeList(data []byte, pos int) ([]interface{}, int, error) {
	var out []interface{}
	for pos < len(data) && data[pos] != 'e' {
		v, next, err := decodeBencode(data, pos)
		if err != nil {
			return nil, pos, err
		}
		out = append(out, v)
		pos = next
	}
	if pos >= len(data) {
		return nil, pos, fmt.Errorf("tracker: bencode: unterminated list")
	}
	return out, pos + 1, nil
}

func decodeDict(data []byte, pos int) (map[string]interface{}, int, error) {
	out := make(map[string]interface{})
	for pos < len(data) && data[pos] != 'e' {
		key, next, err := decodeString(data, pos)
		if err != nil {
			return nil, pos, err
		}
		pos = next
		v, next, err := decodeBencode(data, pos)
		if err != nil {
			return nil, pos, err
		}
		out[key] = v
		pos = next
	}
	if pos >= len(data) {
		return nil, pos, fmt.Errorf("tracker: bencode: unterminated dict")
	}
	return out, pos + 1, nil
}
