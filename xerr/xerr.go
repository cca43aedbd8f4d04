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

// Package xerr centralizes the failure kinds of the transport as comparable
// sentinel values, following the enumerated-error style of
// storage/error.go: callers compare with errors.Is rather than switching on
// string content.
package xerr

import "errors"

// Kind classifies which layer of the transport a failure came from.
type Kind int

const (
	KindProtocol Kind = iota
	KindIntegrity
	KindSignature
	KindDivergence
	KindMonotonicity
	KindStorage
	KindAllocation
	KindAddress
	KindDuplicateChannel
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindIntegrity:
		return "integrity"
	case KindSignature:
		return "signature"
	case KindDivergence:
		return "divergence"
	case KindMonotonicity:
		return "monotonicity"
	case KindStorage:
		return "storage"
	case KindAllocation:
		return "allocation"
	case KindAddress:
		return "address"
	case KindDuplicateChannel:
		return "duplicate-channel"
	case KindNotFound:
		return "not-found"
	case KindRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}

// Error is a typed protocol error. Close actions (channel/transfer
// termination) are driven by Kind, not by string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, wrapped error) *Error {
	return &Error{Kind: kind, Op: op, Err: wrapped}
}

// Sentinel convenience constructors, one per Kind except KindRateLimited,
// whose failures are reported through the plain ErrRateLimited below.
func Protocol(op string, err error) error        { return New(KindProtocol, op, err) }
func Integrity(op string, err error) error       { return New(KindIntegrity, op, err) }
func Signature(op string, err error) error       { return New(KindSignature, op, err) }
func Divergence(op string, err error) error      { return New(KindDivergence, op, err) }
func Monotonicity(op string, err error) error    { return New(KindMonotonicity, op, err) }
func Storage(op string, err error) error         { return New(KindStorage, op, err) }
func Allocation(op string, err error) error      { return New(KindAllocation, op, err) }
func Address(op string, err error) error         { return New(KindAddress, op, err) }
func DuplicateChannel(op string, err error) error { return New(KindDuplicateChannel, op, err) }
func NotFound(op string, err error) error        { return New(KindNotFound, op, err) }

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == kind
	}
	return false
}

// ErrRateLimited is returned by pickers to mean "nothing pickable right
// now". It is not a protocol failure, so it is a plain sentinel rather than
// a Kind-carrying *Error, letting callers use a cheap == check.
var ErrRateLimited = errors.New("rate limited: no pickable bin")
