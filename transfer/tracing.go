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
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

// tracerOnce installs a process-wide jaeger tracer as the opentracing
// global tracer the first time any transfer starts a span, mirroring how
// NetStore's callers wrap remote.fetch with spancontext.StartSpan against
// whatever global tracer the process configured.
var tracerOnce sync.Once
var tracerCloser io.Closer

func ensureTracer() {
	tracerOnce.Do(func() {
		tracer, closer := jaeger.NewTracer(
			"tswift-transfer",
			jaeger.NewConstSampler(true),
			jaeger.NewNullReporter(),
		)
		opentracing.SetGlobalTracer(tracer)
		tracerCloser = closer
	})
}

// startSpan opens a span under the global tracer for one picker/progress
// round-trip, the transfer-level analogue of NetStore's per-fetch span.
func startSpan(operation string) opentracing.Span {
	ensureTracer()
	return opentracing.StartSpan(operation)
}

// CloseTracing flushes and releases the process-wide tracer; callers
// should invoke this once at shutdown, after all transfers have stopped.
func CloseTracing() error {
	if tracerCloser == nil {
		return nil
	}
	return tracerCloser.Close()
}
