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
	"math"
	"time"
)

// speedInterval and speedFudge are the 5-second window and 1-second
// start-up smoothing spec.md §4.8's current_speed names.
const (
	speedInterval = 5 * time.Second
	speedFudge    = 1 * time.Second
)

// SpeedEstimator is a moving average over bytes added at arbitrary times,
// the same decaying-window estimator the original transfer used to report
// current_speed for each direction.
type SpeedEstimator struct {
	tStart, tEnd time.Time
	speed        float64
	max          float64
}

// NewSpeedEstimator returns an estimator reading zero until its first
// Add, with t_start backdated by speedFudge so an immediate Rate() call
// before any data moves doesn't divide by a near-zero elapsed window.
func NewSpeedEstimator() *SpeedEstimator {
	return &SpeedEstimator{max: math.MaxFloat64}
}

// SetMax caps Rate's reported value without throttling Add itself; actual
// send-rate limiting happens wherever a channel reads this cap, not here.
func (e *SpeedEstimator) SetMax(bytesPerSec float64) {
	if bytesPerSec <= 0 {
		bytesPerSec = math.MaxFloat64
	}
	e.max = bytesPerSec
}

// Max returns the configured rate cap, or math.MaxFloat64 if none was set.
func (e *SpeedEstimator) Max() float64 { return e.max }

// Add folds amount bytes moved at now into the moving average, matching
// MovingAverageSpeed::AddPoint verbatim: the prior speed is weighted by the
// elapsed window so far, amount is added, and the whole thing is
// renormalized over the window since t_start (which itself is clamped to
// never trail more than speedInterval behind now).
func (e *SpeedEstimator) Add(amount int, now time.Time) {
	if e.tStart.IsZero() {
		e.tStart = now.Add(-speedFudge)
		e.tEnd = e.tStart
	}
	elapsed := e.tEnd.Sub(e.tStart).Seconds()
	sinceStart := now.Sub(e.tStart).Seconds() + 0.0001
	e.speed = (e.speed*elapsed + float64(amount)) / sinceStart
	e.tEnd = now
	if e.tStart.Before(now.Add(-speedInterval)) {
		e.tStart = now.Add(-speedInterval)
	}
}

// Rate folds in a zero-amount point at now (so the window keeps sliding
// even when nothing has moved recently) and returns the current estimate.
func (e *SpeedEstimator) Rate(now time.Time) float64 {
	e.Add(0, now)
	if e.speed > e.max {
		return e.max
	}
	return e.speed
}
