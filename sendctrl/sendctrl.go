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

// Package sendctrl implements the congestion-control state machine a
// channel drives its pacing through: KEEP_ALIVE and PING_PONG while no data
// is yet flowing, SLOW_START and AIMD while probing a window, and LEDBAT as
// the steady-state low-priority controller once a one-way-delay baseline
// has been established.
package sendctrl

import (
	"time"

	"github.com/tilinna/clock"
)

// Mode names one of the six congestion-control states.
type Mode int

const (
	KeepAlive Mode = iota
	PingPong
	SlowStart
	AIMD
	LEDBAT
	Close
)

func (m Mode) String() string {
	switch m {
	case KeepAlive:
		return "keepalive"
	case PingPong:
		return "pingpong"
	case SlowStart:
		return "slowstart"
	case AIMD:
		return "standard_aimd"
	case LEDBAT:
		return "ledbat"
	case Close:
		return "closing"
	default:
		return "unknown"
	}
}

// ledbatTarget is the queueing delay LEDBAT tries to hold the connection
// to, and ledbatGain the proportional-control gain applied to the
// off-target error each update - both taken directly from the values the
// original congestion control used.
const (
	ledbatTarget    = 25 * time.Millisecond
	ledbatGain      = 1.0 / float64(ledbatTarget)
	maxSendInterval = 58 * time.Second
)

const owdSampleWindow = 10

// Controller tracks one channel's send-control state: the current mode,
// congestion window, and the one-way-delay samples LEDBAT's offset
// computation needs. It satisfies channel.CongestionBudget.
type Controller struct {
	clk clock.Clock

	mode Mode
	cwnd float64

	rttAvg time.Duration

	owdSamples [owdSampleWindow]time.Duration
	owdCount   int
	owdIdx     int
	owdMin     time.Duration

	ackRecvRecent bool
	lossRecent    bool
	lastLossTime  time.Time

	dgramsSent int
}

// New returns a Controller starting in KEEP_ALIVE, the mode every channel
// begins in before its first ACK arrives.
func New(clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.Realtime
	}
	return &Controller{clk: clk, mode: KeepAlive, cwnd: 1, owdMin: time.Duration(1<<63 - 1)}
}

// Mode reports the controller's current state.
func (c *Controller) Mode() Mode { return c.mode }

// Cwnd reports the current congestion window, in chunks.
func (c *Controller) Cwnd() float64 { return c.cwnd }

// HintBudget returns how many more chunks may be requested right now: the
// window's integer floor, never less than one so a stalled window can still
// probe for an ACK.
func (c *Controller) HintBudget() int {
	n := int(c.cwnd)
	if n < 1 {
		n = 1
	}
	return n
}

// CanSendData reports whether this controller's mode permits pushing DATA
// at all; CLOSE is the only mode that refuses.
func (c *Controller) CanSendData() bool {
	return c.mode != Close
}

// OnAck feeds one RTT sample and advances the state machine: PING_PONG and
// KEEP_ALIVE both promote to SLOW_START on the first ACK, mirroring
// SwitchSendControl's transition out of either idle mode.
func (c *Controller) OnAck(rtt time.Duration) {
	c.ackRecvRecent = true
	c.rttAvg = ewma(c.rttAvg, rtt)
	c.dgramsSent = 0
	if c.mode == KeepAlive || c.mode == PingPong {
		c.switchTo(SlowStart)
	}
	c.advance()
}

// NextSendInterval reports how long a KEEP_ALIVE or PING_PONG channel
// should wait before its next datagram: doubling each send up to
// maxSendInterval, the Go analogue of KeepAliveNextSendTime and
// PingPongNextSendTime's backoff, reset by the next ACK. Any other mode
// paces off its window instead, so this reports zero.
func (c *Controller) NextSendInterval() time.Duration {
	if c.mode != KeepAlive && c.mode != PingPong {
		return 0
	}
	interval := time.Second << min(c.dgramsSent, 6)
	if interval > maxSendInterval {
		interval = maxSendInterval
	}
	c.dgramsSent++
	return interval
}

// OnLoss backs the window off (ratio 0.8 under LEDBAT, halving otherwise)
// no more than once per RTT, and promotes SLOW_START straight to LEDBAT on
// its first loss just as the original does.
func (c *Controller) OnLoss() {
	c.lossRecent = true
	if c.mode == SlowStart {
		c.backOff(0.5)
		c.switchTo(LEDBAT)
		return
	}
	ratio := 0.5
	if c.mode == LEDBAT {
		ratio = 0.8
	}
	c.backOff(ratio)
	c.advance()
}

// OnOwdSample records one one-way-delay sample for LEDBAT's offset
// computation, updating the rolling minimum.
func (c *Controller) OnOwdSample(owd time.Duration) {
	c.owdSamples[c.owdIdx] = owd
	c.owdIdx = (c.owdIdx + 1) % owdSampleWindow
	if c.owdCount < owdSampleWindow {
		c.owdCount++
	}
	if owd < c.owdMin {
		c.owdMin = owd
	}
}

func (c *Controller) backOff(ratio float64) {
	if c.lastLossTime.IsZero() || c.clk.Now().Sub(c.lastLossTime) >= c.rttAvg {
		c.cwnd *= ratio
		if c.cwnd < 1 {
			c.cwnd = 1
		}
		c.lastLossTime = c.clk.Now()
	}
}

func (c *Controller) switchTo(m Mode) {
	switch m {
	case KeepAlive, PingPong:
		c.cwnd = 1
	case SlowStart:
		c.cwnd = 1
	}
	c.mode = m
}

// advance runs one state-dependent window update, the Go analogue of
// NextSendTime's per-mode cwnd adjustment (this package only owns the
// window and mode; pacing the actual send clock is the channel's job).
func (c *Controller) advance() {
	switch c.mode {
	case SlowStart:
		if c.lossRecent {
			c.switchTo(LEDBAT)
			break
		}
		if time.Duration(float64(c.rttAvg)/c.cwnd) < 100*time.Millisecond {
			c.switchTo(LEDBAT)
			break
		}
		if c.ackRecvRecent {
			c.cwnd++
		}
	case AIMD:
		if c.ackRecvRecent {
			if c.cwnd > 1 {
				c.cwnd += 1 / c.cwnd
			} else {
				c.cwnd *= 2
			}
		}
	case LEDBAT:
		if c.ackRecvRecent {
			c.updateLedbat()
		}
	}
	c.ackRecvRecent = false
	c.lossRecent = false
}

// updateLedbat applies the proportional-control window update: grow or
// shrink cwnd by ledbatGain times how far the current queueing delay
// (owd_cur - owd_min) sits from ledbatTarget.
func (c *Controller) updateLedbat() {
	if c.owdCount == 0 {
		c.cwnd = 1
		return
	}
	var total time.Duration
	n := owdSampleWindow
	if c.owdCount < n {
		n = c.owdCount
	}
	for i := 0; i < n; i++ {
		total += c.owdSamples[i]
	}
	owdCur := total / time.Duration(n)
	queueingDelay := owdCur - c.owdMin
	offTarget := ledbatTarget - queueingDelay
	c.cwnd += ledbatGain * float64(offTarget) / c.cwnd
	if c.cwnd < 1 {
		c.cwnd = 1
	}
}

// ewma is the same rtt_avg-style exponential moving average channel.go
// uses: an eighth of the new sample's deviation folded in each update.
func ewma(avg, sample time.Duration) time.Duration {
	if avg == 0 {
		return sample
	}
	return avg + (sample-avg)/8
}
