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

package sendctrl

import (
	"testing"
	"time"

	"github.com/tilinna/clock"
)

func TestNewControllerStartsInKeepAlive(t *testing.T) {
	c := New(nil)
	if c.Mode() != KeepAlive {
		t.Fatalf("Mode() = %v, want KeepAlive", c.Mode())
	}
	if c.Cwnd() != 1 {
		t.Fatalf("Cwnd() = %v, want 1", c.Cwnd())
	}
	if !c.CanSendData() {
		t.Fatal("a fresh controller should permit sending data")
	}
}

// A sub-100ms-per-chunk RTT/cwnd ratio is itself the signal SLOW_START uses
// to graduate to LEDBAT, so a fast first RTT sample can leave SLOW_START
// within the very same ACK that entered it (mirroring SwitchSendControl's
// recursive NextSendTime call into the freshly-switched mode). These tests
// use a slow enough first RTT (150ms, above the 100ms-at-cwnd-1 threshold)
// to observe SLOW_START before anything else moves it along.

func TestFirstAckPromotesToSlowStart(t *testing.T) {
	c := New(nil)
	c.OnAck(150 * time.Millisecond)
	if c.Mode() != SlowStart {
		t.Fatalf("Mode() after first ACK = %v, want SlowStart", c.Mode())
	}
}

func TestSlowStartGrowsWindowOnAck(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	c := New(mock)
	c.OnAck(300 * time.Millisecond) // KeepAlive -> SlowStart
	before := c.Cwnd()
	mock.Add(time.Second)
	c.OnAck(300 * time.Millisecond)
	if c.Mode() != SlowStart {
		t.Fatalf("Mode() = %v, want to still be in SlowStart", c.Mode())
	}
	if c.Cwnd() <= before {
		t.Fatalf("Cwnd() did not grow under SLOW_START: before=%v after=%v", before, c.Cwnd())
	}
}

func TestSlowStartLossSwitchesToLedbat(t *testing.T) {
	c := New(nil)
	c.OnAck(150 * time.Millisecond)
	if c.Mode() != SlowStart {
		t.Fatalf("Mode() = %v, want SlowStart", c.Mode())
	}
	c.OnLoss()
	if c.Mode() != LEDBAT {
		t.Fatalf("Mode() after a SLOW_START loss = %v, want LEDBAT", c.Mode())
	}
}

func TestSlowStartGraduatesToLedbatWhenWindowOutpacesRTT(t *testing.T) {
	c := New(nil)
	c.OnAck(50 * time.Millisecond) // 50ms/1 < 100ms: graduates within this same ACK
	if c.Mode() != LEDBAT {
		t.Fatalf("Mode() = %v, want LEDBAT once rtt_avg/cwnd drops below the 100ms threshold", c.Mode())
	}
}

func TestLedbatHoldsWindowAtTarget(t *testing.T) {
	c := New(nil)
	c.mode = LEDBAT
	c.cwnd = 4
	for i := 0; i < owdSampleWindow; i++ {
		c.OnOwdSample(2 * ledbatTarget)
	}
	c.owdMin = ledbatTarget // queueing delay (owdCur - owdMin) now exactly at target
	c.OnAck(100 * time.Millisecond)
	if got, want := c.Cwnd(), 4.0; got < want-0.01 || got > want+0.01 {
		t.Fatalf("Cwnd() = %v, want approximately unchanged at %v when queueing delay equals target", got, want)
	}
}

func TestLedbatShrinksWindowWhenQueueingDelayExceedsTarget(t *testing.T) {
	c := New(nil)
	c.mode = LEDBAT
	c.cwnd = 4
	for i := 0; i < owdSampleWindow; i++ {
		c.OnOwdSample(ledbatTarget * 10)
	}
	c.owdMin = 0
	before := c.Cwnd()
	c.OnAck(100 * time.Millisecond)
	if c.Cwnd() >= before {
		t.Fatalf("Cwnd() = %v, want shrunk below %v when queueing delay far exceeds target", c.Cwnd(), before)
	}
}

func TestCwndNeverDropsBelowOne(t *testing.T) {
	c := New(nil)
	c.mode = LEDBAT
	c.cwnd = 1
	for i := 0; i < 5; i++ {
		c.OnLoss()
	}
	if c.Cwnd() < 1 {
		t.Fatalf("Cwnd() = %v, want never below 1", c.Cwnd())
	}
}

func TestCloseRefusesToSendData(t *testing.T) {
	c := New(nil)
	c.mode = Close
	if c.CanSendData() {
		t.Fatal("CLOSE mode should refuse to send data")
	}
}

func TestNextSendIntervalDoublesAndCapsThenResetsOnAck(t *testing.T) {
	c := New(nil)
	first := c.NextSendInterval()
	second := c.NextSendInterval()
	if second <= first {
		t.Fatalf("NextSendInterval() did not grow: first=%v second=%v", first, second)
	}
	for i := 0; i < 10; i++ {
		c.NextSendInterval()
	}
	if got := c.NextSendInterval(); got != maxSendInterval {
		t.Fatalf("NextSendInterval() after repeated calls = %v, want capped at %v", got, maxSendInterval)
	}

	// an ACK both resets dgramsSent and promotes the mode out of KEEP_ALIVE,
	// so NextSendInterval now reports zero: with a 50ms RTT the controller
	// passes through SLOW_START into LEDBAT, which paces off the window.
	c.OnAck(50 * time.Millisecond)
	if got := c.NextSendInterval(); got != 0 {
		t.Fatalf("NextSendInterval() once past KEEP_ALIVE = %v, want 0", got)
	}
}

func TestHintBudgetFloorsCwndButNeverBelowOne(t *testing.T) {
	c := New(nil)
	c.cwnd = 3.7
	if got := c.HintBudget(); got != 3 {
		t.Fatalf("HintBudget() = %d, want 3", got)
	}
	c.cwnd = 0.2
	if got := c.HintBudget(); got != 1 {
		t.Fatalf("HintBudget() = %d, want 1 (floor)", got)
	}
}
