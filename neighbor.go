// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"math/rand"
	"time"
)

const (
	// DefaultVerifyInterval is used when a peer reports no interval or an
	// infinite one.
	DefaultVerifyInterval = 300 * time.Second

	// InfiniteVerifyInterval is the reported interval meaning "never".
	InfiniteVerifyInterval uint16 = 0xFFFE

	verifyTimeout     = 5 * time.Second
	maxVerifyAttempts = 3
	maxHelloReqDelay  = 15 * time.Second
)

// neighbor holds hello verification state for one directly reachable peer.
type neighbor struct {
	address  Address
	attempts int

	verified timer // last successful hello; unset until the first one
	interval time.Duration

	delay      time.Duration // hold-off before the next verify attempt
	delayTimer timer

	sent timer // started when the hello command leaves the port
}

func newNeighbor(addr Address) *neighbor {
	return &neighbor{address: addr, interval: DefaultVerifyInterval}
}

// needsVerify reports whether a hello exchange is due.
func (nb *neighbor) needsVerify(now time.Time) bool {
	due := !nb.verified.set || nb.verified.elapsed(now) >= nb.interval*5/2
	if due && nb.delayTimer.set {
		if nb.delayTimer.elapsed(now) < nb.delay {
			return false
		}
		nb.delayTimer.clear()
	}
	return due
}

// setRandomDelay holds off the next verify for a random time below max.
func (nb *neighbor) setRandomDelay(now time.Time, r *rand.Rand, max time.Duration) {
	nb.delay = time.Duration(r.Int63n(int64(max)))
	nb.delayTimer.reset(now)
}

// onVerified records a successful hello with the negotiated interval.
func (nb *neighbor) onVerified(now time.Time, interval time.Duration) {
	nb.verified.reset(now)
	nb.interval = interval
	nb.attempts = 0
	nb.sent.clear()
}

// helloBody builds the body shared by hello commands and acks.
func helloBody(p *Packet, linkDelay time.Duration, reported uint16) {
	p.AddBool(false) // not a router
	p.AddByte(HopMetric(linkDelay))
	p.AddUint2(reported)
}

// HopMetric encodes the expected hop delay as the one byte metric carried in
// hello messages.
func HopMetric(delay time.Duration) byte {
	ms := delay.Milliseconds()
	switch {
	case ms <= 200:
		return 0
	case ms <= 1000:
		return 1
	case ms <= 5000:
		return 2
	case ms <= 10000:
		return 3
	case ms <= 20000:
		return 4
	case ms <= 60000:
		return 5
	case ms <= 300000:
		return 6
	}
	return 7
}

// NegotiateVerifyInterval combines the interval reported by a peer with the
// local reported interval. Zero or infinite peer values fall back to the
// default; a finite local value caps the result.
func NegotiateVerifyInterval(peer, local uint16) time.Duration {
	secs := uint32(peer)
	if secs == 0 || peer >= InfiniteVerifyInterval {
		secs = uint32(DefaultVerifyInterval / time.Second)
	}
	if local != 0 && uint32(local) < secs {
		secs = uint32(local)
	}
	return time.Duration(secs) * time.Second
}
