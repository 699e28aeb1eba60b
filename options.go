// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"math/rand"
	"time"
)

// Option configures some aspect of a Network.
type Option func(n *Network)

// WithLogger sets the logger used for comments and frame traces.
func WithLogger(l *Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.log = l
		}
	}
}

// WithClock replaces the wall clock all timers are measured against.
func WithClock(c Clock) Option {
	return func(n *Network) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithAllowUnquoted lets neighbors that advertise it switch their link to
// the unquoted sub-protocol.
func WithAllowUnquoted(allow bool) Option {
	return func(n *Network) {
		n.allowUnquoted = allow
	}
}

// WithReportedVerifyInterval sets the verification interval, in seconds,
// reported to neighbors in hello messages. It also caps the interval used
// locally. InfiniteVerifyInterval asks dialed peers to forget this node as
// soon as the link closes.
func WithReportedVerifyInterval(secs uint16) Option {
	return func(n *Network) {
		n.reportedVerify = secs
	}
}

// WithLinkDelay sets the expected one-way delay of the transport. It drives
// the ring retry interval and the hop metric reported in hellos.
func WithLinkDelay(d time.Duration) Option {
	return func(n *Network) {
		if d > 0 {
			n.delay = d
		}
	}
}

// WithRandSource seeds the random hello-request hold-off.
func WithRandSource(src rand.Source) Option {
	return func(n *Network) {
		n.rnd = rand.New(src)
	}
}

// WithMonitor registers a low level I/O monitor.
func WithMonitor(m IOMonitor) Option {
	return func(n *Network) {
		n.monitors = append(n.monitors, m)
	}
}
