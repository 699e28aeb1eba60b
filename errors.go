// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import "errors"

var (
	// ErrTruncated is returned when a read runs past the end of a message body.
	ErrTruncated = errors.New("pakbus: read past end of message")

	// ErrShortFrame is returned when a header buffer is too small for its layout.
	ErrShortFrame = errors.New("pakbus: frame too short")

	ErrPortFailed       = errors.New("pakbus: port failed")
	ErrNoStream         = errors.New("pakbus: no stream attached")
	ErrReentrantPump    = errors.New("pakbus: pump called from within pump")
	ErrNoTransactionIDs = errors.New("pakbus: no free transaction ids")
	ErrStationExists    = errors.New("pakbus: station already registered")
	ErrNoStation        = errors.New("pakbus: station not attached to a network")
	ErrRoundTripRange   = errors.New("pakbus: round trip time out of range")
	ErrPacketSizeRange  = errors.New("pakbus: max packet size out of range")
	ErrSessionClosed    = errors.New("pakbus: transaction closed")
)

// FailureReason identifies why a transaction was failed by the network.
type FailureReason int

const (
	FailureLink        FailureReason = 1 // neighbor unreachable
	FailurePort        FailureReason = 2 // stream broken
	FailureTimeout     FailureReason = 3
	FailureUnroutable  FailureReason = 4
	FailureComms       FailureReason = 5 // malformed or unexpected response
	FailureUnsupported FailureReason = 6
)

// String returns the string representation of the failure reason
func (r FailureReason) String() string {
	switch r {
	case FailureLink:
		return "link"
	case FailurePort:
		return "port"
	case FailureTimeout:
		return "timeout"
	case FailureUnroutable:
		return "unroutable"
	case FailureComms:
		return "comms"
	case FailureUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// deliveryFailureReason maps the reason code of a PakCtrl delivery failure
// message. Code 3 (destination busy) only fails a transaction whose retries
// are already spent; ok reports whether the failure applies.
func deliveryFailureReason(code byte, retriesLeft bool) (reason FailureReason, ok bool) {
	switch code {
	case 1:
		return FailureUnroutable, true
	case 3:
		if retriesLeft {
			return 0, false
		}
		return FailureTimeout, true
	case 4:
		return FailureUnsupported, true
	case 6:
		return FailureLink, true
	default:
		return FailureTimeout, true
	}
}
