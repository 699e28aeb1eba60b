// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bmp5 implements BMP5 transactions carried by a pakbus.Network.
package bmp5

import (
	"errors"
	"time"

	"github.com/destiny/pakbus"
)

// ClockOutcome reports how a clock transaction ended.
type ClockOutcome int

const (
	OutcomeUnknown ClockOutcome = iota
	OutcomeChecked
	OutcomeSet
	OutcomeLinkFailed
	OutcomePortFailed
	OutcomeTimeout
	OutcomeUnroutable
	OutcomeUnsupported
	OutcomeSecurityFailed
	OutcomeComms
)

func (o ClockOutcome) String() string {
	switch o {
	case OutcomeChecked:
		return "checked"
	case OutcomeSet:
		return "set"
	case OutcomeLinkFailed:
		return "link failed"
	case OutcomePortFailed:
		return "port failed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnroutable:
		return "unroutable"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeSecurityFailed:
		return "security failed"
	case OutcomeComms:
		return "comms"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the logger answered the command.
func (o ClockOutcome) Succeeded() bool {
	return o == OutcomeChecked || o == OutcomeSet
}

// ClockResult is passed to the completion callback of a ClockTran.
type ClockResult struct {
	Outcome ClockOutcome

	// LoggerTime is the logger clock before any adjustment. It is zero
	// unless the logger answered.
	LoggerTime time.Time

	// RoundTrip is how long the answer took.
	RoundTrip time.Duration
}

var errShortClockAck = errors.New("bmp5: clock ack too short")

// ClockTran reads the logger clock, or adjusts it by a fixed offset. It runs
// at high priority.
type ClockTran struct {
	adjust     time.Duration
	onComplete func(ClockResult)

	result ClockResult
	done   bool
}

// NewClockCheck returns a transaction that only reads the logger clock.
func NewClockCheck(onComplete func(ClockResult)) *ClockTran {
	return NewClockSet(0, onComplete)
}

// NewClockSet returns a transaction that moves the logger clock by adjust.
// A zero adjustment only reads the clock.
func NewClockSet(adjust time.Duration, onComplete func(ClockResult)) *ClockTran {
	return &ClockTran{adjust: adjust, onComplete: onComplete}
}

func (t *ClockTran) Name() string {
	if t.adjust == 0 {
		return "clock check"
	}
	return "clock set"
}

func (t *ClockTran) Priority() pakbus.Priority { return pakbus.PriorityHigh }

// Result returns the outcome once the transaction has completed.
func (t *ClockTran) Result() (ClockResult, bool) { return t.result, t.done }

func (t *ClockTran) OnFocusStart(s *pakbus.Session) error {
	st := s.Station()
	if st == nil {
		return pakbus.ErrNoStation
	}
	sec, nsec := SplitNsec(t.adjust)
	cmd := pakbus.NewPacket(pakbus.ProtocolBMP5, pakbus.BMP5ClockSetCmd)
	cmd.AddUint2(st.SecurityCode())
	cmd.AddInt4(sec)
	cmd.AddInt4(nsec)
	return s.PostMessage(cmd)
}

func (t *ClockTran) OnMessage(s *pakbus.Session, msg *pakbus.Packet) error {
	if msg.Protocol != pakbus.ProtocolBMP5 || msg.MessageType != pakbus.BMP5ClockSetAck {
		return nil
	}
	resp, err := msg.ReadByte()
	if err != nil {
		return errShortClockAck
	}
	if resp != 0 {
		t.complete(s, ClockResult{Outcome: OutcomeSecurityFailed, RoundTrip: s.RoundTrip()})
		return nil
	}
	old, err := msg.ReadNsec()
	if err != nil {
		return errShortClockAck
	}
	outcome := OutcomeChecked
	if t.adjust != 0 {
		outcome = OutcomeSet
	}
	t.complete(s, ClockResult{Outcome: outcome, LoggerTime: old, RoundTrip: s.RoundTrip()})
	return nil
}

func (t *ClockTran) OnFailure(s *pakbus.Session, reason pakbus.FailureReason) {
	outcome := OutcomeUnknown
	switch reason {
	case pakbus.FailureLink:
		outcome = OutcomeLinkFailed
	case pakbus.FailurePort:
		outcome = OutcomePortFailed
	case pakbus.FailureTimeout:
		outcome = OutcomeTimeout
	case pakbus.FailureUnroutable:
		outcome = OutcomeUnroutable
	case pakbus.FailureUnsupported:
		outcome = OutcomeUnsupported
	case pakbus.FailureComms:
		outcome = OutcomeComms
	}
	t.complete(s, ClockResult{Outcome: outcome})
}

func (t *ClockTran) complete(s *pakbus.Session, r ClockResult) {
	s.Close()
	if t.done {
		return
	}
	t.result = r
	t.done = true
	if t.onComplete != nil {
		t.onComplete(r)
	}
}
