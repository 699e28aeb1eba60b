// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"fmt"
	"time"
)

const maxRetries = 3

// Session is the network's record of one active transaction. It is the
// handle a Transaction uses to post messages and manage its focus.
type Session struct {
	net      *Network
	station  Address
	id       byte
	tran     Transaction
	priority Priority
	seq      uint64

	satisfied  bool
	closed     bool
	lastSent   *Packet
	resent     *Packet
	watchdog   timer
	retries    int
	minTimeout time.Duration
	roundTrip  time.Duration

	stats SessionStats
}

// SessionStats counts the traffic of one transaction.
type SessionStats struct {
	Sent     int
	Retries  int
	Failures int
}

func newSession(n *Network, st *Station, id byte, t Transaction) *Session {
	s := &Session{
		net:      n,
		station:  st.address,
		id:       id,
		tran:     t,
		priority: PriorityNormal,
	}
	if p, ok := t.(Prioritized); ok {
		s.priority = p.Priority()
	}
	return s
}

// ID returns the transaction number carried by the session's messages.
func (s *Session) ID() byte { return s.id }

// Name returns the transaction name used in logs.
func (s *Session) Name() string { return transactionName(s.tran) }

// Priority returns the focus priority of the transaction.
func (s *Session) Priority() Priority { return s.priority }

// Transaction returns the transaction the session drives.
func (s *Session) Transaction() Transaction { return s.tran }

// Satisfied reports whether the transaction has stopped sponsoring work.
func (s *Session) Satisfied() bool { return s.satisfied }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed }

// Stats returns the message counters of the session.
func (s *Session) Stats() SessionStats { return s.stats }

// Retries returns how often the outstanding message has been resent.
func (s *Session) Retries() int { return s.retries }

// RoundTrip returns the time the last response took to arrive.
func (s *Session) RoundTrip() time.Duration { return s.roundTrip }

// SetSatisfied marks whether the transaction still sponsors work.
func (s *Session) SetSatisfied(v bool) { s.satisfied = v }

// Station returns the owning station, or nil once it has been removed.
func (s *Session) Station() *Station { return s.net.stations[s.station] }

// String identifies the session as name(station/id).
func (s *Session) String() string {
	return fmt.Sprintf("%s(%s/%d)", s.Name(), s.station, s.id)
}

// PostMessage addresses msg to the station under this transaction id and
// queues it.
func (s *Session) PostMessage(msg *Packet) error {
	if s.closed {
		return ErrSessionClosed
	}
	st := s.Station()
	if st == nil {
		return ErrNoStation
	}
	msg.TranNo = s.id
	msg.Priority = s.priority
	msg.owner = s
	st.addressMessage(msg)
	s.net.postMessage(msg)
	return nil
}

// RequestFocus queues the session for focus. Requests are served by
// priority, then in the order they were made.
func (s *Session) RequestFocus() { s.net.requestFocus(s) }

// ReleaseFocus gives up focus, or leaves the focus queue.
func (s *Session) ReleaseFocus() { s.net.releaseFocus(s) }

// Close releases focus and hands the transaction to the station for
// removal. Closing more than once has no further effect.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.net.releaseFocus(s)
	if st := s.Station(); st != nil {
		st.removeSession(s)
	}
}

// ChangeID moves the transaction to a fresh id, for follow-up requests
// that must not be confused with replies to the old one.
func (s *Session) ChangeID() (byte, error) {
	st := s.Station()
	if st == nil {
		return s.id, ErrNoStation
	}
	return st.changeSessionID(s)
}

// ResetWatchdog forgets the outstanding message, for transactions that keep
// waiting after a partial response. The retry count starts over and no
// timeout runs until the next message is sent.
func (s *Session) ResetWatchdog() {
	s.retries = 0
	s.lastSent = nil
	s.resent = nil
	s.watchdog.clear()
}

// Fail reports reason to the transaction as if the network had detected it.
func (s *Session) Fail(reason FailureReason) {
	s.stats.Failures++
	s.fail(reason)
}

func (s *Session) fail(reason FailureReason) {
	if s.closed {
		return
	}
	s.net.log.Debug("%s failed: %s", s, reason)
	if h, ok := s.tran.(FailureHandler); ok {
		h.OnFailure(s, reason)
		return
	}
	s.Close()
}

func (s *Session) willClose() bool {
	c, ok := s.tran.(LinkCloser)
	return ok && c.WillClose()
}

// timeout is the station round trip estimate, extended by any please-wait
// estimate from the station.
func (s *Session) timeout() time.Duration {
	rtn := DefaultRoundTrip
	if st := s.Station(); st != nil {
		rtn = st.roundTrip
	}
	if s.minTimeout > rtn {
		rtn = s.minTimeout
	}
	return rtn
}

func (s *Session) checkState(now time.Time) {
	if s.satisfied {
		s.watchdog.clear()
		return
	}
	if s.lastSent != nil && s.watchdog.set && s.watchdog.elapsed(now) >= s.timeout() {
		s.net.comment("%s timed out waiting for %#02x", s, s.lastSent.MessageType)
		s.checkRetry()
	}
}

// checkRetry resends the last message up to three times, then fails the
// transaction with a timeout.
func (s *Session) checkRetry() {
	s.retries++
	if s.retries > maxRetries {
		s.stats.Failures++
		s.lastSent = nil
		s.watchdog.clear()
		s.fail(FailureTimeout)
		return
	}
	retry := s.lastSent
	s.lastSent = nil
	s.watchdog.clear()
	s.stats.Retries++
	s.resent = retry
	if err := s.PostMessage(retry); err != nil {
		s.net.log.Debug("%s retry not posted: %v", s, err)
	}
}

// onMessageBeingSent starts the watchdog for msg. Only a resend keeps the
// retry count of the previous command.
func (s *Session) onMessageBeingSent(msg *Packet) {
	if msg != s.resent {
		s.retries = 0
	}
	s.resent = nil
	s.watchdog.reset(s.net.clock.Now())
	s.lastSent = msg
	s.stats.Sent++
}

func (s *Session) onMessage(msg *Packet) {
	if msg.Protocol == ProtocolBMP5 && msg.MessageType == BMP5PleaseWait {
		s.onPleaseWait(msg)
		return
	}
	if s.satisfied || s.closed {
		return
	}
	s.roundTrip = s.watchdog.elapsed(s.net.clock.Now())
	s.retries = 0
	if err := s.tran.OnMessage(s, msg); err != nil {
		s.net.log.Warn("%s: %v", s, err)
		s.stats.Failures++
		s.fail(FailureComms)
	}
}

func (s *Session) onPleaseWait(msg *Packet) {
	cmd, err := msg.ReadByte()
	if err != nil {
		return
	}
	secs, err := msg.ReadUint2()
	if err != nil {
		return
	}
	if s.lastSent != nil && s.lastSent.MessageType == cmd && s.watchdog.set {
		s.watchdog.reset(s.net.clock.Now())
		s.minTimeout = time.Duration(secs) * time.Second
	}
}

func (s *Session) onFocusStart() {
	if err := s.tran.OnFocusStart(s); err != nil {
		s.net.log.Warn("%s focus start: %v", s, err)
		s.stats.Failures++
		s.fail(FailureComms)
	}
}

func (s *Session) onDeliveryFailure(code byte, proto Protocol, messageType byte) {
	if s.lastSent == nil || s.lastSent.Protocol != proto || s.lastSent.MessageType != messageType {
		return
	}
	reason, ok := deliveryFailureReason(code, s.retries+1 <= maxRetries)
	if !ok {
		return
	}
	s.stats.Failures++
	if reason == FailureLink || reason == FailureTimeout {
		if s.stats.Sent == 0 {
			s.stats.Sent++
		}
	}
	s.fail(reason)
}
