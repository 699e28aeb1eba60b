// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

// Transaction is an application operation carried out with one station.
// The network owns the bookkeeping (id, watchdog, retries, focus) in the
// Session passed to every callback; implementations only hold their own
// operation state.
type Transaction interface {
	// OnFocusStart is called once when the transaction is granted focus.
	// It is normally where the first command is posted.
	OnFocusStart(s *Session) error

	// OnMessage receives every frame addressed to the transaction id other
	// than please-wait notices, which the session absorbs.
	OnMessage(s *Session, msg *Packet) error
}

// FailureHandler is implemented by transactions that react to failures.
// Transactions without it are closed.
type FailureHandler interface {
	OnFailure(s *Session, reason FailureReason)
}

// LinkCloser is implemented by transactions whose completion allows the
// link to be shut down.
type LinkCloser interface {
	WillClose() bool
}

// TableDefsObserver is notified when the station's table definitions change.
type TableDefsObserver interface {
	OnTableDefsChanged(s *Session)
}

// Prioritized transactions choose their focus and message priority.
// Others run at PriorityNormal.
type Prioritized interface {
	Priority() Priority
}

// Named transactions report a name in log output.
type Named interface {
	Name() string
}

func transactionName(t Transaction) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return "transaction"
}

// shutdownTran sends the empty frame that lets the link close once every
// other transaction of the station is satisfied.
type shutdownTran struct{}

func (shutdownTran) Name() string    { return "shut down" }
func (shutdownTran) WillClose() bool { return true }

func (shutdownTran) OnFocusStart(s *Session) error {
	s.SetSatisfied(true)
	msg := NewPacket(ProtocolBMP5, 0)
	if err := s.PostMessage(msg); err != nil {
		return err
	}
	s.Close()
	return nil
}

func (shutdownTran) OnMessage(*Session, *Packet) error { return nil }

// manageCommsTran is never satisfied and never asks for focus, so while it
// exists the station never shuts the link down.
type manageCommsTran struct{}

func (manageCommsTran) Name() string                      { return "manage comms" }
func (manageCommsTran) Priority() Priority                { return PriorityLow }
func (manageCommsTran) OnFocusStart(*Session) error       { return nil }
func (manageCommsTran) OnMessage(*Session, *Packet) error { return nil }
