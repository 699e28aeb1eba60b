// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/internal/testutil"
)

const (
	hostAddr   pakbus.Address = 4094
	loggerAddr pakbus.Address = 1
)

// harness wires a network to a simulated datalogger over an in-memory pipe.
type harness struct {
	t     *testing.T
	clock *testutil.FakeClock
	pipe  *testutil.PipeStream
	net   *pakbus.Network
	st    *pakbus.Station
	dl    *testutil.Datalogger
}

func newHarness(t *testing.T, opts ...pakbus.Option) *harness {
	t.Helper()
	clock := testutil.NewFakeClock()
	pipe := testutil.NewPipeStream()
	opts = append([]pakbus.Option{pakbus.WithClock(clock)}, opts...)
	n := pakbus.NewNetwork(hostAddr, pipe, opts...)
	st := pakbus.NewStation(loggerAddr)
	require.NoError(t, n.AddStation(st))
	return &harness{
		t:     t,
		clock: clock,
		pipe:  pipe,
		net:   n,
		st:    st,
		dl:    testutil.NewDatalogger(loggerAddr, hostAddr, pipe),
	}
}

// pump runs rounds of engine pump followed by a datalogger step.
func (h *harness) pump(rounds int) {
	h.t.Helper()
	for i := 0; i < rounds; i++ {
		_, err := h.net.Pump(false)
		require.NoError(h.t, err)
		h.dl.Step()
	}
}

// pumpAfter advances the clock by d and runs one round.
func (h *harness) pumpAfter(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.pump(1)
}

// replyTo answers every message of type cmd with an empty message of type
// ack.
func (h *harness) replyTo(cmd, ack byte) {
	h.dl.Handler = func(d *testutil.Datalogger, msg *pakbus.Packet) {
		if msg.Protocol == pakbus.ProtocolBMP5 && msg.MessageType == cmd {
			d.Send(d.NewReply(msg, pakbus.ProtocolBMP5, ack))
		}
	}
}

// probe is a scriptable transaction that records its callbacks.
type probe struct {
	name     string
	priority pakbus.Priority
	command  byte

	started  int
	messages []*pakbus.Packet
	failures []pakbus.FailureReason
	order    *[]string

	onStart   func(s *pakbus.Session) error
	onMessage func(s *pakbus.Session, msg *pakbus.Packet) error
	onFailure func(s *pakbus.Session, reason pakbus.FailureReason)
}

func newProbe(name string) *probe {
	return &probe{name: name, priority: pakbus.PriorityNormal}
}

// closingProbe posts command on focus and closes on the first reply.
func closingProbe(name string, command byte) *probe {
	p := newProbe(name)
	p.command = command
	p.onMessage = func(s *pakbus.Session, _ *pakbus.Packet) error {
		s.Close()
		return nil
	}
	return p
}

func (p *probe) Name() string              { return p.name }
func (p *probe) Priority() pakbus.Priority { return p.priority }

func (p *probe) OnFocusStart(s *pakbus.Session) error {
	p.started++
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}
	if p.onStart != nil {
		if err := p.onStart(s); err != nil {
			return err
		}
	}
	if p.command != 0 {
		return s.PostMessage(pakbus.NewPacket(pakbus.ProtocolBMP5, p.command))
	}
	return nil
}

func (p *probe) OnMessage(s *pakbus.Session, msg *pakbus.Packet) error {
	p.messages = append(p.messages, msg)
	if p.onMessage != nil {
		return p.onMessage(s, msg)
	}
	return nil
}

func (p *probe) OnFailure(s *pakbus.Session, reason pakbus.FailureReason) {
	p.failures = append(p.failures, reason)
	if p.onFailure != nil {
		p.onFailure(s, reason)
		return
	}
	s.Close()
}
