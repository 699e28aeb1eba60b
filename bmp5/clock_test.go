// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmp5_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/bmp5"
	"github.com/destiny/pakbus/internal/testutil"
)

var loggerClock = time.Date(2024, time.February, 29, 23, 59, 58, 250000000, time.UTC)

type clockCmd struct {
	security  uint16
	sec, nsec int32
}

type rig struct {
	t     *testing.T
	clock *testutil.FakeClock
	net   *pakbus.Network
	st    *pakbus.Station
	dl    *testutil.Datalogger
	cmds  []clockCmd
}

// newRig answers clock commands like a logger protected by security code
// 0x1234.
func newRig(t *testing.T) *rig {
	clock := testutil.NewFakeClock()
	pipe := testutil.NewPipeStream()
	n := pakbus.NewNetwork(4094, pipe, pakbus.WithClock(clock))
	st := pakbus.NewStation(1)
	require.NoError(t, n.AddStation(st))
	r := &rig{t: t, clock: clock, net: n, st: st, dl: testutil.NewDatalogger(1, 4094, pipe)}
	r.dl.Handler = func(d *testutil.Datalogger, msg *pakbus.Packet) {
		if msg.MessageType != pakbus.BMP5ClockSetCmd {
			return
		}
		var c clockCmd
		c.security, _ = msg.ReadUint2()
		c.sec, _ = msg.ReadInt4()
		c.nsec, _ = msg.ReadInt4()
		r.cmds = append(r.cmds, c)

		ack := d.NewReply(msg, pakbus.ProtocolBMP5, pakbus.BMP5ClockSetAck)
		if c.security != 0x1234 {
			ack.AddByte(1)
		} else {
			ack.AddByte(0)
			ack.AddNsec(loggerClock)
		}
		d.Send(ack)
	}
	return r
}

func (r *rig) run(tran *bmp5.ClockTran) bmp5.ClockResult {
	r.t.Helper()
	_, err := r.st.AddTransaction(tran)
	require.NoError(r.t, err)
	for i := 0; i < 40; i++ {
		if res, done := tran.Result(); done {
			return res
		}
		_, err := r.net.Pump(false)
		require.NoError(r.t, err)
		r.dl.Step()
		r.clock.Advance(time.Second)
	}
	r.t.Fatal("clock transaction did not complete")
	return bmp5.ClockResult{}
}

func TestClockCheck(t *testing.T) {
	r := newRig(t)
	r.st.SetSecurityCode(0x1234)
	var calls int
	tran := bmp5.NewClockCheck(func(bmp5.ClockResult) { calls++ })
	assert.Equal(t, "clock check", tran.Name())
	assert.Equal(t, pakbus.PriorityHigh, tran.Priority())

	res := r.run(tran)
	assert.Equal(t, bmp5.OutcomeChecked, res.Outcome)
	assert.True(t, res.Outcome.Succeeded())
	assert.True(t, loggerClock.Equal(res.LoggerTime), "logger time %v", res.LoggerTime)
	assert.Equal(t, 1, calls)

	require.Len(t, r.cmds, 1)
	assert.Equal(t, clockCmd{security: 0x1234}, r.cmds[0])
}

func TestClockSet(t *testing.T) {
	r := newRig(t)
	r.st.SetSecurityCode(0x1234)
	tran := bmp5.NewClockSet(-90*time.Second-500*time.Millisecond, nil)
	assert.Equal(t, "clock set", tran.Name())

	res := r.run(tran)
	assert.Equal(t, bmp5.OutcomeSet, res.Outcome)
	require.Len(t, r.cmds, 1)
	assert.Equal(t, int32(-90), r.cmds[0].sec)
	assert.Equal(t, int32(-500000000), r.cmds[0].nsec)
}

func TestClockSecurityFailed(t *testing.T) {
	r := newRig(t)
	r.st.SetSecurityCode(0x4321)
	res := r.run(bmp5.NewClockSet(time.Second, nil))
	assert.Equal(t, bmp5.OutcomeSecurityFailed, res.Outcome)
	assert.False(t, res.Outcome.Succeeded())
	assert.True(t, res.LoggerTime.IsZero())
}

func TestClockTimeout(t *testing.T) {
	r := newRig(t)
	r.dl.Handler = nil
	res := r.run(bmp5.NewClockCheck(nil))
	assert.Equal(t, bmp5.OutcomeTimeout, res.Outcome)
	assert.Len(t, r.dl.Messages(pakbus.ProtocolBMP5, pakbus.BMP5ClockSetCmd), 4)
}

func TestClockShortAck(t *testing.T) {
	r := newRig(t)
	r.dl.Handler = func(d *testutil.Datalogger, msg *pakbus.Packet) {
		if msg.MessageType == pakbus.BMP5ClockSetCmd {
			ack := d.NewReply(msg, pakbus.ProtocolBMP5, pakbus.BMP5ClockSetAck)
			ack.AddByte(0)
			ack.AddUint2(7)
			d.Send(ack)
		}
	}
	res := r.run(bmp5.NewClockCheck(nil))
	assert.Equal(t, bmp5.OutcomeComms, res.Outcome)
}

func TestClockLinkFailure(t *testing.T) {
	r := newRig(t)
	r.dl.Silent = true
	res := r.run(bmp5.NewClockCheck(nil))
	assert.Equal(t, bmp5.OutcomeLinkFailed, res.Outcome)
}

func TestClockOutcomeString(t *testing.T) {
	assert.Equal(t, "security failed", bmp5.OutcomeSecurityFailed.String())
	assert.Equal(t, "unknown", bmp5.ClockOutcome(42).String())
}
