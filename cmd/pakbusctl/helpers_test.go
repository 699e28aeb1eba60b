// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"testing"
	"time"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/internal/testutil"
)

const (
	hostAddr   = 4094
	loggerAddr = 1
)

var loggerClock = time.Date(2024, time.February, 29, 23, 59, 58, 250000000, time.UTC)

type clockRequest struct {
	security  uint16
	sec, nsec int32
}

// fakeLogger serves a simulated datalogger over one connection. Every clock
// command is reported on cmds and acknowledged with loggerClock.
type fakeLogger struct {
	cmds chan clockRequest
	done chan error
}

func serveLogger(t *testing.T, conn net.Conn) *fakeLogger {
	t.Helper()
	f := &fakeLogger{
		cmds: make(chan clockRequest, 16),
		done: make(chan error, 1),
	}
	dl := testutil.NewDatalogger(loggerAddr, hostAddr, testutil.NewPipeStream())
	dl.Handler = func(d *testutil.Datalogger, msg *pakbus.Packet) {
		if msg.Protocol != pakbus.ProtocolBMP5 || msg.MessageType != pakbus.BMP5ClockSetCmd {
			return
		}
		var c clockRequest
		c.security, _ = msg.ReadUint2()
		c.sec, _ = msg.ReadInt4()
		c.nsec, _ = msg.ReadInt4()
		select {
		case f.cmds <- c:
		default:
		}
		ack := d.NewReply(msg, pakbus.ProtocolBMP5, pakbus.BMP5ClockSetAck)
		ack.AddByte(0)
		ack.AddNsec(loggerClock)
		d.Send(ack)
	}
	go func() {
		f.done <- dl.Serve(conn)
		conn.Close()
	}()
	return f
}

// wait blocks until the datalogger side has stopped.
func (f *fakeLogger) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("datalogger did not stop")
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Node = hostAddr
	cfg.Station = loggerAddr
	cfg.Timezone = "UTC"
	cfg.PumpInterval = 10 * time.Millisecond
	return cfg
}
