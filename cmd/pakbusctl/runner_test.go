// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/bmp5"
	"github.com/destiny/pakbus/internal/testutil"
)

func newTestRunner(t *testing.T, cfg *Config) (*runner, *fakeLogger) {
	t.Helper()
	client, server := net.Pipe()
	fl := serveLogger(t, server)
	r, err := newRunner(client, cfg, zap.NewNop(), pakbus.DevNullLogger)
	require.NoError(t, err)
	return r, fl
}

func TestRunnerClockCheck(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.SecurityCode = 0x1234
	r, fl := newTestRunner(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, off, err := r.sync(ctx, false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, bmp5.OutcomeChecked, res.Outcome)
	assert.True(t, res.LoggerTime.Equal(loggerClock))
	assert.Greater(t, off, time.Duration(0), "logger clock is in the past")

	cmd := <-fl.cmds
	assert.Equal(t, clockRequest{security: 0x1234}, cmd)

	require.NoError(t, r.Close())
	fl.wait(t)
}

func TestRunnerClockSet(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fl := newTestRunner(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, off, err := r.sync(ctx, true, time.Second)
	require.NoError(t, err)
	assert.Equal(t, bmp5.OutcomeSet, res.Outcome)

	check := <-fl.cmds
	assert.Equal(t, clockRequest{}, check)
	set := <-fl.cmds
	sec, nsec := bmp5.SplitNsec(off)
	assert.Equal(t, clockRequest{sec: sec, nsec: nsec}, set)

	require.NoError(t, r.Close())
	fl.wait(t)
}

func TestRunnerStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fl := newTestRunner(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.pumpUntil(ctx, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, r.Close())
	fl.wait(t)
}

func TestRunnerPortFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	r, err := newRunner(client, testConfig(), zap.NewNop(), pakbus.DevNullLogger)
	require.NoError(t, err)
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := r.clock(ctx, 0)
	require.ErrorIs(t, err, pakbus.ErrPortFailed)
	assert.Equal(t, bmp5.OutcomePortFailed, res.Outcome)
	require.NoError(t, r.Close())
}

func TestRunWatchRecordsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fl := newTestRunner(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wc := WatchConfig{Interval: 20 * time.Millisecond, Tolerance: time.Second}
	errc := make(chan error, 1)
	go func() { errc <- runWatch(ctx, r, wc, nil) }()

	for i := 0; i < 2; i++ {
		select {
		case cmd := <-fl.cmds:
			assert.Equal(t, clockRequest{}, cmd, "setting is disabled")
		case <-ctx.Done():
			t.Fatal("clock was not checked twice")
		}
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	require.NoError(t, r.Close())
	fl.wait(t)
}

func TestPrintClock(t *testing.T) {
	var buf bytes.Buffer
	res := bmp5.ClockResult{Outcome: bmp5.OutcomeChecked, LoggerTime: loggerClock, RoundTrip: 40 * time.Millisecond}
	require.NoError(t, printClock(&buf, res, 1500*time.Millisecond))
	assert.Equal(t, "logger time: 2024-02-29 23:59:58.250\noffset:      1.5s\nround trip:  40ms\n", buf.String())

	buf.Reset()
	res.Outcome = bmp5.OutcomeSet
	require.NoError(t, printClock(&buf, res, -2*time.Second))
	assert.Equal(t, "clock set by -2s (was 2024-02-29 23:59:58.250)\n", buf.String())

	err := printClock(&buf, bmp5.ClockResult{Outcome: bmp5.OutcomeSecurityFailed}, 0)
	assert.EqualError(t, err, "clock transaction failed: security failed")
}

func TestClockCommand(t *testing.T) {
	ln := testutil.ListenLoopback(t)
	served := make(chan *fakeLogger, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(served)
			return
		}
		served <- serveLogger(t, conn)
	}()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "node: 4094\nstation: 1\ntimezone: UTC\npump_interval: 10ms\nlog:\n  level: error\n  outputs: [" + filepath.Join(dir, "pakbusctl.log") + "]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"clock", "--config", path, "--endpoint", ln.Addr().String()})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, Execute(ctx))
	assert.Contains(t, out.String(), "logger time: 2024-02-29 23:59:58.250\n")

	fl, ok := <-served
	require.True(t, ok)
	fl.wait(t)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, Execute(context.Background()))
	assert.Equal(t, "pakbusctl version "+version+"\n", out.String())
}
