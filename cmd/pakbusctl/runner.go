// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/bmp5"
)

// runner owns one network and its station. Every method must be called
// from the same goroutine.
type runner struct {
	cfg    *Config
	log    *zap.Logger
	stream *pakbus.ConnStream
	net    *pakbus.Network
	st     *pakbus.Station
}

func dialRunner(ctx context.Context, cfg *Config, z *zap.Logger, engine *pakbus.Logger) (*runner, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.Endpoint, err)
	}
	r, err := newRunner(conn, cfg, z, engine)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func newRunner(conn net.Conn, cfg *Config, z *zap.Logger, engine *pakbus.Logger) (*runner, error) {
	var st *pakbus.Station
	if cfg.Neighbor != 0 {
		st = pakbus.NewRoutedStation(pakbus.Address(cfg.Station), pakbus.Address(cfg.Neighbor))
	} else {
		st = pakbus.NewStation(pakbus.Address(cfg.Station))
	}
	if err := st.SetRoundTrip(cfg.RoundTrip); err != nil {
		return nil, err
	}
	st.SetSecurityCode(cfg.SecurityCode)

	opts := []pakbus.Option{
		pakbus.WithLogger(engine),
		pakbus.WithAllowUnquoted(cfg.AllowUnquoted),
		pakbus.WithReportedVerifyInterval(cfg.VerifyInterval),
	}
	if cfg.LinkDelay > 0 {
		opts = append(opts, pakbus.WithLinkDelay(cfg.LinkDelay))
	}
	stream := pakbus.NewConnStream(conn)
	n := pakbus.NewNetwork(pakbus.Address(cfg.Node), stream, opts...)
	if err := n.AddStation(st); err != nil {
		stream.Close()
		return nil, err
	}
	return &runner{
		cfg:    cfg,
		log:    z.With(zap.Stringer("station", st.Address())),
		stream: stream,
		net:    n,
		st:     st,
	}, nil
}

// Close closes the connection.
func (r *runner) Close() error {
	err := r.stream.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// pumpUntil drives the network until done reports true, the context ends
// or the pump fails.
func (r *runner) pumpUntil(ctx context.Context, done func() bool) error {
	tick := time.NewTicker(r.cfg.PumpInterval)
	defer tick.Stop()
	for {
		if _, err := r.net.Pump(false); err != nil {
			return err
		}
		if done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stream.Ready():
		case <-tick.C:
		}
	}
}

// clock runs one clock transaction. A zero adjust checks the clock.
func (r *runner) clock(ctx context.Context, adjust time.Duration) (bmp5.ClockResult, error) {
	var tran *bmp5.ClockTran
	if adjust == 0 {
		tran = bmp5.NewClockCheck(nil)
	} else {
		tran = bmp5.NewClockSet(adjust, nil)
	}
	if _, err := r.st.AddTransaction(tran); err != nil {
		return bmp5.ClockResult{}, err
	}
	err := r.pumpUntil(ctx, func() bool {
		_, ok := tran.Result()
		return ok
	})
	res, _ := tran.Result()
	if err != nil {
		return res, err
	}
	r.log.Debug("clock transaction complete",
		zap.Stringer("outcome", res.Outcome),
		zap.Time("logger_time", res.LoggerTime),
		zap.Duration("round_trip", res.RoundTrip))
	return res, nil
}

// offset compares a clock result with the host clock read in the logger's
// time zone. A positive offset means the logger is behind.
func (r *runner) offset(res bmp5.ClockResult, now time.Time) (time.Duration, error) {
	loc, err := r.cfg.Location()
	if err != nil {
		return 0, err
	}
	return bmp5.Adjustment(res.LoggerTime, bmp5.WallClock(now, loc), res.RoundTrip), nil
}

// sync checks the logger clock and, when allowed and needed, sets it.
// It returns the final result and the offset observed by the check.
func (r *runner) sync(ctx context.Context, set bool, tolerance time.Duration) (bmp5.ClockResult, time.Duration, error) {
	res, err := r.clock(ctx, 0)
	if err != nil || !res.Outcome.Succeeded() {
		return res, 0, err
	}
	off, err := r.offset(res, time.Now())
	if err != nil {
		return res, 0, err
	}
	if !set || !bmp5.NeedsAdjustment(off, tolerance) {
		return res, off, nil
	}
	r.log.Info("adjusting logger clock", zap.Duration("adjustment", off))
	res, err = r.clock(ctx, off)
	return res, off, err
}
