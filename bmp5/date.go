// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmp5

import "time"

// SplitNsec splits d into whole seconds and nanoseconds as carried by clock
// set commands. Both parts have the sign of d.
func SplitNsec(d time.Duration) (sec, nsec int32) {
	return int32(d / time.Second), int32(d % time.Second)
}

// WallClock returns the wall clock reading of t in loc, labelled UTC.
// Loggers keep a zone-less wall clock, and their time stamps decode as UTC.
func WallClock(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	w := t.In(loc)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC)
}

// Adjustment returns the offset that brings a logger clock read as logger
// in line with host, taking the reading to be half a round trip old.
func Adjustment(logger, host time.Time, roundTrip time.Duration) time.Duration {
	return host.Sub(logger.Add(roundTrip / 2))
}

// NeedsAdjustment reports whether the logger clock is off by more than
// tolerance.
func NeedsAdjustment(adjust, tolerance time.Duration) bool {
	return adjust > tolerance || adjust < -tolerance
}
