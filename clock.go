// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import "time"

// Clock supplies the wall clock that every timer in the engine is measured
// against.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock.
var SystemClock Clock = systemClock{}

// timer is an elapsed-time stopwatch. The zero value is an unset timer.
type timer struct {
	start time.Time
	set   bool
}

func (t *timer) reset(now time.Time) {
	t.start = now
	t.set = true
}

func (t *timer) clear() {
	*t = timer{}
}

func (t timer) elapsed(now time.Time) time.Duration {
	if !t.set {
		return 0
	}
	return now.Sub(t.start)
}
