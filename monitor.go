// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import "encoding/hex"

// IOMonitor observes the raw traffic and diagnostic comments of a Network.
type IOMonitor interface {
	OnIO(b []byte, transmitted bool)
	OnComment(comment string)
	// CheckState is called once per pump.
	CheckState()
}

// HexMonitor dumps traffic through a Logger at trace level. Bytes are
// collected per direction and flushed when the direction changes or on the
// next pump.
type HexMonitor struct {
	log     *Logger
	pending []byte
	tx      bool
}

// NewHexMonitor returns a monitor that writes to l.
func NewHexMonitor(l *Logger) *HexMonitor {
	return &HexMonitor{log: l}
}

func (m *HexMonitor) OnIO(b []byte, transmitted bool) {
	if len(m.pending) > 0 && m.tx != transmitted {
		m.flush()
	}
	m.tx = transmitted
	m.pending = append(m.pending, b...)
}

func (m *HexMonitor) OnComment(comment string) {
	m.flush()
	m.log.Trace("comment: %s", comment)
}

func (m *HexMonitor) CheckState() { m.flush() }

func (m *HexMonitor) flush() {
	if len(m.pending) == 0 {
		return
	}
	dir := "rx"
	if m.tx {
		dir = "tx"
	}
	m.log.Trace("%s %d bytes\n%s", dir, len(m.pending), hex.Dump(m.pending))
	m.pending = m.pending[:0]
}
