// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"maps"
	"slices"
	"time"
)

// requestFocus queues s for focus. Requests are served by priority, then in
// the order they were made.
func (n *Network) requestFocus(s *Session) {
	if s.closed || n.focus == s || slices.Contains(n.focusQueue, s) {
		return
	}
	n.focusSeq++
	s.seq = n.focusSeq
	n.focusQueue = append(n.focusQueue, s)
	if n.focus == nil {
		n.setNextFocus()
	}
}

func (n *Network) releaseFocus(s *Session) {
	if n.focus == s {
		n.focus = nil
	} else {
		n.focusQueue = slices.DeleteFunc(n.focusQueue, func(x *Session) bool { return x == s })
	}
	n.setNextFocus()
}

// nextCandidate returns the queue index of the session that should get
// focus next, or -1.
func (n *Network) nextCandidate() int {
	idx := -1
	for i, s := range n.focusQueue {
		if idx < 0 {
			idx = i
			continue
		}
		best := n.focusQueue[idx]
		if s.priority > best.priority || (s.priority == best.priority && s.seq < best.seq) {
			idx = i
		}
	}
	return idx
}

// setNextFocus grants focus to the best waiting session once its neighbor
// is verified. Nothing is granted while a verification is in progress.
func (n *Network) setNextFocus() {
	for n.focus == nil && n.verify == nil {
		idx := n.nextCandidate()
		if idx < 0 {
			return
		}
		s := n.focusQueue[idx]
		st := s.Station()
		if st == nil || s.closed {
			n.focusQueue = slices.Delete(n.focusQueue, idx, idx+1)
			continue
		}
		nb := n.neighborFor(st.NeighborAddress())
		if !nb.verified.set {
			n.startVerify(nb)
			return
		}
		n.focusQueue = slices.Delete(n.focusQueue, idx, idx+1)
		n.focus = s
		n.log.Debug("focus to %s", s)
		s.onFocusStart()
		return
	}
}

// checkFocus drops a focus holder that no longer needs it and hands focus
// on when nothing holds it.
func (n *Network) checkFocus() {
	if s := n.focus; s != nil {
		if s.satisfied {
			n.focus = nil
		} else if st := s.Station(); st == nil || st.sessions[s.id] != s {
			n.comment("focus holder %s is no longer kept by its station", s)
			n.focus = nil
		}
	}
	if n.focus == nil && n.verify == nil {
		n.setNextFocus()
	}
}

// checkVerify times out the verification in progress or, when nothing has
// focus, starts the next one due.
func (n *Network) checkVerify(now time.Time) {
	if nb := n.verify; nb != nil {
		if nb.sent.elapsed(now) <= verifyTimeout {
			return
		}
		n.verify = nil
		nb.sent.clear()
		nb.attempts++
		if nb.attempts >= maxVerifyAttempts {
			n.comment("neighbor %s failed verification", nb.address)
			delete(n.links, nb.address)
			delete(n.neighbors, nb.address)
			n.onLinkFailure(nb.address)
		} else {
			n.comment("verification of %s timed out", nb.address)
			nb.verified.clear()
		}
		return
	}
	if n.focus != nil {
		return
	}
	var due *neighbor
	for _, addr := range slices.Sorted(maps.Keys(n.neighbors)) {
		nb := n.neighbors[addr]
		if nb.needsVerify(now) && (due == nil || nb.attempts < due.attempts) {
			due = nb
		}
	}
	if due != nil {
		n.startVerify(due)
	}
}

// startVerify posts a hello command to nb. Its timeout runs from the moment
// the command leaves the port.
func (n *Network) startVerify(nb *neighbor) {
	n.verify = nb
	nb.sent.clear()
	n.comment("verifying neighbor %s", nb.address)
	hello := NewPacket(ProtocolPakCtrl, PakCtrlHelloCmd)
	hello.Dest = nb.address
	hello.NeighborDest = nb.address
	hello.ExpectMore = ExpectMore
	helloBody(hello, n.delay, n.reportedVerify)
	n.stats.attempts.Add(1)
	if nb.attempts > 0 {
		n.stats.retries.Add(1)
	}
	n.postMessage(hello)
}
