// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import "time"

const (
	// LinkTimeout closes an idle link and expires expect-more entries.
	LinkTimeout = 40 * time.Second

	// DefaultLinkDelay is the assumed one-way latency of the transport.
	DefaultLinkDelay = 2500 * time.Millisecond

	finishedTimeout = 5 * time.Second
	beforeFinish    = time.Second
	minRingTimeout  = 600 * time.Millisecond
	maxRingTimeout  = 2000 * time.Millisecond
	maxRingRetries  = 4
)

// linkHost is the part of the network a link drives. Links hold no pointer
// back to the network; the host is passed into every call.
type linkHost interface {
	now() time.Time
	localAddress() Address
	linkDelay() time.Duration
	ringCapabilities() byte
	waitingCount(neighbor Address) int
	nextOutMessage(neighbor Address) *Packet
	sendPacket(p *Packet)
	deliver(p *Packet)
	linkOffline(neighbor Address)
	linkFailure(neighbor Address)
	comment(format string, args ...interface{})
}

type expectEntry struct {
	src, dest Address
	age       timer
}

// link negotiates availability with one neighbor. Its state is one of
// LinkOffline, LinkRing (ringing), LinkReady or LinkFinished.
type link struct {
	neighbor Address
	state    LinkState
	sub      SubProtocol

	expect      []expectEntry
	watchdog    timer
	ringTimer   timer
	ringRetries int
	finishTimer timer
}

func newLink(neighbor Address, now time.Time) *link {
	l := &link{
		neighbor: neighbor,
		state:    LinkOffline,
		sub:      SubLinkState,
	}
	l.watchdog.reset(now)
	return l
}

func (l *link) offline() bool { return l.state == LinkOffline }

// checkStatus advances the link timers. closeLinks asks unquoted links,
// which never time out on their own, to go offline.
func (l *link) checkStatus(h linkHost, closeLinks bool) {
	if l.ringTimer.set {
		l.sendRing(h, false)
	}
	if l.finishTimer.set {
		l.sendFinished(h)
	}
	now := h.now()
	if l.sub != SubUnquoted {
		if l.watchdog.elapsed(now) > LinkTimeout {
			l.state = LinkOffline
		}
		if l.state == LinkFinished && l.watchdog.elapsed(now) > finishedTimeout {
			l.state = LinkOffline
		}
	} else if closeLinks {
		l.state = LinkOffline
	}
	if l.state == LinkOffline {
		h.linkOffline(l.neighbor)
	}
}

// processIncoming handles a frame received from this neighbor.
func (l *link) processIncoming(h linkHost, p *Packet) {
	if p.SubProtocol == SubUnquoted {
		l.state = LinkReady
	}
	if !p.ShortHeader {
		if p.Dest == BroadcastAddress {
			p.Dest = h.localAddress()
		}
		l.updateExpectMore(h.now(), p.Src, p.Dest, p.ExpectMore)
		h.deliver(p)
	}
	if p.NeighborDest != BroadcastAddress && p.SubProtocol != SubUnquoted {
		l.examine(h, p.LinkState)
		if l.state != LinkOffline {
			l.watchdog.reset(h.now())
		}
	}
}

// onMessageReady is called when a message for this neighbor is queued.
func (l *link) onMessageReady(h linkHost) {
	switch l.state {
	case LinkReady:
		l.onReadyToSend(h, false)
	case LinkOffline:
		l.sendRing(h, true)
	}
}

func (l *link) onReadyToSend(h linkHost, sendIfRinging bool) {
	if h.waitingCount(l.neighbor) == 0 {
		return
	}
	if l.state != LinkReady && !(l.state == LinkRing && sendIfRinging) {
		if l.state != LinkFinished && !l.ringTimer.set {
			l.sendRing(h, true)
		}
		return
	}
	msg := h.nextOutMessage(l.neighbor)
	l.ringTimer.clear()
	if msg == nil {
		return
	}
	reported := LinkReady
	l.updateExpectMore(h.now(), msg.Src, msg.Dest, msg.ExpectMore)
	if l.shouldKeep(h) {
		l.state = LinkReady
	} else {
		reported = LinkFinished
		l.state = LinkFinished
	}
	l.send(h, msg, reported)
}

// shouldKeep reports whether the link is still worth holding open. Expired
// expect-more entries are pruned.
func (l *link) shouldKeep(h linkHost) bool {
	if h.waitingCount(l.neighbor) > 0 || l.sub == SubUnquoted {
		return true
	}
	now := h.now()
	kept := l.expect[:0]
	for _, e := range l.expect {
		if e.age.elapsed(now) <= LinkTimeout {
			kept = append(kept, e)
		}
	}
	l.expect = kept
	return len(l.expect) > 0
}

// examine reacts to the link state the peer reported.
func (l *link) examine(h linkHost, peer LinkState) {
	switch peer {
	case LinkOffline:
		l.state = LinkOffline
		h.linkOffline(l.neighbor)

	case LinkRing:
		l.state = LinkReady
		if h.waitingCount(l.neighbor) == 0 {
			l.sendShort(h, LinkReady)
		} else {
			l.onReadyToSend(h, false)
		}

	case LinkReady:
		if l.state == LinkReady && !l.shouldKeep(h) {
			l.sendFinished(h)
		} else if l.state != LinkReady {
			l.state = LinkReady
			l.ringTimer.clear()
			l.onReadyToSend(h, false)
		}

	case LinkFinished:
		if l.shouldKeep(h) {
			l.ringRetries = 0
			if h.waitingCount(l.neighbor) > 0 {
				l.state = LinkRing
				l.onReadyToSend(h, true)
			} else {
				l.sendRing(h, false)
			}
			return
		}
		l.sendShort(h, LinkOffline)
		l.state = LinkOffline
		h.linkOffline(l.neighbor)

	case LinkPause:
		switch l.state {
		case LinkOffline:
			l.sendShort(h, LinkOffline)
		case LinkFinished:
		default:
			l.sendShort(h, LinkFinished)
			l.state = LinkFinished
		}
	}
}

func (l *link) updateExpectMore(now time.Time, src, dest Address, code ExpectCode) {
	if src == BroadcastAddress || dest == BroadcastAddress {
		return
	}
	if code == ExpectReverse {
		src, dest = dest, src
	}
	idx := -1
	for i, e := range l.expect {
		if e.src == src && e.dest == dest {
			idx = i
			break
		}
	}
	switch code {
	case ExpectMore, ExpectReverse:
		if idx < 0 {
			e := expectEntry{src: src, dest: dest}
			e.age.reset(now)
			l.expect = append(l.expect, e)
		} else {
			l.expect[idx].age.reset(now)
		}
	case ExpectLast:
		if idx >= 0 {
			l.expect = append(l.expect[:idx], l.expect[idx+1:]...)
		}
	}
}

func ringTimeout(delay time.Duration) time.Duration {
	if delay < minRingTimeout {
		delay = minRingTimeout
	}
	if delay > maxRingTimeout {
		delay = maxRingTimeout
	}
	return delay
}

// sendRing sends a ring request, or a retry once the ring timeout has
// passed. A fifth unanswered ring fails the link.
func (l *link) sendRing(h linkHost, first bool) {
	if l.sub == SubUnquoted {
		l.ringTimer.clear()
		l.state = LinkReady
		l.onReadyToSend(h, true)
		return
	}
	now := h.now()
	if first || !l.ringTimer.set {
		l.ringTimer.reset(now)
		l.ringRetries = 0
	}
	due := first || l.ringTimer.elapsed(now) >= ringTimeout(h.linkDelay())
	switch {
	case due && l.ringRetries <= maxRingRetries:
		if l.ringRetries > 0 {
			h.comment("ring retry %d to %s", l.ringRetries, l.neighbor)
		}
		l.ringRetries++
		l.state = LinkRing
		ring := newLinkPacket(LinkRing, l.neighbor, h.localAddress())
		ring.Capabilities = h.ringCapabilities()
		l.send(h, ring, LinkRing)
		l.ringTimer.reset(now)
	case due:
		l.ringTimer.clear()
		l.state = LinkOffline
		h.comment("no ring response from %s", l.neighbor)
		h.linkFailure(l.neighbor)
	}
}

// sendFinished moves to finished and reports it to the peer after a short
// hold-off, giving the peer a chance to continue the exchange.
func (l *link) sendFinished(h linkHost) {
	if l.sub == SubUnquoted {
		return
	}
	l.state = LinkFinished
	now := h.now()
	if !l.finishTimer.set {
		l.finishTimer.reset(now)
		return
	}
	if l.finishTimer.elapsed(now) >= beforeFinish {
		l.finishTimer.clear()
		l.sendShort(h, LinkFinished)
	}
}

func (l *link) sendShort(h linkHost, state LinkState) {
	l.send(h, newLinkPacket(state, l.neighbor, h.localAddress()), state)
}

func (l *link) send(h linkHost, p *Packet, state LinkState) {
	p.NeighborDest = l.neighbor
	p.LinkState = state
	p.SubProtocol = l.sub
	if l.sub == SubUnquoted && p.ShortHeader {
		// unquoted framing carries no link-state frames
		return
	}
	h.sendPacket(p)
}
