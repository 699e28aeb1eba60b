// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"sync/atomic"
	"time"
)

// Network multiplexes the transactions of every registered station over one
// stream. It is driven by Pump and is not safe for concurrent use; a
// ConnStream lets a separate goroutine feed it input.
type Network struct {
	addr   Address
	stream Stream
	log    *Logger
	clock  Clock
	rnd    *rand.Rand

	allowUnquoted  bool
	reportedVerify uint16
	delay          time.Duration

	decoder *Decoder
	pending []byte
	readBuf [512]byte

	stations  map[Address]*Station
	links     map[Address]*link
	neighbors map[Address]*neighbor
	unsent    []*Packet
	defunct   []Address
	verify    *neighbor

	focus      *Session
	focusQueue []*Session
	focusSeq   uint64

	monitors []IOMonitor
	pumping  bool
	portErr  error

	stats netStats
}

// Stats is a snapshot of the network counters. It may be read from any
// goroutine.
type Stats struct {
	CommsAttempts int64
	CommsRetries  int64
	CommsFailures int64
	FramesIn      int64
	FramesOut     int64
	BytesIn       int64
	BytesOut      int64
	Links         int64
	Neighbors     int64
	Stations      int64
}

type netStats struct {
	attempts, retries, failures atomic.Int64
	framesIn, framesOut         atomic.Int64
	bytesIn, bytesOut           atomic.Int64
	links, neighbors, stations  atomic.Int64
}

// NewNetwork creates a network node at addr running over stream. A nil
// stream may be supplied later with SetStream.
func NewNetwork(addr Address, stream Stream, opts ...Option) *Network {
	n := &Network{
		addr:           addr,
		stream:         stream,
		log:            DevNullLogger,
		clock:          SystemClock,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		reportedVerify: InfiniteVerifyInterval,
		delay:          DefaultLinkDelay,
		decoder:        NewDecoder(),
		stations:       make(map[Address]*Station),
		links:          make(map[Address]*link),
		neighbors:      make(map[Address]*neighbor),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Address returns the PakBus address of this node.
func (n *Network) Address() Address { return n.addr }

// SetStream attaches a fresh stream, clearing any earlier port failure.
func (n *Network) SetStream(s Stream) {
	n.stream = s
	n.portErr = nil
	n.pending = nil
	n.decoder.Reset()
}

// AddMonitor registers a low level I/O monitor.
func (n *Network) AddMonitor(m IOMonitor) { n.monitors = append(n.monitors, m) }

// RemoveMonitor unregisters m.
func (n *Network) RemoveMonitor(m IOMonitor) {
	n.monitors = slices.DeleteFunc(n.monitors, func(x IOMonitor) bool { return x == m })
}

// AddStation attaches st to the network.
func (n *Network) AddStation(st *Station) error {
	if _, dup := n.stations[st.address]; dup {
		return fmt.Errorf("%w: %s", ErrStationExists, st.address)
	}
	st.net = n
	n.stations[st.address] = st
	n.stats.stations.Store(int64(len(n.stations)))
	return nil
}

// RemoveStation detaches the station at addr, failing its transactions
// with a link failure.
func (n *Network) RemoveStation(addr Address) {
	st, ok := n.stations[addr]
	if !ok {
		return
	}
	st.onLinkFailure(FailureLink)
	st.checkState(n.clock.Now())
	delete(n.stations, addr)
	n.stats.stations.Store(int64(len(n.stations)))
}

// Station returns the station at addr, or nil.
func (n *Network) Station(addr Address) *Station { return n.stations[addr] }

// Focus returns the session that currently holds focus, if any.
func (n *Network) Focus() *Session { return n.focus }

// Stats returns a snapshot of the counters.
func (n *Network) Stats() Stats {
	return Stats{
		CommsAttempts: n.stats.attempts.Load(),
		CommsRetries:  n.stats.retries.Load(),
		CommsFailures: n.stats.failures.Load(),
		FramesIn:      n.stats.framesIn.Load(),
		FramesOut:     n.stats.framesOut.Load(),
		BytesIn:       n.stats.bytesIn.Load(),
		BytesOut:      n.stats.bytesOut.Load(),
		Links:         n.stats.links.Load(),
		Neighbors:     n.stats.neighbors.Load(),
		Stations:      n.stats.stations.Load(),
	}
}

// AddComment passes a diagnostic comment to the logger and monitors.
func (n *Network) AddComment(format string, args ...interface{}) {
	n.comment(format, args...)
}

// Pump processes available input and advances every timer. closeLinks asks
// unquoted links, which otherwise stay open, to close. It returns the
// number of links still open.
func (n *Network) Pump(closeLinks bool) (int, error) {
	if n.pumping {
		return 0, ErrReentrantPump
	}
	n.pumping = true
	defer func() { n.pumping = false }()

	if n.stream == nil {
		if n.portErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrPortFailed, n.portErr)
		}
		return 0, ErrNoStream
	}

	n.checkIncoming()
	for _, addr := range slices.Sorted(maps.Keys(n.links)) {
		if l, ok := n.links[addr]; ok {
			l.checkStatus(n, closeLinks)
		}
	}
	now := n.clock.Now()
	for _, addr := range slices.Sorted(maps.Keys(n.stations)) {
		if st, ok := n.stations[addr]; ok {
			st.checkState(now)
		}
	}

	n.checkVerify(now)
	n.checkFocus()

	for _, m := range n.monitors {
		m.CheckState()
	}

	for _, addr := range n.defunct {
		if l, ok := n.links[addr]; ok && l.offline() {
			delete(n.links, addr)
		}
	}
	n.defunct = n.defunct[:0]

	if n.stream != nil {
		for i := 0; i < len(n.unsent); i++ {
			nd := n.unsent[i].NeighborDest
			if _, ok := n.links[nd]; !ok {
				n.linkFor(nd).onMessageReady(n)
			}
		}
	}

	n.stats.links.Store(int64(len(n.links)))
	n.stats.neighbors.Store(int64(len(n.neighbors)))
	if n.stream == nil && n.portErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrPortFailed, n.portErr)
	}
	return len(n.links), nil
}

func (n *Network) checkIncoming() {
	for n.stream != nil {
		if len(n.pending) == 0 {
			k, err := n.stream.ReadAvailable(n.readBuf[:])
			if k > 0 {
				n.stats.bytesIn.Add(int64(k))
				for _, m := range n.monitors {
					m.OnIO(n.readBuf[:k], false)
				}
				n.pending = append(n.pending[:0], n.readBuf[:k]...)
			}
			if err != nil {
				n.portFailure(err)
				return
			}
			if k == 0 {
				return
			}
		}
		p, used := n.decoder.Decode(n.pending)
		n.pending = n.pending[used:]
		if p != nil {
			n.route(p)
		}
	}
}

// route hands a decoded frame to the link of the neighbor that sent it.
func (n *Network) route(p *Packet) {
	if p.NeighborDest != BroadcastAddress && p.NeighborDest != n.addr {
		return
	}
	n.stats.framesIn.Add(1)
	n.log.Trace("rx %s", p)
	switch p.SubProtocol {
	case SubControl:
		if n.allowUnquoted && p.SupportsUnquoted() {
			n.linkFor(p.NeighborSrc).sub = SubUnquoted
			n.comment("neighbor %s switched to unquoted", p.NeighborSrc)
			return
		}
		if p.ControlType != ControlRing {
			return
		}
		p.SubProtocol = SubLinkState
	case SubLinkState, SubUnquoted:
	default:
		n.log.Debug("ignoring %s frame", p.SubProtocol)
		return
	}
	n.linkFor(p.NeighborSrc).processIncoming(n, p)
}

func (n *Network) linkFor(neighbor Address) *link {
	l, ok := n.links[neighbor]
	if !ok {
		l = newLink(neighbor, n.clock.Now())
		n.links[neighbor] = l
	}
	return l
}

func (n *Network) neighborFor(addr Address) *neighbor {
	nb, ok := n.neighbors[addr]
	if !ok {
		nb = newNeighbor(addr)
		n.neighbors[addr] = nb
	}
	return nb
}

// deliver dispatches a full message. PakCtrl housekeeping is handled here;
// everything else goes to the station that sent it.
func (n *Network) deliver(p *Packet) {
	handled := false
	if p.Protocol == ProtocolPakCtrl {
		handled = true
		switch p.MessageType {
		case PakCtrlDeliveryFailure:
			n.onDeliveryFailure(p)
		case PakCtrlHelloCmd:
			n.onHelloCmd(p)
		case PakCtrlHelloAck:
			n.onHelloAck(p)
		case PakCtrlHelloReq:
			n.onHelloReq(p)
		case PakCtrlEchoCmd:
			n.onEchoCmd(p)
		default:
			handled = false
		}
	}
	if !handled {
		if st, ok := n.stations[p.Src]; ok {
			st.onMessageReceived(p)
		} else {
			n.log.Debug("message %#02x from unknown station %s", p.MessageType, p.Src)
		}
	}

	if nb, ok := n.neighbors[p.NeighborSrc]; ok {
		if nb.verified.set {
			nb.verified.reset(n.clock.Now())
		}
	} else if p.NeighborSrc != BroadcastAddress {
		n.neighbors[p.NeighborSrc] = newNeighbor(p.NeighborSrc)
	}
}

// postMessage queues p and wakes the link to its neighbor.
func (n *Network) postMessage(p *Packet) {
	p.Src = n.addr
	p.NeighborSrc = n.addr
	n.unsent = append(n.unsent, p)
	n.linkFor(p.NeighborDest).onMessageReady(n)
}

func (n *Network) sendPacket(p *Packet) {
	if n.stream == nil {
		return
	}
	p.Src = n.addr
	p.NeighborSrc = n.addr
	buf := EncodeFrame(p)
	n.log.Trace("tx %s", p)
	for _, m := range n.monitors {
		m.OnIO(buf, true)
	}
	if _, err := n.stream.Write(buf); err != nil {
		n.portFailure(err)
		return
	}
	n.stats.framesOut.Add(1)
	n.stats.bytesOut.Add(int64(len(buf)))
}

// portFailure drops all link and focus state and fails every transaction.
// The network stays down until SetStream is called.
func (n *Network) portFailure(err error) {
	n.log.Warn("port failure: %v", err)
	n.comment("port failure: %v", err)
	n.portErr = err
	n.stream = nil
	n.pending = nil
	n.decoder.Reset()
	n.unsent = nil
	n.links = make(map[Address]*link)
	n.neighbors = make(map[Address]*neighbor)
	n.defunct = nil
	n.verify = nil
	n.focus = nil
	n.focusQueue = nil
	for _, addr := range slices.Sorted(maps.Keys(n.stations)) {
		if st, ok := n.stations[addr]; ok {
			st.onLinkFailure(FailurePort)
		}
	}
}

// onLinkFailure reports that neighbor can no longer be reached.
func (n *Network) onLinkFailure(neighbor Address) {
	n.comment("link failure to %s", neighbor)
	if n.verify != nil && n.verify.address == neighbor {
		delete(n.neighbors, neighbor)
		n.verify = nil
	}
	n.unsent = slices.DeleteFunc(n.unsent, func(p *Packet) bool { return p.NeighborDest == neighbor })
	for _, addr := range slices.Sorted(maps.Keys(n.stations)) {
		if st, ok := n.stations[addr]; ok && st.NeighborAddress() == neighbor {
			st.onLinkFailure(FailureLink)
		}
	}
	n.defunct = append(n.defunct, neighbor)
}

func (n *Network) onTransactionClose(s *Session) {
	n.focusQueue = slices.DeleteFunc(n.focusQueue, func(x *Session) bool { return x == s })
	if n.focus == s {
		n.focus = nil
	}
	n.stats.attempts.Add(int64(s.stats.Sent))
	n.stats.retries.Add(int64(s.stats.Retries))
	n.stats.failures.Add(int64(s.stats.Failures))
}

func (n *Network) comment(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	n.log.Debug("%s", msg)
	for _, m := range n.monitors {
		m.OnComment(msg)
	}
}

// linkHost

func (n *Network) now() time.Time           { return n.clock.Now() }
func (n *Network) localAddress() Address    { return n.addr }
func (n *Network) linkDelay() time.Duration { return n.delay }
func (n *Network) linkOffline(addr Address) { n.defunct = append(n.defunct, addr) }
func (n *Network) linkFailure(addr Address) { n.onLinkFailure(addr) }

func (n *Network) ringCapabilities() byte {
	if n.allowUnquoted {
		return CapLinkState | CapUnquoted
	}
	return CapLinkState
}

func (n *Network) waitingCount(neighbor Address) int {
	count := 0
	for _, p := range n.unsent {
		if p.NeighborDest == neighbor {
			count++
		}
	}
	return count
}

// nextOutMessage removes and returns the highest priority message queued
// for neighbor. Equal priorities leave in queue order.
func (n *Network) nextOutMessage(neighbor Address) *Packet {
	idx := -1
	for i, p := range n.unsent {
		if p.NeighborDest != neighbor {
			continue
		}
		if idx < 0 || p.Priority > n.unsent[idx].Priority {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	p := n.unsent[idx]
	n.unsent = slices.Delete(n.unsent, idx, idx+1)

	if p.Protocol == ProtocolPakCtrl && p.MessageType == PakCtrlHelloCmd && n.verify != nil {
		n.verify.sent.reset(n.clock.Now())
	} else if st, ok := n.stations[p.Dest]; ok {
		st.onMessageBeingSent(p)
	}
	return p
}
