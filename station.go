// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"time"
)

const (
	DefaultRoundTrip = 5 * time.Second
	MinRoundTrip     = 5 * time.Second
	MaxRoundTrip     = 30 * time.Second

	// DefaultMaxPacketSize is the largest message body a station accepts.
	DefaultMaxPacketSize = 998
)

// Station is a remote datalogger reached through one neighbor. It keeps
// the registry of the transactions talking to it.
type Station struct {
	address      Address
	neighbor     Address
	roundTrip    time.Duration
	securityCode uint16
	maxPacket    int

	net      *Network
	sessions map[byte]*Session
	lastID   byte
	defunct  []*Session

	checkShutdown bool
	manageComms   *Session

	tableDefs []byte
	oneWay    func(*Packet)
}

// NewStation creates a station reached directly at address.
func NewStation(address Address) *Station {
	return NewRoutedStation(address, 0)
}

// NewRoutedStation creates a station reached through neighbor. A zero
// neighbor means the station is its own neighbor.
func NewRoutedStation(address, neighbor Address) *Station {
	return &Station{
		address:   address,
		neighbor:  neighbor,
		roundTrip: DefaultRoundTrip,
		maxPacket: DefaultMaxPacketSize,
		sessions:  make(map[byte]*Session),
		lastID:    byte(rand.Intn(255)),
	}
}

// Address returns the PakBus address of the station.
func (st *Station) Address() Address { return st.address }

// NeighborAddress returns the neighbor frames for this station are sent to.
func (st *Station) NeighborAddress() Address {
	if st.neighbor == 0 {
		return st.address
	}
	return st.neighbor
}

// RoundTrip returns the response time estimate.
func (st *Station) RoundTrip() time.Duration { return st.roundTrip }

// SetRoundTrip sets the response time estimate used for transaction
// watchdogs.
func (st *Station) SetRoundTrip(d time.Duration) error {
	if d < MinRoundTrip || d > MaxRoundTrip {
		return fmt.Errorf("%w: %v", ErrRoundTripRange, d)
	}
	st.roundTrip = d
	return nil
}

// SecurityCode returns the code BMP5 commands to the station carry.
func (st *Station) SecurityCode() uint16 { return st.securityCode }

// SetSecurityCode sets the code for later commands.
func (st *Station) SetSecurityCode(c uint16) { st.securityCode = c }

// MaxPacketSize returns the largest message body the station accepts.
func (st *Station) MaxPacketSize() int { return st.maxPacket }

// SetMaxPacketSize limits the message bodies transactions should request.
func (st *Station) SetMaxPacketSize(n int) error {
	if n <= 0 || n > DefaultMaxPacketSize {
		return fmt.Errorf("%w: %d", ErrPacketSizeRange, n)
	}
	st.maxPacket = n
	return nil
}

// SetOneWayHandler installs the receiver of one-way data and table
// definition messages, which belong to no transaction.
func (st *Station) SetOneWayHandler(fn func(*Packet)) { st.oneWay = fn }

// TableDefs returns the raw table definitions last stored.
func (st *Station) TableDefs() []byte { return st.tableDefs }

// SetTableDefs stores raw table definitions and notifies every transaction
// that observes them.
func (st *Station) SetTableDefs(defs []byte) {
	st.tableDefs = defs
	for _, s := range st.snapshot() {
		if o, ok := s.tran.(TableDefsObserver); ok && !s.closed {
			o.OnTableDefsChanged(s)
		}
	}
}

// Sessions returns the active sessions ordered by id.
func (st *Station) Sessions() []*Session {
	rtn := make([]*Session, 0, len(st.sessions))
	for _, s := range st.snapshot() {
		if !s.closed {
			rtn = append(rtn, s)
		}
	}
	return rtn
}

func (st *Station) snapshot() []*Session {
	ids := slices.Sorted(maps.Keys(st.sessions))
	rtn := make([]*Session, len(ids))
	for i, id := range ids {
		rtn[i] = st.sessions[id]
	}
	return rtn
}

// AddTransaction registers t and asks for focus on its behalf.
func (st *Station) AddTransaction(t Transaction) (*Session, error) {
	s, err := st.AddTransactionWithoutFocus(t)
	if err != nil {
		return nil, err
	}
	s.RequestFocus()
	return s, nil
}

// AddTransactionWithoutFocus registers t without queueing it for focus.
func (st *Station) AddTransactionWithoutFocus(t Transaction) (*Session, error) {
	if st.net == nil {
		return nil, ErrNoStation
	}
	id, err := st.newID()
	if err != nil {
		return nil, err
	}
	s := newSession(st.net, st, id, t)
	st.sessions[id] = s
	st.net.log.Debug("station %s: added %s", st.address, s)
	return s, nil
}

// newID allocates the next unused transaction id in 1..255.
func (st *Station) newID() (byte, error) {
	id := st.lastID
	for range 255 {
		id++
		if id == 0 {
			id = 1
		}
		if _, used := st.sessions[id]; !used {
			st.lastID = id
			return id, nil
		}
	}
	return 0, ErrNoTransactionIDs
}

func (st *Station) changeSessionID(s *Session) (byte, error) {
	id, err := st.newID()
	if err != nil {
		return s.id, err
	}
	if st.sessions[s.id] == s {
		delete(st.sessions, s.id)
	}
	s.id = id
	st.sessions[id] = s
	return id, nil
}

func (st *Station) removeSession(s *Session) {
	s.satisfied = true
	st.defunct = append(st.defunct, s)
	if !s.willClose() {
		st.checkShutdown = true
	}
}

// StartManageComms keeps the link to this station from being shut down
// until StopManageComms is called.
func (st *Station) StartManageComms() error {
	if st.manageComms != nil && !st.manageComms.closed {
		return nil
	}
	s, err := st.AddTransactionWithoutFocus(manageCommsTran{})
	if err != nil {
		return err
	}
	st.manageComms = s
	return nil
}

// StopManageComms lets the link close once no other transaction needs it.
func (st *Station) StopManageComms() {
	if st.manageComms == nil {
		return
	}
	s := st.manageComms
	st.manageComms = nil
	s.Close()
}

// addressMessage fills in the station addressing of an outbound message.
func (st *Station) addressMessage(msg *Packet) {
	msg.Dest = st.address
	msg.NeighborDest = st.NeighborAddress()
}

// onMessageBeingSent sets the expect-more code of msg for the station as a
// whole and lets the session that posted it start its watchdog. Replies the
// network generates may carry the id of a session but have no owner.
func (st *Station) onMessageBeingSent(msg *Packet) {
	msg.ExpectMore = ExpectLast
	for _, s := range st.sessions {
		if !s.satisfied && !s.willClose() {
			msg.ExpectMore = ExpectMore
			break
		}
	}
	if s := msg.owner; s != nil && !s.closed && s.station == st.address {
		s.onMessageBeingSent(msg)
	}
}

func (st *Station) onMessageReceived(msg *Packet) {
	if msg.Protocol == ProtocolBMP5 &&
		(msg.MessageType == BMP5OneWayData || msg.MessageType == BMP5OneWayTableDef) {
		if st.oneWay != nil {
			st.oneWay(msg)
		}
		return
	}
	if s, ok := st.sessions[msg.TranNo]; ok {
		s.onMessage(msg)
		return
	}
	st.net.log.Debug("station %s: no transaction %d for %#02x", st.address, msg.TranNo, msg.MessageType)
}

func (st *Station) onDeliveryFailure(code byte, proto Protocol, messageType, tranNo byte) {
	if s, ok := st.sessions[tranNo]; ok {
		s.onDeliveryFailure(code, proto, messageType)
	}
}

// onLinkFailure fails every transaction of the station. Outstanding
// messages went with the link, so their watchdogs are dropped first. It
// iterates a snapshot so transactions may close themselves while it runs.
// There is no link left to shut down afterwards.
func (st *Station) onLinkFailure(reason FailureReason) {
	for _, s := range st.snapshot() {
		if !s.closed {
			s.ResetWatchdog()
			s.fail(reason)
		}
	}
	st.checkShutdown = false
}

func (st *Station) checkState(now time.Time) {
	for _, s := range st.snapshot() {
		if !s.closed {
			s.checkState(now)
		}
	}

	if st.checkShutdown {
		st.checkShutdown = false
		idle := true
		for _, s := range st.sessions {
			if !s.satisfied || s.willClose() {
				idle = false
				break
			}
		}
		if idle {
			if _, err := st.AddTransaction(shutdownTran{}); err != nil {
				st.net.log.Warn("station %s: shut down: %v", st.address, err)
			}
		}
	}

	defunct := st.defunct
	st.defunct = nil
	for _, s := range defunct {
		if st.sessions[s.id] == s {
			delete(st.sessions, s.id)
		}
		st.net.onTransactionClose(s)
	}
}
