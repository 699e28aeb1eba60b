// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pakbus implements a PakBus protocol engine: frame codec and
// signature, stream decoder, per-neighbor link state negotiation, neighbor
// verification and the transaction scheduler that multiplexes application
// transactions over one half-duplex byte stream.
package pakbus

import "fmt"

// Address is a 12-bit PakBus node address.
type Address uint16

// BroadcastAddress addresses every node on the link.
const BroadcastAddress Address = 0x0FFF

// MaxAddress is the largest valid node address.
const MaxAddress Address = 0x0FFF

func (a Address) String() string {
	if a == BroadcastAddress {
		return "broadcast"
	}
	return fmt.Sprintf("%d", uint16(a))
}

// SubProtocol identifies the low level framing a packet travels in.
type SubProtocol byte

const (
	SubControl   SubProtocol = 0
	SubLinkState SubProtocol = 1
	SubUnquoted  SubProtocol = 2
	SubAckRetry  SubProtocol = 3
	SubDevConfig SubProtocol = 4
)

func (s SubProtocol) String() string {
	switch s {
	case SubControl:
		return "control"
	case SubLinkState:
		return "link-state"
	case SubUnquoted:
		return "unquoted"
	case SubAckRetry:
		return "ack-retry"
	case SubDevConfig:
		return "devconfig"
	}
	return fmt.Sprintf("sub(%d)", byte(s))
}

// ExpectCode tells the peer whether more exchanges follow this one.
type ExpectCode byte

const (
	ExpectLast    ExpectCode = 0
	ExpectMore    ExpectCode = 1
	ExpectNeutral ExpectCode = 2
	ExpectReverse ExpectCode = 3
)

// Priority orders outbound messages and focus requests.
type Priority byte

const (
	PriorityLow       Priority = 0
	PriorityNormal    Priority = 1
	PriorityHigh      Priority = 2
	PriorityExtraHigh Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityExtraHigh:
		return "extra-high"
	}
	return fmt.Sprintf("priority(%d)", byte(p))
}

// Protocol is the higher level protocol carried in a full header.
type Protocol byte

const (
	ProtocolPakCtrl Protocol = 0
	ProtocolBMP5    Protocol = 1
)

// LinkState is the link-state nibble carried in the first header byte.
type LinkState byte

const (
	LinkOffline  LinkState = 0x8
	LinkRing     LinkState = 0x9
	LinkReady    LinkState = 0xA
	LinkFinished LinkState = 0xB
	LinkPause    LinkState = 0xC
)

func (s LinkState) String() string {
	switch s {
	case LinkOffline:
		return "offline"
	case LinkRing:
		return "ring"
	case LinkReady:
		return "ready"
	case LinkFinished:
		return "finished"
	case LinkPause:
		return "pause"
	}
	return fmt.Sprintf("link(%#x)", byte(s))
}

// Control frame types (high nibble of the first byte of a control frame).
const (
	ControlRing         byte = 0x9
	ControlReserved     byte = 0xD
	ControlCapabilities byte = 0xE
)

// Capability bits advertised in ring and capability frames.
const (
	CapUnquoted  byte = 0x1
	CapAckRetry  byte = 0x2
	CapLinkState byte = 0x8
)

// PakCtrl message types.
const (
	PakCtrlDeliveryFailure byte = 0x81
	PakCtrlHelloCmd        byte = 0x09
	PakCtrlHelloAck        byte = 0x89
	PakCtrlHelloReq        byte = 0x0e
	PakCtrlBye             byte = 0x0d
	PakCtrlReset           byte = 0x0c
	PakCtrlClock           byte = 0x02
	PakCtrlEchoCmd         byte = 0x05
	PakCtrlEchoAck         byte = 0x85
	PakCtrlGetSettingsCmd  byte = 0x07
	PakCtrlGetSettingsAck  byte = 0x87
)

// BMP5 message types.
const (
	BMP5PleaseWait     byte = 0xa1
	BMP5ClockSetCmd    byte = 0x17
	BMP5ClockSetAck    byte = 0x97
	BMP5FileSendCmd    byte = 0x1c
	BMP5FileSendAck    byte = 0x9c
	BMP5FileReceiveCmd byte = 0x1d
	BMP5FileReceiveAck byte = 0x9d
	BMP5FileControlCmd byte = 0x1e
	BMP5FileControlAck byte = 0x9e
	BMP5ProgStatsCmd   byte = 0x18
	BMP5ProgStatsAck   byte = 0x98
	BMP5CollectCmd     byte = 0x09
	BMP5CollectAck     byte = 0x89
	BMP5OneWayTableDef byte = 0x20
	BMP5OneWayData     byte = 0x14
	BMP5GetValuesCmd   byte = 0x1a
	BMP5GetValuesAck   byte = 0x9a
	BMP5SetValuesCmd   byte = 0x1b
	BMP5SetValuesAck   byte = 0x9b
	BMP5UserIOCmd      byte = 0x0b
	BMP5UserIOAck      byte = 0x8b
)

// Packet is one PakBus frame: header fields plus a body with its own read
// cursor. Outbound messages are normally built with NewPacket.
type Packet struct {
	LinkState    LinkState
	NeighborDest Address
	ExpectMore   ExpectCode
	Priority     Priority
	NeighborSrc  Address
	Protocol     Protocol
	Dest         Address
	Src          Address
	MessageType  byte
	TranNo       byte
	SubProtocol  SubProtocol
	ShortHeader  bool

	// ControlType and Capabilities are only meaningful for control frames.
	ControlType  byte
	Capabilities byte

	body      []byte
	readIndex int

	// owner is the session that posted the packet, nil for traffic the
	// network generates itself.
	owner *Session
}

// NewPacket returns an empty full-header packet for the given protocol and
// message type.
func NewPacket(proto Protocol, messageType byte) *Packet {
	return &Packet{
		LinkState:   LinkReady,
		Priority:    PriorityNormal,
		Protocol:    proto,
		MessageType: messageType,
		SubProtocol: SubLinkState,
	}
}

// newLinkPacket returns a short header link-state frame.
func newLinkPacket(state LinkState, neighborDest, neighborSrc Address) *Packet {
	return &Packet{
		LinkState:    state,
		NeighborDest: neighborDest,
		NeighborSrc:  neighborSrc,
		Dest:         neighborDest,
		Src:          neighborSrc,
		Priority:     PriorityNormal,
		Protocol:     ProtocolPakCtrl,
		SubProtocol:  SubLinkState,
		ShortHeader:  true,
	}
}

// SupportsUnquoted reports whether this is a control frame advertising the
// unquoted sub-protocol.
func (p *Packet) SupportsUnquoted() bool {
	return p.SubProtocol == SubControl && p.Capabilities&CapUnquoted != 0
}

// SupportsAckRetry reports whether this is a control frame advertising the
// ack-retry sub-protocol.
func (p *Packet) SupportsAckRetry() bool {
	return p.SubProtocol == SubControl && p.Capabilities&CapAckRetry != 0
}

func (p *Packet) String() string {
	if p.ShortHeader {
		return fmt.Sprintf("%s link=%s nd=%s ns=%s", p.SubProtocol, p.LinkState, p.NeighborDest, p.NeighborSrc)
	}
	return fmt.Sprintf("%s link=%s nd=%s ns=%s proto=%d dst=%s src=%s type=%#02x tran=%d len=%d",
		p.SubProtocol, p.LinkState, p.NeighborDest, p.NeighborSrc, p.Protocol,
		p.Dest, p.Src, p.MessageType, p.TranNo, len(p.body))
}
