// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"io"

	"github.com/destiny/pakbus"
)

// Datalogger plays the remote end of a PakBus link. It decodes what the
// engine writes to a PipeStream and answers rings, hellos and finished
// link states on its own; other messages go to Handler.
type Datalogger struct {
	Address pakbus.Address
	Host    pakbus.Address
	Stream  *PipeStream

	// VerifyInterval is reported in hello acks.
	VerifyInterval uint16

	// Handler answers messages other than hello traffic.
	Handler func(d *Datalogger, msg *pakbus.Packet)

	// Silent stops all automatic answers.
	Silent bool

	// IgnoreHello leaves hello commands unanswered.
	IgnoreHello bool

	Received []*pakbus.Packet

	dec *pakbus.Decoder
}

func NewDatalogger(addr, host pakbus.Address, s *PipeStream) *Datalogger {
	return &Datalogger{
		Address:        addr,
		Host:           host,
		Stream:         s,
		VerifyInterval: pakbus.InfiniteVerifyInterval,
		dec:            pakbus.NewDecoder(),
	}
}

// Step decodes everything written since the last call, answers it and
// returns the frames addressed to the datalogger.
func (d *Datalogger) Step() []*pakbus.Packet {
	out := d.Stream.TakeOutput()
	var frames []*pakbus.Packet
	for len(out) > 0 {
		p, n := d.dec.Decode(out)
		out = out[n:]
		if p == nil {
			continue
		}
		if p.NeighborDest != d.Address && p.NeighborDest != pakbus.BroadcastAddress {
			continue
		}
		frames = append(frames, p)
		d.Received = append(d.Received, p)
		if !d.Silent {
			d.answer(p)
		}
	}
	return frames
}

// Serve plays the datalogger over rw until a read or write fails. Stream
// must not be shared with an engine: bytes read from rw are fed to it as
// engine output and the answers are copied back to rw.
func (d *Datalogger) Serve(rw io.ReadWriter) error {
	buf := make([]byte, 1024)
	reply := make([]byte, 1024)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			d.Stream.Write(buf[:n])
			d.Step()
			for {
				k, _ := d.Stream.ReadAvailable(reply)
				if k == 0 {
					break
				}
				if _, werr := rw.Write(reply[:k]); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

// Messages returns the full messages received so far with the given type.
func (d *Datalogger) Messages(proto pakbus.Protocol, messageType byte) []*pakbus.Packet {
	var rtn []*pakbus.Packet
	for _, p := range d.Received {
		if !p.ShortHeader && p.Protocol == proto && p.MessageType == messageType {
			rtn = append(rtn, p)
		}
	}
	return rtn
}

func (d *Datalogger) answer(p *pakbus.Packet) {
	if p.SubProtocol == pakbus.SubControl && p.ControlType == pakbus.ControlRing {
		d.SendLink(pakbus.LinkReady)
		return
	}
	if p.LinkState == pakbus.LinkFinished {
		d.SendLink(pakbus.LinkOffline)
	}
	if p.ShortHeader {
		return
	}
	if p.Protocol == pakbus.ProtocolPakCtrl && p.MessageType == pakbus.PakCtrlHelloCmd {
		if d.IgnoreHello {
			return
		}
		ack := d.NewReply(p, pakbus.ProtocolPakCtrl, pakbus.PakCtrlHelloAck)
		ack.AddBool(false)
		ack.AddByte(pakbus.HopMetric(pakbus.DefaultLinkDelay))
		ack.AddUint2(d.VerifyInterval)
		d.Send(ack)
		return
	}
	if d.Handler != nil {
		d.Handler(d, p)
	}
}

// NewReply starts a reply to msg under the same transaction number.
func (d *Datalogger) NewReply(msg *pakbus.Packet, proto pakbus.Protocol, messageType byte) *pakbus.Packet {
	p := pakbus.NewPacket(proto, messageType)
	p.TranNo = msg.TranNo
	return p
}

// Send queues p for the engine, filling in the datalogger addressing.
func (d *Datalogger) Send(p *pakbus.Packet) {
	p.Src = d.Address
	p.NeighborSrc = d.Address
	if p.Dest == 0 {
		p.Dest = d.Host
	}
	if p.NeighborDest == 0 {
		p.NeighborDest = d.Host
	}
	if p.LinkState == 0 {
		p.LinkState = pakbus.LinkReady
	}
	d.Stream.Inject(pakbus.EncodeFrame(p))
}

// SendLink queues a short header link-state frame.
func (d *Datalogger) SendLink(state pakbus.LinkState) {
	p := &pakbus.Packet{
		LinkState:    state,
		NeighborDest: d.Host,
		NeighborSrc:  d.Address,
		ShortHeader:  true,
		SubProtocol:  pakbus.SubLinkState,
	}
	if state == pakbus.LinkRing {
		p.Capabilities = pakbus.CapLinkState
	}
	d.Stream.Inject(pakbus.EncodeFrame(p))
}
