// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

type decodeState int

const (
	stateWaitSync decodeState = iota
	stateSyncFound
	stateSerial
	stateSerialQuoted
	stateControl
	stateControlQuoted
	stateDevConfig
	stateDevConfigQuoted
	stateUnquotedLen
	stateUnquotedBody
)

// Decoder recognizes frames in a raw byte stream. Corrupt or oversized
// input silently resets it to wait for the next sync byte.
type Decoder struct {
	state       decodeState
	storage     [MaxFrameLen]byte
	n           int
	unquotedLen int
}

// NewDecoder returns a decoder waiting for a sync byte.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.state = stateWaitSync
	d.n = 0
}

// Decode consumes bytes from buf until one frame completes or buf is
// exhausted. It returns the frame, if any, and the number of bytes consumed.
func (d *Decoder) Decode(buf []byte) (*Packet, int) {
	for i, b := range buf {
		if p := d.step(b); p != nil {
			return p, i + 1
		}
	}
	return nil, len(buf)
}

func (d *Decoder) step(b byte) *Packet {
	switch d.state {
	case stateWaitSync:
		if b == SyncByte {
			d.state = stateSyncFound
		}

	case stateSyncFound:
		hi := b >> 4
		switch {
		case b == SyncByte:
		case hi == ControlRing || hi == ControlReserved || hi == ControlCapabilities:
			d.begin(stateControl, b)
		case hi == byte(LinkOffline) || hi == byte(LinkReady) || hi == byte(LinkFinished) || hi == byte(LinkPause):
			d.begin(stateSerial, b)
		case b == unquotedMarker:
			d.state = stateUnquotedLen
			d.n = 0
		case b == devConfigMarker:
			d.begin(stateDevConfig, b)
		default:
			d.state = stateWaitSync
		}

	case stateSerial, stateControl, stateDevConfig:
		switch b {
		case QuoteByte:
			d.state++ // to the matching quoted state
		case SyncByte:
			var p *Packet
			if d.n >= 2 && CalcSignature(d.storage[:d.n]) == 0 {
				p = d.makePacket()
			}
			// the closing sync may also open the next frame
			d.state = stateSyncFound
			d.n = 0
			return p
		default:
			d.store(b)
		}

	case stateSerialQuoted, stateControlQuoted, stateDevConfigQuoted:
		d.state--
		d.store(b - quoteOffset)

	case stateUnquotedLen:
		d.storage[d.n] = b
		d.n++
		if d.n == 2 {
			d.unquotedLen = int(d.storage[0])<<8 | int(d.storage[1])
			d.n = 0
			d.state = stateUnquotedBody
			if d.unquotedLen < minUnquotedLen || d.unquotedLen > MaxFrameLen {
				d.state = stateWaitSync
			}
		}

	case stateUnquotedBody:
		d.storage[d.n] = b
		d.n++
		if d.n == d.unquotedLen {
			p, err := parseUnquoted(d.storage[:d.n])
			d.Reset()
			if err != nil {
				return nil
			}
			return p
		}
	}
	return nil
}

func (d *Decoder) begin(state decodeState, b byte) {
	d.state = state
	d.storage[0] = b
	d.n = 1
}

func (d *Decoder) store(b byte) {
	if d.n >= len(d.storage) {
		d.Reset()
		return
	}
	d.storage[d.n] = b
	d.n++
}

func (d *Decoder) makePacket() *Packet {
	buf := d.storage[:d.n-2]
	var (
		p   *Packet
		err error
	)
	switch d.state {
	case stateSerial:
		p, err = parseSerial(buf)
	case stateControl:
		p, err = parseControl(buf)
	case stateDevConfig:
		p, err = parseDevConfig(buf)
	}
	if err != nil {
		return nil
	}
	return p
}
