// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

// Framing bytes.
const (
	SyncByte        byte = 0xBD
	QuoteByte       byte = 0xBC
	quotedSyncByte  byte = 0xDD
	quotedQuoteByte byte = 0xDC
	quoteOffset     byte = 0x20

	unquotedMarker  byte = 0xF0
	devConfigMarker byte = 0xF2
)

const (
	shortHeaderLen = 4
	headerLen      = 8
	messageHdrLen  = 10

	// MaxFrameLen bounds the unquoted frame length and the decoder storage.
	MaxFrameLen = 1026

	minUnquotedLen = 8
)

// EncodeFrame serializes p for the wire, including the enclosing sync bytes.
// Link-state, control and devconfig frames are quoted and carry a signature
// nullifier; unquoted frames carry a big-endian length instead.
func EncodeFrame(p *Packet) []byte {
	switch p.SubProtocol {
	case SubUnquoted:
		raw := p.unquotedBytes()
		out := make([]byte, 0, len(raw)+3)
		out = append(out, SyncByte, unquotedMarker)
		out = append(out, raw...)
		return append(out, SyncByte)
	case SubDevConfig:
		return appendFramed(nil, p.devConfigBytes())
	default:
		return appendFramed(nil, p.serialBytes())
	}
}

func appendFramed(dst, raw []byte) []byte {
	null := Nullifier(CalcSignature(raw))
	dst = append(dst, SyncByte)
	dst = appendQuoted(dst, raw)
	dst = appendQuoted(dst, []byte{byte(null >> 8), byte(null)})
	return append(dst, SyncByte)
}

func appendQuoted(dst, raw []byte) []byte {
	for _, b := range raw {
		switch b {
		case SyncByte:
			dst = append(dst, QuoteByte, quotedSyncByte)
		case QuoteByte:
			dst = append(dst, QuoteByte, quotedQuoteByte)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// serialBytes lays out the link-state header and body, unquoted and
// without the nullifier.
func (p *Packet) serialBytes() []byte {
	n := shortHeaderLen
	if !p.ShortHeader {
		n = headerLen
		if p.MessageType != 0 {
			n = messageHdrLen + len(p.body)
		}
	}
	rtn := make([]byte, n)
	rtn[0] = byte(p.LinkState)<<4 | byte(p.NeighborDest>>8)&0x0F
	rtn[1] = byte(p.NeighborDest)
	if p.LinkState == LinkRing {
		rtn[2] = p.Capabilities<<4 | byte(p.NeighborSrc>>8)&0x0F
	} else {
		rtn[2] = byte(p.ExpectMore)<<6 | byte(p.Priority&0x3)<<4 | byte(p.NeighborSrc>>8)&0x0F
	}
	rtn[3] = byte(p.NeighborSrc)
	if !p.ShortHeader {
		p.putAddressing(rtn[4:])
		if p.MessageType != 0 {
			rtn[8] = p.MessageType
			rtn[9] = p.TranNo
			copy(rtn[10:], p.body)
		}
	}
	return rtn
}

// putAddressing writes protocol, destination and source. The hop count
// nibble is always zero.
func (p *Packet) putAddressing(b []byte) {
	b[0] = byte(p.Protocol)<<4 | byte(p.Dest>>8)&0x0F
	b[1] = byte(p.Dest)
	b[2] = byte(p.Src>>8) & 0x0F
	b[3] = byte(p.Src)
}

// unquotedBytes returns the two byte length followed by the header and body.
func (p *Packet) unquotedBytes() []byte {
	n := shortHeaderLen
	if !p.ShortHeader {
		n = headerLen
		if p.MessageType != 0 {
			n = messageHdrLen + len(p.body)
		}
	}
	rtn := make([]byte, n+2)
	rtn[0] = byte(n >> 8)
	rtn[1] = byte(n)
	b := rtn[2:]
	b[0] = byte(p.NeighborDest>>8) & 0x0F
	b[1] = byte(p.NeighborDest)
	b[2] = byte(p.ExpectMore)<<6 | byte(p.Priority&0x3)<<4 | byte(p.NeighborSrc>>8)&0x0F
	b[3] = byte(p.NeighborSrc)
	if !p.ShortHeader {
		p.putAddressing(b[4:])
		if p.MessageType != 0 {
			b[8] = p.MessageType
			b[9] = p.TranNo
			copy(b[10:], p.body)
		}
	}
	return rtn
}

func (p *Packet) devConfigBytes() []byte {
	rtn := make([]byte, 0, 3+len(p.body))
	rtn = append(rtn, devConfigMarker, p.MessageType, p.TranNo)
	return append(rtn, p.body...)
}

// parseSerial decodes a dequoted link-state frame with the nullifier
// already stripped.
func parseSerial(buf []byte) (*Packet, error) {
	p := &Packet{SubProtocol: SubLinkState}
	switch {
	case len(buf) >= headerLen:
		p.ShortHeader = false
	case len(buf) >= shortHeaderLen:
		p.ShortHeader = true
	default:
		return nil, ErrShortFrame
	}
	p.LinkState = LinkState(buf[0] >> 4)
	p.NeighborDest = Address(buf[0]&0x0F)<<8 | Address(buf[1])
	p.ExpectMore = ExpectCode(buf[2] >> 6)
	p.Priority = Priority(buf[2]>>4) & 0x3
	p.NeighborSrc = Address(buf[2]&0x0F)<<8 | Address(buf[3])
	if p.ShortHeader {
		p.Dest = p.NeighborDest
		p.Src = p.NeighborSrc
		p.Priority = PriorityNormal
		p.Protocol = ProtocolPakCtrl
		return p, nil
	}
	p.parseAddressing(buf[4:])
	if len(buf) >= messageHdrLen {
		p.MessageType = buf[8]
		p.TranNo = buf[9]
		p.body = append([]byte(nil), buf[10:]...)
	}
	return p, nil
}

func (p *Packet) parseAddressing(b []byte) {
	p.Protocol = Protocol(b[0] >> 4)
	p.Dest = Address(b[0]&0x0F)<<8 | Address(b[1])
	p.Src = Address(b[2]&0x0F)<<8 | Address(b[3])
}

func parseControl(buf []byte) (*Packet, error) {
	p, err := parseSerial(buf)
	if err != nil {
		return nil, err
	}
	p.SubProtocol = SubControl
	p.ControlType = buf[0] >> 4
	p.Capabilities = buf[2] >> 4
	return p, nil
}

// parseDevConfig decodes a devconfig frame starting at its marker byte.
// Devconfig frames carry no addressing.
func parseDevConfig(buf []byte) (*Packet, error) {
	if len(buf) < 3 {
		return nil, ErrShortFrame
	}
	return &Packet{
		SubProtocol: SubDevConfig,
		MessageType: buf[1],
		TranNo:      buf[2],
		body:        append([]byte(nil), buf[3:]...),
	}, nil
}

// parseUnquoted decodes an unquoted frame body following its length field.
// The link state of an unquoted frame is always ready.
func parseUnquoted(buf []byte) (*Packet, error) {
	if len(buf) < minUnquotedLen {
		return nil, ErrShortFrame
	}
	p := &Packet{SubProtocol: SubUnquoted, LinkState: LinkReady}
	p.NeighborDest = Address(buf[0]&0x0F)<<8 | Address(buf[1])
	p.ExpectMore = ExpectCode(buf[2] >> 6)
	p.Priority = Priority(buf[2]>>4) & 0x3
	p.NeighborSrc = Address(buf[2]&0x0F)<<8 | Address(buf[3])
	p.parseAddressing(buf[4:])
	if len(buf) >= messageHdrLen {
		p.MessageType = buf[8]
		p.TranNo = buf[9]
		p.body = append([]byte(nil), buf[10:]...)
	}
	return p, nil
}
