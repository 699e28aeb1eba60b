// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(d *Decoder, buf []byte) []*Packet {
	var rtn []*Packet
	for len(buf) > 0 {
		p, n := d.Decode(buf)
		buf = buf[n:]
		if p != nil {
			rtn = append(rtn, p)
		}
	}
	return rtn
}

func bmp5Message() *Packet {
	p := NewPacket(ProtocolBMP5, BMP5ClockSetCmd)
	p.LinkState = LinkReady
	p.NeighborDest = 1
	p.NeighborSrc = 4094
	p.Dest = 1
	p.Src = 4094
	p.ExpectMore = ExpectMore
	p.Priority = PriorityHigh
	p.TranNo = 0xBD
	p.AddUint2(0)
	p.AddBytes([]byte{SyncByte, QuoteByte, 0x00, 0xFF})
	return p
}

func TestDecodeFullHeader(t *testing.T) {
	in := bmp5Message()
	frame := EncodeFrame(in)

	assert.Equal(t, SyncByte, frame[0])
	assert.Equal(t, SyncByte, frame[len(frame)-1])
	assert.Equal(t, -1, bytes.IndexByte(frame[1:len(frame)-1], SyncByte), "sync inside frame: % x", frame)

	got := decodeAll(NewDecoder(), frame)
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, SubLinkState, p.SubProtocol)
	assert.False(t, p.ShortHeader)
	assert.Equal(t, LinkReady, p.LinkState)
	assert.Equal(t, Address(1), p.NeighborDest)
	assert.Equal(t, Address(4094), p.NeighborSrc)
	assert.Equal(t, ExpectMore, p.ExpectMore)
	assert.Equal(t, PriorityHigh, p.Priority)
	assert.Equal(t, ProtocolBMP5, p.Protocol)
	assert.Equal(t, Address(1), p.Dest)
	assert.Equal(t, Address(4094), p.Src)
	assert.Equal(t, BMP5ClockSetCmd, p.MessageType)
	assert.Equal(t, byte(0xBD), p.TranNo)
	assert.Equal(t, in.Body(), p.Body())
}

func TestDecodeShortHeader(t *testing.T) {
	frame := EncodeFrame(newLinkPacket(LinkFinished, 0x123, 0x456))
	got := decodeAll(NewDecoder(), frame)
	require.Len(t, got, 1)
	p := got[0]
	assert.True(t, p.ShortHeader)
	assert.Equal(t, LinkFinished, p.LinkState)
	assert.Equal(t, Address(0x123), p.NeighborDest)
	assert.Equal(t, Address(0x456), p.NeighborSrc)
	assert.Equal(t, ProtocolPakCtrl, p.Protocol)
}

func TestDecodeRing(t *testing.T) {
	ring := newLinkPacket(LinkRing, 1, 4094)
	ring.SubProtocol = SubControl
	ring.Capabilities = CapLinkState | CapUnquoted

	got := decodeAll(NewDecoder(), EncodeFrame(ring))
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, SubControl, p.SubProtocol)
	assert.Equal(t, LinkRing, p.LinkState)
	assert.Equal(t, ControlRing, p.ControlType)
	assert.True(t, p.SupportsUnquoted())
	assert.False(t, p.SupportsAckRetry())
	assert.Equal(t, Address(4094), p.NeighborSrc)
}

func TestDecodeDevConfig(t *testing.T) {
	in := &Packet{SubProtocol: SubDevConfig, MessageType: 0x0F, TranNo: 7}
	in.AddBytes([]byte{0xBC, 0x01, 0xBD})

	got := decodeAll(NewDecoder(), EncodeFrame(in))
	require.Len(t, got, 1)
	assert.Equal(t, SubDevConfig, got[0].SubProtocol)
	assert.Equal(t, byte(0x0F), got[0].MessageType)
	assert.Equal(t, byte(7), got[0].TranNo)
	assert.Equal(t, []byte{0xBC, 0x01, 0xBD}, got[0].Body())
}

func TestDecodeUnquoted(t *testing.T) {
	in := bmp5Message()
	in.SubProtocol = SubUnquoted
	frame := EncodeFrame(in)
	assert.Equal(t, []byte{SyncByte, unquotedMarker}, frame[:2])

	got := decodeAll(NewDecoder(), frame)
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, SubUnquoted, p.SubProtocol)
	assert.Equal(t, LinkReady, p.LinkState)
	assert.Equal(t, Address(4094), p.Src)
	assert.Equal(t, in.Body(), p.Body())
}

func TestDecodeByteAtATime(t *testing.T) {
	frame := EncodeFrame(bmp5Message())
	d := NewDecoder()
	var got []*Packet
	for i := range frame {
		p, n := d.Decode(frame[i : i+1])
		assert.Equal(t, 1, n)
		if p != nil {
			got = append(got, p)
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, BMP5ClockSetCmd, got[0].MessageType)
}

func TestDecodeRecoversFromCorruption(t *testing.T) {
	good := EncodeFrame(bmp5Message())
	bad := append([]byte(nil), good...)
	bad[5] ^= 0x01

	var stream []byte
	stream = append(stream, 0x00, 0x11, 0x22) // noise before any sync
	stream = append(stream, bad...)
	stream = append(stream, good...)
	stream = append(stream, SyncByte, unquotedMarker, 0x00, 0x03, 0x01) // bad length
	stream = append(stream, good...)

	got := decodeAll(NewDecoder(), stream)
	assert.Len(t, got, 2)
}

func TestDecodeOversizedFrame(t *testing.T) {
	var stream []byte
	stream = append(stream, SyncByte)
	stream = append(stream, bytes.Repeat([]byte{0xA0}, MaxFrameLen+10)...)
	stream = append(stream, EncodeFrame(bmp5Message())...)

	got := decodeAll(NewDecoder(), stream)
	require.Len(t, got, 1)
	assert.Equal(t, BMP5ClockSetCmd, got[0].MessageType)
}

func TestDecodeBackToBackFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, EncodeFrame(newLinkPacket(LinkRing, 1, 2))...)
	stream = append(stream, EncodeFrame(newLinkPacket(LinkReady, 1, 2))...)
	stream = append(stream, EncodeFrame(bmp5Message())...)

	d := NewDecoder()
	p, n := d.Decode(stream)
	require.NotNil(t, p)
	assert.Less(t, n, len(stream), "one frame per call")

	got := append([]*Packet{p}, decodeAll(d, stream[n:])...)
	require.Len(t, got, 3)
	assert.Equal(t, LinkRing, got[0].LinkState)
	assert.Equal(t, LinkReady, got[1].LinkState)
	assert.False(t, got[2].ShortHeader)
}
