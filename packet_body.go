// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// LoggerEpoch is the origin of datalogger time stamps.
var LoggerEpoch = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

const loggerEpochUnix = 631152000

// Body returns the message body. The slice aliases the packet storage.
func (p *Packet) Body() []byte { return p.body }

// Len returns the body length.
func (p *Packet) Len() int { return len(p.body) }

// Remaining returns how many body bytes are left to read.
func (p *Packet) Remaining() int { return len(p.body) - p.readIndex }

// ReadIndex returns the read cursor.
func (p *Packet) ReadIndex() int { return p.readIndex }

// Rewind moves the read cursor back to the start of the body.
func (p *Packet) Rewind() { p.readIndex = 0 }

// Clear empties the body for both reading and writing.
func (p *Packet) Clear() {
	p.body = p.body[:0]
	p.readIndex = 0
}

// MovePast advances the read cursor, stopping at the end of the body.
func (p *Packet) MovePast(n int) {
	if p.readIndex+n >= len(p.body) {
		p.readIndex = len(p.body)
		return
	}
	p.readIndex += n
}

// reserve makes room for n more bytes, doubling the capacity when it has
// to reallocate.
func (p *Packet) reserve(n int) {
	need := len(p.body) + n
	if need <= cap(p.body) {
		return
	}
	buf := make([]byte, len(p.body), need*2)
	copy(buf, p.body)
	p.body = buf
}

// AddBytes appends b unchanged.
func (p *Packet) AddBytes(b []byte) {
	p.reserve(len(b))
	p.body = append(p.body, b...)
}

// AddByte appends a single byte.
func (p *Packet) AddByte(v byte) {
	p.reserve(1)
	p.body = append(p.body, v)
}

// AddBool adds a one byte boolean (0xFF for true).
func (p *Packet) AddBool(v bool) {
	if v {
		p.AddByte(0xFF)
		return
	}
	p.AddByte(0)
}

// AddInt2 adds a big endian int16.
func (p *Packet) AddInt2(v int16) { p.AddUint2(uint16(v)) }

// AddInt4 adds a big endian int32.
func (p *Packet) AddInt4(v int32) { p.AddUint4(uint32(v)) }

// AddInt2LSF adds a little endian int16.
func (p *Packet) AddInt2LSF(v int16) { p.AddUint2LSF(uint16(v)) }

// AddInt4LSF adds a little endian int32.
func (p *Packet) AddInt4LSF(v int32) { p.AddUint4LSF(uint32(v)) }

// AddUint2 adds a big endian uint16.
func (p *Packet) AddUint2(v uint16) {
	p.reserve(2)
	p.body = binary.BigEndian.AppendUint16(p.body, v)
}

// AddUint4 adds a big endian uint32.
func (p *Packet) AddUint4(v uint32) {
	p.reserve(4)
	p.body = binary.BigEndian.AppendUint32(p.body, v)
}

// AddUint2LSF adds a little endian uint16.
func (p *Packet) AddUint2LSF(v uint16) {
	p.reserve(2)
	p.body = binary.LittleEndian.AppendUint16(p.body, v)
}

// AddUint4LSF adds a little endian uint32.
func (p *Packet) AddUint4LSF(v uint32) {
	p.reserve(4)
	p.body = binary.LittleEndian.AppendUint32(p.body, v)
}

// AddFloat adds a big endian IEEE 754 single.
func (p *Packet) AddFloat(v float32) { p.AddUint4(math.Float32bits(v)) }

// AddFloatLSF adds a little endian IEEE 754 single.
func (p *Packet) AddFloatLSF(v float32) { p.AddUint4LSF(math.Float32bits(v)) }

// AddString adds s as UTF-8 followed by a single terminating zero.
func (p *Packet) AddString(s string) {
	p.reserve(len(s) + 1)
	p.body = append(p.body, s...)
	if len(s) == 0 || s[len(s)-1] != 0 {
		p.body = append(p.body, 0)
	}
}

// AddNsec adds t as seconds and nanoseconds since LoggerEpoch.
func (p *Packet) AddNsec(t time.Time) {
	sec, nsec := loggerTime(t)
	p.AddInt4(sec)
	p.AddInt4(nsec)
}

// AddNsecLSF is AddNsec with least significant bytes first.
func (p *Packet) AddNsecLSF(t time.Time) {
	sec, nsec := loggerTime(t)
	p.AddInt4LSF(sec)
	p.AddInt4LSF(nsec)
}

// AddSec adds t as whole seconds since LoggerEpoch.
func (p *Packet) AddSec(t time.Time) {
	sec, _ := loggerTime(t)
	p.AddInt4(sec)
}

// ReadBytes reads the next n bytes into a new slice. Like the other readers
// it returns ErrTruncated when the body holds fewer.
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	if n < 0 || p.readIndex+n > len(p.body) {
		return nil, ErrTruncated
	}
	rtn := make([]byte, n)
	copy(rtn, p.body[p.readIndex:])
	p.readIndex += n
	return rtn, nil
}

// ReadByte reads one byte.
func (p *Packet) ReadByte() (byte, error) {
	if p.readIndex >= len(p.body) {
		return 0, ErrTruncated
	}
	v := p.body[p.readIndex]
	p.readIndex++
	return v, nil
}

// ReadBool reads a one byte boolean; any non-zero value is true.
func (p *Packet) ReadBool() (bool, error) {
	v, err := p.ReadByte()
	return v != 0, err
}

func (p *Packet) next(n int) ([]byte, error) {
	if p.readIndex+n > len(p.body) {
		return nil, ErrTruncated
	}
	b := p.body[p.readIndex : p.readIndex+n]
	p.readIndex += n
	return b, nil
}

// ReadUint2 reads a big endian uint16.
func (p *Packet) ReadUint2() (uint16, error) {
	b, err := p.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint4 reads a big endian uint32.
func (p *Packet) ReadUint4() (uint32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint2LSF reads a little endian uint16.
func (p *Packet) ReadUint2LSF() (uint16, error) {
	b, err := p.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint4LSF reads a little endian uint32.
func (p *Packet) ReadUint4LSF() (uint32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt2 reads a big endian int16.
func (p *Packet) ReadInt2() (int16, error) {
	v, err := p.ReadUint2()
	return int16(v), err
}

// ReadInt4 reads a big endian int32.
func (p *Packet) ReadInt4() (int32, error) {
	v, err := p.ReadUint4()
	return int32(v), err
}

// ReadInt2LSF reads a little endian int16.
func (p *Packet) ReadInt2LSF() (int16, error) {
	v, err := p.ReadUint2LSF()
	return int16(v), err
}

// ReadInt4LSF reads a little endian int32.
func (p *Packet) ReadInt4LSF() (int32, error) {
	v, err := p.ReadUint4LSF()
	return int32(v), err
}

// ReadFloat reads a big endian IEEE 754 single.
func (p *Packet) ReadFloat() (float32, error) {
	v, err := p.ReadUint4()
	return math.Float32frombits(v), err
}

// ReadFloatLSF reads a little endian IEEE 754 single.
func (p *Packet) ReadFloatLSF() (float32, error) {
	v, err := p.ReadUint4LSF()
	return math.Float32frombits(v), err
}

// ReadString reads a zero terminated string. A missing terminator ends the
// string at the end of the body. Bytes that are not valid UTF-8 are taken as
// ISO-8859-1.
func (p *Packet) ReadString() string {
	start := p.readIndex
	for p.readIndex < len(p.body) && p.body[p.readIndex] != 0 {
		p.readIndex++
	}
	raw := p.body[start:p.readIndex]
	if p.readIndex < len(p.body) {
		p.readIndex++
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

// ReadNsec reads a seconds plus nanoseconds time stamp.
func (p *Packet) ReadNsec() (time.Time, error) {
	sec, err := p.ReadInt4()
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := p.ReadInt4()
	if err != nil {
		return time.Time{}, err
	}
	return FromLoggerTime(sec, nsec), nil
}

// ReadNsecLSF is ReadNsec with least significant bytes first.
func (p *Packet) ReadNsecLSF() (time.Time, error) {
	sec, err := p.ReadInt4LSF()
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := p.ReadInt4LSF()
	if err != nil {
		return time.Time{}, err
	}
	return FromLoggerTime(sec, nsec), nil
}

// ReadSec reads a whole seconds time stamp.
func (p *Packet) ReadSec() (time.Time, error) {
	sec, err := p.ReadInt4()
	if err != nil {
		return time.Time{}, err
	}
	return FromLoggerTime(sec, 0), nil
}

// FromLoggerTime converts seconds and nanoseconds since LoggerEpoch.
func FromLoggerTime(sec, nsec int32) time.Time {
	return time.Unix(int64(sec)+loggerEpochUnix, int64(nsec)).UTC()
}

func loggerTime(t time.Time) (sec, nsec int32) {
	return int32(t.Unix() - loggerEpochUnix), int32(t.Nanosecond())
}
