// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

// SignatureSeed is the initial value of a signature computation.
const SignatureSeed uint16 = 0xAAAA

// Signature folds buf into the running signature seed.
func Signature(buf []byte, seed uint16) uint16 {
	sig := uint32(seed)
	for _, b := range buf {
		j := sig
		sig = (sig << 1) & 0x01FF
		if sig >= 0x100 {
			sig++
		}
		sig = ((sig + (j >> 8) + uint32(b)) & 0xFF) | (j << 8)
	}
	return uint16(sig & 0xFFFF)
}

// CalcSignature computes the signature of buf with the default seed.
func CalcSignature(buf []byte) uint16 {
	return Signature(buf, SignatureSeed)
}

// Nullifier returns the two byte value that, appended big-endian to the
// signed buffer, brings its signature to zero.
func Nullifier(sig uint16) uint16 {
	null1 := nullByte(sig)
	sig = Signature([]byte{null1}, sig)
	null2 := nullByte(sig)
	return uint16(null1)<<8 | uint16(null2)
}

func nullByte(sig uint16) byte {
	s := uint32(sig)
	ns := (s << 1) & 0x01FF
	if ns >= 0x100 {
		ns++
	}
	return byte(0x100 - (ns + (s >> 8)))
}
