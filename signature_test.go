// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

var signatureVector = []byte{
	0xa0, 0x02, 0x5f, 0xf0, 0x10, 0x02, 0x0f, 0xf0, 0x09,
	0xe8, 0xff, 0xff, 0x06, 0x00, 0x05, 0xf5, 0xc6, 0x00,
	0x00, 0x66, 0x32, 0x00, 0x00, 0x75, 0x60, 0x00, 0x00,
}

func TestSignatureVector(t *testing.T) {
	sig := CalcSignature(signatureVector)
	assert.Equal(t, uint16(0x6300), sig)
	assert.Equal(t, uint16(0x9d00), Nullifier(sig))
}

func TestNullifierZeroesSignature(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		buf := make([]byte, rnd.Intn(64))
		rnd.Read(buf)
		null := Nullifier(CalcSignature(buf))
		signed := append(buf, byte(null>>8), byte(null))
		if got := CalcSignature(signed); got != 0 {
			t.Fatalf("signature of % x with nullifier = %#04x, want 0", buf, got)
		}
	}
}

func TestSignatureSeedChaining(t *testing.T) {
	whole := CalcSignature(signatureVector)
	first := CalcSignature(signatureVector[:10])
	assert.Equal(t, whole, Signature(signatureVector[10:], first))
	assert.Equal(t, SignatureSeed, CalcSignature(nil))
}
