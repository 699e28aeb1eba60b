// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateVerifyInterval(t *testing.T) {
	tests := []struct {
		peer, local uint16
		want        time.Duration
	}{
		{120, 600, 120 * time.Second},
		{600, 120, 120 * time.Second},
		{0, InfiniteVerifyInterval, DefaultVerifyInterval},
		{InfiniteVerifyInterval, InfiniteVerifyInterval, DefaultVerifyInterval},
		{0xFFFF, 60, 60 * time.Second},
		{1000, 0, 1000 * time.Second},
	}
	for _, tt := range tests {
		got := NegotiateVerifyInterval(tt.peer, tt.local)
		if got != tt.want {
			t.Errorf("NegotiateVerifyInterval(%d, %d) = %v, want %v", tt.peer, tt.local, got, tt.want)
		}
	}
}

func TestHopMetric(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  byte
	}{
		{0, 0},
		{200 * time.Millisecond, 0},
		{201 * time.Millisecond, 1},
		{DefaultLinkDelay, 2},
		{10 * time.Second, 3},
		{20 * time.Second, 4},
		{time.Minute, 5},
		{5 * time.Minute, 6},
		{time.Hour, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HopMetric(tt.delay), "delay %v", tt.delay)
	}
}

func TestNeighborNeedsVerify(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	nb := newNeighbor(1)
	assert.True(t, nb.needsVerify(now), "never verified")

	nb.attempts = 2
	nb.onVerified(now, 120*time.Second)
	assert.Zero(t, nb.attempts)
	assert.False(t, nb.needsVerify(now.Add(299*time.Second)))
	assert.True(t, nb.needsVerify(now.Add(300*time.Second)))
}

func TestNeighborRandomDelay(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	nb := newNeighbor(1)
	nb.setRandomDelay(now, rand.New(rand.NewSource(1)), maxHelloReqDelay)
	assert.Less(t, nb.delay, maxHelloReqDelay)

	if nb.delay > 0 {
		assert.False(t, nb.needsVerify(now))
	}
	assert.True(t, nb.needsVerify(now.Add(maxHelloReqDelay)))
	assert.False(t, nb.delayTimer.set)
}

func TestHelloBody(t *testing.T) {
	p := NewPacket(ProtocolPakCtrl, PakCtrlHelloCmd)
	helloBody(p, DefaultLinkDelay, 600)
	assert.Equal(t, []byte{0x00, 0x02, 0x02, 0x58}, p.Body())
}
