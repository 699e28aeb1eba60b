// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testutil provides test doubles for the pakbus engine.
package testutil

import (
	"bytes"
	"net"
	"sync"
	"testing"
)

// PipeStream is an in-memory pakbus.Stream. Bytes injected with Inject are
// read by the engine; bytes the engine writes are collected for TakeOutput.
type PipeStream struct {
	mu       sync.Mutex
	in       bytes.Buffer
	out      bytes.Buffer
	readErr  error
	writeErr error
}

func NewPipeStream() *PipeStream { return &PipeStream{} }

func (s *PipeStream) ReadAvailable(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in.Len() > 0 {
		return s.in.Read(p)
	}
	return 0, s.readErr
}

func (s *PipeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.out.Write(p)
}

// Inject queues bytes for the engine to read.
func (s *PipeStream) Inject(b []byte) {
	s.mu.Lock()
	s.in.Write(b)
	s.mu.Unlock()
}

// TakeOutput returns and clears everything the engine has written.
func (s *PipeStream) TakeOutput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	rtn := append([]byte(nil), s.out.Bytes()...)
	s.out.Reset()
	return rtn
}

// FailReads makes the next empty read return err.
func (s *PipeStream) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// FailWrites makes every write return err.
func (s *PipeStream) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// ListenLoopback starts a TCP listener on an ephemeral loopback port that is
// closed when the test ends.
func ListenLoopback(t testing.TB) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen on loopback: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}
