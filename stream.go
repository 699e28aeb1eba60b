// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stream is the duplex byte channel a Network runs over.
type Stream interface {
	// ReadAvailable copies bytes that have already arrived into p. It must
	// not block; (0, nil) means nothing is pending.
	ReadAvailable(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// ConnStream adapts a blocking connection to a Stream. A reader goroutine
// buffers incoming bytes until the network collects them.
type ConnStream struct {
	rw io.ReadWriteCloser

	mu  sync.Mutex
	buf bytes.Buffer
	err error

	ready chan struct{}
	g     errgroup.Group
}

// NewConnStream starts reading rw in the background.
func NewConnStream(rw io.ReadWriteCloser) *ConnStream {
	c := &ConnStream{
		rw:    rw,
		ready: make(chan struct{}, 1),
	}
	c.g.Go(c.readLoop)
	return c
}

func (c *ConnStream) readLoop() error {
	buf := make([]byte, 1024)
	for {
		n, err := c.rw.Read(buf)
		c.mu.Lock()
		c.buf.Write(buf[:n])
		if err != nil {
			c.err = err
		}
		c.mu.Unlock()
		if n > 0 || err != nil {
			select {
			case c.ready <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return err
		}
	}
}

// Ready is signalled when bytes arrive or the connection fails, so a host
// can pump without waiting for its next tick.
func (c *ConnStream) Ready() <-chan struct{} { return c.ready }

func (c *ConnStream) ReadAvailable(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() > 0 {
		return c.buf.Read(p)
	}
	return 0, c.err
}

func (c *ConnStream) Write(p []byte) (int, error) {
	return c.rw.Write(p)
}

// Close closes the connection and waits for the reader to exit.
func (c *ConnStream) Close() error {
	err := c.rw.Close()
	if werr := c.g.Wait(); werr != nil && !isClosedErr(werr) && err == nil {
		err = werr
	}
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
