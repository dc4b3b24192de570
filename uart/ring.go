// Package uart buffers text for a serial link so that writers never wait for
// the line.
package uart

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultSize is the ring capacity used when none is given.
const DefaultSize = 64

var ErrOverflow = fmt.Errorf("uart: transmit buffer full")

// Ring is a fixed-size transmit buffer in front of a port. Writes never
// block: bytes that do not fit are dropped and counted. A drain goroutine
// (Run) or an explicit Flush moves buffered bytes to the port.
type Ring struct {
	port io.Writer

	mx   sync.Mutex
	buf  []byte
	head int
	size int

	ready   chan struct{}
	dropped atomic.Uint64
}

func NewRing(port io.Writer, size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{
		port:  port,
		buf:   make([]byte, size),
		ready: make(chan struct{}, 1),
	}
}

// WriteString queues s. It returns ErrOverflow along with the number of
// bytes queued when s did not fit entirely.
func (r *Ring) WriteString(s string) (int, error) {
	r.mx.Lock()
	n := 0
	for n < len(s) && r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = s[n]
		r.size++
		n++
	}
	r.mx.Unlock()
	if n > 0 {
		select {
		case r.ready <- struct{}{}:
		default:
		}
	}
	if n < len(s) {
		r.dropped.Add(uint64(len(s) - n))
		return n, ErrOverflow
	}
	return n, nil
}

func (r *Ring) Write(p []byte) (int, error) {
	return r.WriteString(string(p))
}

// Len returns the number of bytes waiting for transmission.
func (r *Ring) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.size
}

// Dropped returns the number of bytes discarded because the ring was full.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Flush writes every buffered byte to the port.
func (r *Ring) Flush() error {
	for {
		chunk := r.chunk()
		if len(chunk) == 0 {
			return nil
		}
		n, err := r.port.Write(chunk)
		r.consume(n)
		if err != nil {
			return fmt.Errorf("uart: port write failed: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("uart: port write failed: %w", io.ErrShortWrite)
		}
	}
}

// Run drains the ring into the port until ctx is done, then flushes what is left.
func (r *Ring) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return r.Flush()
		case <-r.ready:
			if err := r.Flush(); err != nil {
				return err
			}
		}
	}
}

// chunk copies the longest contiguous run of buffered bytes.
func (r *Ring) chunk() []byte {
	r.mx.Lock()
	defer r.mx.Unlock()
	end := r.head + r.size
	if end > len(r.buf) {
		end = len(r.buf)
	}
	return append([]byte(nil), r.buf[r.head:end]...)
}

func (r *Ring) consume(n int) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}
