package twi

import (
	"context"
	"fmt"

	"github.com/mklimuk/envmon"
)

var _ envmon.Primitive = &Bridge{}
var _ envmon.RepeatedStarter = &Bridge{}

// Txer performs a complete bus transaction: write w, then read into r.
// periph.io i2c.Bus and tinygo drivers.I2C both satisfy it.
type Txer interface {
	Tx(addr uint16, w, r []byte) error
}

type BridgeOpts struct {
	ReadAhead int
}

type BridgeOpt func(*BridgeOpts)

// WithReadAhead sets how many bytes a read phase fetches in one transaction.
func WithReadAhead(n int) BridgeOpt {
	return func(o *BridgeOpts) {
		o.ReadAhead = n
	}
}

// Bridge exposes a transaction-level bus as a byte-level Primitive.
//
// Bytes of a write phase are queued and sent when the phase ends, so a missing
// acknowledge surfaces from the Stop (or Start) that flushes the phase rather
// than from WriteByte. A read phase fetches ReadAhead bytes in a single
// transaction on its first Receive; a failed fetch ends the phase without
// further traffic. After RepeatedStart the queued write
// phase and the following read phase are sent as one combined transaction.
type Bridge struct {
	bus    Txer
	config BridgeOpts

	started  bool
	addr     byte
	haveAddr bool
	reading  bool
	combined bool
	w        []byte

	r       []byte
	rpos    int
	fetched bool
}

func NewBridge(bus Txer, opts ...BridgeOpt) *Bridge {
	config := BridgeOpts{
		ReadAhead: envmon.RecordLenWithChecksum,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Bridge{
		bus:    bus,
		config: config,
		r:      make([]byte, config.ReadAhead),
	}
}

func (b *Bridge) Start() error {
	err := b.flush()
	b.reset()
	b.started = true
	return err
}

func (b *Bridge) RepeatedStart() error {
	if !b.started {
		return ErrNoStart
	}
	if b.reading || !b.haveAddr {
		return b.Start()
	}
	b.combined = true
	b.haveAddr = false
	return nil
}

func (b *Bridge) Stop() error {
	err := b.flush()
	b.reset()
	return err
}

func (b *Bridge) WriteByte(c byte) error {
	if !b.started {
		return ErrNoStart
	}
	if !b.haveAddr {
		addr := c >> 1
		if b.combined && addr != b.addr {
			return fmt.Errorf("twi: repeated start to %#x after writing %#x: %w", addr, b.addr, envmon.ErrNack)
		}
		b.addr = addr
		b.haveAddr = true
		b.reading = c&1 == 1
		return nil
	}
	if b.reading {
		return fmt.Errorf("twi: write during read phase: %w", envmon.ErrNack)
	}
	b.w = append(b.w, c)
	return nil
}

func (b *Bridge) Receive(_ envmon.AckPolicy) (byte, error) {
	if !b.started || !b.haveAddr || !b.reading {
		return 0xFF, ErrNotAddressed
	}
	if !b.fetched {
		var w []byte
		if b.combined {
			w = b.w
		}
		err := b.bus.Tx(uint16(b.addr), w, b.r)
		b.fetched = true
		b.w = b.w[:0]
		if err != nil {
			// the phase is spent: later receives get ErrShortRead and the
			// closing Stop sends nothing
			b.rpos = len(b.r)
			return 0xFF, fmt.Errorf("twi: read from %#x failed: %w: %w", b.addr, envmon.ErrNack, err)
		}
	}
	if b.rpos >= len(b.r) {
		return 0xFF, envmon.ErrShortRead
	}
	c := b.r[b.rpos]
	b.rpos++
	return c, nil
}

// flush sends a pending write phase.
func (b *Bridge) flush() error {
	pending := (b.haveAddr && !b.reading) || (b.combined && !b.fetched)
	if !b.started || !pending {
		return nil
	}
	err := b.bus.Tx(uint16(b.addr), b.w, nil)
	if err != nil {
		return fmt.Errorf("twi: write to %#x failed: %w: %w", b.addr, envmon.ErrNack, err)
	}
	return nil
}

func (b *Bridge) reset() {
	b.started = false
	b.haveAddr = false
	b.reading = false
	b.combined = false
	b.w = b.w[:0]
	b.rpos = 0
	b.fetched = false
}

// SplitTx adapts a transaction-level I2CBus to Txer. A transaction with both
// a write and a read part is performed as two transactions, so it never
// yields a true repeated start.
func SplitTx(ctx context.Context, bus envmon.I2CBus) Txer {
	return &splitTx{ctx: ctx, bus: bus}
}

type splitTx struct {
	ctx context.Context
	bus envmon.I2CBus
}

func (s *splitTx) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 || len(r) == 0 {
		err := s.bus.WriteToAddr(s.ctx, byte(addr), w)
		if err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return s.bus.ReadFromAddr(s.ctx, byte(addr), r)
	}
	return nil
}
