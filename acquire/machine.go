// Package acquire implements the periodic read of a sample record from a
// register-file sensor, one bus phase at a time.
package acquire

import (
	"fmt"
	"sync/atomic"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/environment"
	"github.com/mklimuk/envmon/mailbox"
)

var ErrChecksum = fmt.Errorf("acquire: checksum mismatch")

type State int

const (
	Idle State = iota
	AddrSent
	RegSelected
	Reading
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AddrSent:
		return "ADDR_SENT"
	case RegSelected:
		return "REG_SELECTED"
	case Reading:
		return "READING"
	case Done:
		return "DONE"
	case Aborted:
		return "ABORTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the cycle is over.
func (s State) Terminal() bool {
	return s == Done || s == Aborted
}

// Outcome describes how a cycle ended.
type Outcome struct {
	State State
	// FailedIn is the state the machine was in when the failing operation ran.
	FailedIn State
	Err      error
	// Record is set only when State is Done.
	Record envmon.Record
}

type Opts struct {
	Address       byte
	Register      byte
	Checksum      bool
	RepeatedStart bool
	OnAbort       func(Outcome)
}

type Opt func(*Opts)

func WithAddress(addr byte) Opt {
	return func(o *Opts) {
		o.Address = addr
	}
}

// WithRegister sets the memory offset the read starts from.
func WithRegister(reg byte) Opt {
	return func(o *Opts) {
		o.Register = reg
	}
}

// WithChecksum reads the trailing checksum byte and aborts the cycle when it
// does not match the payload.
func WithChecksum(enabled bool) Opt {
	return func(o *Opts) {
		o.Checksum = enabled
	}
}

// WithRepeatedStart turns direction with a repeated start instead of a stop
// followed by a start, if the bus supports it.
func WithRepeatedStart(enabled bool) Opt {
	return func(o *Opts) {
		o.RepeatedStart = enabled
	}
}

// WithAbortHook registers a function called at the end of every aborted cycle.
func WithAbortHook(fn func(Outcome)) Opt {
	return func(o *Opts) {
		o.OnAbort = fn
	}
}

// Machine reads one record per cycle and publishes it to a slot.
// A failed cycle leaves the slot untouched. A Machine is not safe for
// concurrent use; the timer driving it never re-enters it.
type Machine struct {
	bus    envmon.Primitive
	slot   *mailbox.Slot
	config Opts

	state    State
	failedIn State
	err      error
	buf      []byte
	n        int
	record   envmon.Record

	cycles    atomic.Uint64
	published atomic.Uint64
	aborted   atomic.Uint64
}

func New(bus envmon.Primitive, slot *mailbox.Slot, opts ...Opt) *Machine {
	config := Opts{
		Address:  environment.DHT12Address,
		Register: environment.DHT12RegHumidity,
	}
	for _, opt := range opts {
		opt(&config)
	}
	size := envmon.RecordLen
	if config.Checksum {
		size = envmon.RecordLenWithChecksum
	}
	return &Machine{
		bus:    bus,
		slot:   slot,
		config: config,
		buf:    make([]byte, size),
	}
}

func (m *Machine) State() State {
	return m.state
}

// Reset returns the machine to Idle, forgetting the previous cycle.
func (m *Machine) Reset() {
	m.state = Idle
	m.failedIn = Idle
	m.err = nil
	m.n = 0
	m.record = envmon.Record{}
}

// Step performs one transition and returns the new state. While Reading,
// each step receives one byte. Terminal states do not move.
func (m *Machine) Step() State {
	switch m.state {
	case Idle:
		if err := m.bus.Start(); err != nil {
			m.abort(fmt.Errorf("acquire: start: %w", err))
			break
		}
		if err := m.bus.WriteByte(envmon.WriteAddress(m.config.Address)); err != nil {
			m.abort(fmt.Errorf("acquire: address %#x: %w", m.config.Address, err))
			break
		}
		m.state = AddrSent
	case AddrSent:
		if err := m.bus.WriteByte(m.config.Register); err != nil {
			m.abort(fmt.Errorf("acquire: register %#x: %w", m.config.Register, err))
			break
		}
		m.state = RegSelected
	case RegSelected:
		if err := m.turnAround(); err != nil {
			m.abort(fmt.Errorf("acquire: restart: %w", err))
			break
		}
		if err := m.bus.WriteByte(envmon.ReadAddress(m.config.Address)); err != nil {
			m.abort(fmt.Errorf("acquire: read address %#x: %w", m.config.Address, err))
			break
		}
		m.n = 0
		m.state = Reading
	case Reading:
		policy := envmon.ExpectMore
		if m.n == len(m.buf)-1 {
			policy = envmon.LastByte
		}
		b, err := m.bus.Receive(policy)
		if err != nil {
			m.abort(fmt.Errorf("acquire: byte %d: %w", m.n, err))
			break
		}
		m.buf[m.n] = b
		m.n++
		if m.n < len(m.buf) {
			break
		}
		r := envmon.RecordFromBytes(m.buf)
		if !r.Valid() {
			m.abort(fmt.Errorf("%w: got %#x, want %#x", ErrChecksum, r.Checksum, r.Sum()))
			break
		}
		m.finish(r)
	}
	return m.state
}

// Cycle runs a full acquisition from Idle to a terminal state.
func (m *Machine) Cycle() Outcome {
	m.Reset()
	m.cycles.Add(1)
	for !m.state.Terminal() {
		m.Step()
	}
	out := m.Outcome()
	if out.State == Aborted && m.config.OnAbort != nil {
		m.config.OnAbort(out)
	}
	return out
}

// Handler adapts Cycle to a timer overflow handler.
func (m *Machine) Handler() func() {
	return func() {
		m.Cycle()
	}
}

// Outcome describes the current cycle.
func (m *Machine) Outcome() Outcome {
	out := Outcome{State: m.state}
	switch m.state {
	case Aborted:
		out.FailedIn = m.failedIn
		out.Err = m.err
	case Done:
		out.Record = m.record
	}
	return out
}

// Stats returns the number of cycles run, published and aborted.
func (m *Machine) Stats() (cycles, published, aborted uint64) {
	return m.cycles.Load(), m.published.Load(), m.aborted.Load()
}

func (m *Machine) turnAround() error {
	if m.config.RepeatedStart {
		if rs, ok := m.bus.(envmon.RepeatedStarter); ok {
			return rs.RepeatedStart()
		}
	}
	if err := m.bus.Stop(); err != nil {
		return err
	}
	return m.bus.Start()
}

func (m *Machine) finish(r envmon.Record) {
	// the record is complete, a failing stop cannot invalidate it
	_ = m.bus.Stop()
	m.record = r
	m.state = Done
	m.slot.Publish(r)
	m.published.Add(1)
}

func (m *Machine) abort(err error) {
	m.failedIn = m.state
	m.err = err
	m.state = Aborted
	m.aborted.Add(1)
	_ = m.bus.Stop()
}
