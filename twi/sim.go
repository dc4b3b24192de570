package twi

import (
	"fmt"
	"sync"

	"github.com/mklimuk/envmon"
)

var _ envmon.Primitive = &Sim{}
var _ envmon.RepeatedStarter = &Sim{}

var ErrNoStart = fmt.Errorf("twi: no start condition issued")
var ErrNotAddressed = fmt.Errorf("twi: no slave addressed for reading")
var ErrStalled = fmt.Errorf("twi: slave stalled the bus")

// Fault describes how a simulated device misbehaves.
type Fault struct {
	// NackAddress makes the device ignore its address (write and read).
	NackAddress bool
	// NackRegister makes the device refuse the register pointer byte.
	NackRegister bool
	// FailRead is the 1-based index of the received byte that fails; 0 disables it.
	FailRead int
}

type phase int

const (
	phaseIdle phase = iota
	phaseAddress
	phaseWrite
	phaseRead
	phaseDone
)

// Sim is an in-memory bus with register-file slaves attached. Each slave
// exposes a linear memory with an auto-incrementing pointer, the way most
// sensors and EEPROMs do. Sim is safe for concurrent use; operations are
// recorded and can be inspected with Ops.
type Sim struct {
	mx      sync.Mutex
	devices map[byte]*SimDevice
	phase   phase
	target  *SimDevice
	ptrSet  bool
	reads   int
	ops     []string
}

// SimDevice is a slave attached to a Sim bus.
type SimDevice struct {
	sim   *Sim
	addr  byte
	mem   []byte
	ptr   int
	fault Fault
}

func NewSim() *Sim {
	return &Sim{devices: make(map[byte]*SimDevice)}
}

// Attach places a device with the given memory content at a 7-bit address.
func (s *Sim) Attach(addr byte, mem ...byte) *SimDevice {
	s.mx.Lock()
	defer s.mx.Unlock()
	d := &SimDevice{sim: s, addr: addr, mem: append([]byte(nil), mem...)}
	if len(d.mem) == 0 {
		d.mem = make([]byte, 1)
	}
	s.devices[addr] = d
	return d
}

// Detach removes the device at addr, as if it was unplugged.
func (s *Sim) Detach(addr byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	delete(s.devices, addr)
}

// Ops returns the operations performed on the bus since the last reset.
func (s *Sim) Ops() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *Sim) ResetOps() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.ops = nil
}

func (s *Sim) Start() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.ops = append(s.ops, "S")
	s.begin()
	return nil
}

func (s *Sim) RepeatedStart() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.phase == phaseIdle {
		return ErrNoStart
	}
	s.ops = append(s.ops, "Sr")
	s.begin()
	return nil
}

// the operation log keeps at most this many entries
const maxOps = 4096

func (s *Sim) begin() {
	if len(s.ops) > maxOps {
		s.ops = append(s.ops[:0], s.ops[len(s.ops)-maxOps/2:]...)
	}
	s.phase = phaseAddress
	s.target = nil
	s.ptrSet = false
	s.reads = 0
}

func (s *Sim) Stop() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.ops = append(s.ops, "P")
	s.phase = phaseIdle
	s.target = nil
	return nil
}

func (s *Sim) WriteByte(b byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	switch s.phase {
	case phaseAddress:
		d, ok := s.devices[b>>1]
		if !ok || d.fault.NackAddress {
			s.ops = append(s.ops, fmt.Sprintf("W %02x NACK", b))
			s.phase = phaseDone
			return fmt.Errorf("twi: address %#x: %w", b>>1, envmon.ErrNack)
		}
		s.ops = append(s.ops, fmt.Sprintf("W %02x ACK", b))
		s.target = d
		if b&1 == 1 {
			s.phase = phaseRead
		} else {
			s.phase = phaseWrite
		}
		return nil
	case phaseWrite:
		d := s.target
		if !s.ptrSet {
			if d.fault.NackRegister {
				s.ops = append(s.ops, fmt.Sprintf("W %02x NACK", b))
				return fmt.Errorf("twi: register %#x: %w", b, envmon.ErrNack)
			}
			d.ptr = int(b) % len(d.mem)
			s.ptrSet = true
		} else {
			d.mem[d.ptr] = b
			d.ptr = (d.ptr + 1) % len(d.mem)
		}
		s.ops = append(s.ops, fmt.Sprintf("W %02x ACK", b))
		return nil
	case phaseIdle:
		return ErrNoStart
	default:
		s.ops = append(s.ops, fmt.Sprintf("W %02x NACK", b))
		return fmt.Errorf("twi: unexpected write: %w", envmon.ErrNack)
	}
}

func (s *Sim) Receive(policy envmon.AckPolicy) (byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.phase != phaseRead {
		return 0xFF, ErrNotAddressed
	}
	d := s.target
	s.reads++
	if d.fault.FailRead == s.reads {
		s.ops = append(s.ops, "R stall")
		s.phase = phaseDone
		return 0xFF, ErrStalled
	}
	b := d.mem[d.ptr]
	d.ptr = (d.ptr + 1) % len(d.mem)
	s.ops = append(s.ops, fmt.Sprintf("R %02x %s", b, policy))
	if policy == envmon.LastByte {
		s.phase = phaseDone
	}
	return b, nil
}

func (d *SimDevice) Addr() byte {
	return d.addr
}

// SetMemory writes data into the device memory starting at offset.
func (d *SimDevice) SetMemory(offset int, data ...byte) {
	d.sim.mx.Lock()
	defer d.sim.mx.Unlock()
	copy(d.mem[offset:], data)
}

// Memory returns a copy of the device memory.
func (d *SimDevice) Memory() []byte {
	d.sim.mx.Lock()
	defer d.sim.mx.Unlock()
	return append([]byte(nil), d.mem...)
}

func (d *SimDevice) SetFault(f Fault) {
	d.sim.mx.Lock()
	defer d.sim.mx.Unlock()
	d.fault = f
}
