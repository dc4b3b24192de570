package twi

import "periph.io/x/conn/v3/gpio"

// wire is a wired-AND pair of lines shared by the master under test and one
// simulated slave that reacts to clock edges and start/stop conditions.
type wire struct {
	scl   bool // released by the master
	sda   bool // released by the master
	slave *bitSlave
}

func newWire(slave *bitSlave) (*wire, *wireLine, *wireLine) {
	w := &wire{scl: true, sda: true, slave: slave}
	return w, &wireLine{w: w}, &wireLine{w: w, sda: true}
}

func (w *wire) sdaLevel() bool {
	return w.sda && !w.slave.drive
}

func (w *wire) set(sda, released bool) {
	if sda {
		before := w.sdaLevel()
		w.sda = released
		after := w.sdaLevel()
		if w.scl && before != after {
			if after {
				w.slave.stop()
			} else {
				w.slave.start()
			}
		}
		return
	}
	before := w.scl
	w.scl = released
	switch {
	case !before && released:
		w.slave.rise(w.sdaLevel())
	case before && !released:
		w.slave.fall()
	}
}

type wireLine struct {
	w   *wire
	sda bool
}

func (l *wireLine) In(gpio.Pull, gpio.Edge) error {
	l.w.set(l.sda, true)
	return nil
}

func (l *wireLine) Out(v gpio.Level) error {
	l.w.set(l.sda, bool(v))
	return nil
}

func (l *wireLine) Read() gpio.Level {
	if l.sda {
		return gpio.Level(l.w.sdaLevel())
	}
	return gpio.Level(l.w.scl)
}

type slaveState int

const (
	slaveIdle slaveState = iota
	slaveAddr
	slaveAckAddr
	slaveRx
	slaveAckRx
	slaveTx
	slaveMasterAck
)

type bitSlave struct {
	addr         byte
	mem          []byte
	ptr          int
	nackRegister bool

	state       slaveState
	shift       byte
	nbits       int
	read        bool
	ptrSet      bool
	drive       bool
	masterAcked bool
	starts      int
	stops       int
}

func (s *bitSlave) start() {
	s.starts++
	s.state = slaveAddr
	s.nbits = 0
	s.shift = 0
	s.drive = false
	s.ptrSet = false
}

func (s *bitSlave) stop() {
	s.stops++
	s.state = slaveIdle
	s.drive = false
}

func (s *bitSlave) rise(level bool) {
	switch s.state {
	case slaveAddr, slaveRx:
		s.shift <<= 1
		if level {
			s.shift |= 1
		}
		s.nbits++
	case slaveTx:
		s.nbits++
	case slaveMasterAck:
		s.masterAcked = !level
	}
}

func (s *bitSlave) fall() {
	switch s.state {
	case slaveAddr:
		if s.nbits < 8 {
			return
		}
		if s.shift>>1 != s.addr {
			s.state = slaveIdle
			return
		}
		s.read = s.shift&1 == 1
		s.drive = true
		s.state = slaveAckAddr
	case slaveAckAddr:
		s.drive = false
		if s.read {
			s.load()
			return
		}
		s.state = slaveRx
		s.nbits = 0
		s.shift = 0
	case slaveRx:
		if s.nbits < 8 {
			return
		}
		if !s.ptrSet {
			if s.nackRegister {
				s.state = slaveIdle
				return
			}
			s.ptr = int(s.shift) % len(s.mem)
			s.ptrSet = true
		} else {
			s.mem[s.ptr] = s.shift
			s.ptr = (s.ptr + 1) % len(s.mem)
		}
		s.drive = true
		s.state = slaveAckRx
	case slaveAckRx:
		s.drive = false
		s.state = slaveRx
		s.nbits = 0
		s.shift = 0
	case slaveTx:
		if s.nbits == 8 {
			s.drive = false
			s.state = slaveMasterAck
			return
		}
		s.drive = (s.shift>>(7-s.nbits))&1 == 0
	case slaveMasterAck:
		if s.masterAcked {
			s.load()
			return
		}
		s.drive = false
		s.state = slaveIdle
	}
}

func (s *bitSlave) load() {
	s.state = slaveTx
	s.shift = s.mem[s.ptr]
	s.ptr = (s.ptr + 1) % len(s.mem)
	s.nbits = 0
	s.drive = s.shift&0x80 == 0
}
