// Package mailbox holds the most recent Sample Record handed from the
// acquisition context to the consumer loop.
//
// The record and its readiness flag live in a single atomic word, so a
// publication is observed either completely or not at all. Exactly one
// goroutine may publish and exactly one may take.
package mailbox

import (
	"sync/atomic"
	"time"

	"github.com/mklimuk/envmon"
)

// Flag is the readiness state of the slot.
type Flag uint8

const (
	Empty Flag = iota
	Ready
)

func (f Flag) String() string {
	if f == Ready {
		return "READY"
	}
	return "EMPTY"
}

const (
	checksumBit = uint64(1) << 40
	readyBit    = uint64(1) << 63
)

// Slot is a single-producer/single-consumer mailbox of depth one.
// The zero value is an empty slot holding a zero record.
type Slot struct {
	word      atomic.Uint64
	published atomic.Int64
}

// Publish overwrites the stored record and raises the flag in one store.
// An unconsumed record is silently replaced.
func (s *Slot) Publish(r envmon.Record) {
	s.published.Store(time.Now().UnixNano())
	s.word.Store(pack(r) | readyBit)
}

// Take copies the record out and clears the flag. It returns false without
// side effects when the flag is Empty. The flag is cleared only for the exact
// record returned: a record published between the check and the clear is
// returned instead of being lost.
func (s *Slot) Take() (envmon.Record, bool) {
	for {
		w := s.word.Load()
		if w&readyBit == 0 {
			return envmon.Record{}, false
		}
		if s.word.CompareAndSwap(w, w&^readyBit) {
			return unpack(w), true
		}
	}
}

// Peek returns the stored record and the flag without changing either.
func (s *Slot) Peek() (envmon.Record, Flag) {
	w := s.word.Load()
	return unpack(w), flagOf(w)
}

func (s *Slot) Flag() Flag {
	return flagOf(s.word.Load())
}

// PublishedAt is the time of the last publication, zero if none happened yet.
func (s *Slot) PublishedAt() time.Time {
	ns := s.published.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func flagOf(w uint64) Flag {
	if w&readyBit != 0 {
		return Ready
	}
	return Empty
}

func pack(r envmon.Record) uint64 {
	w := uint64(r.HumInt) |
		uint64(r.HumDec)<<8 |
		uint64(r.TempInt)<<16 |
		uint64(r.TempDec)<<24 |
		uint64(r.Checksum)<<32
	if r.HasChecksum {
		w |= checksumBit
	}
	return w
}

func unpack(w uint64) envmon.Record {
	return envmon.Record{
		HumInt:      uint8(w),
		HumDec:      uint8(w >> 8),
		TempInt:     uint8(w >> 16),
		TempDec:     uint8(w >> 24),
		Checksum:    uint8(w >> 32),
		HasChecksum: w&checksumBit != 0,
	}
}
