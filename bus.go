package envmon

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrNack is returned by a primitive when the receiver did not acknowledge a byte.
var ErrNack = fmt.Errorf("byte not acknowledged")

// ErrShortRead is returned when a read asks for more bytes than the transaction fetched.
var ErrShortRead = fmt.Errorf("read past the end of the transaction")

// AckPolicy tells the primitive how to terminate a received byte.
type AckPolicy bool

const (
	// ExpectMore acknowledges the byte so the slave keeps sending.
	ExpectMore AckPolicy = true
	// LastByte answers with a not-acknowledge, ending the read phase.
	LastByte AckPolicy = false
)

func (p AckPolicy) String() string {
	if p == ExpectMore {
		return "ACK"
	}
	return "NACK"
}

// Primitive is a byte-level two-wire bus master. Every call blocks until
// the bus operation completes.
type Primitive interface {
	Start() error
	Stop() error
	// WriteByte returns ErrNack (possibly wrapped) when the byte is not acknowledged.
	WriteByte(b byte) error
	// Receive reads one byte and terminates it according to policy.
	Receive(policy AckPolicy) (byte, error)
}

// RepeatedStarter is implemented by primitives able to reverse the transfer
// direction without releasing the bus.
type RepeatedStarter interface {
	RepeatedStart() error
}

// WriteAddress combines a 7-bit slave address with the write-intent bit.
func WriteAddress(addr byte) byte {
	return addr << 1
}

// ReadAddress combines a 7-bit slave address with the read-intent bit.
func ReadAddress(addr byte) byte {
	return addr<<1 | 1
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a transaction-level bus as exposed by USB bridges: every call is a
// complete start..stop transaction.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}
