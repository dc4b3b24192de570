package twi

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/envmon"
)

var _ envmon.Primitive = &BitBang{}
var _ envmon.RepeatedStarter = &BitBang{}

// Line is the part of a periph gpio.PinIO the bit-banged master needs.
// A line is released (pulled up) with In and pulled low with Out(gpio.Low),
// emulating an open-drain output.
type Line interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	Out(l gpio.Level) error
}

const DefaultFrequency = 100 * physic.KiloHertz

type BitBangOpts struct {
	HalfPeriod time.Duration
}

type BitBangOpt func(*BitBangOpts)

// WithFrequency sets the SCL clock frequency.
func WithFrequency(f physic.Frequency) BitBangOpt {
	return func(o *BitBangOpts) {
		o.HalfPeriod = f.Period() / 2
	}
}

// WithHalfPeriod sets the time each SCL level is held. Zero disables waiting.
func WithHalfPeriod(d time.Duration) BitBangOpt {
	return func(o *BitBangOpts) {
		o.HalfPeriod = d
	}
}

// BitBang is a single-master two-wire bus driven over two GPIO lines.
// It does not support clock stretching nor arbitration.
type BitBang struct {
	scl     Line
	sda     Line
	config  BitBangOpts
	started bool
}

// NewBitBang releases both lines and returns an idle bus master.
func NewBitBang(scl, sda Line, opts ...BitBangOpt) (*BitBang, error) {
	config := BitBangOpts{
		HalfPeriod: DefaultFrequency.Period() / 2,
	}
	for _, opt := range opts {
		opt(&config)
	}
	b := &BitBang{scl: scl, sda: sda, config: config}
	if err := b.release(b.sda); err != nil {
		return nil, fmt.Errorf("twi: could not release SDA: %w", err)
	}
	if err := b.release(b.scl); err != nil {
		return nil, fmt.Errorf("twi: could not release SCL: %w", err)
	}
	return b, nil
}

// Start issues a start condition, or a repeated start if the bus is held.
func (b *BitBang) Start() error {
	if b.started {
		return b.RepeatedStart()
	}
	if b.sda.Read() == gpio.Low || b.scl.Read() == gpio.Low {
		return envmon.ErrBusBusy
	}
	if err := b.startCondition(); err != nil {
		return err
	}
	b.started = true
	return nil
}

func (b *BitBang) RepeatedStart() error {
	if !b.started {
		return ErrNoStart
	}
	if err := b.release(b.sda); err != nil {
		return err
	}
	b.wait()
	if err := b.release(b.scl); err != nil {
		return err
	}
	b.wait()
	return b.startCondition()
}

func (b *BitBang) startCondition() error {
	if err := b.low(b.sda); err != nil {
		return err
	}
	b.wait()
	if err := b.low(b.scl); err != nil {
		return err
	}
	b.wait()
	return nil
}

func (b *BitBang) Stop() error {
	b.started = false
	if err := b.low(b.sda); err != nil {
		return err
	}
	b.wait()
	if err := b.release(b.scl); err != nil {
		return err
	}
	b.wait()
	if err := b.release(b.sda); err != nil {
		return err
	}
	b.wait()
	return nil
}

func (b *BitBang) WriteByte(c byte) error {
	if !b.started {
		return ErrNoStart
	}
	for i := 7; i >= 0; i-- {
		if err := b.writeBit(c&(1<<i) != 0); err != nil {
			return err
		}
	}
	nack, err := b.readBit()
	if err != nil {
		return err
	}
	if nack {
		return fmt.Errorf("twi: byte %#x: %w", c, envmon.ErrNack)
	}
	return nil
}

func (b *BitBang) Receive(policy envmon.AckPolicy) (byte, error) {
	if !b.started {
		return 0xFF, ErrNoStart
	}
	var c byte
	for range 8 {
		bit, err := b.readBit()
		if err != nil {
			return 0xFF, err
		}
		c <<= 1
		if bit {
			c |= 1
		}
	}
	// a released SDA during the ninth clock is a not-acknowledge
	if err := b.writeBit(policy == envmon.LastByte); err != nil {
		return 0xFF, err
	}
	if err := b.release(b.sda); err != nil {
		return 0xFF, err
	}
	return c, nil
}

func (b *BitBang) writeBit(high bool) error {
	var err error
	if high {
		err = b.release(b.sda)
	} else {
		err = b.low(b.sda)
	}
	if err != nil {
		return err
	}
	b.wait()
	if err := b.release(b.scl); err != nil {
		return err
	}
	b.wait()
	return b.low(b.scl)
}

func (b *BitBang) readBit() (bool, error) {
	if err := b.release(b.sda); err != nil {
		return false, err
	}
	b.wait()
	if err := b.release(b.scl); err != nil {
		return false, err
	}
	b.wait()
	bit := b.sda.Read() == gpio.High
	return bit, b.low(b.scl)
}

func (b *BitBang) release(l Line) error {
	if err := l.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("twi: line release failed: %w", err)
	}
	return nil
}

func (b *BitBang) low(l Line) error {
	if err := l.Out(gpio.Low); err != nil {
		return fmt.Errorf("twi: line drive failed: %w", err)
	}
	return nil
}

func (b *BitBang) wait() {
	if b.config.HalfPeriod > 0 {
		time.Sleep(b.config.HalfPeriod)
	}
}
