// Package i2c opens the host buses the monitor can run on.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/twi"
)

var _ envmon.I2CBus = &GenericBus{}

var ErrPinNotFound = errors.New("gpio pin not found")

// GenericBus is a kernel I2C bus driven through periph.
type GenericBus struct {
	bus i2c.BusCloser
}

func initHost() error {
	state, err := host.Init()
	if err != nil {
		return fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	return nil
}

// NewGenericBus opens the named bus; an empty name selects the first one available.
func NewGenericBus(dev string) (*GenericBus, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &GenericBus{
		bus: bus,
	}, nil
}

// SetSpeed changes the bus clock where the driver allows it.
func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	return b.bus.SetSpeed(f)
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Tx performs a combined transaction with a repeated start between the parts.
func (b *GenericBus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

// NewBitBang drives a bus master over two host GPIO pins looked up by name.
func NewBitBang(scl, sda string, f physic.Frequency) (*twi.BitBang, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	sclPin, err := pinByName(scl)
	if err != nil {
		return nil, err
	}
	sdaPin, err := pinByName(sda)
	if err != nil {
		return nil, err
	}
	return twi.NewBitBang(sclPin, sdaPin, twi.WithFrequency(f))
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrPinNotFound)
	}
	return p, nil
}
