package adapter

import (
	"context"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/envmon"
)

var _ envmon.I2CBus = &NanoPi{}

// DefaultNanoPiBus is the bus exposed on the NanoPi NEO header pins 3 and 5.
const DefaultNanoPiBus = 0

// NanoPi reaches the sensor through a NanoPi NEO board's I2C bus. Each slave
// address gets its own gobot driver, started on first use.
type NanoPi struct {
	mx      sync.Mutex
	board   *nanopi.Adaptor
	bus     int
	drivers map[byte]*i2c.GenericDriver
}

// NewNanoPi connects the board's I2C bus adaptor.
func NewNanoPi(bus int) (*NanoPi, error) {
	board := nanopi.NewNeoAdaptor()
	if err := board.I2cBusAdaptor.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	return &NanoPi{
		board:   board,
		bus:     bus,
		drivers: make(map[byte]*i2c.GenericDriver),
	}, nil
}

func (n *NanoPi) driver(address byte) (*i2c.GenericDriver, error) {
	if d, ok := n.drivers[address]; ok {
		return d, nil
	}
	d := i2c.NewGenericDriver(n.board, fmt.Sprintf("envmon-%#x", address), int(address), func(c i2c.Config) {
		c.SetBus(n.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("driver %#x start error: %w", address, err)
	}
	n.drivers[address] = d
	return d, nil
}

func (n *NanoPi) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	d, err := n.driver(address)
	if err != nil {
		return err
	}
	if err := d.Read(buffer); err != nil {
		return fmt.Errorf("read from %x failed: %w", address, err)
	}
	return nil
}

func (n *NanoPi) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	d, err := n.driver(address)
	if err != nil {
		return err
	}
	if err := d.Write(buffer); err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	return nil
}

func (n *NanoPi) Release(ctx context.Context) error {
	return nil
}

// Close halts every started driver and finalizes the bus adaptor.
func (n *NanoPi) Close() error {
	n.mx.Lock()
	defer n.mx.Unlock()
	for addr, d := range n.drivers {
		_ = d.Halt()
		delete(n.drivers, addr)
	}
	return n.board.I2cBusAdaptor.Finalize()
}
