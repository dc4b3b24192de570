package display

import (
	"fmt"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

var _ Screen = &LCD{}

// DefaultLCDAddress is the usual address of a PCF8574 LCD backpack.
const DefaultLCDAddress = 0x27

// degree sign in the HD44780 A00 character ROM
const lcdDegree = 0xDF

// LCD is an HD44780 character display behind an I2C port expander.
// Only rows changed since the previous Commit are sent to the device.
// The driver does not report bus errors, so they are caught on the way to
// the bus and returned by Commit; a row that failed is sent again next time.
type LCD struct {
	mx    sync.Mutex
	dev   hd44780i2c.Device
	bus   *trapBus
	cells cells
}

// trapBus keeps the first error of the transactions it forwards.
type trapBus struct {
	bus drivers.I2C
	err error
}

func (t *trapBus) Tx(addr uint16, w, r []byte) error {
	err := t.bus.Tx(addr, w, r)
	if err != nil && t.err == nil {
		t.err = err
	}
	return err
}

func (t *trapBus) take() error {
	err := t.err
	t.err = nil
	return err
}

// NewLCD configures the display. bus can be any transaction-level bus, such
// as a periph.io i2c.Bus.
func NewLCD(bus drivers.I2C, addr uint8, cols, rows int) (*LCD, error) {
	if cols <= 0 || rows <= 0 || cols > 40 || rows > 4 {
		return nil, fmt.Errorf("display: unsupported LCD size %dx%d", cols, rows)
	}
	trap := &trapBus{bus: bus}
	dev := hd44780i2c.New(trap, addr)
	err := dev.Configure(hd44780i2c.Config{Width: uint8(cols), Height: uint8(rows)})
	if err == nil {
		err = trap.take()
	}
	if err != nil {
		return nil, fmt.Errorf("display: LCD configuration failed: %w", err)
	}
	return &LCD{dev: dev, bus: trap, cells: newCells(cols, rows)}, nil
}

func (l *LCD) SetCursor(col, row int) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.cells.setCursor(col, row)
}

func (l *LCD) Print(s string) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.cells.print(s)
}

func (l *LCD) Commit() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	for row, dirty := range l.cells.dirty {
		if !dirty {
			continue
		}
		l.dev.SetCursor(0, uint8(row))
		l.dev.Print(lcdBytes(l.cells.grid[row]))
		if err := l.bus.take(); err != nil {
			return fmt.Errorf("display: LCD row %d: %w", row, err)
		}
		l.cells.dirty[row] = false
	}
	return nil
}

// lcdBytes maps runes to the display character ROM. Runes the ROM lacks
// become '?'.
func lcdBytes(line []rune) []byte {
	b := make([]byte, len(line))
	for i, r := range line {
		switch {
		case r == '°':
			b[i] = lcdDegree
		case r < 0x80:
			b[i] = byte(r)
		default:
			b[i] = '?'
		}
	}
	return b
}
