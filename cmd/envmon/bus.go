package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/adapter"
	"github.com/mklimuk/envmon/config"
	"github.com/mklimuk/envmon/display"
	"github.com/mklimuk/envmon/environment"
	"github.com/mklimuk/envmon/i2c"
	"github.com/mklimuk/envmon/twi"
)

// simRecord is what the simulated sensor answers first: 45.2 %, 23.6 °C.
var simRecord = []byte{45, 2, 23, 6, 76}

// busSet is an opened bus seen at both levels: the byte-level primitive the
// acquisition machine drives and the transaction-level view other drivers use.
// mx is held for a whole acquisition cycle and for every display transaction.
type busSet struct {
	mx    sync.Mutex
	prim  envmon.Primitive
	tx    twi.Txer
	bus   envmon.I2CBus
	close func() error
	// refresh updates simulated sensor values before a cycle
	refresh func()
}

func (b *busSet) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// readAhead makes a bridged read phase fetch exactly the bytes the
// acquisition asks for.
func readAhead(cfg config.Config) twi.BridgeOpt {
	if cfg.Sensor.Checksum {
		return twi.WithReadAhead(envmon.RecordLenWithChecksum)
	}
	return twi.WithReadAhead(envmon.RecordLen)
}

func openBus(ctx context.Context, cfg config.Config) (*busSet, error) {
	slog.Debug("opening bus", "adapter", cfg.Adapter)
	switch cfg.Adapter {
	case config.AdapterSim:
		sim := twi.NewSim()
		dev := sim.Attach(cfg.Sensor.Address, simRecord...)
		if cfg.Display.Kind == config.DisplayLCD {
			sim.Attach(lcdAddress(cfg))
		}
		sensor := environment.NewMockDHT12(
			environment.Drift(23.6, 1.5, 10*time.Minute, time.Now),
			environment.Drift(45.2, 4, 17*time.Minute, time.Now),
		)
		tr := twi.Transact(sim)
		return &busSet{prim: sim, tx: tr, bus: tr, refresh: func() {
			r, err := sensor.Record(ctx)
			if err != nil {
				return
			}
			dev.SetMemory(int(environment.DHT12RegHumidity), r.Bytes()...)
		}}, nil
	case config.AdapterGPIO:
		bb, err := i2c.NewBitBang(cfg.Bus.SCL, cfg.Bus.SDA, physic.Frequency(cfg.Bus.FrequencyHz)*physic.Hertz)
		if err != nil {
			return nil, fmt.Errorf("could not set up bit-banged bus: %w", err)
		}
		tr := twi.Transact(bb)
		return &busSet{prim: bb, tx: tr, bus: tr}, nil
	case config.AdapterLinux:
		bus, err := i2c.NewGenericBus(cfg.Bus.Name)
		if err != nil {
			return nil, err
		}
		if cfg.Bus.FrequencyHz > 0 {
			if err := bus.SetSpeed(physic.Frequency(cfg.Bus.FrequencyHz) * physic.Hertz); err != nil {
				slog.Warn("bus speed not changed", "error", err)
			}
		}
		return &busSet{prim: twi.NewBridge(bus, readAhead(cfg)), tx: bus, bus: bus, close: bus.Close}, nil
	case config.AdapterMCP2221:
		bridge := adapter.NewMCP2221()
		if err := bridge.Init(ctx); err != nil {
			return nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		if cfg.Bus.FrequencyHz > 0 {
			if err := bridge.SetSpeed(ctx, cfg.Bus.FrequencyHz); err != nil {
				slog.Warn("bus speed not changed", "error", err)
			}
		}
		return &busSet{prim: twi.NewBridge(bridge, readAhead(cfg)), tx: bridge, bus: bridge}, nil
	case config.AdapterNanoPi:
		board, err := adapter.NewNanoPi(cfg.Bus.Number)
		if err != nil {
			return nil, err
		}
		tx := twi.SplitTx(ctx, board)
		return &busSet{prim: twi.NewBridge(tx, readAhead(cfg)), tx: tx, bus: board, close: board.Close}, nil
	}
	return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
}

// handler wraps an overflow handler so that it owns the bus for the whole
// cycle. Simulated values move before each cycle.
func (b *busSet) handler(cycle func()) func() {
	return func() {
		b.mx.Lock()
		defer b.mx.Unlock()
		if b.refresh != nil {
			b.refresh()
		}
		cycle()
	}
}

// Tx performs a transaction between two acquisition cycles.
func (b *busSet) Tx(addr uint16, w, r []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.tx.Tx(addr, w, r)
}

func lcdAddress(cfg config.Config) uint8 {
	if cfg.Display.LCDAddress == 0 {
		return display.DefaultLCDAddress
	}
	return cfg.Display.LCDAddress
}

var errNoDisplay = errors.New("display disabled")

// openScreen returns the configured screen, or errNoDisplay when there is none.
func openScreen(cfg config.Config, bus *busSet) (display.Screen, error) {
	switch cfg.Display.Kind {
	case config.DisplayFrame:
		return display.NewFrame(stdout, display.WithSize(cfg.Display.Cols, cfg.Display.Rows)), nil
	case config.DisplayLCD:
		return display.NewLCD(bus, lcdAddress(cfg), cfg.Display.Cols, cfg.Display.Rows)
	}
	return nil, errNoDisplay
}

// splashLines is the banner shown before the readings: a title, the screen
// geometry under a rule and the sensor being read.
func splashLines(cfg config.Config) []string {
	cols := cfg.Display.Cols
	geometry := fmt.Sprintf("%dx%d, terminal", cols, cfg.Display.Rows)
	lines := []string{"envmon", ""}
	if cfg.Display.Kind == config.DisplayLCD {
		geometry = fmt.Sprintf("%dx%d, HD44780", cols, cfg.Display.Rows)
		lines = lines[:1]
	}
	lines = append(lines,
		geometry,
		strings.Repeat("-", cols),
		fmt.Sprintf("DHT12 at %#x", cfg.Sensor.Address),
	)
	for i, l := range lines {
		if r := []rune(l); len(r) > cols {
			lines[i] = string(r[:cols])
		}
	}
	if len(lines) > cfg.Display.Rows {
		lines = lines[:cfg.Display.Rows]
	}
	return lines
}
