package main

import (
	"bytes"
	"context"
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/acquire"
	"github.com/mklimuk/envmon/config"
	"github.com/mklimuk/envmon/display"
	"github.com/mklimuk/envmon/mailbox"
	"github.com/mklimuk/envmon/timer"
	"github.com/mklimuk/envmon/twi"
	"github.com/mklimuk/envmon/uart"
)

func newContext(t *testing.T, flags []cli.Flag, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("config", "", "")
	for _, f := range flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestLoadConfig_Overrides(t *testing.T) {
	c := newContext(t, runCmd.Flags, "--adapter", "gpio", "--scl", "GPIO3", "--sda", "GPIO2",
		"--period", "262ms", "--checksum", "--display", "lcd", "--address", "0x40")

	cfg, err := loadConfig(c)
	require.NoError(t, err)
	assert.Equal(t, config.AdapterGPIO, cfg.Adapter)
	assert.Equal(t, "GPIO3", cfg.Bus.SCL)
	assert.Equal(t, timer.Overflow262ms, cfg.Timer.Period)
	assert.True(t, cfg.Sensor.Checksum)
	assert.Equal(t, uint8(0x40), cfg.Sensor.Address)
	assert.Equal(t, config.DisplayLCD, cfg.Display.Kind)
	assert.Equal(t, config.DefaultLCDCols, cfg.Display.Cols)
	assert.Equal(t, config.DefaultLCDRows, cfg.Display.Rows)
}

func TestLoadConfig_Invalid(t *testing.T) {
	c := newContext(t, runCmd.Flags, "--adapter", "gpio")
	_, err := loadConfig(c)
	assert.ErrorIs(t, err, config.ErrInvalid)

	c = newContext(t, runCmd.Flags, "--period", "2s")
	_, err = loadConfig(c)
	assert.ErrorIs(t, err, timer.ErrUnknownSelector)
}

func TestStartup_Sim(t *testing.T) {
	cfg := config.Default()
	bus, err := openBus(context.Background(), cfg)
	require.NoError(t, err)
	var out bytes.Buffer

	require.NoError(t, startup(cfg, bus, uart.NewRing(&out, 64), false))
	assert.Equal(t, "I2C sensor detected\r\nScanning I2C... \r\n5c\r\n", out.String())
}

func TestStartup_SensorMissingAccepted(t *testing.T) {
	cfg := config.Default()
	bus, err := openBus(context.Background(), cfg)
	require.NoError(t, err)
	cfg.Sensor.Address = 0x40
	var out bytes.Buffer

	require.NoError(t, startup(cfg, bus, uart.NewRing(&out, 64), true))
	assert.Equal(t, "[ERROR] I2C device not detected\r\nScanning I2C... \r\n5c\r\n", out.String())
}

func TestSimBus_Cycle(t *testing.T) {
	cfg := config.Default()
	cfg.Sensor.Checksum = true
	bus, err := openBus(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	slot := &mailbox.Slot{}
	out := acquire.New(bus.prim, slot, acquire.WithChecksum(true)).Cycle()
	require.Equal(t, acquire.Done, out.State)
	assert.Equal(t, simRecord, out.Record.Bytes())
}

func TestOpenScreen(t *testing.T) {
	cfg := config.Default()
	bus, err := openBus(context.Background(), cfg)
	require.NoError(t, err)

	screen, err := openScreen(cfg, bus)
	require.NoError(t, err)
	assert.IsType(t, &display.Frame{}, screen)

	cfg.Display.Kind = config.DisplayNone
	_, err = openScreen(cfg, bus)
	assert.ErrorIs(t, err, errNoDisplay)
}

func TestSimBus_Refresh(t *testing.T) {
	cfg := config.Default()
	bus, err := openBus(context.Background(), cfg)
	require.NoError(t, err)
	calls := 0

	bus.handler(func() { calls++ })()
	assert.Equal(t, 1, calls)

	r := make([]byte, 5)
	require.NoError(t, bus.bus.WriteToAddr(context.Background(), cfg.Sensor.Address, []byte{0}))
	require.NoError(t, bus.bus.ReadFromAddr(context.Background(), cfg.Sensor.Address, r))
	assert.Equal(t, r[0]+r[1]+r[2]+r[3], r[4])
	assert.InDelta(t, 23.6, float64(r[2])+float64(r[3])/10, 1.6)
}

type readLenTx struct {
	lens []int
}

func (r *readLenTx) Tx(_ uint16, _, rd []byte) error {
	r.lens = append(r.lens, len(rd))
	return nil
}

func TestReadAhead_FollowsChecksum(t *testing.T) {
	for _, checksum := range []bool{false, true} {
		cfg := config.Default()
		cfg.Sensor.Checksum = checksum
		bus := &readLenTx{}
		out := acquire.New(twi.NewBridge(bus, readAhead(cfg)), &mailbox.Slot{},
			acquire.WithChecksum(checksum), acquire.WithRepeatedStart(true)).Cycle()
		want := envmon.RecordLen
		if checksum {
			want = envmon.RecordLenWithChecksum
		}
		assert.Equal(t, acquire.Done, out.State)
		assert.Equal(t, []int{want}, bus.lens)
	}
}

func TestSplashLines(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, []string{
		"envmon",
		"",
		"21x8, terminal",
		strings.Repeat("-", 21),
		"DHT12 at 0x5c",
	}, splashLines(cfg))

	cfg.Display.Kind = config.DisplayLCD
	cfg.Display.Cols, cfg.Display.Rows = 8, 2
	assert.Equal(t, []string{"envmon", "8x2, HD4"}, splashLines(cfg))
}
