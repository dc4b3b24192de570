// Package config holds the settings of the monitor, read from a YAML file.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/envmon/environment"
	"github.com/mklimuk/envmon/timer"
	"github.com/mklimuk/envmon/uart"
)

const (
	AdapterSim     = "sim"
	AdapterGPIO    = "gpio"
	AdapterLinux   = "linux"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
)

var Adapters = []string{AdapterSim, AdapterGPIO, AdapterLinux, AdapterMCP2221, AdapterNanoPi}

const (
	DisplayNone  = "none"
	DisplayFrame = "frame"
	DisplayLCD   = "lcd"
)

var Displays = []string{DisplayNone, DisplayFrame, DisplayLCD}

// Largest character LCD the HD44780 addresses, and the size used when none is given.
const (
	MaxLCDCols     = 40
	MaxLCDRows     = 4
	DefaultLCDCols = 20
	DefaultLCDRows = 4
)

var ErrInvalid = fmt.Errorf("config: invalid configuration")

type Config struct {
	Adapter   string          `yaml:"adapter"`
	Bus       BusConfig       `yaml:"bus"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Timer     TimerConfig     `yaml:"timer"`
	Serial    SerialConfig    `yaml:"serial"`
	Display   DisplayConfig   `yaml:"display"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type BusConfig struct {
	// Name of a Linux I2C bus as known to periph, empty for the first one.
	Name string `yaml:"name,omitempty"`
	// SCL and SDA are GPIO names of the bit-banged bus.
	SCL string `yaml:"scl,omitempty"`
	SDA string `yaml:"sda,omitempty"`
	// FrequencyHz is the bit-banged clock frequency.
	FrequencyHz int `yaml:"frequency_hz,omitempty"`
	// Number is the NanoPi I2C bus number.
	Number int `yaml:"number,omitempty"`
}

type SensorConfig struct {
	Address       uint8 `yaml:"address"`
	Register      uint8 `yaml:"register"`
	Checksum      bool  `yaml:"checksum"`
	RepeatedStart bool  `yaml:"repeated_start"`
	// Signed shows the DHT12 below-zero flag as a minus sign.
	Signed bool `yaml:"signed"`
}

type TimerConfig struct {
	Period timer.Selector `yaml:"period"`
}

type SerialConfig struct {
	// Port settings; an empty address writes to standard output.
	uart.Config `yaml:",inline"`
	RingSize    int `yaml:"ring_size"`
}

type DisplayConfig struct {
	Kind       string        `yaml:"kind"`
	LCDAddress uint8         `yaml:"lcd_address,omitempty"`
	Cols       int           `yaml:"cols,omitempty"`
	Rows       int           `yaml:"rows,omitempty"`
	StaleAfter time.Duration `yaml:"stale_after,omitempty"`
	// Splash is how long the banner stays up before the readings; zero skips it.
	Splash time.Duration `yaml:"splash,omitempty"`
}

type TelemetryConfig struct {
	// Broker is host:port of an MQTT broker; empty disables publishing.
	Broker   string `yaml:"broker,omitempty"`
	Topic    string `yaml:"topic,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Modbus is host:port of a Modbus TCP endpoint mirroring the samples; empty disables it.
	Modbus         string `yaml:"modbus,omitempty"`
	ModbusUnit     uint8  `yaml:"modbus_unit,omitempty"`
	ModbusRegister uint16 `yaml:"modbus_register,omitempty"`
}

// Default returns the settings of the reference board: a DHT12 read every
// second and shown on a terminal frame.
func Default() Config {
	return Config{
		Adapter: AdapterSim,
		Bus: BusConfig{
			FrequencyHz: 100_000,
			Number:      2,
		},
		Sensor: SensorConfig{
			Address:  environment.DHT12Address,
			Register: environment.DHT12RegHumidity,
			Signed:   true,
		},
		Timer: TimerConfig{Period: timer.Overflow1s},
		Serial: SerialConfig{
			Config:   uart.Config{BaudRate: uart.DefaultBaudRate},
			RingSize: uart.DefaultSize,
		},
		Display: DisplayConfig{
			Kind:   DisplayFrame,
			Cols:   21,
			Rows:   8,
			Splash: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Topic:      "envmon/dht12",
			ClientID:   "envmon",
			ModbusUnit: 1,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: could not read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: could not parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !slices.Contains(Adapters, c.Adapter) {
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalid, c.Adapter)
	}
	if c.Adapter == AdapterGPIO && (c.Bus.SCL == "" || c.Bus.SDA == "") {
		return fmt.Errorf("%w: gpio adapter needs scl and sda pins", ErrInvalid)
	}
	if c.Bus.FrequencyHz < 0 {
		return fmt.Errorf("%w: negative bus frequency", ErrInvalid)
	}
	if c.Sensor.Address < 0x08 || c.Sensor.Address > 0x77 {
		return fmt.Errorf("%w: sensor address %#x outside 0x08..0x77", ErrInvalid, c.Sensor.Address)
	}
	if c.Timer.Period.Divider() == 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, timer.ErrUnknownSelector)
	}
	if c.Serial.RingSize <= 0 {
		return fmt.Errorf("%w: serial ring size must be positive", ErrInvalid)
	}
	if !slices.Contains(Displays, c.Display.Kind) {
		return fmt.Errorf("%w: unknown display %q", ErrInvalid, c.Display.Kind)
	}
	if c.Display.Kind != DisplayNone && (c.Display.Cols <= 0 || c.Display.Rows <= 0) {
		return fmt.Errorf("%w: display size %dx%d", ErrInvalid, c.Display.Cols, c.Display.Rows)
	}
	if c.Display.Kind == DisplayLCD && (c.Display.Cols > MaxLCDCols || c.Display.Rows > MaxLCDRows) {
		return fmt.Errorf("%w: LCD size %dx%d exceeds %dx%d", ErrInvalid, c.Display.Cols, c.Display.Rows, MaxLCDCols, MaxLCDRows)
	}
	if c.Display.StaleAfter < 0 {
		return fmt.Errorf("%w: negative stale_after", ErrInvalid)
	}
	if c.Display.Splash < 0 {
		return fmt.Errorf("%w: negative splash", ErrInvalid)
	}
	return nil
}

// Encode writes the configuration as YAML.
func (c Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}
