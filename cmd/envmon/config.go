package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envmon/cmd/envmon/console"
	"github.com/mklimuk/envmon/config"
	"github.com/mklimuk/envmon/timer"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   fmt.Sprintf("bus adapter, one of %v", config.Adapters),
	},
	&cli.UintFlag{
		Name:  "address",
		Usage: "7-bit sensor address",
	},
	&cli.StringFlag{
		Name:  "scl",
		Usage: "SCL pin name (gpio adapter)",
	},
	&cli.StringFlag{
		Name:  "sda",
		Usage: "SDA pin name (gpio adapter)",
	},
	&cli.BoolFlag{
		Name:  "checksum",
		Usage: "read and verify the DHT12 checksum byte",
	},
	&cli.BoolFlag{
		Name:  "repeated-start",
		Usage: "turn the bus around with a repeated start instead of stop+start",
	},
}

// loadConfig reads the file named by --config and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("adapter") {
		cfg.Adapter = c.String("adapter")
	}
	if c.IsSet("address") {
		cfg.Sensor.Address = uint8(c.Uint("address"))
	}
	if c.IsSet("scl") {
		cfg.Bus.SCL = c.String("scl")
	}
	if c.IsSet("sda") {
		cfg.Bus.SDA = c.String("sda")
	}
	if c.IsSet("checksum") {
		cfg.Sensor.Checksum = c.Bool("checksum")
	}
	if c.IsSet("repeated-start") {
		cfg.Sensor.RepeatedStart = c.Bool("repeated-start")
	}
	if c.IsSet("period") {
		sel, err := timer.ParseSelector(c.String("period"))
		if err != nil {
			return cfg, err
		}
		cfg.Timer.Period = sel
	}
	if c.IsSet("serial") {
		cfg.Serial.Address = c.String("serial")
	}
	if c.IsSet("baud") {
		cfg.Serial.BaudRate = c.Int("baud")
	}
	if c.IsSet("display") && c.String("display") != cfg.Display.Kind {
		cfg.Display.Kind = c.String("display")
		if cfg.Display.Kind == config.DisplayLCD {
			cfg.Display.Cols, cfg.Display.Rows = config.DefaultLCDCols, config.DefaultLCDRows
		}
	}
	if c.IsSet("broker") {
		cfg.Telemetry.Broker = c.String("broker")
	}
	if c.IsSet("modbus") {
		cfg.Telemetry.Modbus = c.String("modbus")
	}
	return cfg, cfg.Validate()
}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		out, err := cfg.Encode()
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		_, _ = os.Stdout.Write(out)
		return nil
	},
}
