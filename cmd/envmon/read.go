package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/acquire"
	"github.com/mklimuk/envmon/cmd/envmon/console"
	"github.com/mklimuk/envmon/consumer"
	"github.com/mklimuk/envmon/envctx"
	"github.com/mklimuk/envmon/environment"
	"github.com/mklimuk/envmon/mailbox"
)

type reading struct {
	Adapter     string         `yaml:"adapter"`
	State       string         `yaml:"state"`
	FailedIn    string         `yaml:"failed_in,omitempty"`
	Error       string         `yaml:"error,omitempty"`
	Record      *envmon.Record `yaml:"record,omitempty"`
	Temperature float32        `yaml:"temperature,omitempty"`
	Humidity    float32        `yaml:"humidity,omitempty"`
	Line        string         `yaml:"line,omitempty"`
}

var readCmd = cli.Command{
	Name:  "read",
	Usage: "run a single acquisition cycle and print the outcome",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "driver",
			Usage: "read through the transaction-level DHT12 driver instead of the state machine",
		},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		ctx := envctx.SetVerbose(c.Context, c.Bool("verbose"))
		bus, err := openBus(ctx, cfg)
		if err != nil {
			return console.Exit(1, "bus error: %s", console.Red(err))
		}
		defer func() { _ = bus.Close() }()

		out := reading{Adapter: cfg.Adapter}
		var rec envmon.Record
		if c.Bool("driver") {
			rec, err = environment.NewDHT12(bus.bus).Read(ctx)
			if err != nil {
				out.State = acquire.Aborted.String()
				out.Error = err.Error()
			} else {
				out.State = acquire.Done.String()
			}
		} else {
			slot := &mailbox.Slot{}
			var o acquire.Outcome
			m := acquire.New(bus.prim, slot,
				acquire.WithAddress(cfg.Sensor.Address),
				acquire.WithRegister(cfg.Sensor.Register),
				acquire.WithChecksum(cfg.Sensor.Checksum),
				acquire.WithRepeatedStart(cfg.Sensor.RepeatedStart),
			)
			bus.handler(func() { o = m.Cycle() })()
			out.State = o.State.String()
			if o.State == acquire.Aborted {
				out.FailedIn = o.FailedIn.String()
				out.Error = o.Err.Error()
			}
			rec, _ = slot.Take()
		}
		if out.Error == "" {
			out.Record = &rec
			out.Temperature = environment.DHT12Temperature(rec)
			out.Humidity = environment.DHT12Humidity(rec)
			out.Line = consumer.New(nil, nil, nil, consumer.WithSignedTemperature(cfg.Sensor.Signed)).Line(rec)
		}
		enc := yaml.NewEncoder(os.Stdout)
		if err := enc.Encode(out); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		if out.Error != "" {
			return console.Exit(1, "acquisition failed: %s", console.Red(out.Error))
		}
		return nil
	},
}
