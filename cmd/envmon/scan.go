package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envmon/cmd/envmon/console"
	"github.com/mklimuk/envmon/envctx"
	"github.com/mklimuk/envmon/twi"
)

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "list the devices answering on the bus",
	Flags: busFlags,
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

		found := twi.Scan(bus.prim, scanFirst, scanLast)
		if len(found) == 0 {
			console.Warnf("no device answered between %#x and %#x", scanFirst, scanLast-1)
			return nil
		}
		for _, addr := range found {
			mark := ""
			if addr == cfg.Sensor.Address {
				mark = console.Green(" (sensor)")
			}
			console.Printf("%s%s\n", console.White(fmt.Sprintf("%#02x", addr)), mark)
		}
		return nil
	},
}
