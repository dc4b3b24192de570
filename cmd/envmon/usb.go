package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/envmon/adapter"
	"github.com/mklimuk/envmon/cmd/envmon/console"
	"github.com/mklimuk/envmon/envctx"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "inspect USB bus adapters",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&mcp2221Cmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list HID devices, marking the supported bridges",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\tADAPTER\n")
		for _, dev := range devices {
			kind := ""
			if dev.VendorID == adapter.VendorID && dev.ProductID == adapter.ProductID {
				kind = "mcp2221"
			}
			_, _ = fmt.Fprintf(w, "%s\t%#x\t%#x\t%s\t%s\t%s\n",
				dev.Path, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product, kind)
		}
		return w.Flush()
	},
}

var mcp2221Flags = []cli.Flag{
	&cli.IntFlag{
		Name:  "index",
		Usage: "bridge index when several are plugged in",
		Value: -1,
	},
}

var mcp2221Cmd = cli.Command{
	Name: "mcp2221",
	Subcommands: cli.Commands{
		{
			Name:  "status",
			Usage: "print the bridge I2C engine status",
			Flags: mcp2221Flags,
			Action: func(c *cli.Context) error {
				a := adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("index")))
				status, err := a.Status(envctx.SetVerbose(c.Context, c.Bool("verbose")))
				return printStatus(status, err)
			},
		},
		{
			Name:  "release",
			Usage: "cancel the current transfer and free the bus",
			Flags: mcp2221Flags,
			Action: func(c *cli.Context) error {
				a := adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("index")))
				status, err := a.ReleaseBus(envctx.SetVerbose(c.Context, c.Bool("verbose")))
				return printStatus(status, err)
			},
		},
	},
}

func printStatus(status *adapter.MCP2221Status, err error) error {
	if err != nil {
		return console.Exit(1, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(os.Stdout)
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
