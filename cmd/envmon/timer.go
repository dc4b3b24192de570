package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envmon/timer"
)

var timerCmd = cli.Command{
	Name:  "timer",
	Usage: "list the sampling period selectors",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "clock",
			Usage: "timer input clock in Hz",
			Value: timer.DefaultClock,
		},
	},
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(os.Stdout, 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "SELECTOR\tDIVIDER\tPERIOD\n")
		for _, sel := range timer.Selectors() {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", sel, sel.Divider(), sel.Period(c.Uint64("clock")))
		}
		return w.Flush()
	},
}
