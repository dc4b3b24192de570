package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envmon/acquire"
	"github.com/mklimuk/envmon/cmd/envmon/console"
	"github.com/mklimuk/envmon/config"
	"github.com/mklimuk/envmon/consumer"
	"github.com/mklimuk/envmon/envctx"
	"github.com/mklimuk/envmon/mailbox"
	"github.com/mklimuk/envmon/telemetry"
	"github.com/mklimuk/envmon/timer"
	"github.com/mklimuk/envmon/twi"
	"github.com/mklimuk/envmon/uart"
)

// addresses swept at startup
const (
	scanFirst = 0x08
	scanLast  = 0x78
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "sample the sensor periodically and report every reading",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "period",
			Aliases: []string{"p"},
			Usage:   "sampling period selector (see the timer command)",
		},
		&cli.StringFlag{
			Name:  "serial",
			Usage: "serial port the readings are written to; standard output when empty",
		},
		&cli.IntFlag{
			Name:  "baud",
			Usage: "serial port baud rate",
		},
		&cli.StringFlag{
			Name:  "display",
			Usage: fmt.Sprintf("display kind, one of %v", config.Displays),
		},
		&cli.StringFlag{
			Name:  "broker",
			Usage: "MQTT broker host:port readings are published to",
		},
		&cli.StringFlag{
			Name:  "modbus",
			Usage: "Modbus TCP endpoint host:port readings are written to",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "keep running when the sensor does not answer",
		},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		ctx, cancel := signal.NotifyContext(envctx.SetVerbose(c.Context, c.Bool("verbose")), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		bus, err := openBus(ctx, cfg)
		if err != nil {
			return console.Exit(1, "bus error: %s", console.Red(err))
		}
		defer func() { _ = bus.Close() }()

		port, closePort, err := openSerial(cfg)
		if err != nil {
			return console.Exit(1, "serial error: %s", console.Red(err))
		}
		defer closePort()
		ring := uart.NewRing(port, cfg.Serial.RingSize)

		if err := startup(cfg, bus, ring, c.Bool("yes")); err != nil {
			return err
		}

		screen, err := openScreen(cfg, bus)
		if err != nil && !errors.Is(err, errNoDisplay) {
			return console.Exit(1, "display error: %s", console.Red(err))
		}

		slot := &mailbox.Slot{}
		machine := acquire.New(bus.prim, slot,
			acquire.WithAddress(cfg.Sensor.Address),
			acquire.WithRegister(cfg.Sensor.Register),
			acquire.WithChecksum(cfg.Sensor.Checksum),
			acquire.WithRepeatedStart(cfg.Sensor.RepeatedStart),
			acquire.WithAbortHook(func(o acquire.Outcome) {
				slog.Debug("acquisition aborted", "state", o.FailedIn, "error", o.Err)
			}),
		)
		t := timer.New(bus.handler(machine.Handler()))
		if err := t.Configure(cfg.Timer.Period); err != nil {
			return console.Exit(1, "timer error: %s", console.Red(err))
		}

		opts := []consumer.Opt{
			consumer.WithSignedTemperature(cfg.Sensor.Signed),
			consumer.WithStaleAfter(cfg.Display.StaleAfter),
			consumer.WithErrorHandler(func(err error) {
				slog.Debug("output failed", "error", err)
			}),
		}
		if cfg.Display.Kind == config.DisplayLCD {
			opts = append(opts, consumer.WithLayout(consumer.LCDLayout))
		}
		if cfg.Display.Splash > 0 {
			opts = append(opts, consumer.WithSplash(cfg.Display.Splash, splashLines(cfg)...))
		}

		var wg sync.WaitGroup
		if cfg.Telemetry.Broker != "" {
			pub := telemetry.NewPublisher(cfg.Telemetry.Broker,
				telemetry.WithTopic(cfg.Telemetry.Topic),
				telemetry.WithClientID(cfg.Telemetry.ClientID),
				telemetry.WithCredentials(cfg.Telemetry.Username, cfg.Telemetry.Password),
				telemetry.WithErrorHandler(func(err error) {
					slog.Warn("telemetry session ended", "broker", cfg.Telemetry.Broker, "error", err)
				}),
			)
			opts = append(opts, consumer.WithSinks(pub))
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = pub.Run(ctx)
				published, dropped := pub.Stats()
				slog.Info("telemetry stopped", "published", published, "dropped", dropped)
			}()
		}

		if cfg.Telemetry.Modbus != "" {
			regs := telemetry.NewRegisters(cfg.Telemetry.Modbus,
				telemetry.WithUnitID(cfg.Telemetry.ModbusUnit),
				telemetry.WithRegisterAddress(cfg.Telemetry.ModbusRegister),
				telemetry.WithRegistersErrorHandler(func(err error) {
					slog.Warn("modbus session ended", "endpoint", cfg.Telemetry.Modbus, "error", err)
				}),
			)
			opts = append(opts, consumer.WithSinks(regs))
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = regs.Run(ctx)
				written, dropped := regs.Stats()
				slog.Info("modbus mirror stopped", "written", written, "dropped", dropped)
			}()
		}

		loop := consumer.New(slot, ring, screen, opts...)
		loop.Prepare()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ring.Run(ctx); err != nil {
				slog.Error("serial output stopped", "error", err)
			}
		}()

		slog.Info("sampling started", "adapter", cfg.Adapter, "address", fmt.Sprintf("%#x", cfg.Sensor.Address), "period", t.Period())
		t.Enable()
		_ = loop.Run(ctx)
		t.Disable()
		cancel()
		wg.Wait()

		cycles, published, aborted := machine.Stats()
		slog.Info("sampling stopped", "cycles", cycles, "published", published, "aborted", aborted,
			"emitted", loop.Emitted(), "serial_dropped", ring.Dropped())
		return nil
	},
}

// startup probes the sensor and sweeps the bus before sampling starts, while
// nothing else uses the bus.
func startup(cfg config.Config, bus *busSet, ring *uart.Ring, keepGoing bool) error {
	if twi.Probe(bus.prim, cfg.Sensor.Address) {
		_, _ = ring.WriteString("I2C sensor detected\r\n")
		_ = ring.Flush()
	} else {
		_, _ = ring.WriteString("[ERROR] I2C device not detected\r\n")
		_ = ring.Flush()
		if !keepGoing {
			answer, err := console.YesOrNo(fmt.Sprintf("no device at %#x, keep sampling?", cfg.Sensor.Address), console.No)
			if err != nil || answer != console.Yes {
				return console.Exit(1, "sensor not detected at %s", console.White(fmt.Sprintf("%#x", cfg.Sensor.Address)))
			}
		}
	}
	_, _ = ring.WriteString("Scanning I2C... ")
	_ = ring.Flush()
	for _, addr := range twi.Scan(bus.prim, scanFirst, scanLast) {
		_, _ = ring.WriteString(fmt.Sprintf("\r\n%x", addr))
		_ = ring.Flush()
	}
	_, _ = ring.WriteString("\r\n")
	return ring.Flush()
}

// openSerial opens the configured port. Without one, readings go to standard
// output, or to standard error when the terminal frame occupies standard output.
func openSerial(cfg config.Config) (io.Writer, func(), error) {
	if cfg.Serial.Address == "" {
		if cfg.Display.Kind == config.DisplayFrame {
			return os.Stderr, func() {}, nil
		}
		return stdout, func() {}, nil
	}
	port, err := uart.Open(cfg.Serial.Config)
	if err != nil {
		return nil, nil, err
	}
	return port, func() { _ = port.Close() }, nil
}

