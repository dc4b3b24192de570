package uart

import (
	"fmt"
	"io"
	"time"

	"github.com/goburrow/serial"
)

const DefaultBaudRate = 9600

type Config struct {
	Address  string        `yaml:"address"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Open opens a serial port framed 8-N-1.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("uart: could not open %s: %w", cfg.Address, err)
	}
	return port, nil
}
