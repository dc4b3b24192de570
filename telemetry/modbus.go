package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/environment"
)

// RegisterCount is the number of holding registers a sample occupies:
// temperature ×10 (signed), humidity ×10, the raw humidity and temperature
// byte pairs, and a sample counter.
const RegisterCount = 5

// RegisterWriter is the part of a Modbus client the sink uses.
type RegisterWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error)
}

type RegistersOpts struct {
	UnitID     uint8
	Address    uint16
	Timeout    time.Duration
	RetryDelay time.Duration
	QueueLen   int
	// Connect opens a client to the endpoint; the closer ends the session.
	Connect func(endpoint string, unitID uint8, timeout time.Duration) (RegisterWriter, io.Closer, error)
	OnError func(error)
}

type RegistersOpt func(*RegistersOpts)

func WithUnitID(id uint8) RegistersOpt {
	return func(o *RegistersOpts) {
		o.UnitID = id
	}
}

// WithRegisterAddress sets the first holding register written.
func WithRegisterAddress(addr uint16) RegistersOpt {
	return func(o *RegistersOpts) {
		o.Address = addr
	}
}

func WithRegistersRetryDelay(d time.Duration) RegistersOpt {
	return func(o *RegistersOpts) {
		o.RetryDelay = d
	}
}

func WithModbusConnector(connect func(endpoint string, unitID uint8, timeout time.Duration) (RegisterWriter, io.Closer, error)) RegistersOpt {
	return func(o *RegistersOpts) {
		o.Connect = connect
	}
}

func WithRegistersErrorHandler(fn func(error)) RegistersOpt {
	return func(o *RegistersOpts) {
		o.OnError = fn
	}
}

// Registers mirrors every sample into holding registers of a Modbus TCP
// endpoint, such as a PLC or a gateway. Like Publisher it never blocks the
// consumer: samples are queued and dropped when the queue is full.
type Registers struct {
	endpoint string
	config   RegistersOpts
	queue    chan envmon.Record

	written atomic.Uint64
	dropped atomic.Uint64
	count   uint16
}

func NewRegisters(endpoint string, opts ...RegistersOpt) *Registers {
	config := RegistersOpts{
		UnitID:     1,
		Timeout:    5 * time.Second,
		RetryDelay: 2 * time.Second,
		QueueLen:   8,
		Connect:    connectTCP,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Registers{
		endpoint: endpoint,
		config:   config,
		queue:    make(chan envmon.Record, config.QueueLen),
	}
}

func connectTCP(endpoint string, unitID uint8, timeout time.Duration) (RegisterWriter, io.Closer, error) {
	h := modbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout
	h.SlaveId = unitID
	if err := h.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient(h), h, nil
}

func (m *Registers) Emit(r envmon.Record) {
	select {
	case m.queue <- r:
	default:
		m.dropped.Add(1)
	}
}

// Stats returns the number of samples written and dropped.
func (m *Registers) Stats() (written, dropped uint64) {
	return m.written.Load(), m.dropped.Load()
}

// Run writes queued samples until ctx is done, reconnecting after failures.
func (m *Registers) Run(ctx context.Context) error {
	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && m.config.OnError != nil {
			m.config.OnError(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.config.RetryDelay):
		}
	}
}

func (m *Registers) session(ctx context.Context) error {
	if m.endpoint == "" {
		return errors.New("telemetry: modbus endpoint required")
	}
	client, closer, err := m.config.Connect(m.endpoint, m.config.UnitID, m.config.Timeout)
	if err != nil {
		return fmt.Errorf("telemetry: modbus connect to %s failed: %w", m.endpoint, err)
	}
	defer func() { _ = closer.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-m.queue:
			m.count++
			payload := EncodeRegisters(r, m.count)
			if _, err := client.WriteMultipleRegisters(m.config.Address, RegisterCount, payload); err != nil {
				return fmt.Errorf("telemetry: modbus write at %d failed: %w", m.config.Address, err)
			}
			m.written.Add(1)
		}
	}
}

// EncodeRegisters lays a sample out as big-endian register values.
func EncodeRegisters(r envmon.Record, count uint16) []byte {
	out := make([]byte, 2*RegisterCount)
	temp := int16(roundTenths(environment.DHT12Temperature(r)))
	hum := uint16(roundTenths(environment.DHT12Humidity(r)))
	binary.BigEndian.PutUint16(out[0:], uint16(temp))
	binary.BigEndian.PutUint16(out[2:], hum)
	out[4], out[5] = r.HumInt, r.HumDec
	out[6], out[7] = r.TempInt, r.TempDec
	binary.BigEndian.PutUint16(out[8:], count)
	return out
}

func roundTenths(v float32) int {
	if v < 0 {
		return int(v*10 - 0.5)
	}
	return int(v*10 + 0.5)
}
