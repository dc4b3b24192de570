package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/envctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// reportLen is the size of every HID report exchanged with the bridge.
const reportLen = 64

// the bridge divides a 12 MHz clock; the divider is offset by 3
const mcp2221Clock = 12_000_000

const (
	cmdStatus      = 0x10
	cmdWriteData   = 0x90
	cmdReadData    = 0x91
	cmdGetReadData = 0x40

	statusCancelTransfer = 0x10
	statusSetSpeed       = 0x20
	statusSpeedAccepted  = 0x20

	readDataError = 0x41
	readSizeError = 127
)

var _ envmon.I2CBus = &MCP2221{}

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// HIDDevice is an open USB HID connection.
type HIDDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type MCP2221Opts struct {
	ResponseWait time.Duration
	// Index selects the bridge when several are plugged in; -1 requires exactly one.
	Index int
	Open  func(index int) (HIDDevice, error)
}

type MCP2221Opt func(*MCP2221Opts)

// WithResponseWait sets how long the bridge is given to prepare a response.
func WithResponseWait(d time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.ResponseWait = d
	}
}

func WithDeviceIndex(i int) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Index = i
	}
}

// WithHIDOpener replaces USB enumeration, e.g. with a scripted device.
func WithHIDOpener(open func(index int) (HIDDevice, error)) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Open = open
	}
}

// MCP2221 is a Microchip USB to I2C bridge. Every I2C transfer is a complete
// start..stop transaction performed by the bridge.
type MCP2221 struct {
	mx       sync.Mutex
	config   MCP2221Opts
	request  []byte
	response []byte
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	config := MCP2221Opts{
		ResponseWait: 50 * time.Millisecond,
		Index:        -1,
		Open:         openHID,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2221{
		config:   config,
		request:  make([]byte, reportLen),
		response: make([]byte, reportLen),
	}
}

// Devices lists the bridges plugged in.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func openHID(index int) (HIDDevice, error) {
	devs := Devices()
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification: %d bridges found", len(devs))
		}
		index = 0
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

// Init checks that the bridge answers and releases a bus left busy by an
// interrupted transfer.
func (d *MCP2221) Init(ctx context.Context) error {
	status, err := d.Status(ctx)
	if err != nil {
		return err
	}
	if status.ReadPending != 0 || status.I2CDataBufferCounter != 0 {
		if _, err := d.ReleaseBus(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = envmon.WriteAddress(address)
	copy(d.request[4:], buffer)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// write could not be performed
	if d.response[1] != 0x00 {
		return envmon.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdReadData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = envmon.ReadAddress(address)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] != 0x00 {
		return envmon.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdGetReadData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readDataError {
		return fmt.Errorf("reading from %x: %w", address, envmon.ErrNack)
	}
	if d.response[3] == readSizeError || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// Tx lets the bridge serve transaction-level drivers. A transaction with both
// parts is performed as a write followed by a separate read.
func (d *MCP2221) Tx(addr uint16, w, r []byte) error {
	ctx := context.Background()
	if len(w) > 0 || len(r) == 0 {
		if err := d.WriteToAddr(ctx, byte(addr), w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return d.ReadFromAddr(ctx, byte(addr), r)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// SetSpeed sets the I2C clock frequency.
func (d *MCP2221) SetSpeed(ctx context.Context, hz int) error {
	if hz <= 0 {
		return fmt.Errorf("unsupported I2C speed %d Hz: %w", hz, ErrCommandUnsupported)
	}
	divider := mcp2221Clock/hz - 3
	if divider < 0 || divider > 0xFF {
		return fmt.Errorf("unsupported I2C speed %d Hz: %w", hz, ErrCommandUnsupported)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = statusSetSpeed
	d.request[4] = byte(divider)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("speed request failed: %w", err)
	}
	if d.response[3] != statusSpeedAccepted {
		return fmt.Errorf("speed change refused: %w", ErrCommandFailed)
	}
	return nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancelTransfer
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.config.Open(d.config.Index)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()
	envctx.Dump(ctx, "sending message to adapter", d.request)
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportLen {
		return fmt.Errorf("short write: %d", n)
	}
	if d.config.ResponseWait > 0 {
		time.Sleep(d.config.ResponseWait)
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportLen {
		return fmt.Errorf("short read: %d", n)
	}
	envctx.Dump(ctx, "read message from adapter", d.response)
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#x instead of %#x: %w", d.response[0], d.request[0], ErrCommandFailed)
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
