package telemetry

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envmon"
)

type registerWrite struct {
	address, quantity uint16
	value             []byte
}

type fakeEndpoint struct {
	mx      sync.Mutex
	writes  []registerWrite
	fail    error
	closed  int
	written chan struct{}
}

func (f *fakeEndpoint) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.writes = append(f.writes, registerWrite{address, quantity, append([]byte(nil), value...)})
	f.written <- struct{}{}
	return nil, nil
}

func (f *fakeEndpoint) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.closed++
	return nil
}

func TestEncodeRegisters(t *testing.T) {
	tests := []struct {
		name     string
		given    envmon.Record
		expected []byte
	}{
		{
			name:     "room",
			given:    envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6},
			expected: []byte{0x00, 0xEC, 0x01, 0xC4, 45, 2, 23, 6, 0x00, 0x07},
		},
		{
			name:     "below zero",
			given:    envmon.Record{HumInt: 80, TempInt: 5, TempDec: 0x83},
			expected: []byte{0xFF, 0xCB, 0x03, 0x20, 80, 0, 5, 0x83, 0x00, 0x07},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, EncodeRegisters(test.given, 7))
		})
	}
}

func TestRegisters_Run(t *testing.T) {
	ep := &fakeEndpoint{written: make(chan struct{}, 4)}
	var unit uint8
	m := NewRegisters("plc:502",
		WithUnitID(3),
		WithRegisterAddress(100),
		WithModbusConnector(func(endpoint string, unitID uint8, timeout time.Duration) (RegisterWriter, io.Closer, error) {
			unit = unitID
			return ep, ep, nil
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- m.Run(ctx) }()

	m.Emit(envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6})
	m.Emit(envmon.Record{HumInt: 46, TempInt: 23})
	<-ep.written
	<-ep.written
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, uint8(3), unit)
	require.Len(t, ep.writes, 2)
	assert.Equal(t, uint16(100), ep.writes[0].address)
	assert.Equal(t, uint16(RegisterCount), ep.writes[0].quantity)
	assert.Equal(t, []byte{0x00, 0x01}, ep.writes[0].value[8:])
	assert.Equal(t, []byte{0x00, 0x02}, ep.writes[1].value[8:])
	written, dropped := m.Stats()
	assert.Equal(t, uint64(2), written)
	assert.Zero(t, dropped)
	assert.Equal(t, 1, ep.closed)
}

func TestRegisters_Reconnects(t *testing.T) {
	ep := &fakeEndpoint{written: make(chan struct{}, 1), fail: errors.New("illegal data address")}
	errs := make(chan error, 4)
	attempts := 0
	m := NewRegisters("plc:502",
		WithRegistersRetryDelay(time.Millisecond),
		WithRegistersErrorHandler(func(err error) { errs <- err }),
		WithModbusConnector(func(string, uint8, time.Duration) (RegisterWriter, io.Closer, error) {
			attempts++
			if attempts == 1 {
				return nil, nil, errors.New("connection refused")
			}
			return ep, ep, nil
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	assert.ErrorContains(t, <-errs, "connection refused")
	m.Emit(envmon.Record{HumInt: 45})
	assert.ErrorContains(t, <-errs, "illegal data address")
}

func TestRegisters_EmitDropsWhenFull(t *testing.T) {
	m := NewRegisters("plc:502")
	for range 10 {
		m.Emit(envmon.Record{})
	}
	written, dropped := m.Stats()
	assert.Zero(t, written)
	assert.Equal(t, uint64(2), dropped)
}
