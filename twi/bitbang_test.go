package twi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/envmon"
)

func newWiredBitBang(t *testing.T, slave *bitSlave) (*BitBang, *wire) {
	t.Helper()
	w, scl, sda := newWire(slave)
	b, err := NewBitBang(scl, sda, WithHalfPeriod(0))
	require.NoError(t, err)
	return b, w
}

func TestBitBang_ReadRecord(t *testing.T) {
	slave := &bitSlave{addr: 0x5C, mem: []byte{45, 2, 23, 6, 76}}
	b, w := newWiredBitBang(t, slave)

	got, err := readRecord(t, b, 0x5C)
	require.NoError(t, err)
	require.NoError(t, b.Stop())
	assert.Equal(t, []byte{45, 2, 23, 6}, got)
	assert.Equal(t, 2, slave.starts)
	assert.Equal(t, 2, slave.stops)
	assert.True(t, w.scl)
	assert.True(t, w.sdaLevel())
}

func TestBitBang_RepeatedStart(t *testing.T) {
	slave := &bitSlave{addr: 0x5C, mem: []byte{45, 2, 23, 6, 76}}
	b, _ := newWiredBitBang(t, slave)

	require.NoError(t, b.Start())
	require.NoError(t, b.WriteByte(envmon.WriteAddress(0x5C)))
	require.NoError(t, b.WriteByte(0x02))
	require.NoError(t, b.RepeatedStart())
	require.NoError(t, b.WriteByte(envmon.ReadAddress(0x5C)))
	temp, err := b.Receive(envmon.ExpectMore)
	require.NoError(t, err)
	dec, err := b.Receive(envmon.LastByte)
	require.NoError(t, err)
	require.NoError(t, b.Stop())

	assert.Equal(t, byte(23), temp)
	assert.Equal(t, byte(6), dec)
	assert.Equal(t, 2, slave.starts)
	assert.Equal(t, 1, slave.stops)
}

func TestBitBang_Write(t *testing.T) {
	slave := &bitSlave{addr: 0x50, mem: make([]byte, 4)}
	b, _ := newWiredBitBang(t, slave)

	require.NoError(t, b.Start())
	require.NoError(t, b.WriteByte(envmon.WriteAddress(0x50)))
	require.NoError(t, b.WriteByte(0x01))
	require.NoError(t, b.WriteByte(0xA5))
	require.NoError(t, b.WriteByte(0x3C))
	require.NoError(t, b.Stop())
	assert.Equal(t, []byte{0, 0xA5, 0x3C, 0}, slave.mem)
}

func TestBitBang_Nack(t *testing.T) {
	t.Run("absent device", func(t *testing.T) {
		slave := &bitSlave{addr: 0x5C, mem: []byte{1}}
		b, _ := newWiredBitBang(t, slave)
		_, err := readRecord(t, b, 0x3C)
		assert.ErrorIs(t, err, envmon.ErrNack)
		require.NoError(t, b.Stop())
	})
	t.Run("register refused", func(t *testing.T) {
		slave := &bitSlave{addr: 0x5C, mem: []byte{1}, nackRegister: true}
		b, _ := newWiredBitBang(t, slave)
		_, err := readRecord(t, b, 0x5C)
		assert.ErrorIs(t, err, envmon.ErrNack)
		require.NoError(t, b.Stop())
	})
}

func TestBitBang_Scan(t *testing.T) {
	slave := &bitSlave{addr: 0x5C, mem: []byte{1}}
	b, _ := newWiredBitBang(t, slave)
	assert.Equal(t, []byte{0x5C}, Scan(b, 8, 120))
}

func TestBitBang_BusBusy(t *testing.T) {
	scl := &gpiotest.Pin{N: "SCL"}
	sda := &gpiotest.Pin{N: "SDA"}
	b, err := NewBitBang(scl, sda, WithHalfPeriod(0))
	require.NoError(t, err)
	assert.Equal(t, gpio.High, scl.Read())
	assert.Equal(t, gpio.High, sda.Read())

	require.NoError(t, sda.Out(gpio.Low))
	assert.ErrorIs(t, b.Start(), envmon.ErrBusBusy)
	assert.ErrorIs(t, b.WriteByte(0xB8), ErrNoStart)
	_, err = b.Receive(envmon.LastByte)
	assert.ErrorIs(t, err, ErrNoStart)
}

func TestWithFrequency(t *testing.T) {
	var o BitBangOpts
	WithFrequency(400 * physic.KiloHertz)(&o)
	assert.Equal(t, 1250*time.Nanosecond, o.HalfPeriod)
}
