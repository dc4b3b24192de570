package twi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envmon"
)

func TestTransact_WriteThenRead(t *testing.T) {
	sim := NewSim()
	sim.Attach(0x5C, 45, 2, 23, 6, 76)
	r := make([]byte, 4)

	require.NoError(t, Transact(sim).Tx(0x5C, []byte{0x00}, r))
	assert.Equal(t, []byte{45, 2, 23, 6}, r)
	assert.Equal(t, []string{
		"S", "W b8 ACK", "W 00 ACK", "Sr", "W b9 ACK",
		"R 2d ACK", "R 02 ACK", "R 17 ACK", "R 06 NACK", "P",
	}, sim.Ops())
}

func TestTransact_Write(t *testing.T) {
	sim := NewSim()
	dev := sim.Attach(0x27, make([]byte, 4)...)

	require.NoError(t, Transact(sim).Tx(0x27, []byte{0x01, 0xAA, 0xBB}, nil))
	assert.Equal(t, []byte{0, 0xAA, 0xBB, 0}, dev.Memory())
	assert.Equal(t, "P", sim.Ops()[len(sim.Ops())-1])
}

func TestTransact_Probe(t *testing.T) {
	sim := NewSim()
	sim.Attach(0x27)

	assert.NoError(t, Transact(sim).Tx(0x27, nil, nil))
	err := Transact(sim).Tx(0x28, nil, nil)
	assert.ErrorIs(t, err, envmon.ErrNack)
	assert.Equal(t, []string{"S", "W 4e ACK", "P", "S", "W 50 NACK", "P"}, sim.Ops())
}

func TestTransact_WithoutRepeatedStart(t *testing.T) {
	sim := NewSim()
	sim.Attach(0x5C, 45, 2, 23, 6, 76)
	var p envmon.Primitive = struct{ envmon.Primitive }{sim}
	r := make([]byte, 2)

	require.NoError(t, Transact(p).Tx(0x5C, []byte{0x02}, r))
	assert.Equal(t, []byte{23, 6}, r)
	assert.Equal(t, []string{
		"S", "W b8 ACK", "W 02 ACK", "P", "S", "W b9 ACK", "R 17 ACK", "R 06 NACK", "P",
	}, sim.Ops())
}

func TestTransactor_I2CBus(t *testing.T) {
	sim := NewSim()
	sim.Attach(0x5C, 45, 2, 23, 6, 76)
	bus := Transact(sim)
	ctx := context.Background()

	require.NoError(t, bus.WriteToAddr(ctx, 0x5C, []byte{0x02}))
	r := make([]byte, 3)
	require.NoError(t, bus.ReadFromAddr(ctx, 0x5C, r))
	assert.Equal(t, []byte{23, 6, 76}, r)
	assert.NoError(t, bus.Release(ctx))
}
