package envmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordFromBytes(t *testing.T) {
	r := RecordFromBytes([]byte{45, 2, 23, 6})
	assert.Equal(t, Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6}, r)
	assert.True(t, r.Valid())
	assert.Equal(t, []byte{45, 2, 23, 6}, r.Bytes())
}

func TestRecord_Checksum(t *testing.T) {
	tests := []struct {
		name  string
		given []byte
		valid bool
	}{
		{"matching", []byte{45, 2, 23, 6, 76}, true},
		{"mismatch", []byte{45, 2, 23, 6, 77}, false},
		{"wraps", []byte{200, 9, 50, 1, 4}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := RecordFromBytes(test.given)
			assert.True(t, r.HasChecksum)
			assert.Equal(t, test.valid, r.Valid())
			assert.Equal(t, test.given, r.Bytes())
		})
	}
}

func TestAddresses(t *testing.T) {
	assert.Equal(t, byte(0xB8), WriteAddress(0x5C))
	assert.Equal(t, byte(0xB9), ReadAddress(0x5C))
}
