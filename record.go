package envmon

// RecordLen is the payload size of a Sample Record on the wire.
const RecordLen = 4

// RecordLenWithChecksum is the payload plus the trailing checksum byte.
const RecordLenWithChecksum = RecordLen + 1

// Record is one acquisition: two quantities, each split into an integer and
// a decimal part, in the order the device stores them.
type Record struct {
	HumInt  uint8 `yaml:"hum_int" json:"hum_int"`
	HumDec  uint8 `yaml:"hum_dec" json:"hum_dec"`
	TempInt uint8 `yaml:"temp_int" json:"temp_int"`
	TempDec uint8 `yaml:"temp_dec" json:"temp_dec"`

	Checksum    uint8 `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	HasChecksum bool  `yaml:"-" json:"-"`
}

// RecordFromBytes decodes bytes read in ascending register order starting at
// the humidity register. A fifth byte, if present, is taken as the checksum.
func RecordFromBytes(b []byte) Record {
	r := Record{
		HumInt:  b[0],
		HumDec:  b[1],
		TempInt: b[2],
		TempDec: b[3],
	}
	if len(b) > RecordLen {
		r.Checksum = b[4]
		r.HasChecksum = true
	}
	return r
}

// Bytes returns the record in wire order.
func (r Record) Bytes() []byte {
	b := []byte{r.HumInt, r.HumDec, r.TempInt, r.TempDec}
	if r.HasChecksum {
		b = append(b, r.Checksum)
	}
	return b
}

// Sum is the 8-bit sum of the four payload bytes.
func (r Record) Sum() uint8 {
	return r.HumInt + r.HumDec + r.TempInt + r.TempDec
}

// Valid reports whether the record carries a checksum that matches its payload.
// Records read without a checksum are always valid.
func (r Record) Valid() bool {
	return !r.HasChecksum || r.Sum() == r.Checksum
}
