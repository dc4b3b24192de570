package environment

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/mklimuk/envmon"
)

// DHT12 I2C address (7-bit)
const DHT12Address = 0x5C

// DHT12 memory map. Every quantity takes two bytes: integer part then decimal part.
const (
	DHT12RegHumidity    byte = 0x00
	DHT12RegTemperature byte = 0x02
	DHT12RegChecksum    byte = 0x04
)

// bit 7 of the temperature decimal byte flags a temperature below zero
const dht12NegativeBit = 0x80

var ErrDHT12Checksum = fmt.Errorf("dht12: checksum mismatch")

// DHT12Negative reports whether the record carries a sub-zero temperature.
func DHT12Negative(r envmon.Record) bool {
	return r.TempDec&dht12NegativeBit != 0
}

// DHT12TempDecimal returns the temperature decimal digit without the sign flag.
func DHT12TempDecimal(r envmon.Record) uint8 {
	return r.TempDec &^ dht12NegativeBit
}

// DHT12Temperature converts a record to degrees Celsius.
func DHT12Temperature(r envmon.Record) float32 {
	t := float32(r.TempInt) + float32(DHT12TempDecimal(r))/10
	if DHT12Negative(r) {
		return -t
	}
	return t
}

// DHT12Humidity converts a record to relative humidity in %RH.
func DHT12Humidity(r envmon.Record) float32 {
	return float32(r.HumInt) + float32(r.HumDec)/10
}

// DHT12Record encodes a temperature and a humidity the way the sensor stores
// them, one decimal digit each, with the checksum byte set.
func DHT12Record(temp, hum float32) envmon.Record {
	var r envmon.Record
	neg := temp < 0
	if neg {
		temp = -temp
	}
	t := int(math.Round(float64(temp) * 10))
	h := int(math.Round(float64(hum) * 10))
	t = min(t, 999)
	h = max(0, min(h, 999))
	r.TempInt, r.TempDec = uint8(t/10), uint8(t%10)
	r.HumInt, r.HumDec = uint8(h/10), uint8(h%10)
	if neg && t > 0 {
		r.TempDec |= dht12NegativeBit
	}
	r.Checksum = r.Sum()
	r.HasChecksum = true
	return r
}

// DHT12 represents Aosong DHT12 temperature/humidity sensor on a
// transaction-level bus.
// Typical usage:
//
//	s := NewDHT12(bus)
//	t, h, err := s.GetTempAndHum(ctx)
type DHT12 struct {
	mx        sync.Mutex
	transport envmon.I2CBus
	addr      byte
	buf       []byte
}

func NewDHT12(trans envmon.I2CBus) *DHT12 {
	return &DHT12{
		transport: trans,
		addr:      DHT12Address,
		buf:       make([]byte, envmon.RecordLenWithChecksum),
	}
}

// Read selects the humidity register and reads the record with its checksum.
func (s *DHT12) Read(ctx context.Context) (envmon.Record, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.transport.WriteToAddr(ctx, s.addr, []byte{DHT12RegHumidity}); err != nil {
		return envmon.Record{}, fmt.Errorf("dht12: register select failed: %w", err)
	}
	if err := s.transport.ReadFromAddr(ctx, s.addr, s.buf); err != nil {
		return envmon.Record{}, fmt.Errorf("dht12: read failed: %w", err)
	}
	r := envmon.RecordFromBytes(s.buf)
	if !r.Valid() {
		return r, fmt.Errorf("%w: got %#x, want %#x", ErrDHT12Checksum, r.Checksum, r.Sum())
	}
	return r, nil
}

// GetTemperature performs a single read and returns temperature in Celsius.
func (s *DHT12) GetTemperature(ctx context.Context) (float32, error) {
	r, err := s.Read(ctx)
	if err != nil {
		return 0, err
	}
	return DHT12Temperature(r), nil
}

// GetHumidity performs a single read and returns relative humidity in %RH.
func (s *DHT12) GetHumidity(ctx context.Context) (float32, error) {
	r, err := s.Read(ctx)
	if err != nil {
		return 0, err
	}
	return DHT12Humidity(r), nil
}

// GetTempAndHum performs a single read and returns temperature and humidity.
func (s *DHT12) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	r, err := s.Read(ctx)
	if err != nil {
		return 0, 0, err
	}
	return DHT12Temperature(r), DHT12Humidity(r), nil
}
