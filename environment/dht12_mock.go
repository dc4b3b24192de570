package environment

import (
	"context"
	"math"
	"time"

	"github.com/mklimuk/envmon"
)

// TemperatureBehaviorFunc returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// HumidityBehaviorFunc returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float32, error)

// MockDHT12 produces DHT12 records from behavior functions, without hardware.
// It feeds simulated buses with register contents.
//
// Example usage:
//
//	sensor := NewMockDHT12(
//		func(ctx context.Context) (float32, error) { return 22.5, nil },
//		func(ctx context.Context) (float32, error) { return 45.0, nil },
//	)
//	r, err := sensor.Record(ctx)
type MockDHT12 struct {
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc
}

func NewMockDHT12(tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc) *MockDHT12 {
	return &MockDHT12{
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
}

func (m *MockDHT12) GetTemperature(ctx context.Context) (float32, error) {
	return m.tempBehavior(ctx)
}

func (m *MockDHT12) GetHumidity(ctx context.Context) (float32, error) {
	return m.humBehavior(ctx)
}

func (m *MockDHT12) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	temp, err := m.tempBehavior(ctx)
	if err != nil {
		return 0, 0, err
	}
	hum, err := m.humBehavior(ctx)
	if err != nil {
		return 0, 0, err
	}
	return temp, hum, nil
}

// Record returns the current values encoded as the sensor memory holds them.
func (m *MockDHT12) Record(ctx context.Context) (envmon.Record, error) {
	temp, hum, err := m.GetTempAndHum(ctx)
	if err != nil {
		return envmon.Record{}, err
	}
	return DHT12Record(temp, hum), nil
}

// Drift is a behavior swinging around base by amplitude over period, with now
// as its time source.
func Drift(base, amplitude float32, period time.Duration, now func() time.Time) func(ctx context.Context) (float32, error) {
	start := now()
	return func(ctx context.Context) (float32, error) {
		phase := 2 * math.Pi * float64(now().Sub(start)) / float64(period)
		return base + amplitude*float32(math.Sin(phase)), nil
	}
}
