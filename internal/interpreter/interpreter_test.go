package interpreter

import (
	"testing"

	"plantwatch-collector/internal/endpoint"
	"plantwatch-collector/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(s string) *string   { return &s }

func TestInterpret_BandsPerKind(t *testing.T) {
	cases := []struct {
		kind   models.SensorKind
		value  float64
		status models.ReadingStatus
	}{
		{models.KindTemperature, 40, models.ReadingWarning},
		{models.KindTemperature, 18, models.ReadingOK},
		{models.KindTemperature, 35, models.ReadingOK},
		{models.KindTemperature, 17.9, models.ReadingWarning},
		{models.KindPressure, 2.5, models.ReadingWarning},
		{models.KindPressure, 5, models.ReadingOK},
		{models.KindVibration, 5, models.ReadingOK},
		{models.KindVibration, 5.1, models.ReadingWarning},
		{models.KindVibration, 0, models.ReadingOK},
		{models.KindFlow, 79, models.ReadingWarning},
		{models.KindFlow, 200, models.ReadingOK},
		{models.KindLevel, 95, models.ReadingWarning},
		{models.KindLevel, 50, models.ReadingOK},
		{models.KindOther, 1e9, models.ReadingOK},
	}

	for _, tc := range cases {
		n := Interpret(tc.kind, &endpoint.RawReading{Value: f64(tc.value), Quality: f64(95)})
		assert.Equal(t, tc.status, n.Status, "%s=%v", tc.kind, tc.value)
		assert.Equal(t, tc.status == models.ReadingWarning, n.OutOfBand)
	}
}

func TestInterpret_TemperatureScenario(t *testing.T) {
	n := Interpret(models.KindTemperature, &endpoint.RawReading{Value: f64(40), Quality: f64(95)})

	assert.Equal(t, models.ReadingWarning, n.Status)
	assert.Equal(t, "18-35", n.BandText)
	require.NotNil(t, n.Unit)
	assert.Equal(t, "°C", *n.Unit)
	assert.Equal(t, 95.0, n.Quality)
}

func TestInterpret_OtherPassesThrough(t *testing.T) {
	raw := &endpoint.RawReading{Value: f64(-12.5), Unit: str("rpm"), Quality: f64(99)}
	n := Interpret(models.KindOther, raw)

	assert.Equal(t, models.ReadingOK, n.Status)
	assert.Equal(t, -12.5, *n.Value)
	assert.Equal(t, "rpm", *n.Unit)
}

func TestInterpret_UnknownKindBehavesAsOther(t *testing.T) {
	n := Interpret(models.SensorKind("humidity"), &endpoint.RawReading{Value: f64(1000)})
	assert.Equal(t, models.ReadingOK, n.Status)
	assert.Nil(t, n.Unit)
}

func TestInterpret_CounterWithoutValue(t *testing.T) {
	n := Interpret(models.KindCounter, &endpoint.RawReading{Count: i64(512)})

	assert.Nil(t, n.Value)
	assert.Equal(t, int64(512), n.Count)
	assert.Equal(t, models.ReadingOK, n.Status)
	assert.Equal(t, DefaultQuality, n.Quality)
}

func TestInterpret_DeviceStatusWins(t *testing.T) {
	n := Interpret(models.KindTemperature, &endpoint.RawReading{Value: f64(40), Status: "error"})
	assert.Equal(t, models.ReadingError, n.Status)
	assert.True(t, n.OutOfBand)

	n = Interpret(models.KindTemperature, &endpoint.RawReading{Value: f64(20), Status: "warning"})
	assert.Equal(t, models.ReadingWarning, n.Status)
	assert.False(t, n.OutOfBand)
}

func TestClampQuality(t *testing.T) {
	assert.Equal(t, 100.0, ClampQuality(nil))
	assert.Equal(t, 0.0, ClampQuality(f64(-5)))
	assert.Equal(t, 100.0, ClampQuality(f64(140)))
	assert.Equal(t, 72.5, ClampQuality(f64(72.5)))
}

func TestInterpret_Deterministic(t *testing.T) {
	raw := &endpoint.RawReading{Value: f64(7.7), Quality: f64(81)}
	assert.Equal(t, Interpret(models.KindPressure, raw), Interpret(models.KindPressure, raw))
}
