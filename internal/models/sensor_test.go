package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestSensor_Due(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	never := &Sensor{Active: true, IntervalSec: 60}
	assert.True(t, never.Due(now), "never collected sensor is always due")

	inactive := &Sensor{Active: false, IntervalSec: 60}
	assert.False(t, inactive.Due(now))

	recent := &Sensor{Active: true, IntervalSec: 60, LastCollectedAt: timePtr(now.Add(-30 * time.Second))}
	assert.False(t, recent.Due(now))

	exact := &Sensor{Active: true, IntervalSec: 60, LastCollectedAt: timePtr(now.Add(-60 * time.Second))}
	assert.True(t, exact.Due(now))
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		sensor Sensor
		want   SensorStatus
	}{
		{"inactive", Sensor{Active: false, IntervalSec: 60}, StatusInactive},
		{"never collected", Sensor{Active: true, IntervalSec: 60}, StatusNeverCollected},
		{"within grace", Sensor{Active: true, IntervalSec: 60, LastCollectedAt: timePtr(now.Add(-89 * time.Second))}, StatusHealthy},
		{"at grace boundary", Sensor{Active: true, IntervalSec: 60, LastCollectedAt: timePtr(now.Add(-90 * time.Second))}, StatusHealthy},
		{"stale", Sensor{Active: true, IntervalSec: 60, LastCollectedAt: timePtr(now.Add(-91 * time.Second))}, StatusStale},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(&tc.sensor, now, DefaultGracePeriod))
		})
	}
}

func TestSensorKind_Valid(t *testing.T) {
	assert.True(t, KindFlow.Valid())
	assert.False(t, SensorKind("humidity").Valid())
}

func TestWrapStorage(t *testing.T) {
	assert.Nil(t, WrapStorage("op", nil))
	assert.Equal(t, ErrNotFound, WrapStorage("op", ErrNotFound))

	err := WrapStorage("insert reading", errors.New("connection reset"))
	assert.True(t, IsStorage(err))
	assert.Contains(t, err.Error(), "insert reading")

	// 不重复包装
	assert.Equal(t, err, WrapStorage("outer", err))
}
