package repository

import (
	"context"
	"testing"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestSensor(id, host string, port int) *models.Sensor {
	return &models.Sensor{
		ID: id, Name: "sensor " + id, Kind: models.KindTemperature,
		Host: host, Port: port, Active: true, IntervalSec: 60, TimeoutSec: 10,
	}
}

func f64(v float64) *float64 { return &v }

func TestMemoryStore_CreateSensor_DuplicateAddress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))
	err := store.CreateSensor(ctx, newTestSensor("s2", "10.0.0.1", 80))

	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	sensors, err := store.ListSensors(ctx)
	require.NoError(t, err)
	assert.Len(t, sensors, 1)
}

func TestMemoryStore_UpdateSensor_KeepsCollectionProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))

	_, err := store.CommitSuccess(ctx, &models.Reading{SensorID: "s1", CollectedAt: base, Status: models.ReadingOK}, nil)
	require.NoError(t, err)

	update := newTestSensor("s1", "10.0.0.2", 8080)
	update.IntervalSec = 120
	require.NoError(t, store.UpdateSensor(ctx, update))

	got, err := store.GetSensor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 120, got.IntervalSec)
	assert.Equal(t, "10.0.0.2", got.Host)
	require.NotNil(t, got.LastCollectedAt)
	assert.Equal(t, base, *got.LastCollectedAt)

	assert.ErrorIs(t, store.UpdateSensor(ctx, newTestSensor("missing", "10.0.0.9", 80)), models.ErrNotFound)
}

func TestMemoryStore_CommitSuccess_AppliesEverything(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))

	reading := &models.Reading{SensorID: "s1", CollectedAt: base, Value: f64(40), Quality: 95, Status: models.ReadingWarning}
	open := models.AlertMutation{Action: models.ActionOpen, Alert: models.Alert{
		SensorID: "s1", Type: models.AlertThreshold, Severity: models.SeverityWarning,
		Message: "temperature out of range", Open: true, Occurrences: 1, CreatedAt: base, UpdatedAt: base,
	}}

	result, err := store.CommitSuccess(ctx, reading, []models.AlertMutation{open})
	require.NoError(t, err)
	require.NotNil(t, result.Reading)
	assert.Equal(t, int64(1), result.Reading.ID)
	require.Len(t, result.Alerts, 1)
	assert.NotEmpty(t, result.Alerts[0].Alert.ID)

	sensor, err := store.GetSensor(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sensor.LastCollectedAt)
	assert.Equal(t, base, *sensor.LastCollectedAt)

	alerts, err := store.ListOpenAlerts(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	latest, err := store.LatestReading(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, *latest.Value)
}

func TestMemoryStore_CommitSuccess_UnknownSensor(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.CommitSuccess(context.Background(), &models.Reading{SensorID: "ghost", CollectedAt: base}, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_OpenWithExistingOpenAlertBecomesRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))

	mut := models.AlertMutation{Action: models.ActionOpen, Alert: models.Alert{
		SensorID: "s1", Type: models.AlertDisconnection, Severity: models.SeverityError,
		Message: "communication failure: timeout", Occurrences: 1, CreatedAt: base, UpdatedAt: base,
	}}
	_, err := store.CommitFailure(ctx, "s1", []models.AlertMutation{mut})
	require.NoError(t, err)
	result, err := store.CommitFailure(ctx, "s1", []models.AlertMutation{mut})
	require.NoError(t, err)

	require.Len(t, result.Alerts, 1)
	assert.Equal(t, models.ActionRefresh, result.Alerts[0].Action)
	assert.Equal(t, 2, result.Alerts[0].Alert.Occurrences)

	open, err := store.ListOpenAlerts(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	sensor, err := store.GetSensor(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sensor.LastCollectedAt, "failures never advance last_collected_at")
}

func TestMemoryStore_RefreshAfterOperatorResolveReopens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))

	first, err := store.CommitFailure(ctx, "s1", []models.AlertMutation{{Action: models.ActionOpen, Alert: models.Alert{
		SensorID: "s1", Type: models.AlertDisconnection, Severity: models.SeverityError,
		Message: "down", Occurrences: 1, CreatedAt: base, UpdatedAt: base,
	}}})
	require.NoError(t, err)
	alert := first.Alerts[0].Alert

	resolved, err := store.ResolveAlert(ctx, alert.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, resolved.Open)

	refresh := alert
	refresh.Occurrences = 2
	refresh.UpdatedAt = base.Add(2 * time.Minute)
	result, err := store.CommitFailure(ctx, "s1", []models.AlertMutation{{Action: models.ActionRefresh, Alert: refresh}})
	require.NoError(t, err)

	require.Len(t, result.Alerts, 1)
	assert.Equal(t, models.ActionOpen, result.Alerts[0].Action)
	assert.NotEqual(t, alert.ID, result.Alerts[0].Alert.ID)

	all, err := store.ListAlerts(ctx, models.AlertFilters{SensorID: "s1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_ResolveAlert_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))
	res, err := store.CommitFailure(ctx, "s1", []models.AlertMutation{{Action: models.ActionOpen, Alert: models.Alert{
		SensorID: "s1", Type: models.AlertDisconnection, CreatedAt: base, UpdatedAt: base,
	}}})
	require.NoError(t, err)
	id := res.Alerts[0].Alert.ID

	first, err := store.ResolveAlert(ctx, id, base.Add(time.Minute))
	require.NoError(t, err)
	second, err := store.ResolveAlert(ctx, id, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, *first.ResolvedAt, *second.ResolvedAt)

	_, err = store.ResolveAlert(ctx, "missing", base)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_QueryReadings_FiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))

	// 乱序写入
	for _, offset := range []int{3, 1, 2, 0} {
		_, err := store.CommitSuccess(ctx, &models.Reading{
			SensorID: "s1", CollectedAt: base.Add(time.Duration(offset) * time.Minute), Count: int64(offset),
		}, nil)
		require.NoError(t, err)
	}

	start := base.Add(time.Minute)
	end := base.Add(3 * time.Minute)
	got, err := store.QueryReadings(ctx, "s1", models.ReadingFilters{Start: &start, End: &end, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Count)
	assert.Equal(t, int64(2), got[1].Count)

	sensor, err := store.GetSensor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(3*time.Minute), *sensor.LastCollectedAt)
}

func TestMemoryStore_DeleteReadingsBefore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSensor(ctx, newTestSensor("s1", "10.0.0.1", 80)))
	for i := 0; i < 5; i++ {
		_, err := store.CommitSuccess(ctx, &models.Reading{SensorID: "s1", CollectedAt: base.AddDate(0, 0, -i*10)}, nil)
		require.NoError(t, err)
	}

	cutoff := base.AddDate(0, 0, -25)
	deleted, err := store.DeleteReadingsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	again, err := store.DeleteReadingsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again)

	remaining, err := store.QueryReadings(ctx, "s1", models.ReadingFilters{})
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}
