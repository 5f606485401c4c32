package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	sensorCols = []string{
		"sensor_id", "name", "kind", "host", "port", "is_active", "collection_interval_sec",
		"timeout_sec", "location_id", "description", "last_collected_at", "created_at",
	}
	readingCols = []string{"id", "sensor_id", "collected_at", "value", "count", "unit", "quality", "status", "raw_payload"}
	alertCols   = []string{
		"alert_id", "sensor_id", "alert_type", "severity", "message", "is_open", "occurrences",
		"created_at", "updated_at", "resolved_at",
	}
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresStore(db, zap.NewNop())
}

// ============================================
// sensors
// ============================================

func TestPostgresSensorRepository_GetSensor_Success(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	rows := sqlmock.NewRows(sensorCols).AddRow(
		"s1", "boiler inlet", "temperature", "10.0.0.1", 80, true, 60,
		10, "loc-7", nil, base, base.Add(-time.Hour),
	)
	mock.ExpectQuery(`SELECT`).WithArgs("s1").WillReturnRows(rows)

	s, err := store.GetSensor(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, "boiler inlet", s.Name)
	assert.Equal(t, models.KindTemperature, s.Kind)
	require.NotNil(t, s.LocationID)
	assert.Equal(t, "loc-7", *s.LocationID)
	assert.Nil(t, s.Description)
	require.NotNil(t, s.LastCollectedAt)
	assert.Equal(t, base, *s.LastCollectedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSensorRepository_GetSensor_NotFound(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	s, err := store.GetSensor(context.Background(), "missing")

	assert.Nil(t, s)
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSensorRepository_CreateSensor_DuplicateAddress(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO sensors`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_sensors_address"})

	err := store.CreateSensor(context.Background(), newTestSensor("", "10.0.0.1", 80))

	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSensorRepository_SetActive_NotFound(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sensors SET is_active`).
		WithArgs("missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetActive(context.Background(), "missing", false)

	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// readings
// ============================================

func TestPostgresReadingRepository_QueryReadings_WithRange(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	start := base.Add(-time.Hour)
	end := base
	rows := sqlmock.NewRows(readingCols).
		AddRow(int64(1), "s1", start, 21.5, int64(0), "°C", 99.0, "ok", []byte(`{"value":21.5}`)).
		AddRow(int64(2), "s1", end, nil, int64(7), nil, 100.0, "ok", nil)
	mock.ExpectQuery(`SELECT`).WithArgs("s1", start, end, 10).WillReturnRows(rows)

	got, err := store.QueryReadings(context.Background(), "s1", models.ReadingFilters{Start: &start, End: &end, Limit: 10})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 21.5, *got[0].Value)
	assert.Equal(t, "°C", *got[0].Unit)
	assert.JSONEq(t, `{"value":21.5}`, string(got[0].RawPayload))
	assert.Nil(t, got[1].Value)
	assert.Equal(t, int64(7), got[1].Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReadingRepository_DeleteReadingsBefore(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	cutoff := base.AddDate(0, 0, -30)
	mock.ExpectExec(`DELETE FROM readings`).WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := store.DeleteReadingsBefore(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReadingRepository_DeleteReadingsBefore_Error(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM readings`).WillReturnError(errors.New("connection reset"))

	_, err := store.DeleteReadingsBefore(context.Background(), base)

	require.Error(t, err)
	assert.True(t, models.IsStorage(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// outcome commit
// ============================================

func TestPostgresAlertRepository_CommitSuccess(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	reading := &models.Reading{SensorID: "s1", CollectedAt: base, Value: f64(40), Quality: 95, Status: models.ReadingWarning}
	mutation := models.AlertMutation{Action: models.ActionOpen, Alert: models.Alert{
		SensorID: "s1", Type: models.AlertThreshold, Severity: models.SeverityWarning,
		Message: "temperature out of range: 40 °C (ok band 18-35)", Occurrences: 1, CreatedAt: base, UpdatedAt: base,
	}}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO readings`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectQuery(`INSERT INTO alerts`).WillReturnRows(sqlmock.NewRows(alertCols).AddRow(
		"a-1", "s1", "threshold", "warning", mutation.Alert.Message, true, 1, base, base, nil,
	))
	mock.ExpectExec(`UPDATE sensors SET last_collected_at`).
		WithArgs("s1", base).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.CommitSuccess(context.Background(), reading, []models.AlertMutation{mutation})

	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Reading.ID)
	assert.Equal(t, int64(42), reading.ID)
	require.Len(t, result.Alerts, 1)
	// 返回的 ID 与新生成的 ID 不同，说明命中了已有 open 告警
	assert.Equal(t, models.ActionRefresh, result.Alerts[0].Action)
	assert.Equal(t, "a-1", result.Alerts[0].Alert.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertRepository_CommitSuccess_RollsBackOnError(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO readings`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	result, err := store.CommitSuccess(context.Background(), &models.Reading{SensorID: "s1", CollectedAt: base}, nil)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, models.IsStorage(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertRepository_CommitFailure_RefreshOfResolvedAlertReopens(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	refresh := models.AlertMutation{Action: models.ActionRefresh, Alert: models.Alert{
		ID: "old", SensorID: "s1", Type: models.AlertDisconnection, Severity: models.SeverityError,
		Message: "communication failure: timeout", Open: true, Occurrences: 3, CreatedAt: base.Add(-time.Hour), UpdatedAt: base,
	}}

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE alerts SET severity`).
		WithArgs("old", "error", refresh.Alert.Message, 3, base).
		WillReturnRows(sqlmock.NewRows(alertCols))
	mock.ExpectQuery(`INSERT INTO alerts`).WillReturnRows(sqlmock.NewRows(alertCols).AddRow(
		"new", "s1", "disconnection", "error", refresh.Alert.Message, true, 1, base, base, nil,
	))
	mock.ExpectCommit()

	result, err := store.CommitFailure(context.Background(), "s1", []models.AlertMutation{refresh})

	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "new", result.Alerts[0].Alert.ID)
	assert.Equal(t, 1, result.Alerts[0].Alert.Occurrences)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertRepository_CommitFailure_NoMutations(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	result, err := store.CommitFailure(context.Background(), "s1", nil)

	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertRepository_ResolveAlert_AlreadyResolved(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	resolvedAt := base.Add(-time.Minute)
	mock.ExpectQuery(`UPDATE alerts SET is_open`).WithArgs("a-1", base).WillReturnRows(sqlmock.NewRows(alertCols))
	mock.ExpectQuery(`SELECT`).WithArgs("a-1").WillReturnRows(sqlmock.NewRows(alertCols).AddRow(
		"a-1", "s1", "threshold", "warning", "x", false, 2, base.Add(-time.Hour), resolvedAt, resolvedAt,
	))

	a, err := store.ResolveAlert(context.Background(), "a-1", base)

	require.NoError(t, err)
	assert.False(t, a.Open)
	assert.Equal(t, resolvedAt, *a.ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertRepository_ListAlerts_Filters(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM alerts WHERE sensor_id = \$1 AND is_open`).
		WithArgs("s1", 50).
		WillReturnRows(sqlmock.NewRows(alertCols).AddRow(
			"a-1", "s1", "disconnection", "error", "down", true, 4, base, base, nil,
		))

	alerts, err := store.ListAlerts(context.Background(), models.AlertFilters{SensorID: "s1", OpenOnly: true, Limit: 50})

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertDisconnection, alerts[0].Type)
	assert.Equal(t, 4, alerts[0].Occurrences)
	require.NoError(t, mock.ExpectationsWereMet())
}
