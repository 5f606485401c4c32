package evaluator

import (
	"testing"
	"time"

	"plantwatch-collector/internal/endpoint"
	"plantwatch-collector/internal/interpreter"
	"plantwatch-collector/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func newSensor(kind models.SensorKind) *models.Sensor {
	return &models.Sensor{ID: "sensor-1", Kind: kind, Active: true, IntervalSec: 60, TimeoutSec: 10}
}

func openAlert(id string, alertType models.AlertType, created time.Time) models.Alert {
	return models.Alert{
		ID: id, SensorID: "sensor-1", Type: alertType, Severity: models.SeverityWarning,
		Message: "old", Open: true, Occurrences: 1, CreatedAt: created, UpdatedAt: created,
	}
}

// applyMutations 模拟存储层应用变更，用于检查多次评估后的不变量
func applyMutations(state []models.Alert, mutations []models.AlertMutation, nextID *int) []models.Alert {
	for _, m := range mutations {
		switch m.Action {
		case models.ActionOpen:
			*nextID++
			a := m.Alert
			a.ID = string(rune('a' + *nextID))
			state = append(state, a)
		default:
			for i := range state {
				if state[i].ID == m.Alert.ID {
					state[i] = m.Alert
				}
			}
		}
	}
	return state
}

func openOnly(state []models.Alert) []models.Alert {
	var out []models.Alert
	for _, a := range state {
		if a.Open {
			out = append(out, a)
		}
	}
	return out
}

func TestEvaluate_TemperatureOutOfBand(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindTemperature)
	reading := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(40), Quality: f64(95)})

	muts := e.Evaluate(sensor, reading, nil, t0)

	require.Len(t, muts, 1)
	assert.Equal(t, models.ActionOpen, muts[0].Action)
	assert.Equal(t, models.AlertThreshold, muts[0].Alert.Type)
	assert.Equal(t, models.SeverityWarning, muts[0].Alert.Severity)
	assert.Contains(t, muts[0].Alert.Message, "40")
	assert.Equal(t, "temperature out of range: 40 °C (ok band 18-35)", muts[0].Alert.Message)
	assert.True(t, muts[0].Alert.Open)
	assert.Empty(t, muts[0].Alert.ID)
}

func TestEvaluate_HealthyReadingResolvesOpenAlerts(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindPressure)
	reading := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(5), Quality: f64(99)})

	open := []models.Alert{
		openAlert("a1", models.AlertThreshold, t0.Add(-time.Hour)),
		openAlert("a2", models.AlertCommunicationError, t0.Add(-time.Hour)),
		openAlert("a3", models.AlertDisconnection, t0.Add(-time.Hour)),
		openAlert("a4", models.AlertMaintenance, t0.Add(-time.Hour)),
	}

	muts := e.Evaluate(sensor, reading, open, t0)

	require.Len(t, muts, 3)
	for _, m := range muts {
		assert.Equal(t, models.ActionResolve, m.Action)
		assert.False(t, m.Alert.Open)
		require.NotNil(t, m.Alert.ResolvedAt)
		assert.Equal(t, t0, *m.Alert.ResolvedAt)
		assert.NotEqual(t, models.AlertMaintenance, m.Alert.Type, "maintenance alerts are operator managed")
	}
}

func TestEvaluate_LowQualityAndErrorStatus(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindCounter)
	reading := interpreter.Normalized{Count: 3, Quality: 70, Status: models.ReadingError}

	muts := e.Evaluate(sensor, reading, nil, t0)

	require.Len(t, muts, 2)
	assert.Equal(t, models.AlertThreshold, muts[0].Alert.Type)
	assert.Equal(t, "low data quality: 70.0%", muts[0].Alert.Message)
	assert.Equal(t, models.AlertCommunicationError, muts[1].Alert.Type)
	assert.Equal(t, models.SeverityError, muts[1].Alert.Severity)
}

func TestEvaluate_ThresholdMessagesCombine(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindLevel)
	reading := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(95), Quality: f64(60)})

	muts := e.Evaluate(sensor, reading, nil, t0)

	require.Len(t, muts, 1)
	assert.Equal(t, "level out of range: 95 % (ok band 20-90); low data quality: 60.0%", muts[0].Alert.Message)
}

func TestEvaluate_RefreshesInsteadOfDuplicating(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindTemperature)
	reading := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(41), Quality: f64(95)})
	existing := openAlert("a1", models.AlertThreshold, t0.Add(-time.Minute))

	muts := e.Evaluate(sensor, reading, []models.Alert{existing}, t0)

	require.Len(t, muts, 1)
	assert.Equal(t, models.ActionRefresh, muts[0].Action)
	assert.Equal(t, "a1", muts[0].Alert.ID)
	assert.Equal(t, 2, muts[0].Alert.Occurrences)
	assert.Equal(t, existing.CreatedAt, muts[0].Alert.CreatedAt)
	assert.Equal(t, t0, muts[0].Alert.UpdatedAt)
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindFlow)
	reading := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(10), Quality: f64(50), Status: "error"})
	open := []models.Alert{openAlert("a1", models.AlertDisconnection, t0.Add(-time.Hour))}

	first := e.Evaluate(sensor, reading, open, t0)
	second := e.Evaluate(sensor, reading, open, t0)

	assert.Equal(t, first, second)
}

func TestEvaluate_DuplicateOpenAlertsAreCollapsed(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindTemperature)
	reading := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(50), Quality: f64(95)})
	open := []models.Alert{
		openAlert("b", models.AlertThreshold, t0.Add(-time.Minute)),
		openAlert("a", models.AlertThreshold, t0.Add(-time.Hour)),
	}

	muts := e.Evaluate(sensor, reading, open, t0)

	require.Len(t, muts, 2)
	assert.Equal(t, models.ActionRefresh, muts[0].Action)
	assert.Equal(t, "a", muts[0].Alert.ID, "oldest open alert is kept")
	assert.Equal(t, models.ActionResolve, muts[1].Action)
	assert.Equal(t, "b", muts[1].Alert.ID)
}

func TestEvaluateFailure_OpensDisconnection(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindTemperature)
	failure := &endpoint.PollFailure{Kind: endpoint.FailureTimeout, Detail: "deadline exceeded"}
	open := []models.Alert{openAlert("a1", models.AlertThreshold, t0.Add(-time.Hour))}

	muts := e.EvaluateFailure(sensor, failure, open, t0)

	require.Len(t, muts, 1, "threshold alert is left untouched")
	assert.Equal(t, models.ActionOpen, muts[0].Action)
	assert.Equal(t, models.AlertDisconnection, muts[0].Alert.Type)
	assert.Equal(t, models.SeverityError, muts[0].Alert.Severity)
	assert.Equal(t, "communication failure: timeout: deadline exceeded", muts[0].Alert.Message)
}

func TestEvaluate_QualityOpenThenResolve(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindOther)
	nextID := 0
	var state []models.Alert

	first := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(1), Quality: f64(70)})
	state = applyMutations(state, e.Evaluate(sensor, first, openOnly(state), t0), &nextID)
	require.Len(t, openOnly(state), 1)

	secondAt := t0.Add(time.Minute)
	second := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(1), Quality: f64(95)})
	state = applyMutations(state, e.Evaluate(sensor, second, openOnly(state), secondAt), &nextID)

	require.Len(t, state, 1)
	assert.False(t, state[0].Open)
	require.NotNil(t, state[0].ResolvedAt)
	assert.Equal(t, secondAt, *state[0].ResolvedAt)
}

func TestEvaluate_AtMostOneOpenPerType(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	sensor := newSensor(models.KindTemperature)
	nextID := 0
	var state []models.Alert

	values := []float64{40, 41, 20, 50, 50, 10}
	qualities := []float64{95, 60, 99, 70, 95, 40}
	for i := range values {
		now := t0.Add(time.Duration(i) * time.Minute)
		if i%2 == 1 {
			failure := &endpoint.PollFailure{Kind: endpoint.FailureConnectionRefused}
			state = applyMutations(state, e.EvaluateFailure(sensor, failure, openOnly(state), now), &nextID)
		}
		n := interpreter.Interpret(sensor.Kind, &endpoint.RawReading{Value: f64(values[i]), Quality: f64(qualities[i])})
		state = applyMutations(state, e.Evaluate(sensor, n, openOnly(state), now), &nextID)

		counts := map[models.AlertType]int{}
		for _, a := range openOnly(state) {
			counts[a.Type]++
		}
		for alertType, c := range counts {
			assert.LessOrEqual(t, c, 1, "type %s at step %d", alertType, i)
		}
	}
}
