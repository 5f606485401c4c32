package evaluator

import (
	"fmt"
	"sort"
	"time"

	"plantwatch-collector/internal/endpoint"
	"plantwatch-collector/internal/interpreter"
	"plantwatch-collector/internal/models"

	"go.uber.org/zap"
)

// QualityThreshold 低于该质量触发 threshold 告警
const QualityThreshold = 80.0

// evaluationOrder 变更输出顺序固定，保证结果可复现
var evaluationOrder = []models.AlertType{
	models.AlertThreshold,
	models.AlertCommunicationError,
	models.AlertDisconnection,
}

// condition 某类告警在本次评估中成立
type condition struct {
	severity models.Severity
	message  string
}

// Evaluator 告警评估器（无状态）
// 给定相同读数与相同的 open 告警集合，总是产生相同的变更列表
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate 评估一次成功读数
// 成功读数意味着通信恢复：未成立的 threshold / communication-error / disconnection 告警都会被解除
func (e *Evaluator) Evaluate(sensor *models.Sensor, reading interpreter.Normalized, open []models.Alert, now time.Time) []models.AlertMutation {
	fired := make(map[models.AlertType]condition)

	var thresholdMsgs []string

	// 规则1：数据质量
	if reading.Quality < QualityThreshold {
		thresholdMsgs = append(thresholdMsgs, fmt.Sprintf("low data quality: %.1f%%", reading.Quality))
	}

	// 规则2：设备报告错误
	if reading.Status == models.ReadingError {
		fired[models.AlertCommunicationError] = condition{
			severity: models.SeverityError,
			message:  "sensor reported error status",
		}
	}

	// 规则3：超出该类型的正常区间
	if reading.Status == models.ReadingWarning || reading.OutOfBand {
		thresholdMsgs = append([]string{boundMessage(sensor.Kind, reading)}, thresholdMsgs...)
	}

	if len(thresholdMsgs) > 0 {
		msg := thresholdMsgs[0]
		for _, m := range thresholdMsgs[1:] {
			msg += "; " + m
		}
		fired[models.AlertThreshold] = condition{severity: models.SeverityWarning, message: msg}
	}

	clearable := map[models.AlertType]bool{
		models.AlertThreshold:          true,
		models.AlertCommunicationError: true,
		models.AlertDisconnection:      true,
	}

	mutations := reconcile(sensor.ID, fired, clearable, open, now)
	e.logger.Debug("Evaluated reading",
		zap.String("sensor_id", sensor.ID),
		zap.String("status", string(reading.Status)),
		zap.Float64("quality", reading.Quality),
		zap.Int("mutations", len(mutations)),
	)
	return mutations
}

// EvaluateFailure 连通性规则：轮询失败时打开/刷新 disconnection 告警
// 其它类型的告警保持不变（没有新读数可以判断它们）
func (e *Evaluator) EvaluateFailure(sensor *models.Sensor, failure *endpoint.PollFailure, open []models.Alert, now time.Time) []models.AlertMutation {
	fired := map[models.AlertType]condition{
		models.AlertDisconnection: {
			severity: models.SeverityError,
			message:  "communication failure: " + failure.String(),
		},
	}
	return reconcile(sensor.ID, fired, nil, open, now)
}

func reconcile(
	sensorID string,
	fired map[models.AlertType]condition,
	clearable map[models.AlertType]bool,
	open []models.Alert,
	now time.Time,
) []models.AlertMutation {
	byType := groupOpen(sensorID, open)

	var mutations []models.AlertMutation
	for _, alertType := range evaluationOrder {
		existing := byType[alertType]
		cond, isFired := fired[alertType]

		switch {
		case isFired && len(existing) > 0:
			refreshed := existing[0]
			refreshed.Severity = cond.severity
			refreshed.Message = cond.message
			refreshed.Occurrences++
			refreshed.UpdatedAt = now
			mutations = append(mutations, models.AlertMutation{Action: models.ActionRefresh, Alert: refreshed})
			// 历史数据中多余的 open 告警一并解除，恢复"至多一条"
			mutations = append(mutations, resolveAll(existing[1:], now)...)
		case isFired:
			mutations = append(mutations, models.AlertMutation{
				Action: models.ActionOpen,
				Alert: models.Alert{
					SensorID:    sensorID,
					Type:        alertType,
					Severity:    cond.severity,
					Message:     cond.message,
					Open:        true,
					Occurrences: 1,
					CreatedAt:   now,
					UpdatedAt:   now,
				},
			})
		case clearable[alertType]:
			mutations = append(mutations, resolveAll(existing, now)...)
		}
	}
	return mutations
}

// groupOpen 按类型分组该传感器的 open 告警，组内按创建时间、ID 排序
func groupOpen(sensorID string, open []models.Alert) map[models.AlertType][]models.Alert {
	byType := make(map[models.AlertType][]models.Alert)
	for _, a := range open {
		if !a.Open || a.SensorID != sensorID {
			continue
		}
		byType[a.Type] = append(byType[a.Type], a)
	}
	for _, group := range byType {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
	}
	return byType
}

func resolveAll(alerts []models.Alert, now time.Time) []models.AlertMutation {
	out := make([]models.AlertMutation, 0, len(alerts))
	for _, a := range alerts {
		resolved := a
		resolved.Open = false
		resolvedAt := now
		resolved.ResolvedAt = &resolvedAt
		resolved.UpdatedAt = now
		out = append(out, models.AlertMutation{Action: models.ActionResolve, Alert: resolved})
	}
	return out
}

func boundMessage(kind models.SensorKind, reading interpreter.Normalized) string {
	rule := interpreter.RuleFor(kind)
	if reading.Value == nil {
		return "sensor reported warning status"
	}

	value := interpreter.FormatValue(*reading.Value)
	if reading.Unit != nil && *reading.Unit != "" {
		value += " " + *reading.Unit
	}
	if reading.OutOfBand {
		return fmt.Sprintf("%s out of range: %s (ok band %s)", rule.Label, value, reading.BandText)
	}
	return fmt.Sprintf("sensor reported warning: %s %s", rule.Label, value)
}
