package feed

import (
	"context"
	"errors"
	"time"

	"plantwatch-collector/internal/models"
)

// AlertEvent 告警推送事件类型
type AlertEvent string

const (
	EventOpened    AlertEvent = "opened"
	EventRefreshed AlertEvent = "refreshed"
	EventResolved  AlertEvent = "resolved"
)

// EventFor 由告警变更动作得到推送事件
func EventFor(action models.MutationAction) AlertEvent {
	switch action {
	case models.ActionOpen:
		return EventOpened
	case models.ActionResolve:
		return EventResolved
	default:
		return EventRefreshed
	}
}

// AlertNotification 告警推送报文
type AlertNotification struct {
	ID          string           `json:"id"`
	SensorID    string           `json:"sensor_id"`
	SensorName  string           `json:"sensor_name"`
	AlertType   models.AlertType `json:"alert_type"`
	Severity    models.Severity  `json:"severity"`
	Message     string           `json:"message"`
	Event       AlertEvent       `json:"event"`
	Occurrences int              `json:"occurrences"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// NewAlertNotification 构建告警推送报文
func NewAlertNotification(sensor *models.Sensor, m models.AlertMutation) AlertNotification {
	return AlertNotification{
		ID:          m.Alert.ID,
		SensorID:    m.Alert.SensorID,
		SensorName:  sensor.Name,
		AlertType:   m.Alert.Type,
		Severity:    m.Alert.Severity,
		Message:     m.Alert.Message,
		Event:       EventFor(m.Action),
		Occurrences: m.Alert.Occurrences,
		CreatedAt:   m.Alert.CreatedAt,
		ResolvedAt:  m.Alert.ResolvedAt,
	}
}

// ReadingNotification 读数推送报文
type ReadingNotification struct {
	SensorID   string            `json:"sensor_id"`
	SensorName string            `json:"sensor_name"`
	Kind       models.SensorKind `json:"kind"`
	models.Reading
}

// NewReadingNotification 构建读数推送报文
func NewReadingNotification(sensor *models.Sensor, reading *models.Reading) ReadingNotification {
	return ReadingNotification{
		SensorID:   sensor.ID,
		SensorName: sensor.Name,
		Kind:       sensor.Kind,
		Reading:    *reading,
	}
}

// Publisher 读数/告警推送
// 推送在持久化之后进行，失败只记录日志，不影响采集结果
type Publisher interface {
	PublishReading(ctx context.Context, sensor *models.Sensor, reading *models.Reading) error
	PublishAlert(ctx context.Context, sensor *models.Sensor, mutation models.AlertMutation) error
}

// MultiPublisher 依次推送到多个下游，汇总错误
type MultiPublisher []Publisher

func (m MultiPublisher) PublishReading(ctx context.Context, sensor *models.Sensor, reading *models.Reading) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishReading(ctx, sensor, reading); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishAlert(ctx context.Context, sensor *models.Sensor, mutation models.AlertMutation) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAlert(ctx, sensor, mutation); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
