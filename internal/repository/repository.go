package repository

import (
	"context"
	"time"

	"plantwatch-collector/internal/models"
)

// SensorRegistry 传感器注册表
type SensorRegistry interface {
	ListSensors(ctx context.Context) ([]models.Sensor, error)
	GetSensor(ctx context.Context, sensorID string) (*models.Sensor, error)
	// FindByAddress 按 (host, port) 查找，不存在返回 ErrNotFound
	FindByAddress(ctx context.Context, host string, port int) (*models.Sensor, error)
	CreateSensor(ctx context.Context, sensor *models.Sensor) error
	UpdateSensor(ctx context.Context, sensor *models.Sensor) error
	SetActive(ctx context.Context, sensorID string, active bool) error
}

// ReadingStore 读数存储（只追加，按保留期清理）
type ReadingStore interface {
	// QueryReadings 按 collected_at 升序返回
	QueryReadings(ctx context.Context, sensorID string, filters models.ReadingFilters) ([]models.Reading, error)
	LatestReading(ctx context.Context, sensorID string) (*models.Reading, error)
	DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore 告警存储
type AlertStore interface {
	ListOpenAlerts(ctx context.Context, sensorID string) ([]models.Alert, error)
	// ListAlerts 按 created_at 倒序返回
	ListAlerts(ctx context.Context, filters models.AlertFilters) ([]models.Alert, error)
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	// ResolveAlert 人工解除；已解除的告警原样返回
	ResolveAlert(ctx context.Context, alertID string, at time.Time) (*models.Alert, error)
}

// CommitResult 一次提交实际写入的内容
type CommitResult struct {
	Reading *models.Reading        // CommitFailure 时为 nil
	Alerts  []models.AlertMutation // 已分配 ID 的告警变更
}

// OutcomeWriter 把一次轮询的结果作为一个整体写入
// CommitSuccess：读数 + 告警变更 + last_collected_at，要么全部生效要么全部不生效
// CommitFailure：只写告警变更，last_collected_at 不变
type OutcomeWriter interface {
	CommitSuccess(ctx context.Context, reading *models.Reading, mutations []models.AlertMutation) (*CommitResult, error)
	CommitFailure(ctx context.Context, sensorID string, mutations []models.AlertMutation) (*CommitResult, error)
}

// Store 采集引擎需要的全部存储能力
type Store interface {
	SensorRegistry
	ReadingStore
	AlertStore
	OutcomeWriter
}
