package httpapi

import (
	"context"
	"errors"
	"time"

	"plantwatch-collector/internal/collector"
	"plantwatch-collector/internal/feed"
	"plantwatch-collector/internal/models"
	"plantwatch-collector/internal/registry"
	"plantwatch-collector/internal/report"
	"plantwatch-collector/internal/repository"
	"plantwatch-collector/internal/scheduler"

	"go.uber.org/zap"
)

// Trigger 立即采集（scheduler.Scheduler）
type Trigger interface {
	RunNow(ctx context.Context, req scheduler.TriggerRequest) (*collector.CycleReport, error)
}

// FailureCounter 连续失败次数（collector.Collector）
type FailureCounter interface {
	ConsecutiveFailures(sensorID string) int
}

// RetryReader 传感器的重试进度（scheduler.Scheduler）
type RetryReader interface {
	RetryState(sensorID string) (attempts int, nextAt time.Time, ok bool)
}

// LatestReader 最新读数缓存（feed.LatestCache）
type LatestReader interface {
	GetLatest(ctx context.Context, sensorID string) (*models.Reading, error)
}

// Sweeper 按保留期清理读数（retention.Sweeper）
type Sweeper interface {
	Sweep(ctx context.Context, horizonDays int) (int64, error)
}

// Deps API 依赖；Latest 和 Publisher 可以为空
type Deps struct {
	Registry    *registry.Service
	Readings    repository.ReadingStore
	Alerts      repository.AlertStore
	Trigger     Trigger
	Failures    FailureCounter
	Retries     RetryReader
	Latest      LatestReader
	Publisher   feed.Publisher
	Reports     *report.Generator
	Sweeper     Sweeper
	HorizonDays int // sweep 请求未指定时使用
}

// API 采集服务的 HTTP 接口
type API struct {
	Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewAPI 创建 API
func NewAPI(deps Deps, logger *zap.Logger) *API {
	return &API{Deps: deps, logger: logger, now: time.Now}
}

// SetClock 替换时钟（测试用）
func (a *API) SetClock(now func() time.Time) {
	a.now = now
}

// SensorStatusView 传感器运行状态
type SensorStatusView struct {
	SensorID            string              `json:"sensor_id"`
	Status              models.SensorStatus `json:"status"`
	LastCollectedAt     *time.Time          `json:"last_collected_at,omitempty"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	RetryAttempts       int                 `json:"retry_attempts"`
	NextAttemptAt       *time.Time          `json:"next_attempt_at,omitempty"` // 退避或重试用尽后的下一次尝试
	OpenAlerts          []models.Alert      `json:"open_alerts"`
}

func (a *API) sensorStatus(ctx context.Context, sensorID string) (*SensorStatusView, error) {
	view, err := a.Registry.Get(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	open, err := a.Alerts.ListOpenAlerts(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = []models.Alert{}
	}
	out := &SensorStatusView{
		SensorID:        view.ID,
		Status:          view.Status,
		LastCollectedAt: view.LastCollectedAt,
		OpenAlerts:      open,
	}
	if a.Failures != nil {
		out.ConsecutiveFailures = a.Failures.ConsecutiveFailures(sensorID)
	}
	if a.Retries != nil {
		if attempts, nextAt, ok := a.Retries.RetryState(sensorID); ok {
			out.RetryAttempts = attempts
			out.NextAttemptAt = &nextAt
		}
	}
	return out, nil
}

// latestReading 先查缓存，未命中或缓存不可用时查存储
func (a *API) latestReading(ctx context.Context, sensorID string) (*models.Reading, error) {
	if _, err := a.Registry.Get(ctx, sensorID); err != nil {
		return nil, err
	}
	if a.Latest != nil {
		reading, err := a.Latest.GetLatest(ctx, sensorID)
		if err == nil {
			return reading, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			a.logger.Warn("Latest reading cache unavailable, falling back to store",
				zap.String("sensor_id", sensorID),
				zap.Error(err),
			)
		}
	}
	return a.Readings.LatestReading(ctx, sensorID)
}

// resolveAlert 人工关闭告警；已关闭的告警原样返回，不重复推送
func (a *API) resolveAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	current, err := a.Alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !current.Open {
		return current, nil
	}

	resolved, err := a.Alerts.ResolveAlert(ctx, alertID, a.now().UTC())
	if err != nil {
		return nil, err
	}
	a.logger.Info("Alert resolved by operator",
		zap.String("alert_id", resolved.ID),
		zap.String("sensor_id", resolved.SensorID),
		zap.String("alert_type", string(resolved.Type)),
	)

	if a.Publisher != nil {
		sensor, err := a.Registry.Get(ctx, resolved.SensorID)
		if err == nil {
			err = a.Publisher.PublishAlert(ctx, &sensor.Sensor, models.AlertMutation{Action: models.ActionResolve, Alert: *resolved})
		}
		if err != nil {
			a.logger.Warn("Failed to publish alert resolution",
				zap.String("alert_id", resolved.ID),
				zap.Error(err),
			)
		}
	}
	return resolved, nil
}
