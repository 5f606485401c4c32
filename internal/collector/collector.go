package collector

import (
	"context"
	"sync"
	"time"

	"plantwatch-collector/internal/endpoint"
	"plantwatch-collector/internal/evaluator"
	"plantwatch-collector/internal/feed"
	"plantwatch-collector/internal/interpreter"
	"plantwatch-collector/internal/models"
	"plantwatch-collector/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Outcome 单个传感器在一个周期中的结果
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeDeferred  Outcome = "deferred" // 周期预算耗尽，未开始或被中断
)

// SensorOutcome 周期报告中的一行
type SensorOutcome struct {
	SensorID            string                `json:"sensor_id"`
	Outcome             Outcome               `json:"outcome"`
	Failure             *endpoint.PollFailure `json:"-"`
	FailureText         string                `json:"failure,omitempty"`
	Error               string                `json:"error,omitempty"` // StorageError
	ReadingID           int64                 `json:"reading_id,omitempty"`
	AlertMutations      int                   `json:"alert_mutations"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`

	err error
}

// Err 持久化错误（仅 StorageError 时非空）
func (o SensorOutcome) Err() error {
	return o.err
}

// CycleReport 一个采集周期的汇总
// Attempted = Succeeded + Failed；Deferred 的传感器没有被轮询
type CycleReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Attempted  int             `json:"attempted"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Deferred   int             `json:"deferred"`
	Sensors    []SensorOutcome `json:"sensors"`
}

// StorageErrors 本周期所有持久化错误
func (r *CycleReport) StorageErrors() []error {
	var errs []error
	for _, o := range r.Sensors {
		if o.err != nil {
			errs = append(errs, o.err)
		}
	}
	return errs
}

// CycleOptions 周期选项
type CycleOptions struct {
	Simulate bool // 走模拟客户端，不访问网络
}

// Config 采集器配置
type Config struct {
	MaxInFlight int
	CycleBudget time.Duration
}

// OutcomeStore 采集器需要的存储能力
type OutcomeStore interface {
	ListOpenAlerts(ctx context.Context, sensorID string) ([]models.Alert, error)
	repository.OutcomeWriter
}

// Collector 采集编排器
// 每个周期并发轮询一批传感器：轮询 -> 解释 -> 评估 -> 原子写入 -> 推送
type Collector struct {
	cfg       Config
	store     OutcomeStore
	client    endpoint.Client
	simulator endpoint.Client
	evaluator *evaluator.Evaluator
	publisher feed.Publisher
	logger    *zap.Logger
	now       func() time.Time

	locks *sensorLocks

	failuresMu          sync.Mutex
	consecutiveFailures map[string]int
}

// NewCollector 创建采集器
func NewCollector(
	cfg Config,
	store OutcomeStore,
	client endpoint.Client,
	simulator endpoint.Client,
	eval *evaluator.Evaluator,
	publisher feed.Publisher,
	logger *zap.Logger,
) *Collector {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if publisher == nil {
		publisher = feed.MultiPublisher(nil)
	}
	return &Collector{
		cfg:                 cfg,
		store:               store,
		client:              client,
		simulator:           simulator,
		evaluator:           eval,
		publisher:           publisher,
		logger:              logger,
		now:                 time.Now,
		locks:               newSensorLocks(),
		consecutiveFailures: make(map[string]int),
	}
}

// SetClock 替换时钟（测试用）
func (c *Collector) SetClock(now func() time.Time) {
	c.now = now
}

// ConsecutiveFailures 传感器当前连续失败次数（仅诊断用）
func (c *Collector) ConsecutiveFailures(sensorID string) int {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	return c.consecutiveFailures[sensorID]
}

// Collect 执行一个采集周期
// 单个传感器失败不会中断周期；周期总能返回完整的报告
func (c *Collector) Collect(ctx context.Context, sensors []models.Sensor, opts CycleOptions) *CycleReport {
	report := &CycleReport{
		StartedAt: c.now(),
		Sensors:   make([]SensorOutcome, len(sensors)),
	}

	client := c.client
	if opts.Simulate {
		client = c.simulator
	}

	budgetCtx, cancel := context.WithTimeout(ctx, c.cfg.CycleBudget)
	defer cancel()

	sem := semaphore.NewWeighted(int64(c.cfg.MaxInFlight))
	var wg sync.WaitGroup

	for i := range sensors {
		if err := sem.Acquire(budgetCtx, 1); err != nil {
			// 预算耗尽：剩余传感器留给下一次到期检查
			for j := i; j < len(sensors); j++ {
				report.Sensors[j] = SensorOutcome{SensorID: sensors[j].ID, Outcome: OutcomeDeferred}
			}
			break
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			report.Sensors[i] = c.collectOne(ctx, budgetCtx, &sensors[i], client)
		}(i)
	}
	wg.Wait()

	report.FinishedAt = c.now()
	for _, o := range report.Sensors {
		switch o.Outcome {
		case OutcomeSucceeded:
			report.Succeeded++
		case OutcomeFailed:
			report.Failed++
		case OutcomeDeferred:
			report.Deferred++
		}
	}
	report.Attempted = report.Succeeded + report.Failed

	deferredTotal.Add(float64(report.Deferred))
	cycleDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	c.logger.Info("Collection cycle completed",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("deferred", report.Deferred),
		zap.Bool("simulate", opts.Simulate),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report
}

// collectOne 单个传感器的完整流水线
// 轮询受 budgetCtx 约束；写入使用 ctx，避免预算到期时丢失已完成的轮询结果
func (c *Collector) collectOne(ctx, budgetCtx context.Context, sensor *models.Sensor, client endpoint.Client) SensorOutcome {
	out := SensorOutcome{SensorID: sensor.ID}

	unlock, err := c.locks.Lock(budgetCtx, sensor.ID)
	if err != nil {
		out.Outcome = OutcomeDeferred
		return out
	}
	defer unlock()

	start := time.Now()
	result := client.Poll(budgetCtx, endpoint.TargetFor(sensor))
	pollDuration.Observe(time.Since(start).Seconds())

	if !result.OK() && budgetCtx.Err() != nil {
		// 周期预算到期打断了轮询，不算传感器故障
		out.Outcome = OutcomeDeferred
		return out
	}

	now := c.now()
	open, err := c.store.ListOpenAlerts(ctx, sensor.ID)
	if err != nil {
		return c.storageFailure(out, sensor, models.WrapStorage("list open alerts", err))
	}

	var commit *repository.CommitResult
	if result.OK() {
		pollsTotal.WithLabelValues("ok").Inc()

		normalized := interpreter.Interpret(sensor.Kind, result.Reading)
		mutations := c.evaluator.Evaluate(sensor, normalized, open, now)
		reading := &models.Reading{
			SensorID:    sensor.ID,
			CollectedAt: now,
			Value:       normalized.Value,
			Count:       normalized.Count,
			Unit:        normalized.Unit,
			Quality:     normalized.Quality,
			Status:      normalized.Status,
			RawPayload:  normalized.RawPayload,
		}

		commit, err = c.store.CommitSuccess(ctx, reading, mutations)
		if err != nil {
			return c.storageFailure(out, sensor, models.WrapStorage("commit reading", err))
		}

		out.Outcome = OutcomeSucceeded
		out.ReadingID = commit.Reading.ID
		c.resetFailures(sensor.ID)
	} else {
		failure := result.Failure
		if failure == nil {
			failure = &endpoint.PollFailure{Kind: endpoint.FailureProtocol, Detail: "empty poll result"}
		}
		pollsTotal.WithLabelValues(failure.Kind.String()).Inc()

		mutations := c.evaluator.EvaluateFailure(sensor, failure, open, now)
		commit, err = c.store.CommitFailure(ctx, sensor.ID, mutations)
		if err != nil {
			return c.storageFailure(out, sensor, models.WrapStorage("commit failure", err))
		}

		out.Outcome = OutcomeFailed
		out.Failure = failure
		out.FailureText = failure.String()
		out.ConsecutiveFailures = c.recordFailure(sensor.ID)

		c.logger.Warn("Sensor poll failed",
			zap.String("sensor_id", sensor.ID),
			zap.String("host", sensor.Host),
			zap.Int("port", sensor.Port),
			zap.String("failure", failure.String()),
			zap.Int("consecutive_failures", out.ConsecutiveFailures),
		)
	}

	out.AlertMutations = len(commit.Alerts)
	for _, m := range commit.Alerts {
		alertMutationsTotal.WithLabelValues(string(m.Action), string(m.Alert.Type)).Inc()
	}
	c.publish(ctx, sensor, commit)
	return out
}

func (c *Collector) storageFailure(out SensorOutcome, sensor *models.Sensor, err error) SensorOutcome {
	storageErrorsTotal.Inc()
	c.logger.Error("Failed to persist sensor outcome",
		zap.String("sensor_id", sensor.ID),
		zap.Error(err),
	)
	out.Outcome = OutcomeFailed
	out.Error = err.Error()
	out.err = err
	return out
}

// publish 推送失败只记录日志
func (c *Collector) publish(ctx context.Context, sensor *models.Sensor, commit *repository.CommitResult) {
	if commit.Reading != nil {
		if err := c.publisher.PublishReading(ctx, sensor, commit.Reading); err != nil {
			c.logger.Warn("Failed to publish reading", zap.String("sensor_id", sensor.ID), zap.Error(err))
		}
	}
	for _, m := range commit.Alerts {
		if err := c.publisher.PublishAlert(ctx, sensor, m); err != nil {
			c.logger.Warn("Failed to publish alert",
				zap.String("sensor_id", sensor.ID),
				zap.String("alert_id", m.Alert.ID),
				zap.Error(err),
			)
		}
	}
}

func (c *Collector) recordFailure(sensorID string) int {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	c.consecutiveFailures[sensorID]++
	return c.consecutiveFailures[sensorID]
}

func (c *Collector) resetFailures(sensorID string) {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	delete(c.consecutiveFailures, sensorID)
}
