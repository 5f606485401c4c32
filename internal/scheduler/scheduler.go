package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"plantwatch-collector/internal/collector"
	"plantwatch-collector/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_cycles_total",
			Help: "Collection cycles by trigger (tick, manual)",
		},
		[]string{"trigger"},
	)
	skippedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_skipped_ticks_total",
			Help: "Ticks skipped because the previous cycle was still running",
		},
	)
	retryBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantwatch_retry_backlog",
			Help: "Sensors currently waiting for a retry",
		},
	)
)

// Registry 调度器读取的传感器注册表
type Registry interface {
	ListSensors(ctx context.Context) ([]models.Sensor, error)
	GetSensor(ctx context.Context, sensorID string) (*models.Sensor, error)
}

// Runner 执行一个采集周期（collector.Collector）
type Runner interface {
	Collect(ctx context.Context, sensors []models.Sensor, opts collector.CycleOptions) *collector.CycleReport
}

// Options 调度器配置
type Options struct {
	TickInterval time.Duration
	Retry        RetryPolicy
	Simulate     bool // 全局模拟模式
}

// TriggerRequest 立即采集请求
type TriggerRequest struct {
	SensorID string `json:"sensor_id,omitempty"` // 为空表示全部活跃传感器
	Simulate bool   `json:"simulate,omitempty"`
}

// minRetryWait 重试计时器的最短等待
const minRetryWait = 10 * time.Millisecond

// retryState 失败传感器的重试进度
type retryState struct {
	attempts int
	nextAt   time.Time
}

// Scheduler 周期调度器
// 同一时刻最多只有一个采集周期在运行；重叠的 tick 直接跳过，不排队
type Scheduler struct {
	registry Registry
	runner   Runner
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	retries map[string]*retryState
}

// NewScheduler 创建调度器
func NewScheduler(registry Registry, runner Runner, opts Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		runner:   runner,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		retries:  make(map[string]*retryState),
	}
}

// SetClock 替换时钟（测试用）
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run 启动调度循环，阻塞直到 ctx 取消
// 周期在独立 goroutine 中执行，循环本身不会被长周期阻塞，因此重叠的 tick 能被识别并跳过
// 重试计时器只在一个周期真正跑完后重新设置，且只针对未来的重试时间；已过期的重试交给下一次 tick
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Duration("tick_interval", s.opts.TickInterval),
		zap.Int("retry_max_attempts", s.opts.Retry.MaxAttempts),
	)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	retryTimer := time.NewTimer(time.Hour)
	retryTimer.Stop()
	defer retryTimer.Stop()

	var wg sync.WaitGroup
	done := make(chan struct{}, 1)

	dispatch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.tickAndLog(ctx) {
				return
			}
			select {
			case done <- struct{}{}:
			default:
			}
		}()
	}

	// 立即执行一次
	dispatch()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			dispatch()
		case <-retryTimer.C:
			dispatch()
		case <-done:
			if wait, ok := s.retryWait(s.now()); ok {
				retryTimer.Reset(wait)
			}
		}
	}
}

// retryWait 距离最早一次未来重试的等待时间
// 不早于 minRetryWait，避免计时器在周期之间空转
func (s *Scheduler) retryWait(now time.Time) (time.Duration, bool) {
	next, ok := s.nextRetryAt()
	if !ok || !next.After(now) {
		return 0, false
	}
	wait := next.Sub(now)
	if wait < minRetryWait {
		wait = minRetryWait
	}
	return wait, true
}

// tickAndLog 执行一次 Tick，返回周期是否真正跑完
func (s *Scheduler) tickAndLog(ctx context.Context) bool {
	_, err := s.Tick(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrCycleInProgress):
		return false
	default:
		s.logger.Error("Scheduled cycle failed", zap.Error(err))
		return false
	}
}

// Tick 执行一次到期检查并派发到期传感器
// 上一个周期仍在运行时返回 ErrCycleInProgress
func (s *Scheduler) Tick(ctx context.Context) (*collector.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		skippedTicksTotal.Inc()
		s.logger.Warn("Previous collection cycle still running, tick skipped")
		return nil, models.ErrCycleInProgress
	}
	defer s.running.Store(false)

	sensors, err := s.registry.ListSensors(ctx)
	if err != nil {
		return nil, models.WrapStorage("list sensors", err)
	}

	now := s.now()
	due := s.selectDue(sensors, now)
	if len(due) == 0 {
		s.logger.Debug("No sensors due", zap.Int("sensors", len(sensors)))
		return &collector.CycleReport{StartedAt: now, FinishedAt: now}, nil
	}

	cyclesTotal.WithLabelValues("tick").Inc()
	report := s.runner.Collect(ctx, due, collector.CycleOptions{Simulate: s.opts.Simulate})
	s.recordOutcomes(due, report)
	return report, nil
}

// RunNow 立即采集（同步），可以指定单个传感器
// 指定传感器时不做到期检查；存储错误通过 error 返回
func (s *Scheduler) RunNow(ctx context.Context, req TriggerRequest) (*collector.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, models.ErrCycleInProgress
	}
	defer s.running.Store(false)

	var sensors []models.Sensor
	if req.SensorID != "" {
		sensor, err := s.registry.GetSensor(ctx, req.SensorID)
		if err != nil {
			return nil, models.WrapStorage("get sensor", err)
		}
		if !sensor.Active {
			return nil, models.NewValidationError("sensor_id", "sensor %s is inactive", req.SensorID)
		}
		sensors = []models.Sensor{*sensor}
	} else {
		all, err := s.registry.ListSensors(ctx)
		if err != nil {
			return nil, models.WrapStorage("list sensors", err)
		}
		for _, sensor := range all {
			if sensor.Active {
				sensors = append(sensors, sensor)
			}
		}
	}

	s.logger.Info("Manual collection triggered",
		zap.String("sensor_id", req.SensorID),
		zap.Int("sensors", len(sensors)),
		zap.Bool("simulate", req.Simulate || s.opts.Simulate),
	)

	cyclesTotal.WithLabelValues("manual").Inc()
	report := s.runner.Collect(ctx, sensors, collector.CycleOptions{Simulate: req.Simulate || s.opts.Simulate})
	s.recordOutcomes(sensors, report)

	return report, errors.Join(report.StorageErrors()...)
}

// selectDue 选出到期传感器
// 处于重试退避中的传感器按重试时间派发，其余按 Sensor.Due
func (s *Scheduler) selectDue(sensors []models.Sensor, now time.Time) []models.Sensor {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(sensors))
	var due []models.Sensor
	for _, sensor := range sensors {
		present[sensor.ID] = true
		if !sensor.Active {
			delete(s.retries, sensor.ID)
			continue
		}
		if st, ok := s.retries[sensor.ID]; ok {
			if !now.Before(st.nextAt) {
				due = append(due, sensor)
			}
			continue
		}
		if sensor.Due(now) {
			due = append(due, sensor)
		}
	}
	// 已从注册表删除的传感器
	for id := range s.retries {
		if !present[id] {
			delete(s.retries, id)
		}
	}
	s.updateBacklogLocked()
	return due
}

// recordOutcomes 更新重试状态
func (s *Scheduler) recordOutcomes(sensors []models.Sensor, report *collector.CycleReport) {
	byID := make(map[string]*models.Sensor, len(sensors))
	for i := range sensors {
		byID[sensors[i].ID] = &sensors[i]
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range report.Sensors {
		switch {
		case o.Outcome == collector.OutcomeSucceeded:
			delete(s.retries, o.SensorID)
		case o.Outcome == collector.OutcomeFailed && o.Failure == nil:
			// 存储失败不走重试，交回正常的到期检查
			delete(s.retries, o.SensorID)
		case o.Outcome == collector.OutcomeFailed && o.Failure != nil:
			st, ok := s.retries[o.SensorID]
			if !ok {
				st = &retryState{}
				s.retries[o.SensorID] = st
			}
			st.attempts++
			if delay, retry := s.opts.Retry.Next(st.attempts); retry {
				st.nextAt = now.Add(delay)
				continue
			}
			// 重试用尽：按传感器自身的间隔再来，下一次失败开始新一轮重试
			st.attempts = 0
			if sensor, ok := byID[o.SensorID]; ok {
				st.nextAt = now.Add(sensor.Interval())
			} else {
				st.nextAt = now
			}
			s.logger.Warn("Retries exhausted, sensor back on its regular interval",
				zap.String("sensor_id", o.SensorID),
				zap.Time("next_attempt", st.nextAt),
			)
		}
	}
	s.updateBacklogLocked()
}

// updateBacklogLocked 刷新重试积压指标，只统计仍在退避中的传感器
// 重试用尽后回到正常间隔的传感器（attempts == 0）不计入；调用方持有 s.mu
func (s *Scheduler) updateBacklogLocked() {
	backlog := 0
	for _, st := range s.retries {
		if st.attempts > 0 {
			backlog++
		}
	}
	retryBacklog.Set(float64(backlog))
}

// nextRetryAt 最早的重试时间
func (s *Scheduler) nextRetryAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		earliest time.Time
		found    bool
	)
	for _, st := range s.retries {
		if !found || st.nextAt.Before(earliest) {
			earliest = st.nextAt
			found = true
		}
	}
	return earliest, found
}

// RetryState 传感器当前的重试次数与下一次尝试时间（诊断用）
func (s *Scheduler) RetryState(sensorID string) (attempts int, nextAt time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.retries[sensorID]
	if !ok {
		return 0, time.Time{}, false
	}
	return st.attempts, st.nextAt, true
}
