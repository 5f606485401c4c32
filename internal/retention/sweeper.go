package retention

import (
	"context"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var readingsDeletedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "plantwatch_retention_deleted_readings_total",
		Help: "Readings deleted by the retention sweeper",
	},
)

// ReadingPurger 按时间删除读数
type ReadingPurger interface {
	DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper 删除超过保留期的读数
// 与采集周期互不加锁：读数不可变，删除只按时间单调推进
type Sweeper struct {
	store  ReadingPurger
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper 创建保留期清理器
func NewSweeper(store ReadingPurger, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, logger: logger, now: time.Now}
}

// SetClock 替换时钟（测试用）
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep 删除早于 now - horizonDays 的读数，返回删除条数
func (s *Sweeper) Sweep(ctx context.Context, horizonDays int) (int64, error) {
	if horizonDays <= 0 {
		return 0, models.NewValidationError("horizon_days", "must be positive, got %d", horizonDays)
	}

	cutoff := s.now().AddDate(0, 0, -horizonDays)
	deleted, err := s.store.DeleteReadingsBefore(ctx, cutoff)
	if err != nil {
		return 0, models.WrapStorage("retention sweep", err)
	}

	readingsDeletedTotal.Add(float64(deleted))
	s.logger.Info("Retention sweep completed",
		zap.Int("horizon_days", horizonDays),
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

// Run 按固定间隔清理，阻塞直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, horizonDays int) error {
	s.logger.Info("Retention sweeper started",
		zap.Duration("interval", interval),
		zap.Int("horizon_days", horizonDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx, horizonDays); err != nil {
				s.logger.Error("Retention sweep failed", zap.Error(err))
				// 下一轮继续
			}
		}
	}
}
