package registry

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"plantwatch-collector/internal/models"
	"plantwatch-collector/internal/repository"

	"go.uber.org/zap"
)

// 新建传感器的默认值
const (
	DefaultPort        = 80
	DefaultIntervalSec = 60
	DefaultTimeoutSec  = 10
)

var hostnamePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// SensorInput 配置变更请求，nil 字段表示不修改（创建时取默认值）
type SensorInput struct {
	ID          string             `json:"id,omitempty"`
	Name        *string            `json:"name,omitempty"`
	Kind        *models.SensorKind `json:"kind,omitempty"`
	Host        *string            `json:"host,omitempty"`
	Port        *int               `json:"port,omitempty"`
	Active      *bool              `json:"active,omitempty"`
	IntervalSec *int               `json:"interval_sec,omitempty"`
	TimeoutSec  *int               `json:"timeout_sec,omitempty"`
	LocationID  *string            `json:"location_id,omitempty"`
	Description *string            `json:"description,omitempty"`
}

// SensorView 传感器 + 派生状态
type SensorView struct {
	models.Sensor
	Status models.SensorStatus `json:"status"`
}

// Service 传感器注册表的配置入口
// 所有变更先校验再写入；变更之间互斥，保证地址唯一性检查与写入不被打断
type Service struct {
	store  repository.SensorRegistry
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewService 创建注册表服务
func NewService(store repository.SensorRegistry, grace time.Duration, logger *zap.Logger) *Service {
	return &Service{store: store, grace: grace, logger: logger, now: time.Now}
}

// SetClock 替换时钟（测试用）
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Validate 校验传感器配置
func Validate(sensor *models.Sensor) error {
	if strings.TrimSpace(sensor.Name) == "" {
		return models.NewValidationError("name", "is required")
	}
	if !sensor.Kind.Valid() {
		return models.NewValidationError("kind", "unknown sensor kind %q", sensor.Kind)
	}
	if !validHost(sensor.Host) {
		return models.NewValidationError("host", "%q is not a valid IP address or hostname", sensor.Host)
	}
	if sensor.Port < 1 || sensor.Port > 65535 {
		return models.NewValidationError("port", "must be between 1 and 65535, got %d", sensor.Port)
	}
	if sensor.IntervalSec <= 0 {
		return models.NewValidationError("interval_sec", "must be positive, got %d", sensor.IntervalSec)
	}
	if sensor.TimeoutSec <= 0 {
		return models.NewValidationError("timeout_sec", "must be positive, got %d", sensor.TimeoutSec)
	}
	return nil
}

func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	return hostnamePattern.MatchString(host)
}

// List 全部传感器及状态
func (s *Service) List(ctx context.Context) ([]SensorView, error) {
	sensors, err := s.store.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]SensorView, 0, len(sensors))
	for i := range sensors {
		views = append(views, SensorView{Sensor: sensors[i], Status: models.DeriveStatus(&sensors[i], now, s.grace)})
	}
	return views, nil
}

// Get 单个传感器及状态
func (s *Service) Get(ctx context.Context, sensorID string) (*SensorView, error) {
	sensor, err := s.store.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	return &SensorView{Sensor: *sensor, Status: models.DeriveStatus(sensor, s.now(), s.grace)}, nil
}

// Create 注册新传感器
func (s *Service) Create(ctx context.Context, in SensorInput) (*models.Sensor, error) {
	sensor := &models.Sensor{
		ID:          in.ID,
		Port:        DefaultPort,
		Active:      true,
		IntervalSec: DefaultIntervalSec,
		TimeoutSec:  DefaultTimeoutSec,
	}
	in.apply(sensor)
	sensor.CreatedAt = s.now().UTC()

	if err := Validate(sensor); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAddress(ctx, sensor); err != nil {
		return nil, err
	}
	if err := s.store.CreateSensor(ctx, sensor); err != nil {
		return nil, err
	}

	s.logger.Info("Sensor created",
		zap.String("sensor_id", sensor.ID),
		zap.String("name", sensor.Name),
		zap.String("kind", string(sensor.Kind)),
		zap.String("host", sensor.Host),
		zap.Int("port", sensor.Port),
	)
	return sensor, nil
}

// Update 修改传感器配置（不影响采集进度）
func (s *Service) Update(ctx context.Context, sensorID string, in SensorInput) (*models.Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sensor, err := s.store.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	in.ID = sensorID
	in.apply(sensor)

	if err := Validate(sensor); err != nil {
		return nil, err
	}
	if err := s.checkAddress(ctx, sensor); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSensor(ctx, sensor); err != nil {
		return nil, err
	}

	s.logger.Info("Sensor updated", zap.String("sensor_id", sensor.ID))
	return sensor, nil
}

// SetActive 启用/停用传感器
func (s *Service) SetActive(ctx context.Context, sensorID string, active bool) (*models.Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetActive(ctx, sensorID, active); err != nil {
		return nil, err
	}
	s.logger.Info("Sensor active flag changed", zap.String("sensor_id", sensorID), zap.Bool("active", active))
	return s.store.GetSensor(ctx, sensorID)
}

// checkAddress (host, port) 不能与其它传感器重复
func (s *Service) checkAddress(ctx context.Context, sensor *models.Sensor) error {
	existing, err := s.store.FindByAddress(ctx, sensor.Host, sensor.Port)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != sensor.ID {
		return models.NewValidationError("host", "address %s:%d already registered to sensor %s", sensor.Host, sensor.Port, existing.ID)
	}
	return nil
}

func (in SensorInput) apply(s *models.Sensor) {
	if in.ID != "" {
		s.ID = in.ID
	}
	if in.Name != nil {
		s.Name = strings.TrimSpace(*in.Name)
	}
	if in.Kind != nil {
		s.Kind = models.SensorKind(strings.ToLower(strings.TrimSpace(string(*in.Kind))))
	}
	if in.Host != nil {
		s.Host = strings.TrimSpace(*in.Host)
	}
	if in.Port != nil {
		s.Port = *in.Port
	}
	if in.Active != nil {
		s.Active = *in.Active
	}
	if in.IntervalSec != nil {
		s.IntervalSec = *in.IntervalSec
	}
	if in.TimeoutSec != nil {
		s.TimeoutSec = *in.TimeoutSec
	}
	if in.LocationID != nil {
		s.LocationID = emptyToNil(*in.LocationID)
	}
	if in.Description != nil {
		s.Description = emptyToNil(*in.Description)
	}
}

func emptyToNil(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
