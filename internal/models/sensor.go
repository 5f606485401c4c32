package models

import (
	"time"
)

// SensorKind 传感器类型
type SensorKind string

const (
	KindCounter     SensorKind = "counter"
	KindTemperature SensorKind = "temperature"
	KindPressure    SensorKind = "pressure"
	KindVibration   SensorKind = "vibration"
	KindFlow        SensorKind = "flow"
	KindLevel       SensorKind = "level"
	KindOther       SensorKind = "other"
)

// SensorKinds 所有合法的传感器类型
var SensorKinds = []SensorKind{
	KindCounter, KindTemperature, KindPressure, KindVibration, KindFlow, KindLevel, KindOther,
}

// Valid 是否为已知类型
func (k SensorKind) Valid() bool {
	for _, known := range SensorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Sensor 传感器（对应 sensors 表）
type Sensor struct {
	ID              string     `json:"id" db:"sensor_id"`
	Name            string     `json:"name" db:"name"`
	Kind            SensorKind `json:"kind" db:"kind"`
	Host            string     `json:"host" db:"host"`
	Port            int        `json:"port" db:"port"`
	Active          bool       `json:"active" db:"is_active"`
	IntervalSec     int        `json:"interval_sec" db:"collection_interval_sec"`
	TimeoutSec      int        `json:"timeout_sec" db:"timeout_sec"`
	LocationID      *string    `json:"location_id,omitempty" db:"location_id"` // 建筑模型中的元素ID
	Description     *string    `json:"description,omitempty" db:"description"`
	LastCollectedAt *time.Time `json:"last_collected_at,omitempty" db:"last_collected_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Interval 采集间隔
func (s *Sensor) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// Timeout 单次轮询超时
func (s *Sensor) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Due 判断传感器在 now 时刻是否到期需要采集
// 从未成功采集过的活跃传感器总是到期
func (s *Sensor) Due(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.LastCollectedAt == nil {
		return true
	}
	return now.Sub(*s.LastCollectedAt) >= s.Interval()
}

// SensorStatus 传感器派生状态（不持久化）
type SensorStatus string

const (
	StatusInactive       SensorStatus = "inactive"
	StatusNeverCollected SensorStatus = "never-collected"
	StatusStale          SensorStatus = "stale"
	StatusHealthy        SensorStatus = "healthy"
)

// DefaultGracePeriod 判断 stale 时在采集间隔之外的容忍时间（调度抖动）
const DefaultGracePeriod = 30 * time.Second

// DeriveStatus 计算传感器状态
func DeriveStatus(s *Sensor, now time.Time, grace time.Duration) SensorStatus {
	switch {
	case !s.Active:
		return StatusInactive
	case s.LastCollectedAt == nil:
		return StatusNeverCollected
	case now.Sub(*s.LastCollectedAt) > s.Interval()+grace:
		return StatusStale
	default:
		return StatusHealthy
	}
}
