package models

import (
	"encoding/json"
	"time"
)

// ReadingStatus 读数状态
type ReadingStatus string

const (
	ReadingOK      ReadingStatus = "ok"
	ReadingWarning ReadingStatus = "warning"
	ReadingError   ReadingStatus = "error"
)

// Reading 一次成功轮询得到的读数（对应 readings 表，只追加）
type Reading struct {
	ID          int64           `json:"id" db:"id"`
	SensorID    string          `json:"sensor_id" db:"sensor_id"`
	CollectedAt time.Time       `json:"timestamp" db:"collected_at"`
	Value       *float64        `json:"value" db:"value"` // 计数类传感器为空
	Count       int64           `json:"count" db:"count"`
	Unit        *string         `json:"unit,omitempty" db:"unit"`
	Quality     float64         `json:"quality" db:"quality"` // 0-100
	Status      ReadingStatus   `json:"status" db:"status"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`
}

// ReadingFilters 读数查询条件
type ReadingFilters struct {
	Start *time.Time // collected_at >= Start
	End   *time.Time // collected_at <= End
	Limit int        // 0 表示不限制
}
