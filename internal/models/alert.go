package models

import (
	"time"
)

// AlertType 告警类型
type AlertType string

const (
	AlertThreshold          AlertType = "threshold"
	AlertDisconnection      AlertType = "disconnection"
	AlertCommunicationError AlertType = "communication-error"
	AlertMaintenance        AlertType = "maintenance"
	AlertOther              AlertType = "other"
)

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert 告警（对应 alerts 表）
// 同一 (sensor_id, alert_type) 同时最多只有一条 open 告警
type Alert struct {
	ID          string     `json:"id" db:"alert_id"`
	SensorID    string     `json:"sensor_id" db:"sensor_id"`
	Type        AlertType  `json:"alert_type" db:"alert_type"`
	Severity    Severity   `json:"severity" db:"severity"`
	Message     string     `json:"message" db:"message"`
	Open        bool       `json:"open" db:"is_open"`
	Occurrences int        `json:"occurrences" db:"occurrences"` // 合并到该告警的触发次数
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AlertFilters 告警查询条件
type AlertFilters struct {
	SensorID string
	OpenOnly bool
	Limit    int
}

// MutationAction 告警变更动作
type MutationAction string

const (
	ActionOpen    MutationAction = "open"
	ActionRefresh MutationAction = "refresh"
	ActionResolve MutationAction = "resolve"
)

// AlertMutation 评估器输出的一条告警变更
// Open 时 Alert.ID 为空，由存储层分配
type AlertMutation struct {
	Action MutationAction
	Alert  Alert
}
