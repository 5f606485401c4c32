package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"plantwatch-collector/internal/models"
)

// FailureKind 轮询失败分类
type FailureKind int

const (
	FailureTimeout FailureKind = iota + 1
	FailureConnectionRefused
	FailureProtocol
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureConnectionRefused:
		return "connection-refused"
	case FailureProtocol:
		return "protocol-error"
	default:
		return "unknown"
	}
}

// PollFailure 一次轮询的失败结果
type PollFailure struct {
	Kind   FailureKind
	Detail string
}

func (f *PollFailure) String() string {
	if f.Detail == "" {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// RawReading 传感器返回的原始读数（未归一化）
type RawReading struct {
	Count   *int64
	Value   *float64
	Unit    *string
	Status  string
	Quality *float64
	Payload json.RawMessage // 原始报文，审计用
}

// Result 轮询结果：Reading 与 Failure 二选一
type Result struct {
	Reading *RawReading
	Failure *PollFailure
}

// OK 是否成功
func (r Result) OK() bool {
	return r.Failure == nil && r.Reading != nil
}

// Target 轮询目标
type Target struct {
	SensorID string
	Kind     models.SensorKind
	Host     string
	Port     int
	Timeout  time.Duration
}

// TargetFor 由传感器配置构建轮询目标
func TargetFor(s *models.Sensor) Target {
	return Target{
		SensorID: s.ID,
		Kind:     s.Kind,
		Host:     s.Host,
		Port:     s.Port,
		Timeout:  s.Timeout(),
	}
}

// Client 对传感器进行一次有界的网络往返
// 实现不得重试，也不得修改共享状态
type Client interface {
	Poll(ctx context.Context, target Target) Result
}

func failed(kind FailureKind, format string, args ...any) Result {
	return Result{Failure: &PollFailure{Kind: kind, Detail: fmt.Sprintf(format, args...)}}
}
