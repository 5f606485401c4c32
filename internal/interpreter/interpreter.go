package interpreter

import (
	"fmt"
	"math"
	"strconv"

	"plantwatch-collector/internal/endpoint"
	"plantwatch-collector/internal/models"
)

// DefaultQuality 报文未携带质量时的默认值
const DefaultQuality = 100.0

// Band 正常取值区间（nil 表示该侧无界）
type Band struct {
	Min *float64
	Max *float64
}

// Contains 值是否在区间内（含边界）
func (b Band) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

func (b Band) String() string {
	switch {
	case b.Min != nil && b.Max != nil:
		return fmt.Sprintf("%s-%s", fmtNum(*b.Min), fmtNum(*b.Max))
	case b.Max != nil:
		return "<=" + fmtNum(*b.Max)
	case b.Min != nil:
		return ">=" + fmtNum(*b.Min)
	default:
		return "unbounded"
	}
}

// KindRule 某类传感器的解释规则
type KindRule struct {
	Label       string // 用于告警文案
	DefaultUnit string
	Band        *Band // nil 表示不做区间判断
}

func bound(v float64) *float64 { return &v }

// kindRules 每种传感器类型一行；新增类型只需要加一行
var kindRules = map[models.SensorKind]KindRule{
	models.KindCounter:     {Label: "count", DefaultUnit: "count"},
	models.KindTemperature: {Label: "temperature", DefaultUnit: "°C", Band: &Band{Min: bound(18), Max: bound(35)}},
	models.KindPressure:    {Label: "pressure", DefaultUnit: "bar", Band: &Band{Min: bound(3), Max: bound(8)}},
	models.KindVibration:   {Label: "vibration", DefaultUnit: "mm/s", Band: &Band{Max: bound(5)}},
	models.KindFlow:        {Label: "flow", DefaultUnit: "L/min", Band: &Band{Min: bound(80), Max: bound(200)}},
	models.KindLevel:       {Label: "level", DefaultUnit: "%", Band: &Band{Min: bound(20), Max: bound(90)}},
	models.KindOther:       {Label: "value"},
}

// RuleFor 返回类型对应的规则，未知类型按 other 处理
func RuleFor(kind models.SensorKind) KindRule {
	if rule, ok := kindRules[kind]; ok {
		return rule
	}
	return kindRules[models.KindOther]
}

// Normalized 归一化后的读数
type Normalized struct {
	Value      *float64
	Count      int64
	Unit       *string
	Quality    float64
	Status     models.ReadingStatus
	OutOfBand  bool   // 值超出该类型的正常区间
	BandText   string // 区间描述，如 "18-35"
	RawPayload []byte
}

// Interpret 把原始读数映射为归一化读数，纯函数
func Interpret(kind models.SensorKind, raw *endpoint.RawReading) Normalized {
	rule := RuleFor(kind)

	n := Normalized{
		Value:      raw.Value,
		Quality:    ClampQuality(raw.Quality),
		Status:     models.ReadingOK,
		RawPayload: raw.Payload,
	}
	if raw.Count != nil {
		n.Count = *raw.Count
	}

	switch {
	case raw.Unit != nil && *raw.Unit != "":
		unit := *raw.Unit
		n.Unit = &unit
	case rule.DefaultUnit != "":
		unit := rule.DefaultUnit
		n.Unit = &unit
	}

	if rule.Band != nil && raw.Value != nil {
		n.BandText = rule.Band.String()
		if !rule.Band.Contains(*raw.Value) {
			n.OutOfBand = true
			n.Status = models.ReadingWarning
		}
	}

	// 设备自报状态优先级更高
	switch raw.Status {
	case string(models.ReadingError):
		n.Status = models.ReadingError
	case string(models.ReadingWarning):
		if n.Status == models.ReadingOK {
			n.Status = models.ReadingWarning
		}
	}

	return n
}

// ClampQuality 质量取值夹到 [0, 100]，缺省为 100
func ClampQuality(q *float64) float64 {
	if q == nil || math.IsNaN(*q) {
		return DefaultQuality
	}
	return math.Max(0, math.Min(100, *q))
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatValue 告警文案中的数值格式
func FormatValue(v float64) string {
	return fmtNum(v)
}
