package endpoint

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"

	"plantwatch-collector/internal/models"
)

// simProfile 模拟数据的取值范围
type simProfile struct {
	min, max   float64
	unit       string
	minQuality float64
	countOnly  bool
}

var simProfiles = map[models.SensorKind]simProfile{
	models.KindCounter:     {min: 50, max: 1050, minQuality: 90, countOnly: true},
	models.KindTemperature: {min: 15, max: 35, unit: "°C", minQuality: 85},
	models.KindPressure:    {min: 1, max: 10, unit: "bar", minQuality: 88},
	models.KindVibration:   {min: 0, max: 8, unit: "mm/s", minQuality: 85},
	models.KindFlow:        {min: 60, max: 220, unit: "L/min", minQuality: 85},
	models.KindLevel:       {min: 10, max: 100, unit: "%", minQuality: 85},
	models.KindOther:       {min: 0, max: 100, unit: "units", minQuality: 90},
}

// simPayload 模拟读数的原始载荷
type simPayload struct {
	Simulated bool     `json:"simulated"`
	Kind      string   `json:"kind"`
	Quality   float64  `json:"quality"`
	Value     *float64 `json:"value,omitempty"`
	Unit      *string  `json:"unit,omitempty"`
	Count     *int64   `json:"count,omitempty"`
}

// SimulatedClient 不访问网络，按传感器类型生成模拟读数（开发/测试用）
type SimulatedClient struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedClient 创建模拟客户端（固定 seed 可复现）
func NewSimulatedClient(seed int64) *SimulatedClient {
	return &SimulatedClient{rnd: rand.New(rand.NewSource(seed))}
}

// Poll 实现 Client
func (c *SimulatedClient) Poll(ctx context.Context, target Target) Result {
	if err := ctx.Err(); err != nil {
		return failed(FailureTimeout, "%v", err)
	}

	profile, ok := simProfiles[target.Kind]
	if !ok {
		profile = simProfiles[models.KindOther]
	}

	c.mu.Lock()
	sample := profile.min + c.rnd.Float64()*(profile.max-profile.min)
	quality := profile.minQuality + c.rnd.Float64()*(100-profile.minQuality)
	c.mu.Unlock()

	quality = round(quality, 1)
	raw := &RawReading{Quality: &quality, Status: "ok"}
	payload := simPayload{Simulated: true, Kind: string(target.Kind), Quality: quality}

	if profile.countOnly {
		count := int64(sample)
		raw.Count = &count
		payload.Count = &count
	} else {
		value := round(sample, 2)
		unit := profile.unit
		raw.Value = &value
		raw.Unit = &unit
		payload.Value = &value
		payload.Unit = &unit
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failed(FailureProtocol, "failed to marshal simulated payload: %v", err)
	}
	raw.Payload = body
	return Result{Reading: raw}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
