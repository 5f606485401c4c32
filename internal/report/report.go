package report

import (
	"context"
	"time"

	"plantwatch-collector/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Source 报表数据来源
type Source interface {
	GetSensor(ctx context.Context, sensorID string) (*models.Sensor, error)
	QueryReadings(ctx context.Context, sensorID string, filters models.ReadingFilters) ([]models.Reading, error)
}

// SensorReport 传感器在一段时间内的统计
// 没有数值的读数（计数类）不参与 value 统计
type SensorReport struct {
	SensorID           string                       `json:"sensor_id"`
	SensorName         string                       `json:"sensor_name"`
	Kind               models.SensorKind            `json:"kind"`
	Start              time.Time                    `json:"start"`
	End                time.Time                    `json:"end"`
	TotalReadings      int                          `json:"total_readings"`
	AvgValue           *float64                     `json:"avg_value"`
	MinValue           *float64                     `json:"min_value"`
	MaxValue           *float64                     `json:"max_value"`
	AvgQuality         *float64                     `json:"avg_quality"`
	AvgCount           *float64                     `json:"avg_count"`
	MinCount           *int64                       `json:"min_count"`
	MaxCount           *int64                       `json:"max_count"`
	StatusDistribution map[models.ReadingStatus]int `json:"status_distribution"`
}

// Generator 报表生成
type Generator struct {
	source Source
}

// NewGenerator 创建报表生成器
func NewGenerator(source Source) *Generator {
	return &Generator{source: source}
}

// Generate 生成 [start, end] 区间的报表
func (g *Generator) Generate(ctx context.Context, sensorID string, start, end time.Time) (*SensorReport, error) {
	if end.Before(start) {
		return nil, models.NewValidationError("end", "end must not be before start")
	}

	sensor, err := g.source.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	readings, err := g.source.QueryReadings(ctx, sensorID, models.ReadingFilters{Start: &start, End: &end})
	if err != nil {
		return nil, err
	}

	r := &SensorReport{
		SensorID:           sensor.ID,
		SensorName:         sensor.Name,
		Kind:               sensor.Kind,
		Start:              start,
		End:                end,
		TotalReadings:      len(readings),
		StatusDistribution: map[models.ReadingStatus]int{},
	}
	if len(readings) == 0 {
		return r, nil
	}

	values := make([]float64, 0, len(readings))
	qualities := make([]float64, 0, len(readings))
	counts := make([]float64, 0, len(readings))
	minCount, maxCount := readings[0].Count, readings[0].Count
	for _, rd := range readings {
		if rd.Value != nil {
			values = append(values, *rd.Value)
		}
		qualities = append(qualities, rd.Quality)
		counts = append(counts, float64(rd.Count))
		if rd.Count < minCount {
			minCount = rd.Count
		}
		if rd.Count > maxCount {
			maxCount = rd.Count
		}
		r.StatusDistribution[rd.Status]++
	}

	if len(values) > 0 {
		avg, lo, hi := stat.Mean(values, nil), floats.Min(values), floats.Max(values)
		r.AvgValue, r.MinValue, r.MaxValue = &avg, &lo, &hi
	}
	avgQuality := stat.Mean(qualities, nil)
	avgCount := stat.Mean(counts, nil)
	r.AvgQuality = &avgQuality
	r.AvgCount = &avgCount
	r.MinCount = &minCount
	r.MaxCount = &maxCount
	return r, nil
}
