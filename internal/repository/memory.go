package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/google/uuid"
)

// MemoryStore 内存存储：DB 未启用时的回退实现，也用于测试
// 所有写操作在同一把锁下完成，CommitSuccess/CommitFailure 天然原子
type MemoryStore struct {
	mu sync.RWMutex

	sensors  map[string]models.Sensor
	readings map[string][]models.Reading // sensorID -> readings (按 collected_at 升序)
	alerts   map[string]models.Alert     // alertID -> alert

	nextReadingID int64
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sensors:  map[string]models.Sensor{},
		readings: map[string][]models.Reading{},
		alerts:   map[string]models.Alert{},
	}
}

var _ Store = (*MemoryStore)(nil)

// ---- sensors ----

func (m *MemoryStore) ListSensors(_ context.Context) ([]models.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, cloneSensor(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetSensor(_ context.Context, sensorID string) (*models.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sensors[sensorID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := cloneSensor(s)
	return &c, nil
}

func (m *MemoryStore) FindByAddress(_ context.Context, host string, port int) (*models.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sensors {
		if s.Host == host && s.Port == port {
			c := cloneSensor(s)
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) CreateSensor(_ context.Context, sensor *models.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sensor.ID == "" {
		sensor.ID = uuid.New().String()
	}
	if _, exists := m.sensors[sensor.ID]; exists {
		return models.NewValidationError("id", "sensor %s already exists", sensor.ID)
	}
	if err := m.checkAddressLocked(sensor); err != nil {
		return err
	}
	if sensor.CreatedAt.IsZero() {
		sensor.CreatedAt = time.Now().UTC()
	}
	m.sensors[sensor.ID] = cloneSensor(*sensor)
	return nil
}

func (m *MemoryStore) UpdateSensor(_ context.Context, sensor *models.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sensors[sensor.ID]
	if !ok {
		return models.ErrNotFound
	}
	if err := m.checkAddressLocked(sensor); err != nil {
		return err
	}
	// 采集进度与创建时间不由配置更新覆盖
	sensor.LastCollectedAt = existing.LastCollectedAt
	sensor.CreatedAt = existing.CreatedAt
	m.sensors[sensor.ID] = cloneSensor(*sensor)
	return nil
}

func (m *MemoryStore) SetActive(_ context.Context, sensorID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sensors[sensorID]
	if !ok {
		return models.ErrNotFound
	}
	s.Active = active
	m.sensors[sensorID] = s
	return nil
}

func (m *MemoryStore) checkAddressLocked(sensor *models.Sensor) error {
	for id, s := range m.sensors {
		if id != sensor.ID && s.Host == sensor.Host && s.Port == sensor.Port {
			return models.NewValidationError("host", "address %s:%d already registered to sensor %s", sensor.Host, sensor.Port, id)
		}
	}
	return nil
}

// ---- readings ----

func (m *MemoryStore) QueryReadings(_ context.Context, sensorID string, filters models.ReadingFilters) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reading
	for _, r := range m.readings[sensorID] {
		if filters.Start != nil && r.CollectedAt.Before(*filters.Start) {
			continue
		}
		if filters.End != nil && r.CollectedAt.After(*filters.End) {
			continue
		}
		out = append(out, r)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) LatestReading(_ context.Context, sensorID string) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := m.readings[sensorID]
	if len(rs) == 0 {
		return nil, models.ErrNotFound
	}
	r := rs[len(rs)-1]
	return &r, nil
}

func (m *MemoryStore) DeleteReadingsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for sensorID, rs := range m.readings {
		kept := rs[:0]
		for _, r := range rs {
			if r.CollectedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		m.readings[sensorID] = kept
	}
	return deleted, nil
}

// ---- alerts ----

func (m *MemoryStore) ListOpenAlerts(_ context.Context, sensorID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Alert
	for _, a := range m.alerts {
		if a.Open && a.SensorID == sensorID {
			out = append(out, a)
		}
	}
	sortAlertsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, filters models.AlertFilters) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Alert
	for _, a := range m.alerts {
		if filters.SensorID != "" && a.SensorID != filters.SensorID {
			continue
		}
		if filters.OpenOnly && !a.Open {
			continue
		}
		out = append(out, a)
	}
	sortAlertsNewestFirst(out)
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, alertID string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ResolveAlert(_ context.Context, alertID string, at time.Time) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if a.Open {
		a.Open = false
		a.ResolvedAt = &at
		a.UpdatedAt = at
		m.alerts[alertID] = a
	}
	return &a, nil
}

// ---- outcome ----

func (m *MemoryStore) CommitSuccess(_ context.Context, reading *models.Reading, mutations []models.AlertMutation) (*CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sensor, ok := m.sensors[reading.SensorID]
	if !ok {
		return nil, models.ErrNotFound
	}

	m.nextReadingID++
	stored := *reading
	stored.ID = m.nextReadingID
	m.insertReadingLocked(stored)

	applied := m.applyLocked(mutations)

	collectedAt := stored.CollectedAt
	if sensor.LastCollectedAt == nil || collectedAt.After(*sensor.LastCollectedAt) {
		sensor.LastCollectedAt = &collectedAt
		m.sensors[sensor.ID] = sensor
	}

	reading.ID = stored.ID
	return &CommitResult{Reading: &stored, Alerts: applied}, nil
}

func (m *MemoryStore) CommitFailure(_ context.Context, sensorID string, mutations []models.AlertMutation) (*CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sensors[sensorID]; !ok {
		return nil, models.ErrNotFound
	}
	return &CommitResult{Alerts: m.applyLocked(mutations)}, nil
}

// insertReadingLocked 保持按 collected_at 升序
func (m *MemoryStore) insertReadingLocked(r models.Reading) {
	rs := m.readings[r.SensorID]
	idx := sort.Search(len(rs), func(i int) bool { return rs[i].CollectedAt.After(r.CollectedAt) })
	rs = append(rs, models.Reading{})
	copy(rs[idx+1:], rs[idx:])
	rs[idx] = r
	m.readings[r.SensorID] = rs
}

func (m *MemoryStore) applyLocked(mutations []models.AlertMutation) []models.AlertMutation {
	applied := make([]models.AlertMutation, 0, len(mutations))
	for _, mut := range mutations {
		switch mut.Action {
		case models.ActionOpen:
			applied = append(applied, m.openLocked(mut.Alert))
		case models.ActionRefresh:
			current, ok := m.alerts[mut.Alert.ID]
			if !ok || !current.Open {
				// 评估之后被人工解除，条件仍成立则重新打开
				fresh := mut.Alert
				fresh.ID = ""
				fresh.Occurrences = 1
				fresh.CreatedAt = fresh.UpdatedAt
				applied = append(applied, m.openLocked(fresh))
				continue
			}
			current.Severity = mut.Alert.Severity
			current.Message = mut.Alert.Message
			current.Occurrences = mut.Alert.Occurrences
			current.UpdatedAt = mut.Alert.UpdatedAt
			m.alerts[current.ID] = current
			applied = append(applied, models.AlertMutation{Action: models.ActionRefresh, Alert: current})
		case models.ActionResolve:
			current, ok := m.alerts[mut.Alert.ID]
			if !ok || !current.Open {
				continue
			}
			current.Open = false
			current.ResolvedAt = mut.Alert.ResolvedAt
			current.UpdatedAt = mut.Alert.UpdatedAt
			m.alerts[current.ID] = current
			applied = append(applied, models.AlertMutation{Action: models.ActionResolve, Alert: current})
		}
	}
	return applied
}

// openLocked 插入新告警；同类型已有 open 告警时转为 refresh
func (m *MemoryStore) openLocked(alert models.Alert) models.AlertMutation {
	for id, existing := range m.alerts {
		if existing.Open && existing.SensorID == alert.SensorID && existing.Type == alert.Type {
			existing.Severity = alert.Severity
			existing.Message = alert.Message
			existing.Occurrences++
			existing.UpdatedAt = alert.UpdatedAt
			m.alerts[id] = existing
			return models.AlertMutation{Action: models.ActionRefresh, Alert: existing}
		}
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.Open = true
	alert.ResolvedAt = nil
	m.alerts[alert.ID] = alert
	return models.AlertMutation{Action: models.ActionOpen, Alert: alert}
}

func sortAlertsNewestFirst(alerts []models.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
}

func cloneSensor(s models.Sensor) models.Sensor {
	if s.LastCollectedAt != nil {
		t := *s.LastCollectedAt
		s.LastCollectedAt = &t
	}
	if s.LocationID != nil {
		v := *s.LocationID
		s.LocationID = &v
	}
	if s.Description != nil {
		v := *s.Description
		s.Description = &v
	}
	return s
}
