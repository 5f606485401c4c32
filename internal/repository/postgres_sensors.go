package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sensorColumns = `sensor_id, name, kind, host, port, is_active, collection_interval_sec,
	timeout_sec, location_id, description, last_collected_at, created_at`

// PostgresSensorRepository 传感器注册表（PostgreSQL）
type PostgresSensorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSensorRepository 创建传感器 Repository
func NewPostgresSensorRepository(db *sql.DB, logger *zap.Logger) *PostgresSensorRepository {
	return &PostgresSensorRepository{db: db, logger: logger}
}

var _ SensorRegistry = (*PostgresSensorRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(row rowScanner) (*models.Sensor, error) {
	var (
		s             models.Sensor
		kind          string
		locationID    sql.NullString
		description   sql.NullString
		lastCollected sql.NullTime
	)
	if err := row.Scan(
		&s.ID, &s.Name, &kind, &s.Host, &s.Port, &s.Active, &s.IntervalSec,
		&s.TimeoutSec, &locationID, &description, &lastCollected, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.Kind = models.SensorKind(kind)
	if locationID.Valid {
		s.LocationID = &locationID.String
	}
	if description.Valid {
		s.Description = &description.String
	}
	if lastCollected.Valid {
		t := lastCollected.Time
		s.LastCollectedAt = &t
	}
	return &s, nil
}

// ListSensors 按名称排序返回全部传感器
func (r *PostgresSensorRepository) ListSensors(ctx context.Context) ([]models.Sensor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY name, sensor_id`)
	if err != nil {
		return nil, models.WrapStorage("list sensors", err)
	}
	defer rows.Close()

	var out []models.Sensor
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, models.WrapStorage("scan sensor", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapStorage("list sensors", err)
	}
	return out, nil
}

// GetSensor 获取单个传感器
func (r *PostgresSensorRepository) GetSensor(ctx context.Context, sensorID string) (*models.Sensor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE sensor_id = $1`, sensorID)
	s, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.WrapStorage("get sensor", err)
	}
	return s, nil
}

// FindByAddress 按地址查找
func (r *PostgresSensorRepository) FindByAddress(ctx context.Context, host string, port int) (*models.Sensor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE host = $1 AND port = $2`, host, port)
	s, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.WrapStorage("find sensor by address", err)
	}
	return s, nil
}

// CreateSensor 注册传感器，ID 为空时自动生成
func (r *PostgresSensorRepository) CreateSensor(ctx context.Context, sensor *models.Sensor) error {
	if sensor.ID == "" {
		sensor.ID = uuid.New().String()
	}
	if sensor.CreatedAt.IsZero() {
		sensor.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sensors (
			sensor_id, name, kind, host, port, is_active, collection_interval_sec,
			timeout_sec, location_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sensor.ID, sensor.Name, string(sensor.Kind), sensor.Host, sensor.Port, sensor.Active,
		sensor.IntervalSec, sensor.TimeoutSec, sensor.LocationID, sensor.Description, sensor.CreatedAt,
	)
	if err != nil {
		return mapPQError("create sensor", err)
	}

	r.logger.Info("Sensor registered",
		zap.String("sensor_id", sensor.ID),
		zap.String("kind", string(sensor.Kind)),
	)
	return nil
}

// UpdateSensor 更新配置（不修改 last_collected_at 与 created_at）
func (r *PostgresSensorRepository) UpdateSensor(ctx context.Context, sensor *models.Sensor) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sensors SET
			name = $2, kind = $3, host = $4, port = $5, is_active = $6,
			collection_interval_sec = $7, timeout_sec = $8, location_id = $9, description = $10
		WHERE sensor_id = $1`,
		sensor.ID, sensor.Name, string(sensor.Kind), sensor.Host, sensor.Port, sensor.Active,
		sensor.IntervalSec, sensor.TimeoutSec, sensor.LocationID, sensor.Description,
	)
	if err != nil {
		return mapPQError("update sensor", err)
	}
	return requireAffected(res, "update sensor")
}

// SetActive 启用/停用
func (r *PostgresSensorRepository) SetActive(ctx context.Context, sensorID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sensors SET is_active = $2 WHERE sensor_id = $1`, sensorID, active)
	if err != nil {
		return models.WrapStorage("set sensor active", err)
	}
	return requireAffected(res, "set sensor active")
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return models.WrapStorage(op, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
