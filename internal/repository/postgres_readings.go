package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"plantwatch-collector/internal/models"

	"go.uber.org/zap"
)

const readingColumns = `id, sensor_id, collected_at, value, count, unit, quality, status, raw_payload`

// PostgresReadingRepository 读数存储（PostgreSQL）
type PostgresReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresReadingRepository 创建读数 Repository
func NewPostgresReadingRepository(db *sql.DB, logger *zap.Logger) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db, logger: logger}
}

var _ ReadingStore = (*PostgresReadingRepository)(nil)

func scanReading(row rowScanner) (*models.Reading, error) {
	var (
		rd      models.Reading
		value   sql.NullFloat64
		unit    sql.NullString
		status  string
		payload []byte
	)
	if err := row.Scan(&rd.ID, &rd.SensorID, &rd.CollectedAt, &value, &rd.Count, &unit, &rd.Quality, &status, &payload); err != nil {
		return nil, err
	}
	if value.Valid {
		v := value.Float64
		rd.Value = &v
	}
	if unit.Valid {
		rd.Unit = &unit.String
	}
	rd.Status = models.ReadingStatus(status)
	if len(payload) > 0 {
		rd.RawPayload = payload
	}
	return &rd, nil
}

// QueryReadings 时间范围查询，按 collected_at 升序
func (r *PostgresReadingRepository) QueryReadings(ctx context.Context, sensorID string, filters models.ReadingFilters) ([]models.Reading, error) {
	where := []string{"sensor_id = $1"}
	args := []any{sensorID}

	if filters.Start != nil {
		args = append(args, *filters.Start)
		where = append(where, fmt.Sprintf("collected_at >= $%d", len(args)))
	}
	if filters.End != nil {
		args = append(args, *filters.End)
		where = append(where, fmt.Sprintf("collected_at <= $%d", len(args)))
	}

	query := `SELECT ` + readingColumns + ` FROM readings WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY collected_at ASC, id ASC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.WrapStorage("query readings", err)
	}
	defer rows.Close()

	var out []models.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, models.WrapStorage("scan reading", err)
		}
		out = append(out, *rd)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapStorage("query readings", err)
	}
	return out, nil
}

// LatestReading 最近一条读数
func (r *PostgresReadingRepository) LatestReading(ctx context.Context, sensorID string) (*models.Reading, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE sensor_id = $1 ORDER BY collected_at DESC, id DESC LIMIT 1`,
		sensorID,
	)
	rd, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.WrapStorage("latest reading", err)
	}
	return rd, nil
}

// DeleteReadingsBefore 删除早于 cutoff 的读数，返回删除条数
func (r *PostgresReadingRepository) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE collected_at < $1`, cutoff)
	if err != nil {
		return 0, models.WrapStorage("delete readings", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.WrapStorage("delete readings", err)
	}
	return n, nil
}
