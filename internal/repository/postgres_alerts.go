package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const alertColumns = `alert_id, sensor_id, alert_type, severity, message, is_open, occurrences,
	created_at, updated_at, resolved_at`

// PostgresAlertRepository 告警存储 + 结果提交（PostgreSQL）
type PostgresAlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertRepository 创建告警 Repository
func NewPostgresAlertRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db, logger: logger}
}

var (
	_ AlertStore    = (*PostgresAlertRepository)(nil)
	_ OutcomeWriter = (*PostgresAlertRepository)(nil)
)

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a          models.Alert
		alertType  string
		severity   string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.SensorID, &alertType, &severity, &a.Message, &a.Open, &a.Occurrences,
		&a.CreatedAt, &a.UpdatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(alertType)
	a.Severity = models.Severity(severity)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

func collectAlerts(rows *sql.Rows) ([]models.Alert, error) {
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListOpenAlerts 传感器当前所有 open 告警
func (r *PostgresAlertRepository) ListOpenAlerts(ctx context.Context, sensorID string) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE sensor_id = $1 AND is_open ORDER BY created_at DESC`,
		sensorID,
	)
	if err != nil {
		return nil, models.WrapStorage("list open alerts", err)
	}
	alerts, err := collectAlerts(rows)
	if err != nil {
		return nil, models.WrapStorage("list open alerts", err)
	}
	return alerts, nil
}

// ListAlerts 条件查询
func (r *PostgresAlertRepository) ListAlerts(ctx context.Context, filters models.AlertFilters) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filters.SensorID != "" {
		args = append(args, filters.SensorID)
		where = append(where, fmt.Sprintf("sensor_id = $%d", len(args)))
	}
	if filters.OpenOnly {
		where = append(where, "is_open")
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, alert_id`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.WrapStorage("list alerts", err)
	}
	alerts, err := collectAlerts(rows)
	if err != nil {
		return nil, models.WrapStorage("list alerts", err)
	}
	return alerts, nil
}

// GetAlert 获取单条告警
func (r *PostgresAlertRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE alert_id = $1`, alertID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.WrapStorage("get alert", err)
	}
	return a, nil
}

// ResolveAlert 人工解除告警
func (r *PostgresAlertRepository) ResolveAlert(ctx context.Context, alertID string, at time.Time) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE alerts SET is_open = FALSE, resolved_at = $2, updated_at = $2
		WHERE alert_id = $1 AND is_open
		RETURNING `+alertColumns, alertID, at)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		// 不存在或已解除
		return r.GetAlert(ctx, alertID)
	}
	if err != nil {
		return nil, models.WrapStorage("resolve alert", err)
	}

	r.logger.Info("Alert resolved by operator", zap.String("alert_id", alertID), zap.String("sensor_id", a.SensorID))
	return a, nil
}

// CommitSuccess 在一个事务里写入读数、告警变更和 last_collected_at
func (r *PostgresAlertRepository) CommitSuccess(ctx context.Context, reading *models.Reading, mutations []models.AlertMutation) (*CommitResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.WrapStorage("begin commit", err)
	}
	defer tx.Rollback()

	var payload any
	if len(reading.RawPayload) > 0 {
		payload = string(reading.RawPayload)
	}

	stored := *reading
	err = tx.QueryRowContext(ctx, `
		INSERT INTO readings (sensor_id, collected_at, value, count, unit, quality, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		reading.SensorID, reading.CollectedAt, reading.Value, reading.Count, reading.Unit,
		reading.Quality, string(reading.Status), payload,
	).Scan(&stored.ID)
	if err != nil {
		return nil, models.WrapStorage("insert reading", err)
	}

	applied, err := applyMutations(ctx, tx, mutations)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sensors SET last_collected_at = $2
		WHERE sensor_id = $1 AND (last_collected_at IS NULL OR last_collected_at < $2)`,
		reading.SensorID, reading.CollectedAt,
	)
	if err != nil {
		return nil, models.WrapStorage("update last_collected_at", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return nil, models.WrapStorage("update last_collected_at", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, models.WrapStorage("commit reading", err)
	}

	reading.ID = stored.ID
	return &CommitResult{Reading: &stored, Alerts: applied}, nil
}

// CommitFailure 轮询失败：只写告警变更
func (r *PostgresAlertRepository) CommitFailure(ctx context.Context, sensorID string, mutations []models.AlertMutation) (*CommitResult, error) {
	if len(mutations) == 0 {
		return &CommitResult{}, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.WrapStorage("begin commit", err)
	}
	defer tx.Rollback()

	applied, err := applyMutations(ctx, tx, mutations)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, models.WrapStorage("commit failure outcome", err)
	}

	r.logger.Debug("Failure outcome committed", zap.String("sensor_id", sensorID), zap.Int("alerts", len(applied)))
	return &CommitResult{Alerts: applied}, nil
}

func applyMutations(ctx context.Context, tx *sql.Tx, mutations []models.AlertMutation) ([]models.AlertMutation, error) {
	applied := make([]models.AlertMutation, 0, len(mutations))
	for _, m := range mutations {
		switch m.Action {
		case models.ActionOpen:
			out, err := openAlert(ctx, tx, m.Alert)
			if err != nil {
				return nil, err
			}
			applied = append(applied, out)

		case models.ActionRefresh:
			row := tx.QueryRowContext(ctx, `
				UPDATE alerts SET severity = $2, message = $3, occurrences = $4, updated_at = $5
				WHERE alert_id = $1 AND is_open
				RETURNING `+alertColumns,
				m.Alert.ID, string(m.Alert.Severity), m.Alert.Message, m.Alert.Occurrences, m.Alert.UpdatedAt,
			)
			a, err := scanAlert(row)
			if errors.Is(err, sql.ErrNoRows) {
				// 评估之后被人工解除，条件仍成立则重新打开
				fresh := m.Alert
				fresh.ID = ""
				fresh.CreatedAt = fresh.UpdatedAt
				out, err := openAlert(ctx, tx, fresh)
				if err != nil {
					return nil, err
				}
				applied = append(applied, out)
				continue
			}
			if err != nil {
				return nil, models.WrapStorage("refresh alert", err)
			}
			applied = append(applied, models.AlertMutation{Action: models.ActionRefresh, Alert: *a})

		case models.ActionResolve:
			row := tx.QueryRowContext(ctx, `
				UPDATE alerts SET is_open = FALSE, resolved_at = $2, updated_at = $3
				WHERE alert_id = $1 AND is_open
				RETURNING `+alertColumns,
				m.Alert.ID, m.Alert.ResolvedAt, m.Alert.UpdatedAt,
			)
			a, err := scanAlert(row)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return nil, models.WrapStorage("resolve alert", err)
			}
			applied = append(applied, models.AlertMutation{Action: models.ActionResolve, Alert: *a})
		}
	}
	return applied, nil
}

// openAlert 插入 open 告警；与已有 open 告警冲突时合并为 refresh
func openAlert(ctx context.Context, tx *sql.Tx, alert models.Alert) (models.AlertMutation, error) {
	newID := alert.ID
	if newID == "" {
		newID = uuid.New().String()
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO alerts (alert_id, sensor_id, alert_type, severity, message, is_open, occurrences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, 1, $6, $7)
		ON CONFLICT (sensor_id, alert_type) WHERE is_open
		DO UPDATE SET severity = EXCLUDED.severity, message = EXCLUDED.message,
			occurrences = alerts.occurrences + 1, updated_at = EXCLUDED.updated_at
		RETURNING `+alertColumns,
		newID, alert.SensorID, string(alert.Type), string(alert.Severity), alert.Message, alert.CreatedAt, alert.UpdatedAt,
	)
	a, err := scanAlert(row)
	if err != nil {
		return models.AlertMutation{}, models.WrapStorage("open alert", err)
	}

	action := models.ActionOpen
	if a.ID != newID {
		action = models.ActionRefresh
	}
	return models.AlertMutation{Action: action, Alert: *a}, nil
}
