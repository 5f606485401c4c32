package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"plantwatch-collector/internal/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema 建表（幂等）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Postgres unique_violation
const pqUniqueViolation = "23505"

// mapPQError 把唯一约束冲突映射为校验错误，其余包装为 StorageError
func mapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		if pqErr.Constraint == "uq_sensors_address" {
			return models.NewValidationError("host", "address already registered to another sensor")
		}
		return models.NewValidationError("", "duplicate record: %s", pqErr.Constraint)
	}
	return models.WrapStorage(op, err)
}
