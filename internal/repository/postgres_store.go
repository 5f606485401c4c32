package repository

import (
	"database/sql"

	"go.uber.org/zap"
)

// PostgresStore 组合三个 PostgreSQL Repository，实现 Store
type PostgresStore struct {
	*PostgresSensorRepository
	*PostgresReadingRepository
	*PostgresAlertRepository
}

// NewPostgresStore 创建 PostgreSQL 存储
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		PostgresSensorRepository:  NewPostgresSensorRepository(db, logger),
		PostgresReadingRepository: NewPostgresReadingRepository(db, logger),
		PostgresAlertRepository:   NewPostgresAlertRepository(db, logger),
	}
}

var _ Store = (*PostgresStore)(nil)
