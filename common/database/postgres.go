package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-attendance/common/config"

	_ "github.com/lib/pq"
)

// OpenPostgresDB 创建连接池但不建立连接（离线启动时使用，连通性由 Ping 决定）
func OpenPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	return db, nil
}

// NewPostgresDB 创建PostgreSQL数据库连接并立即检查连通性
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := OpenPostgresDB(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
