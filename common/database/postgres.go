package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mcs-iot/common/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	defaultConnectRetries = 5
	defaultConnectWait    = 3 * time.Second
)

// NewPostgresDB 创建PostgreSQL数据库连接
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	// 测试连接
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConnectWithRetry 带重试的数据库连接（容器启动时数据库可能尚未就绪）
func ConnectWithRetry(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	var db *sql.DB
	err := Retry(ctx, cfg.ConnectRetries, cfg.ConnectWait, logger, func() error {
		var err error
		db, err = NewPostgresDB(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Retry 以固定间隔重试 fn，最多 attempts 次
func Retry(ctx context.Context, attempts int, wait time.Duration, logger *zap.Logger, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultConnectRetries
	}
	if wait <= 0 {
		wait = defaultConnectWait
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts {
			break
		}
		logger.Warn("Connect attempt failed, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
