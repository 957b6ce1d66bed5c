package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// MaintainedTables 每日 VACUUM ANALYZE 的表
var MaintainedTables = []string{"sensor_data", "alarm_logs", "devices"}

// MaintenanceRepository 存储维护
type MaintenanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMaintenanceRepository 创建维护仓库
func NewMaintenanceRepository(db *sql.DB, logger *zap.Logger) *MaintenanceRepository {
	return &MaintenanceRepository{
		db:     db,
		logger: logger,
	}
}

// Vacuum 逐表执行 VACUUM ANALYZE，单表失败不影响其他表；返回成功的表数
func (r *MaintenanceRepository) Vacuum(ctx context.Context) int {
	done := 0
	for _, table := range MaintainedTables {
		// 表名来自固定白名单
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("VACUUM ANALYZE %s", table)); err != nil {
			r.logger.Error("Failed to vacuum table",
				zap.String("table", table),
				zap.Error(err),
			)
			continue
		}
		done++
	}
	return done
}

// Ping 测试数据库连接
func (r *MaintenanceRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
