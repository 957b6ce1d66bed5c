package repository

import (
	"context"
	"database/sql"
	"fmt"

	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

// AlarmLogsRepository 报警记录仓库
type AlarmLogsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmLogsRepository 创建报警记录仓库
func NewAlarmLogsRepository(db *sql.DB, logger *zap.Logger) *AlarmLogsRepository {
	return &AlarmLogsRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 写入报警记录，返回自增 id
func (r *AlarmLogsRepository) Insert(ctx context.Context, event *models.AlarmEvent) (int64, error) {
	query := `
		INSERT INTO alarm_logs (sn, type, value, threshold, triggered_at, notified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		event.SN,
		string(event.Kind),
		event.Value,
		event.Threshold,
		event.TriggeredAt,
		event.Notified,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alarm log for %s: %w", event.SN, err)
	}

	event.ID = id
	return id, nil
}
