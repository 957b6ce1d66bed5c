package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

// DevicesRepository 设备表仓库
type DevicesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDevicesRepository 创建设备仓库
func NewDevicesRepository(db *sql.DB, logger *zap.Logger) *DevicesRepository {
	return &DevicesRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertSeen 首次上行自动注册设备，否则更新 last_seen 并置为 online
func (r *DevicesRepository) UpsertSeen(ctx context.Context, sn string, seenAt time.Time) error {
	query := `
		INSERT INTO devices (sn, name, status, last_seen)
		VALUES ($1, $1, $2, $3)
		ON CONFLICT (sn) DO UPDATE SET
			status = $2,
			last_seen = $3
	`

	if _, err := r.db.ExecContext(ctx, query, sn, models.DeviceStatusOnline, seenAt); err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", sn, err)
	}
	return nil
}

// ListStatuses 查询所有设备的状态快照
func (r *DevicesRepository) ListStatuses(ctx context.Context) ([]models.DeviceStatus, error) {
	query := `SELECT sn, status, last_seen FROM devices ORDER BY sn`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.DeviceStatus
	for rows.Next() {
		var d models.DeviceStatus
		var status sql.NullString
		if err := rows.Scan(&d.SN, &status, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.Status = status.String
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

// SetStatus 更新设备状态
func (r *DevicesRepository) SetStatus(ctx context.Context, sn, status string) error {
	query := `UPDATE devices SET status = $2 WHERE sn = $1`

	if _, err := r.db.ExecContext(ctx, query, sn, status); err != nil {
		return fmt.Errorf("failed to set status of %s: %w", sn, err)
	}
	return nil
}

// MarkOffline 仅当设备仍为 online 且 last_seen 早于 staleBefore 时置为 offline；返回是否发生跳变
func (r *DevicesRepository) MarkOffline(ctx context.Context, sn string, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE devices SET status = $2
		WHERE sn = $1
			AND status = $3
			AND (last_seen IS NULL OR last_seen < $4)
	`

	result, err := r.db.ExecContext(ctx, query, sn, models.DeviceStatusOffline, models.DeviceStatusOnline, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s offline: %w", sn, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// ListMirrors 查询用于缓存镜像的设备元数据
func (r *DevicesRepository) ListMirrors(ctx context.Context) ([]models.DeviceMirror, error) {
	query := `
		SELECT sn, name, high_limit, low_limit, calib_k, calib_b, calib_t_comp
		FROM devices
		ORDER BY sn
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list device mirrors: %w", err)
	}
	defer rows.Close()

	var mirrors []models.DeviceMirror
	for rows.Next() {
		var m models.DeviceMirror
		var name sql.NullString
		var k, b, tCoef sql.NullFloat64
		if err := rows.Scan(&m.SN, &name, &m.HighLimit, &m.LowLimit, &k, &b, &tCoef); err != nil {
			return nil, fmt.Errorf("failed to scan device mirror: %w", err)
		}

		m.Name = m.SN
		if name.Valid && name.String != "" {
			m.Name = name.String
		}
		m.Coefficients = models.IdentityCoefficients()
		if k.Valid {
			m.Coefficients.K = k.Float64
		}
		if b.Valid {
			m.Coefficients.B = b.Float64
		}
		if tCoef.Valid {
			m.Coefficients.TCoef = tCoef.Float64
		}
		mirrors = append(mirrors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device mirrors: %w", err)
	}
	return mirrors, nil
}
