package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

// ErrRowCountMismatch 删除行数与导出行数不一致（导出后又写入了该天的数据）
var ErrRowCountMismatch = errors.New("deleted row count does not match exported rows")

// SensorDataRepository 传感器读数仓库（sensor_data 只追加）
type SensorDataRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSensorDataRepository 创建读数仓库
func NewSensorDataRepository(db *sql.DB, logger *zap.Logger) *SensorDataRepository {
	return &SensorDataRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 插入一条读数
func (r *SensorDataRepository) Insert(ctx context.Context, reading models.SensorReading) error {
	query := `
		INSERT INTO sensor_data (time, sn, v_raw, ppm, temp, humi, bat, rssi, err_code, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.Time,
		reading.SN,
		reading.VRaw,
		reading.PPM,
		reading.Temp,
		reading.Humi,
		reading.Bat,
		reading.RSSI,
		reading.ErrCode,
		reading.Seq,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sensor data for %s: %w", reading.SN, err)
	}
	return nil
}

// ArchivableDays 早于 cutoff 的完整自然日（最旧的在前，最多 limit 个）
func (r *SensorDataRepository) ArchivableDays(ctx context.Context, cutoff time.Time, limit int) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date_trunc('day', time) AS day
		FROM sensor_data
		WHERE time < $1
		ORDER BY day
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archivable days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate days: %w", err)
	}
	return days, nil
}

// EachInDay 按时间顺序遍历 [day, day+24h) 内的读数
func (r *SensorDataRepository) EachInDay(ctx context.Context, day time.Time, fn func(models.SensorReading) error) (int, error) {
	query := `
		SELECT time, sn, v_raw, ppm, temp, humi, bat, rssi, err_code, seq
		FROM sensor_data
		WHERE time >= $1 AND time < $2
		ORDER BY time, sn
	`

	rows, err := r.db.QueryContext(ctx, query, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to query sensor data: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var s models.SensorReading
		var temp, humi sql.NullFloat64
		var bat, rssi, errCode, seq sql.NullInt64
		if err := rows.Scan(&s.Time, &s.SN, &s.VRaw, &s.PPM, &temp, &humi, &bat, &rssi, &errCode, &seq); err != nil {
			return count, fmt.Errorf("failed to scan sensor data: %w", err)
		}
		s.Temp = temp.Float64
		s.Humi = humi.Float64
		s.Bat = int(bat.Int64)
		s.RSSI = int(rssi.Int64)
		s.ErrCode = int(errCode.Int64)
		s.Seq = seq.Int64

		if err := fn(s); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed to iterate sensor data: %w", err)
	}
	return count, nil
}

// DeleteDay 在事务中删除 [day, day+24h) 内的读数；删除行数与已导出行数 expected 不一致时回滚
func (r *SensorDataRepository) DeleteDay(ctx context.Context, day time.Time, expected int) (int64, error) {
	query := `DELETE FROM sensor_data WHERE time >= $1 AND time < $2`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to delete sensor data: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected != int64(expected) {
		return affected, fmt.Errorf("%w: expected=%d deleted=%d", ErrRowCountMismatch, expected, affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return affected, nil
}
