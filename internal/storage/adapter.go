package storage

import (
	"context"
	"database/sql"
	"time"

	"mcs-iot/internal/models"
	"mcs-iot/internal/repository"

	"go.uber.org/zap"
)

// Adapter 存储适配器：设备注册与读数写入，写失败只记录日志，不向接入链路传播
type Adapter struct {
	db       *sql.DB
	devices  *repository.DevicesRepository
	readings *repository.SensorDataRepository
	logger   *zap.Logger
}

// NewAdapter 创建存储适配器
func NewAdapter(db *sql.DB, logger *zap.Logger) *Adapter {
	return &Adapter{
		db:       db,
		devices:  repository.NewDevicesRepository(db, logger),
		readings: repository.NewSensorDataRepository(db, logger),
		logger:   logger,
	}
}

// SaveSensorReading 注册/刷新设备并写入读数；返回读数是否写入成功
func (a *Adapter) SaveSensorReading(ctx context.Context, reading models.SensorReading) bool {
	// 1. 设备 upsert（失败不阻止读数写入）
	if err := a.devices.UpsertSeen(ctx, reading.SN, reading.Time); err != nil {
		a.logger.Error("Failed to upsert device",
			zap.String("sn", reading.SN),
			zap.String("operation", "upsert_device"),
			zap.Error(err),
		)
	}

	// 2. 写入读数
	if err := a.readings.Insert(ctx, reading); err != nil {
		a.logger.Error("Failed to insert sensor data",
			zap.String("sn", reading.SN),
			zap.String("operation", "insert_sensor_data"),
			zap.Error(err),
		)
		return false
	}
	return true
}

// MarkStatus 更新设备状态
func (a *Adapter) MarkStatus(ctx context.Context, sn, status string) error {
	if err := a.devices.SetStatus(ctx, sn, status); err != nil {
		a.logger.Error("Failed to update device status",
			zap.String("sn", sn),
			zap.String("status", status),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// MarkOffline 条件置为 offline，返回是否发生 online → offline 跳变
func (a *Adapter) MarkOffline(ctx context.Context, sn string, staleBefore time.Time) (bool, error) {
	changed, err := a.devices.MarkOffline(ctx, sn, staleBefore)
	if err != nil {
		a.logger.Error("Failed to update device status",
			zap.String("sn", sn),
			zap.String("status", models.DeviceStatusOffline),
			zap.Error(err),
		)
		return false, err
	}
	return changed, nil
}

// Ping 测试数据库连接
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
