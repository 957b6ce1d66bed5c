package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/models"
	"mcs-iot/internal/repository"

	"go.uber.org/zap"
)

// 任务名称
const (
	TaskOfflineSweep = "offline_sweep"
	TaskHealth       = "health_check"
	TaskMirrorSync   = "mirror_sync"
	TaskArchive      = "archive"
	TaskLicense      = "license_check"
	TaskMaintenance  = "db_maintenance"
)

// OfflineRaiser 离线报警
type OfflineRaiser interface {
	RaiseOffline(ctx context.Context, sn string, lastSeen sql.NullTime) *models.AlarmEvent
}

// StatusWriter 设备状态写入（存储适配器）
type StatusWriter interface {
	MarkStatus(ctx context.Context, sn, status string) error
	MarkOffline(ctx context.Context, sn string, staleBefore time.Time) (bool, error)
}

// Tasks 调度器内置任务
type Tasks struct {
	devices     *repository.DevicesRepository
	status      StatusWriter
	maintenance *repository.MaintenanceRepository
	cache       *cache.Store
	alarms      OfflineRaiser
	presenceTTL time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewTasks 创建内置任务
func NewTasks(devices *repository.DevicesRepository, status StatusWriter, maintenance *repository.MaintenanceRepository,
	store *cache.Store, alarms OfflineRaiser, presenceTTL time.Duration, logger *zap.Logger) *Tasks {
	return &Tasks{
		devices:     devices,
		status:      status,
		maintenance: maintenance,
		cache:       store,
		alarms:      alarms,
		presenceTTL: presenceTTL,
		now:         time.Now,
		logger:      logger,
	}
}

// OfflineSweep 对比在线标记与数据库状态：
// 标记存在且状态非 online → 置为 online；标记缺失且状态为 online → 置为 offline 并报警（每次跳变一次）
func (t *Tasks) OfflineSweep(ctx context.Context) error {
	// 1. 查询所有设备
	devices, err := t.devices.ListStatuses(ctx)
	if err != nil {
		return err
	}

	sns := make([]string, len(devices))
	for i, d := range devices {
		sns[i] = d.SN
	}

	// 2. 批量检查在线标记
	online, err := t.cache.OnlineSet(ctx, sns)
	if err != nil {
		return err
	}

	// 3. 逐个设备对账，单个设备失败不影响其他设备（写失败由存储适配器记录）
	staleBefore := t.now().Add(-t.presenceTTL)
	stats := models.DeviceStats{Total: len(devices)}
	for _, d := range devices {
		if online[d.SN] {
			stats.Online++
			if d.Status != models.DeviceStatusOnline {
				if err := t.status.MarkStatus(ctx, d.SN, models.DeviceStatusOnline); err != nil {
					continue
				}
				t.logger.Info("Device back online", zap.String("sn", d.SN))
			}
			continue
		}

		stats.Offline++
		if d.Status != models.DeviceStatusOnline {
			continue
		}
		// 条件更新：查询之后又收到上行的设备不会被覆盖；仅跳变成功时报警，失败时下次巡检重试
		changed, err := t.status.MarkOffline(ctx, d.SN, staleBefore)
		if err != nil {
			continue
		}
		if !changed {
			t.logger.Debug("Device seen during sweep, offline skipped", zap.String("sn", d.SN))
			continue
		}
		t.logger.Warn("Device offline", zap.String("sn", d.SN))
		t.alarms.RaiseOffline(ctx, d.SN, d.LastSeen)
	}

	// 4. 在线统计
	if err := t.cache.SetDeviceStats(ctx, stats); err != nil {
		return err
	}
	return nil
}

// MirrorSync 将数据库中的系数、阈值、名称同步到 calib:{sn} / device:{sn}
func (t *Tasks) MirrorSync(ctx context.Context) error {
	mirrors, err := t.devices.ListMirrors(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, m := range mirrors {
		if err := t.cache.MirrorDevice(ctx, m); err != nil {
			failed++
			t.logger.Error("Failed to mirror device", zap.String("sn", m.SN), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to mirror %d of %d devices", failed, len(mirrors))
	}

	t.logger.Debug("Device cache mirror synced", zap.Int("devices", len(mirrors)))
	return nil
}

// Maintenance 每日 VACUUM ANALYZE
func (t *Tasks) Maintenance(ctx context.Context) error {
	done := t.maintenance.Vacuum(ctx)
	if done < len(repository.MaintainedTables) {
		return fmt.Errorf("vacuum completed on %d of %d tables", done, len(repository.MaintainedTables))
	}
	t.logger.Info("Database maintenance completed")
	return nil
}
