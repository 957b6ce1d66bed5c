package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

// ErrSizeMismatch 上传后云端大小与本地文件不一致，不删除本地数据
var ErrSizeMismatch = errors.New("archive size mismatch")

const objectPrefix = "sensor_data/"

// SensorData 归档所需的数据访问
type SensorData interface {
	ArchivableDays(ctx context.Context, cutoff time.Time, limit int) ([]time.Time, error)
	EachInDay(ctx context.Context, day time.Time, fn func(models.SensorReading) error) (int, error)
	DeleteDay(ctx context.Context, day time.Time, expected int) (int64, error)
}

// ConfigSource 运行期配置读取
type ConfigSource interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
}

// Archiver 冷数据归档：按天导出、上传、校验后删除本地数据，并清理过期云端副本
type Archiver struct {
	data     SensorData
	config   ConfigSource
	newStore StoreFactory
	tmpDir   string
	maxDays  int
	logger   *zap.Logger
	now      func() time.Time
}

// NewArchiver 创建归档器
func NewArchiver(data SensorData, config ConfigSource, newStore StoreFactory, tmpDir string, maxDays int, logger *zap.Logger) *Archiver {
	if maxDays <= 0 {
		maxDays = 7
	}
	return &Archiver{
		data:     data,
		config:   config,
		newStore: newStore,
		tmpDir:   tmpDir,
		maxDays:  maxDays,
		logger:   logger,
		now:      time.Now,
	}
}

// Run 执行一次归档
func (a *Archiver) Run(ctx context.Context) error {
	// 1. 读取 config:archive
	cfg := models.DefaultArchiveConfig()
	found, err := a.config.GetJSON(ctx, cache.KeyArchiveConfig, &cfg)
	if err != nil {
		return err
	}
	if !found || !cfg.Enabled {
		a.logger.Debug("Archive disabled, skipping")
		return nil
	}

	// 2. 创建对象存储客户端
	store, err := a.newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	// 3. 查找早于本地保留期的完整天
	now := a.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cutoff := midnight.AddDate(0, 0, -cfg.LocalRetentionDays)
	days, err := a.data.ArchivableDays(ctx, cutoff, a.maxDays)
	if err != nil {
		return err
	}

	// 4. 逐天归档，单天失败不影响其他天
	failed := 0
	for _, day := range days {
		if err := a.archiveDay(ctx, store, cfg.Format, day); err != nil {
			failed++
			a.logger.Error("Failed to archive day",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err),
			)
		}
	}

	// 5. 清理过期云端副本
	if cfg.CloudRetentionDays > 0 {
		if _, err := a.Purge(ctx, store, cfg.CloudRetentionDays); err != nil {
			a.logger.Error("Failed to purge cloud archives", zap.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to archive %d of %d days", failed, len(days))
	}
	a.logger.Info("Archive completed", zap.Int("days", len(days)), zap.Time("cutoff", cutoff))
	return nil
}

// archiveDay 导出 → 上传 → 校验大小 → 删除
func (a *Archiver) archiveDay(ctx context.Context, store ObjectStore, format string, day time.Time) error {
	key := ObjectKey(day, format)

	// 1. 导出到临时文件
	path, rows, err := a.export(ctx, format, day)
	if path != "" {
		defer os.Remove(path)
	}
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat export file: %w", err)
	}

	// 2. 上传
	if err := store.Upload(ctx, key, path, ContentType(format)); err != nil {
		return err
	}

	// 3. 校验云端大小，不一致时保留本地数据
	remote, err := store.Size(ctx, key)
	if err != nil {
		return err
	}
	if remote != info.Size() {
		return fmt.Errorf("%w: %s local=%d remote=%d", ErrSizeMismatch, key, info.Size(), remote)
	}

	// 4. 删除已归档数据：删除行数须等于导出行数，否则回滚，下次归档重新导出覆盖该对象
	deleted, err := a.data.DeleteDay(ctx, day, rows)
	if err != nil {
		return err
	}

	a.logger.Info("Day archived",
		zap.String("key", key),
		zap.Int("rows", rows),
		zap.Int64("deleted", deleted),
		zap.Int64("bytes", info.Size()),
	)
	return nil
}

func (a *Archiver) export(ctx context.Context, format string, day time.Time) (string, int, error) {
	f, err := os.CreateTemp(a.tmpDir, "sensor_data_*."+Extension(format))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create export file: %w", err)
	}
	path := f.Name()
	defer f.Close()

	w, err := newRowWriter(format, f)
	if err != nil {
		return path, 0, err
	}
	rows, err := a.data.EachInDay(ctx, day, w.Write)
	if err != nil {
		w.Close()
		return path, rows, err
	}
	if err := w.Close(); err != nil {
		return path, rows, err
	}
	if err := f.Close(); err != nil {
		return path, rows, fmt.Errorf("failed to close export file: %w", err)
	}
	return path, rows, nil
}

// Purge 删除最后修改时间早于云端保留期的归档对象，返回删除数量
func (a *Archiver) Purge(ctx context.Context, store ObjectStore, retentionDays int) (int, error) {
	objects, err := store.List(ctx, objectPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := a.now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := store.Remove(ctx, obj.Key); err != nil {
			a.logger.Warn("Failed to remove expired archive", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		a.logger.Info("Expired cloud archives purged", zap.Int("removed", removed))
	}
	return removed, nil
}
