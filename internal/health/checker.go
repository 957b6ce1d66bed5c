package health

import (
	"context"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

const (
	// mqttFreshness 最近一次消息在该时间内视为 MQTT 正常
	mqttFreshness = 120 * time.Second
	// SnapshotTTL system:health 过期时间
	SnapshotTTL = 600 * time.Second
)

// 组件名称
const (
	ComponentDatabase = "database"
	ComponentRedis    = "redis"
	ComponentMQTT     = "mqtt"
	ComponentLicense  = "license"
)

// Pinger 数据库连通性检查
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker 系统健康检查
type Checker struct {
	db     Pinger
	cache  *cache.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewChecker 创建健康检查
func NewChecker(db Pinger, store *cache.Store, logger *zap.Logger) *Checker {
	return &Checker{
		db:     db,
		cache:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Snapshot 采集数据库、Redis、MQTT、授权状态；数据库或 Redis 不可用时整体为 unhealthy
func (c *Checker) Snapshot(ctx context.Context) models.HealthSnapshot {
	now := c.now()
	snap := models.HealthSnapshot{
		Status:     models.HealthHealthy,
		Timestamp:  now.Format(time.RFC3339),
		Components: make(map[string]models.ComponentHealth),
	}

	// 1. 数据库
	if err := c.db.PingContext(ctx); err != nil {
		snap.Components[ComponentDatabase] = models.ComponentHealth{Status: models.ComponentDown, Error: err.Error()}
		snap.Status = models.HealthUnhealthy
	} else {
		snap.Components[ComponentDatabase] = models.ComponentHealth{Status: models.ComponentUp}
	}

	// 2. Redis
	if err := c.cache.Ping(ctx); err != nil {
		snap.Components[ComponentRedis] = models.ComponentHealth{Status: models.ComponentDown, Error: err.Error()}
		snap.Status = models.HealthUnhealthy
		snap.Components[ComponentMQTT] = models.ComponentHealth{Status: models.ComponentUnknown}
		snap.Components[ComponentLicense] = models.ComponentHealth{Status: models.ComponentUnknown}
		return snap
	}
	snap.Components[ComponentRedis] = models.ComponentHealth{Status: models.ComponentUp}

	// 3. MQTT：按最近一次消息时间判断
	snap.Components[ComponentMQTT] = c.mqttHealth(ctx, now)

	// 4. 授权
	snap.Components[ComponentLicense] = c.licenseHealth(ctx)

	return snap
}

// Publish 采集并写入 system:health
func (c *Checker) Publish(ctx context.Context) error {
	snap := c.Snapshot(ctx)
	if snap.Status != models.HealthHealthy {
		c.logger.Warn("System health degraded", zap.Any("components", snap.Components))
	}
	return c.cache.SetJSON(ctx, cache.KeySystemHealth, snap, SnapshotTTL)
}

func (c *Checker) mqttHealth(ctx context.Context, now time.Time) models.ComponentHealth {
	last, found, err := c.cache.LastMessageTime(ctx)
	if err != nil {
		return models.ComponentHealth{Status: models.ComponentUnknown, Error: err.Error()}
	}
	if !found {
		return models.ComponentHealth{Status: models.ComponentUnknown}
	}

	age := now.Sub(last)
	ageSec := int64(age / time.Second)
	status := models.ComponentUp
	if age >= mqttFreshness {
		status = models.ComponentWarning
	}
	return models.ComponentHealth{Status: status, LastMessageAgeSec: &ageSec}
}

func (c *Checker) licenseHealth(ctx context.Context) models.ComponentHealth {
	var ls models.LicenseStatus
	found, err := c.cache.GetJSON(ctx, cache.KeyLicenseStatus, &ls)
	if err != nil {
		return models.ComponentHealth{Status: models.ComponentUnknown, Error: err.Error()}
	}
	if !found {
		return models.ComponentHealth{Status: models.ComponentUnknown}
	}

	switch {
	case !ls.Valid:
		return models.ComponentHealth{Status: models.ComponentDown, Detail: ls.Status}
	case ls.Status == models.LicenseGrace:
		return models.ComponentHealth{Status: models.ComponentWarning, Detail: ls.Status}
	default:
		return models.ComponentHealth{Status: models.ComponentUp, Detail: ls.Status}
	}
}
