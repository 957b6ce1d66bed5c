package alarm

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/metrics"
	"mcs-iot/internal/models"
	"mcs-iot/internal/notify"

	"go.uber.org/zap"
)

// AlarmLog 报警记录持久化
type AlarmLog interface {
	Insert(ctx context.Context, event *models.AlarmEvent) (int64, error)
}

// Dispatcher 通知分发（异步）
type Dispatcher interface {
	Submit(msg notify.Message)
}

// Options 报警中心参数
type Options struct {
	SystemName       string
	DefaultDebounce  time.Duration
	HighLimitDefault float64
	BatLimitDefault  int
	RSSIFloorDefault int
	PresenceTTL      time.Duration
}

// Center 报警中心：阈值判定、消抖、时段过滤、记录与分发
type Center struct {
	cache      *cache.Store
	logs       AlarmLog
	dispatcher Dispatcher
	opts       Options
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu           sync.Mutex
	lastDebounce time.Duration
}

// NewCenter 创建报警中心
func NewCenter(store *cache.Store, logs AlarmLog, dispatcher Dispatcher, opts Options, m *metrics.Metrics, logger *zap.Logger) *Center {
	return &Center{
		cache:      store,
		logs:       logs,
		dispatcher: dispatcher,
		opts:       opts,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Evaluate 对一次上行做 HIGH / LOW / LOW_BAT / WEAK_SIGNAL 判定，返回触发的报警
func (c *Center) Evaluate(ctx context.Context, rc models.ReadingContext) []*models.AlarmEvent {
	th := c.thresholds(ctx, rc.SN)
	general, debounce := c.generalConfig(ctx)

	rssiFloor := c.opts.RSSIFloorDefault
	if general.RSSIFloor != nil {
		rssiFloor = *general.RSSIFloor
	}
	if th.RSSIFloor != nil {
		rssiFloor = *th.RSSIFloor
	}

	var fired []*models.AlarmEvent
	check := func(kind models.AlarmKind, value, threshold float64) {
		if event := c.fire(ctx, rc.SN, th.Name, kind, value, threshold, general, debounce); event != nil {
			fired = append(fired, event)
		}
	}

	// 各类型独立判定
	if rc.PPM > th.HighLimit {
		check(models.AlarmHigh, rc.PPM, th.HighLimit)
	}
	if th.LowLimit != nil && rc.PPM < *th.LowLimit {
		check(models.AlarmLow, rc.PPM, *th.LowLimit)
	}
	if rc.Battery < th.BatLimit {
		check(models.AlarmLowBattery, float64(rc.Battery), float64(th.BatLimit))
	}
	if rc.RSSI != nil && *rc.RSSI < rssiFloor {
		check(models.AlarmWeakSignal, float64(*rc.RSSI), float64(rssiFloor))
	}
	return fired
}

// RaiseOffline 离线报警（仅由离线巡检在 online→offline 跳变时调用）
// value 为距 last_seen 的秒数，threshold 为在线标记 TTL 秒数
func (c *Center) RaiseOffline(ctx context.Context, sn string, lastSeen sql.NullTime) *models.AlarmEvent {
	th := c.thresholds(ctx, sn)
	general, debounce := c.generalConfig(ctx)

	silence := 0.0
	if lastSeen.Valid {
		silence = c.now().Sub(lastSeen.Time).Round(time.Second).Seconds()
	}
	return c.fire(ctx, sn, th.Name, models.AlarmOffline, silence, c.opts.PresenceTTL.Seconds(), general, debounce)
}

// RearmDebounce 将所有未过期的消抖标记调整为新的消抖时间
func (c *Center) RearmDebounce(ctx context.Context, ttl time.Duration) int {
	updated, err := c.cache.RearmDebounce(ctx, ttl)
	if err != nil {
		c.logger.Error("Failed to rearm debounce markers", zap.Error(err))
		return updated
	}
	c.logger.Info("Debounce markers rearmed",
		zap.Duration("ttl", ttl),
		zap.Int("updated", updated),
	)
	return updated
}

// fire 消抖 → 记录 → 时段判定 → 分发；被消抖时返回 nil
func (c *Center) fire(ctx context.Context, sn, name string, kind models.AlarmKind, value, threshold float64,
	general models.AlarmGeneralConfig, debounce time.Duration) *models.AlarmEvent {

	// 1. 消抖（SET NX EX），缓存异常时仍然报警
	armed, err := c.cache.ArmDebounce(ctx, sn, kind, debounce)
	if err != nil {
		c.logger.Warn("Debounce check failed, raising alarm anyway",
			zap.String("sn", sn),
			zap.String("type", string(kind)),
			zap.Error(err),
		)
		armed = true
	}
	if !armed {
		c.metrics.Alarm(string(kind), metrics.AlarmDebounced)
		c.logger.Debug("Alarm debounced",
			zap.String("sn", sn),
			zap.String("type", string(kind)),
		)
		return nil
	}

	// 2. 时段判定
	now := c.now()
	inWindow := InWindow(general, now)

	// 3. 记录报警（失败不影响通知）
	event := &models.AlarmEvent{
		SN:          sn,
		DeviceName:  name,
		Kind:        kind,
		Value:       value,
		Threshold:   threshold,
		TriggeredAt: now,
		Notified:    inWindow,
	}
	if _, err := c.logs.Insert(ctx, event); err != nil {
		c.logger.Error("Failed to log alarm",
			zap.String("sn", sn),
			zap.String("type", string(kind)),
			zap.Error(err),
		)
	}

	c.logger.Warn("ALARM",
		zap.String("sn", sn),
		zap.String("type", string(kind)),
		zap.Float64("value", value),
		zap.Float64("threshold", threshold),
		zap.Bool("notified", inWindow),
	)

	// 4. 分发
	if !inWindow {
		c.metrics.Alarm(string(kind), metrics.AlarmQuietHours)
		c.logger.Info("Alarm outside notification window, not dispatched",
			zap.String("sn", sn),
			zap.String("type", string(kind)),
		)
		return event
	}
	c.metrics.Alarm(string(kind), metrics.AlarmFired)
	c.dispatcher.Submit(notify.NewMessage(c.opts.SystemName, event))
	return event
}

// thresholds 读取设备阈值，失败时使用默认值
func (c *Center) thresholds(ctx context.Context, sn string) models.Thresholds {
	defaults := models.Thresholds{
		Name:      sn,
		HighLimit: c.opts.HighLimitDefault,
		BatLimit:  c.opts.BatLimitDefault,
	}
	th, err := c.cache.GetThresholds(ctx, sn, defaults)
	if err != nil {
		c.logger.Error("Failed to load thresholds, using defaults",
			zap.String("sn", sn),
			zap.Error(err),
		)
		return defaults
	}
	return th
}

// generalConfig 读取 config:alarm_general（兼容旧键 config:alarm_time），返回配置与消抖时间；
// 消抖时间变化时重新设置已有消抖标记
func (c *Center) generalConfig(ctx context.Context) (models.AlarmGeneralConfig, time.Duration) {
	cfg := models.DefaultAlarmGeneralConfig()
	debounce := c.opts.DefaultDebounce

	found, err := c.cache.GetJSON(ctx, cache.KeyAlarmGeneral, &cfg)
	if err == nil && !found {
		found, err = c.cache.GetJSON(ctx, cache.KeyAlarmTime, &cfg)
	}
	if err != nil {
		c.logger.Error("Failed to load alarm config, using defaults", zap.Error(err))
		return models.DefaultAlarmGeneralConfig(), debounce
	}
	if found && cfg.DebounceMinutes > 0 {
		debounce = time.Duration(cfg.DebounceMinutes) * time.Minute
	}

	c.mu.Lock()
	changed := c.lastDebounce != 0 && c.lastDebounce != debounce
	c.lastDebounce = debounce
	c.mu.Unlock()

	if changed {
		c.RearmDebounce(ctx, debounce)
	}
	return cfg, debounce
}
