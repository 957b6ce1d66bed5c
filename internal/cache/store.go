package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	rediscommon "mcs-iot/common/redis"
	"mcs-iot/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Store Redis 键空间访问（校准、阈值、在线标记、实时数据、消抖、运行期配置）
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// NewStore 创建缓存访问层
func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Ping 测试连接
func (s *Store) Ping(ctx context.Context) error {
	return rediscommon.Ping(ctx, s.client)
}

// ============================================
// 设备镜像：calib:{sn} / device:{sn}
// ============================================

// GetCoefficients 读取校准系数；found=false 表示缓存未命中
func (s *Store) GetCoefficients(ctx context.Context, sn string) (models.Coefficients, bool, error) {
	fields, err := s.client.HGetAll(ctx, CalibKey(sn)).Result()
	if err != nil {
		return models.Coefficients{}, false, fmt.Errorf("failed to get coefficients: %w", err)
	}
	if len(fields) == 0 {
		return models.Coefficients{}, false, nil
	}

	c := models.IdentityCoefficients()
	if c.K, err = floatField(fields, "k", c.K); err != nil {
		return models.Coefficients{}, false, err
	}
	if c.B, err = floatField(fields, "b", c.B); err != nil {
		return models.Coefficients{}, false, err
	}
	if c.TCoef, err = floatField(fields, "t_coef", c.TCoef); err != nil {
		return models.Coefficients{}, false, err
	}
	return c, true, nil
}

// GetThresholds 读取设备阈值，未配置的字段保留 defaults 中的值
func (s *Store) GetThresholds(ctx context.Context, sn string, defaults models.Thresholds) (models.Thresholds, error) {
	th := defaults
	if th.Name == "" {
		th.Name = sn
	}

	fields, err := s.client.HGetAll(ctx, DeviceKey(sn)).Result()
	if err != nil {
		return th, fmt.Errorf("failed to get thresholds: %w", err)
	}

	if name := fields["name"]; name != "" {
		th.Name = name
	}
	if th.HighLimit, err = floatField(fields, "high_limit", th.HighLimit); err != nil {
		return defaults, err
	}
	if v := fields["low_limit"]; v != "" {
		low, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return defaults, fmt.Errorf("invalid low_limit %q: %w", v, err)
		}
		th.LowLimit = &low
	}
	if v := fields["bat_limit"]; v != "" {
		bat, err := strconv.Atoi(v)
		if err != nil {
			return defaults, fmt.Errorf("invalid bat_limit %q: %w", v, err)
		}
		th.BatLimit = bat
	}
	if v := fields["rssi_floor"]; v != "" {
		floor, err := strconv.Atoi(v)
		if err != nil {
			return defaults, fmt.Errorf("invalid rssi_floor %q: %w", v, err)
		}
		th.RSSIFloor = &floor
	}
	return th, nil
}

// MirrorDevice 将数据库中的设备元数据写入缓存镜像
func (s *Store) MirrorDevice(ctx context.Context, m models.DeviceMirror) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, CalibKey(m.SN), map[string]interface{}{
		"k":      formatFloat(m.Coefficients.K),
		"b":      formatFloat(m.Coefficients.B),
		"t_coef": formatFloat(m.Coefficients.TCoef),
	})

	device := map[string]interface{}{"name": m.Name}
	// 数据库中为空的阈值从镜像中清除，回落到默认值
	if m.HighLimit.Valid {
		device["high_limit"] = formatFloat(m.HighLimit.Float64)
	} else {
		pipe.HDel(ctx, DeviceKey(m.SN), "high_limit")
	}
	if m.LowLimit.Valid {
		device["low_limit"] = formatFloat(m.LowLimit.Float64)
	} else {
		pipe.HDel(ctx, DeviceKey(m.SN), "low_limit")
	}
	pipe.HSet(ctx, DeviceKey(m.SN), device)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror device %s: %w", m.SN, err)
	}
	return nil
}

// ============================================
// 在线标记与实时数据
// ============================================

// RefreshPresence 刷新在线标记（滑动过期）
func (s *Store) RefreshPresence(ctx context.Context, sn string, ttl time.Duration) error {
	if err := s.client.Set(ctx, OnlineKey(sn), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// ClearPresence 删除在线标记
func (s *Store) ClearPresence(ctx context.Context, sn string) error {
	if err := s.client.Del(ctx, OnlineKey(sn)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// OnlineSet 批量检查在线标记
func (s *Store) OnlineSet(ctx context.Context, sns []string) (map[string]bool, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(sns))
	for i, sn := range sns {
		cmds[i] = pipe.Exists(ctx, OnlineKey(sn))
	}
	if len(sns) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to check presence: %w", err)
		}
	}

	online := make(map[string]bool, len(sns))
	for i, sn := range sns {
		online[sn] = cmds[i].Val() > 0
	}
	return online, nil
}

// SetRealtime 写入实时数据 hash
func (s *Store) SetRealtime(ctx context.Context, sn string, r models.SensorReading, network string) error {
	fields := map[string]interface{}{
		"ppm":  strconv.FormatFloat(r.PPM, 'f', 2, 64),
		"temp": formatFloat(r.Temp),
		"humi": formatFloat(r.Humi),
		"bat":  strconv.Itoa(r.Bat),
		"rssi": strconv.Itoa(r.RSSI),
		"net":  network,
		"ts":   strconv.FormatInt(r.Time.Unix(), 10),
	}
	if err := s.client.HSet(ctx, RealtimeKey(sn), fields).Err(); err != nil {
		return fmt.Errorf("failed to set realtime data: %w", err)
	}
	return nil
}

// TouchLastMessage 记录最近一次收到 MQTT 消息的时间
func (s *Store) TouchLastMessage(ctx context.Context, at time.Time) error {
	ts := strconv.FormatFloat(float64(at.UnixMilli())/1000, 'f', 3, 64)
	return s.client.Set(ctx, KeyLastMessage, ts, 0).Err()
}

// LastMessageTime 最近一次收到 MQTT 消息的时间
func (s *Store) LastMessageTime(ctx context.Context) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, KeyLastMessage).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last message time: %w", err)
	}
	sec, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last message time %q: %w", val, err)
	}
	return time.UnixMilli(int64(sec * 1000)), true, nil
}

// ============================================
// 消抖标记
// ============================================

// ArmDebounce 原子地设置消抖标记；armed=false 表示标记已存在（处于抑制期）
func (s *Store) ArmDebounce(ctx context.Context, sn string, kind models.AlarmKind, ttl time.Duration) (bool, error) {
	armed, err := s.client.SetNX(ctx, DebounceKey(sn, kind), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to arm debounce: %w", err)
	}
	return armed, nil
}

// RearmDebounce 将所有仍在抑制期的消抖标记 TTL 调整为 ttl，返回更新数量
func (s *Store) RearmDebounce(ctx context.Context, ttl time.Duration) (int, error) {
	keys, err := rediscommon.ScanKeys(ctx, s.client, debounceKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan debounce keys: %w", err)
	}

	updated := 0
	for _, key := range keys {
		remaining, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			s.logger.Warn("Failed to read debounce TTL", zap.String("key", key), zap.Error(err))
			continue
		}
		if remaining <= 0 {
			continue
		}
		ok, err := s.client.Expire(ctx, key, ttl).Result()
		if err != nil {
			s.logger.Warn("Failed to rearm debounce key", zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}

// ============================================
// JSON 配置与状态
// ============================================

// GetJSON 读取 JSON 值；found=false 表示键不存在
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 写入 JSON 值（ttl=0 表示不过期）
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetString 写入字符串值
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetDeviceStats 写入在线统计
func (s *Store) SetDeviceStats(ctx context.Context, stats models.DeviceStats) error {
	err := s.client.HSet(ctx, KeyDeviceStats, map[string]interface{}{
		"online":  stats.Online,
		"offline": stats.Offline,
		"total":   stats.Total,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to set device stats: %w", err)
	}
	return nil
}

// 辅助函数

func floatField(fields map[string]string, name string, def float64) (float64, error) {
	v, ok := fields[name]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return f, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
