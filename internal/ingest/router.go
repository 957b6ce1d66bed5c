package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/calibration"
	"mcs-iot/internal/metrics"
	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

// 主题类型
const (
	KindUp     = "up"
	KindStatus = "status"
)

// ReadingStore 读数持久化
type ReadingStore interface {
	SaveSensorReading(ctx context.Context, reading models.SensorReading) bool
}

// Evaluator 报警判定
type Evaluator interface {
	Evaluate(ctx context.Context, rc models.ReadingContext) []*models.AlarmEvent
}

// Router 按主题分发上行消息：校准 → 存储 → 实时缓存 → 报警
type Router struct {
	cache       *cache.Store
	calibrator  *calibration.Calibrator
	storage     ReadingStore
	alarms      Evaluator
	presenceTTL time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewRouter 创建路由
func NewRouter(store *cache.Store, calibrator *calibration.Calibrator, storage ReadingStore, alarms Evaluator,
	presenceTTL time.Duration, m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		cache:       store,
		calibrator:  calibrator,
		storage:     storage,
		alarms:      alarms,
		presenceTTL: presenceTTL,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// SplitTopic 解析 {prefix}/{sn}/{kind}；段数不足返回 ok=false
func SplitTopic(topic string) (sn, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[len(parts)-2], parts[len(parts)-1], true
}

// Route 处理一条 MQTT 消息，错误只记录日志不返回
func (r *Router) Route(ctx context.Context, topic string, payload []byte) {
	sn, kind, ok := SplitTopic(topic)
	if !ok || sn == "" {
		r.metrics.MessageDropped("bad_topic")
		return
	}
	r.metrics.MessageReceived(kind)

	switch kind {
	case KindUp:
		r.handleUplink(ctx, sn, payload)
	case KindStatus:
		r.handleStatus(ctx, sn, payload)
	default:
		r.logger.Debug("Ignoring message on unknown topic kind",
			zap.String("topic", topic),
		)
	}
}

// handleUplink 处理数据上行
func (r *Router) handleUplink(ctx context.Context, sn string, payload []byte) {
	received := r.now()

	// 1. 解析报文
	up, err := models.ParseUplink(payload)
	if err != nil {
		r.metrics.MessageDropped("malformed")
		r.logger.Warn("Malformed uplink payload, dropped",
			zap.String("sn", sn),
			zap.Int("payload_size", len(payload)),
			zap.Error(err),
		)
		return
	}

	// 2. 刷新在线标记
	if err := r.cache.RefreshPresence(ctx, sn, r.presenceTTL); err != nil {
		r.logger.Error("Failed to refresh presence", zap.String("sn", sn), zap.Error(err))
	}

	// 3. 校准
	ppm := r.calibrator.Calibrate(ctx, sn, up.VRaw, up.Temperature())
	reading := models.NewSensorReading(sn, &up, ppm, received)

	// 4. 持久化（先于实时缓存写入）
	r.storage.SaveSensorReading(ctx, reading)

	// 5. 实时数据
	if err := r.cache.SetRealtime(ctx, sn, reading, up.Net); err != nil {
		r.logger.Error("Failed to update realtime data", zap.String("sn", sn), zap.Error(err))
	}

	// 6. 报警判定
	rc := models.ReadingContext{
		SN:          sn,
		PPM:         ppm,
		Temperature: reading.Temp,
		Battery:     reading.Bat,
		Network:     up.Net,
	}
	if rssi, ok := up.SignalStrength(); ok {
		rc.RSSI = &rssi
	}
	r.alarms.Evaluate(ctx, rc)

	r.logger.Debug("Uplink processed",
		zap.String("sn", sn),
		zap.Int64("seq", up.Seq),
		zap.Float64("v_raw", up.VRaw),
		zap.Float64("ppm", ppm),
	)
}

// handleStatus 处理设备状态（含遗嘱消息）
func (r *Router) handleStatus(ctx context.Context, sn string, payload []byte) {
	var status models.StatusMessage
	if err := json.Unmarshal(payload, &status); err != nil {
		r.metrics.MessageDropped("malformed")
		r.logger.Warn("Malformed status payload, dropped",
			zap.String("sn", sn),
			zap.Error(err),
		)
		return
	}

	switch status.Status {
	case models.DeviceStatusOffline:
		// 清除在线标记，由下一次离线巡检完成状态切换和报警
		if err := r.cache.ClearPresence(ctx, sn); err != nil {
			r.logger.Error("Failed to clear presence", zap.String("sn", sn), zap.Error(err))
			return
		}
		r.logger.Info("Device reported offline", zap.String("sn", sn))
	case models.DeviceStatusOnline:
		if err := r.cache.RefreshPresence(ctx, sn, r.presenceTTL); err != nil {
			r.logger.Error("Failed to refresh presence", zap.String("sn", sn), zap.Error(err))
		}
	default:
		r.logger.Debug("Ignoring device status",
			zap.String("sn", sn),
			zap.String("status", status.Status),
		)
	}
}
