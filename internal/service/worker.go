package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mcs-iot/common/database"
	mqttcommon "mcs-iot/common/mqtt"
	rediscommon "mcs-iot/common/redis"
	"mcs-iot/internal/alarm"
	"mcs-iot/internal/archive"
	"mcs-iot/internal/cache"
	"mcs-iot/internal/calibration"
	"mcs-iot/internal/config"
	"mcs-iot/internal/health"
	"mcs-iot/internal/ingest"
	"mcs-iot/internal/license"
	"mcs-iot/internal/metrics"
	"mcs-iot/internal/notify"
	"mcs-iot/internal/repository"
	"mcs-iot/internal/scheduler"
	"mcs-iot/internal/storage"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerService 采集 worker：MQTT 接入、报警、定时任务
type WorkerService struct {
	config  *config.Config
	logger  *zap.Logger
	db      *sql.DB
	redis   *redis.Client
	metrics *metrics.Metrics

	bridge     *ingest.Bridge
	notifier   *notify.Multi
	scheduler  *scheduler.Scheduler
	guard      *license.Guard
	mqttClient *mqttcommon.Client
	httpServer *http.Server
}

// NewWorkerService 创建 worker 服务
func NewWorkerService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*WorkerService, error) {
	// 1. 数据库（有限次重试，耗尽后返回错误）
	db, err := database.ConnectWithRetry(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := metrics.New()
	store := cache.NewStore(redisClient, logger)

	// 3. Repository
	devicesRepo := repository.NewDevicesRepository(db, logger)
	sensorRepo := repository.NewSensorDataRepository(db, logger)
	alarmLogsRepo := repository.NewAlarmLogsRepository(db, logger)
	maintenanceRepo := repository.NewMaintenanceRepository(db, logger)

	// 4. 通知与报警
	notifier := notify.NewMulti(store,
		notify.NewEmail(nil, logger),
		notify.NewWebhook(cfg.Alarm.NotifyTimeout, logger),
		notify.NewSMS(cfg.Alarm.NotifyTimeout, logger),
		cfg.Alarm.NotifyTimeout, m, logger)

	center := alarm.NewCenter(store, alarmLogsRepo, notifier, alarm.Options{
		SystemName:       cfg.Alarm.SystemName,
		DefaultDebounce:  cfg.Alarm.DefaultDebounce,
		HighLimitDefault: cfg.Alarm.HighLimitDefault,
		BatLimitDefault:  cfg.Alarm.BatLimitDefault,
		RSSIFloorDefault: cfg.Alarm.RSSIFloorDefault,
		PresenceTTL:      cfg.Ingest.PresenceTTL,
	}, m, logger)

	// 5. 接入链路：路由 → 分片队列
	adapter := storage.NewAdapter(db, logger)
	router := ingest.NewRouter(store, calibration.NewCalibrator(store, logger), adapter,
		center, cfg.Ingest.PresenceTTL, m, logger)
	bridge := ingest.NewBridge(router, store, cfg.Ingest.Shards, cfg.Ingest.QueueSize, m, logger)

	// 6. 授权
	guard := license.NewGuard(store, license.Options{
		VerifyURL:   cfg.License.VerifyURL,
		KeyFile:     cfg.License.KeyFile,
		HostIDFile:  cfg.License.HostIDFile,
		GracePeriod: cfg.License.GracePeriod,
		DevMode:     cfg.License.DevMode,
		Version:     cfg.License.Version,
	}, logger)

	// 7. 定时任务
	sched := scheduler.New(m, logger)
	tasks := scheduler.NewTasks(devicesRepo, adapter, maintenanceRepo, store, center, cfg.Ingest.PresenceTTL, logger)
	checker := health.NewChecker(db, store, logger)
	archiver := archive.NewArchiver(sensorRepo, store, archive.NewMinioStore,
		cfg.Archive.TmpDir, cfg.Archive.MaxDaysPerRun, logger)

	if err := registerTasks(sched, &cfg.Schedule, tasks, checker, archiver, guard); err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &WorkerService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		metrics:    m,
		bridge:     bridge,
		notifier:   notifier,
		scheduler:  sched,
		guard:      guard,
		httpServer: &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}, nil
}

func registerTasks(s *scheduler.Scheduler, cfg *config.ScheduleConfig, tasks *scheduler.Tasks,
	checker *health.Checker, archiver *archive.Archiver, guard *license.Guard) error {
	verifyLicense := func(ctx context.Context) error {
		_, err := guard.Verify(ctx)
		return err
	}

	for _, err := range []error{
		s.Every(scheduler.TaskOfflineSweep, cfg.OfflineSweepInterval, tasks.OfflineSweep),
		s.Every(scheduler.TaskHealth, cfg.HealthInterval, checker.Publish),
		s.Every(scheduler.TaskMirrorSync, cfg.MirrorSyncInterval, tasks.MirrorSync),
		s.DailyAt(scheduler.TaskArchive, cfg.ArchiveAt, archiver.Run),
		s.DailyAt(scheduler.TaskLicense, cfg.LicenseAt, verifyLicense),
		s.DailyAt(scheduler.TaskMaintenance, cfg.MaintenanceAt, tasks.Maintenance),
	} {
		if err != nil {
			return fmt.Errorf("failed to register task: %w", err)
		}
	}
	return nil
}

// Start 启动服务，阻塞直到 ctx 结束或指标服务异常退出
func (s *WorkerService) Start(ctx context.Context) error {
	s.logger.Info("Starting worker service components")

	// 1. 授权校验（不阻止启动）
	s.guard.StartupCheck(ctx)

	// 2. 启动处理协程，再订阅，保证回调只做入队
	s.bridge.Start()

	// 3. 连接 MQTT 并订阅
	client, err := mqttcommon.NewClient(ctx, &s.config.MQTT, s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	s.mqttClient = client

	prefix := s.config.Ingest.TopicPrefix
	for _, topic := range []string{prefix + "/+/up", prefix + "/+/status"} {
		if err := client.Subscribe(topic, s.config.MQTT.QoS, s.bridge.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	// 4. 定时任务
	s.scheduler.Start(ctx)

	// 5. 指标服务
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Metrics server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	s.logger.Info("Worker service started successfully")
	return g.Wait()
}

// Stop 停止服务：调度器 → MQTT → 处理队列与待发通知 → 数据库 → Redis
func (s *WorkerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping worker service")

	// 1. 停止调度器并等待正在执行的任务
	s.scheduler.Stop()

	// 2. 断开 MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 3. 排空处理队列与待发通知
	if err := s.bridge.Stop(ctx); err != nil {
		s.logger.Error("Error draining dispatch queues", zap.Error(err))
	}
	if err := s.notifier.Wait(ctx); err != nil {
		s.logger.Error("Error waiting for pending notifications", zap.Error(err))
	}

	// 4. 关闭数据库
	if s.db != nil {
		database.Close(s.db)
	}

	// 5. 关闭 Redis
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}

	s.logger.Info("Worker service stopped")
	return nil
}
