package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "mcs-iot/common/logger"
	"mcs-iot/internal/config"
	"mcs-iot/internal/service"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "mcs-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mcs-worker service",
		zap.String("version", cfg.License.Version),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("topic_prefix", cfg.Ingest.TopicPrefix),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 创建服务（数据库重试耗尽时退出）
	svc, err := service.NewWorkerService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create worker service", zap.Error(err))
	}

	// 4. 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 5. 启动服务
	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// 6. 等待信号或错误
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
	}
	cancel()

	// 7. 优雅关闭
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
