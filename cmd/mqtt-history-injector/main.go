package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/common/logger"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/config"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/repository"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/service"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var version = "1.0.0"

func main() {
	configPath := pflag.StringP("config", "c", "", "options file (default $CONFIG_PATH or /data/options.json)")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		log.Printf("%s %s", config.ServiceName, version)
		return
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, config.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting MQTT history injector",
		zap.String("version", version),
		zap.String("mqtt_host", cfg.MQTTHost),
		zap.Int("mqtt_port", cfg.MQTTPort),
		zap.String("mqtt_topic", cfg.MQTTTopic),
		zap.Int("max_timestamp_offset_days", cfg.MaxTimestampOffsetDays),
		zap.Bool("create_missing_entities", cfg.CreateMissingEntities),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建服务，数据库表缺失时直接退出
	injector, err := service.NewInjectorService(ctx, cfg, zapLogger)
	if err != nil {
		if errors.Is(err, repository.ErrSchemaMissing) || errors.Is(err, repository.ErrStoreUnavailable) {
			zapLogger.Fatal("Home Assistant database verification failed. Exiting.", zap.Error(err))
		}
		zapLogger.Fatal("Failed to create history injector", zap.Error(err))
	}

	if err := injector.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start history injector", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := injector.Stop(shutdownCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
