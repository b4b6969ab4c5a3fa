package service

import (
	"context"
	"fmt"
	"time"

	mqttcommon "github.com/DreamThemeGH/mqtt-history-injector/common/mqtt"
	rediscommon "github.com/DreamThemeGH/mqtt-history-injector/common/redis"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/config"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/consumer"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/httpapi"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/ingest"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/metrics"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/provisioner"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/publisher"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/repository"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/timestamp"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// InjectorService 历史数据注入服务
type InjectorService struct {
	config     *config.Config
	logger     *zap.Logger
	store      *repository.Store
	metrics    *metrics.Metrics
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	consumer   *consumer.MQTTConsumer
	server     *Server
}

// NewInjectorService 创建注入服务
// 记录器数据库校验失败时返回错误，此时不会连接 MQTT
func NewInjectorService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*InjectorService, error) {
	store, err := repository.NewStore(cfg.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if err := store.Verify(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify Home Assistant database: %w", err)
	}

	m := metrics.New()

	// 初始化Redis（可选）
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisCfg := cfg.Redis()
		redisClient = rediscommon.NewRedisClient(&redisCfg)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			// 通知不影响写入，连接会在之后自动重试
			logger.Warn("Redis not reachable, notifications may be lost", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
	}

	pipeline := BuildPipeline(cfg, store, redisClient, m, logger)

	// 初始化MQTT，连接失败时每 10 秒重试
	mqttCfg := cfg.MQTT(cfg.MQTTClientID)
	if mqttCfg.ClientID == "" {
		mqttCfg.ClientID = mqttcommon.NewClientID(config.ServiceName)
	}
	logger.Info("Connecting to MQTT broker",
		zap.String("broker", mqttCfg.Broker),
		zap.String("client_id", mqttCfg.ClientID),
	)
	mqttClient, err := mqttcommon.NewClient(&mqttCfg, logger)
	if err != nil {
		if redisClient != nil {
			rediscommon.Close(redisClient)
		}
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	mqttConsumer := consumer.NewMQTTConsumer(cfg.MQTTTopic, mqttCfg.QoS, mqttClient, pipeline, logger)

	var server *Server
	if cfg.HTTPAddr != "" {
		doctor := httpapi.NewDoctorHandler(store, mqttClient, redisClient, logger)
		server = NewServer(cfg.HTTPAddr, httpapi.NewRouter(doctor, m.Handler()), logger)
	}

	return &InjectorService{
		config:     cfg,
		logger:     logger,
		store:      store,
		metrics:    m,
		redis:      redisClient,
		mqttClient: mqttClient,
		consumer:   mqttConsumer,
		server:     server,
	}, nil
}

// BuildPipeline 按配置组装消息处理管道
// redisClient 为 nil 时不发布通知
func BuildPipeline(cfg *config.Config, store ingest.SessionSource, redisClient *redis.Client, m *metrics.Metrics, logger *zap.Logger) *ingest.Pipeline {
	api := provisioner.NewClient(cfg.APIURL, cfg.APIToken, logger)
	if cfg.APIToken == "" {
		logger.Warn("No Home Assistant API token, missing entities will be created in the database")
	}
	resolver := ingest.NewEntityResolver(api, cfg.CreateMissingEntities, m, time.Now, logger)

	var normalizerOpts []timestamp.Option
	if cfg.FutureTimestamps == config.FutureTimestampsReject {
		normalizerOpts = append(normalizerOpts, timestamp.RejectFuture())
	}
	normalizer := timestamp.NewNormalizer(cfg.MaxTimestampOffsetDays, normalizerOpts...)

	var sink ingest.ObservationSink
	if redisClient != nil {
		sink = publisher.NewStreamPublisher(redisClient, cfg.RedisStream, cfg.RedisMaxLen, logger)
	}

	return ingest.NewPipeline(store, resolver, normalizer, sink, m, ingest.Options{
		DefaultEntityIDPrefix: cfg.DefaultEntityIDPrefix,
		StrictEntities:        cfg.MissingEntityPolicy == config.MissingEntityStrict,
	}, logger)
}

// Start 启动服务
func (s *InjectorService) Start(ctx context.Context) error {
	s.logger.Info("Starting history injector components")

	if s.server != nil {
		if err := s.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	s.logger.Info("History injector started successfully",
		zap.String("topic", s.config.MQTTTopic),
		zap.String("dialect", s.store.Dialect().String()),
	)
	return nil
}

// Stop 停止服务
func (s *InjectorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping history injector")

	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

	if s.redis != nil {
		rediscommon.Close(s.redis)
	}

	s.logger.Info("History injector stopped")
	return nil
}
