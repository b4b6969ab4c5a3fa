package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SessionSource 获取数据库会话
type SessionSource interface {
	Acquire(ctx context.Context) (*repository.Session, error)
}

// ConnectionChecker MQTT 连接状态
type ConnectionChecker interface {
	IsConnected() bool
}

// DoctorHandler 诊断处理器
type DoctorHandler struct {
	store       SessionSource
	mqtt        ConnectionChecker
	redisClient *redis.Client
	now         func() time.Time
	logger      *zap.Logger
}

// NewDoctorHandler 创建诊断处理器，mqtt 和 redisClient 可以为 nil
func NewDoctorHandler(store SessionSource, mqtt ConnectionChecker, redisClient *redis.Client, logger *zap.Logger) *DoctorHandler {
	return &DoctorHandler{
		store:       store,
		mqtt:        mqtt,
		redisClient: redisClient,
		now:         time.Now,
		logger:      logger,
	}
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck 检查记录器数据库、MQTT 和 Redis
func (d *DoctorHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	services := make(map[string]string)

	if err := d.checkStore(ctx); err != nil {
		status = "unhealthy"
		services["database"] = "unhealthy: " + err.Error()
	} else {
		services["database"] = "healthy"
	}

	switch {
	case d.mqtt == nil:
		services["mqtt"] = "not configured"
	case d.mqtt.IsConnected():
		services["mqtt"] = "healthy"
	default:
		status = "unhealthy"
		services["mqtt"] = "unhealthy: disconnected"
	}

	// Redis 只用于通知，不影响整体状态
	if d.redisClient != nil {
		if err := d.redisClient.Ping(ctx).Err(); err != nil {
			services["redis"] = "degraded: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
		d.logger.Warn("Health check failed", zap.Any("services", services))
	}

	writeJSON(w, statusCode, HealthCheckResponse{
		Status:    status,
		Timestamp: d.now(),
		Services:  services,
	})
}

// Ready 就绪检查：MQTT 已连接
func (d *DoctorHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ready := d.mqtt != nil && d.mqtt.IsConnected()

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"ready": ready,
	})
}

func (d *DoctorHandler) checkStore(ctx context.Context) error {
	sess, err := d.store.Acquire(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Ping(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
