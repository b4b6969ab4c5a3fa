package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/internal/metrics"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/models"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/provisioner"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/repository"

	"go.uber.org/zap"
)

// Provisioner 远程创建实体
type Provisioner interface {
	Provision(ctx context.Context, entityID string, attributes map[string]any) error
}

// ResolveEntityID 确定消息对应的实体ID
// 优先使用主题第三段，其次负载中的 entity_id，最后用前缀拼接 device_id
func ResolveEntityID(topic string, msg *models.Message, prefix string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[2] != "" {
		return parts[2]
	}
	if msg.EntityID != "" {
		return msg.EntityID
	}
	if msg.DeviceID != "" {
		return prefix + msg.DeviceID
	}
	return ""
}

// EntityResolver 确保实体存在，不存在时先走 API 创建，失败再直接写数据库
type EntityResolver struct {
	provisioner   Provisioner
	createMissing bool
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        *zap.Logger
}

// NewEntityResolver 创建实体解析器，provisioner 可以为 nil
func NewEntityResolver(p Provisioner, createMissing bool, m *metrics.Metrics, now func() time.Time, logger *zap.Logger) *EntityResolver {
	if now == nil {
		now = time.Now
	}
	return &EntityResolver{
		provisioner:   p,
		createMissing: createMissing,
		metrics:       m,
		now:           now,
		logger:        logger,
	}
}

// EnsureEntity 返回实体是否可用于写入
func (r *EntityResolver) EnsureEntity(ctx context.Context, sess *repository.Session, entityID string, sample json.RawMessage) bool {
	exists, err := sess.States.EntityExists(ctx, entityID)
	if err != nil {
		r.logger.Error("Failed to check entity", zap.String("entity_id", entityID), zap.Error(err))
		return false
	}
	if exists {
		return true
	}

	if !r.createMissing {
		r.logger.Warn("Entity does not exist and creation is disabled", zap.String("entity_id", entityID))
		return false
	}

	r.logger.Info("Entity does not exist, creating it", zap.String("entity_id", entityID))

	if r.provisioner != nil {
		err := r.provisioner.Provision(ctx, entityID, attributeMap(sample))
		if err == nil {
			r.metrics.EntityProvisioned(metrics.PathAPI)
			return true
		}
		r.logAPIFallback(entityID, err)
	}

	created, err := sess.States.InsertPlaceholder(ctx, entityID, string(sample), r.now().UTC())
	if err != nil {
		r.logger.Error("Failed to create entity in database",
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		r.metrics.EntityProvisioned(metrics.PathUnavailable)
		return false
	}

	if created {
		r.logger.Info("Created entity in database", zap.String("entity_id", entityID))
		r.metrics.EntityProvisioned(metrics.PathDirect)
	}
	return true
}

func (r *EntityResolver) logAPIFallback(entityID string, err error) {
	fields := []zap.Field{zap.String("entity_id", entityID), zap.Error(err)}
	switch {
	case errors.Is(err, provisioner.ErrAlreadyExists):
		r.logger.Info("Entity reported by API but has no history, creating in database", fields...)
	case errors.Is(err, provisioner.ErrUnsupportedDomain), errors.Is(err, provisioner.ErrInvalidEntityID):
		r.logger.Debug("Entity cannot be created via API, creating in database", fields...)
	default:
		r.logger.Warn("Failed to create entity via API, creating in database", fields...)
	}
}

func attributeMap(raw json.RawMessage) map[string]any {
	return models.IngestRecord{Attributes: raw}.AttributeMap()
}
