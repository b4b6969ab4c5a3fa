package publisher

import (
	"context"
	"fmt"

	"github.com/DreamThemeGH/mqtt-history-injector/internal/models"

	rediscommon "github.com/DreamThemeGH/mqtt-history-injector/common/redis"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 将写入成功的历史状态发布到 Redis Streams
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamPublisher 创建发布器
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish 发布一条事件
func (p *StreamPublisher) Publish(ctx context.Context, event models.ObservationEvent) error {
	streamID, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, event)
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("Published observation to Redis Streams",
		zap.String("entity_id", event.EntityID),
		zap.Int64("state_id", event.StateID),
		zap.String("stream", p.stream),
		zap.String("stream_id", streamID),
	)
	return nil
}
