package consumer

import (
	"context"
	"fmt"

	mqttcommon "github.com/DreamThemeGH/mqtt-history-injector/common/mqtt"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/ingest"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Processor 单条消息处理接口
type Processor interface {
	Process(ctx context.Context, topic string, payload []byte) ingest.Result
}

// MQTTConsumer 订阅历史数据主题并交给处理管道
type MQTTConsumer struct {
	topic      string
	qos        byte
	subscriber Subscriber
	pipeline   Processor
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(topic string, qos byte, subscriber Subscriber, pipeline Processor, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		topic:      topic,
		qos:        qos,
		subscriber: subscriber,
		pipeline:   pipeline,
		logger:     logger,
	}
}

// Start 订阅主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to history topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	res := c.pipeline.Process(context.Background(), topic, payload)
	if !res.Completed() {
		return fmt.Errorf("failed to process historical data for %s: %w", topic, res.Err)
	}

	c.logger.Info("Successfully processed historical data",
		zap.String("topic", topic),
		zap.String("entity_id", res.EntityID),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed),
	)
	return nil
}
