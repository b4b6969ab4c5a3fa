package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/internal/metrics"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/models"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/repository"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/timestamp"

	"go.uber.org/zap"
)

// Status 消息处理的终态
type Status int

const (
	// StatusCompleted 至少写入一条记录
	StatusCompleted Status = iota + 1
	// StatusRejected 没有写入任何记录
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return metrics.OutcomeCompleted
	case StatusRejected:
		return metrics.OutcomeRejected
	default:
		return "unknown"
	}
}

// Result 单条消息的处理结果
type Result struct {
	Status   Status
	EntityID string
	Written  int
	Failed   int
	Err      error
}

// Completed 是否至少写入一条记录
func (r Result) Completed() bool {
	return r.Status == StatusCompleted
}

// SessionSource 按消息获取数据库会话
type SessionSource interface {
	Acquire(ctx context.Context) (*repository.Session, error)
}

// ObservationSink 写入成功后的通知目标
type ObservationSink interface {
	Publish(ctx context.Context, event models.ObservationEvent) error
}

// Options 管道配置
type Options struct {
	DefaultEntityIDPrefix string
	// StrictEntities 实体不可用时拒绝整条消息，否则仍尝试写入
	StrictEntities bool
	Now            func() time.Time
}

// Pipeline 单条 MQTT 消息的处理流程
type Pipeline struct {
	store      SessionSource
	resolver   *EntityResolver
	normalizer *timestamp.Normalizer
	sink       ObservationSink
	metrics    *metrics.Metrics
	opts       Options
	logger     *zap.Logger
}

// NewPipeline 创建处理管道，sink 和 m 可以为 nil
func NewPipeline(
	store SessionSource,
	resolver *EntityResolver,
	normalizer *timestamp.Normalizer,
	sink ObservationSink,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		store:      store,
		resolver:   resolver,
		normalizer: normalizer,
		sink:       sink,
		metrics:    m,
		opts:       opts,
		logger:     logger,
	}
}

// Process 处理一条消息
// 每条消息独立获取并关闭数据库会话；单条记录失败不影响同批次的其他记录
func (p *Pipeline) Process(ctx context.Context, topic string, payload []byte) (res Result) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveMessage(res.Status.String(), time.Since(start))
		p.metrics.AddRecords(metrics.RecordWritten, res.Written)
		p.metrics.AddRecords(metrics.RecordFailed, res.Failed)
	}()

	msg, err := models.DecodeMessage(payload)
	if err != nil {
		p.logger.Error("Invalid JSON payload",
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return rejected(res, err)
	}

	res.EntityID = ResolveEntityID(topic, msg, p.opts.DefaultEntityIDPrefix)
	if res.EntityID == "" {
		p.logger.Error("Could not determine entity_id from topic or payload", zap.String("topic", topic))
		return rejected(res, ErrMissingEntityID)
	}

	sess, err := p.store.Acquire(ctx)
	if err != nil {
		p.logger.Error("Failed to open Home Assistant database", zap.String("entity_id", res.EntityID), zap.Error(err))
		return rejected(res, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Warn("Failed to close database session", zap.Error(err))
		}
	}()

	if !p.resolver.EnsureEntity(ctx, sess, res.EntityID, msg.SampleAttributes()) {
		if p.opts.StrictEntities {
			p.logger.Error("Entity not usable, rejecting message", zap.String("entity_id", res.EntityID))
			return rejected(res, fmt.Errorf("%w: %s", ErrEntityUnusable, res.EntityID))
		}
		p.logger.Warn("Entity not usable, writing history anyway", zap.String("entity_id", res.EntityID))
	}

	var lastErr error
	for i, record := range msg.Payload.Records() {
		if err := p.writeRecord(ctx, sess, topic, res.EntityID, record); err != nil {
			p.logger.Error("Failed to process record",
				zap.String("entity_id", res.EntityID),
				zap.Int("index", i),
				zap.Error(err),
			)
			res.Failed++
			lastErr = err
			continue
		}
		res.Written++
	}

	if res.Written == 0 {
		if lastErr != nil {
			return rejected(res, errors.Join(ErrNoRecordWritten, lastErr))
		}
		return rejected(res, ErrNoRecordWritten)
	}

	res.Status = StatusCompleted
	return res
}

// writeRecord 校验、规范化并写入一条记录
func (p *Pipeline) writeRecord(ctx context.Context, sess *repository.Session, topic, entityID string, record models.IngestRecord) error {
	if record.Err != nil {
		return record.Err
	}
	if record.State == "" || record.Timestamp == "" {
		return fmt.Errorf("%w: state and timestamp are required", ErrMissingField)
	}

	instant, err := p.normalizer.Normalize(record.Timestamp)
	if err != nil {
		return err
	}

	stateID, err := sess.States.AppendObservation(ctx, repository.Observation{
		EntityID:    entityID,
		State:       record.State,
		Instant:     instant,
		SharedAttrs: string(record.Attributes),
	})
	if err != nil {
		return err
	}

	changed := timestamp.Format(instant)
	p.logger.Info("Inserted historical state",
		zap.String("entity_id", entityID),
		zap.String("state", record.State),
		zap.String("last_changed", changed),
	)

	p.publish(ctx, models.ObservationEvent{
		EntityID:    entityID,
		StateID:     stateID,
		State:       record.State,
		LastChanged: changed,
		Attributes:  record.Attributes,
		Topic:       topic,
		IngestedAt:  p.opts.Now().Unix(),
	})
	return nil
}

// publish 通知失败只记录日志
func (p *Pipeline) publish(ctx context.Context, event models.ObservationEvent) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, event); err != nil {
		p.logger.Warn("Failed to publish observation",
			zap.String("entity_id", event.EntityID),
			zap.Int64("state_id", event.StateID),
			zap.Error(err),
		)
	}
}

func rejected(res Result, err error) Result {
	res.Status = StatusRejected
	res.Err = err
	return res
}
