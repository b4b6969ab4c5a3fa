package ingest

import "errors"

var (
	// ErrMissingEntityID 主题和负载中都无法确定实体ID
	ErrMissingEntityID = errors.New("missing entity id")
	// ErrMissingField 记录缺少 state 或 timestamp
	ErrMissingField = errors.New("missing required field")
	// ErrEntityUnusable 实体不存在且无法创建（严格模式下拒绝消息）
	ErrEntityUnusable = errors.New("entity not usable")
	// ErrNoRecordWritten 消息中没有任何记录写入成功
	ErrNoRecordWritten = errors.New("no record written")
)
