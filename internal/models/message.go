package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrDecode 消息负载无法解析
var ErrDecode = errors.New("decode error")

// IngestRecord 单条历史记录
// Attributes 保留调用方的原始 JSON（已压缩），按字节比较去重
type IngestRecord struct {
	State      string
	Timestamp  string
	Attributes json.RawMessage
	// Err 记录级解码错误，只影响本条记录
	Err error
}

// HasAttributes 属性为空对象、null 或缺失时返回 false
func (r IngestRecord) HasAttributes() bool {
	return !isEmptyJSON(r.Attributes)
}

// AttributeMap 将属性解析为 map，供远程创建实体和事件发布使用
func (r IngestRecord) AttributeMap() map[string]any {
	attrs := make(map[string]any)
	if r.HasAttributes() {
		_ = json.Unmarshal(r.Attributes, &attrs)
	}
	return attrs
}

// Payload 消息负载：Single 或 Batch，解码时确定
type Payload interface {
	Records() []IngestRecord
	payload()
}

// Single 单条记录负载
type Single struct {
	Record IngestRecord
}

// Records 返回唯一的一条记录
func (s Single) Records() []IngestRecord { return []IngestRecord{s.Record} }
func (Single) payload()                  {}

// Batch 批量记录负载，顺序与消息中一致
type Batch struct {
	Items []IngestRecord
}

// Records 返回全部记录
func (b Batch) Records() []IngestRecord { return b.Items }
func (Batch) payload()                  {}

// Message 解码后的 MQTT 消息
type Message struct {
	EntityID string // 负载中的 entity_id（可选）
	DeviceID string // 负载中的 device_id（可选）
	Payload  Payload
	// attributes 消息级属性，批量且 records 为空时用于创建实体
	attributes json.RawMessage
}

// SampleAttributes 返回用于创建实体的代表性属性
// 批量消息取第一条记录的属性，否则取消息自身的属性
func (m *Message) SampleAttributes() json.RawMessage {
	if b, ok := m.Payload.(Batch); ok && len(b.Items) > 0 {
		return b.Items[0].Attributes
	}
	return m.attributes
}

type wireRecord struct {
	State      json.RawMessage `json:"state"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Attributes json.RawMessage `json:"attributes"`
}

type wireMessage struct {
	wireRecord
	EntityID json.RawMessage `json:"entity_id"`
	DeviceID json.RawMessage `json:"device_id"`
	Records  json.RawMessage `json:"records"`
}

// DecodeMessage 解析 MQTT 负载
// 负载必须是 JSON 对象；包含 records 数组时为 Batch，否则整个负载就是一条记录
func DecodeMessage(payload []byte) (*Message, error) {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrDecode)
	}

	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// 消息级属性无效时不用于创建实体，记录本身的错误在 toRecord 中保留
	attrs, _ := compactAttributes(wire.Attributes)

	msg := &Message{
		EntityID:   scalarText(wire.EntityID),
		DeviceID:   scalarText(wire.DeviceID),
		attributes: attrs,
	}

	if isJSONArray(wire.Records) {
		var items []json.RawMessage
		if err := json.Unmarshal(wire.Records, &items); err != nil {
			return nil, fmt.Errorf("%w: records: %v", ErrDecode, err)
		}
		batch := Batch{Items: make([]IngestRecord, 0, len(items))}
		for i, raw := range items {
			var item wireRecord
			if err := json.Unmarshal(raw, &item); err != nil {
				batch.Items = append(batch.Items, IngestRecord{
					Err: fmt.Errorf("%w: record %d: %v", ErrDecode, i, err),
				})
				continue
			}
			batch.Items = append(batch.Items, toRecord(item))
		}
		msg.Payload = batch
		return msg, nil
	}

	msg.Payload = Single{Record: toRecord(wire.wireRecord)}
	return msg, nil
}

func toRecord(w wireRecord) IngestRecord {
	attrs, err := compactAttributes(w.Attributes)
	return IngestRecord{
		State:      scalarText(w.State),
		Timestamp:  stringValue(w.Timestamp),
		Attributes: attrs,
		Err:        err,
	}
}

// compactAttributes 去掉空白但保留键顺序
func compactAttributes(raw json.RawMessage) (json.RawMessage, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: attributes must be an object", ErrDecode)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: attributes: %v", ErrDecode, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// scalarText 字符串原样返回，数字和布尔值取其字面文本，其他类型为空
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		return stringValue(raw)
	case 't', 'f':
		if b, err := strconv.ParseBool(string(raw)); err == nil {
			return strconv.FormatBool(b)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw)
	}
	return ""
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return true
	}
	var obj map[string]json.RawMessage
	if raw[0] == '{' && json.Unmarshal(raw, &obj) == nil && len(obj) == 0 {
		return true
	}
	return false
}
