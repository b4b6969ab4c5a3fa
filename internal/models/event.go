package models

import "encoding/json"

// ObservationEvent 写入成功的历史状态通知
type ObservationEvent struct {
	EntityID    string          `json:"entity_id"`
	StateID     int64           `json:"state_id"`
	State       string          `json:"state"`
	LastChanged string          `json:"last_changed"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
	Topic       string          `json:"topic"`
	IngestedAt  int64           `json:"ingested_at"`
}
