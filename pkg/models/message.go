package models

import "time"

// Message represents a message flowing through the retry pipeline
type Message struct {
	Topic     string    `json:"topic"`
	Key       []byte    `json:"key"` // nil means the record had no key
	Value     []byte    `json:"value"`
	Headers   Headers   `json:"headers"`
	Partition int       `json:"partition,omitempty"`
	Offset    int64     `json:"offset,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageHeader constants
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderRetryCount    = "x-retry-count"
	HeaderForwardedAt   = "x-forwarded-at"
)

// NullKey is how a missing record key is represented once it enters the retry cycle
const NullKey = "null"

// KeyString returns the record key, or NullKey when the record had none
func (m *Message) KeyString() string {
	if m.Key == nil {
		return NullKey
	}
	return string(m.Key)
}
