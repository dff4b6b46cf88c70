package broker

import (
	"context"
	"encoding/json"
	"time"
)

// Activity kinds carried in Message.Kind.
const (
	KindEdit     = "edit"
	KindJoin     = "join"
	KindLeave    = "leave"
	KindSnapshot = "snapshot"
)

// Message is one collaboration activity record published for downstream
// consumers such as audit or analytics services.
type Message struct {
	Kind         string          `json:"kind"`
	DocumentID   string          `json:"document_id"`
	ServerID     string          `json:"server_id"`
	ConnectionID string          `json:"connection_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// MarshalBinary implements the encoding.BinaryMarshaler interface for Redis.
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface for Redis.
func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}

// MessageBroker publishes and consumes activity messages.
type MessageBroker interface {
	Publish(ctx context.Context, channel string, message Message) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
	Type() string
	Close() error
}
