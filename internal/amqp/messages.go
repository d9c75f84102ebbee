package amqp

import (
	"encoding/json"
	"time"
)

// Snapshot event actions.
const (
	ActionUpload = "upload"
	ActionDelete = "delete"
)

// SnapshotEventMessage announces that a snapshot was uploaded or deleted.
// It carries only the date and action; the worker reads the file from the
// database when it needs the content.
type SnapshotEventMessage struct {
	Date      string    `json:"date"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSnapshotEventMessage creates an event for a date and action.
func NewSnapshotEventMessage(date, action string) *SnapshotEventMessage {
	return &SnapshotEventMessage{
		Date:      date,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *SnapshotEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SnapshotEventMessageFromJSON creates a message from JSON bytes.
func SnapshotEventMessageFromJSON(data []byte) (*SnapshotEventMessage, error) {
	var msg SnapshotEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
