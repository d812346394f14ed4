package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// StorageChangeMessage announces that a client process wrote a state key.
// It carries only the key; receivers re-read the value from the shared
// state database.
type StorageChangeMessage struct {
	Key       string    `json:"key"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStorageChangeMessage creates a message for key sent by origin.
func NewStorageChangeMessage(key, origin string) *StorageChangeMessage {
	return &StorageChangeMessage{
		Key:       key,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *StorageChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// StorageChangeMessageFromJSON decodes and checks a message.
func StorageChangeMessageFromJSON(data []byte) (*StorageChangeMessage, error) {
	var msg StorageChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Key == "" || msg.Origin == "" {
		return nil, fmt.Errorf("storage change message missing key or origin")
	}
	return &msg, nil
}
