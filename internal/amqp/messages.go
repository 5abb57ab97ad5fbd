package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"tutorledger/internal/core"
)

type EventType string

const (
	ArchiveCreated EventType = "archive.created"
	ArchiveDeleted EventType = "archive.deleted"
)

// ArchiveEventMessage tells the export worker that an archive appeared or went away.
// It carries identifiers only; the worker loads the archive from the database.
type ArchiveEventMessage struct {
	Type      EventType `json:"type"`
	ArchiveID string    `json:"archive_id"`
	UserID    string    `json:"user_id"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

// NewArchiveEvent builds an event for the given archive.
func NewArchiveEvent(t EventType, a core.Archive) *ArchiveEventMessage {
	return &ArchiveEventMessage{
		Type:      t,
		ArchiveID: a.ID,
		UserID:    a.UserID,
		Year:      a.Year,
		Month:     a.Month,
		Timestamp: time.Now(),
	}
}

// Key returns the archived month.
func (m *ArchiveEventMessage) Key() core.MonthKey {
	return core.MonthKey{Year: m.Year, Month: m.Month}
}

// ToJSON converts the message to JSON bytes
func (m *ArchiveEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ArchiveEventFromJSON decodes and validates a message.
func ArchiveEventFromJSON(data []byte) (*ArchiveEventMessage, error) {
	var msg ArchiveEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case ArchiveCreated, ArchiveDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.ArchiveID == "" || msg.UserID == "" {
		return nil, fmt.Errorf("event without archive or user id")
	}
	return &msg, nil
}
