package halcyon

import (
	"encoding/json"
	"time"
)

const (
	// KindLike is the record collection for likes.
	KindLike = "net.halcyon.feed.like"
)

// RecordEvent is a single create or delete observed on the event log.
type RecordEvent struct {
	Kind        string          `json:"kind"`
	URI         string          `json:"uri"`
	ContentHash string          `json:"contentHash"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Deleted     bool            `json:"deleted"`
	ObservedAt  time.Time       `json:"observedAt"`
}

// LikeRecord is the payload of a net.halcyon.feed.like record.
type LikeRecord struct {
	Subject     string    `json:"subject"`
	SubjectHash string    `json:"subjectHash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Event is the envelope published on the signal channel.
type Event struct {
	Type      string          `json:"type"`
	Recipient string          `json:"recipient,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	EventNotificationCreate  = "notification.create"
	EventNotificationRetract = "notification.retract"
)

type HalcyonEndpoint struct {
	Template string    `json:"template"`
	Method   string    `json:"method"`
	Query    *[]string `json:"query,omitempty"`
}

type WellKnownHalcyon struct {
	Version   string                     `json:"version"`
	Domain    string                     `json:"domain"`
	Endpoints map[string]HalcyonEndpoint `json:"endpoints"`
}
