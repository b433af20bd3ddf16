package domain

import "time"

// Like is the projection row for a net.halcyon.feed.like record.
type Like struct {
	URI         string    `json:"uri"`
	ContentHash string    `json:"contentHash"`
	Creator     string    `json:"creator"`
	Subject     string    `json:"subject"`
	SubjectHash string    `json:"subjectHash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	IndexedAt   time.Time `json:"indexedAt"`
	SortAt      time.Time `json:"sortAt"`
}

// AggregateCount is the authoritative per-subject like count.
type AggregateCount struct {
	Subject string `json:"subject"`
	Count   int64  `json:"count"`
}

const ReasonLike = "like"

// NotificationIntent is the notification state a newly indexed record implies.
// It is a transient value handed to the signal channel, never persisted here.
type NotificationIntent struct {
	Recipient     string    `json:"recipient"`
	Actor         string    `json:"actor"`
	RecordURI     string    `json:"recordURI"`
	RecordHash    string    `json:"recordHash"`
	Reason        string    `json:"reason"`
	ReasonSubject string    `json:"reasonSubject"`
	SortAt        time.Time `json:"sortAt"`
}

// DeleteNotifs is the notification outcome of removing a row. When the row was
// superseded by a replacement, RetractURIs stays empty: ownership of the
// notification transfers to the replacement.
type DeleteNotifs struct {
	Intents     []NotificationIntent `json:"intents,omitempty"`
	RetractURIs []string             `json:"retractURIs,omitempty"`
}
