package models

import (
	"time"
)

// Like is the projection row for an indexed like. The (creator, subject)
// logical key is indexed but deliberately not unique: supersession is an
// application-level invariant, not a storage constraint.
type Like struct {
	URI         string    `json:"uri" gorm:"primaryKey;type:text"`
	ContentHash string    `json:"contentHash" gorm:"type:text;not null"`
	Creator     string    `json:"creator" gorm:"type:text;not null;index:idx_like_logical_key"`
	Subject     string    `json:"subject" gorm:"type:text;not null;index:idx_like_logical_key;index:idx_like_subject"`
	SubjectHash string    `json:"subjectHash" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt" gorm:"type:timestamp with time zone;not null"`
	IndexedAt   time.Time `json:"indexedAt" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
	SortAt      time.Time `json:"sortAt" gorm:"type:timestamp with time zone;not null;index"`
}

// LikeCount holds the authoritative per-subject count, recomputed from Like
// rows on every update.
type LikeCount struct {
	Subject string `json:"subject" gorm:"primaryKey;type:text"`
	Count   int64  `json:"count" gorm:"not null;default:0"`
}
