package models

import "time"

// HistoryEntry is one committed try-on result.
type HistoryEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	SubjectImage   []byte    `json:"-"`
	GarmentImage   []byte    `json:"-"`
	ResultImage    []byte    `json:"-"`
	ResultMimeType string    `json:"result_mime_type"`

	SubjectKey string `json:"subject_key,omitempty"`
	GarmentKey string `json:"garment_key,omitempty"`
	ResultKey  string `json:"result_key,omitempty"`
}

// HistoryRecord is the index row of a HistoryEntry. Image bytes live in a
// blob store under the three keys.
type HistoryRecord struct {
	ID             string `gorm:"primaryKey"`
	CreatedAtNano  int64  `gorm:"index;not null"`
	SubjectKey     string `gorm:"not null"`
	GarmentKey     string `gorm:"not null"`
	ResultKey      string `gorm:"not null"`
	ResultMimeType string `gorm:"not null"`
}

// UsageEvent is one paid-for attempt in the usage ledger.
type UsageEvent struct {
	ID     uint  `gorm:"primarykey"`
	UsedAt int64 `gorm:"index;not null"`
}
