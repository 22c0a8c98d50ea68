package model

import "time"

// Redemption remembers an externally reported redemption by its event key, so a
// redelivered event does not consume a second use.
type Redemption struct {
	Key        string    `db:"key" gorm:"primaryKey;size:128"`
	Token      string    `db:"token" gorm:"type:text;not null"`
	RecordedAt time.Time `db:"recorded_at" gorm:"not null;index"`
}
