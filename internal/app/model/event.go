package model

import "time"

// LinkEvent is published whenever a link changes lifecycle stage.
type LinkEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	LinkID     string    `json:"link_id"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id,omitempty"`
	State      LinkState `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
}

// RedemptionEvent is an observed join reported by the upstream provider.
type RedemptionEvent struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	LinkEventIssued   = "issued"
	LinkEventRedeemed = "redeemed"
	LinkEventRevoked  = "revoked"
	LinkEventPurged   = "purged"

	LinkEventStreamName    = "LINK_EVENTS"
	LinkEventSubjectPrefix = "links.events"

	RedemptionStreamName     = "REDEMPTIONS"
	RedemptionStreamSubject  = "links.redemptions"
	RedemptionConsumerName   = "redemption-recorder"
	RedemptionStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
