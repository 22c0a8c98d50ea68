package model

import "time"

// LinkState is the persisted lifecycle stage of an invite link.
type LinkState string

const (
	// LinkStateIssued marks a link that may still be redeemed.
	LinkStateIssued LinkState = "issued"
	// LinkStateRevoked marks a link that is (or is being) revoked upstream. Terminal for the row.
	LinkStateRevoked LinkState = "revoked"
	// LinkStatePurged is never stored; it reports links removed by the retention sweep.
	LinkStatePurged LinkState = "purged"
)

// Link is a single invite link issued for a resource.
type Link struct {
	ID                string     `db:"id" gorm:"primaryKey;size:36"`
	ResourceID        string     `db:"resource_id" gorm:"size:64;not null;index"`
	Token             string     `db:"token" gorm:"type:text;not null;uniqueIndex"`
	IssuedTo          string     `db:"issued_to" gorm:"size:64"`
	State             LinkState  `db:"state" gorm:"size:16;not null;default:issued;index:idx_links_state_expiry,priority:1;index:idx_links_state_usage,priority:1"`
	ExpiresAt         time.Time  `db:"expires_at" gorm:"not null;index:idx_links_state_expiry,priority:2"`
	UsesConsumed      int        `db:"uses_consumed" gorm:"not null;default:0;index:idx_links_state_usage,priority:2"`
	UsageBudget       int        `db:"usage_budget" gorm:"not null;default:1;index:idx_links_state_usage,priority:3"`
	RevokedAt         *time.Time `db:"revoked_at" gorm:"index"`
	ProviderRevokedAt *time.Time `db:"provider_revoked_at"`
	// RevokeAttempts counts failed upstream revocations; NextRevokeAt holds the
	// record back from sweeps until then.
	RevokeAttempts int        `db:"revoke_attempts" gorm:"not null;default:0"`
	NextRevokeAt   *time.Time `db:"next_revoke_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// Active reports whether the link has not been deactivated.
func (l *Link) Active() bool {
	return l.State == LinkStateIssued
}

// Redeemable reports whether a redemption at now would be accepted.
func (l *Link) Redeemable(now time.Time) bool {
	return l.Active() && now.Before(l.ExpiresAt) && l.UsesConsumed < l.UsageBudget
}

// Stale reports whether the reaper should revoke the link upstream.
func (l *Link) Stale(now time.Time) bool {
	if l.Active() {
		return !now.Before(l.ExpiresAt) || l.UsesConsumed >= l.UsageBudget
	}
	return l.ProviderRevokedAt == nil
}

// RevokeDue reports whether a failed revocation has waited out its retry delay.
func (l *Link) RevokeDue(now time.Time) bool {
	return l.NextRevokeAt == nil || !now.Before(*l.NextRevokeAt)
}
