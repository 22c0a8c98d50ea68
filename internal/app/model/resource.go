package model

import "time"

// Resource is a gated destination (a channel) that invite links are issued for.
type Resource struct {
	ID           string        `db:"id" gorm:"primaryKey;size:64"`
	Name         string        `db:"name" gorm:"type:text;not null"`
	Active       bool          `db:"active" gorm:"not null;default:true;index"`
	LinkValidity time.Duration `db:"link_validity" gorm:"not null"`
	UsageBudget  int           `db:"usage_budget" gorm:"not null;default:1"`
	TotalJoins   int64         `db:"total_joins" gorm:"not null;default:0"`
	CreatedAt    time.Time     `db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time     `db:"updated_at" gorm:"autoUpdateTime"`
}
