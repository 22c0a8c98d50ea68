package model

import "time"

// User is someone who requests and redeems invite links.
type User struct {
	ID            string    `db:"id" gorm:"primaryKey;size:64"`
	Username      string    `db:"username" gorm:"size:64"`
	FirstName     string    `db:"first_name" gorm:"size:128"`
	Banned        bool      `db:"banned" gorm:"not null;default:false"`
	TotalRequests int64     `db:"total_requests" gorm:"not null;default:0"`
	TotalJoins    int64     `db:"total_joins" gorm:"not null;default:0"`
	JoinedAt      time.Time `db:"joined_at"`
	LastActive    time.Time `db:"last_active" gorm:"index"`
}

// Stats is an aggregate snapshot across resources, links and users.
type Stats struct {
	TotalUsers      int64 `json:"total_users"`
	ActiveUsers     int64 `json:"active_users"`
	ActiveResources int64 `json:"active_resources"`
	ActiveLinks     int64 `json:"active_links"`
	TotalJoins      int64 `json:"total_joins"`
}
