package model

import "time"

// UsageRecord is the per-user, per-day consumption counter.
// At most one record exists for a (UserID, Date) pair and both counters
// only ever grow.
type UsageRecord struct {
	UserID        string    `json:"-"`
	Date          string    `json:"date"` // YYYY-MM-DD
	MinutesUsed   float64   `json:"minutes_used"`
	MessagesCount int64     `json:"messages_count"`
	UpdatedAt     time.Time `json:"-"`
}

// DailyTotals aggregates usage across all users.
type DailyTotals struct {
	TotalStudents int64
	ActiveToday   int64
	MinutesToday  float64
	MinutesMonth  float64
}

// DailyAllowance is a user's limit joined with one day's usage.
// Usage is zero-valued when no record exists yet.
type DailyAllowance struct {
	UserID       string
	DailyMinutes float64
	Usage        UsageRecord
}
