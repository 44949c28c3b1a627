package domain

import "time"

// UserStats is the progression record kept per user.
type UserStats struct {
	UserID         string     `json:"userId"`
	TotalXP        int        `json:"totalXp"`
	TasksCompleted int        `json:"tasksCompleted"`
	CurrentStreak  int        `json:"currentStreak"`
	LongestStreak  int        `json:"longestStreak"`
	LastActivity   *time.Time `json:"lastActivity,omitempty"`
	Achievements   []string   `json:"achievements"`
	// ETag is the storage version the record was read at. Empty for records
	// that have never been persisted.
	ETag string `json:"-"`
}

// AwardCommand asks the progression service to credit a completed task.
type AwardCommand struct {
	ID        string   `json:"id"`
	UserID    string   `json:"userId"`
	Priority  Priority `json:"priority"`
	Timestamp int64    `json:"timestamp"`
}
