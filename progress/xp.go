// Package progress credits completed tasks with experience points, streaks
// and achievements.
package progress

import (
	"math"

	"taskmaster/domain"
)

// XPFor returns the experience awarded for completing a task of priority p.
func XPFor(p domain.Priority) int {
	switch p {
	case domain.PriorityUrgent:
		return 50
	case domain.PriorityHigh:
		return 30
	case domain.PriorityMedium:
		return 20
	default:
		return 10
	}
}

// Level returns the level reached with xp total experience.
func Level(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return int(math.Floor(math.Sqrt(float64(xp)/100))) + 1
}

// XPForLevel returns the total experience required to reach level.
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return (level - 1) * (level - 1) * 100
}

// LevelProgress describes how far a user is through their current level.
type LevelProgress struct {
	Level      int `json:"level"`
	CurrentXP  int `json:"currentXp"`
	NeededXP   int `json:"neededXp"`
	Percentage int `json:"percentage"`
}

// Progress breaks total experience down into the current level.
func Progress(xp int) LevelProgress {
	level := Level(xp)
	floor := XPForLevel(level)
	next := XPForLevel(level + 1)
	current := xp - floor
	if current < 0 {
		current = 0
	}
	needed := next - floor
	return LevelProgress{
		Level:      level,
		CurrentXP:  current,
		NeededXP:   needed,
		Percentage: int(math.Round(float64(current) / float64(needed) * 100)),
	}
}
