// Package parser turns free-form task input into structured fields.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"taskmaster/domain"
)

var (
	timePattern = regexp.MustCompile(`at (\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	tagPattern  = regexp.MustCompile(`#\w+`)
)

const (
	defaultHour = 9
	tonightHour = 20
)

// Parsed holds the fields extracted from raw input.
type Parsed struct {
	Title    string
	DueDate  *time.Time
	Priority domain.Priority
	Tags     []string
}

// Parse extracts priority, due date and tags from raw relative to now. It
// never fails; unmatched parts fall back to medium priority, no due date and
// no tags. The title is the raw text unchanged.
func Parse(raw string, now time.Time) Parsed {
	lower := strings.ToLower(raw)
	return Parsed{
		Title:    raw,
		Priority: priorityOf(lower),
		DueDate:  dueDateOf(lower, now),
		Tags:     tagsOf(raw),
	}
}

func priorityOf(lower string) domain.Priority {
	switch {
	case strings.Contains(lower, "urgent"), strings.Contains(lower, "asap"), strings.Contains(lower, "!!!"):
		return domain.PriorityUrgent
	case strings.Contains(lower, "high priority"), strings.Contains(lower, "important"):
		return domain.PriorityHigh
	case strings.Contains(lower, "low priority"):
		return domain.PriorityLow
	}
	return domain.PriorityMedium
}

func dueDateOf(lower string, now time.Time) *time.Time {
	var due *time.Time
	switch {
	case strings.Contains(lower, "tomorrow"):
		d := atClock(now.AddDate(0, 0, 1), defaultHour, 0)
		due = &d
	case strings.Contains(lower, "tonight"):
		d := atClock(now, tonightHour, 0)
		due = &d
	case strings.Contains(lower, "next week"):
		d := atClock(nextMonday(now), defaultHour, 0)
		due = &d
	}

	hour, minute, ok := clockOf(lower)
	if !ok {
		return due
	}
	if due != nil {
		d := atClock(*due, hour, minute)
		return &d
	}
	d := atClock(now, hour, minute)
	if !d.After(now) {
		d = atClock(now.AddDate(0, 0, 1), hour, minute)
	}
	return &d
}

// clockOf finds the first "at H[:MM][am|pm]" phrase. Out of range values
// are treated as no match.
func clockOf(lower string) (hour, minute int, ok bool) {
	m := timePattern.FindStringSubmatch(lower)
	if m == nil {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	if m[2] != "" {
		if minute, err = strconv.Atoi(m[2]); err != nil {
			return 0, 0, false
		}
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func tagsOf(raw string) []string {
	matches := tagPattern.FindAllString(raw, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1:])
	}
	return tags
}

func atClock(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// nextMonday returns the first Monday strictly after t.
func nextMonday(t time.Time) time.Time {
	days := (int(time.Monday) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return t.AddDate(0, 0, days)
}
