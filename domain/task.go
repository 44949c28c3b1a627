package domain

import (
	"slices"
	"time"
)

// Priority ranks how soon a task needs attention.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps free text onto the closed priority set. Anything that is
// not a known level falls back to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	}
	return PriorityMedium
}

// Valid reports whether p is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Subtask is a checklist item nested under a task.
type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Task represents a single item in a user's collection.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Completed bool       `json:"completed"`
	CreatedAt time.Time  `json:"createdAt"`
	DueDate   *time.Time `json:"dueDate"`
	Priority  Priority   `json:"priority"`
	Tags      []string   `json:"tags"`
	Subtasks  []Subtask  `json:"subtasks"`
}

// Clone returns a deep copy so callers can't alias the owner's slices.
func (t Task) Clone() Task {
	out := t
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	out.Tags = append(make([]string, 0, len(t.Tags)), t.Tags...)
	out.Subtasks = append(make([]Subtask, 0, len(t.Subtasks)), t.Subtasks...)
	return out
}

// TaskFields carries a partial update. Nil fields are left untouched.
type TaskFields struct {
	Title        *string    `json:"title,omitempty"`
	Completed    *bool      `json:"completed,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	Tags         *[]string  `json:"tags,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
	Subtasks     *[]Subtask `json:"subtasks,omitempty"`
}

// Empty reports whether the update would change nothing.
func (f TaskFields) Empty() bool {
	return f.Title == nil && f.Completed == nil && f.Priority == nil && f.Tags == nil &&
		f.DueDate == nil && !f.ClearDueDate && f.Subtasks == nil
}

// Apply merges the fields into t in place.
func (f TaskFields) Apply(t *Task) {
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.Completed != nil {
		t.Completed = *f.Completed
	}
	if f.Priority != nil {
		t.Priority = ParsePriority(string(*f.Priority))
	}
	if f.Tags != nil {
		t.Tags = append(make([]string, 0, len(*f.Tags)), (*f.Tags)...)
	}
	if f.ClearDueDate {
		t.DueDate = nil
	} else if f.DueDate != nil {
		d := *f.DueDate
		t.DueDate = &d
	}
	if f.Subtasks != nil {
		t.Subtasks = append(make([]Subtask, 0, len(*f.Subtasks)), (*f.Subtasks)...)
	}
}

// Reflected reports whether t already carries every field set in f.
func (f TaskFields) Reflected(t Task) bool {
	if f.Title != nil && t.Title != *f.Title {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Priority != nil && t.Priority != ParsePriority(string(*f.Priority)) {
		return false
	}
	if f.Tags != nil && !slices.Equal(t.Tags, *f.Tags) {
		return false
	}
	switch {
	case f.ClearDueDate:
		if t.DueDate != nil {
			return false
		}
	case f.DueDate != nil:
		if t.DueDate == nil || !t.DueDate.Equal(*f.DueDate) {
			return false
		}
	}
	if f.Subtasks != nil && !slices.Equal(t.Subtasks, *f.Subtasks) {
		return false
	}
	return true
}

// FilterMode selects tasks by completion state.
type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterActive    FilterMode = "active"
	FilterCompleted FilterMode = "completed"
)

// Stats is the aggregate view over a collection.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	CompletionRate int `json:"completionRate"`
}
