package domain

import "time"

// TaskRow is a task as the remote collection stores it.
type TaskRow struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"is_completed"`
	CreatedAt   time.Time  `json:"created_at"`
	DueDate     *time.Time `json:"due_date"`
	Priority    Priority   `json:"priority"`
	Tags        []string   `json:"tags"`
	Subtasks    []Subtask  `json:"subtasks"`
}

// RowUpdate carries changed columns for a remote update. Nil columns are not
// sent. ClearDueDate nulls due_date.
type RowUpdate struct {
	Title        *string    `json:"title,omitempty"`
	IsCompleted  *bool      `json:"is_completed,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	Tags         *[]string  `json:"tags,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ClearDueDate bool       `json:"-"`
	Subtasks     *[]Subtask `json:"subtasks,omitempty"`
}

// Empty reports whether no column is set.
func (u RowUpdate) Empty() bool {
	return u.Title == nil && u.IsCompleted == nil && u.Priority == nil && u.Tags == nil &&
		u.DueDate == nil && !u.ClearDueDate && u.Subtasks == nil
}

// TaskFromRow converts a stored row into the in-memory shape. Missing
// priority, tags or subtasks are normalised.
func TaskFromRow(r TaskRow) Task {
	t := Task{
		ID:        r.ID,
		Title:     r.Title,
		Completed: r.IsCompleted,
		CreatedAt: r.CreatedAt,
		Priority:  ParsePriority(string(r.Priority)),
		Tags:      append(make([]string, 0, len(r.Tags)), r.Tags...),
		Subtasks:  append(make([]Subtask, 0, len(r.Subtasks)), r.Subtasks...),
	}
	if r.DueDate != nil {
		d := *r.DueDate
		t.DueDate = &d
	}
	return t
}

// RowFromTask builds the insert row for t owned by userID.
func RowFromTask(userID string, t Task) TaskRow {
	r := TaskRow{
		ID:          t.ID,
		UserID:      userID,
		Title:       t.Title,
		IsCompleted: t.Completed,
		CreatedAt:   t.CreatedAt,
		Priority:    t.Priority,
		Tags:        append(make([]string, 0, len(t.Tags)), t.Tags...),
		Subtasks:    append(make([]Subtask, 0, len(t.Subtasks)), t.Subtasks...),
	}
	if t.DueDate != nil {
		d := *t.DueDate
		r.DueDate = &d
	}
	return r
}

// RowUpdateFromFields translates local field names to remote column names.
func RowUpdateFromFields(f TaskFields) RowUpdate {
	u := RowUpdate{
		Title:        f.Title,
		IsCompleted:  f.Completed,
		Tags:         f.Tags,
		DueDate:      f.DueDate,
		ClearDueDate: f.ClearDueDate,
		Subtasks:     f.Subtasks,
	}
	if f.Priority != nil {
		p := ParsePriority(string(*f.Priority))
		u.Priority = &p
	}
	return u
}
