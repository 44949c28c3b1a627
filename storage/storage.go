package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskmaster/domain"
)

// TableStore keeps tasks and progression stats in Azure Table storage.
// Tasks are partitioned by user ID.
type TableStore struct {
	taskTable  *aztables.Client
	statsTable *aztables.Client
	now        func() time.Time
}

// New creates a TableStore from the given connection string.
func New(connStr, tasksTable, statsTable string) (*TableStore, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &TableStore{
		taskTable:  svc.NewClient(tasksTable),
		statsTable: svc.NewClient(statsTable),
		now:        time.Now,
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	IsCompleted bool   `json:"IsCompleted"`
	CreatedAt   string `json:"CreatedAt"`
	DueDate     string `json:"DueDate"`
	Priority    string `json:"Priority"`
	Tags        string `json:"Tags"`
	Subtasks    string `json:"Subtasks"`
}

// List retrieves all task rows for the provided user.
func (s *TableStore) List(ctx context.Context, userID string) ([]domain.TaskRow, error) {
	filter := "PartitionKey eq '" + escapeFilter(userID) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	rows := []domain.TaskRow{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			row, err := ent.row()
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Insert adds a new task row under a fresh row key.
func (s *TableStore) Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error) {
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	row.CreatedAt = row.CreatedAt.UTC()
	if row.DueDate != nil {
		d := row.DueDate.UTC()
		row.DueDate = &d
	}
	ent, err := newTaskEntity(row)
	if err != nil {
		return domain.TaskRow{}, err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.TaskRow{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.TaskRow{}, mapResponseError(err)
	}
	return row, nil
}

// Update merges the changed columns into an existing task row.
func (s *TableStore) Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error {
	ent := map[string]any{
		"PartitionKey": userID,
		"RowKey":       id,
	}
	if upd.Title != nil {
		ent["Title"] = *upd.Title
	}
	if upd.IsCompleted != nil {
		ent["IsCompleted"] = *upd.IsCompleted
	}
	if upd.Priority != nil {
		ent["Priority"] = string(*upd.Priority)
	}
	if upd.Tags != nil {
		data, err := sonic.MarshalString(*upd.Tags)
		if err != nil {
			return err
		}
		ent["Tags"] = data
	}
	if upd.ClearDueDate {
		ent["DueDate"] = ""
	} else if upd.DueDate != nil {
		ent["DueDate"] = formatTime(*upd.DueDate)
	}
	if upd.Subtasks != nil {
		data, err := sonic.MarshalString(*upd.Subtasks)
		if err != nil {
			return err
		}
		ent["Subtasks"] = data
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return mapResponseError(err)
}

// Delete removes a task row.
func (s *TableStore) Delete(ctx context.Context, userID, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, userID, id, nil)
	return mapResponseError(err)
}

func newTaskEntity(row domain.TaskRow) (taskEntity, error) {
	tags, err := sonic.MarshalString(nonNilStrings(row.Tags))
	if err != nil {
		return taskEntity{}, err
	}
	subtasks, err := sonic.MarshalString(nonNilSubtasks(row.Subtasks))
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: row.UserID, RowKey: row.ID},
		Title:       row.Title,
		IsCompleted: row.IsCompleted,
		CreatedAt:   formatTime(row.CreatedAt),
		Priority:    string(domain.ParsePriority(string(row.Priority))),
		Tags:        tags,
		Subtasks:    subtasks,
	}
	if row.DueDate != nil {
		ent.DueDate = formatTime(*row.DueDate)
	}
	return ent, nil
}

func (e taskEntity) row() (domain.TaskRow, error) {
	row := domain.TaskRow{
		ID:          e.RowKey,
		UserID:      e.PartitionKey,
		Title:       e.Title,
		IsCompleted: e.IsCompleted,
		Priority:    domain.ParsePriority(e.Priority),
		Tags:        []string{},
		Subtasks:    []domain.Subtask{},
	}
	var err error
	if row.CreatedAt, err = parseTime(e.CreatedAt); err != nil {
		return domain.TaskRow{}, err
	}
	if e.DueDate != "" {
		due, err := parseTime(e.DueDate)
		if err != nil {
			return domain.TaskRow{}, err
		}
		row.DueDate = &due
	}
	if e.Tags != "" {
		if err := sonic.UnmarshalString(e.Tags, &row.Tags); err != nil {
			return domain.TaskRow{}, err
		}
	}
	if e.Subtasks != "" {
		if err := sonic.UnmarshalString(e.Subtasks, &row.Subtasks); err != nil {
			return domain.TaskRow{}, err
		}
	}
	return row, nil
}

type statsEntity struct {
	aztables.Entity
	TotalXP        int    `json:"TotalXP"`
	TasksCompleted int    `json:"TasksCompleted"`
	CurrentStreak  int    `json:"CurrentStreak"`
	LongestStreak  int    `json:"LongestStreak"`
	LastActivity   string `json:"LastActivity"`
	Achievements   string `json:"Achievements"`
}

// GetStats retrieves progression stats for a user, or nil if none exist.
func (s *TableStore) GetStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	resp, err := s.statsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if errors.Is(mapResponseError(err), domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ent statsEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	st := &domain.UserStats{
		UserID:         userID,
		TotalXP:        ent.TotalXP,
		TasksCompleted: ent.TasksCompleted,
		CurrentStreak:  ent.CurrentStreak,
		LongestStreak:  ent.LongestStreak,
		Achievements:   []string{},
		ETag:           string(resp.ETag),
	}
	if ent.LastActivity != "" {
		at, err := parseTime(ent.LastActivity)
		if err != nil {
			return nil, err
		}
		st.LastActivity = &at
	}
	if ent.Achievements != "" {
		if err := sonic.UnmarshalString(ent.Achievements, &st.Achievements); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// SaveStats writes stats using optimistic concurrency. Records without an
// ETag are inserted; others replace the stored version they were read at.
func (s *TableStore) SaveStats(ctx context.Context, st domain.UserStats) error {
	achievements, err := sonic.MarshalString(nonNilStrings(st.Achievements))
	if err != nil {
		return err
	}
	ent := statsEntity{
		Entity:         aztables.Entity{PartitionKey: st.UserID, RowKey: st.UserID},
		TotalXP:        st.TotalXP,
		TasksCompleted: st.TasksCompleted,
		CurrentStreak:  st.CurrentStreak,
		LongestStreak:  st.LongestStreak,
		Achievements:   achievements,
	}
	if st.LastActivity != nil {
		ent.LastActivity = formatTime(*st.LastActivity)
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	if st.ETag == "" {
		_, err = s.statsTable.AddEntity(ctx, payload, nil)
	} else {
		et := azcore.ETag(st.ETag)
		_, err = s.statsTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	}
	return mapResponseError(err)
}

// mapResponseError translates Azure status codes into domain errors.
func mapResponseError(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return domain.ErrNotFound
		case http.StatusConflict, http.StatusPreconditionFailed:
			return domain.ErrConcurrencyConflict
		}
	}
	return err
}

func escapeFilter(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// storedTimeLayout keeps a fixed nanosecond width so stored timestamps sort
// as text in time order. parseTime still accepts trimmed RFC3339Nano values.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilSubtasks(v []domain.Subtask) []domain.Subtask {
	if v == nil {
		return []domain.Subtask{}
	}
	return v
}
