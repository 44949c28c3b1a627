package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"taskmaster/domain"
)

// SQLStore keeps tasks and progression stats in a local SQLite database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating when needed) the database at path and runs
// migrations.
func NewSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		due_date TEXT,
		priority TEXT NOT NULL DEFAULT 'medium',
		tags TEXT NOT NULL DEFAULT '[]',
		subtasks TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		total_xp INTEGER NOT NULL,
		tasks_completed INTEGER NOT NULL,
		current_streak INTEGER NOT NULL,
		longest_streak INTEGER NOT NULL,
		last_activity TEXT,
		achievements TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// List retrieves all task rows for the provided user.
func (s *SQLStore) List(ctx context.Context, userID string) ([]domain.TaskRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, is_completed, created_at, due_date, priority, tags, subtasks
		FROM tasks WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	out := []domain.TaskRow{}
	for rows.Next() {
		var (
			row                domain.TaskRow
			createdAt          string
			dueDate            sql.NullString
			priority           string
			tags, subtasksJSON string
		)
		if err := rows.Scan(&row.ID, &row.UserID, &row.Title, &row.IsCompleted, &createdAt, &dueDate, &priority, &tags, &subtasksJSON); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if row.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if dueDate.Valid && dueDate.String != "" {
			d, err := parseTime(dueDate.String)
			if err != nil {
				return nil, err
			}
			row.DueDate = &d
		}
		row.Priority = domain.ParsePriority(priority)
		row.Tags = []string{}
		if err := sonic.UnmarshalString(tags, &row.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		row.Subtasks = []domain.Subtask{}
		if err := sonic.UnmarshalString(subtasksJSON, &row.Subtasks); err != nil {
			return nil, fmt.Errorf("decode subtasks: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert adds a new task row under a fresh ID.
func (s *SQLStore) Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error) {
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.Priority = domain.ParsePriority(string(row.Priority))
	row.Tags = nonNilStrings(row.Tags)
	row.Subtasks = nonNilSubtasks(row.Subtasks)

	var due sql.NullString
	if row.DueDate != nil {
		d := row.DueDate.UTC()
		row.DueDate = &d
		due = sql.NullString{String: formatTime(d), Valid: true}
	}
	tags, err := sonic.MarshalString(row.Tags)
	if err != nil {
		return domain.TaskRow{}, err
	}
	subtasks, err := sonic.MarshalString(row.Subtasks)
	if err != nil {
		return domain.TaskRow{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, is_completed, created_at, due_date, priority, tags, subtasks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.UserID, row.Title, row.IsCompleted, formatTime(row.CreatedAt), due, string(row.Priority), tags, subtasks)
	if err != nil {
		return domain.TaskRow{}, fmt.Errorf("insert task: %w", err)
	}
	return row, nil
}

// Update sets the changed columns of an existing task row.
func (s *SQLStore) Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error {
	var (
		sets []string
		args []any
	)
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.IsCompleted != nil {
		sets = append(sets, "is_completed = ?")
		args = append(args, *upd.IsCompleted)
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(domain.ParsePriority(string(*upd.Priority))))
	}
	if upd.Tags != nil {
		data, err := sonic.MarshalString(nonNilStrings(*upd.Tags))
		if err != nil {
			return err
		}
		sets = append(sets, "tags = ?")
		args = append(args, data)
	}
	if upd.ClearDueDate {
		sets = append(sets, "due_date = NULL")
	} else if upd.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, formatTime(*upd.DueDate))
	}
	if upd.Subtasks != nil {
		data, err := sonic.MarshalString(nonNilSubtasks(*upd.Subtasks))
		if err != nil {
			return err
		}
		sets = append(sets, "subtasks = ?")
		args = append(args, data)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id, userID)
	res, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a task row.
func (s *SQLStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(res)
}

// GetStats retrieves progression stats for a user, or nil if none exist. The
// row version is reported as the ETag.
func (s *SQLStore) GetStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	var (
		st           = domain.UserStats{UserID: userID}
		lastActivity sql.NullString
		achievements string
		version      int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT total_xp, tasks_completed, current_streak, longest_streak, last_activity, achievements, version
		FROM user_stats WHERE user_id = ?`, userID).
		Scan(&st.TotalXP, &st.TasksCompleted, &st.CurrentStreak, &st.LongestStreak, &lastActivity, &achievements, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if lastActivity.Valid && lastActivity.String != "" {
		at, err := parseTime(lastActivity.String)
		if err != nil {
			return nil, err
		}
		st.LastActivity = &at
	}
	st.Achievements = []string{}
	if err := sonic.UnmarshalString(achievements, &st.Achievements); err != nil {
		return nil, fmt.Errorf("decode achievements: %w", err)
	}
	st.ETag = strconv.FormatInt(version, 10)
	return &st, nil
}

// SaveStats writes stats using optimistic concurrency on the row version.
func (s *SQLStore) SaveStats(ctx context.Context, st domain.UserStats) error {
	achievements, err := sonic.MarshalString(nonNilStrings(st.Achievements))
	if err != nil {
		return err
	}
	var last sql.NullString
	if st.LastActivity != nil {
		last = sql.NullString{String: formatTime(*st.LastActivity), Valid: true}
	}

	if st.ETag == "" {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO user_stats (user_id, total_xp, tasks_completed, current_streak, longest_streak, last_activity, achievements, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING`,
			st.UserID, st.TotalXP, st.TasksCompleted, st.CurrentStreak, st.LongestStreak, last, achievements)
		if err != nil {
			return fmt.Errorf("insert stats: %w", err)
		}
		return conflictUnlessAffected(res)
	}

	version, err := strconv.ParseInt(st.ETag, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stats version %q: %w", st.ETag, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_stats
		SET total_xp = ?, tasks_completed = ?, current_streak = ?, longest_streak = ?, last_activity = ?, achievements = ?, version = version + 1
		WHERE user_id = ? AND version = ?`,
		st.TotalXP, st.TasksCompleted, st.CurrentStreak, st.LongestStreak, last, achievements, st.UserID, version)
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	return conflictUnlessAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func conflictUnlessAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}
