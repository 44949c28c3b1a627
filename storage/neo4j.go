package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"taskmaster/domain"
)

// GraphStore keeps tasks as (:User)-[:OWNS]->(:Task) nodes in Neo4j.
type GraphStore struct {
	driver neo4j.DriverWithContext
	now    func() time.Time
}

// NewGraph connects to Neo4j and verifies connectivity.
func NewGraph(ctx context.Context, uri, user, password string) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	return &GraphStore{driver: driver, now: time.Now}, nil
}

// Close releases the driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// List retrieves all task rows owned by the user.
func (s *GraphStore) List(ctx context.Context, userID string) ([]domain.TaskRow, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (:User {id: $user})-[:OWNS]->(t:Task) "+
				"RETURN t.id AS id, t.title AS title, t.is_completed AS is_completed, t.created_at AS created_at, "+
				"t.due_date AS due_date, t.priority AS priority, t.tags AS tags, t.subtasks AS subtasks "+
				"ORDER BY t.created_at DESC",
			map[string]any{"user": userID},
		)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		rows := make([]domain.TaskRow, 0, len(records))
		for _, rec := range records {
			row, err := graphRow(userID, rec)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.TaskRow), nil
}

// Insert creates a task node under a fresh ID, creating the owner on demand.
func (s *GraphStore) Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error) {
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.Priority = domain.ParsePriority(string(row.Priority))
	row.Tags = nonNilStrings(row.Tags)
	row.Subtasks = nonNilSubtasks(row.Subtasks)

	var due any
	if row.DueDate != nil {
		d := row.DueDate.UTC()
		row.DueDate = &d
		due = formatTime(d)
	}
	subtasks, err := sonic.MarshalString(row.Subtasks)
	if err != nil {
		return domain.TaskRow{}, err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MERGE (u:User {id: $user}) "+
				"CREATE (u)-[:OWNS]->(:Task {id: $id, title: $title, is_completed: $is_completed, created_at: $created_at, "+
				"due_date: $due_date, priority: $priority, tags: $tags, subtasks: $subtasks})",
			map[string]any{
				"user":         row.UserID,
				"id":           row.ID,
				"title":        row.Title,
				"is_completed": row.IsCompleted,
				"created_at":   formatTime(row.CreatedAt),
				"due_date":     due,
				"priority":     string(row.Priority),
				"tags":         row.Tags,
				"subtasks":     subtasks,
			},
		)
		return nil, err
	})
	if err != nil {
		return domain.TaskRow{}, err
	}
	return row, nil
}

// Update sets the changed properties of a task node.
func (s *GraphStore) Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error {
	params := map[string]any{"user": userID, "id": id}
	var sets []string
	if upd.Title != nil {
		sets = append(sets, "t.title = $title")
		params["title"] = *upd.Title
	}
	if upd.IsCompleted != nil {
		sets = append(sets, "t.is_completed = $is_completed")
		params["is_completed"] = *upd.IsCompleted
	}
	if upd.Priority != nil {
		sets = append(sets, "t.priority = $priority")
		params["priority"] = string(domain.ParsePriority(string(*upd.Priority)))
	}
	if upd.Tags != nil {
		sets = append(sets, "t.tags = $tags")
		params["tags"] = nonNilStrings(*upd.Tags)
	}
	if upd.ClearDueDate {
		sets = append(sets, "t.due_date = null")
	} else if upd.DueDate != nil {
		sets = append(sets, "t.due_date = $due_date")
		params["due_date"] = formatTime(*upd.DueDate)
	}
	if upd.Subtasks != nil {
		data, err := sonic.MarshalString(nonNilSubtasks(*upd.Subtasks))
		if err != nil {
			return err
		}
		sets = append(sets, "t.subtasks = $subtasks")
		params["subtasks"] = data
	}
	if len(sets) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	matched, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (:User {id: $user})-[:OWNS]->(t:Task {id: $id}) SET "+strings.Join(sets, ", ")+" RETURN t.id",
			params,
		)
		if err != nil {
			return false, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return false, err
		}
		return len(records) > 0, nil
	})
	if err != nil {
		return err
	}
	if !matched.(bool) {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a task node and its relationships.
func (s *GraphStore) Delete(ctx context.Context, userID, id string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (:User {id: $user})-[:OWNS]->(t:Task {id: $id}) DETACH DELETE t",
			map[string]any{"user": userID, "id": id},
		)
		if err != nil {
			return 0, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().NodesDeleted(), nil
	})
	if err != nil {
		return err
	}
	if deleted.(int) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func graphRow(userID string, rec *neo4j.Record) (domain.TaskRow, error) {
	m := rec.AsMap()
	row := domain.TaskRow{
		UserID:   userID,
		Tags:     []string{},
		Subtasks: []domain.Subtask{},
	}
	row.ID, _ = m["id"].(string)
	row.Title, _ = m["title"].(string)
	row.IsCompleted, _ = m["is_completed"].(bool)
	priority, _ := m["priority"].(string)
	row.Priority = domain.ParsePriority(priority)

	created, _ := m["created_at"].(string)
	var err error
	if row.CreatedAt, err = parseTime(created); err != nil {
		return domain.TaskRow{}, err
	}
	if due, ok := m["due_date"].(string); ok && due != "" {
		d, err := parseTime(due)
		if err != nil {
			return domain.TaskRow{}, err
		}
		row.DueDate = &d
	}
	if tags, ok := m["tags"].([]any); ok {
		for _, v := range tags {
			if tag, ok := v.(string); ok {
				row.Tags = append(row.Tags, tag)
			}
		}
	}
	if subtasks, ok := m["subtasks"].(string); ok && subtasks != "" {
		if err := sonic.UnmarshalString(subtasks, &row.Subtasks); err != nil {
			return domain.TaskRow{}, err
		}
	}
	return row, nil
}
