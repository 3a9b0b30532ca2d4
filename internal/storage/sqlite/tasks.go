package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// taskSortColumns narrows the global sort whitelist to columns that exist on
// tasks.
var taskSortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"due_at":     true,
}

func taskSortColumn(field string) string {
	if taskSortColumns[field] {
		return field
	}
	return "created_at"
}

// StoreTask creates or updates a task (upsert by ID). The partial unique
// index on dedupe_token rejects a second task carrying the same non-empty
// token under a different ID, which keeps retried capability invocations
// idempotent.
func (s *Store) StoreTask(ctx context.Context, task *types.Task) error {
	if task == nil {
		return storage.ErrInvalidInput
	}

	if task.ID == "" {
		return fmt.Errorf("%w: task ID is required", storage.ErrInvalidInput)
	}

	if task.Title == "" {
		return fmt.Errorf("%w: task title is required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.Status == "" {
		task.Status = types.TaskStatusOpen
	}
	if task.Priority == "" {
		task.Priority = types.TaskPriorityMedium
	}

	query := `
		INSERT INTO tasks (
			id, conversation_id, user_id, title, status, priority,
			due_at, created_at, updated_at, completed_at, dedupe_token
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			priority = excluded.priority,
			due_at = excluded.due_at,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.ConversationID,
		task.UserID,
		task.Title,
		string(task.Status),
		string(task.Priority),
		nullableTime(task.DueAt),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
		nullableTime(task.CompletedAt),
		task.DedupeToken,
	)
	if err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: task ID is required", storage.ErrInvalidInput)
	}
	return s.getTaskWhere(ctx, "id = ?", id)
}

// GetTaskByDedupeToken returns the task created under the given token.
func (s *Store) GetTaskByDedupeToken(ctx context.Context, token string) (*types.Task, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: dedupe token is required", storage.ErrInvalidInput)
	}
	return s.getTaskWhere(ctx, "dedupe_token = ?", token)
}

func (s *Store) getTaskWhere(ctx context.Context, condition string, arg interface{}) (*types.Task, error) {
	query := taskSelect + " WHERE " + condition

	var task types.Task
	var status, priority string
	var dueAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&task.ID,
		&task.ConversationID,
		&task.UserID,
		&task.Title,
		&status,
		&priority,
		&dueAt,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
		&task.DedupeToken,
	)

	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	task.Status = types.TaskStatus(status)
	task.Priority = types.TaskPriority(priority)
	if dueAt.Valid {
		t := dueAt.Time
		task.DueAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

// ListTasks retrieves tasks with pagination. Empty userID or status disables
// that filter.
func (s *Store) ListTasks(ctx context.Context, userID string, status types.TaskStatus, opts storage.ListOptions) (*storage.PaginatedResult[types.Task], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}

	if status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(status))
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM tasks" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := taskSelect + whereClause +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", taskSortColumn(opts.SortBy), opts.SortOrder)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		var task types.Task
		var status, priority string
		var dueAt, completedAt sql.NullTime

		if err := rows.Scan(
			&task.ID,
			&task.ConversationID,
			&task.UserID,
			&task.Title,
			&status,
			&priority,
			&dueAt,
			&task.CreatedAt,
			&task.UpdatedAt,
			&completedAt,
			&task.DedupeToken,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.Status = types.TaskStatus(status)
		task.Priority = types.TaskPriority(priority)
		if dueAt.Valid {
			t := dueAt.Time
			task.DueAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			task.CompletedAt = &t
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return &storage.PaginatedResult[types.Task]{
		Items:    tasks,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(tasks) < total,
	}, nil
}

const taskSelect = `
	SELECT id, conversation_id, user_id, title, status, priority,
		due_at, created_at, updated_at, completed_at, dedupe_token
	FROM tasks`
