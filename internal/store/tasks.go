package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arlo/taskdeck/internal/task"
)

const taskColumns = `id, description, repo, task_type_hint, files_hint, acceptance_criteria, priority,
	status, error_message, task_type, recommended_agent, llm_summary, suggested_criteria, likely_files,
	clarification_questions, clarification_answers, is_clarified,
	github_issue_number, github_issue_url, github_pr_number, github_pr_url, github_pr_status,
	dependency_status, blocked_by, auto_start, created_at, updated_at, dispatched_at`

const depColumns = `id, kind, depends_on_task_id, repo, pr_number, external_repo, external_issue_num,
	required_status, blocking_behavior, current_state, resolved_at, failure_reason, created_at`

// CreateTask inserts a new task row. The dependency list is expected to be
// empty at creation time; dependencies are attached via UpdateTask.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, repo, task_type_hint, files_hint, acceptance_criteria, priority,
			status, error_message, task_type, recommended_agent, llm_summary, suggested_criteria, likely_files,
			clarification_questions, clarification_answers, is_clarified,
			github_issue_number, github_issue_url, github_pr_number, github_pr_url, github_pr_status,
			dependency_status, blocked_by, auto_start, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, t.ID, t.Description, t.Repo, t.TaskTypeHint, t.FilesHint, t.AcceptanceCriteria, t.Priority,
		t.Status, t.ErrorMessage, t.TaskType, t.RecommendedAgent, t.LLMSummary,
		marshalStrings(t.SuggestedCriteria), marshalStrings(t.LikelyFiles),
		marshalStrings(t.ClarificationQuestions), marshalStrings(t.ClarificationAnswers), t.IsClarified,
		t.GitHubIssueNumber, t.GitHubIssueURL, t.GitHubPRNumber, t.GitHubPRURL, t.GitHubPRStatus,
		string(t.DependencyStatus), marshalStrings(t.BlockedBy), t.AutoStartOnDependency)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateTask persists all mutable fields and replaces the dependency list.
// Runs in a single BEGIN IMMEDIATE transaction so the task row and its
// dependency rows never disagree.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *task.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			description = ?, repo = ?, task_type_hint = ?, files_hint = ?, acceptance_criteria = ?, priority = ?,
			status = ?, error_message = ?, task_type = ?, recommended_agent = ?, llm_summary = ?,
			suggested_criteria = ?, likely_files = ?, clarification_questions = ?, clarification_answers = ?,
			is_clarified = ?, github_issue_number = ?, github_issue_url = ?, github_pr_number = ?,
			github_pr_url = ?, github_pr_status = ?, dependency_status = ?, blocked_by = ?, auto_start = ?,
			dispatched_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, t.Description, t.Repo, t.TaskTypeHint, t.FilesHint, t.AcceptanceCriteria, t.Priority,
		t.Status, t.ErrorMessage, t.TaskType, t.RecommendedAgent, t.LLMSummary,
		marshalStrings(t.SuggestedCriteria), marshalStrings(t.LikelyFiles),
		marshalStrings(t.ClarificationQuestions), marshalStrings(t.ClarificationAnswers),
		t.IsClarified, t.GitHubIssueNumber, t.GitHubIssueURL, t.GitHubPRNumber,
		t.GitHubPRURL, t.GitHubPRStatus, string(t.DependencyStatus), marshalStrings(t.BlockedBy),
		t.AutoStartOnDependency, t.DispatchedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, task.ErrNotFound)
	}

	// Replace dependency rows
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for _, d := range t.Dependencies {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (id, task_id, kind, depends_on_task_id, repo, pr_number,
				external_repo, external_issue_num, required_status, blocking_behavior, current_state,
				resolved_at, failure_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, t.ID, string(d.Kind), d.TaskID, d.Repo, d.PRNumber,
			d.ExternalRepo, d.ExternalIssueNum, d.RequiredStatus, string(d.BlockingBehavior),
			string(d.CurrentState), d.ResolvedAt, d.FailureReason, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ApplyStatus performs the conditional status write the concurrency model
// depends on, together with its lifecycle event, in one BEGIN IMMEDIATE
// transaction. The update applies only if the stored status still equals
// from. A zero rows-affected result means either the task is gone
// (task.ErrNotFound) or another writer changed the status first
// (task.ErrStatusConflict); either way nothing is written, including the
// event.
func (s *SQLiteStore) ApplyStatus(ctx context.Context, taskID string, from, to task.Status, ev task.Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, taskID, from)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check task existence: %w", err)
		}
		return fmt.Errorf("task %s: expected status %q: %w", taskID, from, task.ErrStatusConflict)
	}

	payload := "{}"
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payload = string(data)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, event_type, payload)
		VALUES (?, ?, ?)
	`, taskID, ev.EventType, payload); err != nil {
		return fmt.Errorf("failed to append transition event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteTask removes a task row; dependency rows cascade.
func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
	}

	return nil
}

// GetTask retrieves a task by id, including its dependency list.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	if err := s.loadDependencies(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

// ListTasks returns all tasks with their dependencies, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
}

// FindDependents returns all tasks holding a task-kind dependency whose
// target is targetTaskID.
func (s *SQLiteStore) FindDependents(ctx context.Context, targetTaskID string) ([]*task.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id IN (
			SELECT task_id FROM task_dependencies
			WHERE kind = ? AND depends_on_task_id = ?
		)
		ORDER BY created_at
	`
	return s.queryTasks(ctx, query, string(task.DepKindTask), targetTaskID)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	for _, t := range tasks {
		if err := s.loadDependencies(ctx, t); err != nil {
			return nil, err
		}
	}

	return tasks, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, t *task.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+depColumns+`
		FROM task_dependencies
		WHERE task_id = ?
		ORDER BY created_at
	`, t.ID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies for task %s: %w", t.ID, err)
	}
	defer rows.Close()

	t.Dependencies = nil
	for rows.Next() {
		var d task.Dependency
		var resolvedAt sql.NullTime
		err := rows.Scan(&d.ID, &d.Kind, &d.TaskID, &d.Repo, &d.PRNumber,
			&d.ExternalRepo, &d.ExternalIssueNum, &d.RequiredStatus, &d.BlockingBehavior,
			&d.CurrentState, &resolvedAt, &d.FailureReason, &d.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if resolvedAt.Valid {
			d.ResolvedAt = &resolvedAt.Time
		}
		t.Dependencies = append(t.Dependencies, d)
	}

	return rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	t := &task.Task{}
	var suggested, likely, questions, answers, blockedBy string
	var dispatchedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Description, &t.Repo, &t.TaskTypeHint, &t.FilesHint,
		&t.AcceptanceCriteria, &t.Priority, &t.Status, &t.ErrorMessage, &t.TaskType,
		&t.RecommendedAgent, &t.LLMSummary, &suggested, &likely, &questions, &answers,
		&t.IsClarified, &t.GitHubIssueNumber, &t.GitHubIssueURL, &t.GitHubPRNumber,
		&t.GitHubPRURL, &t.GitHubPRStatus, &t.DependencyStatus, &blockedBy,
		&t.AutoStartOnDependency, &t.CreatedAt, &t.UpdatedAt, &dispatchedAt)
	if err != nil {
		return nil, err
	}

	t.SuggestedCriteria = unmarshalStrings(suggested)
	t.LikelyFiles = unmarshalStrings(likely)
	t.ClarificationQuestions = unmarshalStrings(questions)
	t.ClarificationAnswers = unmarshalStrings(answers)
	t.BlockedBy = unmarshalStrings(blockedBy)
	if dispatchedAt.Valid {
		t.DispatchedAt = &dispatchedAt.Time
	}

	return t, nil
}

func marshalStrings(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(data), &vals); err != nil {
		return nil
	}
	return vals
}
