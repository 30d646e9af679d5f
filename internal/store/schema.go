package store

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		repo TEXT NOT NULL,
		task_type_hint TEXT NOT NULL DEFAULT '',
		files_hint TEXT NOT NULL DEFAULT '',
		acceptance_criteria TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		task_type TEXT NOT NULL DEFAULT '',
		recommended_agent TEXT NOT NULL DEFAULT '',
		llm_summary TEXT NOT NULL DEFAULT '',
		suggested_criteria TEXT NOT NULL DEFAULT '[]',
		likely_files TEXT NOT NULL DEFAULT '[]',
		clarification_questions TEXT NOT NULL DEFAULT '[]',
		clarification_answers TEXT NOT NULL DEFAULT '[]',
		is_clarified INTEGER NOT NULL DEFAULT 0,
		github_issue_number INTEGER NOT NULL DEFAULT 0,
		github_issue_url TEXT NOT NULL DEFAULT '',
		github_pr_number INTEGER NOT NULL DEFAULT 0,
		github_pr_url TEXT NOT NULL DEFAULT '',
		github_pr_status TEXT NOT NULL DEFAULT '',
		dependency_status TEXT NOT NULL DEFAULT '',
		blocked_by TEXT NOT NULL DEFAULT '[]',
		auto_start INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		dispatched_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		depends_on_task_id TEXT NOT NULL DEFAULT '',
		repo TEXT NOT NULL DEFAULT '',
		pr_number INTEGER NOT NULL DEFAULT 0,
		external_repo TEXT NOT NULL DEFAULT '',
		external_issue_num INTEGER NOT NULL DEFAULT 0,
		required_status TEXT NOT NULL,
		blocking_behavior TEXT NOT NULL,
		current_state TEXT NOT NULL,
		resolved_at DATETIME,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id
		ON task_dependencies(task_id);
	CREATE INDEX IF NOT EXISTS idx_task_dependencies_target
		ON task_dependencies(kind, depends_on_task_id);

	CREATE TABLE IF NOT EXISTS task_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_task_events_task_created
		ON task_events(task_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
