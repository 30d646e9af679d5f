package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arlo/taskdeck/internal/task"
)

// AppendEvent stores one audit log entry for a task. There is deliberately no
// foreign key on task_events: cancellation appends its final event on the
// already-deleted task id.
func (s *SQLiteStore) AppendEvent(ctx context.Context, taskID string, ev task.Event) error {
	payload := "{}"
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payload = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, event_type, payload)
		VALUES (?, ?, ?)
	`, taskID, ev.EventType, payload)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a task's audit log in append order.
func (s *SQLiteStore) ListEvents(ctx context.Context, taskID string) ([]task.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, payload, created_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var evs []task.Event
	for rows.Next() {
		var ev task.Event
		var payload string
		if err := rows.Scan(&ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}
		evs = append(evs, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return evs, nil
}
