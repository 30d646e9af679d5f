package lifecycle

import (
	"context"
	"time"

	"github.com/arlo/taskdeck/internal/events"
	"github.com/arlo/taskdeck/internal/task"
)

// Analysis is the analyzer collaborator's verdict on a task request.
type Analysis struct {
	ClearEnough        bool     `json:"clear_enough"`
	Questions          []string `json:"questions,omitempty"`
	TaskType           string   `json:"task_type"`
	RecommendedAgent   string   `json:"recommended_agent"`
	Summary            string   `json:"summary"`
	SuggestedCriteria  []string `json:"suggested_acceptance_criteria,omitempty"`
	LikelyFiles        []string `json:"likely_files,omitempty"`
	Repo               string   `json:"repo"`
}

// QAPair is one clarification question with its answer, passed back to the
// analyzer on re-analysis.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Analyzer is the external LLM analysis collaborator. Failures are errors,
// never an implicit clear_enough=false.
type Analyzer interface {
	Analyze(ctx context.Context, t *task.Task, clarifications []QAPair) (*Analysis, error)
}

// IssueResult is the outcome of creating a tracking issue.
type IssueResult struct {
	IssueNumber int    `json:"issue_number"`
	IssueURL    string `json:"issue_url"`
	HTMLURL     string `json:"html_url"`
}

// IssueCreator is the external GitHub issue-creation collaborator.
type IssueCreator interface {
	CreateIssue(ctx context.Context, t *task.Task, a *Analysis) (*IssueResult, error)
}

// Notifier delivers stakeholder notifications (Slack). Fire-and-forget:
// implementations log their own failures and never return one.
type Notifier interface {
	Notify(ctx context.Context, taskID, eventKind string)
}

// Broadcaster pushes real-time task updates to connected clients.
// Fire-and-forget; not required for correctness.
type Broadcaster interface {
	BroadcastTaskUpdate(taskID, eventKind string, payload map[string]any)
}

// NopNotifier is a Notifier that does nothing.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) {}

// BusBroadcaster implements Broadcaster over the event bus; the websocket
// layer subscribes to the task topic.
type BusBroadcaster struct {
	Bus *events.EventBus
}

func (b *BusBroadcaster) BroadcastTaskUpdate(taskID, eventKind string, payload map[string]any) {
	b.Bus.Publish(events.TopicTask, events.TaskUpdateEvent{
		ID:        taskID,
		Kind:      eventKind,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
