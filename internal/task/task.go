package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DependencyKind identifies what a dependency points at.
type DependencyKind string

const (
	DepKindTask          DependencyKind = "task"           // Another task in this system
	DepKindPR            DependencyKind = "pr"             // An external GitHub pull request
	DepKindExternalIssue DependencyKind = "external_issue" // An issue in another repository
)

// BlockingBehavior controls whether an unresolved dependency prevents start.
type BlockingBehavior string

const (
	BlockingHard BlockingBehavior = "hard" // Owner cannot start until resolved
	BlockingSoft BlockingBehavior = "soft" // Advisory only, never prevents start
)

// DependencyState is the lifecycle state of a single dependency.
type DependencyState string

const (
	DepStatePending  DependencyState = "pending"
	DepStateReady    DependencyState = "ready"
	DepStateBlocked  DependencyState = "blocked"
	DepStateResolved DependencyState = "resolved"
	DepStateFailed   DependencyState = "failed"
)

// DerivedStatus is the aggregate dependency status cached on a task.
// Always recomputed from the dependency list, never accepted from callers.
type DerivedStatus string

const (
	DerivedPending DerivedStatus = "pending"
	DerivedReady   DerivedStatus = "ready"
	DerivedBlocked DerivedStatus = "blocked"
)

// Dependency is a directed precondition attached to a task.
// Exactly one variant's fields are set, per Kind.
type Dependency struct {
	ID               string           `json:"id"`
	Kind             DependencyKind   `json:"kind"`
	TaskID           string           `json:"task_id,omitempty"`           // Kind == task: weak reference by id
	Repo             string           `json:"repo,omitempty"`              // Kind == pr
	PRNumber         int              `json:"pr_number,omitempty"`         // Kind == pr
	ExternalRepo     string           `json:"external_repo,omitempty"`     // Kind == external_issue
	ExternalIssueNum int              `json:"external_issue_num,omitempty"` // Kind == external_issue
	RequiredStatus   string           `json:"required_status"`
	BlockingBehavior BlockingBehavior `json:"blocking_behavior"`
	CurrentState     DependencyState  `json:"current_state"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// TargetKey returns the kind-specific identity used for duplicate detection.
func (d Dependency) TargetKey() string {
	switch d.Kind {
	case DepKindTask:
		return string(d.Kind) + ":" + d.TaskID
	case DepKindPR:
		return fmt.Sprintf("%s:%s#%d", d.Kind, d.Repo, d.PRNumber)
	case DepKindExternalIssue:
		return fmt.Sprintf("%s:%s#%d", d.Kind, d.ExternalRepo, d.ExternalIssueNum)
	}
	return string(d.Kind)
}

// DefaultRequiredStatus returns the required status a dependency kind assumes
// when the caller does not specify one.
func DefaultRequiredStatus(kind DependencyKind) string {
	if kind == DepKindExternalIssue {
		return "closed"
	}
	return string(StatusMerged)
}

// Event is one entry in a task's append-only audit log.
type Event struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Task is the central entity: one unit of work progressing through the
// status state machine.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Repo        string `json:"repo"`

	// Submission hints
	TaskTypeHint       string `json:"task_type_hint,omitempty"`
	FilesHint          string `json:"files_hint,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	Priority           string `json:"priority,omitempty"`

	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Analysis outputs
	TaskType               string   `json:"task_type,omitempty"`
	RecommendedAgent       string   `json:"recommended_agent,omitempty"`
	LLMSummary             string   `json:"llm_summary,omitempty"`
	SuggestedCriteria      []string `json:"suggested_criteria,omitempty"`
	LikelyFiles            []string `json:"likely_files,omitempty"`
	ClarificationQuestions []string `json:"clarification_questions,omitempty"`
	ClarificationAnswers   []string `json:"clarification_answers,omitempty"`
	IsClarified            bool     `json:"is_clarified,omitempty"`

	// GitHub linkage
	GitHubIssueNumber int    `json:"github_issue_number,omitempty"`
	GitHubIssueURL    string `json:"github_issue_url,omitempty"`
	GitHubPRNumber    int    `json:"github_pr_number,omitempty"`
	GitHubPRURL       string `json:"github_pr_url,omitempty"`
	GitHubPRStatus    string `json:"github_pr_status,omitempty"`

	// Dependency fields. DependencyStatus and BlockedBy are a write-through
	// cache over Dependencies, recomputed by every mutating graph operation.
	Dependencies          []Dependency  `json:"dependencies,omitempty"`
	DependencyStatus      DerivedStatus `json:"dependency_status,omitempty"`
	BlockedBy             []string      `json:"blocked_by,omitempty"`
	AutoStartOnDependency bool          `json:"auto_start_on_dependency,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
}

// Title returns a short human-readable label: the analyzer summary when
// present, otherwise the first 100 characters of the description.
func (t *Task) Title() string {
	if t.LLMSummary != "" {
		return t.LLMSummary
	}
	if len(t.Description) > 100 {
		return t.Description[:100]
	}
	return t.Description
}

// FindDependency returns the dependency with the given id, or nil.
func (t *Task) FindDependency(depID string) *Dependency {
	for i := range t.Dependencies {
		if t.Dependencies[i].ID == depID {
			return &t.Dependencies[i]
		}
	}
	return nil
}

// NewID returns a new opaque unique identifier.
func NewID() string {
	return uuid.NewString()
}
