// Package lifecycle drives tasks through the status state machine, delegating
// analysis, issue creation, and notification to external collaborators.
// Failures during a collaborator call land the task in failed with the reason
// recorded rather than leaving it stuck mid-transition.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/arlo/taskdeck/internal/depgraph"
	"github.com/arlo/taskdeck/internal/events"
	"github.com/arlo/taskdeck/internal/store"
	"github.com/arlo/taskdeck/internal/task"
)

// Config wires an Orchestrator's dependencies.
type Config struct {
	Store           store.Store
	Graph           *depgraph.Engine
	Bus             *events.EventBus
	Logger          *slog.Logger
	Analyzer        Analyzer
	Issues          IssueCreator
	Notifier        Notifier      // Defaults to NopNotifier
	Broadcaster     Broadcaster   // Defaults to BusBroadcaster over Bus
	Retry           RetryConfig   // Zero value replaced by DefaultRetryConfig
	AnalyzerTimeout time.Duration // Default 60s
	IssueTimeout    time.Duration // Default 30s
}

// Orchestrator is the top-level task lifecycle workflow.
type Orchestrator struct {
	store     store.Store
	graph     *depgraph.Engine
	bus       *events.EventBus
	log       *slog.Logger
	locks     *TaskLockManager
	breakers  *CircuitBreakerRegistry
	retryCfg  RetryConfig
	analyzer  Analyzer
	issues    IssueCreator
	notifier  Notifier
	broadcast Broadcaster

	analyzerTimeout time.Duration
	issueTimeout    time.Duration
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = &BusBroadcaster{Bus: cfg.Bus}
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 60 * time.Second
	}
	if cfg.IssueTimeout <= 0 {
		cfg.IssueTimeout = 30 * time.Second
	}

	return &Orchestrator{
		store:           cfg.Store,
		graph:           cfg.Graph,
		bus:             cfg.Bus,
		log:             cfg.Logger,
		locks:           NewTaskLockManager(),
		breakers:        NewCircuitBreakerRegistry(cfg.Logger),
		retryCfg:        cfg.Retry,
		analyzer:        cfg.Analyzer,
		issues:          cfg.Issues,
		notifier:        cfg.Notifier,
		broadcast:       cfg.Broadcaster,
		analyzerTimeout: cfg.AnalyzerTimeout,
		issueTimeout:    cfg.IssueTimeout,
	}
}

// CreateInput is the plain-data request for a new task.
type CreateInput struct {
	Description        string `json:"description"`
	Repo               string `json:"repo"`
	TaskTypeHint       string `json:"task_type_hint,omitempty"`
	FilesHint          string `json:"files_hint,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	Priority           string `json:"priority,omitempty"`
}

// Result is the outcome of Create, Clarify, and Retry.
type Result struct {
	Task               *task.Task   `json:"task"`
	NeedsClarification bool         `json:"needs_clarification,omitempty"`
	Questions          []string     `json:"questions,omitempty"`
	Issue              *IssueResult `json:"issue,omitempty"`
}

// Create persists a new task and runs it through analysis and, when the
// analysis is clear enough, dispatch. Analyzer failure moves the task to
// failed and the wrapped error still reaches the caller.
func (o *Orchestrator) Create(ctx context.Context, input CreateInput) (*Result, error) {
	if input.Description == "" {
		return nil, &task.MissingFieldError{Field: "description"}
	}
	if input.Repo == "" {
		return nil, &task.MissingFieldError{Field: "repo"}
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:                 task.NewID(),
		Description:        input.Description,
		Repo:               input.Repo,
		TaskTypeHint:       input.TaskTypeHint,
		FilesHint:          input.FilesHint,
		AcceptanceCriteria: input.AcceptanceCriteria,
		Priority:           input.Priority,
		Status:             task.StatusReceived,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := o.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, t.ID, "created", map[string]any{"repo": t.Repo})
	o.bus.Publish(events.TopicTask, events.TaskCreatedEvent{ID: t.ID, Repo: t.Repo, Timestamp: time.Now()})

	o.locks.Lock(t.ID)
	defer o.locks.Unlock(t.ID)

	return o.runPipeline(ctx, t, nil)
}

// runPipeline moves a received task through analysis and on to dispatch or
// clarification. The caller holds the task lock.
func (o *Orchestrator) runPipeline(ctx context.Context, t *task.Task, clarifications []QAPair) (*Result, error) {
	if err := o.applyTransition(ctx, t, task.StatusAnalyzing); err != nil {
		return nil, err
	}

	analysis, err := o.runAnalysis(ctx, t, clarifications)
	if err != nil {
		return nil, o.failTask(ctx, t, "analyze", err)
	}

	o.recordAnalysis(t, analysis)
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, t.ID, "llm_response", map[string]any{
		"clear_enough":      analysis.ClearEnough,
		"task_type":         analysis.TaskType,
		"recommended_agent": analysis.RecommendedAgent,
	})

	if analysis.ClearEnough {
		return o.dispatch(ctx, t, analysis)
	}

	if err := o.applyTransition(ctx, t, task.StatusNeedsClarification); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, t.ID, "clarification_sent", map[string]any{"questions": analysis.Questions})
	o.broadcast.BroadcastTaskUpdate(t.ID, "needs_clarification", map[string]any{"questions": analysis.Questions})

	return &Result{Task: t, NeedsClarification: true, Questions: analysis.Questions}, nil
}

// Clarify records the answers to a clarification round, re-runs analysis with
// the question/answer pairs as context, and dispatches.
func (o *Orchestrator) Clarify(ctx context.Context, taskID string, answers []string) (*Result, error) {
	o.locks.Lock(taskID)
	defer o.locks.Unlock(taskID)

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusNeedsClarification {
		return nil, &task.InvalidStateError{Op: "clarify", Status: t.Status}
	}

	t.ClarificationAnswers = answers
	t.IsClarified = true
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, t.ID, "clarification_received", map[string]any{"answers": answers})

	pairs := zipQA(t.ClarificationQuestions, answers)

	// No transition back to analyzing: the task stays needs_clarification
	// during re-analysis, then moves straight to dispatched.
	analysis, err := o.runAnalysis(ctx, t, pairs)
	if err != nil {
		return nil, o.failTask(ctx, t, "analyze", err)
	}

	o.recordAnalysis(t, analysis)
	t.ClarificationAnswers = answers
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, t.ID, "llm_response", map[string]any{
		"clear_enough":      analysis.ClearEnough,
		"task_type":         analysis.TaskType,
		"recommended_agent": analysis.RecommendedAgent,
	})

	return o.dispatch(ctx, t, analysis)
}

// dispatch transitions to dispatched, creates the tracking issue, and
// notifies. Issue-creation failure lands the task in failed; Slack failure
// never rolls back the dispatch.
func (o *Orchestrator) dispatch(ctx context.Context, t *task.Task, analysis *Analysis) (*Result, error) {
	if err := o.applyTransition(ctx, t, task.StatusDispatched); err != nil {
		return nil, err
	}

	issue, err := o.createIssue(ctx, t, analysis)
	if err != nil {
		return nil, o.failTask(ctx, t, "create_issue", err)
	}

	now := time.Now().UTC()
	t.GitHubIssueNumber = issue.IssueNumber
	t.GitHubIssueURL = issue.IssueURL
	t.DispatchedAt = &now
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, t.ID, "dispatched", map[string]any{
		"issue_number": issue.IssueNumber,
		"issue_url":    issue.IssueURL,
	})
	o.notifier.Notify(ctx, t.ID, "dispatched")
	o.broadcast.BroadcastTaskUpdate(t.ID, "dispatched", map[string]any{"issue_number": issue.IssueNumber})

	return &Result{Task: t, Issue: issue}, nil
}

// Retry re-runs a failed task through the whole pipeline from scratch.
func (o *Orchestrator) Retry(ctx context.Context, taskID string) (*Result, error) {
	o.locks.Lock(taskID)
	defer o.locks.Unlock(taskID)

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusFailed {
		return nil, &task.InvalidStateError{Op: "retry", Status: t.Status}
	}

	if err := o.applyTransition(ctx, t, task.StatusReceived); err != nil {
		return nil, err
	}
	t.ErrorMessage = ""
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, t.ID, "retry_requested", nil)

	return o.runPipeline(ctx, t, nil)
}

// Cancel deletes a task that has not been dispatched yet. The final audit
// event is logged on the now-deleted id.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	o.locks.Lock(taskID)
	unlocked := false
	defer func() {
		if !unlocked {
			o.locks.Unlock(taskID)
		}
	}()

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	switch t.Status {
	case task.StatusReceived, task.StatusAnalyzing, task.StatusNeedsClarification:
	default:
		return &task.InvalidStateError{Op: "cancel", Status: t.Status}
	}

	if err := o.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	o.appendEvent(ctx, taskID, "cancelled", map[string]any{"status": string(t.Status)})
	o.bus.Publish(events.TopicTask, events.TaskCancelledEvent{ID: taskID, Timestamp: time.Now()})

	o.locks.Unlock(taskID)
	unlocked = true
	o.locks.Forget(taskID)

	return nil
}

// ExternalEvent carries the PR context from a verified webhook delivery.
type ExternalEvent struct {
	PRNumber int    `json:"pr_number,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRStatus string `json:"pr_status,omitempty"`
}

// externalEventTypes maps the webhook-reported status to the audit event name.
var externalEventTypes = map[task.Status]string{
	task.StatusCoding: "coding_started",
	task.StatusPROpen: "pr_opened",
	task.StatusMerged: "pr_merged",
	task.StatusFailed: "pr_closed",
}

// OnExternalStatusEvent applies a webhook-reported status change, then feeds
// it into the dependency graph so dependents react.
func (o *Orchestrator) OnExternalStatusEvent(ctx context.Context, taskID string, newStatus task.Status, ev ExternalEvent) error {
	o.locks.Lock(taskID)
	defer o.locks.Unlock(taskID)

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := o.applyTransition(ctx, t, newStatus); err != nil {
		return err
	}

	if ev.PRNumber != 0 {
		t.GitHubPRNumber = ev.PRNumber
	}
	if ev.PRURL != "" {
		t.GitHubPRURL = ev.PRURL
	}
	if ev.PRStatus != "" {
		t.GitHubPRStatus = ev.PRStatus
	}
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	eventType := externalEventTypes[newStatus]
	if eventType == "" {
		eventType = "external_status"
	}
	o.appendEvent(ctx, t.ID, eventType, map[string]any{
		"status":    string(newStatus),
		"pr_number": ev.PRNumber,
	})
	o.notifier.Notify(ctx, t.ID, eventType)
	o.broadcast.BroadcastTaskUpdate(t.ID, eventType, map[string]any{"status": string(newStatus)})

	return o.graph.CheckTaskDependencies(ctx, taskID, newStatus)
}

// GetTask returns a task by id.
func (o *Orchestrator) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return o.store.GetTask(ctx, taskID)
}

// ListTasks returns all tasks.
func (o *Orchestrator) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return o.store.ListTasks(ctx)
}

// applyTransition validates the edge, then persists the new status together
// with its lifecycle event atomically. On any error the transition has not
// happened and t is left unchanged.
func (o *Orchestrator) applyTransition(ctx context.Context, t *task.Task, next task.Status) error {
	if err := task.ValidateTransition(t.Status, next); err != nil {
		return err
	}

	ev := task.Event{
		EventType: "status_changed",
		Payload:   map[string]any{"from": string(t.Status), "to": string(next)},
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.ApplyStatus(ctx, t.ID, t.Status, next, ev); err != nil {
		return err
	}

	from := t.Status
	t.Status = next
	o.log.Info("task status changed", "task_id", t.ID, "from", from, "to", next)
	o.bus.Publish(events.TopicTask, events.TaskStatusChangedEvent{
		ID: t.ID, From: from, To: next, Timestamp: time.Now(),
	})

	return nil
}

// failTask routes a collaborator failure: the task moves to failed with the
// reason recorded, and the wrapped error is returned for the caller to see.
func (o *Orchestrator) failTask(ctx context.Context, t *task.Task, op string, cause error) error {
	if err := o.applyTransition(ctx, t, task.StatusFailed); err != nil {
		// The transition to failed itself failing leaves the error
		// path intact; the caller still sees the original cause.
		o.log.Error("failed to transition task to failed",
			"task_id", t.ID, "from", t.Status, "error", err)
	}

	t.ErrorMessage = cause.Error()
	if err := o.store.UpdateTask(ctx, t); err != nil {
		o.log.Error("failed to record error message", "task_id", t.ID, "error", err)
	}

	o.appendEvent(ctx, t.ID, "failed", map[string]any{"op": op, "error": cause.Error()})
	o.bus.Publish(events.TopicTask, events.TaskFailedEvent{
		ID: t.ID, Reason: cause.Error(), Timestamp: time.Now(),
	})
	o.notifier.Notify(ctx, t.ID, "failed")

	return &task.CollaboratorError{Op: op, Err: cause}
}

// runAnalysis calls the analyzer with a timeout, circuit breaker, and retry.
func (o *Orchestrator) runAnalysis(ctx context.Context, t *task.Task, clarifications []QAPair) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, o.analyzerTimeout)
	defer cancel()

	cb := o.breakers.Get("analyzer")
	res, err := callWithRetry(ctx, cb, o.retryCfg, func(ctx context.Context) (any, error) {
		return o.analyzer.Analyze(ctx, t, clarifications)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Analysis), nil
}

// createIssue calls the issue-creation collaborator with a timeout, circuit
// breaker, and retry.
func (o *Orchestrator) createIssue(ctx context.Context, t *task.Task, analysis *Analysis) (*IssueResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.issueTimeout)
	defer cancel()

	cb := o.breakers.Get("github")
	res, err := callWithRetry(ctx, cb, o.retryCfg, func(ctx context.Context) (any, error) {
		return o.issues.CreateIssue(ctx, t, analysis)
	})
	if err != nil {
		return nil, err
	}
	return res.(*IssueResult), nil
}

// recordAnalysis copies analyzer output onto the task.
func (o *Orchestrator) recordAnalysis(t *task.Task, a *Analysis) {
	t.TaskType = a.TaskType
	t.RecommendedAgent = a.RecommendedAgent
	t.LLMSummary = a.Summary
	t.SuggestedCriteria = a.SuggestedCriteria
	t.LikelyFiles = a.LikelyFiles
	t.ClarificationQuestions = a.Questions
}

// appendEvent writes an audit entry; append failures are logged because the
// primary mutation already committed.
func (o *Orchestrator) appendEvent(ctx context.Context, taskID, eventType string, payload map[string]any) {
	ev := task.Event{EventType: eventType, Payload: payload, CreatedAt: time.Now().UTC()}
	if err := o.store.AppendEvent(ctx, taskID, ev); err != nil {
		o.log.Error("failed to append audit event",
			"task_id", taskID, "event_type", eventType, "error", err)
	}
}

// zipQA pairs questions with answers, stopping at the shorter list.
func zipQA(questions, answers []string) []QAPair {
	n := len(questions)
	if len(answers) < n {
		n = len(answers)
	}
	pairs := make([]QAPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, QAPair{Question: questions[i], Answer: answers[i]})
	}
	return pairs
}
