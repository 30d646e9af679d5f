// Package depgraph manages the dependency lists attached to tasks: cycle-safe
// insertion, derived canStart/dependencyStatus state, and status propagation
// when an upstream task reaches its required status.
//
// Task-kind dependencies across all tasks form a directed graph (dependent ->
// depended-upon). The graph is never observably cyclic: every insertion runs
// cycle detection first. The cached DependencyStatus and BlockedBy fields on a
// task are a write-through cache over its dependency list; every mutating
// operation here recomputes them as its last step and callers never supply
// them directly.
package depgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arlo/taskdeck/internal/events"
	"github.com/arlo/taskdeck/internal/store"
	"github.com/arlo/taskdeck/internal/task"
)

// AutoStarter is an optional hook invoked when a task with auto-start enabled
// becomes startable after a dependency resolves. The default wiring leaves it
// nil; the engine then only emits an AutoStartEvent for external schedulers.
type AutoStarter interface {
	AutoStart(ctx context.Context, taskID string)
}

// Engine is the dependency graph engine.
type Engine struct {
	store       store.Store
	bus         *events.EventBus
	log         *slog.Logger
	autoStarter AutoStarter

	// Max concurrent dependents processed during status propagation.
	resolveLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithAutoStarter installs the auto-start hook.
func WithAutoStarter(as AutoStarter) Option {
	return func(e *Engine) { e.autoStarter = as }
}

// WithResolveLimit bounds concurrent dependent processing in
// CheckTaskDependencies (default 4).
func WithResolveLimit(n int) Option {
	return func(e *Engine) { e.resolveLimit = n }
}

// New creates a dependency graph engine.
func New(st store.Store, bus *events.EventBus, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		bus:          bus,
		log:          logger,
		resolveLimit: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DependencySpec is the caller-supplied description of a new dependency.
// Exactly the variant fields for Kind must be set.
type DependencySpec struct {
	Kind             task.DependencyKind   `json:"kind"`
	TaskID           string                `json:"task_id,omitempty"`
	Repo             string                `json:"repo,omitempty"`
	PRNumber         int                   `json:"pr_number,omitempty"`
	ExternalRepo     string                `json:"external_repo,omitempty"`
	ExternalIssueNum int                   `json:"external_issue_num,omitempty"`
	RequiredStatus   string                `json:"required_status,omitempty"`
	BlockingBehavior task.BlockingBehavior `json:"blocking_behavior,omitempty"`
	AutoStart        bool                  `json:"auto_start,omitempty"`
}

// validate checks the variant-specific required fields.
func (s DependencySpec) validate() error {
	switch s.Kind {
	case task.DepKindTask:
		if s.TaskID == "" {
			return &task.MissingFieldError{Field: "task_id"}
		}
	case task.DepKindPR:
		if s.Repo == "" {
			return &task.MissingFieldError{Field: "repo"}
		}
		if s.PRNumber == 0 {
			return &task.MissingFieldError{Field: "pr_number"}
		}
	case task.DepKindExternalIssue:
		if s.ExternalRepo == "" {
			return &task.MissingFieldError{Field: "external_repo"}
		}
		if s.ExternalIssueNum == 0 {
			return &task.MissingFieldError{Field: "external_issue_num"}
		}
	default:
		return &task.MissingFieldError{Field: "kind"}
	}
	return nil
}

// AddDependency validates and attaches a new dependency to a task.
// Fails with MissingFieldError, task.ErrNotFound (task or referenced task),
// task.ErrCircularDependency, or task.ErrDuplicateDependency; on any of these
// no mutation happens and no event is logged.
func (e *Engine) AddDependency(ctx context.Context, taskID string, spec DependencySpec) (*task.Dependency, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if spec.Kind == task.DepKindTask {
		if _, err := e.store.GetTask(ctx, spec.TaskID); err != nil {
			return nil, fmt.Errorf("referenced task: %w", err)
		}
		cyclic, err := e.DetectCycle(ctx, taskID, spec.TaskID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, fmt.Errorf("dependency %s -> %s: %w", taskID, spec.TaskID, task.ErrCircularDependency)
		}
	}

	dep := task.Dependency{
		ID:               task.NewID(),
		Kind:             spec.Kind,
		TaskID:           spec.TaskID,
		Repo:             spec.Repo,
		PRNumber:         spec.PRNumber,
		ExternalRepo:     spec.ExternalRepo,
		ExternalIssueNum: spec.ExternalIssueNum,
		RequiredStatus:   spec.RequiredStatus,
		BlockingBehavior: spec.BlockingBehavior,
		CurrentState:     task.DepStatePending,
		CreatedAt:        time.Now().UTC(),
	}
	if dep.RequiredStatus == "" {
		dep.RequiredStatus = task.DefaultRequiredStatus(spec.Kind)
	}
	if dep.BlockingBehavior == "" {
		dep.BlockingBehavior = task.BlockingHard
	}

	for _, existing := range t.Dependencies {
		if existing.TargetKey() == dep.TargetKey() {
			return nil, fmt.Errorf("%s: %w", dep.TargetKey(), task.ErrDuplicateDependency)
		}
	}

	t.Dependencies = append(t.Dependencies, dep)
	if spec.AutoStart {
		t.AutoStartOnDependency = true
	}
	e.recomputeDerived(t)

	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}

	e.appendEvent(ctx, t.ID, "dependency_added", map[string]any{
		"dependency_id": dep.ID,
		"kind":          string(dep.Kind),
		"target":        dep.TargetKey(),
	})
	e.bus.Publish(events.TopicDependency, events.DependencyAddedEvent{
		ID:           t.ID,
		DependencyID: dep.ID,
		Kind:         dep.Kind,
		Timestamp:    time.Now(),
	})

	return &dep, nil
}

// RemoveDependency detaches a dependency and recomputes the derived fields.
func (e *Engine) RemoveDependency(ctx context.Context, taskID, depID string) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	idx := -1
	for i := range t.Dependencies {
		if t.Dependencies[i].ID == depID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("dependency %s: %w", depID, task.ErrNotFound)
	}

	t.Dependencies = append(t.Dependencies[:idx], t.Dependencies[idx+1:]...)
	e.recomputeDerived(t)

	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	e.appendEvent(ctx, t.ID, "dependency_removed", map[string]any{"dependency_id": depID})
	e.bus.Publish(events.TopicDependency, events.DependencyRemovedEvent{
		ID:           t.ID,
		DependencyID: depID,
		Timestamp:    time.Now(),
	})

	return nil
}

// EnrichedDependency is a dependency plus live data from the referenced task
// when the kind is task.
type EnrichedDependency struct {
	task.Dependency
	Title      string      `json:"title,omitempty"`
	TaskStatus task.Status `json:"task_status,omitempty"`
}

// DependencyList is the result of GetDependencies.
type DependencyList struct {
	Dependencies []EnrichedDependency `json:"dependencies"`
	CanStart     bool                 `json:"can_start"`
	BlockedBy    []string             `json:"blocked_by"`
}

// GetDependencies returns the full dependency list, enriched with the
// referenced task's title and current status for task-kind entries.
func (e *Engine) GetDependencies(ctx context.Context, taskID string) (*DependencyList, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	list := &DependencyList{
		Dependencies: make([]EnrichedDependency, 0, len(t.Dependencies)),
		CanStart:     canStart(t),
		BlockedBy:    computeBlockedBy(t),
	}

	for _, d := range t.Dependencies {
		enriched := EnrichedDependency{Dependency: d}
		if d.Kind == task.DepKindTask {
			// Weak reference: the target may have been cancelled since.
			if ref, err := e.store.GetTask(ctx, d.TaskID); err == nil {
				enriched.Title = ref.Title()
				enriched.TaskStatus = ref.Status
			}
		}
		list.Dependencies = append(list.Dependencies, enriched)
	}

	return list, nil
}

// GetDependents returns all tasks that list taskID as a task-kind dependency
// target.
func (e *Engine) GetDependents(ctx context.Context, taskID string) ([]*task.Task, error) {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.store.FindDependents(ctx, taskID)
}

// CanTaskStart reports whether no hard dependency remains unresolved.
// A task with zero dependencies can always start.
func (e *Engine) CanTaskStart(ctx context.Context, taskID string) (bool, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	return canStart(t), nil
}

// UpdateBlockedBy recomputes and persists the task's blockedBy list.
func (e *Engine) UpdateBlockedBy(ctx context.Context, taskID string) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	t.BlockedBy = computeBlockedBy(t)
	return e.store.UpdateTask(ctx, t)
}

// UpdateDependencyStatus recomputes the derived dependency status. Writes and
// appends a dependency_status_changed event only when the value actually
// changed, so repeated calls with no intervening change are no-ops.
func (e *Engine) UpdateDependencyStatus(ctx context.Context, taskID string) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	old := t.DependencyStatus
	next := computeDerivedStatus(t)
	if next == old {
		return nil
	}

	t.DependencyStatus = next
	t.BlockedBy = computeBlockedBy(t)
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	e.appendEvent(ctx, t.ID, "dependency_status_changed", map[string]any{
		"old": string(old),
		"new": string(next),
	})
	e.bus.Publish(events.TopicDependency, events.DependencyStatusChangedEvent{
		ID:        t.ID,
		From:      old,
		To:        next,
		Timestamp: time.Now(),
	})

	return nil
}

// ResolveDependency marks one dependency resolved, stamps ResolvedAt, and
// recomputes the owner's derived fields.
func (e *Engine) ResolveDependency(ctx context.Context, taskID, depID string) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	dep := t.FindDependency(depID)
	if dep == nil {
		return fmt.Errorf("dependency %s: %w", depID, task.ErrNotFound)
	}

	now := time.Now().UTC()
	dep.CurrentState = task.DepStateResolved
	dep.ResolvedAt = &now

	oldStatus := t.DependencyStatus
	t.BlockedBy = computeBlockedBy(t)
	t.DependencyStatus = computeDerivedStatus(t)

	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	if t.DependencyStatus != oldStatus {
		e.appendEvent(ctx, t.ID, "dependency_status_changed", map[string]any{
			"old": string(oldStatus),
			"new": string(t.DependencyStatus),
		})
		e.bus.Publish(events.TopicDependency, events.DependencyStatusChangedEvent{
			ID:        t.ID,
			From:      oldStatus,
			To:        t.DependencyStatus,
			Timestamp: time.Now(),
		})
	}

	e.appendEvent(ctx, t.ID, "dependency_resolved", map[string]any{"dependency_id": depID})
	e.bus.Publish(events.TopicDependency, events.DependencyResolvedEvent{
		ID:           t.ID,
		DependencyID: depID,
		Timestamp:    time.Now(),
	})

	return nil
}

// acceptedStatuses maps a dependency's requiredStatus to the set of task
// statuses that satisfy it. The asymmetry is inherited behavior: a
// "dispatched" requirement tolerates anything at or past dispatch, while
// "merged" accepts only merged itself.
var acceptedStatuses = map[string][]task.Status{
	"merged":     {task.StatusMerged},
	"completed":  {task.StatusMerged},
	"dispatched": {task.StatusDispatched, task.StatusCoding, task.StatusPROpen, task.StatusMerged},
}

// statusAccepted reports whether newStatus satisfies requiredStatus.
// Unknown required statuses default to requiring merged.
func statusAccepted(requiredStatus string, newStatus task.Status) bool {
	accepted, ok := acceptedStatuses[requiredStatus]
	if !ok {
		accepted = acceptedStatuses["merged"]
	}
	for _, s := range accepted {
		if s == newStatus {
			return true
		}
	}
	return false
}

// CheckTaskDependencies reacts to a task's status change: every task holding
// a task-kind dependency on resolvedTaskID whose requiredStatus accepts
// newStatus gets that dependency resolved. Dependents are independent of each
// other and are processed concurrently with a bounded group. Resolution never
// adds dependencies, so cascade depth is bounded by the static graph.
func (e *Engine) CheckTaskDependencies(ctx context.Context, resolvedTaskID string, newStatus task.Status) error {
	dependents, err := e.store.FindDependents(ctx, resolvedTaskID)
	if err != nil {
		return err
	}
	if len(dependents) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.resolveLimit)

	for _, dependent := range dependents {
		dep := dependent
		g.Go(func() error {
			return e.resolveMatching(gctx, dep, resolvedTaskID, newStatus)
		})
	}

	return g.Wait()
}

// resolveMatching resolves every matching dependency on one dependent and
// emits the auto-start signal when the dependent becomes startable.
func (e *Engine) resolveMatching(ctx context.Context, dependent *task.Task, resolvedTaskID string, newStatus task.Status) error {
	resolvedAny := false
	for _, d := range dependent.Dependencies {
		if d.Kind != task.DepKindTask || d.TaskID != resolvedTaskID {
			continue
		}
		if d.CurrentState == task.DepStateResolved {
			continue
		}
		if !statusAccepted(d.RequiredStatus, newStatus) {
			continue
		}
		if err := e.ResolveDependency(ctx, dependent.ID, d.ID); err != nil {
			return fmt.Errorf("resolving dependency %s on task %s: %w", d.ID, dependent.ID, err)
		}
		resolvedAny = true
	}

	if !resolvedAny {
		return nil
	}

	// Re-read: ResolveDependency recomputed the derived fields.
	updated, err := e.store.GetTask(ctx, dependent.ID)
	if err != nil {
		return err
	}
	if updated.AutoStartOnDependency && canStart(updated) {
		e.log.Info("dependency resolution unblocked task with auto-start enabled",
			"task_id", updated.ID)
		e.bus.Publish(events.TopicDependency, events.AutoStartEvent{
			ID:        updated.ID,
			Timestamp: time.Now(),
		})
		if e.autoStarter != nil {
			e.autoStarter.AutoStart(ctx, updated.ID)
		}
	}

	return nil
}

// canStart reports whether no hard dependency is unresolved.
func canStart(t *task.Task) bool {
	for _, d := range t.Dependencies {
		if d.BlockingBehavior == task.BlockingHard && d.CurrentState != task.DepStateResolved {
			return false
		}
	}
	return true
}

// computeBlockedBy returns the ids of hard unresolved dependencies.
func computeBlockedBy(t *task.Task) []string {
	var blocked []string
	for _, d := range t.Dependencies {
		if d.BlockingBehavior == task.BlockingHard && d.CurrentState != task.DepStateResolved {
			blocked = append(blocked, d.ID)
		}
	}
	return blocked
}

// computeDerivedStatus derives the aggregate dependency status: blocked wins,
// then ready if nothing hard remains, else pending.
func computeDerivedStatus(t *task.Task) task.DerivedStatus {
	for _, d := range t.Dependencies {
		if d.CurrentState == task.DepStateBlocked {
			return task.DerivedBlocked
		}
	}
	if canStart(t) {
		return task.DerivedReady
	}
	return task.DerivedPending
}

// recomputeDerived refreshes both cached fields on a loaded task.
func (e *Engine) recomputeDerived(t *task.Task) {
	t.BlockedBy = computeBlockedBy(t)
	t.DependencyStatus = computeDerivedStatus(t)
}

// appendEvent writes an audit entry; failures are logged, not propagated,
// because the primary mutation already committed.
func (e *Engine) appendEvent(ctx context.Context, taskID, eventType string, payload map[string]any) {
	ev := task.Event{EventType: eventType, Payload: payload, CreatedAt: time.Now().UTC()}
	if err := e.store.AppendEvent(ctx, taskID, ev); err != nil {
		e.log.Error("failed to append audit event",
			"task_id", taskID, "event_type", eventType, "error", err)
	}
}
