package depgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/arlo/taskdeck/internal/task"
)

// DetectCycle reports whether adding the edge taskID -> candidateDependsOnID
// would close a cycle. It walks the task-kind dependency chain starting at
// candidateDependsOnID with an iterative stack and an explicit visited set,
// so the search is O(nodes+edges) and cannot loop or blow the call stack on
// pathological chains. A candidate that does not exist yields false.
func (e *Engine) DetectCycle(ctx context.Context, taskID, candidateDependsOnID string) (bool, error) {
	visited := make(map[string]bool)
	stack := []string{candidateDependsOnID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == taskID {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		t, err := e.store.GetTask(ctx, current)
		if err != nil {
			// Weak references: a missing node ends that branch.
			if isNotFound(err) {
				continue
			}
			return false, err
		}

		for _, d := range t.Dependencies {
			if d.Kind == task.DepKindTask && !visited[d.TaskID] {
				stack = append(stack, d.TaskID)
			}
		}
	}

	return false, nil
}

// ValidateGraph topologically sorts all known tasks along their task-kind
// dependency edges and returns a valid ordering. Insertion-time cycle
// detection keeps the graph acyclic, so an error here indicates store-level
// corruption. Edges pointing at deleted tasks are skipped.
func (e *Engine) ValidateGraph(ctx context.Context) ([]string, error) {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		hasEdge := false
		for _, d := range t.Dependencies {
			if d.Kind != task.DepKindTask || !known[d.TaskID] {
				continue
			}
			// Edge (dep, task): the depended-upon task sorts first.
			edges = append(edges, toposort.Edge{d.TaskID, t.ID})
			hasEdge = true
		}
		if !hasEdge {
			// Anchor isolated tasks so they appear in the ordering.
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	return order, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, task.ErrNotFound)
}
