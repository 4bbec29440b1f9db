package scheduler

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"hivemind/internal/store"
)

// Scheduler computes schedulability and progress over a swarm's task
// graph. It holds no state of its own; every answer is derived fresh
// from the store, so callers must re-query after any status change.
type Scheduler struct {
	store *store.Store
}

func New(s *store.Store) *Scheduler {
	return &Scheduler{store: s}
}

// Progress summarizes a swarm's task graph by status.
type Progress struct {
	Percent    float64 `json:"percent"`
	Completed  int     `json:"completed"`
	InProgress int     `json:"in_progress"`
	Pending    int     `json:"pending"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
}

// Stats is the scheduler snapshot exposed for dashboards and CLIs.
type Stats struct {
	Progress   Progress `json:"progress"`
	ReadyTasks int      `json:"ready_tasks"`
	HasCycle   bool     `json:"has_cycle"`
	Cycle      []string `json:"cycle,omitempty"`
}

// DependenciesMet reports whether every dependency of the task has
// completed. A failed dependency short-circuits to false; the task is
// blocked rather than waiting and no later dependency can unblock it.
func (sc *Scheduler) DependenciesMet(task store.Task) (bool, error) {
	tasks, err := sc.store.ListTasksForSwarm(task.SwarmID)
	if err != nil {
		return false, fmt.Errorf("dependencies for task %s: %w", task.ID, err)
	}
	met, reason := dependenciesMet(task, indexByID(tasks))
	if !met {
		slog.Debug("task not schedulable", "task", task.ID, "reason", reason)
	}
	return met, nil
}

// ReadyTasks returns every pending task whose dependencies are met,
// sorted by priority descending. Ties keep submission order; the sort
// is stable over the store's seq ordering so repeated calls agree.
func (sc *Scheduler) ReadyTasks(swarmID string) ([]store.Task, error) {
	tasks, err := sc.store.ListTasksForSwarm(swarmID)
	if err != nil {
		return nil, fmt.Errorf("ready tasks for swarm %s: %w", swarmID, err)
	}

	byID := indexByID(tasks)
	ready := make([]store.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status != store.TaskPending {
			continue
		}
		if met, _ := dependenciesMet(t, byID); met {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready, nil
}

// DetectCycle runs a depth-first search with a recursion stack over the
// swarm's dependency edges. On a back-edge it returns the cycle's task
// ids starting at the revisited task; a nil slice means the graph is
// acyclic. Dependency edges can be mutated after submission, so this is
// safe to call at any time, not only when a plan is accepted.
func (sc *Scheduler) DetectCycle(swarmID string) ([]string, error) {
	tasks, err := sc.store.ListTasksForSwarm(swarmID)
	if err != nil {
		return nil, fmt.Errorf("detect cycle for swarm %s: %w", swarmID, err)
	}
	return detectCycle(tasks), nil
}

// Progress reports completion percentage and per-status counts. An
// empty task set yields 0% rather than a division error.
func (sc *Scheduler) Progress(swarmID string) (Progress, error) {
	tasks, err := sc.store.ListTasksForSwarm(swarmID)
	if err != nil {
		return Progress{}, fmt.Errorf("progress for swarm %s: %w", swarmID, err)
	}
	return progressOf(tasks), nil
}

// CanAgentStart verifies that the task is assigned to the requesting
// agent and that its dependencies are met. On refusal the returned
// reason distinguishes ownership mismatch from unmet dependencies.
func (sc *Scheduler) CanAgentStart(agentID, taskID string) (bool, string, error) {
	task, err := sc.store.GetTask(taskID)
	if err != nil {
		return false, "", fmt.Errorf("can agent start: %w", err)
	}
	if task == nil {
		return false, fmt.Sprintf("task %s not found", taskID), nil
	}
	if task.AgentID != agentID {
		return false, fmt.Sprintf("task %s is assigned to %s, not %s", taskID, task.AgentID, agentID), nil
	}

	tasks, err := sc.store.ListTasksForSwarm(task.SwarmID)
	if err != nil {
		return false, "", fmt.Errorf("can agent start: %w", err)
	}
	if met, reason := dependenciesMet(*task, indexByID(tasks)); !met {
		return false, reason, nil
	}
	return true, "", nil
}

// Stats bundles progress, ready count and cycle diagnostics in one
// snapshot.
func (sc *Scheduler) Stats(swarmID string) (Stats, error) {
	tasks, err := sc.store.ListTasksForSwarm(swarmID)
	if err != nil {
		return Stats{}, fmt.Errorf("stats for swarm %s: %w", swarmID, err)
	}

	byID := indexByID(tasks)
	ready := 0
	for _, t := range tasks {
		if t.Status != store.TaskPending {
			continue
		}
		if met, _ := dependenciesMet(t, byID); met {
			ready++
		}
	}

	cycle := detectCycle(tasks)
	return Stats{
		Progress:   progressOf(tasks),
		ReadyTasks: ready,
		HasCycle:   cycle != nil,
		Cycle:      cycle,
	}, nil
}

// FindCycle runs cycle detection over an in-memory task slice. The
// planner uses it to reject cyclic plans before anything is persisted.
func FindCycle(tasks []store.Task) []string {
	return detectCycle(tasks)
}

func indexByID(tasks []store.Task) map[string]store.Task {
	byID := make(map[string]store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

func dependenciesMet(task store.Task, byID map[string]store.Task) (bool, string) {
	for _, depID := range task.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			return false, fmt.Sprintf("dependency %s does not exist", depID)
		}
		switch dep.Status {
		case store.TaskCompleted:
		case store.TaskFailed:
			return false, fmt.Sprintf("blocked: dependency %s failed", depID)
		default:
			return false, fmt.Sprintf("waiting on dependency %s (%s)", depID, dep.Status)
		}
	}
	return true, ""
}

func progressOf(tasks []store.Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case store.TaskCompleted:
			p.Completed++
		case store.TaskInProgress:
			p.InProgress++
		case store.TaskPending:
			p.Pending++
		case store.TaskFailed:
			p.Failed++
		}
	}
	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Completed)/float64(p.Total)*1000) / 10
	}
	return p
}

// detectCycle walks dependency edges depth-first, tracking the path on
// an explicit recursion stack. The returned cycle starts at the task
// whose revisit closed it.
func detectCycle(tasks []store.Task) []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)

	deps := make(map[string][]string, len(tasks))
	color := make(map[string]int, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
		order = append(order, t.ID)
	}

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				continue // dangling edge, reported elsewhere
			}
			switch color[dep] {
			case gray:
				for i, onPath := range stack {
					if onPath == dep {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range order {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}
