package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Task status values.
const (
	TaskPending    = "pending"
	TaskInProgress = "in-progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

type Task struct {
	ID           string          `json:"id"`
	SwarmID      string          `json:"swarm_id"`
	AgentID      string          `json:"agent_id,omitempty"`
	Kind         string          `json:"kind"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	// Seq preserves the plan's original task order; ties in priority
	// sorting break on it so scheduling stays deterministic.
	Seq         int        `json:"seq"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const taskColumns = `id, swarm_id, agent_id, kind, description, status, priority, dependencies, payload, seq, retry_count, next_retry_at, created_at, updated_at`

func (s *Store) SaveTask(t *Task) error {
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, swarm_id, agent_id, kind, description, status, priority, dependencies, payload, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			kind = excluded.kind,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			dependencies = excluded.dependencies,
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP`,
		t.ID, t.SwarmID, t.AgentID, t.Kind, t.Description, t.Status, t.Priority,
		string(deps), nullableJSON(t.Payload), t.Seq)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanStoredTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasksForSwarm(swarmID string) ([]Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE swarm_id = ? ORDER BY seq`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for swarm: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *Store) ListTasksForAgent(agentID string) ([]Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE agent_id = ? ORDER BY seq`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for agent: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *Store) UpdateTaskStatus(id, status string) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// FailedTasks returns failed tasks still inside the retry budget, most
// urgent first.
func (s *Store) FailedTasks(maxRetries int) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND retry_count < ?
		ORDER BY priority DESC, seq`, TaskFailed, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ExhaustedTasks returns failed tasks that have spent their whole retry
// budget and have no terminal event yet recorded.
func (s *Store) ExhaustedTasks(maxRetries int, terminalEventKind string) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.status = ? AND t.retry_count >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM events e WHERE e.task_id = t.id AND e.kind = ?
		  )
		ORDER BY t.seq`, TaskFailed, maxRetries, terminalEventKind)
	if err != nil {
		return nil, fmt.Errorf("exhausted tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ScheduleRetry stamps a failed task with the time its next retry becomes
// due. It is a no-op if a retry is already scheduled, so repeated monitor
// cycles do not push the deadline out.
func (s *Store) ScheduleRetry(id string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET next_retry_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND next_retry_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// RequeueTask flips a failed task back to pending, charging one retry
// attempt and clearing the retry deadline. Returns false if the task was
// not in the failed state (someone else already moved it).
func (s *Store) RequeueTask(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, retry_count = retry_count + 1, next_retry_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`, TaskPending, id, TaskFailed)
	if err != nil {
		return false, fmt.Errorf("requeue task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TaskStatusCounts groups all tasks by status for the monitor's health
// snapshot.
func (s *Store) TaskStatusCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RetriedTaskOutcomes reports, over tasks that have been retried at least
// once, how many ended up completed. Feeds the retry success rate.
func (s *Store) RetriedTaskOutcomes() (retried, completed int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE retry_count > 0`, TaskCompleted).Scan(&retried, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("retried task outcomes: %w", err)
	}
	return retried, completed, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanStoredTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanStoredTask(scanner interface {
	Scan(dest ...any) error
}) (*Task, error) {
	t := &Task{}
	var agentID, deps, payload *string
	err := scanner.Scan(&t.ID, &t.SwarmID, &agentID, &t.Kind, &t.Description, &t.Status,
		&t.Priority, &deps, &payload, &t.Seq, &t.RetryCount, &t.NextRetryAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if agentID != nil {
		t.AgentID = *agentID
	}
	if deps != nil && *deps != "" && *deps != "null" {
		if err := json.Unmarshal([]byte(*deps), &t.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies: %w", err)
		}
	}
	if payload != nil {
		t.Payload = json.RawMessage(*payload)
	}
	return t, nil
}
