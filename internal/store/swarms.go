package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Swarm status values. A swarm's status is a coarse aggregate derived from
// its task and agent states, recomputed by the callers that mutate them.
const (
	SwarmIdle      = "idle"
	SwarmRunning   = "running"
	SwarmPaused    = "paused"
	SwarmCompleted = "completed"
	SwarmError     = "error"
)

type Swarm struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SwarmStatus is the full durable view of one swarm: the query interface
// consumed by the scheduler and exposed to dashboards.
type SwarmStatus struct {
	Swarm  Swarm   `json:"swarm"`
	Agents []Agent `json:"agents"`
	Tasks  []Task  `json:"tasks"`
}

func (s *Store) SaveSwarm(sw *Swarm) error {
	_, err := s.db.Exec(`
		INSERT INTO swarms (id, name, status, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP`,
		sw.ID, sw.Name, sw.Status, nullableJSON(sw.Metadata))
	if err != nil {
		return fmt.Errorf("save swarm: %w", err)
	}
	return nil
}

func (s *Store) GetSwarm(id string) (*Swarm, error) {
	row := s.db.QueryRow(`SELECT id, name, status, metadata, created_at, updated_at FROM swarms WHERE id = ?`, id)
	sw, err := scanSwarm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get swarm: %w", err)
	}
	return sw, nil
}

func (s *Store) ListSwarms() ([]Swarm, error) {
	rows, err := s.db.Query(`SELECT id, name, status, metadata, created_at, updated_at FROM swarms ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list swarms: %w", err)
	}
	defer rows.Close()

	var swarms []Swarm
	for rows.Next() {
		sw, err := scanSwarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swarm: %w", err)
		}
		swarms = append(swarms, *sw)
	}
	return swarms, rows.Err()
}

func (s *Store) UpdateSwarmStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE swarms SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update swarm status: %w", err)
	}
	return nil
}

// RecomputeSwarmStatus derives the swarm's coarse status from its task
// states and writes it back. Paused swarms are left alone so an operator
// pause survives task transitions. A failed task only turns the swarm
// into an error once its terminal event is recorded; before that it is
// still in the retry pipeline and counts as ongoing work.
func (s *Store) RecomputeSwarmStatus(swarmID string) (string, error) {
	var current string
	err := s.db.QueryRow(`SELECT status FROM swarms WHERE id = ?`, swarmID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("swarm %s not found", swarmID)
	}
	if err != nil {
		return "", fmt.Errorf("recompute swarm status: %w", err)
	}
	if current == SwarmPaused {
		return current, nil
	}

	var total, completed, inProgress, failed, abandoned int
	err = s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND EXISTS (
				SELECT 1 FROM events e WHERE e.task_id = tasks.id AND e.kind = ?
			) THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE swarm_id = ?`,
		TaskCompleted, TaskInProgress, TaskFailed, TaskFailed, EventMaxRetriesExceeded, swarmID).
		Scan(&total, &completed, &inProgress, &failed, &abandoned)
	if err != nil {
		return "", fmt.Errorf("recompute swarm status: %w", err)
	}

	status := SwarmIdle
	switch {
	case total == 0:
	case abandoned > 0:
		status = SwarmError
	case completed == total:
		status = SwarmCompleted
	case inProgress > 0 || completed > 0 || failed > 0:
		status = SwarmRunning
	}

	if status != current {
		if err := s.UpdateSwarmStatus(swarmID, status); err != nil {
			return "", err
		}
	}
	return status, nil
}

func (s *Store) DeleteSwarm(id string) error {
	_, err := s.db.Exec(`DELETE FROM swarms WHERE id = ?`, id)
	return err
}

// GetSwarmStatus returns the swarm with all its agents and tasks in one read.
func (s *Store) GetSwarmStatus(swarmID string) (*SwarmStatus, error) {
	sw, err := s.GetSwarm(swarmID)
	if err != nil {
		return nil, err
	}
	if sw == nil {
		return nil, fmt.Errorf("swarm %s not found", swarmID)
	}

	agents, err := s.ListAgentsForSwarm(swarmID)
	if err != nil {
		return nil, err
	}

	tasks, err := s.ListTasksForSwarm(swarmID)
	if err != nil {
		return nil, err
	}

	return &SwarmStatus{Swarm: *sw, Agents: agents, Tasks: tasks}, nil
}

func scanSwarm(scanner interface {
	Scan(dest ...any) error
}) (*Swarm, error) {
	sw := &Swarm{}
	var metadata *string
	err := scanner.Scan(&sw.ID, &sw.Name, &sw.Status, &metadata, &sw.CreatedAt, &sw.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		sw.Metadata = json.RawMessage(*metadata)
	}
	return sw, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
