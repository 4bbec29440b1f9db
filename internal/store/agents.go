package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent status values.
const (
	AgentIdle      = "idle"
	AgentWorking   = "working"
	AgentCompleted = "completed"
	AgentFailed    = "failed"
	AgentWaiting   = "waiting"
)

type Agent struct {
	ID             string          `json:"id"`
	SwarmID        string          `json:"swarm_id"`
	Role           string          `json:"role"`
	Capabilities   json.RawMessage `json:"capabilities,omitempty"`
	Status         string          `json:"status"`
	LastHeartbeat  *time.Time      `json:"last_heartbeat,omitempty"`
	TasksCompleted int             `json:"tasks_completed"`
	TasksFailed    int             `json:"tasks_failed"`
	AvgExecMs      float64         `json:"avg_exec_ms"`
	CreatedAt      time.Time       `json:"created_at"`
}

const agentColumns = `id, swarm_id, role, capabilities, status, last_heartbeat, tasks_completed, tasks_failed, avg_exec_ms, created_at`

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, swarm_id, role, capabilities, status, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			capabilities = excluded.capabilities,
			status = excluded.status`,
		a.ID, a.SwarmID, a.Role, nullableJSON(a.Capabilities), a.Status, a.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgentsForSwarm(swarmID string) ([]Agent, error) {
	rows, err := s.db.Query(`SELECT `+agentColumns+` FROM agents WHERE swarm_id = ? ORDER BY created_at`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list agents for swarm: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) UpdateAgentStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE agents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return nil
}

func (s *Store) TouchAgentHeartbeat(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE agents SET last_heartbeat = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touch agent heartbeat: %w", err)
	}
	return nil
}

// RecordAgentExecution folds one task execution into the agent's counters
// and running average execution time, and sets the terminal status.
func (s *Store) RecordAgentExecution(id string, succeeded bool, elapsed time.Duration) error {
	status := AgentCompleted
	col := "tasks_completed"
	if !succeeded {
		status = AgentFailed
		col = "tasks_failed"
	}

	_, err := s.db.Exec(`
		UPDATE agents
		SET `+col+` = `+col+` + 1,
		    avg_exec_ms = (avg_exec_ms * (tasks_completed + tasks_failed) + ?) / (tasks_completed + tasks_failed + 1),
		    status = ?
		WHERE id = ?`,
		float64(elapsed.Milliseconds()), status, id)
	if err != nil {
		return fmt.Errorf("record agent execution: %w", err)
	}
	return nil
}

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*Agent, error) {
	a := &Agent{}
	var capabilities *string
	err := scanner.Scan(&a.ID, &a.SwarmID, &a.Role, &capabilities, &a.Status,
		&a.LastHeartbeat, &a.TasksCompleted, &a.TasksFailed, &a.AvgExecMs, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if capabilities != nil {
		a.Capabilities = json.RawMessage(*capabilities)
	}
	return a, nil
}
