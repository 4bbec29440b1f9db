package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Orchestration event kinds. The event log is append-only: transitions are
// recorded as new rows, never overwritten, so it doubles as an audit trail
// and SLO input.
const (
	EventRetry              = "retry"
	EventMaxRetriesExceeded = "max_retries_exceeded"
	EventTaskDispatched     = "task_dispatched"
	EventTaskCompleted      = "task_completed"
	EventTaskFailed         = "task_failed"
	EventTaskBlocked        = "task_blocked"
	EventSwarmHealth        = "swarm_health"
	EventSLOEvaluated       = "slo_evaluated"
)

type Event struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	SwarmID   string    `json:"swarm_id,omitempty"`
	Kind      string    `json:"kind"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) AppendEvent(taskID, swarmID, kind, details string) error {
	_, err := s.db.Exec(`
		INSERT INTO events (id, task_id, swarm_id, kind, details)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, swarmID, kind, details)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsForSwarm(swarmID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, task_id, swarm_id, kind, details, created_at
		FROM events WHERE swarm_id = ?
		ORDER BY created_at DESC LIMIT ?`, swarmID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events for swarm: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListEventsForTask(taskID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, swarm_id, kind, details, created_at
		FROM events WHERE task_id = ?
		ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events for task: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// CountRecentEvents counts events of one kind within the given window,
// used for the monitor's intervention rate snapshot.
func (s *Store) CountRecentEvents(kind string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM events WHERE kind = ? AND created_at > ?`,
		kind, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent events: %w", err)
	}
	return n, nil
}

func collectEvents(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var taskID, swarmID, details *string
		if err := rows.Scan(&e.ID, &taskID, &swarmID, &e.Kind, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if taskID != nil {
			e.TaskID = *taskID
		}
		if swarmID != nil {
			e.SwarmID = *swarmID
		}
		if details != nil {
			e.Details = *details
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
