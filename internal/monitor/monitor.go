package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hivemind/internal/bus"
	"hivemind/internal/config"
	"hivemind/internal/store"
)

// Monitor is the self-healing loop. It watches the store for failed
// tasks and requeues them with exponential backoff until the retry
// budget runs out. All retry state lives in the store, so a restarted
// monitor picks up exactly where the last one stopped.
type Monitor struct {
	store        *store.Store
	client       *bus.Client
	pollInterval time.Duration
	maxRetries   int
	backoffBase  time.Duration
	healthEvery  int
	reloadCh     chan config.MonitorConfig

	cycles int
}

func New(s *store.Store, b *bus.Bus, cfg config.MonitorConfig) *Monitor {
	m := &Monitor{
		store:        s,
		pollInterval: cfg.PollInterval,
		maxRetries:   cfg.MaxRetries,
		backoffBase:  cfg.BackoffBase,
		healthEvery:  cfg.HealthEvery,
		reloadCh:     make(chan config.MonitorConfig, 1),
	}
	if m.pollInterval == 0 {
		m.pollInterval = 10 * time.Second
	}
	if m.maxRetries == 0 {
		m.maxRetries = 3
	}
	if m.backoffBase == 0 {
		m.backoffBase = 10 * time.Second
	}
	if m.healthEvery == 0 {
		m.healthEvery = 10
	}

	if b != nil {
		client, err := bus.NewClient(b)
		if err != nil {
			slog.Error("monitor nats client failed", "error", err)
		} else {
			m.client = client
		}
	}

	return m
}

// UpdateConfig hands the new settings to the run loop, which applies
// them on its own goroutine and resets the ticker. The loop owns every
// tunable after Start; writing them here would race with it.
func (m *Monitor) UpdateConfig(cfg config.MonitorConfig) {
	// Replace any pending reload with the newest config
	select {
	case <-m.reloadCh:
	default:
	}
	m.reloadCh <- cfg
}

func (m *Monitor) applyConfig(cfg config.MonitorConfig) {
	if cfg.PollInterval > 0 {
		m.pollInterval = cfg.PollInterval
	}
	if cfg.MaxRetries > 0 {
		m.maxRetries = cfg.MaxRetries
	}
	if cfg.BackoffBase > 0 {
		m.backoffBase = cfg.BackoffBase
	}
	if cfg.HealthEvery > 0 {
		m.healthEvery = cfg.HealthEvery
	}
}

func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	slog.Info("monitor started",
		"poll_interval", m.pollInterval,
		"max_retries", m.maxRetries,
		"backoff_base", m.backoffBase)

	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped")
			return
		case cfg := <-m.reloadCh:
			m.applyConfig(cfg)
			ticker.Reset(m.pollInterval)
			slog.Info("monitor config reloaded", "poll_interval", m.pollInterval)
		case <-ticker.C:
			m.Cycle(time.Now().UTC())
		}
	}
}

// Cycle runs one monitor pass at the given instant: schedule retries
// for fresh failures, requeue the ones whose backoff elapsed, close out
// tasks that spent their budget, and emit a health snapshot every Nth
// cycle.
func (m *Monitor) Cycle(now time.Time) {
	m.retryFailed(now)
	m.closeExhausted()

	m.cycles++
	if m.cycles%m.healthEvery == 0 {
		m.healthSnapshot(now)
	}
}

// Backoff returns the delay before the given retry attempt: the base
// interval doubled per prior attempt.
func (m *Monitor) Backoff(retryCount int) time.Duration {
	return m.backoffBase << uint(retryCount)
}

func (m *Monitor) retryFailed(now time.Time) {
	tasks, err := m.store.FailedTasks(m.maxRetries)
	if err != nil {
		slog.Error("monitor failed-task scan", "error", err)
		return
	}

	for _, task := range tasks {
		if task.NextRetryAt == nil {
			delay := m.Backoff(task.RetryCount)
			if err := m.store.ScheduleRetry(task.ID, now.Add(delay)); err != nil {
				slog.Error("schedule retry", "task", task.ID, "error", err)
				continue
			}
			slog.Info("retry scheduled", "task", task.ID,
				"attempt", task.RetryCount+1, "delay", delay)
			continue
		}

		if now.Before(*task.NextRetryAt) {
			continue
		}

		requeued, err := m.store.RequeueTask(task.ID)
		if err != nil {
			slog.Error("requeue task", "task", task.ID, "error", err)
			continue
		}
		if !requeued {
			continue // someone else moved it first
		}

		attempt := task.RetryCount + 1
		delay := m.Backoff(task.RetryCount)
		details := fmt.Sprintf("attempt %d/%d after %s backoff", attempt, m.maxRetries, delay)
		if err := m.store.AppendEvent(task.ID, task.SwarmID, store.EventRetry, details); err != nil {
			slog.Error("append retry event", "task", task.ID, "error", err)
		}

		m.syncSwarmStatus(task.SwarmID)

		slog.Info("task requeued", "task", task.ID, "attempt", attempt, "max", m.maxRetries)
		m.publishEvent(task.SwarmID, "task_retried", map[string]any{
			"task_id": task.ID,
			"attempt": attempt,
		})
	}
}

// closeExhausted emits one terminal event per task that has burnt its
// whole retry budget. The task stays permanently failed.
func (m *Monitor) closeExhausted() {
	tasks, err := m.store.ExhaustedTasks(m.maxRetries, store.EventMaxRetriesExceeded)
	if err != nil {
		slog.Error("monitor exhausted-task scan", "error", err)
		return
	}

	for _, task := range tasks {
		details := fmt.Sprintf("permanently failed after %d attempts", task.RetryCount)
		if err := m.store.AppendEvent(task.ID, task.SwarmID, store.EventMaxRetriesExceeded, details); err != nil {
			slog.Error("append terminal event", "task", task.ID, "error", err)
			continue
		}

		m.syncSwarmStatus(task.SwarmID)

		slog.Warn("task abandoned", "task", task.ID, "attempts", task.RetryCount)
		m.publishEvent(task.SwarmID, "task_abandoned", map[string]any{
			"task_id":  task.ID,
			"attempts": task.RetryCount,
		})
	}
}

// syncSwarmStatus rolls the swarm's aggregate status forward after a
// task transition, matching the coordinator's write path.
func (m *Monitor) syncSwarmStatus(swarmID string) {
	if swarmID == "" {
		return
	}
	if _, err := m.store.RecomputeSwarmStatus(swarmID); err != nil {
		slog.Error("recompute swarm status", "swarm", swarmID, "error", err)
	}
}

func (m *Monitor) healthSnapshot(now time.Time) {
	counts, err := m.store.TaskStatusCounts()
	if err != nil {
		slog.Error("health snapshot counts", "error", err)
		return
	}

	window := time.Duration(m.healthEvery) * m.pollInterval
	interventions, err := m.store.CountRecentEvents(store.EventRetry, now.Add(-window))
	if err != nil {
		slog.Error("health snapshot interventions", "error", err)
		return
	}

	retried, recovered, err := m.store.RetriedTaskOutcomes()
	if err != nil {
		slog.Error("health snapshot outcomes", "error", err)
		return
	}
	successRate := 0.0
	if retried > 0 {
		successRate = float64(recovered) / float64(retried)
	}

	details := fmt.Sprintf("pending=%d in-progress=%d completed=%d failed=%d interventions=%d retry_success=%.2f",
		counts[store.TaskPending], counts[store.TaskInProgress],
		counts[store.TaskCompleted], counts[store.TaskFailed],
		interventions, successRate)
	if err := m.store.AppendEvent("", "", store.EventSwarmHealth, details); err != nil {
		slog.Error("append health event", "error", err)
	}

	slog.Info("swarm health",
		"pending", counts[store.TaskPending],
		"in_progress", counts[store.TaskInProgress],
		"completed", counts[store.TaskCompleted],
		"failed", counts[store.TaskFailed],
		"recent_interventions", interventions,
		"retry_success_rate", successRate)

	if m.client != nil {
		_ = m.client.PublishJSON(bus.TopicEventsMonitor, map[string]any{
			"type":      "health_snapshot",
			"timestamp": now.Format(time.RFC3339),
			"data": map[string]any{
				"task_counts":          counts,
				"recent_interventions": interventions,
				"retry_success_rate":   successRate,
			},
		})
	}
}

func (m *Monitor) publishEvent(swarmID, eventType string, data map[string]any) {
	if m.client == nil || swarmID == "" {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"swarm_id":  swarmID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	_ = m.client.PublishJSON(bus.TopicSwarmEvents(swarmID), event)
}

// Close releases the monitor's bus connection.
func (m *Monitor) Close() {
	if m.client != nil {
		m.client.Close()
	}
}
