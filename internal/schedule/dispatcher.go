package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"hivemind/internal/bus"
	"hivemind/internal/config"
	"hivemind/internal/store"
)

// Submitter turns a stored plan document into a running swarm. The
// planner implements it; the indirection keeps this package free of
// plan validation concerns.
type Submitter interface {
	SubmitJSON(ctx context.Context, name string, plan json.RawMessage) (swarmID string, err error)
}

// Dispatcher fires stored swarm plans when their schedule comes due.
type Dispatcher struct {
	store        *store.Store
	submitter    Submitter
	client       *bus.Client
	pollInterval time.Duration
	reloadCh     chan time.Duration
}

func NewDispatcher(s *store.Store, sub Submitter, b *bus.Bus, cfg config.SchedulerConfig) *Dispatcher {
	d := &Dispatcher{
		store:        s,
		submitter:    sub,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan time.Duration, 1),
	}
	if d.pollInterval == 0 {
		d.pollInterval = 30 * time.Second
	}

	if b != nil {
		client, err := bus.NewClient(b)
		if err != nil {
			slog.Error("dispatcher nats client failed", "error", err)
		} else {
			d.client = client
		}
	}

	return d
}

// UpdateConfig hands the new poll interval to the run loop, which
// applies it on its own goroutine and resets the ticker. Writing the
// field here would race with the loop.
func (d *Dispatcher) UpdateConfig(pollInterval time.Duration) {
	// Replace any pending reload with the newest interval
	select {
	case <-d.reloadCh:
	default:
	}
	d.reloadCh <- pollInterval
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	slog.Info("schedule dispatcher started", "poll_interval", d.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("schedule dispatcher stopped")
			return
		case pollInterval := <-d.reloadCh:
			if pollInterval > 0 {
				d.pollInterval = pollInterval
			}
			ticker.Reset(d.pollInterval)
			slog.Info("dispatcher config reloaded", "poll_interval", d.pollInterval)
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	due, err := d.store.GetDueSchedules(time.Now().UTC())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sched := range due {
		d.fire(ctx, sched)
	}
}

func (d *Dispatcher) fire(ctx context.Context, sched store.SwarmSchedule) {
	slog.Info("firing scheduled swarm", "id", sched.ID, "name", sched.Name)

	swarmID, err := d.submitter.SubmitJSON(ctx, sched.Name, sched.Plan)

	lastStatus := "success"
	var lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled swarm failed to launch", "id", sched.ID, "error", err)
	}

	var nextRun *time.Time
	if sp, perr := Parse(sched.Schedule); perr == nil {
		nextRun = sp.NextRun(time.Now().UTC())
	}

	if err := d.store.UpdateScheduleRun(sched.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update schedule run", "id", sched.ID, "error", err)
	}

	// One-shot schedules retire once they have no next run
	if nextRun == nil {
		slog.Info("schedule completed", "id", sched.ID, "name", sched.Name)
		if err := d.store.UpdateScheduleStatus(sched.ID, "completed"); err != nil {
			slog.Error("failed to complete schedule", "id", sched.ID, "error", err)
		}
	}

	d.publishFired(sched, swarmID, lastStatus)
}

func (d *Dispatcher) publishFired(sched store.SwarmSchedule, swarmID, status string) {
	if d.client == nil {
		return
	}

	event := map[string]any{
		"type":      "schedule_fired",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":       sched.ID,
			"name":     sched.Name,
			"swarm_id": swarmID,
			"status":   status,
		},
	}
	_ = d.client.PublishJSON(bus.TopicScheduleEvents, event)
}

// Close releases the dispatcher's bus connection.
func (d *Dispatcher) Close() {
	if d.client != nil {
		d.client.Close()
	}
}
