package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hivemind/internal/bus"
	"hivemind/internal/config"
	"hivemind/internal/store"
)

// Executor is the agent execution entry point, implemented outside this
// module. Errors and panics from Execute are absorbed by the coordinator
// and converted into failed results.
type Executor interface {
	Execute(ctx context.Context, task store.Task) (Result, error)
}

// AgentHealth is the coordinator's transient view of one agent. Durable
// counters live in the store; this map is private to one coordinator
// instance and written through on every mutation.
type AgentHealth struct {
	Role           Role      `json:"role"`
	Status         string    `json:"status"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	AvgExecMs      float64   `json:"avg_exec_ms"`
}

// SwarmStats is the polling-friendly health snapshot exposed to
// collaborators.
type SwarmStats struct {
	TotalAgents int                    `json:"total_agents"`
	Agents      map[string]AgentHealth `json:"agents"`
}

// Coordinator owns per-agent inboxes and liveness tracking for one
// process. It is constructed explicitly by the hosting service and torn
// down with it; there is no shared module-level instance.
type Coordinator struct {
	store        *store.Store
	client       *bus.Client
	routing      map[TaskKind]Role
	heartbeatTTL time.Duration

	mu      sync.RWMutex
	inboxes map[string]*Inbox
	health  map[string]*AgentHealth
	results map[string]Result
}

func NewCoordinator(s *store.Store, b *bus.Bus, cfg config.SwarmConfig) *Coordinator {
	c := &Coordinator{
		store:        s,
		routing:      DefaultRouting(),
		heartbeatTTL: cfg.HeartbeatTTL,
		inboxes:      make(map[string]*Inbox),
		health:       make(map[string]*AgentHealth),
		results:      make(map[string]Result),
	}
	if c.heartbeatTTL == 0 {
		c.heartbeatTTL = 30 * time.Second
	}

	if b != nil {
		client, err := bus.NewClient(b)
		if err != nil {
			slog.Error("coordinator nats client failed", "error", err)
		} else {
			c.client = client
		}
	}

	return c
}

// Register creates an inbox and health record for the agent if absent and
// returns the inbox. Registering an already known agent returns the
// existing inbox untouched.
func (c *Coordinator) Register(agentID string, role Role) *Inbox {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inbox, ok := c.inboxes[agentID]; ok {
		return inbox
	}

	inbox := newInbox(agentID)
	c.inboxes[agentID] = inbox
	c.health[agentID] = &AgentHealth{
		Role:          role,
		Status:        store.AgentIdle,
		LastHeartbeat: time.Now().UTC(),
	}

	slog.Info("agent registered", "agent", agentID, "role", role)
	return inbox
}

// Send enqueues a message onto the receiver's inbox. A message to an
// unregistered agent is dropped with a warning; the sender is unaffected.
// Delivery is at-most-once within this process.
func (c *Coordinator) Send(msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	c.mu.RLock()
	inbox, ok := c.inboxes[msg.To]
	c.mu.RUnlock()

	if !ok {
		slog.Warn("message to unregistered agent dropped", "from", msg.From, "to", msg.To, "kind", msg.Kind)
		return nil
	}

	inbox.Enqueue(msg)
	c.mirror(msg)
	return nil
}

// Broadcast fans a message out to every registered agent except the
// sender. Sends are issued concurrently; the call returns once all have
// been enqueued. No ordering is guaranteed across receivers.
func (c *Coordinator) Broadcast(fromAgent string, kind MessageKind, payload Payload) error {
	if payload == nil || payload.Kind() != kind {
		return fmt.Errorf("broadcast: payload does not match kind %q", kind)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	c.mu.RLock()
	receivers := make([]string, 0, len(c.inboxes))
	for id := range c.inboxes {
		if id != fromAgent {
			receivers = append(receivers, id)
		}
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, to := range receivers {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			_ = c.Send(Message{
				From:    fromAgent,
				To:      to,
				Kind:    kind,
				Payload: payload,
				SentAt:  time.Now().UTC(),
			})
		}(to)
	}
	wg.Wait()
	return nil
}

// Handshake registers the agent if needed and announces its capability
// set to the rest of the swarm. It returns once the broadcast has been
// enqueued everywhere; no acknowledgement is awaited.
func (c *Coordinator) Handshake(agentID string, role Role, capabilities map[string]string) error {
	c.Register(agentID, role)

	err := c.Broadcast(agentID, KindHandshake, HandshakePayload{
		Role:         role,
		Capabilities: capabilities,
	})
	if err != nil {
		return fmt.Errorf("handshake broadcast: %w", err)
	}

	slog.Info("agent handshake complete", "agent", agentID, "role", role)
	return nil
}

// RouteTask selects the agent a task should run on. The statically mapped
// agent wins when idle; otherwise the first idle agent is used, and if no
// agent is idle the mapped agent is returned anyway and the caller must
// handle the contention. The selected agent is marked working.
func (c *Coordinator) RouteTask(task store.Task) (string, error) {
	kind, err := ParseTaskKind(task.Kind)
	if err != nil {
		return "", fmt.Errorf("route task %s: %w", task.ID, err)
	}
	role, ok := c.routing[kind]
	if !ok {
		return "", fmt.Errorf("route task %s: no role mapped for kind %q", task.ID, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Walk agents in sorted id order; map iteration would make the
	// static mapping flap between equivalent agents across calls.
	ids := make([]string, 0, len(c.health))
	for id := range c.health {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var mapped string
	for _, id := range ids {
		if c.health[id].Role == role {
			mapped = id
			break
		}
	}
	if mapped == "" {
		return "", fmt.Errorf("route task %s: no agent registered for role %q", task.ID, role)
	}

	selected := mapped
	if c.health[mapped].Status != store.AgentIdle {
		fallback := ""
		for _, id := range ids {
			if c.health[id].Status == store.AgentIdle {
				fallback = id
				break
			}
		}
		if fallback != "" {
			selected = fallback
			if c.health[fallback].Role != role {
				// Known hazard: under contention the fallback can lack
				// the capability the task asks for.
				slog.Warn("task routed across capabilities",
					"task", task.ID, "kind", kind,
					"wanted_role", role, "selected_role", c.health[fallback].Role)
			}
		}
	}

	c.setStatusLocked(selected, store.AgentWorking)
	return selected, nil
}

// ExecuteTask resolves the target agent, invokes its execution entry
// point and folds the outcome into health counters and the store. Agent
// errors and panics never propagate; they become failed results.
func (c *Coordinator) ExecuteTask(ctx context.Context, task store.Task, registry map[string]Executor) Result {
	agentID, err := c.RouteTask(task)
	if err != nil {
		return c.finishTask(task, "", Result{TaskID: task.ID, Status: store.TaskFailed, Error: err.Error()}, 0)
	}

	exec, ok := registry[agentID]
	if !ok {
		// RouteTask already marked the agent working; it never ran, so
		// release it without charging a failure.
		c.mu.Lock()
		c.setStatusLocked(agentID, store.AgentIdle)
		c.mu.Unlock()
		return c.finishTask(task, "", Result{
			TaskID: task.ID,
			Status: store.TaskFailed,
			Error:  fmt.Sprintf("no executor for agent %s", agentID),
		}, 0)
	}

	if c.store != nil {
		_ = c.store.UpdateTaskStatus(task.ID, store.TaskInProgress)
		_ = c.store.AppendEvent(task.ID, task.SwarmID, store.EventTaskDispatched,
			fmt.Sprintf("dispatched to %s", agentID))
		c.syncSwarmStatus(task.SwarmID)
	}

	start := time.Now()
	result := c.invoke(ctx, exec, task)
	return c.finishTask(task, agentID, result, time.Since(start))
}

// invoke isolates the agent call so a panicking executor cannot take the
// coordination loop down with it.
func (c *Coordinator) invoke(ctx context.Context, exec Executor, task store.Task) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent panicked during task", "task", task.ID, "panic", r)
			result = Result{TaskID: task.ID, Status: store.TaskFailed, Error: fmt.Sprintf("agent panic: %v", r)}
		}
	}()

	res, err := exec.Execute(ctx, task)
	if err != nil {
		return Result{TaskID: task.ID, Status: store.TaskFailed, Error: err.Error()}
	}
	if res.TaskID == "" {
		res.TaskID = task.ID
	}
	return res
}

func (c *Coordinator) finishTask(task store.Task, agentID string, result Result, elapsed time.Duration) Result {
	succeeded := result.Status == store.TaskCompleted

	c.mu.Lock()
	c.results[task.ID] = result
	if h, ok := c.health[agentID]; ok {
		total := float64(h.TasksCompleted + h.TasksFailed)
		h.AvgExecMs = (h.AvgExecMs*total + float64(elapsed.Milliseconds())) / (total + 1)
		if succeeded {
			h.TasksCompleted++
			h.Status = store.AgentCompleted
		} else {
			h.TasksFailed++
			h.Status = store.AgentFailed
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if agentID != "" {
			_ = c.store.RecordAgentExecution(agentID, succeeded, elapsed)
		}
		_ = c.store.UpdateTaskStatus(task.ID, result.Status)
		eventKind := store.EventTaskCompleted
		details := fmt.Sprintf("completed by %s in %dms", agentID, elapsed.Milliseconds())
		if !succeeded {
			eventKind = store.EventTaskFailed
			details = result.Error
		}
		_ = c.store.AppendEvent(task.ID, task.SwarmID, eventKind, details)
		c.syncSwarmStatus(task.SwarmID)
	}

	c.publishEvent(task.SwarmID, "task_finished", map[string]any{
		"task_id": task.ID,
		"agent":   agentID,
		"status":  result.Status,
	})

	return result
}

// syncSwarmStatus rolls the swarm's aggregate status forward after a
// task transition. The swarm never mutates its own status; every writer
// of task state recomputes the aggregate.
func (c *Coordinator) syncSwarmStatus(swarmID string) {
	if c.store == nil || swarmID == "" {
		return
	}
	if _, err := c.store.RecomputeSwarmStatus(swarmID); err != nil {
		slog.Error("recompute swarm status", "swarm", swarmID, "error", err)
	}
}

// CachedResult returns the last execution result recorded for a task id.
func (c *Coordinator) CachedResult(taskID string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[taskID]
	return r, ok
}

// Heartbeat records that an agent is alive.
func (c *Coordinator) Heartbeat(agentID string) {
	now := time.Now().UTC()

	c.mu.Lock()
	h, ok := c.health[agentID]
	if ok {
		h.LastHeartbeat = now
	}
	c.mu.Unlock()

	if ok && c.store != nil {
		_ = c.store.TouchAgentHeartbeat(agentID, now)
	}
}

// PingAll sends a ping to every registered agent and reports liveness per
// agent. An agent counts as alive while its heartbeat is younger than the
// configured TTL. This is a hint rather than a guarantee: a busy agent
// can miss pings and still be healthy.
func (c *Coordinator) PingAll() map[string]bool {
	c.mu.RLock()
	ids := make([]string, 0, len(c.inboxes))
	for id := range c.inboxes {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	alive := make(map[string]bool, len(ids))
	now := time.Now().UTC()
	for _, id := range ids {
		_ = c.Send(Message{From: "coordinator", To: id, Kind: KindPing, Payload: PingPayload{}, SentAt: now})

		c.mu.RLock()
		h := c.health[id]
		alive[id] = now.Sub(h.LastHeartbeat) < c.heartbeatTTL
		c.mu.RUnlock()
	}
	return alive
}

// Stats returns a point-in-time snapshot of every registered agent.
func (c *Coordinator) Stats() SwarmStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := SwarmStats{
		TotalAgents: len(c.health),
		Agents:      make(map[string]AgentHealth, len(c.health)),
	}
	for id, h := range c.health {
		stats.Agents[id] = *h
	}
	return stats
}

func (c *Coordinator) setStatusLocked(agentID, status string) {
	if h, ok := c.health[agentID]; ok {
		h.Status = status
	}
	if c.store != nil {
		_ = c.store.UpdateAgentStatus(agentID, status)
	}
}

// mirror copies inbox traffic onto the bus for observers. Delivery to the
// agent does not depend on it.
func (c *Coordinator) mirror(msg Message) {
	if c.client == nil {
		return
	}
	_ = c.client.PublishJSON(bus.TopicAgentInbox(msg.To), msg)
}

func (c *Coordinator) publishEvent(swarmID, eventType string, data map[string]any) {
	if c.client == nil || swarmID == "" {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"swarm_id":  swarmID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	_ = c.client.PublishJSON(bus.TopicSwarmEvents(swarmID), event)
}

// Close releases the coordinator's bus connection.
func (c *Coordinator) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
