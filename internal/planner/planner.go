package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"hivemind/internal/scheduler"
	"hivemind/internal/store"
	"hivemind/internal/swarm"
)

// Plan is the submission document: the agents a swarm needs and its
// full task graph. Validation happens here, at the boundary; once a
// plan is accepted the scheduler can trust the stored graph.
type Plan struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Agents   []AgentSpec       `json:"agents"`
	Tasks    []TaskSpec        `json:"tasks"`
}

type AgentSpec struct {
	ID           string            `json:"id,omitempty"`
	Role         string            `json:"role"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

type TaskSpec struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Priority    int             `json:"priority,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

const defaultPriority = 5

// Planner validates plan documents and persists accepted swarms.
type Planner struct {
	store *store.Store
	coord *swarm.Coordinator
}

func New(s *store.Store, coord *swarm.Coordinator) *Planner {
	return &Planner{store: s, coord: coord}
}

// SubmitPlan checks the plan's roles, task kinds, payloads and graph
// structure, then persists the swarm with its agents and tasks. A
// cyclic dependency graph is rejected with the offending path; nothing
// is stored on any validation failure.
func (p *Planner) SubmitPlan(ctx context.Context, plan Plan) (string, error) {
	if plan.Name == "" {
		return "", fmt.Errorf("plan needs a name")
	}
	if len(plan.Agents) == 0 {
		return "", fmt.Errorf("plan %q has no agents", plan.Name)
	}
	if len(plan.Tasks) == 0 {
		return "", fmt.Errorf("plan %q has no tasks", plan.Name)
	}

	swarmID := uuid.New().String()

	agents, byRole, err := p.buildAgents(swarmID, plan)
	if err != nil {
		return "", err
	}

	tasks, err := p.buildTasks(swarmID, plan, agents, byRole)
	if err != nil {
		return "", err
	}

	if cycle := scheduler.FindCycle(tasks); cycle != nil {
		return "", fmt.Errorf("plan %q has a dependency cycle: %s", plan.Name, strings.Join(cycle, " -> "))
	}

	if err := p.persist(plan, swarmID, agents, tasks); err != nil {
		return "", err
	}

	if p.coord != nil {
		for _, a := range agents {
			role, _ := swarm.ParseRole(a.Role)
			p.coord.Register(a.ID, role)
		}
	}

	slog.Info("plan accepted", "swarm", swarmID, "name", plan.Name,
		"agents", len(agents), "tasks", len(tasks))
	return swarmID, nil
}

// SubmitJSON accepts a raw plan document, as stored by swarm schedules
// or posted over the API.
func (p *Planner) SubmitJSON(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return "", fmt.Errorf("decode plan: %w", err)
	}
	if plan.Name == "" {
		plan.Name = name
	}
	return p.SubmitPlan(ctx, plan)
}

func (p *Planner) buildAgents(swarmID string, plan Plan) ([]store.Agent, map[swarm.Role]string, error) {
	agents := make([]store.Agent, 0, len(plan.Agents))
	byRole := make(map[swarm.Role]string, len(plan.Agents))
	seen := make(map[string]bool, len(plan.Agents))

	for _, spec := range plan.Agents {
		role, err := swarm.ParseRole(spec.Role)
		if err != nil {
			return nil, nil, fmt.Errorf("plan %q: %w", plan.Name, err)
		}

		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("%s-%s", role, uuid.New().String()[:8])
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("plan %q: duplicate agent id %s", plan.Name, id)
		}
		seen[id] = true

		var caps json.RawMessage
		if spec.Capabilities != nil {
			caps, err = json.Marshal(spec.Capabilities)
			if err != nil {
				return nil, nil, fmt.Errorf("plan %q: marshal capabilities: %w", plan.Name, err)
			}
		}

		agents = append(agents, store.Agent{
			ID:           id,
			SwarmID:      swarmID,
			Role:         string(role),
			Capabilities: caps,
			Status:       store.AgentIdle,
		})
		// First agent per role becomes the routing default
		if _, ok := byRole[role]; !ok {
			byRole[role] = id
		}
	}
	return agents, byRole, nil
}

func (p *Planner) buildTasks(swarmID string, plan Plan, agents []store.Agent, byRole map[swarm.Role]string) ([]store.Task, error) {
	agentIDs := make(map[string]bool, len(agents))
	for _, a := range agents {
		agentIDs[a.ID] = true
	}

	taskIDs := make(map[string]bool, len(plan.Tasks))
	for _, spec := range plan.Tasks {
		if spec.ID == "" {
			return nil, fmt.Errorf("plan %q: task without id", plan.Name)
		}
		if taskIDs[spec.ID] {
			return nil, fmt.Errorf("plan %q: duplicate task id %s", plan.Name, spec.ID)
		}
		taskIDs[spec.ID] = true
	}

	routing := swarm.DefaultRouting()
	tasks := make([]store.Task, 0, len(plan.Tasks))
	for i, spec := range plan.Tasks {
		kind, err := swarm.ParseTaskKind(spec.Kind)
		if err != nil {
			return nil, fmt.Errorf("plan %q task %s: %w", plan.Name, spec.ID, err)
		}

		for _, dep := range spec.DependsOn {
			if !taskIDs[dep] {
				return nil, fmt.Errorf("plan %q task %s: unknown dependency %s", plan.Name, spec.ID, dep)
			}
			if dep == spec.ID {
				return nil, fmt.Errorf("plan %q task %s: depends on itself", plan.Name, spec.ID)
			}
		}

		if len(spec.Payload) > 0 {
			var payload swarm.TaskPayload
			if err := json.Unmarshal(spec.Payload, &payload); err != nil {
				return nil, fmt.Errorf("plan %q task %s: decode payload: %w", plan.Name, spec.ID, err)
			}
		}

		agentID := spec.AgentID
		if agentID == "" {
			agentID = byRole[routing[kind]]
		} else if !agentIDs[agentID] {
			return nil, fmt.Errorf("plan %q task %s: unknown agent %s", plan.Name, spec.ID, agentID)
		}
		if agentID == "" {
			return nil, fmt.Errorf("plan %q task %s: no agent for role %s", plan.Name, spec.ID, routing[kind])
		}

		priority := spec.Priority
		if priority == 0 {
			priority = defaultPriority
		}

		tasks = append(tasks, store.Task{
			ID:           spec.ID,
			SwarmID:      swarmID,
			AgentID:      agentID,
			Kind:         string(kind),
			Description:  spec.Description,
			Status:       store.TaskPending,
			Priority:     priority,
			Dependencies: spec.DependsOn,
			Payload:      spec.Payload,
			Seq:          i,
		})
	}
	return tasks, nil
}

func (p *Planner) persist(plan Plan, swarmID string, agents []store.Agent, tasks []store.Task) error {
	var meta json.RawMessage
	if plan.Metadata != nil {
		data, err := json.Marshal(plan.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = data
	}

	if err := p.store.SaveSwarm(&store.Swarm{
		ID:       swarmID,
		Name:     plan.Name,
		Status:   store.SwarmIdle,
		Metadata: meta,
	}); err != nil {
		return fmt.Errorf("persist plan %q: %w", plan.Name, err)
	}

	for i := range agents {
		if err := p.store.SaveAgent(&agents[i]); err != nil {
			return fmt.Errorf("persist plan %q agent %s: %w", plan.Name, agents[i].ID, err)
		}
	}
	for i := range tasks {
		if err := p.store.SaveTask(&tasks[i]); err != nil {
			return fmt.Errorf("persist plan %q task %s: %w", plan.Name, tasks[i].ID, err)
		}
	}
	return nil
}
