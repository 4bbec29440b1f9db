package planner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"hivemind/internal/config"
	"hivemind/internal/store"
	"hivemind/internal/swarm"
)

func newTestPlanner(t *testing.T) (*Planner, *store.Store, *swarm.Coordinator) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	coord := swarm.NewCoordinator(s, nil, config.SwarmConfig{})
	t.Cleanup(coord.Close)
	return New(s, coord), s, coord
}

func validPlan() Plan {
	return Plan{
		Name: "build-api",
		Agents: []AgentSpec{
			{ID: "planner-1", Role: "planner"},
			{ID: "coder-1", Role: "coder", Capabilities: map[string]string{"lang": "go"}},
			{ID: "tester-1", Role: "tester"},
		},
		Tasks: []TaskSpec{
			{ID: "design", Kind: "plan", Description: "sketch the API"},
			{ID: "implement", Kind: "code", Description: "write it", Priority: 8, DependsOn: []string{"design"}},
			{ID: "verify", Kind: "test", Description: "test it", DependsOn: []string{"implement"}},
		},
	}
}

func TestSubmitPlanPersistsGraph(t *testing.T) {
	p, s, coord := newTestPlanner(t)

	swarmID, err := p.SubmitPlan(context.Background(), validPlan())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := s.GetSwarmStatus(swarmID)
	if err != nil {
		t.Fatalf("swarm status: %v", err)
	}
	if status.Swarm.Name != "build-api" || status.Swarm.Status != store.SwarmIdle {
		t.Errorf("unexpected swarm record: %+v", status.Swarm)
	}
	if len(status.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(status.Agents))
	}
	if len(status.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(status.Tasks))
	}

	// Tasks keep submission order and route to agents by role
	byID := make(map[string]store.Task)
	for _, task := range status.Tasks {
		byID[task.ID] = task
	}
	if byID["design"].AgentID != "planner-1" {
		t.Errorf("expected plan task on planner-1, got %s", byID["design"].AgentID)
	}
	if byID["implement"].AgentID != "coder-1" {
		t.Errorf("expected code task on coder-1, got %s", byID["implement"].AgentID)
	}
	if byID["verify"].Seq != 2 {
		t.Errorf("expected verify at seq 2, got %d", byID["verify"].Seq)
	}
	if byID["design"].Priority != 5 {
		t.Errorf("expected default priority 5, got %d", byID["design"].Priority)
	}
	if byID["implement"].Priority != 8 {
		t.Errorf("expected explicit priority kept, got %d", byID["implement"].Priority)
	}

	// Agents come up registered with the coordinator
	if coord.Stats().TotalAgents != 3 {
		t.Errorf("expected 3 registered agents, got %d", coord.Stats().TotalAgents)
	}
}

func TestSubmitPlanRejectsCycle(t *testing.T) {
	p, s, _ := newTestPlanner(t)

	plan := validPlan()
	plan.Tasks = []TaskSpec{
		{ID: "a", Kind: "code", Description: "a", DependsOn: []string{"c"}},
		{ID: "b", Kind: "code", Description: "b", DependsOn: []string{"a"}},
		{ID: "c", Kind: "code", Description: "c", DependsOn: []string{"b"}},
	}

	_, err := p.SubmitPlan(context.Background(), plan)
	if err == nil {
		t.Fatal("expected cycle rejection")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected cycle in error, got %v", err)
	}
	// The offending path is part of the diagnostic
	if !strings.Contains(err.Error(), "->") {
		t.Errorf("expected cycle path in error, got %v", err)
	}

	// Nothing persisted on rejection
	swarms, _ := s.ListSwarms()
	if len(swarms) != 0 {
		t.Errorf("expected no swarms persisted, got %d", len(swarms))
	}
}

func TestSubmitPlanRejectsBadInput(t *testing.T) {
	p, _, _ := newTestPlanner(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"unknown role", func(pl *Plan) { pl.Agents[0].Role = "manager" }},
		{"unknown task kind", func(pl *Plan) { pl.Tasks[0].Kind = "paint" }},
		{"unknown dependency", func(pl *Plan) { pl.Tasks[1].DependsOn = []string{"nowhere"} }},
		{"self dependency", func(pl *Plan) { pl.Tasks[0].DependsOn = []string{"design"} }},
		{"duplicate task id", func(pl *Plan) { pl.Tasks[1].ID = "design" }},
		{"duplicate agent id", func(pl *Plan) { pl.Agents[1].ID = "planner-1" }},
		{"unknown agent", func(pl *Plan) { pl.Tasks[0].AgentID = "ghost" }},
		{"no agents", func(pl *Plan) { pl.Agents = nil }},
		{"no tasks", func(pl *Plan) { pl.Tasks = nil }},
		{"no name", func(pl *Plan) { pl.Name = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := validPlan()
			tc.mutate(&plan)
			if _, err := p.SubmitPlan(ctx, plan); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestSubmitPlanGeneratesAgentIDs(t *testing.T) {
	p, s, _ := newTestPlanner(t)

	plan := validPlan()
	plan.Agents = []AgentSpec{{Role: "coder"}}
	plan.Tasks = []TaskSpec{{ID: "t1", Kind: "code", Description: "x"}}

	swarmID, err := p.SubmitPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	agents, _ := s.ListAgentsForSwarm(swarmID)
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	if !strings.HasPrefix(agents[0].ID, "coder-") {
		t.Errorf("expected role-prefixed id, got %s", agents[0].ID)
	}
}

func TestSubmitJSON(t *testing.T) {
	p, s, _ := newTestPlanner(t)

	raw := json.RawMessage(`{
		"agents": [{"id": "coder-1", "role": "coder"}],
		"tasks": [{"id": "t1", "kind": "code", "description": "x"}]
	}`)

	swarmID, err := p.SubmitJSON(context.Background(), "from-schedule", raw)
	if err != nil {
		t.Fatalf("submit json: %v", err)
	}

	sw, _ := s.GetSwarm(swarmID)
	if sw == nil || sw.Name != "from-schedule" {
		t.Errorf("expected fallback name applied, got %+v", sw)
	}

	if _, err := p.SubmitJSON(context.Background(), "bad", json.RawMessage(`{`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestSubmitPlanRejectsBadPayload(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	plan := validPlan()
	plan.Tasks[0].Payload = json.RawMessage(`"just a string"`)

	if _, err := p.SubmitPlan(context.Background(), plan); err == nil {
		t.Error("expected payload rejection")
	}
}
