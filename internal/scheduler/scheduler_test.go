package scheduler

import (
	"path/filepath"
	"reflect"
	"testing"

	"hivemind/internal/config"
	"hivemind/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.SaveSwarm(&store.Swarm{ID: "s1", Name: "s1", Status: store.SwarmRunning}); err != nil {
		t.Fatalf("save swarm: %v", err)
	}
	return New(s), s
}

func seedTask(t *testing.T, s *store.Store, id, status string, priority, seq int, deps ...string) {
	t.Helper()
	err := s.SaveTask(&store.Task{
		ID:           id,
		SwarmID:      "s1",
		AgentID:      "a1",
		Kind:         "code",
		Description:  id,
		Status:       status,
		Priority:     priority,
		Seq:          seq,
		Dependencies: deps,
	})
	if err != nil {
		t.Fatalf("save task %s: %v", id, err)
	}
}

func TestDependenciesMet(t *testing.T) {
	sc, s := newTestScheduler(t)
	seedTask(t, s, "done", store.TaskCompleted, 5, 1)
	seedTask(t, s, "running", store.TaskInProgress, 5, 2)
	seedTask(t, s, "broken", store.TaskFailed, 5, 3)
	seedTask(t, s, "free", store.TaskPending, 5, 4)
	seedTask(t, s, "waiting", store.TaskPending, 5, 5, "running")
	seedTask(t, s, "blocked", store.TaskPending, 5, 6, "broken")
	seedTask(t, s, "ready", store.TaskPending, 5, 7, "done")

	cases := []struct {
		taskID string
		want   bool
	}{
		{"free", true},     // no dependencies
		{"ready", true},    // all dependencies completed
		{"waiting", false}, // dependency still in progress
		{"blocked", false}, // dependency failed
	}
	for _, tc := range cases {
		task, _ := s.GetTask(tc.taskID)
		met, err := sc.DependenciesMet(*task)
		if err != nil {
			t.Fatalf("%s: %v", tc.taskID, err)
		}
		if met != tc.want {
			t.Errorf("%s: expected met=%v, got %v", tc.taskID, tc.want, met)
		}
	}
}

func TestFailedDependencyReasonIsDistinct(t *testing.T) {
	_, s := newTestScheduler(t)
	seedTask(t, s, "running", store.TaskInProgress, 5, 1)
	seedTask(t, s, "broken", store.TaskFailed, 5, 2)

	tasks, _ := s.ListTasksForSwarm("s1")
	byID := indexByID(tasks)

	_, waitReason := dependenciesMet(store.Task{ID: "x", Dependencies: []string{"running"}}, byID)
	_, blockReason := dependenciesMet(store.Task{ID: "y", Dependencies: []string{"broken"}}, byID)

	if waitReason == blockReason {
		t.Errorf("expected distinct reasons, both were %q", waitReason)
	}
	if waitReason == "" || blockReason == "" {
		t.Error("expected non-empty block reasons")
	}
}

func TestReadyTasksPriorityOrderIsStable(t *testing.T) {
	sc, s := newTestScheduler(t)
	seedTask(t, s, "done", store.TaskCompleted, 5, 1)
	seedTask(t, s, "low", store.TaskPending, 3, 2)
	seedTask(t, s, "high-a", store.TaskPending, 8, 3, "done")
	seedTask(t, s, "high-b", store.TaskPending, 8, 4)
	seedTask(t, s, "gated", store.TaskPending, 9, 5, "low")

	ready, err := sc.ReadyTasks("s1")
	if err != nil {
		t.Fatalf("ready tasks: %v", err)
	}

	got := make([]string, 0, len(ready))
	for _, task := range ready {
		got = append(got, task.ID)
	}
	// gated is excluded while its dependency is pending; equal
	// priorities keep submission order
	want := []string{"high-a", "high-b", "low"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDetectCycle(t *testing.T) {
	sc, s := newTestScheduler(t)
	seedTask(t, s, "a", store.TaskPending, 5, 1, "b")
	seedTask(t, s, "b", store.TaskPending, 5, 2, "c")
	seedTask(t, s, "c", store.TaskPending, 5, 3, "a")
	seedTask(t, s, "outside", store.TaskPending, 5, 4)

	cycle, err := sc.DetectCycle("s1")
	if err != nil {
		t.Fatalf("detect cycle: %v", err)
	}
	// The walk starts at a and closes the cycle when c reaches back
	if !reflect.DeepEqual(cycle, []string{"a", "b", "c"}) {
		t.Errorf("expected cycle starting at revisited task, got %v", cycle)
	}
}

func TestDetectCycleAcyclic(t *testing.T) {
	sc, s := newTestScheduler(t)
	seedTask(t, s, "a", store.TaskPending, 5, 1)
	seedTask(t, s, "b", store.TaskPending, 5, 2, "a")
	seedTask(t, s, "c", store.TaskPending, 5, 3, "a", "b")

	cycle, err := sc.DetectCycle("s1")
	if err != nil {
		t.Fatalf("detect cycle: %v", err)
	}
	if cycle != nil {
		t.Errorf("expected no cycle, got %v", cycle)
	}
}

func TestProgressCounts(t *testing.T) {
	sc, s := newTestScheduler(t)
	statuses := []string{
		store.TaskCompleted, store.TaskCompleted, store.TaskCompleted, store.TaskCompleted,
		store.TaskInProgress, store.TaskInProgress,
		store.TaskPending, store.TaskPending, store.TaskPending,
		store.TaskFailed,
	}
	for i, status := range statuses {
		seedTask(t, s, "t"+string(rune('a'+i)), status, 5, i)
	}

	p, err := sc.Progress("s1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Percent != 40.0 {
		t.Errorf("expected 40.0%%, got %v", p.Percent)
	}
	if p.Completed != 4 || p.InProgress != 2 || p.Pending != 3 || p.Failed != 1 || p.Total != 10 {
		t.Errorf("unexpected counts: %+v", p)
	}
}

func TestProgressRoundsToOneDecimal(t *testing.T) {
	p := progressOf([]store.Task{
		{Status: store.TaskCompleted},
		{Status: store.TaskPending},
		{Status: store.TaskPending},
	})
	if p.Percent != 33.3 {
		t.Errorf("expected 33.3, got %v", p.Percent)
	}
}

func TestProgressEmptySwarm(t *testing.T) {
	sc, _ := newTestScheduler(t)
	p, err := sc.Progress("s1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Percent != 0 || p.Total != 0 {
		t.Errorf("expected zero progress for empty swarm, got %+v", p)
	}
}

func TestCanAgentStart(t *testing.T) {
	sc, s := newTestScheduler(t)
	seedTask(t, s, "dep", store.TaskInProgress, 5, 1)
	seedTask(t, s, "mine", store.TaskPending, 5, 2)
	seedTask(t, s, "gated", store.TaskPending, 5, 3, "dep")

	if err := s.SaveTask(&store.Task{
		ID: "theirs", SwarmID: "s1", AgentID: "a2", Kind: "test",
		Description: "theirs", Status: store.TaskPending, Priority: 5, Seq: 4,
	}); err != nil {
		t.Fatalf("save task: %v", err)
	}

	ok, reason, err := sc.CanAgentStart("a1", "mine")
	if err != nil || !ok {
		t.Errorf("expected a1 can start mine, got ok=%v reason=%q err=%v", ok, reason, err)
	}

	ok, ownReason, err := sc.CanAgentStart("a1", "theirs")
	if err != nil || ok {
		t.Fatalf("expected ownership refusal, got ok=%v err=%v", ok, err)
	}

	ok, depReason, err := sc.CanAgentStart("a1", "gated")
	if err != nil || ok {
		t.Fatalf("expected dependency refusal, got ok=%v err=%v", ok, err)
	}

	if ownReason == depReason {
		t.Errorf("expected ownership and dependency refusals to differ, both %q", ownReason)
	}

	ok, reason, err = sc.CanAgentStart("a1", "missing")
	if err != nil || ok {
		t.Fatalf("expected refusal for unknown task, got ok=%v err=%v", ok, err)
	}
	if reason == "" {
		t.Error("expected reason for unknown task")
	}
}

func TestStats(t *testing.T) {
	sc, s := newTestScheduler(t)
	seedTask(t, s, "done", store.TaskCompleted, 5, 1)
	seedTask(t, s, "ready", store.TaskPending, 5, 2, "done")
	seedTask(t, s, "gated", store.TaskPending, 5, 3, "ready")

	stats, err := sc.Stats("s1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ReadyTasks != 1 {
		t.Errorf("expected 1 ready task, got %d", stats.ReadyTasks)
	}
	if stats.HasCycle {
		t.Errorf("expected no cycle, got %v", stats.Cycle)
	}
	if stats.Progress.Percent != 33.3 {
		t.Errorf("expected 33.3%%, got %v", stats.Progress.Percent)
	}
}
