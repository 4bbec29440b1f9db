package schedule

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"hivemind/internal/config"
	"hivemind/internal/store"
)

func TestParseValidSpecs(t *testing.T) {
	cases := []struct {
		raw  string
		kind string
	}{
		{`{"kind":"cron","expr":"0 9 * * *"}`, KindCron},
		{`{"kind":"interval","every_ms":60000}`, KindInterval},
		{`{"kind":"once","at_ms":4102444800000}`, KindOnce},
	}
	for _, tc := range cases {
		sp, err := Parse(tc.raw)
		if err != nil {
			t.Errorf("%s: %v", tc.raw, err)
			continue
		}
		if sp.Kind != tc.kind {
			t.Errorf("%s: expected kind %s, got %s", tc.raw, tc.kind, sp.Kind)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []string{
		`{"kind":"cron","expr":"not a cron"}`,
		`{"kind":"interval","every_ms":0}`,
		`{"kind":"once"}`,
		`{"kind":"weekly"}`,
		`not json at all`,
	}
	for _, raw := range cases {
		if _, err := Parse(raw); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestNextRunInterval(t *testing.T) {
	sp := &Spec{Kind: KindInterval, EveryMs: 60000}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next := sp.NextRun(now)
	if next == nil {
		t.Fatal("expected next run")
	}
	if !next.Equal(now.Add(time.Minute)) {
		t.Errorf("expected %s, got %s", now.Add(time.Minute), next)
	}
}

func TestNextRunCron(t *testing.T) {
	sp := &Spec{Kind: KindCron, Expr: "0 9 * * *"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next := sp.NextRun(now)
	if next == nil {
		t.Fatal("expected next run")
	}
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Errorf("expected 09:00 tick, got %s", next)
	}
	if !next.After(now) {
		t.Errorf("expected next run after reference time, got %s", next)
	}
}

func TestNextRunOnceExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	future := &Spec{Kind: KindOnce, AtMs: now.Add(time.Hour).UnixMilli()}
	if next := future.NextRun(now); next == nil || !next.After(now) {
		t.Errorf("expected future one-shot to fire, got %v", next)
	}

	past := &Spec{Kind: KindOnce, AtMs: now.Add(-time.Hour).UnixMilli()}
	if next := past.NextRun(now); next != nil {
		t.Errorf("expected expired one-shot to never fire, got %s", next)
	}
}

func TestNormalizeBareCron(t *testing.T) {
	out, err := Normalize("*/5 * * * *")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	sp, err := Parse(out)
	if err != nil {
		t.Fatalf("parse normalized: %v", err)
	}
	if sp.Kind != KindCron || sp.Expr != "*/5 * * * *" {
		t.Errorf("expected wrapped cron, got %+v", sp)
	}
}

func TestNormalizePassesThroughSpecJSON(t *testing.T) {
	raw := `{"kind":"interval","every_ms":5000}`
	out, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out != raw {
		t.Errorf("expected passthrough, got %s", out)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize("every five minutes"); err == nil {
		t.Error("expected error for free text")
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		spec Spec
		want string
	}{
		{Spec{Kind: KindInterval, EveryMs: 3600000}, "every hour"},
		{Spec{Kind: KindInterval, EveryMs: 120000}, "every 2 minutes"},
		{Spec{Kind: KindInterval, EveryMs: 5000}, "every 5 seconds"},
		{Spec{Kind: KindCron, Expr: "0 9 * * *"}, "cron 0 9 * * *"},
	}
	for _, tc := range cases {
		if got := tc.spec.Describe(); got != tc.want {
			t.Errorf("expected %q, got %q", tc.want, got)
		}
	}
}

type stubSubmitter struct {
	names []string
	err   error
}

func (s *stubSubmitter) SubmitJSON(ctx context.Context, name string, plan json.RawMessage) (string, error) {
	s.names = append(s.names, name)
	return "swarm-" + name, s.err
}

func TestDispatcherFiresDueSchedule(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Close()

	past := time.Now().UTC().Add(-time.Minute)
	if err := s.SaveSchedule(&store.SwarmSchedule{
		ID:        "sched-1",
		Name:      "nightly",
		Schedule:  `{"kind":"interval","every_ms":60000}`,
		Plan:      json.RawMessage(`{"tasks":[]}`),
		Status:    "active",
		NextRunAt: &past,
	}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	sub := &stubSubmitter{}
	d := NewDispatcher(s, sub, nil, config.SchedulerConfig{PollInterval: time.Second})
	defer d.Close()

	d.poll(context.Background())

	if len(sub.names) != 1 || sub.names[0] != "nightly" {
		t.Fatalf("expected one submission for nightly, got %v", sub.names)
	}

	sched, _ := s.GetSchedule("sched-1")
	if sched.LastStatus != "success" {
		t.Errorf("expected success, got %q (%s)", sched.LastStatus, sched.LastError)
	}
	if sched.NextRunAt == nil || !sched.NextRunAt.After(time.Now().UTC().Add(30*time.Second)) {
		t.Errorf("expected next run pushed out, got %v", sched.NextRunAt)
	}
}

func TestDispatcherUpdateConfigAppliedByRunLoop(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Close()

	d := NewDispatcher(s, &stubSubmitter{}, nil, config.SchedulerConfig{PollInterval: time.Hour})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	d.UpdateConfig(250 * time.Millisecond)

	// The loop services the reload well within this window
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	if d.pollInterval != 250*time.Millisecond {
		t.Errorf("expected poll interval applied, got %s", d.pollInterval)
	}
}

func TestDispatcherRetiresOneShot(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Close()

	past := time.Now().UTC().Add(-time.Minute)
	if err := s.SaveSchedule(&store.SwarmSchedule{
		ID:        "sched-1",
		Name:      "one-off",
		Schedule:  `{"kind":"once","at_ms":` + strconv.FormatInt(past.UnixMilli(), 10) + `}`,
		Plan:      json.RawMessage(`{"tasks":[]}`),
		Status:    "active",
		NextRunAt: &past,
	}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	d := NewDispatcher(s, &stubSubmitter{}, nil, config.SchedulerConfig{PollInterval: time.Second})
	defer d.Close()

	d.poll(context.Background())

	sched, _ := s.GetSchedule("sched-1")
	if sched.Status != "completed" {
		t.Errorf("expected one-shot retired, got %q", sched.Status)
	}
}

