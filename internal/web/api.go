package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/planner"
	"hivemind/internal/schedule"
	"hivemind/internal/slo"
	"hivemind/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Swarms
	mux.HandleFunc("GET /api/swarms", s.listSwarms)
	mux.HandleFunc("POST /api/swarms", s.submitSwarm)
	mux.HandleFunc("GET /api/swarms/{id}", s.getSwarm)
	mux.HandleFunc("PUT /api/swarms/{id}/status", s.updateSwarmStatus)
	mux.HandleFunc("DELETE /api/swarms/{id}", s.deleteSwarm)

	// Scheduling and progress
	mux.HandleFunc("GET /api/swarms/{id}/stats", s.getSwarmStats)
	mux.HandleFunc("GET /api/swarms/{id}/ready", s.getReadyTasks)
	mux.HandleFunc("GET /api/swarms/{id}/tasks", s.listSwarmTasks)

	// Event log
	mux.HandleFunc("GET /api/swarms/{id}/events", s.listSwarmEvents)
	mux.HandleFunc("GET /api/tasks/{id}/events", s.listTaskEvents)

	// SLO reports
	mux.HandleFunc("GET /api/swarms/{id}/slo", s.getSLOReport)
	mux.HandleFunc("POST /api/swarms/{id}/slo", s.scoreSwarm)

	// Coordinator health
	mux.HandleFunc("GET /api/agents", s.getAgentStats)

	// Swarm schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.getSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}/status", s.updateScheduleStatus)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	swarms, err := s.store.ListSwarms()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, swarms)
}

func (s *Server) submitSwarm(w http.ResponseWriter, r *http.Request) {
	var plan planner.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		jsonError(w, "invalid plan document", http.StatusBadRequest)
		return
	}

	swarmID, err := s.planner.SubmitPlan(r.Context(), plan)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	jsonResponse(w, map[string]string{"id": swarmID})
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sw, err := s.store.GetSwarm(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sw == nil {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}

	status, err := s.store.GetSwarmStatus(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, status)
}

func (s *Server) updateSwarmStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch body.Status {
	case store.SwarmIdle, store.SwarmRunning, store.SwarmPaused, store.SwarmCompleted, store.SwarmError:
	default:
		jsonError(w, "unknown swarm status: "+body.Status, http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateSwarmStatus(id, body.Status); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) deleteSwarm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSwarm(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) getSwarmStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.sched.Stats(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, stats)
}

func (s *Server) getReadyTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tasks, err := s.sched.ReadyTasks(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, tasks)
}

func (s *Server) listSwarmTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tasks, err := s.store.ListTasksForSwarm(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, tasks)
}

func (s *Server) listSwarmEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.store.ListEventsForSwarm(id, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, events)
}

func (s *Server) listTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.store.ListEventsForTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, events)
}

func (s *Server) getSLOReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.gate.Latest(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		jsonError(w, "swarm not scored yet", http.StatusNotFound)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) scoreSwarm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Tokens      int64   `json:"tokens"`
		DurationSec float64 `json:"duration_sec"`
		CoveragePct float64 `json:"coverage_pct"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid measurements", http.StatusBadRequest)
		return
	}

	result, err := s.gate.Score(id, slo.Measurements{
		Tokens:      body.Tokens,
		Duration:    time.Duration(body.DurationSec * float64(time.Second)),
		CoveragePct: body.CoveragePct,
		Confidence:  body.Confidence,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) getAgentStats(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Stats())
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		entry := map[string]any{
			"id":          sc.ID,
			"name":        sc.Name,
			"schedule":    sc.Schedule,
			"status":      sc.Status,
			"next_run_at": sc.NextRunAt,
			"last_run_at": sc.LastRunAt,
			"last_status": sc.LastStatus,
		}
		if sp, err := schedule.Parse(sc.Schedule); err == nil {
			entry["describe"] = sp.Describe()
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string          `json:"name"`
		Schedule string          `json:"schedule"`
		Plan     json.RawMessage `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || len(body.Plan) == 0 {
		jsonError(w, "name and plan are required", http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sp, err := schedule.Parse(normalized)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	nextRun := sp.NextRun(time.Now().UTC())
	if nextRun == nil {
		jsonError(w, "schedule never fires", http.StatusBadRequest)
		return
	}

	sched := &store.SwarmSchedule{
		ID:        uuid.New().String(),
		Name:      body.Name,
		Schedule:  normalized,
		Plan:      body.Plan,
		Status:    "active",
		NextRunAt: nextRun,
	}
	if err := s.store.SaveSchedule(sched); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	jsonResponse(w, sched)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sched, err := s.store.GetSchedule(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sched == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sched)
}

func (s *Server) updateScheduleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Status != "active" && body.Status != "paused" {
		jsonError(w, "status must be active or paused", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateScheduleStatus(id, body.Status); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSchedule(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.TaskStatusCounts()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]any{
		"version":     s.version,
		"uptime_sec":  int(time.Since(s.startedAt).Seconds()),
		"task_counts": counts,
		"agents":      s.coord.Stats().TotalAgents,
	})
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
