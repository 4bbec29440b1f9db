package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SLOResult is the stored outcome of scoring one completed run against the
// configured thresholds. The gate only appends these records; it never
// rewrites tasks or agents.
type SLOResult struct {
	ID                 string        `json:"id"`
	SwarmID            string        `json:"swarm_id"`
	Tokens             int64         `json:"tokens"`
	CostUSD            float64       `json:"cost_usd"`
	Duration           time.Duration `json:"duration"`
	CoveragePct        float64       `json:"coverage_pct"`
	Confidence         float64       `json:"confidence"`
	CostBreached       bool          `json:"cost_breached"`
	LatencyBreached    bool          `json:"latency_breached"`
	CoverageBreached   bool          `json:"coverage_breached"`
	ConfidenceBreached bool          `json:"confidence_breached"`
	Compliant          bool          `json:"compliant"`
	CreatedAt          time.Time     `json:"created_at"`
}

func (s *Store) AppendSLOResult(r *SLOResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`
		INSERT INTO slo_results (id, swarm_id, tokens, cost_usd, duration_ms, coverage_pct, confidence,
			cost_breached, latency_breached, coverage_breached, confidence_breached, compliant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SwarmID, r.Tokens, r.CostUSD, r.Duration.Milliseconds(), r.CoveragePct, r.Confidence,
		r.CostBreached, r.LatencyBreached, r.CoverageBreached, r.ConfidenceBreached, r.Compliant)
	if err != nil {
		return fmt.Errorf("append slo result: %w", err)
	}
	return nil
}

// LatestSLOResult returns the most recent evaluation for a swarm, or nil if
// the swarm has not been scored yet.
func (s *Store) LatestSLOResult(swarmID string) (*SLOResult, error) {
	row := s.db.QueryRow(`
		SELECT id, swarm_id, tokens, cost_usd, duration_ms, coverage_pct, confidence,
		       cost_breached, latency_breached, coverage_breached, confidence_breached, compliant, created_at
		FROM slo_results WHERE swarm_id = ?
		ORDER BY created_at DESC LIMIT 1`, swarmID)

	r := &SLOResult{}
	var durationMs int64
	err := row.Scan(&r.ID, &r.SwarmID, &r.Tokens, &r.CostUSD, &durationMs, &r.CoveragePct, &r.Confidence,
		&r.CostBreached, &r.LatencyBreached, &r.CoverageBreached, &r.ConfidenceBreached, &r.Compliant, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest slo result: %w", err)
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}
