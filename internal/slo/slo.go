package slo

import (
	"fmt"
	"log/slog"
	"time"

	"hivemind/internal/bus"
	"hivemind/internal/config"
	"hivemind/internal/store"
)

// Measurements are the four observations a finished run is scored on.
// Cost is estimated from token count and the configured unit price.
type Measurements struct {
	Tokens      int64         `json:"tokens"`
	Duration    time.Duration `json:"duration"`
	CoveragePct float64       `json:"coverage_pct"`
	Confidence  float64       `json:"confidence"`
}

// Evaluate scores one run against the thresholds. It is a pure
// function: same measurements and config always produce the same
// result, and nothing is read from or written to elsewhere.
func Evaluate(swarmID string, m Measurements, cfg config.SLOConfig) store.SLOResult {
	r := store.SLOResult{
		SwarmID:     swarmID,
		Tokens:      m.Tokens,
		CostUSD:     float64(m.Tokens) * cfg.TokenPriceUSD,
		Duration:    m.Duration,
		CoveragePct: m.CoveragePct,
		Confidence:  m.Confidence,
	}

	r.CostBreached = r.CostUSD > cfg.MaxCostUSD
	r.LatencyBreached = m.Duration > cfg.MaxDuration
	r.CoverageBreached = m.CoveragePct < cfg.MinCoveragePct
	r.ConfidenceBreached = m.Confidence < cfg.MinConfidence
	r.Compliant = !(r.CostBreached || r.LatencyBreached || r.CoverageBreached || r.ConfidenceBreached)

	return r
}

// Gate persists evaluations and surfaces them to observers. It reads
// nothing back from tasks or agents; a breach is a compliance signal,
// not an error.
type Gate struct {
	store  *store.Store
	client *bus.Client
	cfg    config.SLOConfig
}

func NewGate(s *store.Store, b *bus.Bus, cfg config.SLOConfig) *Gate {
	g := &Gate{store: s, cfg: cfg}

	if b != nil {
		client, err := bus.NewClient(b)
		if err != nil {
			slog.Error("slo gate nats client failed", "error", err)
		} else {
			g.client = client
		}
	}

	return g
}

// Score evaluates a finished run, appends the result record and an
// audit event, and publishes the report for dashboards. Breach flags
// ride along in every surface so alerting can key off them.
func (g *Gate) Score(swarmID string, m Measurements) (store.SLOResult, error) {
	result := Evaluate(swarmID, m, g.cfg)

	if err := g.store.AppendSLOResult(&result); err != nil {
		return result, fmt.Errorf("score swarm %s: %w", swarmID, err)
	}

	details := fmt.Sprintf("compliant=%v cost=$%.2f duration=%s coverage=%.1f%% confidence=%.2f",
		result.Compliant, result.CostUSD, result.Duration, result.CoveragePct, result.Confidence)
	if err := g.store.AppendEvent("", swarmID, store.EventSLOEvaluated, details); err != nil {
		slog.Error("append slo event", "swarm", swarmID, "error", err)
	}

	logFn := slog.Info
	if !result.Compliant {
		logFn = slog.Warn
	}
	logFn("slo evaluated",
		"swarm", swarmID,
		"compliant", result.Compliant,
		"cost_usd", result.CostUSD,
		"duration", result.Duration,
		"coverage_pct", result.CoveragePct,
		"confidence", result.Confidence)

	g.publish(result)
	return result, nil
}

// Latest returns the most recent report for a swarm, nil if never
// scored.
func (g *Gate) Latest(swarmID string) (*store.SLOResult, error) {
	return g.store.LatestSLOResult(swarmID)
}

func (g *Gate) publish(result store.SLOResult) {
	if g.client == nil {
		return
	}
	_ = g.client.PublishJSON(bus.TopicSwarmSLO(result.SwarmID), result)
}

// Close releases the gate's bus connection.
func (g *Gate) Close() {
	if g.client != nil {
		g.client.Close()
	}
}
