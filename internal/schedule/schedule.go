package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Spec describes when a stored swarm plan fires. Three kinds are
// supported: a cron expression, a fixed interval, and a one-shot
// timestamp. Specs are persisted as JSON alongside the plan.
type Spec struct {
	Kind    string `json:"kind"` // "cron", "interval", "once"
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"every_ms,omitempty"`
	AtMs    int64  `json:"at_ms,omitempty"`
}

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

func Parse(raw string) (*Spec, error) {
	var sp Spec
	if err := json.Unmarshal([]byte(raw), &sp); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (sp *Spec) Validate() error {
	switch sp.Kind {
	case KindCron:
		if !gronx.New().IsValid(sp.Expr) {
			return fmt.Errorf("invalid cron expression: %s", sp.Expr)
		}
	case KindInterval:
		if sp.EveryMs <= 0 {
			return fmt.Errorf("every_ms must be positive")
		}
	case KindOnce:
		if sp.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", sp.Kind)
	}
	return nil
}

// NextRun computes the next firing time after the reference instant.
// A nil result means the schedule never fires again: an invalid spec
// or a one-shot whose time has passed.
func (sp *Spec) NextRun(now time.Time) *time.Time {
	var next time.Time

	switch sp.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(sp.Expr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		next = now.Add(time.Duration(sp.EveryMs) * time.Millisecond)
	case KindOnce:
		t := time.UnixMilli(sp.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}

	return &next
}

// Describe renders a short human summary for listings.
func (sp *Spec) Describe() string {
	switch sp.Kind {
	case KindCron:
		return "cron " + sp.Expr
	case KindInterval:
		d := time.Duration(sp.EveryMs) * time.Millisecond
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "every hour"
			}
			return fmt.Sprintf("every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "every minute"
			}
			return fmt.Sprintf("every %d minutes", m)
		default:
			return fmt.Sprintf("every %d seconds", int(d.Seconds()))
		}
	case KindOnce:
		return "once at " + time.UnixMilli(sp.AtMs).Format("Jan 2 15:04")
	default:
		return sp.Kind
	}
}

// Normalize accepts either a spec JSON document or a bare cron
// expression and returns canonical spec JSON. Bare cron strings are
// the common case on the API surface.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var sp Spec
	if err := json.Unmarshal([]byte(raw), &sp); err == nil && sp.Kind != "" {
		if err := sp.Validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not spec JSON or a cron expression: %s", raw)
	}

	data, err := json.Marshal(Spec{Kind: KindCron, Expr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
