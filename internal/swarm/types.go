package swarm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role tags an agent with the capability it contributes to a swarm.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleCoder    Role = "coder"
	RoleReviewer Role = "reviewer"
	RoleTester   Role = "tester"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePlanner, RoleCoder, RoleReviewer, RoleTester:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// TaskKind classifies the work a task carries and drives routing.
type TaskKind string

const (
	TaskPlan   TaskKind = "plan"
	TaskCode   TaskKind = "code"
	TaskReview TaskKind = "review"
	TaskTest   TaskKind = "test"
)

func ParseTaskKind(s string) (TaskKind, error) {
	switch TaskKind(s) {
	case TaskPlan, TaskCode, TaskReview, TaskTest:
		return TaskKind(s), nil
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// DefaultRouting is the static capability map from task kind to the role
// expected to execute it.
func DefaultRouting() map[TaskKind]Role {
	return map[TaskKind]Role{
		TaskPlan:   RolePlanner,
		TaskCode:   RoleCoder,
		TaskReview: RoleReviewer,
		TaskTest:   RoleTester,
	}
}

// MessageKind discriminates the payload variant a message carries.
type MessageKind string

const (
	KindTask      MessageKind = "task"
	KindResult    MessageKind = "result"
	KindQuery     MessageKind = "query"
	KindHandshake MessageKind = "handshake"
	KindPing      MessageKind = "ping"
)

// Payload is the tagged-variant body of a message. Each message kind has
// exactly one payload type, validated where external callers submit it.
type Payload interface {
	Kind() MessageKind
	Validate() error
}

type TaskPayload struct {
	TaskID      string          `json:"task_id"`
	TaskKind    TaskKind        `json:"task_kind"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (p TaskPayload) Kind() MessageKind { return KindTask }

func (p TaskPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task payload: missing task_id")
	}
	if _, err := ParseTaskKind(string(p.TaskKind)); err != nil {
		return fmt.Errorf("task payload: %w", err)
	}
	return nil
}

type ResultPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (p ResultPayload) Kind() MessageKind { return KindResult }

func (p ResultPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("result payload: missing task_id")
	}
	if p.Status == "" {
		return fmt.Errorf("result payload: missing status")
	}
	return nil
}

type QueryPayload struct {
	Question string `json:"question"`
}

func (p QueryPayload) Kind() MessageKind { return KindQuery }

func (p QueryPayload) Validate() error {
	if p.Question == "" {
		return fmt.Errorf("query payload: missing question")
	}
	return nil
}

type HandshakePayload struct {
	Role         Role              `json:"role"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

func (p HandshakePayload) Kind() MessageKind { return KindHandshake }

func (p HandshakePayload) Validate() error {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return fmt.Errorf("handshake payload: %w", err)
	}
	return nil
}

type PingPayload struct{}

func (p PingPayload) Kind() MessageKind { return KindPing }
func (p PingPayload) Validate() error   { return nil }

// Message is one inter-agent envelope. Messages are ephemeral: consumed
// once from an inbox and never persisted.
type Message struct {
	From    string      `json:"from"`
	To      string      `json:"to"`
	Kind    MessageKind `json:"kind"`
	Payload Payload     `json:"payload"`
	SwarmID string      `json:"swarm_id,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

// Validate checks the envelope and that the payload matches the declared
// kind.
func (m Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("message: missing receiver")
	}
	if m.Payload == nil {
		return fmt.Errorf("message: missing payload")
	}
	if m.Payload.Kind() != m.Kind {
		return fmt.Errorf("message: kind %q does not match payload kind %q", m.Kind, m.Payload.Kind())
	}
	return m.Payload.Validate()
}

// Result is the outcome of one task execution as reported by an agent.
type Result struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // completed or failed
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}
