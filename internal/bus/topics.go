package bus

import "fmt"

// Subject patterns for the observability plane.

func TopicAgentInbox(agentID string) string {
	return fmt.Sprintf("agent.%s.inbox", agentID)
}

func TopicSwarmEvents(swarmID string) string {
	return fmt.Sprintf("events.swarm.%s", swarmID)
}

func TopicSwarmSLO(swarmID string) string {
	return fmt.Sprintf("slo.swarm.%s", swarmID)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsSwarmAll = "events.swarm.*"
	TopicEventsMonitor  = "events.monitor"
	TopicScheduleEvents = "events.scheduler"
	TopicSLOAll         = "slo.swarm.*"
)
