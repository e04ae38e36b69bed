package dto

import "time"

// Monitor event types pushed to live admin dashboards.
const (
	MonitorEventScore         = "score"
	MonitorEventSnapshot      = "snapshot"
	MonitorEventSessionStatus = "session_status"
)

// MonitorEvent is one realtime update about a proctored session.
type MonitorEvent struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"session_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}
