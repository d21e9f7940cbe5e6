package models

import "time"

// Event types streamed to subscribers.
const (
	EventConnected         = "connected"
	EventSnapshot          = "snapshot"
	EventDisruptionsUpdate = "disruptions_update"
	EventTrafficUpdate     = "traffic_update"
	EventHeartbeat         = "heartbeat"
)

// Event is one message of the live stream.
type Event struct {
	Type      string    `json:"event_type"`
	Payload   any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the given time in UTC.
func NewEvent(eventType string, payload any, now time.Time) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: now.UTC()}
}
