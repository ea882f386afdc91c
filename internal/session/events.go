package session

// EventType enumerates the events pushed to timer-stream subscribers.
type EventType string

const (
	EventTick      EventType = "tick"
	EventExpired   EventType = "expired"
	EventAdvanced  EventType = "advanced"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is one server-push message on the session stream. Remaining rides
// on tick events; Station on advance; Score on completion.
type Event struct {
	Type      EventType `json:"event"`
	Station   int       `json:"station,omitempty"`
	Remaining int       `json:"remaining,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Message   string    `json:"message,omitempty"`
}
