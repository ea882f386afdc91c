package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionMark       Action = "mark"
	ActionVisit      Action = "visit"
	ActionVisibility Action = "visibility"
	ActionAdvance    Action = "advance"
	ActionPing       Action = "ping"
)

// RequestPayload is the single client message shape; unused fields stay at
// their zero values for the actions that do not need them.
type RequestPayload struct {
	Action    Action `json:"action"`
	Question  int    `json:"question,omitempty"`
	Value     string `json:"value,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventState Event = "state"
	EventPong  Event = "pong"
)

// StateResponse carries a full session snapshot after a state-changing
// action; the snapshot type is opaque to this package.
type StateResponse struct {
	Event Event       `json:"event"`
	State interface{} `json:"state"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
