package domain

// ControlFrame is the wire shape of transport control messages. A ping is
// answered with a pong carrying the same ts and is never forwarded to the
// page context; a status frame announces bridge readiness once per
// successful connection.
type ControlFrame struct {
	Type   string  `json:"type"` // "ping" | "pong" | "status"
	TS     float64 `json:"ts,omitempty"`
	Status string  `json:"status,omitempty"`
}

const (
	FrameMessage = "message"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameStatus  = "status"

	StatusReady = "ready"
)
