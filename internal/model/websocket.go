package model

// WebSocket message types
const (
	WSMessageTypeScenario = "scenario"
	WSMessageTypeImage    = "image"
	WSMessageTypeScript   = "script"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSScenarioMessage announces a structural edit of the scenario
type WSScenarioMessage struct {
	Type      string `json:"type"`
	ProjectID int64  `json:"projectId"`
	Operation string `json:"operation"`
	Blocks    int    `json:"blocks"`
}

// WSImageMessage reports an image status transition for a block
type WSImageMessage struct {
	Type       string      `json:"type"`
	ProjectID  int64       `json:"projectId"`
	JobID      string      `json:"jobId"`
	BlockIndex int         `json:"blockIndex"`
	Status     ImageStatus `json:"status"`
	ImagePath  string      `json:"imagePath,omitempty"`
}

// WSScriptMessage reports script generation progress
type WSScriptMessage struct {
	Type      string        `json:"type"`
	ProjectID int64         `json:"projectId"`
	Status    ProjectStatus `json:"status"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type      string  `json:"type"`
	ProjectID int64   `json:"projectId"`
	JobID     string  `json:"jobId,omitempty"`
	Error     WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
