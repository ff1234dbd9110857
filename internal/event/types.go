package event

import "time"

// PermissionAskedData is the data for permission.asked events.
type PermissionAskedData struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	CallID    string `json:"callID,omitempty"`
	Title     string `json:"title"`
}

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	PermissionID string `json:"permissionID"`
	SessionID    string `json:"sessionID"`
	Response     string `json:"response"` // "once" | "always" | "reject" | "undetermined"
}

// SandboxStartedData is the data for sandbox.started events.
type SandboxStartedData struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Backend string `json:"backend"`
	PID     int    `json:"pid"`
}

// SandboxFinishedData is the data for sandbox.finished events.
type SandboxFinishedData struct {
	ID        string        `json:"id"`
	Outcome   string        `json:"outcome"`
	ExitCode  int           `json:"exitCode"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// PolicyReloadedData is the data for policy.reloaded events.
type PolicyReloadedData struct {
	Path  string `json:"path"`
	Rules int    `json:"rules"`
	Error string `json:"error,omitempty"`
}
