// Package model defines serializable views of lspd state returned over the
// admin surface.
package model

import "time"

// SessionInfo is a point-in-time snapshot of one managed session.
type SessionInfo struct {
	WorkspaceRoot string    `json:"workspaceRoot" yaml:"workspaceRoot"`
	Language      string    `json:"language" yaml:"language"`
	State         string    `json:"state" yaml:"state"`
	IdleSeconds   float64   `json:"idleSeconds" yaml:"idleSeconds"`
	QueueDepth    int       `json:"queueDepth" yaml:"queueDepth"`
	StartedAt     time.Time `json:"startedAt" yaml:"startedAt"`
}
