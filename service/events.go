package service

import (
	"time"

	"githubtriage/models"
)

// Event types published while a session runs.
const (
	EventSyncStarted   = "sync_started"
	EventRepoSynced    = "repo_synced"
	EventSyncCompleted = "sync_completed"
	EventSyncFailed    = "sync_failed"
)

// Event is a progress notification for connected clients.
type Event struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	Repo      string              `json:"repo,omitempty"`
	Kind      models.Kind         `json:"kind,omitempty"`
	Result    *models.SyncHistory `json:"result,omitempty"`
	Summary   *Summary            `json:"summary,omitempty"`
	Error     string              `json:"error,omitempty"`
	Time      time.Time           `json:"time"`
}

// Notifier receives sync events. Notify must not block.
type Notifier interface {
	Notify(e Event)
}
