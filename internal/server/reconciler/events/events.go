package events

import "time"

// RecordEvent describes a significant change made by the reconciliation loop.
type RecordEvent struct {
	Type      string    `json:"type"`
	Hostname  string    `json:"hostname,omitempty"`
	Router    string    `json:"router,omitempty"`
	Added     int       `json:"added,omitempty"`
	Removed   int       `json:"removed,omitempty"`
	Errors    int       `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

const (
	TypeRecordAdded   = "RECORD_ADDED"
	TypeRecordRemoved = "RECORD_REMOVED"
	TypeSyncCompleted = "SYNC_COMPLETED"
	TypeSyncFailed    = "SYNC_FAILED"
)

// TopicRecordEvents is the default event bus topic for record lifecycle.
const TopicRecordEvents = "reconciler.record.events"
