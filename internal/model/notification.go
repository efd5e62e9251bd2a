package model

import (
	"encoding/json"
	"time"
)

// Priority is the urgency level the server assigns to a notification.
type Priority string

// Priority values as sent by the API.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from most to least urgent (urgent = 1).
// Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}

// Notification is an in-app alert delivered by the server about activity
// on projects, tasks or billing.
type Notification struct {
	// ID is the server-side identifier.
	ID int64 `json:"id" db:"id"`

	// Type is the server's notification class (e.g. "task_assigned").
	Type string `json:"type" db:"type"`

	// Title is the short headline shown in lists.
	Title string `json:"title" db:"title"`

	// Message is the human-readable body.
	Message string `json:"message" db:"message"`

	// Data is an optional structured payload, kept as raw JSON.
	Data json.RawMessage `json:"data,omitempty" db:"-"`

	// ReadAt is when the user read the notification; nil while unread.
	ReadAt *time.Time `json:"read_at" db:"read_at"`

	// ActionURL is an optional target the notification points to.
	ActionURL string `json:"action_url,omitempty" db:"action_url"`

	// Priority is one of the Priority* constants.
	Priority Priority `json:"priority" db:"priority"`

	// CreatedAt is when the server generated the notification.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsRead reports whether the notification carries a read timestamp.
func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}
