package models

import (
	"time"
)

// TaskStatus enumerates lifecycle states persisted in Postgres.
type TaskStatus string

const (
	StatusPending   TaskStatus = "Pending"
	StatusRunning   TaskStatus = "Running"
	StatusCompleted TaskStatus = "Completed"
	StatusError     TaskStatus = "Error"
	StatusTimeout   TaskStatus = "Timeout"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// CanTransition reports whether a record in status from may move to status to.
// Re-asserting Running is allowed so pollers can heartbeat the row.
func CanTransition(from, to TaskStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusPending {
		return from == StatusPending
	}
	return true
}

// TaskRecord is one submitted recognition job.
type TaskRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	RequestID string     `json:"requestId"`
	BookName  string     `json:"bookName"`
	PageRange string     `json:"pageRange"`
	Language  string     `json:"language,omitempty"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"dateTime"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
