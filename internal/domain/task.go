// Package domain provides domain models used across the application.
package domain

import (
	"time"
)

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusPending means the task is waiting to be dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning means the task has been dispatched to a session.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted means the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed means the task finished with an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped means no executor is registered for the task.
	TaskStatusSkipped TaskStatus = "skipped"
	// TaskStatusCancelled means the task was cancelled before dispatch.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	case TaskStatusPending, TaskStatusRunning:
		return false
	default:
		return false
	}
}

// TaskType represents the kind of crawl work a task carries.
type TaskType string

const (
	// TaskTypeBookSales crawls the sold-listing history for one book.
	TaskTypeBookSales TaskType = "book_sales_crawl"
	// TaskTypeShopBooks crawls a shop's active listing pages.
	TaskTypeShopBooks TaskType = "shop_books_crawl"
	// TaskTypePriceLookup looks up the current buy/sell price for one book.
	TaskTypePriceLookup TaskType = "price_lookup"
)

// Task represents one unit of scheduled crawl work targeting one site.
type Task struct {
	ID           string     `db:"id"            json:"id"`
	Type         TaskType   `db:"type"          json:"type"`
	TargetSite   string     `db:"target_site"   json:"target_site"`
	Params       JSONBMap   `db:"params"        json:"params"`
	Priority     int        `db:"priority"      json:"priority"`
	Status       TaskStatus `db:"status"        json:"status"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	EndedAt      *time.Time `db:"ended_at"      json:"ended_at,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
}
