package models

import "time"

// Notification is the push payload handed to a Notifier.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Delivery reports what the transport did with a notification.
type Delivery struct {
	Delivered bool `json:"delivered"`
	// Queued means the notification was accepted for later delivery.
	Queued bool `json:"queued,omitempty"`
}

// NotificationTask is a queued delivery in the notification outbox.
type NotificationTask struct {
	ID          int64      `json:"id"`
	CustomerID  string     `json:"customer_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

const (
	TaskPending   = "pending"
	TaskRetry     = "retry"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)
