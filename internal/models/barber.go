package models

import "time"

type Barber struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// ClosedWeekdays seeds the barber's recurring closure rule from config.
	ClosedWeekdays []time.Weekday `json:"-" yaml:"closed_weekdays"`
}

// Customer maps a customer to the chat used for push notifications.
type Customer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	ChatID int64  `json:"chat_id"`
}
