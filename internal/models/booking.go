package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID         string        `json:"id"`
	BarberID   string        `json:"barber_id"`
	Date       time.Time     `json:"date"`
	Time       string        `json:"time"`
	CustomerID string        `json:"customer_id"`
	Status     BookingStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Holds reports whether the booking still occupies its slot.
func (b *Booking) Holds() bool {
	return b.Status == BookingPending || b.Status == BookingConfirmed
}
