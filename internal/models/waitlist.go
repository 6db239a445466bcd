package models

import "time"

type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistOffered  WaitlistStatus = "offered"
	WaitlistBooked   WaitlistStatus = "booked"
	WaitlistDeclined WaitlistStatus = "declined"
	WaitlistExpired  WaitlistStatus = "expired"
)

// Open reports whether the entry still counts as "in line" for its key.
func (s WaitlistStatus) Open() bool {
	return s == WaitlistWaiting || s == WaitlistOffered
}

type WaitlistEntry struct {
	ID             string         `json:"id"`
	BarberID       string         `json:"barber_id"`
	Date           time.Time      `json:"date"`
	CustomerID     string         `json:"customer_id"`
	Position       int            `json:"position"`
	Status         WaitlistStatus `json:"status"`
	OfferedTime    string         `json:"offered_time,omitempty"`
	OfferExpiresAt *time.Time     `json:"offer_expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// OfferLive reports whether the entry holds an offer that has not expired at now.
func (e *WaitlistEntry) OfferLive(now time.Time) bool {
	return e.Status == WaitlistOffered && e.OfferExpiresAt != nil && now.Before(*e.OfferExpiresAt)
}

type Response string

const (
	ResponseAccept  Response = "accept"
	ResponseDecline Response = "decline"
)
