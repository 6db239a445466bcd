package domain

import (
	"context"
	"time"

	"barberbook/internal/models"
)

type ClosureSettingsStore interface {
	GetShopClosures(ctx context.Context) (*models.ShopClosures, error)
	SaveShopClosures(ctx context.Context, settings *models.ShopClosures) error
}

type ClosureRuleStore interface {
	// GetClosureRule returns nil without error when the barber has no recurring closure.
	GetClosureRule(ctx context.Context, barberID string) (*models.ClosureRule, error)
	SaveClosureRule(ctx context.Context, rule *models.ClosureRule) error
}

type ClosureExceptionStore interface {
	ListClosureExceptions(ctx context.Context, barberID string, from, to time.Time) ([]models.ClosureException, error)
	// CreateClosureException reports false when an exception with the same
	// (barber, date, type) already exists.
	CreateClosureException(ctx context.Context, exc *models.ClosureException) (bool, error)
	RemoveClosureException(ctx context.Context, barberID string, date time.Time, closureType models.ClosureType) error
}

type RemovedAutoClosureStore interface {
	ListRemovedAutoClosures(ctx context.Context, barberID string, from, to time.Time) ([]models.RemovedAutoClosure, error)
	RecordRemovedAutoClosure(ctx context.Context, tombstone *models.RemovedAutoClosure) error
}

type ScheduleStore interface {
	// GetDaySchedule returns nil without error when no schedule is materialized.
	GetDaySchedule(ctx context.Context, barberID string, date time.Time) (*models.DaySchedule, error)
	ListDaySchedules(ctx context.Context, barberID string, from, to time.Time) ([]models.DaySchedule, error)
	UpsertDaySchedule(ctx context.Context, schedule *models.DaySchedule) error
	DeleteDaySchedulesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type BookingStore interface {
	ListBookings(ctx context.Context, barberID string, date time.Time) ([]models.Booking, error)
	ListBookingsInRange(ctx context.Context, barberID string, from, to time.Time) ([]models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	CancelBooking(ctx context.Context, id string) (*models.Booking, error)
}

type BarberStore interface {
	GetBarber(ctx context.Context, id string) (*models.Barber, error)
	ListActiveBarbers(ctx context.Context) ([]models.Barber, error)
}

// ChatResolver maps a customer to the chat a push transport delivers to.
type ChatResolver interface {
	ChatID(ctx context.Context, customerID string) (int64, error)
}

// ClosureSources bundles the four closure data sources.
type ClosureSources interface {
	ClosureSettingsStore
	ClosureRuleStore
	ClosureExceptionStore
	RemovedAutoClosureStore
}

type WaitlistStore interface {
	// CreateWaitlistEntry appends the entry at the end of the waiting line and
	// fills in its position. Returns ErrAlreadyWaiting when the customer is
	// already waiting or holding an offer for the same key.
	CreateWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (*models.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, barberID string, date time.Time, statuses ...models.WaitlistStatus) ([]models.WaitlistEntry, error)
	// FirstWaiting returns nil without error when nobody is waiting.
	FirstWaiting(ctx context.Context, barberID string, date time.Time) (*models.WaitlistEntry, error)
	// OfferWaitlistEntry moves a waiting entry to offered. It reports false when
	// the entry was no longer waiting or another offer is outstanding for the key.
	OfferWaitlistEntry(ctx context.Context, id, slot string, expiresAt time.Time) (bool, error)
	// CloseOffer moves an offered entry to declined or expired. Expiry only
	// applies when the offer deadline is not after now. Reports false when the
	// entry was not in a state to transition.
	CloseOffer(ctx context.Context, id string, to models.WaitlistStatus, now time.Time) (bool, error)
	// AcceptOffer books the offered slot and marks the entry booked in one transaction.
	AcceptOffer(ctx context.Context, id string, now time.Time, booking *models.Booking) error
	// RequeueOffer puts an offered entry back at the head of the waiting line.
	RequeueOffer(ctx context.Context, id string) (bool, error)
	// DeleteWaitingEntry removes a waiting entry and closes the gap in positions.
	DeleteWaitingEntry(ctx context.Context, id string) (bool, error)
	ListExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
}

type Notifier interface {
	Send(ctx context.Context, customerID string, n models.Notification) (models.Delivery, error)
}

// KeyLocker serializes work on a single key across goroutines (and processes
// when backed by a shared store).
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
