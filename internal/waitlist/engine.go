package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"barberbook/internal/clock"
	"barberbook/internal/domain"
	"barberbook/internal/events"
	"barberbook/internal/logging"
	"barberbook/internal/metrics"
	"barberbook/internal/models"
	"barberbook/internal/repository"

	"github.com/rs/zerolog"
)

// maxOfferAttempts bounds how often one vacancy retries the head of the line
// when the conditional offer update loses a race.
const maxOfferAttempts = 3

// Options wires the engine to its collaborators. Store is required; the rest
// fall back to in-process defaults.
type Options struct {
	Store       domain.WaitlistStore
	Barbers     domain.BarberStore
	Bookings    domain.BookingStore
	Notifier    domain.Notifier
	Locker      domain.KeyLocker
	Events      domain.EventPublisher
	Clock       clock.Clock
	Location    *time.Location
	OfferTTL    time.Duration
	HotOfferTTL time.Duration
	Logger      *zerolog.Logger
}

// Engine drives waitlist entries through waiting, offered and their final states.
type Engine struct {
	store    domain.WaitlistStore
	barbers  domain.BarberStore
	bookings domain.BookingStore
	notifier domain.Notifier
	locker   domain.KeyLocker
	events   domain.EventPublisher
	clock    clock.Clock
	loc      *time.Location
	offerTTL time.Duration
	hotTTL   time.Duration
	logger   *zerolog.Logger
}

// Vacancy is an offered slot that went back to the line and needs a new taker.
type Vacancy struct {
	BarberID string
	Date     time.Time
	Time     string
	EntryID  string
	Reason   string
}

// Outcome is the result of a Respond call.
type Outcome struct {
	Entry     *models.WaitlistEntry `json:"entry"`
	Booking   *models.Booking       `json:"booking,omitempty"`
	NextOffer *models.WaitlistEntry `json:"next_offer,omitempty"`
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		store:    opts.Store,
		barbers:  opts.Barbers,
		bookings: opts.Bookings,
		notifier: opts.Notifier,
		locker:   opts.Locker,
		events:   opts.Events,
		clock:    opts.Clock,
		loc:      opts.Location,
		offerTTL: opts.OfferTTL,
		hotTTL:   opts.HotOfferTTL,
		logger:   logging.Component(opts.Logger, "waitlist"),
	}
	if e.locker == nil {
		e.locker = repository.NewMemoryLocker()
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.offerTTL <= 0 {
		e.offerTTL = models.DefaultOfferTTL
	}
	if e.hotTTL <= 0 {
		e.hotTTL = models.DefaultHotOfferTTL
	}
	return e
}

// OfferTTL is the default hold of an offer.
func (e *Engine) OfferTTL() time.Duration { return e.offerTTL }

// HotOfferTTL is the short hold used when the slot is about to start.
func (e *Engine) HotOfferTTL() time.Duration { return e.hotTTL }

func lockKey(barberID string, date time.Time) string {
	return fmt.Sprintf("waitlist:%s:%s", barberID, models.DateKey(date))
}

func (e *Engine) withKey(ctx context.Context, barberID string, date time.Time, fn func() error) error {
	unlock, err := e.locker.Lock(ctx, lockKey(barberID, date))
	if err != nil {
		return fmt.Errorf("lock %s: %w", lockKey(barberID, date), err)
	}
	defer unlock()
	return fn()
}

// Join appends customerID to the waiting line of (barberID, date).
func (e *Engine) Join(ctx context.Context, barberID string, date time.Time, customerID string) (*models.WaitlistEntry, error) {
	barberID = strings.TrimSpace(barberID)
	customerID = strings.TrimSpace(customerID)
	if barberID == "" || customerID == "" {
		return nil, domain.Validationf("barber id and customer id are required")
	}
	date = models.Day(date)
	if models.DateKey(date) < models.DateKey(e.clock.Now().In(e.loc)) {
		return nil, domain.Validationf("date %s is in the past", models.DateKey(date))
	}
	if err := e.checkBarber(ctx, barberID); err != nil {
		return nil, err
	}

	entry := &models.WaitlistEntry{BarberID: barberID, Date: date, CustomerID: customerID}
	err := e.withKey(ctx, barberID, date, func() error {
		return e.store.CreateWaitlistEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncWaitlist(string(models.WaitlistWaiting))
	e.publish(events.EventWaitlistJoined, entry)
	e.logger.Info().Str("entry_id", entry.ID).Str("barber_id", barberID).Str("date", models.DateKey(date)).Int("position", entry.Position).Msg("customer joined waitlist")
	return entry, nil
}

// OfferNextSlot offers slot to the head of the line with the default hold.
// It returns nil without mutation when nobody is waiting or an offer is
// already outstanding for the key.
func (e *Engine) OfferNextSlot(ctx context.Context, barberID string, date time.Time, slot string) (*models.WaitlistEntry, error) {
	return e.OfferNextSlotWithin(ctx, barberID, date, slot, e.offerTTL)
}

// OfferNextSlotWithin is OfferNextSlot with a caller-chosen hold.
func (e *Engine) OfferNextSlotWithin(ctx context.Context, barberID string, date time.Time, slot string, hold time.Duration) (*models.WaitlistEntry, error) {
	barberID = strings.TrimSpace(barberID)
	if barberID == "" {
		return nil, domain.Validationf("barber id is required")
	}
	slot, err := models.ParseSlotTime(slot)
	if err != nil {
		return nil, domain.Validationf("%v", err)
	}
	if hold <= 0 {
		return nil, domain.Validationf("offer hold must be positive")
	}
	date = models.Day(date)
	if err := e.checkBarber(ctx, barberID); err != nil {
		return nil, err
	}

	var offered *models.WaitlistEntry
	err = e.withKey(ctx, barberID, date, func() error {
		var err error
		offered, err = e.offerLocked(ctx, barberID, date, slot, hold)
		return err
	})
	return offered, err
}

// offerLocked must run under the key lock of (barberID, date).
func (e *Engine) offerLocked(ctx context.Context, barberID string, date time.Time, slot string, hold time.Duration) (*models.WaitlistEntry, error) {
	outstanding, err := e.store.ListWaitlist(ctx, barberID, date, models.WaitlistOffered)
	if err != nil {
		return nil, err
	}
	if len(outstanding) > 0 {
		e.logger.Debug().Str("barber_id", barberID).Str("date", models.DateKey(date)).Str("entry_id", outstanding[0].ID).Msg("offer already outstanding")
		return nil, nil
	}

	for attempt := 0; attempt < maxOfferAttempts; attempt++ {
		head, err := e.store.FirstWaiting(ctx, barberID, date)
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, nil
		}

		expiresAt := e.clock.Now().Add(hold)
		ok, err := e.store.OfferWaitlistEntry(ctx, head.ID, slot, expiresAt)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		head.Status = models.WaitlistOffered
		head.OfferedTime = slot
		head.OfferExpiresAt = &expiresAt

		metrics.IncWaitlist(string(models.WaitlistOffered))
		e.publish(events.EventWaitlistOffered, head)
		e.notifyOffer(ctx, head)
		return head, nil
	}
	return nil, nil
}

func (e *Engine) notifyOffer(ctx context.Context, entry *models.WaitlistEntry) {
	if e.notifier == nil {
		return
	}
	expires := entry.OfferExpiresAt.In(e.loc)
	n := models.Notification{
		Title: "A slot opened up",
		Body: fmt.Sprintf("%s at %s is free. Reply before %s to take it.",
			models.DateKey(entry.Date), entry.OfferedTime, expires.Format("2006-01-02 15:04")),
		Data: map[string]string{
			"entry_id":   entry.ID,
			"barber_id":  entry.BarberID,
			"date":       models.DateKey(entry.Date),
			"time":       entry.OfferedTime,
			"expires_at": entry.OfferExpiresAt.UTC().Format(time.RFC3339),
		},
	}

	delivery, err := e.notifier.Send(ctx, entry.CustomerID, n)
	switch {
	case err != nil:
		e.logger.Error().Err(err).Str("entry_id", entry.ID).Str("customer_id", entry.CustomerID).Msg("offer notification failed")
	case delivery.Queued:
		e.logger.Debug().Str("entry_id", entry.ID).Msg("offer notification queued")
	case !delivery.Delivered:
		e.logger.Warn().Str("entry_id", entry.ID).Str("customer_id", entry.CustomerID).Msg("offer notification not delivered")
	}
}

// Respond applies the customer's answer to an offer.
func (e *Engine) Respond(ctx context.Context, entryID string, response models.Response) (*Outcome, error) {
	if response != models.ResponseAccept && response != models.ResponseDecline {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownResponse, response)
	}
	entry, err := e.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	var vacancy *Vacancy
	var respondErr error

	err = e.withKey(ctx, entry.BarberID, entry.Date, func() error {
		// re-read under the lock, the sweep may have moved it
		current, err := e.store.GetWaitlistEntry(ctx, entryID)
		if err != nil {
			return err
		}
		out.Entry = current
		now := e.clock.Now()

		if current.Status != models.WaitlistOffered {
			respondErr = domain.ErrOfferExpired
			return nil
		}
		if !current.OfferLive(now) {
			vacancy, err = e.expireLocked(ctx, current, now)
			respondErr = domain.ErrOfferExpired
			return err
		}

		if response == models.ResponseDecline {
			ok, err := e.store.CloseOffer(ctx, current.ID, models.WaitlistDeclined, now)
			if err != nil {
				return err
			}
			if !ok {
				respondErr = domain.ErrOfferExpired
				return nil
			}
			current.Status = models.WaitlistDeclined
			metrics.IncWaitlist(string(models.WaitlistDeclined))
			e.publish(events.EventWaitlistDeclined, current)
			vacancy = vacancyOf(current, "declined")
			return nil
		}

		booking := &models.Booking{}
		err = e.store.AcceptOffer(ctx, current.ID, now, booking)
		switch {
		case errors.Is(err, domain.ErrSlotTaken):
			if _, rqErr := e.store.RequeueOffer(ctx, current.ID); rqErr != nil {
				return rqErr
			}
			current.Status = models.WaitlistWaiting
			current.Position = 1
			current.OfferedTime = ""
			current.OfferExpiresAt = nil
			metrics.IncWaitlist("requeued")
			e.publish(events.EventWaitlistRequeued, current)
			e.logger.Warn().Str("entry_id", current.ID).Msg("offered slot was taken before accept, entry requeued")
			respondErr = err
			return nil
		case errors.Is(err, domain.ErrOfferExpired):
			vacancy, err = e.expireLocked(ctx, current, now)
			respondErr = domain.ErrOfferExpired
			return err
		case err != nil:
			return err
		}

		current.Status = models.WaitlistBooked
		out.Booking = booking
		metrics.IncWaitlist(string(models.WaitlistBooked))
		e.publish(events.EventWaitlistBooked, current)
		e.logger.Info().Str("entry_id", current.ID).Str("booking_id", booking.ID).Msg("offer accepted")
		return nil
	})
	if err != nil {
		return nil, err
	}

	if vacancy != nil {
		next, err := e.Dispatch(ctx, *vacancy)
		out.NextOffer = next
		if err != nil {
			return out, err
		}
	}
	return out, respondErr
}

// expireLocked closes an offer whose deadline passed and returns the vacancy
// it leaves, or nil when another caller already moved the entry.
func (e *Engine) expireLocked(ctx context.Context, entry *models.WaitlistEntry, now time.Time) (*Vacancy, error) {
	ok, err := e.store.CloseOffer(ctx, entry.ID, models.WaitlistExpired, now)
	if err != nil || !ok {
		return nil, err
	}
	entry.Status = models.WaitlistExpired
	metrics.IncWaitlist(string(models.WaitlistExpired))
	e.publish(events.EventWaitlistExpired, entry)
	return vacancyOf(entry, "expired"), nil
}

func vacancyOf(entry *models.WaitlistEntry, reason string) *Vacancy {
	return &Vacancy{
		BarberID: entry.BarberID,
		Date:     entry.Date,
		Time:     entry.OfferedTime,
		EntryID:  entry.ID,
		Reason:   reason,
	}
}

// Dispatch hands vacated slots to the next waiting customers. It is the only
// place a declined, expired or cancelled slot is re-offered. The first offer
// made is returned.
func (e *Engine) Dispatch(ctx context.Context, vacancies ...Vacancy) (*models.WaitlistEntry, error) {
	queue := append([]Vacancy(nil), vacancies...)
	var first *models.WaitlistEntry
	var errs []error

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]

		if e.events != nil {
			if err := e.events.PublishJSON(events.EventOfferVacated, events.OfferVacatedPayload{
				BarberID: v.BarberID,
				Date:     models.DateKey(v.Date),
				Time:     v.Time,
				EntryID:  v.EntryID,
				Reason:   v.Reason,
			}); err != nil {
				e.logger.Warn().Err(err).Msg("publish offer vacated")
			}
		}

		var offered *models.WaitlistEntry
		err := e.withKey(ctx, v.BarberID, v.Date, func() error {
			held, err := e.slotHeld(ctx, v)
			if err != nil || held {
				return err
			}
			offered, err = e.offerLocked(ctx, v.BarberID, v.Date, v.Time, e.offerTTL)
			return err
		})
		if err != nil {
			e.logger.Error().Err(err).Str("barber_id", v.BarberID).Str("date", models.DateKey(v.Date)).Str("time", v.Time).Msg("re-offer failed")
			errs = append(errs, err)
			continue
		}
		if offered != nil && first == nil {
			first = offered
		}
	}
	return first, errors.Join(errs...)
}

// slotHeld reports whether the vacated slot was booked in the meantime.
func (e *Engine) slotHeld(ctx context.Context, v Vacancy) (bool, error) {
	if e.bookings == nil {
		return false, nil
	}
	bookings, err := e.bookings.ListBookings(ctx, v.BarberID, v.Date)
	if err != nil {
		return false, err
	}
	for _, b := range bookings {
		if b.Time == v.Time && b.Holds() {
			e.logger.Debug().Str("barber_id", v.BarberID).Str("date", models.DateKey(v.Date)).Str("time", v.Time).Msg("vacated slot already booked")
			return true, nil
		}
	}
	return false, nil
}

// ExpireStaleOffers expires every offer whose deadline has passed and
// re-offers the freed slots. Running it again without new expiries is a no-op.
func (e *Engine) ExpireStaleOffers(ctx context.Context) (int, error) {
	now := e.clock.Now()
	stale, err := e.store.ListExpiredOffers(ctx, now)
	if err != nil {
		return 0, err
	}

	var vacancies []Vacancy
	var errs []error
	for i := range stale {
		entry := &stale[i]
		err := e.withKey(ctx, entry.BarberID, entry.Date, func() error {
			v, err := e.expireLocked(ctx, entry, now)
			if v != nil {
				vacancies = append(vacancies, *v)
			}
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := e.Dispatch(ctx, vacancies...); err != nil {
		errs = append(errs, err)
	}
	if len(vacancies) > 0 {
		e.logger.Info().Int("expired", len(vacancies)).Msg("stale offers expired")
	}
	return len(vacancies), errors.Join(errs...)
}

// Leave removes a waiting entry at the customer's request.
func (e *Engine) Leave(ctx context.Context, entryID string) error {
	entry, err := e.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != models.WaitlistWaiting {
		return domain.ErrEntryNotWaiting
	}

	err = e.withKey(ctx, entry.BarberID, entry.Date, func() error {
		ok, err := e.store.DeleteWaitingEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrEntryNotWaiting
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.IncWaitlist("left")
	e.publish(events.EventWaitlistLeft, entry)
	e.logger.Info().Str("entry_id", entryID).Msg("customer left waitlist")
	return nil
}

// CancelBooking cancels a booking and offers the freed slot to the waitlist.
// Slots starting within the hot window get the short hold.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) (*models.Booking, *models.WaitlistEntry, error) {
	if e.bookings == nil {
		return nil, nil, errors.New("booking store is not configured")
	}
	booking, err := e.bookings.CancelBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if e.events != nil {
		_ = e.events.PublishJSON(events.EventBookingCanceled, events.BookingEventPayload{
			BookingID:  booking.ID,
			BarberID:   booking.BarberID,
			Date:       models.DateKey(booking.Date),
			Time:       booking.Time,
			CustomerID: booking.CustomerID,
			Status:     string(booking.Status),
		})
	}

	hold := e.offerTTL
	if start, ok := e.slotStart(booking.Date, booking.Time); ok {
		until := start.Sub(e.clock.Now())
		if until <= 0 {
			return booking, nil, nil
		}
		if until < e.offerTTL {
			hold = e.hotTTL
		}
	}

	next, err := e.OfferNextSlotWithin(ctx, booking.BarberID, booking.Date, booking.Time, hold)
	if err != nil {
		return booking, nil, err
	}
	return booking, next, nil
}

func (e *Engine) slotStart(date time.Time, slot string) (time.Time, bool) {
	t, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, models.DateKey(date)+" "+slot, e.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RunSweeper expires stale offers every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("offer expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("offer expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := e.ExpireStaleOffers(ctx); err != nil {
				e.logger.Error().Err(err).Msg("offer expiry sweep failed")
			}
		}
	}
}

func (e *Engine) checkBarber(ctx context.Context, barberID string) error {
	if e.barbers == nil {
		return nil
	}
	_, err := e.barbers.GetBarber(ctx, barberID)
	return err
}

func (e *Engine) publish(eventType string, entry *models.WaitlistEntry) {
	if e.events == nil {
		return
	}
	payload := events.WaitlistEventPayload{
		EntryID:    entry.ID,
		BarberID:   entry.BarberID,
		Date:       models.DateKey(entry.Date),
		CustomerID: entry.CustomerID,
		Status:     string(entry.Status),
		Position:   entry.Position,
		Time:       entry.OfferedTime,
		ExpiresAt:  entry.OfferExpiresAt,
	}
	if err := e.events.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("publish waitlist event")
	}
}
