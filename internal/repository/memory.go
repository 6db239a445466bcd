package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"barberbook/internal/domain"
	"barberbook/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps every domain store in process memory. It backs tests and
// local runs without a database file, and counts calls per method so callers
// can assert on query budgets.
type MemoryStore struct {
	mu sync.Mutex

	shop       *models.ShopClosures
	rules      map[string]models.ClosureRule
	exceptions []models.ClosureException
	tombstones []models.RemovedAutoClosure
	schedules  map[string]models.DaySchedule // barber|date
	bookings   map[string]models.Booking
	barbers    map[string]models.Barber
	customers  map[string]models.Customer
	waitlist   map[string]models.WaitlistEntry
	nextExcID  int64

	calls    map[string]int
	failures map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:     make(map[string]models.ClosureRule),
		schedules: make(map[string]models.DaySchedule),
		bookings:  make(map[string]models.Booking),
		barbers:   make(map[string]models.Barber),
		customers: make(map[string]models.Customer),
		waitlist:  make(map[string]models.WaitlistEntry),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
}

// track records a call and returns the injected failure for method, if any.
// Must be called with mu held.
func (s *MemoryStore) track(method string) error {
	s.calls[method]++
	if err, ok := s.failures[method]; ok {
		return domain.Transient(method, err)
	}
	return nil
}

// Fail makes every later call to method return err wrapped as a transient store error.
func (s *MemoryStore) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls returns how many times method was called.
func (s *MemoryStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of store calls of any kind.
func (s *MemoryStore) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

func scheduleKey(barberID string, date time.Time) string {
	return barberID + "|" + models.DateKey(date)
}

func inRange(d, from, to time.Time) bool {
	key := models.DateKey(d)
	return key >= models.DateKey(from) && key <= models.DateKey(to)
}

func sameDay(a, b time.Time) bool {
	return models.DateKey(a) == models.DateKey(b)
}

func copySchedule(in models.DaySchedule) models.DaySchedule {
	in.Slots = slices.Clone(in.Slots)
	in.UnavailableSlots = slices.Clone(in.UnavailableSlots)
	return in
}

// Barbers and customers

func (s *MemoryStore) SaveBarber(_ context.Context, b *models.Barber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("SaveBarber"); err != nil {
		return err
	}
	s.barbers[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBarber(_ context.Context, id string) (*models.Barber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("GetBarber"); err != nil {
		return nil, err
	}
	b, ok := s.barbers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBarberNotFound, id)
	}
	return &b, nil
}

func (s *MemoryStore) ListActiveBarbers(_ context.Context) ([]models.Barber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListActiveBarbers"); err != nil {
		return nil, err
	}
	var out []models.Barber
	for _, b := range s.barbers {
		if b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveCustomer(_ context.Context, c *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("SaveCustomer"); err != nil {
		return err
	}
	s.customers[c.ID] = *c
	return nil
}

func (s *MemoryStore) ChatID(_ context.Context, customerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ChatID"); err != nil {
		return 0, err
	}
	c, ok := s.customers[customerID]
	if !ok || c.ChatID == 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, customerID)
	}
	return c.ChatID, nil
}

// Closure sources

func (s *MemoryStore) GetShopClosures(_ context.Context) (*models.ShopClosures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("GetShopClosures"); err != nil {
		return nil, err
	}
	if s.shop == nil {
		return &models.ShopClosures{}, nil
	}
	out := *s.shop
	out.ClosedDates = slices.Clone(out.ClosedDates)
	out.ClosedDays = slices.Clone(out.ClosedDays)
	return &out, nil
}

func (s *MemoryStore) SaveShopClosures(_ context.Context, settings *models.ShopClosures) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("SaveShopClosures"); err != nil {
		return err
	}
	cp := *settings
	cp.ClosedDates = slices.Clone(settings.ClosedDates)
	cp.ClosedDays = slices.Clone(settings.ClosedDays)
	s.shop = &cp
	return nil
}

func (s *MemoryStore) GetClosureRule(_ context.Context, barberID string) (*models.ClosureRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("GetClosureRule"); err != nil {
		return nil, err
	}
	rule, ok := s.rules[barberID]
	if !ok {
		return nil, nil
	}
	rule.ClosedWeekdays = slices.Clone(rule.ClosedWeekdays)
	return &rule, nil
}

func (s *MemoryStore) SaveClosureRule(_ context.Context, rule *models.ClosureRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("SaveClosureRule"); err != nil {
		return err
	}
	cp := *rule
	cp.ClosedWeekdays = slices.Clone(rule.ClosedWeekdays)
	s.rules[rule.BarberID] = cp
	return nil
}

func (s *MemoryStore) ListClosureExceptions(_ context.Context, barberID string, from, to time.Time) ([]models.ClosureException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListClosureExceptions"); err != nil {
		return nil, err
	}
	var out []models.ClosureException
	for _, exc := range s.exceptions {
		if exc.BarberID == barberID && inRange(exc.Date, from, to) {
			out = append(out, exc)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateClosureException(_ context.Context, exc *models.ClosureException) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("CreateClosureException"); err != nil {
		return false, err
	}
	for _, existing := range s.exceptions {
		if existing.BarberID == exc.BarberID && sameDay(existing.Date, exc.Date) && existing.Type == exc.Type {
			return false, nil
		}
	}
	s.nextExcID++
	exc.ID = s.nextExcID
	if exc.CreatedAt.IsZero() {
		exc.CreatedAt = time.Now().UTC()
	}
	s.exceptions = append(s.exceptions, *exc)
	return true, nil
}

func (s *MemoryStore) RemoveClosureException(_ context.Context, barberID string, date time.Time, closureType models.ClosureType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("RemoveClosureException"); err != nil {
		return err
	}
	kept := s.exceptions[:0]
	for _, exc := range s.exceptions {
		if exc.BarberID == barberID && sameDay(exc.Date, date) && exc.Type == closureType {
			if exc.CreatedBy == models.CreatedBySystemAuto {
				s.addTombstoneLocked(models.RemovedAutoClosure{BarberID: barberID, Date: exc.Date, Type: closureType, RemovedAt: time.Now().UTC()})
			}
			continue
		}
		kept = append(kept, exc)
	}
	s.exceptions = kept
	return nil
}

func (s *MemoryStore) ListRemovedAutoClosures(_ context.Context, barberID string, from, to time.Time) ([]models.RemovedAutoClosure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListRemovedAutoClosures"); err != nil {
		return nil, err
	}
	var out []models.RemovedAutoClosure
	for _, ts := range s.tombstones {
		if ts.BarberID == barberID && inRange(ts.Date, from, to) {
			out = append(out, ts)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordRemovedAutoClosure(_ context.Context, tombstone *models.RemovedAutoClosure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("RecordRemovedAutoClosure"); err != nil {
		return err
	}
	if tombstone.RemovedAt.IsZero() {
		tombstone.RemovedAt = time.Now().UTC()
	}
	s.addTombstoneLocked(*tombstone)

	kept := s.exceptions[:0]
	for _, exc := range s.exceptions {
		if exc.BarberID == tombstone.BarberID && exc.CreatedBy == models.CreatedBySystemAuto && tombstone.Matches(exc.Date, exc.Type) {
			continue
		}
		kept = append(kept, exc)
	}
	s.exceptions = kept
	return nil
}

func (s *MemoryStore) addTombstoneLocked(ts models.RemovedAutoClosure) {
	for _, existing := range s.tombstones {
		if existing.BarberID == ts.BarberID && existing.Matches(ts.Date, ts.Type) {
			return
		}
	}
	s.tombstones = append(s.tombstones, ts)
}

// Schedules

func (s *MemoryStore) GetDaySchedule(_ context.Context, barberID string, date time.Time) (*models.DaySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("GetDaySchedule"); err != nil {
		return nil, err
	}
	sched, ok := s.schedules[scheduleKey(barberID, date)]
	if !ok {
		return nil, nil
	}
	cp := copySchedule(sched)
	return &cp, nil
}

func (s *MemoryStore) ListDaySchedules(_ context.Context, barberID string, from, to time.Time) ([]models.DaySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListDaySchedules"); err != nil {
		return nil, err
	}
	var out []models.DaySchedule
	for _, sched := range s.schedules {
		if sched.BarberID == barberID && inRange(sched.Date, from, to) {
			out = append(out, copySchedule(sched))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) UpsertDaySchedule(_ context.Context, schedule *models.DaySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("UpsertDaySchedule"); err != nil {
		return err
	}
	cp := copySchedule(*schedule)
	cp.Date = models.Day(cp.Date)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.schedules[scheduleKey(cp.BarberID, cp.Date)] = cp
	return nil
}

func (s *MemoryStore) DeleteDaySchedulesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("DeleteDaySchedulesBefore"); err != nil {
		return 0, err
	}
	var n int64
	limit := models.DateKey(cutoff)
	for key, sched := range s.schedules {
		if models.DateKey(sched.Date) < limit {
			delete(s.schedules, key)
			n++
		}
	}
	return n, nil
}

// Bookings

func (s *MemoryStore) ListBookings(_ context.Context, barberID string, date time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListBookings"); err != nil {
		return nil, err
	}
	return s.bookingsLocked(barberID, date, date), nil
}

func (s *MemoryStore) ListBookingsInRange(_ context.Context, barberID string, from, to time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListBookingsInRange"); err != nil {
		return nil, err
	}
	return s.bookingsLocked(barberID, from, to), nil
}

func (s *MemoryStore) bookingsLocked(barberID string, from, to time.Time) []models.Booking {
	var out []models.Booking
	for _, b := range s.bookings {
		if b.BarberID == barberID && inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("GetBooking"); err != nil {
		return nil, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	return &b, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("CreateBooking"); err != nil {
		return err
	}
	return s.insertBookingLocked(booking, time.Now().UTC())
}

func (s *MemoryStore) insertBookingLocked(booking *models.Booking, now time.Time) error {
	if booking.Holds() && s.slotHeldLocked(booking.BarberID, booking.Date, booking.Time) {
		return domain.ErrSlotTaken
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	booking.Date = models.Day(booking.Date)
	booking.CreatedAt = now
	booking.UpdatedAt = now
	s.bookings[booking.ID] = *booking
	return nil
}

func (s *MemoryStore) slotHeldLocked(barberID string, date time.Time, slot string) bool {
	for _, b := range s.bookings {
		if b.BarberID == barberID && sameDay(b.Date, date) && b.Time == slot && b.Holds() {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CancelBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("CancelBooking"); err != nil {
		return nil, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	if b.Status == models.BookingCancelled {
		return nil, domain.ErrBookingCancelled
	}
	b.Status = models.BookingCancelled
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b
	return &b, nil
}

// Waitlist

func (s *MemoryStore) CreateWaitlistEntry(_ context.Context, entry *models.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("CreateWaitlistEntry"); err != nil {
		return err
	}

	maxPos := 0
	for _, e := range s.waitlist {
		if e.BarberID != entry.BarberID || !sameDay(e.Date, entry.Date) {
			continue
		}
		if e.CustomerID == entry.CustomerID && e.Status.Open() {
			return domain.ErrAlreadyWaiting
		}
		if e.Status == models.WaitlistWaiting && e.Position > maxPos {
			maxPos = e.Position
		}
	}

	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Date = models.Day(entry.Date)
	entry.Position = maxPos + 1
	entry.Status = models.WaitlistWaiting
	entry.CreatedAt = now
	entry.UpdatedAt = now
	s.waitlist[entry.ID] = *entry
	return nil
}

func (s *MemoryStore) GetWaitlistEntry(_ context.Context, id string) (*models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("GetWaitlistEntry"); err != nil {
		return nil, err
	}
	e, ok := s.waitlist[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	return &e, nil
}

func (s *MemoryStore) ListWaitlist(_ context.Context, barberID string, date time.Time, statuses ...models.WaitlistStatus) ([]models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListWaitlist"); err != nil {
		return nil, err
	}
	return s.listLocked(barberID, date, statuses...), nil
}

func (s *MemoryStore) listLocked(barberID string, date time.Time, statuses ...models.WaitlistStatus) []models.WaitlistEntry {
	var out []models.WaitlistEntry
	for _, e := range s.waitlist {
		if e.BarberID != barberID || !sameDay(e.Date, date) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, e.Status) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) FirstWaiting(_ context.Context, barberID string, date time.Time) (*models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("FirstWaiting"); err != nil {
		return nil, err
	}
	waiting := s.listLocked(barberID, date, models.WaitlistWaiting)
	if len(waiting) == 0 {
		return nil, nil
	}
	return &waiting[0], nil
}

func (s *MemoryStore) OfferWaitlistEntry(_ context.Context, id, slot string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("OfferWaitlistEntry"); err != nil {
		return false, err
	}
	e, ok := s.waitlist[id]
	if !ok || e.Status != models.WaitlistWaiting {
		return false, nil
	}
	if len(s.listLocked(e.BarberID, e.Date, models.WaitlistOffered)) > 0 {
		return false, nil
	}
	exp := expiresAt
	e.Status = models.WaitlistOffered
	e.OfferedTime = slot
	e.OfferExpiresAt = &exp
	e.UpdatedAt = time.Now().UTC()
	s.waitlist[id] = e
	s.renumberLocked(e.BarberID, e.Date)
	return true, nil
}

func (s *MemoryStore) CloseOffer(_ context.Context, id string, to models.WaitlistStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("CloseOffer"); err != nil {
		return false, err
	}
	if to != models.WaitlistDeclined && to != models.WaitlistExpired {
		return false, domain.Validationf("cannot close an offer as %s", to)
	}
	e, ok := s.waitlist[id]
	if !ok || e.Status != models.WaitlistOffered {
		return false, nil
	}
	if to == models.WaitlistExpired && (e.OfferExpiresAt == nil || now.Before(*e.OfferExpiresAt)) {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = now
	s.waitlist[id] = e
	return true, nil
}

func (s *MemoryStore) AcceptOffer(_ context.Context, id string, now time.Time, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("AcceptOffer"); err != nil {
		return err
	}
	e, ok := s.waitlist[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	if !e.OfferLive(now) {
		return domain.ErrOfferExpired
	}

	booking.BarberID = e.BarberID
	booking.Date = e.Date
	booking.Time = e.OfferedTime
	booking.CustomerID = e.CustomerID
	booking.Status = models.BookingConfirmed
	if err := s.insertBookingLocked(booking, now); err != nil {
		return err
	}

	e.Status = models.WaitlistBooked
	e.UpdatedAt = now
	s.waitlist[id] = e
	return nil
}

func (s *MemoryStore) RequeueOffer(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("RequeueOffer"); err != nil {
		return false, err
	}
	e, ok := s.waitlist[id]
	if !ok || e.Status != models.WaitlistOffered {
		return false, nil
	}
	for key, other := range s.waitlist {
		if other.BarberID == e.BarberID && sameDay(other.Date, e.Date) && other.Status == models.WaitlistWaiting {
			other.Position++
			s.waitlist[key] = other
		}
	}
	e.Status = models.WaitlistWaiting
	e.Position = 1
	e.OfferedTime = ""
	e.OfferExpiresAt = nil
	e.UpdatedAt = time.Now().UTC()
	s.waitlist[id] = e
	return true, nil
}

func (s *MemoryStore) DeleteWaitingEntry(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("DeleteWaitingEntry"); err != nil {
		return false, err
	}
	e, ok := s.waitlist[id]
	if !ok || e.Status != models.WaitlistWaiting {
		return false, nil
	}
	delete(s.waitlist, id)
	s.renumberLocked(e.BarberID, e.Date)
	return true, nil
}

func (s *MemoryStore) ListExpiredOffers(_ context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.track("ListExpiredOffers"); err != nil {
		return nil, err
	}
	var out []models.WaitlistEntry
	for _, e := range s.waitlist {
		if e.Status == models.WaitlistOffered && e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferExpiresAt.Before(*out[j].OfferExpiresAt) })
	return out, nil
}

func (s *MemoryStore) renumberLocked(barberID string, date time.Time) {
	for i, e := range s.listLocked(barberID, date, models.WaitlistWaiting) {
		e.Position = i + 1
		s.waitlist[e.ID] = e
	}
}
