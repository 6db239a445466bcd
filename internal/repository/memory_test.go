package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"barberbook/internal/domain"
	"barberbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var friday = time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)

func joinAll(t *testing.T, s *MemoryStore, customers ...string) []*models.WaitlistEntry {
	t.Helper()
	out := make([]*models.WaitlistEntry, 0, len(customers))
	for _, c := range customers {
		e := &models.WaitlistEntry{BarberID: "michele", Date: friday, CustomerID: c}
		require.NoError(t, s.CreateWaitlistEntry(context.Background(), e))
		out = append(out, e)
	}
	return out
}

func waitingPositions(t *testing.T, s *MemoryStore) map[string]int {
	t.Helper()
	list, err := s.ListWaitlist(context.Background(), "michele", friday, models.WaitlistWaiting)
	require.NoError(t, err)
	out := make(map[string]int, len(list))
	for _, e := range list {
		out[e.CustomerID] = e.Position
	}
	return out
}

func TestMemoryStoreWaitlist(t *testing.T) {
	ctx := context.Background()

	t.Run("JoinAssignsPositions", func(t *testing.T) {
		s := NewMemoryStore()
		joinAll(t, s, "c1", "c2", "c3")
		assert.Equal(t, map[string]int{"c1": 1, "c2": 2, "c3": 3}, waitingPositions(t, s))

		err := s.CreateWaitlistEntry(ctx, &models.WaitlistEntry{BarberID: "michele", Date: friday, CustomerID: "c2"})
		assert.ErrorIs(t, err, domain.ErrAlreadyWaiting)
	})

	t.Run("OnlyOneOfferPerKey", func(t *testing.T) {
		s := NewMemoryStore()
		entries := joinAll(t, s, "c1", "c2")
		exp := friday.Add(-time.Hour)

		ok, err := s.OfferWaitlistEntry(ctx, entries[0].ID, "10:00", exp)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, map[string]int{"c2": 1}, waitingPositions(t, s))

		ok, err = s.OfferWaitlistEntry(ctx, entries[1].ID, "10:30", exp)
		require.NoError(t, err)
		assert.False(t, ok, "second offer for the same key must lose")
	})

	t.Run("CloseOfferRespectsDeadline", func(t *testing.T) {
		s := NewMemoryStore()
		entries := joinAll(t, s, "c1")
		exp := time.Date(2025, 12, 2, 10, 0, 0, 0, time.UTC)
		_, err := s.OfferWaitlistEntry(ctx, entries[0].ID, "10:00", exp)
		require.NoError(t, err)

		ok, err := s.CloseOffer(ctx, entries[0].ID, models.WaitlistExpired, exp.Add(-time.Second))
		require.NoError(t, err)
		assert.False(t, ok, "not expired yet")

		ok, err = s.CloseOffer(ctx, entries[0].ID, models.WaitlistExpired, exp)
		require.NoError(t, err)
		assert.True(t, ok, "expired exactly at the deadline")

		_, err = s.CloseOffer(ctx, entries[0].ID, models.WaitlistBooked, exp)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("AcceptCreatesBooking", func(t *testing.T) {
		s := NewMemoryStore()
		entries := joinAll(t, s, "c1")
		now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
		_, err := s.OfferWaitlistEntry(ctx, entries[0].ID, "10:00", now.Add(time.Hour))
		require.NoError(t, err)

		booking := &models.Booking{}
		require.NoError(t, s.AcceptOffer(ctx, entries[0].ID, now, booking))
		assert.NotEmpty(t, booking.ID)
		assert.Equal(t, "c1", booking.CustomerID)
		assert.Equal(t, models.BookingConfirmed, booking.Status)

		got, err := s.GetWaitlistEntry(ctx, entries[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.WaitlistBooked, got.Status)
	})

	t.Run("AcceptTakenSlotThenRequeue", func(t *testing.T) {
		s := NewMemoryStore()
		entries := joinAll(t, s, "c1", "c2")
		now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateBooking(ctx, &models.Booking{
			BarberID: "michele", Date: friday, Time: "10:00", CustomerID: "walk-in", Status: models.BookingConfirmed,
		}))
		_, err := s.OfferWaitlistEntry(ctx, entries[0].ID, "10:00", now.Add(time.Hour))
		require.NoError(t, err)

		err = s.AcceptOffer(ctx, entries[0].ID, now, &models.Booking{})
		require.ErrorIs(t, err, domain.ErrSlotTaken)

		ok, err := s.RequeueOffer(ctx, entries[0].ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, map[string]int{"c1": 1, "c2": 2}, waitingPositions(t, s))
	})

	t.Run("AcceptAfterDeadline", func(t *testing.T) {
		s := NewMemoryStore()
		entries := joinAll(t, s, "c1")
		now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
		_, err := s.OfferWaitlistEntry(ctx, entries[0].ID, "10:00", now)
		require.NoError(t, err)

		err = s.AcceptOffer(ctx, entries[0].ID, now, &models.Booking{})
		assert.ErrorIs(t, err, domain.ErrOfferExpired)

		expired, err := s.ListExpiredOffers(ctx, now)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, entries[0].ID, expired[0].ID)
	})

	t.Run("DeleteWaitingRenumbers", func(t *testing.T) {
		s := NewMemoryStore()
		entries := joinAll(t, s, "c1", "c2", "c3")

		ok, err := s.DeleteWaitingEntry(ctx, entries[1].ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, map[string]int{"c1": 1, "c3": 2}, waitingPositions(t, s))

		ok, err = s.DeleteWaitingEntry(ctx, entries[1].ID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.GetWaitlistEntry(ctx, entries[1].ID)
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	})
}

func TestMemoryStoreClosures(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	auto := &models.ClosureException{BarberID: "michele", Date: friday, Type: models.ClosureAfternoon, CreatedBy: models.CreatedBySystemAuto}
	created, err := s.CreateClosureException(ctx, auto)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateClosureException(ctx, &models.ClosureException{BarberID: "michele", Date: friday, Type: models.ClosureAfternoon})
	require.NoError(t, err)
	assert.False(t, created, "one exception per barber, date and type")

	require.NoError(t, s.RemoveClosureException(ctx, "michele", friday, models.ClosureAfternoon))

	exceptions, err := s.ListClosureExceptions(ctx, "michele", friday, friday)
	require.NoError(t, err)
	assert.Empty(t, exceptions)

	tombstones, err := s.ListRemovedAutoClosures(ctx, "michele", friday, friday)
	require.NoError(t, err)
	require.Len(t, tombstones, 1, "removing a system closure leaves a tombstone")
	assert.True(t, tombstones[0].Matches(friday, models.ClosureAfternoon))
}

func TestMemoryStoreBookings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	b := &models.Booking{BarberID: "michele", Date: friday.Add(10 * time.Hour), Time: "10:00", CustomerID: "c1", Status: models.BookingConfirmed}
	require.NoError(t, s.CreateBooking(ctx, b))
	assert.Equal(t, friday, b.Date, "date is truncated to the day")

	err := s.CreateBooking(ctx, &models.Booking{BarberID: "michele", Date: friday, Time: "10:00", CustomerID: "c2", Status: models.BookingPending})
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	cancelled, err := s.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)

	_, err = s.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrBookingCancelled)

	_, err = s.CancelBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	require.NoError(t, s.CreateBooking(ctx, &models.Booking{BarberID: "michele", Date: friday, Time: "10:00", CustomerID: "c2", Status: models.BookingPending}))
	list, err := s.ListBookings(ctx, "michele", friday)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveBarber(ctx, &models.Barber{ID: "michele", Active: true}))

	s.Fail("GetBarber", errors.New("disk gone"))
	_, err := s.GetBarber(ctx, "michele")
	assert.ErrorIs(t, err, domain.ErrTransientStore)

	s.Fail("GetBarber", nil)
	_, err = s.GetBarber(ctx, "michele")
	assert.NoError(t, err)

	assert.Equal(t, 2, s.Calls("GetBarber"))
	s.ResetCalls()
	assert.Equal(t, 0, s.TotalCalls())
}

func TestMemoryStoreCustomers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveCustomer(ctx, &models.Customer{ID: "c1", ChatID: 42}))
	require.NoError(t, s.SaveCustomer(ctx, &models.Customer{ID: "c2"}))

	id, err := s.ChatID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = s.ChatID(ctx, "c2")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound, "a customer without a chat cannot be reached")
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(ctx, "other")
	require.NoError(t, err, "keys are independent")
	other()

	unlock()
	unlock() // idempotent
	again, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	again()
}

func TestMemoryLockerForgetsIdleKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	for _, day := range []string{"2025-12-01", "2025-12-02", "2025-12-03"} {
		unlock, err := l.Lock(ctx, "michele|"+day)
		require.NoError(t, err)
		unlock()
	}
	assert.Zero(t, l.Keys(), "unlocked keys are dropped")

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Keys(), "a timed out waiter leaves the held key in place")

	acquired := make(chan func())
	go func() {
		next, err := l.Lock(ctx, "k")
		if assert.NoError(t, err) {
			acquired <- next
		}
	}()
	unlock()
	next := <-acquired
	assert.Equal(t, 1, l.Keys(), "the waiter inherits the key")
	next()
	assert.Zero(t, l.Keys())
}
