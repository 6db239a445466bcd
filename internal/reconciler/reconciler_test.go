package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"barberbook/internal/clock"
	"barberbook/internal/domain"
	"barberbook/internal/models"
	"barberbook/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := models.ParseDate(raw)
	require.NoError(t, err)
	return d
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.SaveBarber(ctx, &models.Barber{ID: "fabio", Name: "Fabio", Active: true}))
	require.NoError(t, store.SaveBarber(ctx, &models.Barber{ID: "michele", Name: "Michele", Active: true}))
	require.NoError(t, store.SaveBarber(ctx, &models.Barber{ID: "retired", Name: "Retired", Active: false}))
	require.NoError(t, store.SaveClosureRule(ctx, &models.ClosureRule{BarberID: "fabio", ClosedWeekdays: []time.Weekday{time.Monday}}))
	return store
}

func newReconciler(store *repository.MemoryStore, now time.Time, opts Options) *Reconciler {
	opts.Barbers = store
	opts.Schedules = store
	opts.Closures = store
	opts.Clock = clock.Fake(now)
	opts.Location = time.UTC
	if opts.WindowDays == 0 {
		opts.WindowDays = 14
	}
	return New(opts)
}

// Monday 2025-12-01, 03:00
var runAt = time.Date(2025, 12, 1, 3, 0, 0, 0, time.UTC)

func TestRunMaterializesWindow(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	r := newReconciler(store, runAt, Options{WindowDays: 7})

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, rep.Created, "two active barbers, seven days")
	assert.Zero(t, rep.Failures)

	monday, err := store.GetDaySchedule(ctx, "fabio", mustDate(t, "2025-12-01"))
	require.NoError(t, err)
	require.NotNil(t, monday)
	assert.True(t, monday.IsDayOff)
	assert.Len(t, monday.Slots, 15)

	tuesday, err := store.GetDaySchedule(ctx, "fabio", mustDate(t, "2025-12-02"))
	require.NoError(t, err)
	assert.False(t, tuesday.IsDayOff)
	assert.Len(t, tuesday.Slots, 14)

	sunday, err := store.GetDaySchedule(ctx, "michele", mustDate(t, "2025-12-07"))
	require.NoError(t, err)
	assert.True(t, sunday.IsDayOff)
	assert.Empty(t, sunday.Slots)

	retired, err := store.GetDaySchedule(ctx, "retired", mustDate(t, "2025-12-02"))
	require.NoError(t, err)
	assert.Nil(t, retired)
}

func TestRunIsIdempotent(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	r := newReconciler(store, runAt, Options{
		AutoClosures: []models.AutoClosureRule{
			{BarberID: "michele", Type: models.ClosureMorning, Reason: "afternoons only"},
			{BarberID: "fabio", Weekdays: []time.Weekday{time.Saturday}, Type: models.ClosureAfternoon},
		},
	})

	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 28, first.Created)
	assert.Equal(t, 14+2, first.AutoClosuresCreated)

	exceptionsBefore, err := store.ListClosureExceptions(ctx, "michele", runAt, runAt.AddDate(0, 0, 14))
	require.NoError(t, err)

	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.AutoClosuresCreated)
	assert.Equal(t, 28, second.Unchanged)

	exceptionsAfter, err := store.ListClosureExceptions(ctx, "michele", runAt, runAt.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, len(exceptionsBefore), len(exceptionsAfter))
	for _, exc := range exceptionsAfter {
		assert.Equal(t, models.CreatedBySystemAuto, exc.CreatedBy)
		assert.Equal(t, "afternoons only", exc.Reason)
	}
}

func TestRunKeepsExceptionalOpening(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	monday := mustDate(t, "2025-12-08")
	opening := &models.DaySchedule{BarberID: "fabio", Date: monday, Slots: []string{"10:00", "10:30"}}
	require.NoError(t, store.UpsertDaySchedule(ctx, opening))

	r := newReconciler(store, runAt, Options{})
	for i := 0; i < 2; i++ {
		rep, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.ExceptionalKept)
	}

	got, err := store.GetDaySchedule(ctx, "fabio", monday)
	require.NoError(t, err)
	assert.False(t, got.IsDayOff)
	assert.Equal(t, []string{"10:00", "10:30"}, got.Slots)
}

func TestRunOverwritesDriftedSchedule(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	tuesday := mustDate(t, "2025-12-02")
	require.NoError(t, store.UpsertDaySchedule(ctx, &models.DaySchedule{
		BarberID: "michele", Date: tuesday, Slots: []string{"09:00"}, UnavailableSlots: []string{"09:00"}, IsDayOff: true,
	}))

	rep, err := newReconciler(store, runAt, Options{WindowDays: 3}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)

	got, err := store.GetDaySchedule(ctx, "michele", tuesday)
	require.NoError(t, err)
	assert.False(t, got.IsDayOff)
	assert.Len(t, got.Slots, 14)
	assert.Equal(t, []string{"09:00"}, got.UnavailableSlots, "manual blocks survive")
}

func TestRunSkipsProtectedDates(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	curated := &models.DaySchedule{BarberID: "michele", Date: mustDate(t, "2025-12-03"), Slots: []string{"11:00"}}
	require.NoError(t, store.UpsertDaySchedule(ctx, curated))

	r := newReconciler(store, runAt, Options{
		WindowDays:     7,
		ProtectedDates: []string{"2025-12-03"},
		AutoClosures:   []models.AutoClosureRule{{BarberID: "michele", Type: models.ClosureFull}},
	})
	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)

	got, err := store.GetDaySchedule(ctx, "michele", mustDate(t, "2025-12-03"))
	require.NoError(t, err)
	assert.Equal(t, []string{"11:00"}, got.Slots)

	exceptions, err := store.ListClosureExceptions(ctx, "michele", mustDate(t, "2025-12-03"), mustDate(t, "2025-12-03"))
	require.NoError(t, err)
	assert.Empty(t, exceptions)
}

func TestTombstoneSuppressesAutoClosure(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	xmas := mustDate(t, "2025-12-25")
	r := newReconciler(store, runAt, Options{
		WindowDays: 30,
		AutoClosures: []models.AutoClosureRule{
			{BarberID: "fabio", Weekdays: []time.Weekday{time.Thursday}, Type: models.ClosureFull, Reason: "holiday"},
		},
	})

	_, err := r.Run(ctx)
	require.NoError(t, err)
	exc, err := store.ListClosureExceptions(ctx, "fabio", xmas, xmas)
	require.NoError(t, err)
	require.Len(t, exc, 1)
	assert.Equal(t, models.CreatedBySystemAuto, exc[0].CreatedBy)

	require.NoError(t, store.RecordRemovedAutoClosure(ctx, &models.RemovedAutoClosure{BarberID: "fabio", Date: xmas, Type: models.ClosureFull}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.AutoClosuresCreated)

	exc, err = store.ListClosureExceptions(ctx, "fabio", xmas, xmas)
	require.NoError(t, err)
	assert.Empty(t, exc)

	// other Thursdays keep their closures
	exc, err = store.ListClosureExceptions(ctx, "fabio", mustDate(t, "2025-12-18"), mustDate(t, "2025-12-18"))
	require.NoError(t, err)
	assert.Len(t, exc, 1)
}

func TestRunRemovesTombstonedSystemClosure(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	xmas := mustDate(t, "2025-12-25")

	// tombstone first, then a stray system closure for the same key
	require.NoError(t, store.RecordRemovedAutoClosure(ctx, &models.RemovedAutoClosure{BarberID: "fabio", Date: xmas, Type: models.ClosureFull}))
	_, err := store.CreateClosureException(ctx, &models.ClosureException{
		BarberID: "fabio", Date: xmas, Type: models.ClosureFull, CreatedBy: models.CreatedBySystemAuto,
	})
	require.NoError(t, err)

	rep, err := newReconciler(store, runAt, Options{WindowDays: 30}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AutoClosuresRemoved)

	exc, err := store.ListClosureExceptions(ctx, "fabio", xmas, xmas)
	require.NoError(t, err)
	assert.Empty(t, exc)
}

func TestManualRemovalOfAutoClosureSticks(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	r := newReconciler(store, runAt, Options{
		WindowDays:   3,
		AutoClosures: []models.AutoClosureRule{{BarberID: "michele", Type: models.ClosureAfternoon}},
	})

	_, err := r.Run(ctx)
	require.NoError(t, err)

	// an admin removes a closure by hand: tombstoned, so it stays gone
	require.NoError(t, store.RemoveClosureException(ctx, "michele", mustDate(t, "2025-12-02"), models.ClosureAfternoon))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.AutoClosuresCreated)

	exc, err := store.ListClosureExceptions(ctx, "michele", mustDate(t, "2025-12-01"), mustDate(t, "2025-12-03"))
	require.NoError(t, err)
	assert.Len(t, exc, 2)
}

func TestRunPurgesOldSchedules(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	for _, raw := range []string{"2025-11-20", "2025-11-29", "2025-11-30"} {
		require.NoError(t, store.UpsertDaySchedule(ctx, &models.DaySchedule{BarberID: "michele", Date: mustDate(t, raw), Slots: []string{"09:00"}}))
	}

	rep, err := newReconciler(store, runAt, Options{WindowDays: 1}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Purged)

	kept, err := store.GetDaySchedule(ctx, "michele", mustDate(t, "2025-11-30"))
	require.NoError(t, err)
	assert.NotNil(t, kept, "yesterday is retained")
}

func TestRunCountsFailuresAndContinues(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	store.Fail("UpsertDaySchedule", errors.New("database is locked"))

	rep, err := newReconciler(store, runAt, Options{WindowDays: 2}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, 4, rep.Failures)

	store.Fail("UpsertDaySchedule", nil)
	rep, err = newReconciler(store, runAt, Options{WindowDays: 2}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Created)
}

func TestRunFailsWithoutBarbers(t *testing.T) {
	store := seededStore(t)
	store.Fail("ListActiveBarbers", errors.New("no such table: barbers"))

	_, err := newReconciler(store, runAt, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransientStore)
}

func TestCanonical(t *testing.T) {
	rule := &models.ClosureRule{BarberID: "fabio", ClosedWeekdays: []time.Weekday{time.Monday}}

	monday := Canonical("fabio", mustDate(t, "2025-12-01"), rule)
	assert.True(t, monday.IsDayOff)
	assert.Len(t, monday.Slots, 15)

	saturday := Canonical("fabio", mustDate(t, "2025-12-06"), rule)
	assert.False(t, saturday.IsDayOff)
	assert.Len(t, saturday.Slots, 14)

	sunday := Canonical("michele", mustDate(t, "2025-12-07"), nil)
	assert.True(t, sunday.IsDayOff)
}

func TestStartRunsImmediately(t *testing.T) {
	store := seededStore(t)
	r := newReconciler(store, runAt, Options{WindowDays: 1})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Calls("ListActiveBarbers") >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
