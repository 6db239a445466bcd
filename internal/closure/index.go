package closure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/models"

	"github.com/rs/zerolog"
)

// Index answers "is this barber closed at this slot" from the four closure
// sources plus materialized schedules.
type Index struct {
	sources   domain.ClosureSources
	schedules domain.ScheduleStore
	barbers   domain.BarberStore
	logger    *zerolog.Logger
}

func NewIndex(sources domain.ClosureSources, schedules domain.ScheduleStore, logger *zerolog.Logger) *Index {
	return &Index{sources: sources, schedules: schedules, logger: logging.Component(logger, "closure_index")}
}

// WithBarbers makes IsClosed and IsClosedBatch reject unknown barbers.
func (ix *Index) WithBarbers(barbers domain.BarberStore) *Index {
	ix.barbers = barbers
	return ix
}

func (ix *Index) checkBarber(ctx context.Context, barberID string) (string, error) {
	barberID = strings.TrimSpace(barberID)
	if barberID == "" {
		return "", domain.Validationf("barber id is required")
	}
	if ix.barbers != nil {
		if _, err := ix.barbers.GetBarber(ctx, barberID); err != nil {
			return "", err
		}
	}
	return barberID, nil
}

// Load reads every source once for barberID over [from, to].
func (ix *Index) Load(ctx context.Context, barberID string, from, to time.Time) (*Snapshot, error) {
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return nil, domain.Validationf("date range %s..%s is inverted", models.DateKey(from), models.DateKey(to))
	}

	snap := newSnapshot(barberID, from, to)

	shop, err := ix.sources.GetShopClosures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load shop closures: %w", err)
	}
	snap.Shop = shop

	rule, err := ix.sources.GetClosureRule(ctx, barberID)
	if err != nil {
		return nil, fmt.Errorf("load closure rule: %w", err)
	}
	snap.Rule = rule

	exceptions, err := ix.sources.ListClosureExceptions(ctx, barberID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load closure exceptions: %w", err)
	}
	for _, exc := range exceptions {
		snap.AddException(exc)
	}

	tombstones, err := ix.sources.ListRemovedAutoClosures(ctx, barberID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load removed auto closures: %w", err)
	}
	for _, ts := range tombstones {
		key := models.DateKey(ts.Date)
		snap.tombstones[key] = append(snap.tombstones[key], ts)
	}

	schedules, err := ix.schedules.ListDaySchedules(ctx, barberID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load day schedules: %w", err)
	}
	for i := range schedules {
		snap.SetSchedule(&schedules[i])
	}

	ix.logger.Debug().
		Str("barber_id", barberID).
		Str("from", models.DateKey(from)).
		Str("to", models.DateKey(to)).
		Int("exceptions", len(exceptions)).
		Int("schedules", len(schedules)).
		Msg("closure snapshot loaded")

	return snap, nil
}

// IsClosed resolves a single slot.
func (ix *Index) IsClosed(ctx context.Context, barberID string, date time.Time, slot string) (bool, error) {
	slot, err := models.ParseSlotTime(slot)
	if err != nil {
		return false, domain.Validationf("%v", err)
	}
	if date.IsZero() {
		return false, domain.Validationf("date is required")
	}
	barberID, err = ix.checkBarber(ctx, barberID)
	if err != nil {
		return false, err
	}
	snap, err := ix.Load(ctx, barberID, date, date)
	if err != nil {
		return false, err
	}
	return snap.IsClosed(date, slot), nil
}

// IsClosedBatch loads the sources once for all dates and returns the snapshot
// to resolve any (date, slot) pair among them without further store calls.
func (ix *Index) IsClosedBatch(ctx context.Context, barberID string, dates []time.Time) (*Snapshot, error) {
	if len(dates) > models.MaxBatchDates {
		return nil, fmt.Errorf("%w: %d dates, at most %d", domain.ErrTooManyDates, len(dates), models.MaxBatchDates)
	}
	if len(dates) == 0 {
		return nil, domain.Validationf("at least one date is required")
	}
	barberID, err := ix.checkBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	from, to := models.SpanOf(dates)
	return ix.Load(ctx, barberID, from, to)
}
