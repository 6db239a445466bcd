package availability

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"barberbook/internal/clock"
	"barberbook/internal/closure"
	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/metrics"
	"barberbook/internal/models"
	"barberbook/internal/slots"

	"github.com/rs/zerolog"
)

// DayAvailability is the bookable view of one barber on one date.
type DayAvailability struct {
	BarberID           string    `json:"barber_id"`
	Date               time.Time `json:"date"`
	Slots              []string  `json:"slots"`
	Total              int       `json:"total"`
	ExceptionalOpening bool      `json:"exceptional_opening"`
}

func (d *DayAvailability) HasSlots() bool {
	return len(d.Slots) > 0
}

// DateSummary is one row of a batch answer.
type DateSummary struct {
	Date           string `json:"date"`
	HasSlots       bool   `json:"has_slots"`
	AvailableCount int    `json:"available_count"`
	TotalSlots     int    `json:"total_slots"`
}

type BatchRequest struct {
	BarberID string
	Dates    []time.Time
}

type BatchResult struct {
	BarberID            string        `json:"barber_id"`
	Dates               []DateSummary `json:"dates"`
	ExceptionalOpenings []string      `json:"exceptional_openings"`
}

// Resolver combines the slot catalog, closures, schedules and bookings.
type Resolver struct {
	barbers  domain.BarberStore
	bookings domain.BookingStore
	index    *closure.Index
	clock    clock.Clock
	loc      *time.Location
	logger   *zerolog.Logger
}

func NewResolver(
	barbers domain.BarberStore,
	bookings domain.BookingStore,
	index *closure.Index,
	clk clock.Clock,
	loc *time.Location,
	logger *zerolog.Logger,
) *Resolver {
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		barbers:  barbers,
		bookings: bookings,
		index:    index,
		clock:    clk,
		loc:      loc,
		logger:   logging.Component(logger, "availability"),
	}
}

// AvailableSlots returns the bookable slots of barberID on date.
func (r *Resolver) AvailableSlots(ctx context.Context, barberID string, date time.Time) (*DayAvailability, error) {
	day, err := r.single(ctx, barberID, date)
	metrics.IncAvailability("single", metrics.Result(err))
	return day, err
}

func (r *Resolver) single(ctx context.Context, barberID string, date time.Time) (*DayAvailability, error) {
	barberID = strings.TrimSpace(barberID)
	if barberID == "" {
		return nil, domain.Validationf("barber id is required")
	}
	date = models.Day(date)

	if _, err := r.barbers.GetBarber(ctx, barberID); err != nil {
		return nil, err
	}

	snap, err := r.index.Load(ctx, barberID, date, date)
	if err != nil {
		return nil, err
	}

	bookings, err := r.bookings.ListBookings(ctx, barberID, date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	day := r.resolve(snap, date, bookings)
	return &day, nil
}

// BatchAvailability answers up to MaxBatchDates dates with one load per source.
func (r *Resolver) BatchAvailability(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	res, err := r.batch(ctx, req)
	metrics.IncAvailability("batch", metrics.Result(err))
	return res, err
}

func (r *Resolver) batch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Dates) > models.MaxBatchDates {
		return nil, fmt.Errorf("%w: %d dates, at most %d", domain.ErrTooManyDates, len(req.Dates), models.MaxBatchDates)
	}
	barberID := strings.TrimSpace(req.BarberID)
	if barberID == "" {
		return nil, domain.Validationf("barber id is required")
	}
	if len(req.Dates) == 0 {
		return nil, domain.Validationf("at least one date is required")
	}

	dates := make([]time.Time, 0, len(req.Dates))
	seen := make(map[string]bool, len(req.Dates))
	for _, d := range req.Dates {
		d = models.Day(d)
		if key := models.DateKey(d); !seen[key] {
			seen[key] = true
			dates = append(dates, d)
		}
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	if _, err := r.barbers.GetBarber(ctx, barberID); err != nil {
		return nil, err
	}

	snap, err := r.index.IsClosedBatch(ctx, barberID, dates)
	if err != nil {
		return nil, err
	}

	from, to := models.SpanOf(dates)
	bookings, err := r.bookings.ListBookingsInRange(ctx, barberID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	byDate := make(map[string][]models.Booking)
	for _, b := range bookings {
		key := models.DateKey(b.Date)
		byDate[key] = append(byDate[key], b)
	}

	out := &BatchResult{
		BarberID:            barberID,
		Dates:               make([]DateSummary, 0, len(dates)),
		ExceptionalOpenings: []string{},
	}
	for _, d := range dates {
		key := models.DateKey(d)
		day := r.resolve(snap, d, byDate[key])
		out.Dates = append(out.Dates, DateSummary{
			Date:           key,
			HasSlots:       day.HasSlots(),
			AvailableCount: len(day.Slots),
			TotalSlots:     day.Total,
		})
		if day.ExceptionalOpening {
			out.ExceptionalOpenings = append(out.ExceptionalOpenings, key)
		}
	}

	r.logger.Debug().Str("barber_id", barberID).Int("dates", len(dates)).Int("exceptional", len(out.ExceptionalOpenings)).Msg("batch availability resolved")
	return out, nil
}

func (r *Resolver) resolve(snap *closure.Snapshot, date time.Time, bookings []models.Booking) DayAvailability {
	sched := snap.Schedule(date)
	exceptional := snap.IsExceptionalOpening(date)

	candidates := slots.ForDate(date)
	if sched != nil {
		candidates = sched.Slots
	}

	day := DayAvailability{
		BarberID:           snap.BarberID,
		Date:               date,
		Slots:              []string{},
		Total:              len(candidates),
		ExceptionalOpening: exceptional,
	}
	// выходной: нет рабочих часов, а не закрытые слоты
	if dayOff(sched, snap.Rule, date) {
		day.Total = 0
		return day
	}

	taken := make(map[string]bool, len(bookings))
	for _, b := range bookings {
		if b.Holds() {
			taken[b.Time] = true
		}
	}

	for _, slot := range candidates {
		if taken[slot] || r.elapsed(date, slot) {
			continue
		}
		if sched != nil && slices.Contains(sched.UnavailableSlots, slot) {
			continue
		}
		q := closure.Query{Date: date, Time: slot, SkipRecurring: exceptional}
		if closure.Resolve(closure.AvailabilityChain, snap, q) == closure.Closed {
			continue
		}
		day.Slots = append(day.Slots, slot)
	}
	return day
}

// dayOff reports whether the barber does not work on date at all, either by a
// day-off schedule or, before reconciliation, by the recurring rule.
func dayOff(sched *models.DaySchedule, rule *models.ClosureRule, date time.Time) bool {
	if sched != nil {
		return sched.IsDayOff
	}
	return rule.Closes(date.Weekday())
}

// elapsed reports whether slot on date has already started in shop time.
func (r *Resolver) elapsed(date time.Time, slot string) bool {
	now := r.clock.Now().In(r.loc)
	today := models.DateKey(now)
	switch key := models.DateKey(date); {
	case key < today:
		return true
	case key > today:
		return false
	}
	return slot <= now.Format(models.TimeLayout)
}
