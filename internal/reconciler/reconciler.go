package reconciler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"barberbook/internal/clock"
	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/metrics"
	"barberbook/internal/models"
	"barberbook/internal/slots"

	"github.com/rs/zerolog"
)

// Options configures a Reconciler.
type Options struct {
	Barbers        domain.BarberStore
	Schedules      domain.ScheduleStore
	Closures       domain.ClosureSources
	Clock          clock.Clock
	Location       *time.Location
	WindowDays     int
	ProtectedDates []string
	AutoClosures   []models.AutoClosureRule
	Logger         *zerolog.Logger
}

// Report summarizes one reconciliation pass.
type Report struct {
	Created             int   `json:"created"`
	Updated             int   `json:"updated"`
	Unchanged           int   `json:"unchanged"`
	Skipped             int   `json:"skipped"`
	ExceptionalKept     int   `json:"exceptional_kept"`
	AutoClosuresCreated int   `json:"auto_closures_created"`
	AutoClosuresRemoved int   `json:"auto_closures_removed"`
	Failures            int   `json:"failures"`
	Purged              int64 `json:"purged"`
}

// Reconciler materializes day schedules and system closures for a rolling window.
type Reconciler struct {
	barbers    domain.BarberStore
	schedules  domain.ScheduleStore
	closures   domain.ClosureSources
	clock      clock.Clock
	loc        *time.Location
	windowDays int
	protected  map[string]bool
	auto       []models.AutoClosureRule
	logger     *zerolog.Logger
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		barbers:    opts.Barbers,
		schedules:  opts.Schedules,
		closures:   opts.Closures,
		clock:      opts.Clock,
		loc:        opts.Location,
		windowDays: opts.WindowDays,
		protected:  make(map[string]bool, len(opts.ProtectedDates)),
		auto:       opts.AutoClosures,
		logger:     logging.Component(opts.Logger, "reconciler"),
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.windowDays <= 0 {
		r.windowDays = models.DefaultReconcileWindowDays
	}
	for _, raw := range opts.ProtectedDates {
		if d, err := models.ParseDate(raw); err == nil {
			r.protected[models.DateKey(d)] = true
		}
	}
	return r
}

// barberState is everything the pass needs about one barber, read once.
type barberState struct {
	rule       *models.ClosureRule
	schedules  map[string]*models.DaySchedule
	exceptions []models.ClosureException
	tombstones []models.RemovedAutoClosure
}

// Run reconciles [today, today+window) for every active barber and purges
// schedules older than yesterday. A failing barber or date is counted and
// left for the next run.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	started := r.clock.Now()
	today := models.Day(started.In(r.loc))
	dates := models.DateRange(today, r.windowDays)
	from, to := dates[0], dates[len(dates)-1]

	barbers, err := r.barbers.ListActiveBarbers(ctx)
	if err != nil {
		metrics.IncReconcileRun("error")
		return rep, fmt.Errorf("list barbers: %w", err)
	}

	var errs []error
	for _, b := range barbers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		state, err := r.load(ctx, b.ID, from, to)
		if err != nil {
			rep.Failures++
			errs = append(errs, fmt.Errorf("barber %s: %w", b.ID, err))
			r.logger.Error().Err(err).Str("barber_id", b.ID).Msg("load barber state")
			continue
		}
		for _, d := range dates {
			if err := r.reconcileDate(ctx, b.ID, d, state, &rep); err != nil {
				rep.Failures++
				errs = append(errs, fmt.Errorf("barber %s on %s: %w", b.ID, models.DateKey(d), err))
				r.logger.Error().Err(err).Str("barber_id", b.ID).Str("date", models.DateKey(d)).Msg("reconcile unit failed")
			}
		}
	}

	purged, err := r.schedules.DeleteDaySchedulesBefore(ctx, today.AddDate(0, 0, -1))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge schedules: %w", err))
		r.logger.Error().Err(err).Msg("purge old schedules")
	}
	rep.Purged = purged

	metrics.AddReconcileUnits("created", rep.Created)
	metrics.AddReconcileUnits("updated", rep.Updated)
	metrics.AddReconcileUnits("unchanged", rep.Unchanged)
	metrics.AddReconcileUnits("skipped", rep.Skipped)
	metrics.AddReconcileUnits("exceptional_kept", rep.ExceptionalKept)
	metrics.AddReconcileUnits("auto_closure_created", rep.AutoClosuresCreated)
	metrics.AddReconcileUnits("auto_closure_removed", rep.AutoClosuresRemoved)
	metrics.AddReconcileUnits("failed", rep.Failures)

	err = errors.Join(errs...)
	metrics.IncReconcileRun(metrics.Result(err))
	r.logger.Info().
		Int("barbers", len(barbers)).
		Int("created", rep.Created).
		Int("updated", rep.Updated).
		Int("unchanged", rep.Unchanged).
		Int("skipped", rep.Skipped).
		Int("exceptional_kept", rep.ExceptionalKept).
		Int("auto_closures", rep.AutoClosuresCreated).
		Int("failures", rep.Failures).
		Int64("purged", rep.Purged).
		Dur("took", r.clock.Now().Sub(started)).
		Msg("reconciliation finished")
	return rep, err
}

func (r *Reconciler) load(ctx context.Context, barberID string, from, to time.Time) (*barberState, error) {
	rule, err := r.closures.GetClosureRule(ctx, barberID)
	if err != nil {
		return nil, err
	}
	scheds, err := r.schedules.ListDaySchedules(ctx, barberID, from, to)
	if err != nil {
		return nil, err
	}
	exceptions, err := r.closures.ListClosureExceptions(ctx, barberID, from, to)
	if err != nil {
		return nil, err
	}
	tombstones, err := r.closures.ListRemovedAutoClosures(ctx, barberID, from, to)
	if err != nil {
		return nil, err
	}

	state := &barberState{
		rule:       rule,
		schedules:  make(map[string]*models.DaySchedule, len(scheds)),
		exceptions: exceptions,
		tombstones: tombstones,
	}
	for i := range scheds {
		state.schedules[models.DateKey(scheds[i].Date)] = &scheds[i]
	}
	return state, nil
}

func (r *Reconciler) reconcileDate(ctx context.Context, barberID string, date time.Time, state *barberState, rep *Report) error {
	key := models.DateKey(date)
	if r.protected[key] {
		rep.Skipped++
		r.logger.Debug().Str("barber_id", barberID).Str("date", key).Msg("protected date skipped")
		return nil
	}

	if err := r.reconcileSchedule(ctx, barberID, date, state, rep); err != nil {
		return err
	}
	return r.reconcileAutoClosures(ctx, barberID, date, state, rep)
}

// Canonical returns the schedule a barber gets on date when nobody curated it.
func Canonical(barberID string, date time.Time, rule *models.ClosureRule) *models.DaySchedule {
	catalog := slots.ForDate(date)
	return &models.DaySchedule{
		BarberID: barberID,
		Date:     models.Day(date),
		Slots:    catalog,
		IsDayOff: rule.Closes(date.Weekday()) || len(catalog) == 0,
	}
}

func (r *Reconciler) reconcileSchedule(ctx context.Context, barberID string, date time.Time, state *barberState, rep *Report) error {
	key := models.DateKey(date)
	existing := state.schedules[key]

	if existing.IsExceptionalOpening(state.rule) {
		rep.ExceptionalKept++
		r.logger.Info().Str("barber_id", barberID).Str("date", key).Msg("exceptional opening kept")
		return nil
	}

	want := Canonical(barberID, date, state.rule)
	if existing != nil && existing.SameShape(want) {
		rep.Unchanged++
		return nil
	}
	if existing != nil {
		want.UnavailableSlots = existing.UnavailableSlots
	}
	want.UpdatedAt = r.clock.Now().UTC()

	if err := r.schedules.UpsertDaySchedule(ctx, want); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	state.schedules[key] = want
	if existing == nil {
		rep.Created++
	} else {
		rep.Updated++
	}
	return nil
}

func (r *Reconciler) reconcileAutoClosures(ctx context.Context, barberID string, date time.Time, state *barberState, rep *Report) error {
	// system closures suppressed by a tombstone must not survive
	for _, exc := range slices.Clone(state.exceptions) {
		if exc.CreatedBy != models.CreatedBySystemAuto || models.DateKey(exc.Date) != models.DateKey(date) {
			continue
		}
		if !state.tombstoned(date, exc.Type) {
			continue
		}
		if err := r.closures.RemoveClosureException(ctx, barberID, date, exc.Type); err != nil {
			return fmt.Errorf("remove tombstoned closure: %w", err)
		}
		state.dropException(date, exc.Type)
		rep.AutoClosuresRemoved++
	}

	for _, rule := range r.auto {
		if rule.BarberID != barberID || !rule.AppliesOn(date) {
			continue
		}
		if state.hasException(date, rule.Type) || state.tombstoned(date, rule.Type) {
			continue
		}
		exc := &models.ClosureException{
			BarberID:  barberID,
			Date:      models.Day(date),
			Type:      rule.Type,
			Reason:    rule.Reason,
			CreatedBy: models.CreatedBySystemAuto,
			CreatedAt: r.clock.Now().UTC(),
		}
		created, err := r.closures.CreateClosureException(ctx, exc)
		if err != nil {
			return fmt.Errorf("create auto closure: %w", err)
		}
		state.exceptions = append(state.exceptions, *exc)
		if created {
			rep.AutoClosuresCreated++
		}
	}
	return nil
}

func (s *barberState) hasException(date time.Time, t models.ClosureType) bool {
	for _, exc := range s.exceptions {
		if exc.Type == t && models.DateKey(exc.Date) == models.DateKey(date) {
			return true
		}
	}
	return false
}

func (s *barberState) dropException(date time.Time, t models.ClosureType) {
	kept := s.exceptions[:0]
	for _, exc := range s.exceptions {
		if exc.Type == t && models.DateKey(exc.Date) == models.DateKey(date) {
			continue
		}
		kept = append(kept, exc)
	}
	s.exceptions = kept
}

func (s *barberState) tombstoned(date time.Time, t models.ClosureType) bool {
	for _, ts := range s.tombstones {
		if ts.Matches(date, t) {
			return true
		}
	}
	return false
}

// Start runs a pass immediately and then every interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	r.logger.Info().Dur("interval", interval).Int("window_days", r.windowDays).Msg("reconciler started")

	if _, err := r.Run(ctx); err != nil {
		r.logger.Error().Err(err).Msg("reconciliation pass failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}
