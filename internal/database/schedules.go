package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"barberbook/internal/models"

	"github.com/Masterminds/squirrel"
)

var scheduleColumns = []string{"barber_id", "date", "slots", "unavailable_slots", "is_day_off", "updated_at"}

func scanSchedule(row interface{ Scan(dest ...any) error }) (*models.DaySchedule, error) {
	var (
		s                 models.DaySchedule
		date, slots, unav string
	)
	if err := row.Scan(&s.BarberID, &date, &slots, &unav, &s.IsDayOff, &s.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.Date, err = parseDateColumn(date); err != nil {
		return nil, err
	}
	if err := decodeJSON(slots, &s.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if err := decodeJSON(unav, &s.UnavailableSlots); err != nil {
		return nil, fmt.Errorf("decode unavailable slots: %w", err)
	}
	return &s, nil
}

func (db *DB) GetDaySchedule(ctx context.Context, barberID string, date time.Time) (*models.DaySchedule, error) {
	query, args, err := builder.Select(scheduleColumns...).
		From("day_schedules").
		Where(squirrel.Eq{"barber_id": barberID, "date": models.DateKey(date)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("GetDaySchedule - build select query: %w", err)
	}

	s, err := scanSchedule(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("GetDaySchedule", err)
	}
	return s, nil
}

func (db *DB) ListDaySchedules(ctx context.Context, barberID string, from, to time.Time) ([]models.DaySchedule, error) {
	query, args, err := builder.Select(scheduleColumns...).
		From("day_schedules").
		Where(squirrel.Eq{"barber_id": barberID}).
		Where(squirrel.GtOrEq{"date": models.DateKey(from)}).
		Where(squirrel.LtOrEq{"date": models.DateKey(to)}).
		OrderBy("date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListDaySchedules - build select query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("ListDaySchedules", err)
	}
	defer rows.Close()

	var out []models.DaySchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, storeErr("ListDaySchedules", err)
		}
		out = append(out, *s)
	}
	return out, storeErr("ListDaySchedules", rows.Err())
}

func (db *DB) UpsertDaySchedule(ctx context.Context, schedule *models.DaySchedule) error {
	slots, err := encodeJSON(nonNil(schedule.Slots))
	if err != nil {
		return fmt.Errorf("UpsertDaySchedule - encode slots: %w", err)
	}
	unav, err := encodeJSON(nonNil(schedule.UnavailableSlots))
	if err != nil {
		return fmt.Errorf("UpsertDaySchedule - encode unavailable slots: %w", err)
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = time.Now().UTC()
	}

	query := `INSERT INTO day_schedules (barber_id, date, slots, unavailable_slots, is_day_off, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(barber_id, date) DO UPDATE SET
				slots = excluded.slots,
				unavailable_slots = excluded.unavailable_slots,
				is_day_off = excluded.is_day_off,
				updated_at = excluded.updated_at`
	_, err = db.ExecContext(ctx, query,
		schedule.BarberID, models.DateKey(schedule.Date), slots, unav, schedule.IsDayOff, schedule.UpdatedAt)
	return storeErr("UpsertDaySchedule", err)
}

func (db *DB) DeleteDaySchedulesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := builder.Delete("day_schedules").
		Where(squirrel.Lt{"date": models.DateKey(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("DeleteDaySchedulesBefore - build delete query: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr("DeleteDaySchedulesBefore", err)
	}
	n, err := rowsAffected(res)
	return n, storeErr("DeleteDaySchedulesBefore", err)
}
