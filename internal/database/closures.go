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

func (db *DB) GetShopClosures(ctx context.Context) (*models.ShopClosures, error) {
	var (
		dates, days string
		updatedAt   time.Time
	)
	err := db.QueryRowContext(ctx, `SELECT closed_dates, closed_days, updated_at FROM shop_closures WHERE id = 1`).
		Scan(&dates, &days, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ShopClosures{}, nil
	}
	if err != nil {
		return nil, storeErr("GetShopClosures", err)
	}

	settings := &models.ShopClosures{UpdatedAt: updatedAt}
	if err := decodeJSON(dates, &settings.ClosedDates); err != nil {
		return nil, fmt.Errorf("GetShopClosures - decode closed dates: %w", err)
	}
	if err := decodeJSON(days, &settings.ClosedDays); err != nil {
		return nil, fmt.Errorf("GetShopClosures - decode closed days: %w", err)
	}
	return settings, nil
}

func (db *DB) SaveShopClosures(ctx context.Context, settings *models.ShopClosures) error {
	dates, err := encodeJSON(nonNil(settings.ClosedDates))
	if err != nil {
		return fmt.Errorf("SaveShopClosures - encode closed dates: %w", err)
	}
	days, err := encodeJSON(nonNil(settings.ClosedDays))
	if err != nil {
		return fmt.Errorf("SaveShopClosures - encode closed days: %w", err)
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}

	query := `INSERT INTO shop_closures (id, closed_dates, closed_days, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET closed_dates = excluded.closed_dates,
				closed_days = excluded.closed_days, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, dates, days, settings.UpdatedAt); err != nil {
		return storeErr("SaveShopClosures", err)
	}
	return nil
}

func (db *DB) GetClosureRule(ctx context.Context, barberID string) (*models.ClosureRule, error) {
	rule := &models.ClosureRule{BarberID: barberID}
	var weekdays string
	err := db.QueryRowContext(ctx, `SELECT closed_weekdays, updated_at FROM closure_rules WHERE barber_id = ?`, barberID).
		Scan(&weekdays, &rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("GetClosureRule", err)
	}
	if err := decodeJSON(weekdays, &rule.ClosedWeekdays); err != nil {
		return nil, fmt.Errorf("GetClosureRule - decode weekdays: %w", err)
	}
	return rule, nil
}

func (db *DB) SaveClosureRule(ctx context.Context, rule *models.ClosureRule) error {
	weekdays, err := encodeJSON(nonNil(rule.ClosedWeekdays))
	if err != nil {
		return fmt.Errorf("SaveClosureRule - encode weekdays: %w", err)
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now().UTC()
	}
	query := `INSERT INTO closure_rules (barber_id, closed_weekdays, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(barber_id) DO UPDATE SET closed_weekdays = excluded.closed_weekdays, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, rule.BarberID, weekdays, rule.UpdatedAt); err != nil {
		return storeErr("SaveClosureRule", err)
	}
	return nil
}

func (db *DB) ListClosureExceptions(ctx context.Context, barberID string, from, to time.Time) ([]models.ClosureException, error) {
	query, args, err := builder.
		Select("id", "barber_id", "date", "closure_type", "reason", "created_by", "created_at").
		From("closure_exceptions").
		Where(squirrel.Eq{"barber_id": barberID}).
		Where(squirrel.GtOrEq{"date": models.DateKey(from)}).
		Where(squirrel.LtOrEq{"date": models.DateKey(to)}).
		OrderBy("date", "closure_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListClosureExceptions - build select query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("ListClosureExceptions", err)
	}
	defer rows.Close()

	var out []models.ClosureException
	for rows.Next() {
		var (
			exc  models.ClosureException
			date string
		)
		if err := rows.Scan(&exc.ID, &exc.BarberID, &date, &exc.Type, &exc.Reason, &exc.CreatedBy, &exc.CreatedAt); err != nil {
			return nil, storeErr("ListClosureExceptions", err)
		}
		if exc.Date, err = parseDateColumn(date); err != nil {
			return nil, err
		}
		out = append(out, exc)
	}
	return out, storeErr("ListClosureExceptions", rows.Err())
}

func (db *DB) CreateClosureException(ctx context.Context, exc *models.ClosureException) (bool, error) {
	if exc.CreatedAt.IsZero() {
		exc.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO closure_exceptions (barber_id, date, closure_type, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exc.BarberID, models.DateKey(exc.Date), exc.Type, exc.Reason, exc.CreatedBy, exc.CreatedAt)
	if err != nil {
		return false, storeErr("CreateClosureException", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, storeErr("CreateClosureException", err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		exc.ID = id
	}
	return true, nil
}

// RemoveClosureException deletes an exception. Removing a system_auto
// exception leaves a tombstone so the reconciler does not recreate it.
func (db *DB) RemoveClosureException(ctx context.Context, barberID string, date time.Time, closureType models.ClosureType) error {
	key := models.DateKey(date)
	return db.inTx(ctx, "RemoveClosureException", func(tx *sql.Tx) error {
		var createdBy models.CreatedBy
		err := tx.QueryRowContext(ctx,
			`SELECT created_by FROM closure_exceptions WHERE barber_id = ? AND date = ? AND closure_type = ?`,
			barberID, key, closureType).Scan(&createdBy)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storeErr("RemoveClosureException", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM closure_exceptions WHERE barber_id = ? AND date = ? AND closure_type = ?`,
			barberID, key, closureType); err != nil {
			return storeErr("RemoveClosureException", err)
		}
		if createdBy != models.CreatedBySystemAuto {
			return nil
		}
		return insertTombstone(ctx, tx, &models.RemovedAutoClosure{
			BarberID:  barberID,
			Date:      date,
			Type:      closureType,
			RemovedAt: time.Now().UTC(),
		})
	})
}

func (db *DB) ListRemovedAutoClosures(ctx context.Context, barberID string, from, to time.Time) ([]models.RemovedAutoClosure, error) {
	query, args, err := builder.
		Select("barber_id", "date", "closure_type", "removed_at").
		From("removed_auto_closures").
		Where(squirrel.Eq{"barber_id": barberID}).
		Where(squirrel.GtOrEq{"date": models.DateKey(from)}).
		Where(squirrel.LtOrEq{"date": models.DateKey(to)}).
		OrderBy("date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListRemovedAutoClosures - build select query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("ListRemovedAutoClosures", err)
	}
	defer rows.Close()

	var out []models.RemovedAutoClosure
	for rows.Next() {
		var (
			ts   models.RemovedAutoClosure
			date string
		)
		if err := rows.Scan(&ts.BarberID, &date, &ts.Type, &ts.RemovedAt); err != nil {
			return nil, storeErr("ListRemovedAutoClosures", err)
		}
		if ts.Date, err = parseDateColumn(date); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, storeErr("ListRemovedAutoClosures", rows.Err())
}

// RecordRemovedAutoClosure stores a tombstone and drops the matching system_auto exception.
func (db *DB) RecordRemovedAutoClosure(ctx context.Context, tombstone *models.RemovedAutoClosure) error {
	if tombstone.RemovedAt.IsZero() {
		tombstone.RemovedAt = time.Now().UTC()
	}
	return db.inTx(ctx, "RecordRemovedAutoClosure", func(tx *sql.Tx) error {
		if err := insertTombstone(ctx, tx, tombstone); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM closure_exceptions WHERE barber_id = ? AND date = ? AND closure_type = ? AND created_by = ?`,
			tombstone.BarberID, models.DateKey(tombstone.Date), tombstone.Type, models.CreatedBySystemAuto)
		return storeErr("RecordRemovedAutoClosure", err)
	})
}

func insertTombstone(ctx context.Context, q querier, ts *models.RemovedAutoClosure) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO removed_auto_closures (barber_id, date, closure_type, removed_at) VALUES (?, ?, ?, ?)`,
		ts.BarberID, models.DateKey(ts.Date), ts.Type, ts.RemovedAt)
	return storeErr("insertTombstone", err)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
