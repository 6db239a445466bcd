package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"barberbook/internal/domain"
	"barberbook/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var waitlistColumns = []string{
	"id", "barber_id", "date", "customer_id", "position", "status",
	"offered_time", "offer_expires_at", "created_at", "updated_at",
}

func scanEntry(row interface{ Scan(dest ...any) error }) (*models.WaitlistEntry, error) {
	var (
		e       models.WaitlistEntry
		date    string
		offered sql.NullString
		expires sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.BarberID, &date, &e.CustomerID, &e.Position, &e.Status,
		&offered, &expires, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.Date, err = parseDateColumn(date); err != nil {
		return nil, err
	}
	e.OfferedTime = offered.String
	e.OfferExpiresAt = fromMillis(expires)
	return &e, nil
}

func queryEntries(ctx context.Context, q querier, op string, sb squirrel.SelectBuilder) ([]models.WaitlistEntry, error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s - build select query: %w", op, err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []models.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, *e)
	}
	return out, storeErr(op, rows.Err())
}

func selectEntries() squirrel.SelectBuilder {
	return builder.Select(waitlistColumns...).From("waitlist")
}

func getEntry(ctx context.Context, q querier, id string) (*models.WaitlistEntry, error) {
	entries, err := queryEntries(ctx, q, "GetWaitlistEntry", selectEntries().Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	return &entries[0], nil
}

// renumber packs the positions of waiting entries for a key into 1..n.
func renumber(ctx context.Context, tx *sql.Tx, barberID, dateKey string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM waitlist WHERE barber_id = ? AND date = ? AND status = ? ORDER BY position, created_at`,
		barberID, dateKey, models.WaitlistWaiting)
	if err != nil {
		return storeErr("renumber", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return storeErr("renumber", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storeErr("renumber", err)
	}

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE waitlist SET position = ? WHERE id = ?`, i+1, id); err != nil {
			return storeErr("renumber", err)
		}
	}
	return nil
}

func (db *DB) CreateWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Date = models.Day(entry.Date)
	entry.Status = models.WaitlistWaiting
	entry.CreatedAt = now
	entry.UpdatedAt = now
	key := models.DateKey(entry.Date)

	return db.inTx(ctx, "CreateWaitlistEntry", func(tx *sql.Tx) error {
		var maxPos int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) FROM waitlist WHERE barber_id = ? AND date = ? AND status = ?`,
			entry.BarberID, key, models.WaitlistWaiting).Scan(&maxPos)
		if err != nil {
			return storeErr("CreateWaitlistEntry", err)
		}
		entry.Position = maxPos + 1

		query, args, err := builder.Insert("waitlist").
			Columns(waitlistColumns...).
			Values(entry.ID, entry.BarberID, key, entry.CustomerID, entry.Position, entry.Status,
				nil, nil, entry.CreatedAt, entry.UpdatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("CreateWaitlistEntry - build insert query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyWaiting
			}
			return storeErr("CreateWaitlistEntry", err)
		}
		return nil
	})
}

func (db *DB) GetWaitlistEntry(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return getEntry(ctx, db, id)
}

func (db *DB) ListWaitlist(ctx context.Context, barberID string, date time.Time, statuses ...models.WaitlistStatus) ([]models.WaitlistEntry, error) {
	sb := selectEntries().
		Where(squirrel.Eq{"barber_id": barberID, "date": models.DateKey(date)}).
		OrderBy("position", "created_at")
	if len(statuses) > 0 {
		sb = sb.Where(squirrel.Eq{"status": statuses})
	}
	return queryEntries(ctx, db, "ListWaitlist", sb)
}

func (db *DB) FirstWaiting(ctx context.Context, barberID string, date time.Time) (*models.WaitlistEntry, error) {
	entries, err := queryEntries(ctx, db, "FirstWaiting", selectEntries().
		Where(squirrel.Eq{"barber_id": barberID, "date": models.DateKey(date), "status": models.WaitlistWaiting}).
		OrderBy("position", "created_at").
		Limit(1))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (db *DB) OfferWaitlistEntry(ctx context.Context, id, slot string, expiresAt time.Time) (bool, error) {
	var offered bool
	err := db.inTx(ctx, "OfferWaitlistEntry", func(tx *sql.Tx) error {
		e, err := getEntry(ctx, tx, id)
		if errors.Is(err, domain.ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Status != models.WaitlistWaiting {
			return nil
		}

		key := models.DateKey(e.Date)
		res, err := tx.ExecContext(ctx,
			`UPDATE waitlist SET status = ?, offered_time = ?, offer_expires_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			models.WaitlistOffered, slot, expiresAt.UnixMilli(), time.Now().UTC(), id, models.WaitlistWaiting)
		if err != nil {
			// idx_waitlist_one_offer: кто-то уже держит предложение
			if isUniqueViolation(err) {
				return nil
			}
			return storeErr("OfferWaitlistEntry", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return storeErr("OfferWaitlistEntry", err)
		}
		if n == 0 {
			return nil
		}
		if err := renumber(ctx, tx, e.BarberID, key); err != nil {
			return err
		}
		offered = true
		return nil
	})
	return offered, err
}

func (db *DB) CloseOffer(ctx context.Context, id string, to models.WaitlistStatus, now time.Time) (bool, error) {
	update := builder.Update("waitlist").
		Set("status", to).
		Set("updated_at", now.UTC()).
		Where(squirrel.Eq{"id": id, "status": models.WaitlistOffered})

	switch to {
	case models.WaitlistDeclined:
	case models.WaitlistExpired:
		update = update.Where(squirrel.LtOrEq{"offer_expires_at": now.UnixMilli()})
	default:
		return false, domain.Validationf("cannot close an offer as %s", to)
	}

	query, args, err := update.ToSql()
	if err != nil {
		return false, fmt.Errorf("CloseOffer - build update query: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storeErr("CloseOffer", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, storeErr("CloseOffer", err)
	}
	return n == 1, nil
}

func (db *DB) AcceptOffer(ctx context.Context, id string, now time.Time, booking *models.Booking) error {
	return db.inTx(ctx, "AcceptOffer", func(tx *sql.Tx) error {
		e, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if !e.OfferLive(now) {
			return domain.ErrOfferExpired
		}

		booking.BarberID = e.BarberID
		booking.Date = e.Date
		booking.Time = e.OfferedTime
		booking.CustomerID = e.CustomerID
		booking.Status = models.BookingConfirmed
		if err := insertBooking(ctx, tx, booking, now.UTC()); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE waitlist SET status = ?, updated_at = ? WHERE id = ?`,
			models.WaitlistBooked, now.UTC(), id)
		return storeErr("AcceptOffer", err)
	})
}

func (db *DB) RequeueOffer(ctx context.Context, id string) (bool, error) {
	var requeued bool
	err := db.inTx(ctx, "RequeueOffer", func(tx *sql.Tx) error {
		e, err := getEntry(ctx, tx, id)
		if errors.Is(err, domain.ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Status != models.WaitlistOffered {
			return nil
		}

		key := models.DateKey(e.Date)
		if _, err := tx.ExecContext(ctx,
			`UPDATE waitlist SET position = position + 1 WHERE barber_id = ? AND date = ? AND status = ?`,
			e.BarberID, key, models.WaitlistWaiting); err != nil {
			return storeErr("RequeueOffer", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE waitlist SET status = ?, position = 1, offered_time = NULL, offer_expires_at = NULL, updated_at = ?
			WHERE id = ?`,
			models.WaitlistWaiting, time.Now().UTC(), id); err != nil {
			return storeErr("RequeueOffer", err)
		}
		requeued = true
		return nil
	})
	return requeued, err
}

func (db *DB) DeleteWaitingEntry(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := db.inTx(ctx, "DeleteWaitingEntry", func(tx *sql.Tx) error {
		e, err := getEntry(ctx, tx, id)
		if errors.Is(err, domain.ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Status != models.WaitlistWaiting {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist WHERE id = ?`, id); err != nil {
			return storeErr("DeleteWaitingEntry", err)
		}
		if err := renumber(ctx, tx, e.BarberID, models.DateKey(e.Date)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (db *DB) ListExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return queryEntries(ctx, db, "ListExpiredOffers", selectEntries().
		Where(squirrel.Eq{"status": models.WaitlistOffered}).
		Where(squirrel.LtOrEq{"offer_expires_at": now.UnixMilli()}).
		OrderBy("offer_expires_at"))
}
