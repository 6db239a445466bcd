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

var bookingColumns = []string{"id", "barber_id", "date", "time", "customer_id", "status", "created_at", "updated_at"}

func scanBooking(row interface{ Scan(dest ...any) error }) (*models.Booking, error) {
	var (
		b    models.Booking
		date string
	)
	if err := row.Scan(&b.ID, &b.BarberID, &date, &b.Time, &b.CustomerID, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Date, err = parseDateColumn(date); err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) ListBookings(ctx context.Context, barberID string, date time.Time) ([]models.Booking, error) {
	return db.ListBookingsInRange(ctx, barberID, date, date)
}

func (db *DB) ListBookingsInRange(ctx context.Context, barberID string, from, to time.Time) ([]models.Booking, error) {
	query, args, err := builder.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"barber_id": barberID}).
		Where(squirrel.GtOrEq{"date": models.DateKey(from)}).
		Where(squirrel.LtOrEq{"date": models.DateKey(to)}).
		OrderBy("date", "time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListBookingsInRange - build select query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("ListBookingsInRange", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, storeErr("ListBookingsInRange", err)
		}
		out = append(out, *b)
	}
	return out, storeErr("ListBookingsInRange", rows.Err())
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

func getBooking(ctx context.Context, q querier, id string) (*models.Booking, error) {
	query, args, err := builder.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("GetBooking - build select query: %w", err)
	}
	b, err := scanBooking(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, storeErr("GetBooking", err)
	}
	return b, nil
}

// CreateBooking inserts a booking. The partial unique index on active slots
// turns a double booking into ErrSlotTaken.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return insertBooking(ctx, db, booking, time.Now().UTC())
}

func insertBooking(ctx context.Context, q querier, booking *models.Booking, now time.Time) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.BookingConfirmed
	}
	booking.Date = models.Day(booking.Date)
	booking.CreatedAt = now
	booking.UpdatedAt = now

	query, args, err := builder.Insert("bookings").
		Columns(bookingColumns...).
		Values(booking.ID, booking.BarberID, models.DateKey(booking.Date), booking.Time,
			booking.CustomerID, booking.Status, booking.CreatedAt, booking.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("CreateBooking - build insert query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlotTaken
		}
		return storeErr("CreateBooking", err)
	}
	return nil
}

func (db *DB) CancelBooking(ctx context.Context, id string) (*models.Booking, error) {
	var out *models.Booking
	err := db.inTx(ctx, "CancelBooking", func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status == models.BookingCancelled {
			return domain.ErrBookingCancelled
		}

		b.Status = models.BookingCancelled
		b.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
			b.Status, b.UpdatedAt, b.ID); err != nil {
			return storeErr("CancelBooking", err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
