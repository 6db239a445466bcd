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
)

// SaveBarber inserts or updates a barber.
func (db *DB) SaveBarber(ctx context.Context, b *models.Barber) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO barbers (id, name, active, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`
	if _, err := db.ExecContext(ctx, query, b.ID, b.Name, b.Active, b.CreatedAt); err != nil {
		return storeErr("SaveBarber", err)
	}
	return nil
}

// SyncBarbers upserts the configured roster and deactivates barbers missing from it.
func (db *DB) SyncBarbers(ctx context.Context, barbers []models.Barber) error {
	return db.inTx(ctx, "SyncBarbers", func(tx *sql.Tx) error {
		ids := make([]string, 0, len(barbers))
		now := time.Now().UTC()
		for _, b := range barbers {
			ids = append(ids, b.ID)
			_, err := tx.ExecContext(ctx, `INSERT INTO barbers (id, name, active, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`,
				b.ID, b.Name, b.Active, now)
			if err != nil {
				return storeErr("SyncBarbers", err)
			}
		}

		update := builder.Update("barbers").Set("active", false)
		if len(ids) > 0 {
			update = update.Where(squirrel.NotEq{"id": ids})
		}
		query, args, err := update.ToSql()
		if err != nil {
			return fmt.Errorf("SyncBarbers - build update query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storeErr("SyncBarbers", err)
		}
		return nil
	})
}

func (db *DB) GetBarber(ctx context.Context, id string) (*models.Barber, error) {
	var b models.Barber
	err := db.QueryRowContext(ctx, `SELECT id, name, active, created_at FROM barbers WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBarberNotFound, id)
	}
	if err != nil {
		return nil, storeErr("GetBarber", err)
	}
	return &b, nil
}

func (db *DB) ListActiveBarbers(ctx context.Context) ([]models.Barber, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, active, created_at FROM barbers WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, storeErr("ListActiveBarbers", err)
	}
	defer rows.Close()

	var out []models.Barber
	for rows.Next() {
		var b models.Barber
		if err := rows.Scan(&b.ID, &b.Name, &b.Active, &b.CreatedAt); err != nil {
			return nil, storeErr("ListActiveBarbers", err)
		}
		out = append(out, b)
	}
	return out, storeErr("ListActiveBarbers", rows.Err())
}

func (db *DB) SaveCustomer(ctx context.Context, c *models.Customer) error {
	query := `INSERT INTO customers (id, name, chat_id) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, chat_id = excluded.chat_id`
	if _, err := db.ExecContext(ctx, query, c.ID, c.Name, c.ChatID); err != nil {
		return storeErr("SaveCustomer", err)
	}
	return nil
}

// ChatID returns the Telegram chat bound to a customer.
func (db *DB) ChatID(ctx context.Context, customerID string) (int64, error) {
	var chatID int64
	err := db.QueryRowContext(ctx, `SELECT chat_id FROM customers WHERE id = ?`, customerID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && chatID == 0) {
		return 0, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, customerID)
	}
	if err != nil {
		return 0, storeErr("ChatID", err)
	}
	return chatID, nil
}
