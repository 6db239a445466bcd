package database

import (
	"context"
	"fmt"
	"time"

	"barberbook/internal/models"

	"github.com/Masterminds/squirrel"
)

var outboxColumns = []string{
	"id", "customer_id", "payload", "status", "retry_count", "last_error",
	"created_at", "processed_at", "next_retry_at",
}

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`INSERT INTO notification_outbox (customer_id, payload, status, retry_count, last_error, created_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.CustomerID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return storeErr("CreateNotificationTask", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingNotificationTasks returns pending and retry tasks that are due at now, oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, now time.Time, limit int) ([]models.NotificationTask, error) {
	sb := builder.Select(outboxColumns...).
		From("notification_outbox").
		Where(squirrel.Eq{"status": []string{models.TaskPending, models.TaskRetry}}).
		Where(squirrel.Or{
			squirrel.Eq{"next_retry_at": nil},
			squirrel.LtOrEq{"next_retry_at": now.UTC()},
		}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	return db.queryTasks(ctx, "GetPendingNotificationTasks", sb)
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	return db.queryTasks(ctx, "GetFailedNotificationTasks", builder.Select(outboxColumns...).
		From("notification_outbox").
		Where(squirrel.Eq{"status": models.TaskFailed}).
		OrderBy("created_at DESC"))
}

func (db *DB) queryTasks(ctx context.Context, op string, sb squirrel.SelectBuilder) ([]models.NotificationTask, error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s - build select query: %w", op, err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		if err := rows.Scan(
			&t.ID, &t.CustomerID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		); err != nil {
			return nil, storeErr(op, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, storeErr(op, rows.Err())
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []interface{}
		now   = time.Now().UTC()
	)

	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, &now, id}
	default:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return storeErr("UpdateNotificationTaskStatus", err)
	}
	return nil
}
