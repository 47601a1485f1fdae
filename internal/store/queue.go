package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

// QueueRepository manages queue items. Rows are written exclusively by
// the delivery worker once enqueued; the queued→sending transition is
// a conditional update so that two workers can never claim the same
// item.
type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, COALESCE(template_key, '') as template_key, recipient, subject,
	COALESCE(html, '') as html, COALESCE(text, '') as text, status, attempts, max_attempts,
	scheduled_for, COALESCE(last_error, '') as last_error, created_at, updated_at`

// Insert adds a new queued item.
func (r *QueueRepository) Insert(ctx context.Context, item *models.QueueItem) error {
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, template_key, recipient, subject, html, text, status,
			attempts, max_attempts, scheduled_for, last_error, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`,
		item.ID, item.TemplateKey, item.Recipient, item.Subject, item.HTML, item.Text,
		string(item.Status), item.Attempts, item.MaxAttempts, item.ScheduledFor,
		item.LastError, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

// Get returns an item by id, or nil when absent.
func (r *QueueRepository) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM queue_items WHERE id = ?", id)

	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Due returns queued items whose scheduled_for is at or before now,
// oldest schedule first. FIFO is by schedule, not insertion, so
// deferred items compete fairly with fresh ones.
func (r *QueueRepository) Due(ctx context.Context, now time.Time) ([]*models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+queueColumns+` FROM queue_items
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC`,
		string(models.StatusQueued), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*models.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Claim transitions an item from queued to sending. Returns false when
// the item was already claimed or is no longer queued.
func (r *QueueRepository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusSending), time.Now(), id, string(models.StatusQueued))
	if err != nil {
		return false, fmt.Errorf("failed to claim queue item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release returns a claimed item to queued without consuming an
// attempt, used when the cycle aborts on an engine-wide error.
func (r *QueueRepository) Release(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusQueued), time.Now(), id, string(models.StatusSending))
	return err
}

// MarkSent records a successful delivery.
func (r *QueueRepository) MarkSent(ctx context.Context, id string, attempts int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, attempts = ?, last_error = NULL, updated_at = ?
		WHERE id = ?`,
		string(models.StatusSent), attempts, time.Now(), id)
	return err
}

// Requeue schedules a failed attempt for retry, recording the error.
func (r *QueueRepository) Requeue(ctx context.Context, id string, attempts int, nextAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, attempts = ?, scheduled_for = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(models.StatusQueued), attempts, nextAt, lastError, time.Now(), id)
	return err
}

// MarkFailed records a terminal failure with its error detail.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(models.StatusFailed), attempts, lastError, time.Now(), id)
	return err
}

// Summary returns a point-in-time count of items grouped by status.
func (r *QueueRepository) Summary(ctx context.Context) ([]models.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM queue_items GROUP BY status ORDER BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []models.StatusCount{}
	for rows.Next() {
		var c models.StatusCount
		var status string
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = models.ItemStatus(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RetryFailed resets all failed items to queued, clearing last_error
// and making them due immediately. Attempt counts are not reset; each
// item's allowance is raised to attempts + bonus so the monotone
// counter keeps its bound of max attempts per reset.
func (r *QueueRepository) RetryFailed(ctx context.Context, bonus int) (int64, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, last_error = NULL, max_attempts = attempts + ?, scheduled_for = ?, updated_at = ?
		WHERE status = ?`,
		string(models.StatusQueued), bonus, now, now, string(models.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed items: %w", err)
	}
	return res.RowsAffected()
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var status string

	err := row.Scan(&item.ID, &item.TemplateKey, &item.Recipient, &item.Subject,
		&item.HTML, &item.Text, &status, &item.Attempts, &item.MaxAttempts,
		&item.ScheduledFor, &item.LastError, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	item.Status = models.ItemStatus(status)
	return item, nil
}
