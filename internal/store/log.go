package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

// LogRepository manages the delivery log, written by the worker on
// terminal transitions and pruned by age. Queue items are never
// touched by pruning; they have their own lifecycle.
type LogRepository struct {
	db *sql.DB
}

func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append records one terminal transition.
func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mail_log (item_id, recipient, status, detail, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)`,
		entry.ItemID, entry.Recipient, string(entry.Status), entry.Detail, entry.CreatedAt)
	return err
}

// Statistics returns counts grouped by calendar date and status for
// the trailing number of days.
func (r *LogRepository) Statistics(ctx context.Context, days int) ([]models.DailyCount, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	rows, err := r.db.QueryContext(ctx, `
		SELECT date(created_at), status, COUNT(*)
		FROM mail_log
		WHERE created_at >= ?
		GROUP BY date(created_at), status
		ORDER BY date(created_at) DESC, status`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []models.DailyCount{}
	for rows.Next() {
		var c models.DailyCount
		var status string
		if err := rows.Scan(&c.Date, &status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = models.ItemStatus(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Prune deletes log rows older than the cutoff and returns the number
// removed.
func (r *LogRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM mail_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Recent returns the newest entries, used by the CLI.
func (r *LogRepository) Recent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, recipient, status, COALESCE(detail, '') as detail, created_at
		FROM mail_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var e models.LogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Recipient, &status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = models.ItemStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
