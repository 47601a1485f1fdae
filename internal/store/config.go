package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

// ConfigRepository manages delivery configuration rows.
type ConfigRepository struct {
	db *sql.DB
}

func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const configColumns = `id, host, port, security, COALESCE(username, '') as username,
	COALESCE(password_enc, '') as password_enc, COALESCE(password_iv, '') as password_iv,
	from_address, COALESCE(from_name, '') as from_name, COALESCE(reply_to, '') as reply_to,
	max_attempts, send_timeout_secs, rate_per_hour, active, created_at, updated_at`

// Active returns the single active configuration, or nil when none is
// configured.
func (r *ConfigRepository) Active(ctx context.Context) (*models.SMTPConfig, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM smtp_configs WHERE active = 1 LIMIT 1")

	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns a configuration by id, or nil when absent.
func (r *ConfigRepository) Get(ctx context.Context, id int64) (*models.SMTPConfig, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM smtp_configs WHERE id = ?", id)

	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save inserts or updates a configuration. When cfg.Active is set, all
// other rows are deactivated in the same transaction so that exactly
// one active row exists.
func (r *ConfigRepository) Save(ctx context.Context, cfg *models.SMTPConfig) error {
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()

	if cfg.Active {
		if _, err := tx.ExecContext(ctx,
			"UPDATE smtp_configs SET active = 0, updated_at = ? WHERE active = 1", now); err != nil {
			return fmt.Errorf("failed to deactivate configurations: %w", err)
		}
	}

	if cfg.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO smtp_configs (host, port, security, username, password_enc, password_iv,
				from_address, from_name, reply_to, max_attempts, send_timeout_secs, rate_per_hour,
				active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.Host, cfg.Port, string(cfg.Security), cfg.Username, cfg.PasswordEnc, cfg.PasswordIV,
			cfg.FromAddress, cfg.FromName, cfg.ReplyTo, cfg.MaxAttempts,
			int(cfg.SendTimeout/time.Second), cfg.RatePerHour, cfg.Active, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert configuration: %w", err)
		}
		cfg.ID, _ = res.LastInsertId()
	} else {
		_, err := tx.ExecContext(ctx, `
			UPDATE smtp_configs SET host = ?, port = ?, security = ?, username = ?,
				password_enc = ?, password_iv = ?, from_address = ?, from_name = ?, reply_to = ?,
				max_attempts = ?, send_timeout_secs = ?, rate_per_hour = ?, active = ?, updated_at = ?
			WHERE id = ?`,
			cfg.Host, cfg.Port, string(cfg.Security), cfg.Username, cfg.PasswordEnc, cfg.PasswordIV,
			cfg.FromAddress, cfg.FromName, cfg.ReplyTo, cfg.MaxAttempts,
			int(cfg.SendTimeout/time.Second), cfg.RatePerHour, cfg.Active, now, cfg.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update configuration: %w", err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*models.SMTPConfig, error) {
	cfg := &models.SMTPConfig{}
	var security string
	var timeoutSecs int

	err := row.Scan(&cfg.ID, &cfg.Host, &cfg.Port, &security, &cfg.Username,
		&cfg.PasswordEnc, &cfg.PasswordIV, &cfg.FromAddress, &cfg.FromName, &cfg.ReplyTo,
		&cfg.MaxAttempts, &timeoutSecs, &cfg.RatePerHour, &cfg.Active,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cfg.Security = models.SecurityMode(security)
	cfg.SendTimeout = time.Duration(timeoutSecs) * time.Second
	return cfg, nil
}
