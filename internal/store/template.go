package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

// TemplateRepository manages notification templates, keyed by their
// stable template key.
type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, key, name, COALESCE(category, '') as category, subject,
	COALESCE(html, '') as html, COALESCE(text, '') as text, COALESCE(variables, '[]') as variables,
	active, created_at, updated_at`

// GetByKey returns the template with the given key, or nil when absent.
func (r *TemplateRepository) GetByKey(ctx context.Context, key string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE key = ?", key)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// List returns all templates ordered by key.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.Template, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM templates ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []*models.Template{}
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// Upsert creates a template or replaces the content of an existing one
// with the same key. The key is immutable identity; content changes
// only bump updated_at.
func (r *TemplateRepository) Upsert(ctx context.Context, tmpl *models.Template) error {
	if tmpl.Key == "" {
		return fmt.Errorf("template key is required")
	}

	variables, err := json.Marshal(tmpl.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	now := time.Now()
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (id, key, name, category, subject, html, text, variables, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name, category = excluded.category, subject = excluded.subject,
			html = excluded.html, text = excluded.text, variables = excluded.variables,
			active = excluded.active, updated_at = excluded.updated_at`,
		tmpl.ID, tmpl.Key, tmpl.Name, tmpl.Category, tmpl.Subject, tmpl.HTML, tmpl.Text,
		string(variables), tmpl.Active, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// Delete removes a template by key.
func (r *TemplateRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM templates WHERE key = ?", key)
	return err
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	tmpl := &models.Template{}
	var variables string

	err := row.Scan(&tmpl.ID, &tmpl.Key, &tmpl.Name, &tmpl.Category, &tmpl.Subject,
		&tmpl.HTML, &tmpl.Text, &variables, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variables), &tmpl.Variables); err != nil {
		tmpl.Variables = nil
	}
	return tmpl, nil
}
