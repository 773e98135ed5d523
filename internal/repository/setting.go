package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatquota/chatquota/internal/model"
)

// ErrSettingNotFound is returned when a settings key is absent.
var ErrSettingNotFound = errors.New("setting not found")

// GetSetting returns the value stored under key.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// ListSettings returns every setting keyed by name.
func (r *Repository) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var s model.Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[s.Key] = s.Value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return settings, nil
}

// UpsertSettings writes all pairs in one transaction.
func (r *Repository) UpsertSettings(ctx context.Context, settings []model.Setting) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	for _, s := range settings {
		if _, err := tx.Exec(ctx, query, s.Key, s.Value); err != nil {
			return fmt.Errorf("failed to upsert setting %s: %w", s.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

// SeedSettings inserts defaults without overwriting existing values.
func (r *Repository) SeedSettings(ctx context.Context, defaults []model.Setting) error {
	query := `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`
	for _, s := range defaults {
		if _, err := r.pool.Exec(ctx, query, s.Key, s.Value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", s.Key, err)
		}
	}
	return nil
}
