package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/pkg/database"
)

// SettingRepository persists settings entries.
type SettingRepository struct {
	db *sqlx.DB
}

// NewSettingRepository constructs the repository.
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// List returns every setting ordered by key.
func (r *SettingRepository) List(ctx context.Context) ([]models.Setting, error) {
	const query = `SELECT key, value, description, updated_by, updated_at FROM settings ORDER BY key ASC`
	var settings []models.Setting
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// Get fetches a single setting by key or sql.ErrNoRows.
func (r *SettingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	const query = `SELECT key, value, description, updated_by, updated_at FROM settings WHERE key = $1`
	var setting models.Setting
	if err := database.Conn(ctx, r.db).GetContext(ctx, &setting, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return &setting, nil
}

// Upsert inserts or updates a setting entry.
func (r *SettingRepository) Upsert(ctx context.Context, setting *models.Setting) error {
	const query = `INSERT INTO settings (key, value, description, updated_by, updated_at)
VALUES (:key, :value, :description, :updated_by, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, description = EXCLUDED.description,
              updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	setting.UpdatedAt = time.Now().UTC()
	if _, err := database.Conn(ctx, r.db).NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// Delete removes a setting by key.
func (r *SettingRepository) Delete(ctx context.Context, key string) error {
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return requireAffected(res, "delete setting")
}
