package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type SettingsStore struct {
	db *sqlx.DB
}

func NewSettingsStore(db *sqlx.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// All returns every stored setting's raw JSON value keyed by setting name.
// Values are stored wrapped as {"value": ...}.
func (s *SettingsStore) All(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value->'value' FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		if raw == nil {
			continue
		}
		result[key] = json.RawMessage(raw)
	}

	return result, rows.Err()
}

// Set stores value under key, replacing any previous value.
func (s *SettingsStore) Set(ctx context.Context, key string, value any) error {
	wrapped, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}

	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, key, string(wrapped)); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
