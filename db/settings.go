package db

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"deskchat/apperr"
	"deskchat/llm"
)

const settingsRowID = 1

// GetSettings returns the saved settings, or DefaultSettings when none were saved
func (db *DB) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := get(ctx, db.conn, &s, db.sql.Select("api_key", "model").From("settings").Where(sq.Eq{"id": settingsRowID}))
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, apperr.Storage(err, "failed to load settings")
	}
	if !s.Model.Valid() {
		db.logger.Warn().Str("model", string(s.Model)).Msg("stored model is no longer supported, using default")
		s.Model = llm.DefaultModel
	}
	return s, nil
}

// HasSettings reports whether settings were ever saved
func (db *DB) HasSettings(ctx context.Context) (bool, error) {
	var count int
	if err := get(ctx, db.conn, &count, db.sql.Select("COUNT(*)").From("settings")); err != nil {
		return false, apperr.Storage(err, "failed to check settings")
	}
	return count > 0, nil
}

// SaveSettings validates s and replaces the stored settings. Invalid settings
// leave the stored row untouched.
func (db *DB) SaveSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	err := db.withTx(ctx, "save settings", func(tx *sqlx.Tx) error {
		ts := now()
		_, err := exec(ctx, tx, db.sql.Insert("settings").
			Columns("id", "api_key", "model", "updated_at").
			Values(settingsRowID, s.APIKey, string(s.Model), ts).
			Suffix("ON CONFLICT(id) DO UPDATE SET api_key = excluded.api_key, model = excluded.model, updated_at = excluded.updated_at"))
		return err
	})
	if err != nil {
		return err
	}

	db.logger.Info().Str("model", string(s.Model)).Msg("settings saved")
	return nil
}
