package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"deskchat/apperr"
)

var (
	presetColumns = []string{"id", "name", "system_prompt", "created_at", "updated_at"}
	fieldColumns  = []string{"id", "preset_id", "name", "label", "placeholder", "position", "value"}
)

func normalizePresetName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("preset name must not be empty")
	}
	return name, nil
}

func validateFieldSpecs(fields []FieldSpec) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if err := ValidateFieldName(f.Name); err != nil {
			return err
		}
		if seen[f.Name] {
			return apperr.Validation("field %q is defined more than once", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func duplicatePresetName(name string, err error) error {
	if isUniqueViolation(err) {
		return apperr.Validation("a preset named %q already exists", name)
	}
	return err
}

// CreatePreset creates a preset with its fields in the given order
func (db *DB) CreatePreset(ctx context.Context, name, systemPrompt string, fields []FieldSpec) (*Preset, error) {
	name, err := normalizePresetName(name)
	if err != nil {
		return nil, err
	}
	if err := validateFieldSpecs(fields); err != nil {
		return nil, err
	}

	ts := now()
	preset := &Preset{Name: name, SystemPrompt: systemPrompt, CreatedAt: ts, UpdatedAt: ts}
	err = db.withTx(ctx, "create preset", func(tx *sqlx.Tx) error {
		id, err := insert(ctx, tx, db.sql.Insert("presets").
			Columns("name", "system_prompt", "created_at", "updated_at").
			Values(preset.Name, preset.SystemPrompt, preset.CreatedAt, preset.UpdatedAt))
		if err != nil {
			return duplicatePresetName(name, err)
		}
		preset.ID = id

		preset.Fields, err = db.insertFields(ctx, tx, id, fields)
		return err
	})
	if err != nil {
		return nil, err
	}

	db.logger.Debug().Int64("preset_id", preset.ID).Int("fields", len(fields)).Msg("preset created")
	return preset, nil
}

func (db *DB) insertFields(ctx context.Context, tx *sqlx.Tx, presetID int64, fields []FieldSpec) ([]PresetField, error) {
	out := make([]PresetField, 0, len(fields))
	for i, f := range fields {
		field := PresetField{
			PresetID:    presetID,
			Name:        f.Name,
			Label:       strings.TrimSpace(f.Label),
			Placeholder: f.Placeholder,
			Position:    i,
			Value:       f.Value,
		}
		id, err := insert(ctx, tx, db.sql.Insert("preset_fields").
			Columns("preset_id", "name", "label", "placeholder", "position", "value").
			Values(field.PresetID, field.Name, field.Label, field.Placeholder, field.Position, field.Value))
		if err != nil {
			return nil, err
		}
		field.ID = id
		out = append(out, field)
	}
	return out, nil
}

// UpdatePreset replaces the name, system prompt and whole field set of a preset
func (db *DB) UpdatePreset(ctx context.Context, id int64, name, systemPrompt string, fields []FieldSpec) (*Preset, error) {
	name, err := normalizePresetName(name)
	if err != nil {
		return nil, err
	}
	if err := validateFieldSpecs(fields); err != nil {
		return nil, err
	}

	var preset *Preset
	err = db.withTx(ctx, "update preset", func(tx *sqlx.Tx) error {
		current, err := db.getPreset(ctx, tx, id)
		if err != nil {
			return err
		}

		ts := now()
		if _, err := exec(ctx, tx, db.sql.Update("presets").
			SetMap(map[string]any{"name": name, "system_prompt": systemPrompt, "updated_at": ts}).
			Where(sq.Eq{"id": id})); err != nil {
			return duplicatePresetName(name, err)
		}

		if _, err := exec(ctx, tx, db.sql.Delete("preset_fields").Where(sq.Eq{"preset_id": id})); err != nil {
			return err
		}
		newFields, err := db.insertFields(ctx, tx, id, fields)
		if err != nil {
			return err
		}

		current.Name, current.SystemPrompt, current.UpdatedAt, current.Fields = name, systemPrompt, ts, newFields
		preset = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preset, nil
}

// RenamePreset changes only the preset's name
func (db *DB) RenamePreset(ctx context.Context, id int64, name string) error {
	name, err := normalizePresetName(name)
	if err != nil {
		return err
	}

	return db.withTx(ctx, "rename preset", func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, db.sql.Update("presets").
			Set("name", name).
			Set("updated_at", now()).
			Where(sq.Eq{"id": id}))
		if err != nil {
			return duplicatePresetName(name, err)
		}
		if n == 0 {
			return apperr.NotFound("preset %d not found", id)
		}
		return nil
	})
}

// DeletePreset deletes a preset together with its fields and runs
func (db *DB) DeletePreset(ctx context.Context, id int64) error {
	return db.withTx(ctx, "delete preset", func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, db.sql.Delete("presets").Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("preset %d not found", id)
		}
		return nil
	})
}

// ListPresets returns all presets in creation order, without their fields
func (db *DB) ListPresets(ctx context.Context) ([]*Preset, error) {
	presets := []*Preset{}
	err := selectAll(ctx, db.conn, &presets, db.sql.Select(presetColumns...).From("presets").OrderBy("id ASC"))
	if err != nil {
		return nil, apperr.Storage(err, "failed to list presets")
	}
	return presets, nil
}

// GetPreset returns a preset with its fields
func (db *DB) GetPreset(ctx context.Context, id int64) (*Preset, error) {
	var preset *Preset
	err := db.withTx(ctx, "get preset", func(tx *sqlx.Tx) error {
		p, err := db.getPreset(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Fields, err = db.getFields(ctx, tx, id); err != nil {
			return err
		}
		preset = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preset, nil
}

func (db *DB) getPreset(ctx context.Context, q sqlx.QueryerContext, id int64) (*Preset, error) {
	var preset Preset
	err := get(ctx, q, &preset, db.sql.Select(presetColumns...).From("presets").Where(sq.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("preset %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &preset, nil
}

func (db *DB) getFields(ctx context.Context, q sqlx.QueryerContext, presetID int64) ([]PresetField, error) {
	fields := []PresetField{}
	err := selectAll(ctx, q, &fields, db.sql.Select(fieldColumns...).
		From("preset_fields").
		Where(sq.Eq{"preset_id": presetID}).
		OrderBy("position ASC", "id ASC"))
	return fields, err
}

// GetPresetFields returns a preset's fields in display order
func (db *DB) GetPresetFields(ctx context.Context, presetID int64) ([]PresetField, error) {
	var fields []PresetField
	err := db.withTx(ctx, "get preset fields", func(tx *sqlx.Tx) error {
		if _, err := db.getPreset(ctx, tx, presetID); err != nil {
			return err
		}
		var err error
		fields, err = db.getFields(ctx, tx, presetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// AddPresetField appends a field after the existing ones
func (db *DB) AddPresetField(ctx context.Context, presetID int64, spec FieldSpec) (*PresetField, error) {
	if err := ValidateFieldName(spec.Name); err != nil {
		return nil, err
	}

	var field *PresetField
	err := db.withTx(ctx, "add preset field", func(tx *sqlx.Tx) error {
		if _, err := db.getPreset(ctx, tx, presetID); err != nil {
			return err
		}

		var next int
		if err := get(ctx, tx, &next, db.sql.Select("COALESCE(MAX(position) + 1, 0)").
			From("preset_fields").
			Where(sq.Eq{"preset_id": presetID})); err != nil {
			return err
		}

		field = &PresetField{
			PresetID:    presetID,
			Name:        spec.Name,
			Label:       strings.TrimSpace(spec.Label),
			Placeholder: spec.Placeholder,
			Position:    next,
			Value:       spec.Value,
		}
		id, err := insert(ctx, tx, db.sql.Insert("preset_fields").
			Columns("preset_id", "name", "label", "placeholder", "position", "value").
			Values(field.PresetID, field.Name, field.Label, field.Placeholder, field.Position, field.Value))
		if isUniqueViolation(err) {
			return apperr.Validation("field %q already exists in this preset", spec.Name)
		}
		if err != nil {
			return err
		}
		field.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return field, nil
}

// UpdatePresetField changes a field's name, label, placeholder and value
func (db *DB) UpdatePresetField(ctx context.Context, fieldID int64, spec FieldSpec) error {
	if err := ValidateFieldName(spec.Name); err != nil {
		return err
	}

	return db.withTx(ctx, "update preset field", func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, db.sql.Update("preset_fields").
			SetMap(map[string]any{
				"name":        spec.Name,
				"label":       strings.TrimSpace(spec.Label),
				"placeholder": spec.Placeholder,
				"value":       spec.Value,
			}).
			Where(sq.Eq{"id": fieldID}))
		if isUniqueViolation(err) {
			return apperr.Validation("field %q already exists in this preset", spec.Name)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("preset field %d not found", fieldID)
		}
		return nil
	})
}

// DeletePresetField removes one field from its preset
func (db *DB) DeletePresetField(ctx context.Context, fieldID int64) error {
	return db.withTx(ctx, "delete preset field", func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, db.sql.Delete("preset_fields").Where(sq.Eq{"id": fieldID}))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("preset field %d not found", fieldID)
		}
		return nil
	})
}

// SavePresetFieldValues stores the values last entered in a preset's form.
// Names that are not fields of the preset are ignored.
func (db *DB) SavePresetFieldValues(ctx context.Context, presetID int64, values map[string]string) error {
	return db.withTx(ctx, "save preset field values", func(tx *sqlx.Tx) error {
		if _, err := db.getPreset(ctx, tx, presetID); err != nil {
			return err
		}
		for name, value := range values {
			if _, err := exec(ctx, tx, db.sql.Update("preset_fields").
				Set("value", value).
				Where(sq.Eq{"preset_id": presetID, "name": name})); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearPresetFieldValues empties every field value of a preset
func (db *DB) ClearPresetFieldValues(ctx context.Context, presetID int64) error {
	return db.withTx(ctx, "clear preset field values", func(tx *sqlx.Tx) error {
		if _, err := db.getPreset(ctx, tx, presetID); err != nil {
			return err
		}
		_, err := exec(ctx, tx, db.sql.Update("preset_fields").Set("value", "").Where(sq.Eq{"preset_id": presetID}))
		return err
	})
}

// RecordPresetRun appends one execution to a preset's history
func (db *DB) RecordPresetRun(ctx context.Context, presetID int64, values map[string]string, response string) (*PresetRun, error) {
	if values == nil {
		values = map[string]string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, apperr.Validation("field values cannot be encoded: %v", err)
	}

	run := &PresetRun{PresetID: presetID, FieldValues: values, Response: response, CreatedAt: now()}
	err = db.withTx(ctx, "record preset run", func(tx *sqlx.Tx) error {
		if _, err := db.getPreset(ctx, tx, presetID); err != nil {
			return err
		}
		id, err := insert(ctx, tx, db.sql.Insert("preset_runs").
			Columns("preset_id", "field_values", "response", "created_at").
			Values(presetID, string(encoded), response, run.CreatedAt))
		if err != nil {
			return err
		}
		run.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListPresetRuns returns a preset's runs in chronological order (oldest first)
func (db *DB) ListPresetRuns(ctx context.Context, presetID int64) ([]*PresetRun, error) {
	var runs []*PresetRun
	err := db.withTx(ctx, "list preset runs", func(tx *sqlx.Tx) error {
		if _, err := db.getPreset(ctx, tx, presetID); err != nil {
			return err
		}

		var rows []presetRunRow
		if err := selectAll(ctx, tx, &rows, db.sql.Select("id", "preset_id", "field_values", "response", "created_at").
			From("preset_runs").
			Where(sq.Eq{"preset_id": presetID}).
			OrderBy("id ASC")); err != nil {
			return err
		}

		runs = make([]*PresetRun, 0, len(rows))
		for _, row := range rows {
			values := map[string]string{}
			if err := json.Unmarshal([]byte(row.FieldValues), &values); err != nil {
				return fmt.Errorf("decode field values of run %d: %w", row.ID, err)
			}
			runs = append(runs, &PresetRun{
				ID:          row.ID,
				PresetID:    row.PresetID,
				FieldValues: values,
				Response:    row.Response,
				CreatedAt:   row.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
