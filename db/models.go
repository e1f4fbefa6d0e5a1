package db

import (
	"database/sql"
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"deskchat/apperr"
	"deskchat/llm"
)

// Chat represents a titled conversation
type Chat struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Image is an attached picture kept as base64 text with its MIME type
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// NewImage encodes raw image bytes for storage.
func NewImage(mimeType string, raw []byte) *Image {
	return &Image{Data: base64.StdEncoding.EncodeToString(raw), MimeType: mimeType}
}

// Bytes decodes the stored payload.
func (i *Image) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(i.Data)
}

// Message represents a single message in a chat
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Image     *Image    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LLMMessage converts a stored message to the provider format.
func (m *Message) LLMMessage() llm.Message {
	out := llm.Message{Role: m.Role, Content: m.Content}
	if m.Image != nil {
		if data, err := m.Image.Bytes(); err == nil {
			out.Attachments = []llm.Attachment{{Type: llm.AttachmentImage, MimeType: m.Image.MimeType, Data: data}}
		}
	}
	return out
}

type messageRow struct {
	ID        int64          `db:"id"`
	ChatID    int64          `db:"chat_id"`
	Role      string         `db:"role"`
	Content   sql.NullString `db:"content"`
	ImageData sql.NullString `db:"image_data"`
	ImageMime sql.NullString `db:"image_mime"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r messageRow) toMessage() (*Message, error) {
	role, err := llm.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Role:      role,
		Content:   r.Content.String,
		CreatedAt: r.CreatedAt,
	}
	if r.ImageData.Valid {
		msg.Image = &Image{Data: r.ImageData.String, MimeType: r.ImageMime.String}
	}
	return msg, nil
}

// Preset is a reusable prompt template
type Preset struct {
	ID           int64         `db:"id" json:"id"`
	Name         string        `db:"name" json:"name"`
	SystemPrompt string        `db:"system_prompt" json:"system_prompt"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
	Fields       []PresetField `db:"-" json:"fields"`
}

// PresetField is one substitution slot of a preset
type PresetField struct {
	ID          int64  `db:"id" json:"id"`
	PresetID    int64  `db:"preset_id" json:"preset_id"`
	Name        string `db:"name" json:"name"`
	Label       string `db:"label" json:"label"`
	Placeholder string `db:"placeholder" json:"placeholder"`
	Position    int    `db:"position" json:"position"`
	Value       string `db:"value" json:"value"` // last entered value, kept as a draft
}

// DisplayLabel falls back to the field name when no label was given.
func (f PresetField) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// FieldSpec describes a field when creating or editing a preset
type FieldSpec struct {
	Name        string
	Label       string
	Placeholder string
	Value       string
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateFieldName checks that a field name can be used as a template slot.
func ValidateFieldName(name string) error {
	if name == "" {
		return apperr.Validation("field name is required")
	}
	if !fieldNamePattern.MatchString(name) {
		return apperr.Validation("field name %q must start with a letter or underscore and contain only letters, digits and underscores", name)
	}
	return nil
}

// PresetRun is one recorded execution of a preset
type PresetRun struct {
	ID          int64             `json:"id"`
	PresetID    int64             `json:"preset_id"`
	FieldValues map[string]string `json:"field_values"`
	Response    string            `json:"response"`
	CreatedAt   time.Time         `json:"created_at"`
}

type presetRunRow struct {
	ID          int64     `db:"id"`
	PresetID    int64     `db:"preset_id"`
	FieldValues string    `db:"field_values"`
	Response    string    `db:"response"`
	CreatedAt   time.Time `db:"created_at"`
}

const (
	// APIKeyPrefix is the prefix every OpenAI secret key carries.
	APIKeyPrefix = "sk-"
	// MinAPIKeyLength is the shortest key accepted.
	MinAPIKeyLength = 21
)

// Settings is the single application settings record
type Settings struct {
	APIKey string    `db:"api_key" json:"api_key"`
	Model  llm.Model `db:"model" json:"model"`
}

// DefaultSettings is returned when nothing has been saved yet.
func DefaultSettings() Settings {
	return Settings{Model: llm.DefaultModel}
}

// Validate rejects settings that must never be persisted.
func (s Settings) Validate() error {
	switch {
	case s.APIKey == "":
		return apperr.Validation("API key is required")
	case strings.ContainsAny(s.APIKey, " \t\r\n"):
		return apperr.Validation("API key must not contain whitespace")
	case len(s.APIKey) < MinAPIKeyLength:
		return apperr.Validation("API key is too short (at least %d characters)", MinAPIKeyLength)
	case !strings.HasPrefix(s.APIKey, APIKeyPrefix):
		return apperr.Validation("API key must start with %q", APIKeyPrefix)
	}
	if !s.Model.Valid() {
		return apperr.Validation("model %q is not supported; choose one of %s", s.Model, strings.Join(llm.ModelNames(), ", "))
	}
	return nil
}
