package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Roles returns every supported role.
func Roles() []Role {
	return []Role{RoleSystem, RoleUser, RoleAssistant}
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ParseRole converts a stored value back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Label is the display name used by the UI and exports.
func (r Role) Label() string {
	switch r {
	case RoleSystem:
		return "System"
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	}
	return string(r)
}

// Model identifies a supported completion model.
type Model string

const (
	ModelGPT4o      Model = "gpt-4o"
	ModelGPT4oMini  Model = "gpt-4o-mini"
	ModelGPT4Turbo  Model = "gpt-4-turbo"
	ModelGPT4       Model = "gpt-4"
	ModelGPT35Turbo Model = "gpt-3.5-turbo"

	DefaultModel = ModelGPT4oMini
)

// Models returns the supported models in display order.
func Models() []Model {
	return []Model{ModelGPT4o, ModelGPT4oMini, ModelGPT4Turbo, ModelGPT4, ModelGPT35Turbo}
}

// ModelNames returns Models as plain strings, for select widgets.
func ModelNames() []string {
	models := Models()
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = string(m)
	}
	return names
}

// Valid reports whether m is a supported model.
func (m Model) Valid() bool {
	switch m {
	case ModelGPT4o, ModelGPT4oMini, ModelGPT4Turbo, ModelGPT4, ModelGPT35Turbo:
		return true
	}
	return false
}

// SupportsImages reports whether the model accepts image parts.
func (m Model) SupportsImages() bool {
	switch m {
	case ModelGPT4o, ModelGPT4oMini, ModelGPT4Turbo:
		return true
	case ModelGPT4, ModelGPT35Turbo:
		return false
	}
	return false
}

// Message represents a chat message
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a file or image attachment
type Attachment struct {
	Type     string `json:"type"`      // "image", "file"
	MimeType string `json:"mime_type"` // "image/png", "text/plain", etc.
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
}

const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// IsImage reports whether the attachment is sent as an image part.
func (a Attachment) IsImage() bool {
	return a.Type == AttachmentImage
}

// StreamResponse represents a chunk of streaming response
type StreamResponse struct {
	Content string
	Done    bool
	Error   error
}

// StreamBuffer is the capacity of the channel returned by StreamChat.
const StreamBuffer = 32

// Provider interface defines the common interface for completion backends
type Provider interface {
	// StreamChat sends messages and returns a channel of fragments. The
	// channel is closed after a Done or Error item; it cannot be restarted.
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamResponse, error)

	// Chat sends messages and returns the complete response (non-streaming)
	Chat(ctx context.Context, messages []Message) (string, error)

	// Name returns the provider name
	Name() string

	// Models returns the list of supported models
	Models() []string

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// Config represents provider configuration
type Config struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	Model        Model
	Timeout      int // seconds
	MaxTokens    int
	Temperature  float64
}
