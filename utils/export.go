package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deskchat/apperr"
	"deskchat/db"
	"deskchat/llm"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

const exportVersion = "1.0"

// ChatStore is the part of the database export and import need
type ChatStore interface {
	GetChat(ctx context.Context, id int64) (*db.Chat, error)
	GetMessages(ctx context.Context, chatID int64) ([]*db.Message, error)
	CreateChat(ctx context.Context, title string) (*db.Chat, error)
	AddMessage(ctx context.Context, chatID int64, role llm.Role, content string, image *db.Image) (*db.Message, error)
	DeleteChat(ctx context.Context, id int64) error
}

// ChatExport represents a chat export structure
type ChatExport struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []MessageExport   `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageExport represents a message export structure
type MessageExport struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Image     *db.Image `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func loadChatExport(ctx context.Context, store ChatStore, chatID int64) (*ChatExport, error) {
	chat, err := store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	messages, err := store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	export := &ChatExport{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
		Messages:  make([]MessageExport, 0, len(messages)),
		Metadata: map[string]string{
			"export_version": exportVersion,
			"export_date":    time.Now().Format(time.RFC3339),
			"app_name":       "deskchat",
		},
	}
	for _, msg := range messages {
		export.Messages = append(export.Messages, MessageExport{
			Role:      msg.Role,
			Content:   msg.Content,
			Image:     msg.Image,
			CreatedAt: msg.CreatedAt,
		})
	}
	return export, nil
}

// WriteChatJSON writes one chat with its messages as indented JSON
func WriteChatJSON(ctx context.Context, store ChatStore, chatID int64, w io.Writer) error {
	export, err := loadChatExport(ctx, store, chatID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}

// WriteChatMarkdown writes one chat as a readable Markdown document
func WriteChatMarkdown(ctx context.Context, store ChatStore, chatID int64, w io.Writer) error {
	export, err := loadChatExport(ctx, store, chatID)
	if err != nil {
		return err
	}

	var sb strings.Builder

	// Header
	fmt.Fprintf(&sb, "# %s\n\n", export.Title)
	fmt.Fprintf(&sb, "**Created**: %s\n", export.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Updated**: %s\n\n", export.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	sb.WriteString("---\n\n")

	for i, msg := range export.Messages {
		fmt.Fprintf(&sb, "## %s\n\n", msg.Role.Label())
		if msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		}
		if msg.Image != nil {
			fmt.Fprintf(&sb, "*[image: %s]*\n\n", msg.Image.MimeType)
		}

		// Separator (except for last message)
		if i < len(export.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	// Footer
	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported: %s*\n", time.Now().Format("2006-01-02 15:04:05"))

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}

// ExportChat writes a chat to path in the given format
func ExportChat(ctx context.Context, store ChatStore, chatID int64, format ExportFormat, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	switch format {
	case FormatMarkdown:
		err = WriteChatMarkdown(ctx, store, chatID, f)
	default:
		err = WriteChatJSON(ctx, store, chatID, f)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to write file: %w", closeErr)
	}
	return err
}

// ImportChat creates a new chat from a JSON export. The original IDs are not
// reused. A failed import removes the partially created chat.
func ImportChat(ctx context.Context, store ChatStore, r io.Reader) (*db.Chat, error) {
	var export ChatExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, apperr.Validation("not a chat export: %v", err)
	}

	// Validate
	if strings.TrimSpace(export.Title) == "" {
		return nil, apperr.Validation("invalid export: missing title")
	}
	if len(export.Messages) == 0 {
		return nil, apperr.Validation("invalid export: no messages")
	}

	chat, err := store.CreateChat(ctx, export.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	for _, msg := range export.Messages {
		if _, err := store.AddMessage(ctx, chat.ID, msg.Role, msg.Content, msg.Image); err != nil {
			if delErr := store.DeleteChat(ctx, chat.ID); delErr != nil {
				return nil, fmt.Errorf("failed to import message: %w (cleanup failed: %v)", err, delErr)
			}
			return nil, fmt.Errorf("failed to import message: %w", err)
		}
	}

	return chat, nil
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(title string, format ExportFormat) string {
	// Sanitize title for filename
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, title)

	// Truncate if too long
	if runes := []rune(sanitized); len(runes) > 50 {
		sanitized = string(runes[:50])
	}

	// Add timestamp and extension
	timestamp := time.Now().Format("20060102_150405")
	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}

	return fmt.Sprintf("%s_%s.%s", sanitized, timestamp, ext)
}

// GetDefaultExportPath returns the default export directory
func GetDefaultExportPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	exportDir := filepath.Join(homeDir, "Documents", "deskchat-exports")

	// Create directory if it doesn't exist
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", err
	}

	return exportDir, nil
}
