package llm

import (
	"strings"
	"unicode/utf8"
)

// DefaultSystemPrompt opens every chat conversation.
const DefaultSystemPrompt = "You are a helpful assistant."

// DefaultChatTitle is the title of a chat that has not been named yet.
const DefaultChatTitle = "New Chat"

// TitleLength is the rune limit for titles derived from the first message.
const TitleLength = 40

// BuildChatMessages prepends the system prompt to the stored history.
func BuildChatMessages(systemPrompt string, history []Message) []Message {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	return append(out, history...)
}

// FieldValue is one filled-in preset slot.
type FieldValue struct {
	Name  string
	Value string
}

// BuildPresetMessages renders a preset run. Every {{name}} in the system
// prompt is replaced by that field's value and the user message lists the
// fields in order as "name:\nvalue" blocks.
func BuildPresetMessages(systemPrompt string, fields []FieldValue) []Message {
	pairs := make([]string, 0, len(fields)*2)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, "{{"+f.Name+"}}", f.Value)
		parts = append(parts, f.Name+":\n"+f.Value+"\n")
	}

	return []Message{
		{Role: RoleSystem, Content: strings.NewReplacer(pairs...).Replace(systemPrompt)},
		{Role: RoleUser, Content: strings.Join(parts, "\n")},
	}
}

// FormatFileContent frames an attached text file for inclusion in a message.
func FormatFileContent(filename, content string) string {
	return "\n\n--- File: " + filename + " ---\n" + content + "\n--- End of " + filename + " ---\n"
}

// TruncateTitle trims text to at most max runes, adding "..." when cut.
func TruncateTitle(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:max]), " ") + "..."
}

// CleanTitle cleans up a title by removing quotes and extra whitespace
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'")
	title = TruncateTitle(title, 100)
	if title == "" {
		title = DefaultChatTitle
	}
	return title
}
