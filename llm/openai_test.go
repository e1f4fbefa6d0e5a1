package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskchat/apperr"
)

const testKey = "sk-test-0123456789abcdefghij"

func chunkLine(t *testing.T, content string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": content}}},
	})
	require.NoError(t, err)
	return "data: " + string(b) + "\n\n"
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(Config{APIKey: testKey, BaseURL: srv.URL + "/v1", Model: ModelGPT4oMini})
}

func collect(t *testing.T, ch <-chan StreamResponse) (string, []StreamResponse) {
	t.Helper()
	var sb strings.Builder
	var items []StreamResponse
	for item := range ch {
		items = append(items, item)
		sb.WriteString(item.Content)
	}
	return sb.String(), items
}

func TestStreamChatDeliversFragmentsInOrder(t *testing.T) {
	var got openai.ChatCompletionRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Day ", "1: ", "museums"} {
			fmt.Fprint(w, chunkLine(t, part))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.StreamChat(context.Background(), []Message{
		{Role: RoleSystem, Content: DefaultSystemPrompt},
		{Role: RoleUser, Content: "Plan a 3-day trip"},
	})
	require.NoError(t, err)

	text, items := collect(t, ch)
	assert.Equal(t, "Day 1: museums", text)
	require.NotEmpty(t, items)
	assert.True(t, items[len(items)-1].Done)

	assert.True(t, got.Stream)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Plan a 3-day trip", got.Messages[1].Content)
}

func TestStreamChatSurfacesMidStreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunkLine(t, "partial"))
		fmt.Fprint(w, `data: {"error":{"message":"overloaded","type":"server_error"}}`+"\n\n")
	})

	ch, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	text, items := collect(t, ch)
	assert.Equal(t, "partial", text)
	last := items[len(items)-1]
	require.Error(t, last.Error)
	assert.True(t, apperr.IsRemote(last.Error))
}

func TestStreamChatRejectsNonSuccessStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`)
	})

	_, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.True(t, apperr.IsRemote(err))
}

func TestChatReturnsCompleteResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"short summary"},"finish_reason":"stop"}]}`)
	})

	out, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "long article"}})
	require.NoError(t, err)
	assert.Equal(t, "short summary", out)
}

func TestChatRequiresAPIKey(t *testing.T) {
	p := NewOpenAIProvider(Config{Model: ModelGPT4o})

	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestConvertMessageWithImage(t *testing.T) {
	p := NewOpenAIProvider(Config{APIKey: testKey, Model: ModelGPT4o})

	msg := p.convertMessage(Message{
		Role:    RoleUser,
		Content: "what is this?",
		Attachments: []Attachment{
			{Type: AttachmentImage, MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		},
	})

	assert.Empty(t, msg.Content)
	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,iVBORw==", msg.MultiContent[1].ImageURL.URL)
}

func TestConvertMessageDropsImagesForTextOnlyModel(t *testing.T) {
	p := NewOpenAIProvider(Config{APIKey: testKey, Model: ModelGPT35Turbo})

	msg := p.convertMessage(Message{
		Role:        RoleUser,
		Content:     "hello",
		Attachments: []Attachment{{Type: AttachmentImage, MimeType: "image/png", Data: []byte("x")}},
	})

	assert.Equal(t, "hello", msg.Content)
	assert.Empty(t, msg.MultiContent)
}

func TestConvertMessageImageOnlyForTextOnlyModel(t *testing.T) {
	for _, model := range []Model{ModelGPT4, ModelGPT35Turbo} {
		p := NewOpenAIProvider(Config{APIKey: testKey, Model: model})

		msg := p.convertMessage(Message{
			Role:        RoleUser,
			Attachments: []Attachment{{Type: AttachmentImage, MimeType: "image/png", Data: []byte("x")}},
		})

		assert.Equal(t, ImageOmitted, msg.Content, string(model))
		assert.Empty(t, msg.MultiContent, string(model))
	}
}
