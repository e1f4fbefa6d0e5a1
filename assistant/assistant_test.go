package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskchat/apperr"
	"deskchat/db"
	"deskchat/llm"
	"deskchat/metrics"
)

var testSettings = db.Settings{APIKey: "sk-test-0123456789abcdefghij", Model: llm.ModelGPT4oMini}

type fakeProvider struct {
	mu       sync.Mutex
	requests [][]llm.Message
	items    []llm.StreamResponse
	startErr error
	gate     chan struct{} // held before the Done item when set
}

func (f *fakeProvider) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, messages)
	f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}

	ch := make(chan llm.StreamResponse, llm.StreamBuffer)
	go func() {
		defer close(ch)
		for _, item := range f.items {
			if item.Done && f.gate != nil {
				select {
				case <-f.gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "", errors.New("not used")
}
func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []string      { return llm.ModelNames() }
func (f *fakeProvider) ValidateConfig() error { return nil }

func (f *fakeProvider) lastRequest() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func fragments(parts ...string) []llm.StreamResponse {
	items := make([]llm.StreamResponse, 0, len(parts)+1)
	for _, p := range parts {
		items = append(items, llm.StreamResponse{Content: p})
	}
	return append(items, llm.StreamResponse{Done: true})
}

func newService(t *testing.T, p *fakeProvider) (*Service, *db.DB) {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "assistant.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := New(Options{
		Store:       store,
		NewProvider: func(db.Settings) llm.Provider { return p },
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      zerolog.Nop(),
	})
	return svc, store
}

func drain(r *Reply) string {
	var sb strings.Builder
	for c := range r.Chunks {
		sb.WriteString(c)
	}
	return sb.String()
}

func TestSendMessageStoresBothSidesAndRetitles(t *testing.T) {
	p := &fakeProvider{items: fragments("Day 1: ", "museums")}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, "Plan a 3-day trip to Lisbon with museums and food", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reply.ID)
	assert.Equal(t, "Day 1: museums", drain(reply))

	res := reply.Wait()
	require.NoError(t, res.Err)
	assert.False(t, res.Cancelled)
	require.NotNil(t, res.Message)
	assert.Equal(t, "Day 1: museums", res.Message.Content)

	msgs, err := store.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)

	sent := p.lastRequest()
	require.Len(t, sent, 2)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Equal(t, "Plan a 3-day trip to Lisbon with museums and food", sent[1].Content)

	got, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan a 3-day trip to Lisbon with museums...", got.Title)
	assert.False(t, svc.Busy(chat.ID))
}

func TestRetitleStripsQuotesFromFirstMessage(t *testing.T) {
	p := &fakeProvider{items: fragments("Sure")}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, `  "Summarize   this article"  `, nil)
	require.NoError(t, err)
	drain(reply)
	require.NoError(t, reply.Wait().Err)

	got, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summarize this article", got.Title)
}

func TestSecondMessageKeepsTitle(t *testing.T) {
	p := &fakeProvider{items: fragments("ok")}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "")
	require.NoError(t, err)
	for _, text := range []string{"first question", "second question"} {
		reply, err := svc.SendMessage(ctx, testSettings, chat.ID, text, nil)
		require.NoError(t, err)
		drain(reply)
		require.NoError(t, reply.Wait().Err)
	}

	got, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "first question", got.Title)
	assert.Len(t, p.lastRequest(), 4, "system prompt plus the full history")
}

func TestMidStreamFailureKeepsPartialReply(t *testing.T) {
	p := &fakeProvider{items: []llm.StreamResponse{
		{Content: "partial "},
		{Content: "answer"},
		{Error: apperr.Remote(errors.New("connection reset"), "stream error")},
	}}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "t")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, "hi", nil)
	require.NoError(t, err)
	drain(reply)

	res := reply.Wait()
	require.Error(t, res.Err)
	assert.True(t, apperr.IsRemote(res.Err))
	require.NotNil(t, res.Message)

	msgs, err := store.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
}

func TestFailureBeforeAnyTextStoresNoReply(t *testing.T) {
	p := &fakeProvider{items: []llm.StreamResponse{{Error: apperr.Remote(nil, "overloaded")}}}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "t")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, "hi", nil)
	require.NoError(t, err)
	drain(reply)
	res := reply.Wait()
	assert.True(t, apperr.IsRemote(res.Err))
	assert.Nil(t, res.Message)

	msgs, err := store.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSecondSendOnSameChatIsBusyUntilStopped(t *testing.T) {
	p := &fakeProvider{items: fragments("thinking"), gate: make(chan struct{})}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "busy")
	require.NoError(t, err)
	other, err := store.CreateChat(ctx, "other")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, "first", nil)
	require.NoError(t, err)
	assert.Equal(t, "thinking", <-reply.Chunks)
	assert.True(t, svc.Busy(chat.ID))

	_, err = svc.SendMessage(ctx, testSettings, chat.ID, "second", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsBusy(err))

	close(p.gate)
	otherReply, err := svc.SendMessage(ctx, testSettings, other.ID, "parallel", nil)
	require.NoError(t, err, "other chats are not blocked")
	drain(otherReply)
	otherReply.Wait()

	svc.Stop(chat.ID)
	drain(reply)
	res := reply.Wait()
	require.NoError(t, res.Err)

	msgs, err := store.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the rejected message was not stored")
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "thinking", msgs[1].Content)
	assert.False(t, svc.Busy(chat.ID))
}

func TestStopKeepsPartialReply(t *testing.T) {
	p := &fakeProvider{items: fragments("half an"), gate: make(chan struct{})}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "stop")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, "explain", nil)
	require.NoError(t, err)
	assert.Equal(t, "half an", <-reply.Chunks)

	assert.True(t, svc.Stop(chat.ID))
	drain(reply)
	res := reply.Wait()
	assert.True(t, res.Cancelled)
	assert.NoError(t, res.Err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "half an", res.Message.Content)
	assert.False(t, svc.Busy(chat.ID))
}

func TestSendMessageRejectsBadInput(t *testing.T) {
	p := &fakeProvider{items: fragments("x")}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "t")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, db.Settings{Model: llm.ModelGPT4o}, chat.ID, "hi", nil)
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.SendMessage(ctx, testSettings, chat.ID, "   ", nil)
	assert.True(t, apperr.IsValidation(err))

	img := &llm.Attachment{Type: llm.AttachmentImage, MimeType: "image/png", Data: []byte("p")}
	_, err = svc.SendMessage(ctx, testSettings, chat.ID, "two", []*llm.Attachment{img, img})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.SendMessage(ctx, testSettings, chat.ID+10, "hi", nil)
	assert.True(t, apperr.IsNotFound(err))
	assert.False(t, svc.Busy(chat.ID+10))

	msgs, err := store.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMessageWithAttachments(t *testing.T) {
	p := &fakeProvider{items: fragments("a cat")}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "")
	require.NoError(t, err)

	attachments := []*llm.Attachment{
		{Type: llm.AttachmentFile, MimeType: "text/plain", Filename: "notes.txt", Data: []byte("meow")},
		{Type: llm.AttachmentImage, MimeType: "image/jpeg", Filename: "cat.jpg", Data: []byte{0xff, 0xd8}},
	}
	reply, err := svc.SendMessage(ctx, testSettings, chat.ID, "", attachments)
	require.NoError(t, err)
	drain(reply)
	require.NoError(t, reply.Wait().Err)

	msgs, err := store.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, msgs[0].Image)
	assert.Equal(t, "image/jpeg", msgs[0].Image.MimeType)
	assert.Contains(t, msgs[0].Content, "--- File: notes.txt ---\nmeow")

	sent := p.lastRequest()
	require.Len(t, sent[1].Attachments, 1)
	assert.Equal(t, []byte{0xff, 0xd8}, sent[1].Attachments[0].Data)

	got, err := store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", got.Title)
}

func TestStreamStartFailureReleasesChat(t *testing.T) {
	p := &fakeProvider{startErr: apperr.Remote(errors.New("401"), "failed to create stream")}
	svc, store := newService(t, p)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "t")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, testSettings, chat.ID, "hi", nil)
	assert.True(t, apperr.IsRemote(err))
	assert.False(t, svc.Busy(chat.ID))
}

func TestRunPresetRecordsRun(t *testing.T) {
	p := &fakeProvider{items: fragments("short ", "summary")}
	svc, store := newService(t, p)
	ctx := context.Background()

	preset, err := store.CreatePreset(ctx, "Summarizer", "Summarize the {{lang}} text", []db.FieldSpec{
		{Name: "text", Label: "Input text"},
		{Name: "lang"},
	})
	require.NoError(t, err)

	reply, err := svc.RunPreset(ctx, testSettings, preset.ID, map[string]string{"text": "long article...", "lang": "English", "extra": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "short summary", drain(reply))

	res := reply.Wait()
	require.NoError(t, res.Err)
	require.NotNil(t, res.Run)

	runs, err := store.ListPresetRuns(ctx, preset.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, map[string]string{"text": "long article...", "lang": "English"}, runs[0].FieldValues)
	assert.Equal(t, "short summary", runs[0].Response)

	sent := p.lastRequest()
	require.Len(t, sent, 2)
	assert.Equal(t, "Summarize the English text", sent[0].Content)
	assert.Equal(t, "text:\nlong article...\n\nlang:\nEnglish\n", sent[1].Content)

	fields, err := store.GetPresetFields(ctx, preset.ID)
	require.NoError(t, err)
	assert.Equal(t, "long article...", fields[0].Value, "values are kept as drafts")
}

func TestRunPresetFailureRecordsNothing(t *testing.T) {
	p := &fakeProvider{items: []llm.StreamResponse{{Content: "half"}, {Error: apperr.Remote(nil, "boom")}}}
	svc, store := newService(t, p)
	ctx := context.Background()

	preset, err := store.CreatePreset(ctx, "P", "", []db.FieldSpec{{Name: "q"}})
	require.NoError(t, err)

	reply, err := svc.RunPreset(ctx, testSettings, preset.ID, map[string]string{"q": "?"})
	require.NoError(t, err)
	drain(reply)
	res := reply.Wait()
	assert.True(t, apperr.IsRemote(res.Err))
	assert.Equal(t, "half", res.Text)
	assert.Nil(t, res.Run)

	runs, err := store.ListPresetRuns(ctx, preset.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = svc.RunPreset(ctx, testSettings, preset.ID, map[string]string{"q": "  "})
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.RunPreset(ctx, testSettings, preset.ID+1, nil)
	assert.True(t, apperr.IsNotFound(err))
}
