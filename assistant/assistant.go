// Package assistant runs one user action end to end: it stores the request,
// streams the completion and stores what came back.
package assistant

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deskchat/apperr"
	"deskchat/db"
	"deskchat/llm"
	"deskchat/metrics"
	"deskchat/utils"
)

// Store is the persistence the service needs
type Store interface {
	GetChat(ctx context.Context, id int64) (*db.Chat, error)
	RenameChat(ctx context.Context, id int64, title string) error
	AddMessage(ctx context.Context, chatID int64, role llm.Role, content string, image *db.Image) (*db.Message, error)
	GetMessages(ctx context.Context, chatID int64) ([]*db.Message, error)
	CountMessages(ctx context.Context, chatID int64, role llm.Role) (int64, error)
	GetPreset(ctx context.Context, id int64) (*db.Preset, error)
	SavePresetFieldValues(ctx context.Context, presetID int64, values map[string]string) error
	RecordPresetRun(ctx context.Context, presetID int64, values map[string]string, response string) (*db.PresetRun, error)
}

// ProviderFactory builds a provider for the given settings
type ProviderFactory func(settings db.Settings) llm.Provider

// OpenAIFactory returns a ProviderFactory for the OpenAI API with the given
// request tuning.
func OpenAIFactory(cfg utils.OpenAIConfig) ProviderFactory {
	return func(s db.Settings) llm.Provider {
		return llm.NewOpenAIProvider(llm.Config{
			APIKey:      s.APIKey,
			Model:       s.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	}
}

// Options configures a Service
type Options struct {
	Store       Store
	NewProvider ProviderFactory
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Service coordinates chat sends and preset runs
type Service struct {
	store       Store
	newProvider ProviderFactory
	inflight    *llm.InFlight
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// New creates a Service
func New(opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	return &Service{
		store:       opts.Store,
		newProvider: opts.NewProvider,
		inflight:    llm.NewInFlight(),
		metrics:     opts.Metrics,
		logger:      opts.Logger.With().Str("component", "assistant").Logger(),
	}
}

// Result is the outcome of a finished reply
type Result struct {
	Text      string
	Message   *db.Message   // stored assistant message, chat replies only
	Run       *db.PresetRun // recorded run, preset replies only
	Cancelled bool
	Err       error
}

// Reply is an answer being generated. Chunks must be drained until it is
// closed; Wait then returns the result.
type Reply struct {
	ID     string
	Chunks <-chan string
	done   chan struct{}
	result Result
}

// Wait blocks until the reply is finished and stored
func (r *Reply) Wait() Result {
	<-r.done
	return r.result
}

// Done is closed once the result is available
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Stop cancels the reply being generated for chatID
func (s *Service) Stop(chatID int64) bool {
	return s.inflight.Cancel(chatID)
}

// StopPreset cancels the preset run in progress for presetID
func (s *Service) StopPreset(presetID int64) bool {
	return s.inflight.Cancel(presetKey(presetID))
}

// StopAll cancels every stream; used on shutdown
func (s *Service) StopAll() {
	s.inflight.CancelAll()
}

// Busy reports whether a reply is being generated for chatID
func (s *Service) Busy(chatID int64) bool {
	return s.inflight.Active(chatID)
}

// PresetBusy reports whether presetID is running
func (s *Service) PresetBusy(presetID int64) bool {
	return s.inflight.Active(presetKey(presetID))
}

func presetKey(presetID int64) int64 {
	return -presetID
}

// SendMessage stores the user's message, then streams the assistant reply.
// Text attachments are framed into the message text; at most one image can be
// attached. Whatever text arrives is stored as the assistant message, also
// when the stream fails or is stopped partway.
func (s *Service) SendMessage(ctx context.Context, settings db.Settings, chatID int64, text string, attachments []*llm.Attachment) (*Reply, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	content, image, err := composeContent(text, attachments)
	if err != nil {
		return nil, err
	}

	streamCtx, release, err := s.inflight.Acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := s.logger.With().Str("stream_id", id).Int64("chat_id", chatID).Logger()

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		release()
		return nil, err
	}

	if _, err := s.store.AddMessage(ctx, chatID, llm.RoleUser, content, image); err != nil {
		release()
		return nil, err
	}
	s.metrics.MessagesStored.WithLabelValues(string(llm.RoleUser)).Inc()

	s.retitle(ctx, log, chat, text, attachments)

	stored, err := s.store.GetMessages(ctx, chatID)
	if err != nil {
		release()
		return nil, err
	}
	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, m.LLMMessage())
	}

	reply, err := s.stream(streamCtx, log, metrics.KindChat, settings, llm.BuildChatMessages("", history), func(res *Result) {
		if res.Text == "" {
			return
		}
		persistCtx := context.WithoutCancel(ctx)
		msg, err := s.store.AddMessage(persistCtx, chatID, llm.RoleAssistant, res.Text, nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to store assistant reply")
			if res.Err == nil {
				res.Err = err
			}
			return
		}
		s.metrics.MessagesStored.WithLabelValues(string(llm.RoleAssistant)).Inc()
		res.Message = msg
	}, release)
	if err != nil {
		return nil, err
	}
	reply.ID = id
	return reply, nil
}

// RunPreset renders the preset with values and streams the response. The
// values are kept as the form's drafts. A run is recorded only when the
// stream completes.
func (s *Service) RunPreset(ctx context.Context, settings db.Settings, presetID int64, values map[string]string) (*Reply, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	streamCtx, release, err := s.inflight.Acquire(ctx, presetKey(presetID))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := s.logger.With().Str("stream_id", id).Int64("preset_id", presetID).Logger()

	preset, err := s.store.GetPreset(ctx, presetID)
	if err != nil {
		release()
		return nil, err
	}

	fields := make([]llm.FieldValue, 0, len(preset.Fields))
	used := make(map[string]string, len(preset.Fields))
	for _, f := range preset.Fields {
		v := values[f.Name]
		fields = append(fields, llm.FieldValue{Name: f.Name, Value: v})
		used[f.Name] = v
	}
	if len(fields) > 0 && allBlank(fields) {
		release()
		return nil, apperr.Validation("fill in at least one field before running %q", preset.Name)
	}

	if err := s.store.SavePresetFieldValues(ctx, presetID, used); err != nil {
		log.Warn().Err(err).Msg("failed to save field drafts")
	}

	reply, err := s.stream(streamCtx, log, metrics.KindPreset, settings, llm.BuildPresetMessages(preset.SystemPrompt, fields), func(res *Result) {
		if res.Err != nil || res.Cancelled || res.Text == "" {
			return
		}
		run, err := s.store.RecordPresetRun(context.WithoutCancel(ctx), presetID, used, res.Text)
		if err != nil {
			log.Error().Err(err).Msg("failed to record preset run")
			res.Err = err
			return
		}
		s.metrics.PresetRuns.Inc()
		res.Run = run
	}, release)
	if err != nil {
		return nil, err
	}
	reply.ID = id
	return reply, nil
}

// stream starts the provider stream and relays it. finish runs once the
// stream ends, before release and before Wait returns.
func (s *Service) stream(ctx context.Context, log zerolog.Logger, kind string, settings db.Settings, msgs []llm.Message, finish func(*Result), release func()) (*Reply, error) {
	provider := s.newProvider(settings)

	s.metrics.StreamsStarted.WithLabelValues(kind).Inc()
	upstream, err := provider.StreamChat(ctx, msgs)
	if err != nil {
		release()
		s.metrics.StreamsFailed.WithLabelValues(kind).Inc()
		log.Error().Err(err).Msg("failed to start stream")
		return nil, err
	}
	log.Info().Str("model", string(settings.Model)).Int("messages", len(msgs)).Msg("stream started")

	chunks := make(chan string, llm.StreamBuffer)
	reply := &Reply{Chunks: chunks, done: make(chan struct{})}

	utils.SafeGo(log, "stream relay", func() {
		var sb strings.Builder
		res := &reply.result
		defer func() {
			res.Text = sb.String()
			if r := recover(); r != nil {
				res.Err = apperr.Remote(nil, "stream relay stopped unexpectedly")
				log.Error().Interface("panic", r).Msg("stream relay panicked")
			}
			close(chunks)
			finish(res)
			release()
			close(reply.done)
		}()

		completed := false
		for item := range upstream {
			if item.Error != nil {
				res.Err = item.Error
				break
			}
			if item.Content != "" {
				sb.WriteString(item.Content)
				select {
				case chunks <- item.Content:
				case <-ctx.Done():
				}
			}
			if item.Done {
				completed = true
				break
			}
		}

		if !completed && ctx.Err() != nil {
			// A stopped stream may still report the aborted request as an error.
			res.Err = nil
		}

		switch {
		case res.Err != nil:
			s.metrics.StreamsFailed.WithLabelValues(kind).Inc()
			log.Error().Err(res.Err).Int("received", sb.Len()).Msg("stream failed")
		case !completed:
			res.Cancelled = true
			s.metrics.StreamsCancelled.WithLabelValues(kind).Inc()
			log.Info().Int("received", sb.Len()).Msg("stream cancelled")
		default:
			s.metrics.StreamsCompleted.WithLabelValues(kind).Inc()
			log.Info().Int("received", sb.Len()).Msg("stream completed")
		}
	})

	return reply, nil
}

func composeContent(text string, attachments []*llm.Attachment) (string, *db.Image, error) {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(text))

	var image *db.Image
	for _, att := range attachments {
		if att == nil {
			continue
		}
		if att.IsImage() {
			if image != nil {
				return "", nil, apperr.Validation("only one image can be attached to a message")
			}
			image = db.NewImage(att.MimeType, att.Data)
			continue
		}
		sb.WriteString(utils.TextContent(att))
	}

	content := sb.String()
	if strings.TrimSpace(content) == "" && image == nil {
		return "", nil, apperr.Validation("type a message or attach a file")
	}
	return content, image, nil
}

// retitle names a chat after its first user message while it still has the
// default title.
func (s *Service) retitle(ctx context.Context, log zerolog.Logger, chat *db.Chat, text string, attachments []*llm.Attachment) {
	if chat.Title != llm.DefaultChatTitle {
		return
	}
	n, err := s.store.CountMessages(ctx, chat.ID, llm.RoleUser)
	if err != nil || n != 1 {
		return
	}

	source := strings.TrimSpace(text)
	if source == "" {
		for _, att := range attachments {
			if att != nil && att.Filename != "" {
				source = att.Filename
				break
			}
		}
	}
	if source == "" {
		return
	}

	title := llm.TruncateTitle(llm.CleanTitle(source), llm.TitleLength)
	if err := s.store.RenameChat(ctx, chat.ID, title); err != nil {
		log.Warn().Err(err).Msg("failed to retitle chat")
		return
	}
	chat.Title = title
}

func allBlank(fields []llm.FieldValue) bool {
	for _, f := range fields {
		if strings.TrimSpace(f.Value) != "" {
			return false
		}
	}
	return true
}
