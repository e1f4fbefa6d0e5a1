package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"deskchat/apperr"
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) *OpenAIProvider {
	// Allow empty API key - validation happens at runtime
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.Timeout == 0 {
		config.Timeout = 120
	}
	if config.ProviderName == "" {
		config.ProviderName = "OpenAI"
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

var _ Provider = (*OpenAIProvider)(nil)

// StreamChat implements streaming chat
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan StreamResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	req := p.buildRequest(messages)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, apperr.Remote(err, "failed to create stream")
	}

	responseChan := make(chan StreamResponse, StreamBuffer)

	go func() {
		defer close(responseChan)
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, responseChan, StreamResponse{Done: true})
				return
			}
			if err != nil {
				emit(ctx, responseChan, StreamResponse{Error: apperr.Remote(err, "stream error")})
				return
			}

			if len(response.Choices) > 0 {
				content := response.Choices[0].Delta.Content
				if content != "" && !emit(ctx, responseChan, StreamResponse{Content: content}) {
					return
				}
			}
		}
	}()

	return responseChan, nil
}

// emit delivers one item unless the consumer's context is gone.
func emit(ctx context.Context, ch chan<- StreamResponse, item StreamResponse) bool {
	select {
	case ch <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// Chat implements non-streaming chat
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := p.ValidateConfig(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.config.Timeout)*time.Second)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(messages))
	if err != nil {
		return "", apperr.Remote(err, "failed to create chat completion")
	}

	if len(resp.Choices) == 0 {
		return "", apperr.Remote(nil, "no response from OpenAI")
	}

	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, p.convertMessage(msg))
	}

	return openai.ChatCompletionRequest{
		Model:       string(p.config.Model),
		Messages:    openaiMessages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: float32(p.config.Temperature),
	}
}

// ImageOmitted stands in for an image-only message sent to a text-only model.
const ImageOmitted = "[image omitted]"

// convertMessage converts our Message type to OpenAI format, handling image attachments
func (p *OpenAIProvider) convertMessage(msg Message) openai.ChatCompletionMessage {
	var images []Attachment
	for _, att := range msg.Attachments {
		if att.IsImage() {
			images = append(images, att)
		}
	}

	if len(images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	if !p.config.Model.SupportsImages() {
		content := msg.Content
		if strings.TrimSpace(content) == "" {
			content = ImageOmitted
		}
		return openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: content,
		}
	}

	multiContent := make([]openai.ChatMessagePart, 0, len(images)+1)
	if msg.Content != "" {
		multiContent = append(multiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}

	for _, att := range images {
		multiContent = append(multiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    DataURL(att.MimeType, att.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	return openai.ChatCompletionMessage{
		Role:         string(msg.Role),
		MultiContent: multiContent,
	}
}

// DataURL encodes binary content as a data: URL.
func DataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *OpenAIProvider) Models() []string {
	return ModelNames()
}

// ValidateConfig validates the configuration
func (p *OpenAIProvider) ValidateConfig() error {
	if p.config.APIKey == "" {
		return apperr.Validation("API key is required")
	}
	if !p.config.Model.Valid() {
		return apperr.Validation("model %q is not supported", p.config.Model)
	}
	return nil
}
