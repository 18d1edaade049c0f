package agent

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider opens Anthropic Claude conversations.
type AnthropicProvider struct {
	opts []option.RequestOption
}

// NewAnthropicProvider creates an Anthropic model client.
func NewAnthropicProvider(opts ...option.RequestOption) *AnthropicProvider {
	return &AnthropicProvider{opts: opts}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return ProviderAnthropic
}

// CreateSession configures an Anthropic client. No request is made until the first reply.
func (p *AnthropicProvider) CreateSession(ctx context.Context, cfg SessionConfig) (ModelSession, error) {
	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, p.opts...)
	return &anthropicSession{
		client: anthropic.NewClient(opts...),
		model:  modelOrDefault(ProviderAnthropic, cfg.Model),
		gen:    cfg.Generation,
		conv:   newConversation(cfg.History),
	}, nil
}

type anthropicSession struct {
	client anthropic.Client
	model  string
	gen    GenerationConfig
	conv   *conversation
}

func (s *anthropicSession) StreamReply(ctx context.Context, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		history, err := s.conv.snapshot()
		if err != nil {
			yield("", err)
			return
		}

		stream := s.client.Messages.NewStreaming(ctx, s.params(history, input))
		defer stream.Close()

		var reply strings.Builder
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || textDelta.Text == "" {
				continue
			}
			reply.WriteString(textDelta.Text)
			if !yield(textDelta.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", anthropicError(err))
			return
		}
		s.conv.commit(input, reply.String())
	}
}

func (s *anthropicSession) Close() error {
	s.conv.close()
	return nil
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return NewAPIError(ProviderAnthropic, apiErr.StatusCode, err)
	}
	return err
}

// params builds the request. Temperature is always sent; 0 is a valid setting.
func (s *anthropicSession) params(history []Turn, input string) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, t := range history {
		if t.Role == RoleModel {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input)))

	maxTokens := int64(s.gen.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = int64(DefaultGenerationConfig().MaxOutputTokens)
	}
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(s.gen.Temperature),
	}
}
