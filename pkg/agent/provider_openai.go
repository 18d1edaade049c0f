package agent

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider opens OpenAI chat conversations.
type OpenAIProvider struct {
	opts []option.RequestOption
}

// NewOpenAIProvider creates an OpenAI model client. opts are applied after the API key,
// e.g. option.WithBaseURL for compatible endpoints.
func NewOpenAIProvider(opts ...option.RequestOption) *OpenAIProvider {
	return &OpenAIProvider{opts: opts}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

// CreateSession configures an OpenAI client. No request is made until the first reply.
func (p *OpenAIProvider) CreateSession(ctx context.Context, cfg SessionConfig) (ModelSession, error) {
	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, p.opts...)
	return &openAISession{
		client: openai.NewClient(opts...),
		model:  modelOrDefault(ProviderOpenAI, cfg.Model),
		gen:    cfg.Generation,
		conv:   newConversation(cfg.History),
	}, nil
}

type openAISession struct {
	client openai.Client
	model  string
	gen    GenerationConfig
	conv   *conversation
}

func (s *openAISession) StreamReply(ctx context.Context, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		history, err := s.conv.snapshot()
		if err != nil {
			yield("", err)
			return
		}

		stream := s.client.Chat.Completions.NewStreaming(ctx, s.params(history, input))
		defer stream.Close()

		var reply strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			reply.WriteString(text)
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", openAIError(err))
			return
		}
		s.conv.commit(input, reply.String())
	}
}

func (s *openAISession) Close() error {
	s.conv.close()
	return nil
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return NewAPIError(ProviderOpenAI, apiErr.StatusCode, err)
	}
	return err
}

// params builds the request. Temperature is always sent; 0 is a valid setting.
func (s *openAISession) params(history []Turn, input string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, t := range history {
		if t.Role == RoleModel {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(input))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(s.model),
		Messages:    messages,
		Temperature: openai.Float(s.gen.Temperature),
	}
	if s.gen.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(s.gen.MaxOutputTokens))
	}
	return params
}
