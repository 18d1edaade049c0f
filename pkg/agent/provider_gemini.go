package agent

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

// GeminiProvider opens Gemini conversations.
type GeminiProvider struct{}

// NewGeminiProvider creates a Gemini model client.
func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{}
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return ProviderGemini
}

// CreateSession configures a Gemini client. No request is made until the first reply.
func (p *GeminiProvider) CreateSession(ctx context.Context, cfg SessionConfig) (ModelSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, geminiError(err)
	}

	temperature := float32(cfg.Generation.Temperature)
	return &geminiSession{
		client: client,
		model:  modelOrDefault(ProviderGemini, cfg.Model),
		config: &genai.GenerateContentConfig{
			MaxOutputTokens: int32(cfg.Generation.MaxOutputTokens),
			Temperature:     &temperature,
		},
		conv: newConversation(cfg.History),
	}, nil
}

type geminiSession struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	conv   *conversation
}

func (s *geminiSession) StreamReply(ctx context.Context, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		history, err := s.conv.snapshot()
		if err != nil {
			yield("", err)
			return
		}

		contents := make([]*genai.Content, 0, len(history)+1)
		for _, t := range history {
			contents = append(contents, geminiContent(t))
		}
		contents = append(contents, geminiContent(Turn{Role: RoleUser, Text: input}))

		var reply strings.Builder
		for chunk, err := range s.client.Models.GenerateContentStream(ctx, s.model, contents, s.config) {
			if err != nil {
				yield("", geminiError(err))
				return
			}
			text := geminiText(chunk)
			if text == "" {
				continue
			}
			reply.WriteString(text)
			if !yield(text, nil) {
				return
			}
		}
		s.conv.commit(input, reply.String())
	}
}

func (s *geminiSession) Close() error {
	s.conv.close()
	return nil
}

func geminiContent(t Turn) *genai.Content {
	role := "user"
	if t.Role == RoleModel {
		role = "model"
	}
	return &genai.Content{
		Role:  role,
		Parts: []*genai.Part{genai.NewPartFromText(t.Text)},
	}
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// geminiError attaches the HTTP status reported by the Gemini API, if any.
func geminiError(err error) error {
	if status := geminiStatus(err); status > 0 {
		return NewAPIError(ProviderGemini, status, err)
	}
	return err
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	if gaxErr, ok := apierror.FromError(err); ok {
		return gaxErr.HTTPCode()
	}
	return 0
}
