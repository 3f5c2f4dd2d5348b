package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/model"
	openai "github.com/sashabaranov/go-openai"
)

// Provider implements model.Provider using the OpenAI chat completions API.
type Provider struct {
	client *openai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new OpenAI provider. An empty baseURL uses the public API;
// any OpenAI-compatible endpoint can be given instead.
func New(apiKey, baseURL string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// Stream opens a streamed chat completion with a single JSON-object choice.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ChunkStream, error) {
	slog.Debug("OpenAI.Stream", "model", req.Model, "messageCount", len(req.Messages))

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		N:           1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("creating chat completion stream: %w", err))
	}
	return &openaiStream{stream: stream}, nil
}

// classify marks client errors that will fail the same way on every attempt.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return model.Permanent(err)
	}
	return err
}

// openaiStream wraps the go-openai stream reader.
type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (model.Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		// io.EOF passes through untouched.
		return model.Chunk{}, err
	}
	if len(resp.Choices) == 0 {
		return model.Chunk{}, nil
	}
	choice := resp.Choices[0]
	return model.Chunk{
		Text:   choice.Delta.Content,
		Reason: reason(choice.FinishReason),
	}, nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

func reason(r openai.FinishReason) model.CompletionReason {
	switch r {
	case openai.FinishReasonStop:
		return model.ReasonStop
	case openai.FinishReasonLength:
		return model.ReasonLengthExceeded
	default:
		return model.CompletionReason(r)
	}
}
