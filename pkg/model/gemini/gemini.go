package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/model"
	"google.golang.org/genai"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Stream sends the request and returns a stream of chunks. The system message
// becomes the system instruction; user messages become user contents.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ChunkStream, error) {
	slog.Debug("Gemini.Stream", "model", req.Model, "messageCount", len(req.Messages))

	config := buildConfig(req)

	var contents []*genai.Content
	for _, msg := range req.Messages {
		if msg.Role == domain.RoleSystem {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: msg.Text}},
		})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	seq := p.client.Models.GenerateContentStream(streamCtx, req.Model, contents, config)

	s := &geminiStream{
		results: make(chan result),
		ctx:     streamCtx,
		cancel:  cancel,
	}
	go s.pump(seq)
	return s, nil
}

func buildConfig(req model.Request) *genai.GenerateContentConfig {
	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  int32(req.MaxTokens),
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
	}
	var system []string
	for _, msg := range req.Messages {
		if msg.Role == domain.RoleSystem {
			system = append(system, msg.Text)
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}
	return config
}

type result struct {
	chunk model.Chunk
	err   error
}

// geminiStream adapts the push iterator to Recv so a caller can stop waiting
// on a chunk without owning the iterator goroutine.
type geminiStream struct {
	results chan result
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *geminiStream) pump(seq func(yield func(*genai.GenerateContentResponse, error) bool)) {
	defer close(s.results)
	for resp, err := range seq {
		r := result{err: classify(err)}
		if err == nil {
			r.chunk = toChunk(resp)
		}
		select {
		case s.results <- r:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *geminiStream) Recv() (model.Chunk, error) {
	select {
	case r, ok := <-s.results:
		if !ok {
			return model.Chunk{}, io.EOF
		}
		return r.chunk, r.err
	case <-s.ctx.Done():
		return model.Chunk{}, s.ctx.Err()
	}
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}

func toChunk(resp *genai.GenerateContentResponse) model.Chunk {
	if resp == nil || len(resp.Candidates) == 0 {
		return model.Chunk{}
	}
	cand := resp.Candidates[0]
	var text strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}
	return model.Chunk{Text: text.String(), Reason: reason(cand.FinishReason)}
}

func reason(r genai.FinishReason) model.CompletionReason {
	switch r {
	case "":
		return model.ReasonNone
	case genai.FinishReasonStop:
		return model.ReasonStop
	case genai.FinishReasonMaxTokens:
		return model.ReasonLengthExceeded
	default:
		return model.CompletionReason(strings.ToLower(string(r)))
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return model.Permanent(err)
	}
	return err
}
