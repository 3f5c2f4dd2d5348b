// Package chat turns a streamed model completion into a JSON object under
// retry, per-chunk timeout and blank-stream policies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/model"
	"github.com/GaryBoone/ai-critics/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultModel          = "gpt-4-1106-preview"
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 2048
	DefaultChunkTimeout   = 30 * time.Second
	DefaultBlankThreshold = 300
	DefaultMaxRetries     = 5
)

// Options configures a Client. Zero fields take the package defaults.
type Options struct {
	Model          string
	ChunkTimeout   time.Duration
	BlankThreshold int
	MaxRetries     int
	// Limiter, if set, is waited on before every attempt. It may be shared
	// by clients that call the same account concurrently.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = DefaultChunkTimeout
	}
	if o.BlankThreshold <= 0 {
		o.BlankThreshold = DefaultBlankThreshold
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Request is one call: a system instruction, the user text and the sampling
// budget of the calling role.
type Request struct {
	// Name identifies the caller in logs and spans.
	Name        string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// PayloadField is the field subject to shape recovery, if any.
	PayloadField string
}

// Progress receives one Inc per chunk received and a Reset per reissued request.
type Progress interface {
	Inc()
	Reset()
}

// Client issues streamed chat completions through a model.Provider.
type Client struct {
	provider model.Provider
	opts     Options
}

// New creates a Client.
func New(provider model.Provider, opts Options) *Client {
	return &Client{provider: provider, opts: opts.withDefaults()}
}

// Call sends the request and returns the normalized JSON object. The whole
// request is reissued on timeouts, blank streams, non-stop completion reasons,
// ambiguous payload shapes and recoverable transport errors, up to MaxRetries
// attempts. Parse and structure errors are returned without retrying.
func (c *Client) Call(ctx context.Context, req Request, progress Progress) (map[string]any, error) {
	ctx, span := observability.Tracer().Start(ctx, "chat.Call", trace.WithAttributes(
		attribute.String("agent", req.Name),
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", c.opts.Model),
	))
	defer span.End()

	start := time.Now()
	v, err := c.call(ctx, req, progress, span)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RecordCall(c.provider.Name(), status, time.Since(start))
	return v, err
}

func (c *Client) call(ctx context.Context, req Request, progress Progress, span trace.Span) (map[string]any, error) {
	logger := c.opts.Logger.With("agent", req.Name)
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}
		if progress != nil {
			progress.Reset()
		}

		out, err := c.attempt(ctx, req, progress)
		if err != nil {
			observability.RecordAttempt(c.provider.Name(), "error")
			return nil, err
		}
		if out.Kind == OutcomeDone {
			observability.RecordAttempt(c.provider.Name(), "success")
			span.SetAttributes(attribute.Int("attempts", attempt))
			return out.Value, nil
		}

		observability.RecordAttempt(c.provider.Name(), "retry")
		observability.RecordRetry(string(out.Cause))
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("cause", string(out.Cause)),
		))
		args := []any{"attempt", attempt, "cause", out.Cause}
		if out.Err != nil {
			args = append(args, "error", out.Err)
		}
		logger.Warn("Retrying chat request", args...)
	}
	return nil, fmt.Errorf("%w: %d attempts", ErrMaxRetriesExceeded, c.opts.MaxRetries)
}

// attempt runs one request. A non-nil error is terminal for the call.
func (c *Client) attempt(ctx context.Context, req Request, progress Progress) (Outcome, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	stream, err := c.provider.Stream(attemptCtx, model.Request{
		Model: c.opts.Model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Text: req.System},
			{Role: domain.RoleUser, Text: req.User},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return c.transportFailure(ctx, err)
	}
	defer stream.Close()

	out, err := c.collect(attemptCtx, stream, progress)
	if err != nil {
		return c.transportFailure(ctx, err)
	}
	if out.Kind != OutcomeAPISuccess {
		return out, nil
	}
	return Normalize(out.Text, req.PayloadField)
}

func (c *Client) transportFailure(ctx context.Context, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	if model.IsPermanent(err) {
		return Outcome{}, err
	}
	return retry(CauseTransport, err), nil
}

type received struct {
	chunk model.Chunk
	err   error
}

// collect reads the stream until it ends, stalls for longer than the chunk
// timeout, or trips the blank guard.
func (c *Client) collect(ctx context.Context, stream model.ChunkStream, progress Progress) (Outcome, error) {
	chunks := make(chan received)
	go func() {
		defer close(chunks)
		for {
			ch, err := stream.Recv()
			select {
			case chunks <- received{chunk: ch, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	acc := newCollector(c.opts.BlankThreshold)
	timer := time.NewTimer(c.opts.ChunkTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-timer.C:
			return retry(CauseTimeout, nil), nil
		case r, ok := <-chunks:
			if !ok {
				return Outcome{}, errors.New("stream closed without end of stream")
			}
			if errors.Is(r.err, io.EOF) {
				return acc.finish(), nil
			}
			if r.err != nil {
				return Outcome{}, fmt.Errorf("receiving chunk: %w", r.err)
			}
			observability.RecordChunk(c.provider.Name())
			if progress != nil {
				progress.Inc()
			}
			if out, abandon := acc.observe(r.chunk); abandon {
				return out, nil
			}
			timer.Reset(c.opts.ChunkTimeout)
		}
	}
}
