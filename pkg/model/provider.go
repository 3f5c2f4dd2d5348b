package model

import (
	"context"
	"errors"

	"github.com/GaryBoone/ai-critics/pkg/domain"
)

// CompletionReason is why the model stopped producing output. Providers map
// their own tags onto Stop and LengthExceeded and pass anything else through
// verbatim.
type CompletionReason string

const (
	// ReasonNone means no chunk carried a reason.
	ReasonNone CompletionReason = ""
	// ReasonStop is a natural end of output and the only successful reason.
	ReasonStop CompletionReason = "stop"
	// ReasonLengthExceeded means the token budget ran out.
	ReasonLengthExceeded CompletionReason = "length"
)

// Request is a single streamed chat completion. Providers always ask for one
// choice constrained to a JSON object.
type Request struct {
	Model       string
	Messages    []domain.Message
	Temperature float32
	MaxTokens   int
}

// Chunk is one element of a completion stream.
type Chunk struct {
	// Text is the delta carried by this chunk, possibly empty.
	Text string
	// Reason is set on the chunk that ends a choice.
	Reason CompletionReason
}

// Provider represents a service that provides LLMs (e.g. OpenAI, Gemini).
type Provider interface {
	// Name returns the provider's identifier (e.g. "openai", "gemini").
	Name() string

	// Stream opens a completion stream for the request.
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// ChunkStream abstracts the stream of chunks from the model.
type ChunkStream interface {
	// Recv blocks until the next chunk arrives. It returns io.EOF after
	// the terminal chunk.
	Recv() (Chunk, error)

	// Close releases resources associated with this stream and unblocks
	// a pending Recv.
	Close() error
}

// PermanentError marks a transport failure that a retry cannot fix, such as
// an authentication or malformed request error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
