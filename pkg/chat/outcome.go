package chat

import (
	"strings"

	"github.com/GaryBoone/ai-critics/pkg/model"
)

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	// OutcomeRetry means the request should be reissued from scratch.
	OutcomeRetry OutcomeKind = iota
	// OutcomeAPISuccess means the stream ended with accumulated text and a reason.
	OutcomeAPISuccess
	// OutcomeDone means the text was parsed into a canonical JSON object.
	OutcomeDone
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRetry:
		return "retry"
	case OutcomeAPISuccess:
		return "api_success"
	case OutcomeDone:
		return "done"
	default:
		return "unknown"
	}
}

// RetryCause records why an attempt produced OutcomeRetry.
type RetryCause string

const (
	CauseTimeout      RetryCause = "timeout"
	CauseBlankStream  RetryCause = "blank_stream"
	CauseFinishReason RetryCause = "finish_reason"
	CauseTransport    RetryCause = "transport"
	CausePayloadShape RetryCause = "payload_shape"
)

// Outcome is the result of one step of stream collection or normalization.
// Only the fields belonging to Kind are set.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeAPISuccess.
	Text   string
	Reason model.CompletionReason

	// OutcomeDone.
	Value map[string]any

	// OutcomeRetry.
	Cause RetryCause
	Err   error
}

func retry(cause RetryCause, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Cause: cause, Err: err}
}

func done(v map[string]any) Outcome {
	return Outcome{Kind: OutcomeDone, Value: v}
}

// blankGuard detects streams that emit whitespace until the token budget runs
// out. streak counts consecutive chunks whose trimmed text is empty.
type blankGuard struct {
	threshold int
	streak    int
}

// observe records one chunk and reports whether the streak now exceeds the threshold.
func (g *blankGuard) observe(text string) bool {
	if strings.TrimSpace(text) != "" {
		g.streak = 0
		return false
	}
	g.streak++
	return g.streak > g.threshold
}

// collector accumulates one attempt's stream.
type collector struct {
	text   strings.Builder
	guard  blankGuard
	reason model.CompletionReason
}

func newCollector(blankThreshold int) *collector {
	return &collector{guard: blankGuard{threshold: blankThreshold}}
}

// observe folds one chunk in. The boolean is true when the stream must be abandoned.
func (c *collector) observe(ch model.Chunk) (Outcome, bool) {
	if ch.Reason != model.ReasonNone {
		c.reason = ch.Reason
	}
	if ch.Text != "" {
		c.text.WriteString(ch.Text)
	}
	if c.guard.observe(ch.Text) {
		return retry(CauseBlankStream, nil), true
	}
	return Outcome{}, false
}

// finish is called at end of stream.
func (c *collector) finish() Outcome {
	if c.reason != model.ReasonStop {
		return retry(CauseFinishReason, nil)
	}
	return Outcome{Kind: OutcomeAPISuccess, Text: c.text.String(), Reason: c.reason}
}
