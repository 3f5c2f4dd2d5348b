package domain

import "time"

// Candidate is a proposed program. Agents return new values instead of
// mutating the one they were given.
type Candidate struct {
	Source string `json:"source"`
}

// Verdict is one reviewer's judgment of a candidate.
type Verdict struct {
	Reviewer string   `json:"reviewer"`
	Passed   bool     `json:"passed"`
	Issues   []string `json:"issues"`
}

// RequestKind identifies where the feedback in a ReviewRequest came from.
type RequestKind string

const (
	RequestCodeReview  RequestKind = "code_review"
	RequestCompilerFix RequestKind = "compiler_fix"
	RequestTestFix     RequestKind = "test_fix"
)

// ReviewRequest bundles the feedback that drives one repair.
type ReviewRequest struct {
	Kind     RequestKind `json:"kind"`
	Comments []string    `json:"comments"`
}

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunConverged RunStatus = "converged"
	RunExhausted RunStatus = "exhausted"
	RunFailed    RunStatus = "failed"
)

// Run is the journal record of one convergence loop.
type Run struct {
	ID         string     `json:"id"`
	Problem    string     `json:"problem"`
	Status     RunStatus  `json:"status"`
	Proposals  int        `json:"proposals"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// EventType classifies a journal event.
type EventType string

const (
	EventProposal     EventType = "proposal"
	EventVerdict      EventType = "verdict"
	EventReview       EventType = "review_request"
	EventVerification EventType = "verification"
)

// Event is a single append-only entry in a run's journal. Seq is assigned
// by the store and increases monotonically within a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Proposal  int       `json:"proposal"`
	Actor     string    `json:"actor,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
