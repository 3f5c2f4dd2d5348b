package domain

// Role defines the sender of a chat message.
type Role string

const (
	// RoleSystem carries the agent's fixed instructions.
	RoleSystem Role = "system"
	// RoleUser carries the per-call input.
	RoleUser Role = "user"
)

// Message is a single chat message sent to the model.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ReviewerKind selects the evaluation criteria a reviewer applies.
type ReviewerKind string

const (
	ReviewerDesign      ReviewerKind = "design"
	ReviewerCorrectness ReviewerKind = "correctness"
	ReviewerSyntax      ReviewerKind = "syntax"
	// ReviewerGeneral covers all criteria in a single reviewer.
	ReviewerGeneral ReviewerKind = "general"
)

// SpecializedKinds are the reviewer kinds used when general mode is off.
var SpecializedKinds = []ReviewerKind{ReviewerDesign, ReviewerCorrectness, ReviewerSyntax}
