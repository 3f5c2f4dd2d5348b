package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/GaryBoone/ai-critics/pkg/chat"
	"github.com/GaryBoone/ai-critics/pkg/domain"
)

// Separator divides the sections of a user message.
const Separator = "\n\n------\n\n"

const generatorInstructions = `Write the requested program with complete unit tests.
The code is piped directly to the rustc compiler with --test, so it must compile as-is.
Do not wrap the code in backticks. Put any explanation in // comments.
The tests must demonstrate that the program solves the requested problem.
Respond with a JSON object with one field "code" holding the complete source file.`

const reviewerInstructions = `You will receive a coding problem and a proposed solution separated by a line containing '------'.
Judge the solution only against the criteria below and make no other comments.
Respond with a JSON object with two fields:
1. "correct": true if the solution satisfies the criteria, otherwise false.
2. "corrections": a list of strings, one per problem found, or null if there are none.`

var reviewerCriteria = map[domain.ReviewerKind]string{
	domain.ReviewerDesign: `Criteria: the design of the solution.
- Is this the right approach for the problem?
- Does the chosen method respect the problem's constraints?
- Are the algorithms and data structures appropriate?`,
	domain.ReviewerCorrectness: `Criteria: the correctness of the solution.
- Does the code implement its approach correctly?
- Does it produce the expected output and meet the problem's constraints?
- Are there enough tests, and do they distinguish right answers from wrong ones?`,
	domain.ReviewerSyntax: `Criteria: the syntax of the solution.
- Are there syntax errors?
- Will the code and its tests compile and run?
- Are there language errors such as borrow or lifetime violations?
- Are there unused variables or imports to clean up?`,
	domain.ReviewerGeneral: `Criteria: the design, correctness and syntax of the solution.
- Is the approach right for the problem and its constraints?
- Is it implemented correctly, with tests that demonstrate it?
- Will the code and its tests compile, free of language errors?`,
}

const repairerInstructions = `You will receive a coding goal, a program that attempts it, and one or more requested changes, each separated by a line of '------'.
Respond with a JSON object with one field "code" holding the complete corrected source file, with tests showing the goal is met. Add no explanations outside the code.`

var repairerFraming = map[domain.RequestKind]string{
	domain.RequestCodeReview:  "The requested changes are reviewer criticisms. Decide which are legitimate and apply those.",
	domain.RequestCompilerFix: "The requested changes are compiler errors. Fix the program so it compiles.",
	domain.RequestTestFix:     "The requested changes are failing test reports. Fix the program so its tests pass.",
}

// Generator produces the first candidate from the problem statement.
type Generator struct {
	agent *Agent
}

// NewGenerator creates the generator role.
func NewGenerator(chatter Chatter, logger *slog.Logger) *Generator {
	return &Generator{agent: New(Role{
		Name:         "Coder",
		Instructions: generatorInstructions,
		Schema:       CodeSchema,
	}, chatter, logger)}
}

// Generate returns the initial candidate.
func (g *Generator) Generate(ctx context.Context, problem string, progress chat.Progress) (domain.Candidate, error) {
	obj, err := g.agent.Chat(ctx, problem, progress)
	if err != nil {
		return domain.Candidate{}, err
	}
	src, err := DecodeCode(obj, CodeSchema.PayloadField)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: %w", g.agent.Name(), err)
	}
	return domain.Candidate{Source: src}, nil
}

// Reviewer judges a candidate against one kind of criteria.
type Reviewer struct {
	kind  domain.ReviewerKind
	agent *Agent
}

// NewReviewer creates reviewer id of the given kind.
func NewReviewer(kind domain.ReviewerKind, id int, chatter Chatter, logger *slog.Logger) (*Reviewer, error) {
	criteria, ok := reviewerCriteria[kind]
	if !ok {
		return nil, fmt.Errorf("unknown reviewer kind %q", kind)
	}
	return &Reviewer{kind: kind, agent: New(Role{
		Name:         fmt.Sprintf("%s Critic %d", title(string(kind)), id),
		Instructions: reviewerInstructions + "\n\n" + criteria,
		Schema:       ReviewSchema,
	}, chatter, logger)}, nil
}

// Name returns the reviewer's display name, e.g. "Syntax Critic 2".
func (r *Reviewer) Name() string { return r.agent.Name() }

// Kind returns the reviewer's criteria kind.
func (r *Reviewer) Kind() domain.ReviewerKind { return r.kind }

// Review returns the reviewer's verdict on the candidate.
func (r *Reviewer) Review(ctx context.Context, problem string, cand domain.Candidate, progress chat.Progress) (domain.Verdict, error) {
	obj, err := r.agent.Chat(ctx, problem+Separator+cand.Source, progress)
	if err != nil {
		return domain.Verdict{}, err
	}
	passed, issues, err := DecodeReview(obj)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%s: %w", r.Name(), err)
	}
	if passed && len(issues) > 0 {
		r.agent.logger.Info("Passing verdict carries notes", "agent", r.Name(), "notes", len(issues))
	}
	return domain.Verdict{Reviewer: r.Name(), Passed: passed, Issues: issues}, nil
}

// Repairer rewrites a candidate to address one review request.
type Repairer struct {
	agents map[domain.RequestKind]*Agent
}

// NewRepairer creates the repairer role with one framing per request kind.
func NewRepairer(chatter Chatter, logger *slog.Logger) *Repairer {
	agents := make(map[domain.RequestKind]*Agent, len(repairerFraming))
	for kind, framing := range repairerFraming {
		agents[kind] = New(Role{
			Name:         "Fixer",
			Instructions: repairerInstructions + "\n" + framing,
			Schema:       CodeSchema,
		}, chatter, logger)
	}
	return &Repairer{agents: agents}
}

// Repair returns a new candidate addressing req.
func (r *Repairer) Repair(ctx context.Context, problem string, cand domain.Candidate, req domain.ReviewRequest, progress chat.Progress) (domain.Candidate, error) {
	a, ok := r.agents[req.Kind]
	if !ok {
		return domain.Candidate{}, fmt.Errorf("unknown review request kind %q", req.Kind)
	}
	obj, err := a.Chat(ctx, RepairMessage(problem, cand, req), progress)
	if err != nil {
		return domain.Candidate{}, err
	}
	src, err := DecodeCode(obj, CodeSchema.PayloadField)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: %w", a.Name(), err)
	}
	return domain.Candidate{Source: src}, nil
}

// RepairMessage builds the repairer's user message: the goal, the code, then
// each comment framed by the request kind.
func RepairMessage(problem string, cand domain.Candidate, req domain.ReviewRequest) string {
	sections := []string{problem, cand.Source}
	for _, c := range req.Comments {
		switch req.Kind {
		case domain.RequestCompilerFix:
			c = "Fix the following compilation error: " + c
		case domain.RequestTestFix:
			c = "Fix the following test error: " + c
		}
		sections = append(sections, c)
	}
	return strings.Join(sections, Separator)
}

func title(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
