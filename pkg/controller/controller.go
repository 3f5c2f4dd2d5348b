// Package controller drives a candidate program through generate, review,
// repair and verification until it converges or the proposal budget runs out.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/GaryBoone/ai-critics/pkg/chat"
	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/observability"
	"github.com/GaryBoone/ai-critics/pkg/progress"
	"github.com/GaryBoone/ai-critics/pkg/store"
	"github.com/GaryBoone/ai-critics/pkg/verify"
)

const DefaultMaxProposals = 20

// ErrMaxProposalsExceeded is returned when a repair is needed but the run has
// already produced its maximum number of proposals.
var ErrMaxProposalsExceeded = errors.New("maximum proposals exceeded")

type Generator interface {
	Generate(ctx context.Context, problem string, progress chat.Progress) (domain.Candidate, error)
}

type Reviewer interface {
	Name() string
	Kind() domain.ReviewerKind
	Review(ctx context.Context, problem string, cand domain.Candidate, progress chat.Progress) (domain.Verdict, error)
}

type Repairer interface {
	Repair(ctx context.Context, problem string, cand domain.Candidate, req domain.ReviewRequest, progress chat.Progress) (domain.Candidate, error)
}

type Verifier interface {
	Verify(ctx context.Context, source string) (verify.Outcome, error)
}

// Config configures a Controller. Zero fields take defaults.
type Config struct {
	MaxProposals int
	// Journal, if set, records the run and every step of it.
	Journal store.RunStore
	Tracker *progress.Tracker
	Logger  *slog.Logger
}

// Result describes a finished run.
type Result struct {
	RunID     string
	Status    domain.RunStatus
	Proposals int
	// Candidate is the last proposal: the converged program, or the final
	// attempt of an exhausted run.
	Candidate domain.Candidate
}

// Controller runs the convergence loop. It is not safe for concurrent Runs
// because reviewer progress counters are shared.
type Controller struct {
	generator Generator
	reviewers []Reviewer
	repairer  Repairer
	verifier  Verifier
	cfg       Config
}

// New creates a new Controller.
func New(generator Generator, reviewers []Reviewer, repairer Repairer, verifier Verifier, cfg Config) *Controller {
	if cfg.MaxProposals <= 0 {
		cfg.MaxProposals = DefaultMaxProposals
	}
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		generator: generator,
		reviewers: reviewers,
		repairer:  repairer,
		verifier:  verifier,
		cfg:       cfg,
	}
}

// Run solves problem. On ErrMaxProposalsExceeded the returned Result is
// non-nil and holds the last candidate. Any other error aborts the run; the
// Result then carries the RunID and the proposals made so far.
func (c *Controller) Run(ctx context.Context, problem string) (*Result, error) {
	res := &Result{RunID: uuid.New().String(), Status: domain.RunRunning}
	log := c.cfg.Logger.With("run", res.RunID)

	ctx, span := observability.Tracer().Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", res.RunID),
			attribute.Int("run.max_proposals", c.cfg.MaxProposals),
			attribute.Int("run.reviewers", len(c.reviewers)),
		))
	defer span.End()

	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.CreateRun(ctx, &domain.Run{ID: res.RunID, Problem: problem}); err != nil {
			log.Warn("Failed to journal run", "error", err)
		}
	}

	err := c.loop(ctx, log, problem, res)
	switch {
	case err == nil:
		res.Status = domain.RunConverged
		log.Info("Converged", "proposals", res.Proposals)
	case errors.Is(err, ErrMaxProposalsExceeded):
		res.Status = domain.RunExhausted
		log.Info("Proposal budget exhausted", "proposals", res.Proposals)
	default:
		res.Status = domain.RunFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("run.status", string(res.Status)), attribute.Int("run.proposals", res.Proposals))
	observability.RecordRun(string(res.Status), res.Proposals)

	if c.cfg.Journal != nil {
		var msg string
		if err != nil {
			msg = err.Error()
		}
		// The run must be closed out even when ctx was cancelled.
		if jerr := c.cfg.Journal.FinishRun(context.WithoutCancel(ctx), res.RunID, res.Status, res.Proposals, msg); jerr != nil {
			log.Warn("Failed to journal run status", "error", jerr)
		}
	}
	return res, err
}

func (c *Controller) loop(ctx context.Context, log *slog.Logger, problem string, res *Result) error {
	cand, err := c.generate(ctx, problem, res.RunID)
	if err != nil {
		return err
	}
	res.Candidate = cand
	res.Proposals = 1
	log.Info("Proposal generated", "proposal", res.Proposals)
	c.record(ctx, log, res, domain.EventProposal, "Coder", cand.Source)

	for {
		verdicts, err := c.review(ctx, problem, res)
		if err != nil {
			return fmt.Errorf("reviewing proposal %d: %w", res.Proposals, err)
		}
		for _, v := range verdicts {
			c.record(ctx, log, res, domain.EventVerdict, v.Reviewer, encode(v))
		}

		req, consensus := Aggregate(verdicts)
		log.Info("Review complete", "proposal", res.Proposals, "consensus", consensus, "issues", len(req.Comments))
		if consensus {
			out, err := c.verifier.Verify(ctx, res.Candidate.Source)
			if err != nil {
				return fmt.Errorf("verifying proposal %d: %w", res.Proposals, err)
			}
			c.record(ctx, log, res, domain.EventVerification, "", encode(verification{Outcome: out.Kind.String(), Diagnostic: out.Diagnostic}))

			var failed bool
			req, failed = out.Request()
			if !failed {
				return nil
			}
			log.Info("Verification failed", "proposal", res.Proposals, "outcome", out.Kind.String())
		}
		c.record(ctx, log, res, domain.EventReview, "", encode(req))

		// Fixing.
		if res.Proposals >= c.cfg.MaxProposals {
			return fmt.Errorf("%w: %d", ErrMaxProposalsExceeded, res.Proposals)
		}
		cand, err := c.repair(ctx, problem, res, req)
		if err != nil {
			return fmt.Errorf("repairing proposal %d: %w", res.Proposals, err)
		}
		res.Candidate = cand
		res.Proposals++
		log.Info("Proposal repaired", "proposal", res.Proposals, "request", string(req.Kind))
		c.record(ctx, log, res, domain.EventProposal, "Fixer", cand.Source)
	}
}

func (c *Controller) generate(ctx context.Context, problem, runID string) (domain.Candidate, error) {
	ctx, span := observability.Tracer().Start(ctx, "generate")
	defer span.End()

	c.cfg.Tracker.Clear()
	cand, err := c.generator.Generate(ctx, problem, c.cfg.Tracker.Counter("Coder"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Candidate{}, fmt.Errorf("generating: %w", err)
	}
	return cand, nil
}

// review fans the candidate out to every reviewer and waits for all of them.
// A failing reviewer does not cancel its siblings; the first error is
// returned once every reviewer has finished.
func (c *Controller) review(ctx context.Context, problem string, res *Result) ([]domain.Verdict, error) {
	ctx, span := observability.Tracer().Start(ctx, "review",
		trace.WithAttributes(attribute.Int("run.proposal", res.Proposals)))
	defer span.End()

	c.cfg.Tracker.Clear()
	cand := res.Candidate
	verdicts := make([]domain.Verdict, len(c.reviewers))

	var g errgroup.Group
	for i, r := range c.reviewers {
		counter := c.cfg.Tracker.Counter(r.Name())
		g.Go(func() error {
			v, err := r.Review(ctx, problem, cand, counter)
			if err != nil {
				return err
			}
			observability.RecordVerdict(string(r.Kind()), v.Passed)
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return verdicts, nil
}

func (c *Controller) repair(ctx context.Context, problem string, res *Result, req domain.ReviewRequest) (domain.Candidate, error) {
	ctx, span := observability.Tracer().Start(ctx, "repair",
		trace.WithAttributes(
			attribute.Int("run.proposal", res.Proposals),
			attribute.String("repair.kind", string(req.Kind)),
		))
	defer span.End()

	c.cfg.Tracker.Clear()
	cand, err := c.repairer.Repair(ctx, problem, res.Candidate, req, c.cfg.Tracker.Counter("Fixer"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Candidate{}, err
	}
	return cand, nil
}

// Aggregate combines reviewer verdicts. consensus is true when every verdict
// passed. Otherwise req is a code review request holding the failing
// reviewers' issues, deduplicated, in first-seen order.
func Aggregate(verdicts []domain.Verdict) (req domain.ReviewRequest, consensus bool) {
	req = domain.ReviewRequest{Kind: domain.RequestCodeReview, Comments: []string{}}
	seen := make(map[string]struct{})
	consensus = true
	for _, v := range verdicts {
		if v.Passed {
			continue
		}
		consensus = false
		for _, issue := range v.Issues {
			if _, ok := seen[issue]; ok {
				continue
			}
			seen[issue] = struct{}{}
			req.Comments = append(req.Comments, issue)
		}
	}
	return req, consensus
}

type verification struct {
	Outcome    string `json:"outcome"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// record appends a journal event. Journal failures are logged and do not
// affect the run.
func (c *Controller) record(ctx context.Context, log *slog.Logger, res *Result, typ domain.EventType, actor, content string) {
	if c.cfg.Journal == nil {
		return
	}
	ev := &domain.Event{RunID: res.RunID, Type: typ, Proposal: res.Proposals, Actor: actor, Content: content}
	if err := c.cfg.Journal.Append(ctx, ev); err != nil {
		log.Warn("Failed to journal event", "type", string(typ), "error", err)
	}
}
