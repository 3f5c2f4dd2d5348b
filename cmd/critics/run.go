package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/GaryBoone/ai-critics/pkg/agent"
	"github.com/GaryBoone/ai-critics/pkg/chat"
	"github.com/GaryBoone/ai-critics/pkg/config"
	"github.com/GaryBoone/ai-critics/pkg/controller"
	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/model"
	"github.com/GaryBoone/ai-critics/pkg/model/gemini"
	"github.com/GaryBoone/ai-critics/pkg/model/openai"
	"github.com/GaryBoone/ai-critics/pkg/observability"
	"github.com/GaryBoone/ai-critics/pkg/progress"
	"github.com/GaryBoone/ai-critics/pkg/sandbox"
	"github.com/GaryBoone/ai-critics/pkg/sandbox/docker"
	"github.com/GaryBoone/ai-critics/pkg/sandbox/local"
	"github.com/GaryBoone/ai-critics/pkg/store"
	"github.com/GaryBoone/ai-critics/pkg/store/jsonl"
	"github.com/GaryBoone/ai-critics/pkg/store/sqlite"
	"github.com/GaryBoone/ai-critics/pkg/verify"
)

const progressInterval = 5 * time.Second

type runOptions struct {
	problemPath  string
	reviewers    int
	general      bool
	provider     string
	model        string
	maxProposals int
	verifier     string
	journal      string
	journalPath  string
	metricsAddr  string
	otlpEndpoint string
	render       bool
}

func (a *app) runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Solve the problem in a file and exit with the number of proposals it took",
		Long: `Run generates a program for the problem statement, has it reviewed by AI
critics, repairs it from their feedback and from compiler and test failures,
and stops once the critics agree and the program's tests pass.

Exit status: the number of proposals on success (capped at 254), 255 when the
proposal budget is exhausted, and 0 on any unrecoverable error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(&a.cfg, opts, cmd.Flags().Changed)
			return a.run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.problemPath, "problem", "", "path to the problem statement (required)")
	f.IntVar(&opts.reviewers, "reviewers", 1, "number of reviewers per kind")
	f.BoolVar(&opts.general, "general", false, "use general reviewers instead of design, correctness and syntax reviewers")
	f.StringVar(&opts.provider, "provider", config.ProviderOpenAI, "model provider: openai or gemini")
	f.StringVar(&opts.model, "model", "", "model name (defaults per provider)")
	f.IntVar(&opts.maxProposals, "max-proposals", controller.DefaultMaxProposals, "maximum number of proposals before giving up")
	f.StringVar(&opts.verifier, "verifier", config.VerifierLocal, "where to compile and test: local or docker")
	f.StringVar(&opts.journal, "journal", config.JournalJSONL, "run journal: jsonl, sqlite or none")
	f.StringVar(&opts.journalPath, "journal-path", "", "journal directory")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "export traces to this OTLP gRPC endpoint")
	f.BoolVar(&opts.render, "render", false, "render the final program as highlighted markdown")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}

// applyRunFlags overrides configuration with the flags the user actually set.
func applyRunFlags(cfg *config.Config, opts runOptions, changed func(string) bool) {
	if changed("reviewers") {
		cfg.Loop.Reviewers = opts.reviewers
	}
	if changed("general") {
		cfg.Loop.General = opts.general
	}
	if changed("provider") {
		cfg.Provider = opts.provider
	}
	if changed("model") {
		cfg.Model = opts.model
	}
	if changed("max-proposals") {
		cfg.Loop.MaxProposals = opts.maxProposals
	}
	if changed("verifier") {
		cfg.Verifier.Kind = opts.verifier
	}
	if changed("journal") {
		cfg.Journal.Kind = opts.journal
	}
	if changed("journal-path") {
		cfg.Journal.Path = opts.journalPath
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if changed("otlp-endpoint") {
		cfg.Tracing.Endpoint = opts.otlpEndpoint
	}
}

func (a *app) run(ctx context.Context, opts runOptions) error {
	cfg := a.cfg
	logger := a.logger
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := os.ReadFile(opts.problemPath)
	if err != nil {
		return fmt.Errorf("reading problem: %w", err)
	}
	problem := strings.TrimSpace(string(data))
	if problem == "" {
		return fmt.Errorf("problem file %s is empty", opts.problemPath)
	}

	if cfg.Tracing.Endpoint != "" {
		shutdown, err := observability.InitTracer(ctx, "critics", version, cfg.Tracing.Endpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to flush traces", "error", err)
			}
		}()
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := observability.ServeMetrics(bgCtx, cfg.Metrics.Addr); err != nil {
				logger.Warn("Metrics server stopped", "error", err)
			}
		}()
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	var limiter *rate.Limiter
	if cfg.Chat.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Chat.RequestsPerSecond), max(cfg.Chat.Burst, 1))
	}
	client := chat.New(provider, chat.Options{
		Model:          cfg.ResolvedModel(),
		ChunkTimeout:   cfg.Chat.ChunkTimeout,
		BlankThreshold: cfg.Chat.BlankThreshold,
		MaxRetries:     cfg.Chat.MaxRetries,
		Limiter:        limiter,
		Logger:         logger,
	})

	reviewers, err := buildReviewers(client, cfg.Loop, logger)
	if err != nil {
		return err
	}

	exec, err := newExecutor(cfg.Verifier)
	if err != nil {
		return err
	}
	defer exec.Close()
	verifier := verify.New(exec, verify.Options{
		Compiler:           cfg.Verifier.Compiler,
		MaxDiagnosticBytes: cfg.Verifier.MaxDiagnosticBytes,
		Logger:             logger,
	})

	journal, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	tracker := progress.NewTracker()
	go tracker.Report(bgCtx, progressInterval, logger)

	ctrl := controller.New(
		agent.NewGenerator(client, logger),
		reviewers,
		agent.NewRepairer(client, logger),
		verifier,
		controller.Config{
			MaxProposals: cfg.Loop.MaxProposals,
			Journal:      journal,
			Tracker:      tracker,
			Logger:       logger,
		},
	)

	logger.Info("Starting run",
		"provider", provider.Name(),
		"model", cfg.ResolvedModel(),
		"reviewers", len(reviewers),
		"max_proposals", cfg.Loop.MaxProposals,
		"verifier", cfg.Verifier.Kind,
	)
	res, runErr := ctrl.Run(ctx, problem)
	a.exitCode = ExitCode(res, runErr)

	if runErr != nil && !errors.Is(runErr, controller.ErrMaxProposalsExceeded) {
		logger.Error("Run failed", "class", errorClass(runErr), "error", runErr)
	}
	fmt.Fprintln(a.stdout, formatSummary(res, runErr))
	if res != nil && res.Candidate.Source != "" && runErr == nil {
		code, err := formatCode(res.Candidate.Source, opts.render)
		if err != nil {
			logger.Warn("Failed to render program", "error", err)
			code = res.Candidate.Source
		}
		fmt.Fprintln(a.stdout, code)
	}
	return nil
}

func newProvider(ctx context.Context, cfg config.Config) (model.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err := gemini.New(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini provider: %w", err)
		}
		return p, nil
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// buildReviewers creates n reviewers of each kind, numbered from 1 within a kind.
func buildReviewers(chatter agent.Chatter, loop config.LoopConfig, logger *slog.Logger) ([]controller.Reviewer, error) {
	kinds := domain.SpecializedKinds
	if loop.General {
		kinds = []domain.ReviewerKind{domain.ReviewerGeneral}
	}
	var out []controller.Reviewer
	for _, kind := range kinds {
		for i := 1; i <= loop.Reviewers; i++ {
			r, err := agent.NewReviewer(kind, i, chatter, logger)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func newExecutor(cfg config.VerifierConfig) (sandbox.Executor, error) {
	switch cfg.Kind {
	case config.VerifierDocker:
		m, err := docker.New(docker.Options{Image: cfg.Image, Pull: cfg.PullImage})
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.VerifierLocal:
		return local.New(), nil
	default:
		return nil, fmt.Errorf("unknown verifier %q", cfg.Kind)
	}
}

// openJournal opens the configured run journal. It returns a nil store when
// journaling is disabled.
func openJournal(cfg config.JournalConfig) (store.RunStore, error) {
	switch cfg.Kind {
	case config.JournalNone:
		return nil, nil
	case config.JournalJSONL:
		s, err := jsonl.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		return s, nil
	case config.JournalSQLite:
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		s, err := sqlite.New(filepath.Join(cfg.Path, "critics.db"))
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown journal %q", cfg.Kind)
	}
}
