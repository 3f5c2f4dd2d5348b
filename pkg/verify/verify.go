// Package verify compiles a candidate program with its embedded tests and
// runs them, classifying the result into fixable outcomes and fatal errors.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/observability"
	"github.com/GaryBoone/ai-critics/pkg/sandbox"
)

const (
	DefaultCompiler = "rustc"
	SourceFile      = "code.rs"
	TestBinary      = "test"

	// testFailureExit is the exit status of a test harness whose assertions failed.
	testFailureExit = 101
)

// ErrProcessTerminated is returned when the compiler or test binary was killed by a signal.
var ErrProcessTerminated = errors.New("the process was terminated by a signal")

// TestingFailedError is returned when the test binary exits with a status
// other than success or assertion failure.
type TestingFailedError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *TestingFailedError) Error() string {
	return fmt.Sprintf("testing failed with exit code %d", e.Code)
}

// OutcomeKind classifies a verification.
type OutcomeKind int

const (
	Passed OutcomeKind = iota
	CompileFailed
	TestFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Passed:
		return "passed"
	case CompileFailed:
		return "compile_failed"
	case TestFailed:
		return "test_failed"
	default:
		return "unknown"
	}
}

// Outcome is a non-fatal verification result.
type Outcome struct {
	Kind OutcomeKind
	// Diagnostic is the cleaned compiler stderr or test stdout.
	Diagnostic string
}

// Request converts a failed outcome to the review request for the repairer.
// It reports false for Passed.
func (o Outcome) Request() (domain.ReviewRequest, bool) {
	switch o.Kind {
	case CompileFailed:
		return domain.ReviewRequest{Kind: domain.RequestCompilerFix, Comments: []string{o.Diagnostic}}, true
	case TestFailed:
		return domain.ReviewRequest{Kind: domain.RequestTestFix, Comments: []string{o.Diagnostic}}, true
	default:
		return domain.ReviewRequest{}, false
	}
}

// Options configures a Runner.
type Options struct {
	Compiler           string
	MaxDiagnosticBytes int
	Logger             *slog.Logger
}

// Runner verifies candidates through a sandbox.Executor.
type Runner struct {
	exec sandbox.Executor
	opts Options
}

// New creates a Runner. Zero option fields take the package defaults.
func New(exec sandbox.Executor, opts Options) *Runner {
	if opts.Compiler == "" {
		opts.Compiler = DefaultCompiler
	}
	if opts.MaxDiagnosticBytes == 0 {
		opts.MaxDiagnosticBytes = DefaultMaxDiagnosticBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{exec: exec, opts: opts}
}

// Verify writes source to a fresh directory, compiles it in test mode and runs
// the resulting binary. The directory is removed before Verify returns.
func (r *Runner) Verify(ctx context.Context, source string) (Outcome, error) {
	ctx, span := observability.Tracer().Start(ctx, "verify")
	defer span.End()

	out, err := r.verify(ctx, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordVerification("error")
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("verify.outcome", out.Kind.String()))
	observability.RecordVerification(out.Kind.String())
	return out, nil
}

func (r *Runner) verify(ctx context.Context, source string) (Outcome, error) {
	dir, err := os.MkdirTemp("", "critics-verify-*")
	if err != nil {
		return Outcome{}, fmt.Errorf("creating work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.opts.Logger.Warn("Failed to remove work dir", "dir", dir, "error", err)
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, SourceFile), []byte(source), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("writing source: %w", err)
	}

	compiled, err := r.exec.Run(ctx, dir, []string{r.opts.Compiler, "--test", "-o", TestBinary, SourceFile})
	if err != nil {
		return Outcome{}, fmt.Errorf("compiling: %w", err)
	}
	if compiled.Signaled {
		return Outcome{}, fmt.Errorf("compiling: %w", ErrProcessTerminated)
	}
	if compiled.ExitCode != 0 {
		r.opts.Logger.Debug("Compilation failed", "exit_code", compiled.ExitCode)
		return Outcome{Kind: CompileFailed, Diagnostic: Clean(compiled.Stderr, r.opts.MaxDiagnosticBytes)}, nil
	}

	tested, err := r.exec.Run(ctx, dir, []string{"./" + TestBinary})
	if err != nil {
		return Outcome{}, fmt.Errorf("testing: %w", err)
	}
	switch {
	case tested.Signaled:
		return Outcome{}, fmt.Errorf("testing: %w", ErrProcessTerminated)
	case tested.ExitCode == 0:
		return Outcome{Kind: Passed}, nil
	case tested.ExitCode == testFailureExit:
		r.opts.Logger.Debug("Tests failed", "exit_code", tested.ExitCode)
		return Outcome{Kind: TestFailed, Diagnostic: Clean(tested.Stdout, r.opts.MaxDiagnosticBytes)}, nil
	default:
		return Outcome{}, &TestingFailedError{Code: tested.ExitCode, Stdout: tested.Stdout, Stderr: tested.Stderr}
	}
}
