// Package local runs sandbox commands as child processes of the current process.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/GaryBoone/ai-critics/pkg/sandbox"
)

// Executor implements sandbox.Executor with os/exec.
type Executor struct{}

// Verify interface compliance.
var _ sandbox.Executor = (*Executor)(nil)

// New creates a local executor.
func New() *Executor { return &Executor{} }

// Run executes argv in dir. A leading "./" in argv[0] is resolved against dir.
func (e *Executor) Run(ctx context.Context, dir string, argv []string) (*sandbox.Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	name := argv[0]
	if strings.HasPrefix(name, "./") {
		name = filepath.Join(dir, name)
	}

	cmd := exec.CommandContext(ctx, name, argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	res := &sandbox.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			res.Signaled = true
			res.ExitCode = -1
			return res, nil
		}
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", argv[0], err)
	}
	return res, nil
}

// Close is a no-op.
func (e *Executor) Close() error { return nil }
