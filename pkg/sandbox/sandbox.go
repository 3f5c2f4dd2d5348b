package sandbox

import "context"

// Result represents the output of one process run inside a sandbox.
type Result struct {
	// Stdout is the standard output.
	Stdout string `json:"stdout,omitempty"`
	// Stderr is the standard error.
	Stderr string `json:"stderr,omitempty"`
	// ExitCode is the process exit status. It is meaningless when Signaled is set.
	ExitCode int `json:"exit_code"`
	// Signaled reports that the process was killed by a signal.
	Signaled bool `json:"signaled,omitempty"`
}

// Executor runs commands against a host directory.
type Executor interface {
	// Run executes argv with dir as the working directory. A non-zero exit is
	// reported in the Result, not as an error; errors mean the command could
	// not be run at all.
	Run(ctx context.Context, dir string, argv []string) (*Result, error)

	// Close releases any resources held by the executor (e.g. docker client).
	Close() error
}
