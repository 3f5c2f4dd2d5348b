package docker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GaryBoone/ai-critics/pkg/sandbox/docker"
)

func TestIntegration_DockerManager_Run(t *testing.T) {
	// Check if DOCKER_HOST is set. If not, we skip.
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	mgr, err := docker.New(docker.Options{Pull: true})
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dir := t.TempDir()
	code := "#[test]\nfn it_works() { assert_eq!(2 + 2, 4); }\n"
	if err := os.WriteFile(filepath.Join(dir, "code.rs"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := mgr.Run(ctx, dir, []string{"rustc", "--test", "-o", "test", "code.rs"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("compile exit = %d, stderr: %s", res.ExitCode, res.Stderr)
	}

	res, err = mgr.Run(ctx, dir, []string{"./test"})
	if err != nil {
		t.Fatalf("test run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("test exit = %d, stdout: %s", res.ExitCode, res.Stdout)
	}
	t.Logf("Result: %+v", res)
}
