package claude_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/fabled/pkg/provider/generation/claude"
)

// stubCLI writes an executable shell script into a temp dir and returns its
// path. The script stands in for the real claude binary.
func stubCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestGenerate_JSONResult(t *testing.T) {
	stub := stubCLI(t, `echo '{"type":"result","result":"Honesty is the best policy."}'`)
	p := claude.New(claude.WithCommand(stub))

	got, err := p.Generate(context.Background(), "what do fables teach about honesty?", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Honesty is the best policy." {
		t.Errorf("Generate: got %q", got)
	}
}

// TestGenerate_PlainOutput verifies that non-JSON stdout is returned verbatim
// (trimmed), matching the CLI's plain-text mode.
func TestGenerate_PlainOutput(t *testing.T) {
	stub := stubCLI(t, `echo 'a plain answer'`)
	p := claude.New(claude.WithCommand(stub))

	got, err := p.Generate(context.Background(), "prompt", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "a plain answer" {
		t.Errorf("Generate: got %q", got)
	}
}

func TestGenerate_NonZeroExit(t *testing.T) {
	stub := stubCLI(t, `echo 'boom' >&2; exit 1`)
	p := claude.New(claude.WithCommand(stub))

	_, err := p.Generate(context.Background(), "prompt", "")
	if err == nil {
		t.Fatal("expected error for non-zero exit, got nil")
	}
}

// TestGenerate_Timeout verifies that an expired context kills the subprocess
// and surfaces context.DeadlineExceeded rather than a generic failure.
func TestGenerate_Timeout(t *testing.T) {
	stub := stubCLI(t, `sleep 10`)
	p := claude.New(claude.WithCommand(stub))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Generate(ctx, "prompt", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("subprocess was not killed promptly, took %v", elapsed)
	}
}

func TestAvailable(t *testing.T) {
	stub := stubCLI(t, `exit 0`)
	if !claude.New(claude.WithCommand(stub)).Available(context.Background()) {
		t.Error("Available: got false for existing executable")
	}
	if claude.New(claude.WithCommand("/nonexistent/claude")).Available(context.Background()) {
		t.Error("Available: got true for missing executable")
	}
}

func TestName(t *testing.T) {
	if got := claude.New().Name(); got != "claude" {
		t.Errorf("Name: got %q, want %q", got, "claude")
	}
}
