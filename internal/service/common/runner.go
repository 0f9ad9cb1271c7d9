//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes host commands. The installer talks to the package system
// and the service supervisor exclusively through this interface so tests can
// substitute a fake.
type Runner interface {
	// Run executes a command and waits for it, returning an error that carries
	// the command output when the command fails.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes a command and returns its trimmed standard output.
	Output(ctx context.Context, name string, args ...string) (string, error)
	// LookPath reports where an executable resolves in PATH.
	LookPath(name string) (string, error)
}

// ExecRunner runs commands on the real host via os/exec.
type ExecRunner struct{}

// Run executes the command, folding combined output into the returned error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, trimmed)
		}

		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return nil
}

// Output executes the command and returns trimmed standard output.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return strings.TrimSpace(string(output)), nil
}

// LookPath resolves the executable in PATH.
func (ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("look up %s: %w", name, err)
	}

	return path, nil
}
