package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/shell"
)

// ExecChecker checks that a command on the host exits successfully
type ExecChecker struct {
	// Command is the command to execute (e.g., ["qemu-img", "--version"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	runner shell.Runner
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(runner shell.Runner, command ...string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
		runner:  runner,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	out, err := e.runner.Run(execCtx, e.Command[0], e.Command[1:]...)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// First line of output is enough to identify the tool version
	message := fmt.Sprintf("%s ok", e.Command[0])
	if line, _, _ := strings.Cut(strings.TrimSpace(out), "\n"); line != "" {
		if len(line) > 100 {
			line = line[:100] + "..."
		}
		message = fmt.Sprintf("%s: %s", e.Command[0], line)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}
