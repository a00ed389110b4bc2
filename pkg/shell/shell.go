// Package shell runs the external tools burrow drives (btrfs, qemu-img,
// tgt-admin) and turns non-zero exits into coded errors.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Runner executes a command and returns its stdout
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the host
type ExecRunner struct{}

// NewExecRunner creates a host command runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args. A non-zero exit, a missing binary or a
// cancelled context all surface as ErrExternalToolFailure with stderr attached.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	logger := log.WithComponent("shell")

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug().Str("cmd", name).Strs("args", args).Msg("running command")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		msg := fmt.Sprintf("command [%s] failed", CommandLine(name, args...))
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = fmt.Sprintf("%s, stderr: %s", msg, s)
		}
		logger.Debug().Err(err).Str("cmd", name).Str("stderr", stderr.String()).Msg("command failed")
		return stdout.String(), types.Wrap(types.ErrExternalToolFailure, err, "%s", msg)
	}

	return stdout.String(), nil
}

// CommandLine renders a command for messages and logs
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Quote single-quotes s for a POSIX shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
