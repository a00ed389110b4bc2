// Package shelltest provides a recording shell.Runner for tests.
package shelltest

import (
	"context"
	"sync"

	"github.com/cuemby/burrow/pkg/shell"
	"github.com/cuemby/burrow/pkg/types"
)

// Call is one command recorded by FakeRunner
type Call struct {
	Name string
	Args []string
}

// Line returns the command line of the call
func (c Call) Line() string {
	return shell.CommandLine(c.Name, c.Args...)
}

// FakeRunner records commands instead of running them. Handler, when set,
// decides the output of each call; otherwise every call succeeds with no output.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []Call
	Handler func(name string, args []string) (string, error)
}

// NewFakeRunner creates a recording runner
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// Run records the call and delegates to Handler
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})
	handler := f.Handler
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", types.Wrap(types.ErrExternalToolFailure, err, "command [%s] cancelled", shell.CommandLine(name, args...))
	}
	if handler == nil {
		return "", nil
	}
	return handler(name, args)
}

// Calls returns a copy of the recorded calls
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns the recorded command lines in order
func (f *FakeRunner) Lines() []string {
	calls := f.Calls()
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, c.Line())
	}
	return lines
}

var _ shell.Runner = (*FakeRunner)(nil)
