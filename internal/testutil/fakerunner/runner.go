// Package fakerunner provides a fake implementation of execx.Runner for testing.
package fakerunner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/trly/msirepo/internal/execx"
)

// Runner is a fake implementation of execx.Runner for testing. It is safe for
// concurrent use.
type Runner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errors  map[string]error
	calls   []Call
}

// Call represents a captured command execution call.
type Call struct {
	Name string
	Args []string
}

// New creates a new fake runner.
func New() *Runner {
	return &Runner{
		outputs: make(map[string][]byte),
		errors:  make(map[string]error),
		calls:   []Call{},
	}
}

// SetOutput sets the stdout for a specific command.
func (r *Runner) SetOutput(name string, args []string, output []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[r.makeKey(name, args)] = output
}

// SetError sets the error for a specific command.
func (r *Runner) SetError(name string, args []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[r.makeKey(name, args)] = err
}

// SetExitCode makes a command exit non-zero with the given stderr.
func (r *Runner) SetExitCode(name string, args []string, code int, stderr string) {
	r.SetError(name, args, &execx.ExitError{Command: name, Code: code, Stderr: []byte(stderr)})
}

// Output implements execx.Runner.
func (r *Runner) Output(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Name: name, Args: args})

	key := r.makeKey(name, args)

	if err, exists := r.errors[key]; exists {
		var stderr []byte
		if ee, ok := err.(*execx.ExitError); ok {
			stderr = ee.Stderr
		}
		return nil, stderr, err
	}

	if output, exists := r.outputs[key]; exists {
		return output, nil, nil
	}

	// Default behavior - return empty output and no error
	return []byte{}, nil, nil
}

// GetCalls returns all captured command calls.
func (r *Runner) GetCalls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Reset clears all stored outputs, errors, and calls.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = make(map[string][]byte)
	r.errors = make(map[string]error)
	r.calls = []Call{}
}

func (r *Runner) makeKey(name string, args []string) string {
	return fmt.Sprintf("%s %s", name, strings.Join(args, " "))
}
