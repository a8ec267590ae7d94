// Package sandbox defines the contract BoxLite's broker needs from an
// external sandbox provider — whatever actually launches an isolated
// process/VM/container with stdio streams. The broker needs exactly four
// operations: create, start, exec a program with argv+env capturing
// stdio, stop. Everything else a production sandbox might offer (REST
// transport, metrics, file copy, TTY, port-forwarding) is out of scope
// for the orchestration core.
package sandbox

import (
	"context"
	"io"
)

// Handle is an opaque reference to a created sandbox instance. Its
// concrete type is defined by the Sandbox implementation; callers must
// not inspect it.
type Handle any

// Resources describes the resource envelope requested for a sandbox
// instance. All fields are advisory; an implementation may ignore any it
// does not support.
type Resources struct {
	CPUShares int64
	MemoryMB  int64
}

// Execution is a running program inside a started sandbox: its stdio
// streams plus lifecycle controls.
type Execution struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	wait func() (exitCode int, err error)
	kill func() error
}

// NewExecution builds an Execution from its stdio streams and lifecycle
// callbacks. Sandbox implementations outside this package (including
// test doubles) use this to construct the value Exec must return.
func NewExecution(stdin io.WriteCloser, stdout io.ReadCloser, wait func() (int, error), kill func() error) *Execution {
	return &Execution{Stdin: stdin, Stdout: stdout, wait: wait, kill: kill}
}

// Wait blocks until the program exits and returns its exit code.
func (e *Execution) Wait() (int, error) { return e.wait() }

// Kill forcibly terminates the program.
func (e *Execution) Kill() error { return e.kill() }

// Sandbox is the capability the broker treats the sandbox provider as.
// Implementations are expected to be safe for concurrent use across
// distinct Handles; a single Handle's methods are called by at most one
// managed box at a time.
type Sandbox interface {
	// Create allocates (but does not start) a new sandbox instance named
	// name with the requested resource envelope.
	Create(ctx context.Context, name string, res Resources) (Handle, error)

	// Start boots the sandbox instance referenced by h so it is ready to
	// exec a program inside it.
	Start(ctx context.Context, h Handle) error

	// Exec runs argv with the given environment inside the started
	// sandbox h, returning its stdio streams and lifecycle controls.
	Exec(ctx context.Context, h Handle, argv []string, env []string) (*Execution, error)

	// Stop tears down the sandbox instance referenced by h, killing any
	// still-running execution.
	Stop(ctx context.Context, h Handle) error
}
