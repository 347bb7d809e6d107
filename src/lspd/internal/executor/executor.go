// Package executor wraps the execution of "os/exec".Cmd's to allow adding
// logs to each exec and to make callers easier to test.
package executor

import (
	"bytes"
	"os/exec"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a module to inject using fx.
var Module = fx.Options(
	fx.Provide(func(logger *zap.SugaredLogger) Executor {
		return NewExecutor(WithLogger(logger))
	}),
)

// Executor wraps process execution. Start/Wait manage long-running child
// processes such as language servers; Run covers one-shot commands.
type Executor interface {
	// Start logs and starts the Cmd without waiting for completion.
	Start(cmd *exec.Cmd) error
	// Wait waits for a previously started Cmd to exit.
	Wait(cmd *exec.Cmd) error
	// Run logs and executes the Cmd, returning captured output.
	Run(cmd *exec.Cmd) (stdout string, stderr string, exitCode int, err error)
}

type executorImpl struct {
	logger *zap.SugaredLogger

	// startFunc/waitFunc may be overridden in tests.
	startFunc func(cmd *exec.Cmd) error
	waitFunc  func(cmd *exec.Cmd) error
	runFunc   func(cmd *exec.Cmd) error
}

// Option customizes executor behavior.
type Option func(*executorImpl)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *executorImpl) {
		e.logger = logger
	}
}

// WithStartFunc provides customized start behavior, for tests.
func WithStartFunc(f func(cmd *exec.Cmd) error) Option {
	return func(e *executorImpl) {
		e.startFunc = f
	}
}

// WithWaitFunc provides customized wait behavior, for tests.
func WithWaitFunc(f func(cmd *exec.Cmd) error) Option {
	return func(e *executorImpl) {
		e.waitFunc = f
	}
}

// WithRunFunc provides customized run behavior, for tests.
func WithRunFunc(f func(cmd *exec.Cmd) error) Option {
	return func(e *executorImpl) {
		e.runFunc = f
	}
}

// NewExecutor creates a new Executor with default exec behavior.
func NewExecutor(opts ...Option) Executor {
	e := &executorImpl{
		logger:    zap.NewNop().Sugar(),
		startFunc: func(cmd *exec.Cmd) error { return cmd.Start() },
		waitFunc:  func(cmd *exec.Cmd) error { return cmd.Wait() },
		runFunc:   func(cmd *exec.Cmd) error { return cmd.Run() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start logs the Path/Dir/Args and starts the command.
func (e *executorImpl) Start(cmd *exec.Cmd) error {
	e.logCommand(cmd)
	return e.startFunc(cmd)
}

// Wait waits for the command to exit.
func (e *executorImpl) Wait(cmd *exec.Cmd) error {
	return e.waitFunc(cmd)
}

// Run logs the Path/Dir/Args and executes the command, capturing output.
func (e *executorImpl) Run(cmd *exec.Cmd) (stdout string, stderr string, exitCode int, err error) {
	e.logCommand(cmd)

	var stdoutB, stderrB bytes.Buffer
	cmd.Stdout = &stdoutB
	cmd.Stderr = &stderrB
	err = e.runFunc(cmd)

	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	return stdoutB.String(), stderrB.String(), code, err
}

func (e *executorImpl) logCommand(cmd *exec.Cmd) {
	args := cmd.Args
	if len(args) > 0 {
		// First arg is always the command itself.
		args = args[1:]
	}
	e.logger.Infow("Exec",
		"Path", cmd.Path,
		"Dir", cmd.Dir,
		"Args", args,
	)
}
