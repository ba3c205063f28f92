// Package proc runs one external command at a time and supervises it in one
// of two modes. Stream mode consumes stdout line by line as it arrives;
// poll mode ignores stdout and wakes on a fixed interval until the process
// exits. Both converge to the same observable contract: an exit code,
// captured stderr, and a sequence of progress signals.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// Result is the uniform outcome of one external process run.
type Result struct {
	ExitCode int
	Stderr   string
}

// Signal is one progress observation from a running process. Line is set
// only in stream mode; Elapsed is always the wall-clock time since launch.
type Signal struct {
	Line    string
	Elapsed time.Duration
}

type ProgressFunc func(Signal)

// Runner executes a command to completion. A non-zero exit code is not an
// error: it comes back in Result and the caller decides what it means. The
// returned error covers the unified failure channel for everything else --
// launch failures and context cancellation or timeout.
type Runner interface {
	Run(ctx context.Context, name string, args []string, onProgress ProgressFunc) (Result, error)
}

const (
	ModeStream = "stream"
	ModePoll   = "poll"
)

// New selects a runner implementation by mode name. The mode is a property
// of the execution environment, decided once at startup, not per call.
func New(mode string, interval time.Duration) Runner {
	if mode == ModePoll {
		return &PollRunner{Interval: interval}
	}
	return &StreamRunner{}
}

// StreamRunner reads the process's stdout line by line and invokes the
// progress callback per line. It blocks until the stream closes, then waits
// for exit. Use where the tool delivers unbuffered, interleaved lines.
type StreamRunner struct{}

func (r *StreamRunner) Run(ctx context.Context, name string, args []string, onProgress ProgressFunc) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, err
	}

	start := time.Now()
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onProgress != nil {
			onProgress(Signal{Line: scanner.Text(), Elapsed: time.Since(start)})
		}
	}
	// A scanner error here means the pipe broke; Wait reports the cause.

	waitErr := cmd.Wait()
	return finish(ctx, waitErr, &stderrBuf)
}

// PollRunner launches the process without consuming stdout and checks for
// exit on a fixed interval, invoking the progress callback with elapsed
// wall-clock time on every tick.
type PollRunner struct {
	Interval time.Duration
}

func (r *PollRunner) Run(ctx context.Context, name string, args []string, onProgress ProgressFunc) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case waitErr := <-done:
			return finish(ctx, waitErr, &stderrBuf)
		case <-ticker.C:
			if onProgress != nil {
				onProgress(Signal{Elapsed: time.Since(start)})
			}
		}
	}
}

// finish folds a Wait error into the uniform Result. Context expiry wins
// over the exit code: a process killed by its deadline reports the timeout,
// not the meaningless signal exit.
func finish(ctx context.Context, waitErr error, stderrBuf *bytes.Buffer) (Result, error) {
	res := Result{ExitCode: 0, Stderr: stderrBuf.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, waitErr
	}
	return res, nil
}
