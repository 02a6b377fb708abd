package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Process is a handle on a running ffmpeg invocation. The caller must call
// Wait or Kill to release it.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	done   chan struct{}
	err    error
	stderr strings.Builder
}

// PID returns the operating system process ID.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the encode finishes and returns its error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Kill terminates the encode immediately. Wait still returns afterwards.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Stderr returns everything ffmpeg wrote to stderr, complete after Wait.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Start launches ffmpeg with the given arguments. When progress is non-nil
// the snapshots parsed from stdout are delivered to it and the channel is
// closed when the encode ends.
func Start(ctx context.Context, args []string, progress chan<- Progress) (*Process, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stderr = &p.stderr

	var stdout io.Reader
	if progress != nil {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
		}
		stdout = pipe
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}
	p.pid = cmd.Process.Pid

	go func() {
		defer close(p.done)

		if progress != nil {
			ParseProgressOutput(stdout, progress)
		}

		if err := cmd.Wait(); err != nil {
			p.err = &Error{Args: args, Stderr: p.stderr.String(), Err: err}
		}

		if progress != nil {
			close(progress)
		}
	}()

	return p, nil
}

// run executes ffmpeg and blocks until it finishes.
func run(ctx context.Context, args []string, progress chan<- Progress) error {
	proc, err := Start(ctx, args, progress)
	if err != nil {
		return err
	}
	return proc.Wait()
}

// Error carries the invocation and its stderr alongside the exec error.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	// Only the last few stderr lines carry the actual failure
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	tail := strings.Join(lines, "\n")

	if tail != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, tail)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
