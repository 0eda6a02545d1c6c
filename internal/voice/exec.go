package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// startupGrace is how long Open waits to see whether the capture program
// dies immediately, which is how a denied or missing device shows up.
const startupGrace = 150 * time.Millisecond

const stopTimeout = 3 * time.Second

// ExecCapture records by running an external program.
type ExecCapture struct {
	Command Command
}

// DetectCapture resolves a capture program for the current platform.
func DetectCapture(override string) (ExecCapture, error) {
	cmd, err := SelectCommand(runtime.GOOS, override, exec.LookPath)
	if err != nil {
		return ExecCapture{}, err
	}
	return ExecCapture{Command: cmd}, nil
}

func (c ExecCapture) Open(ctx context.Context) (Stream, error) {
	if c.Command.Path == "" {
		return nil, ErrMicrophoneUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &execStream{cmd: exec.Command(c.Command.Path, c.Command.Args...), done: make(chan error, 1)}
	s.cmd.Stdout = &s.stdout
	s.cmd.Stderr = &s.stderr
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	go func() { s.done <- s.cmd.Wait() }()

	select {
	case err := <-s.done:
		return nil, fmt.Errorf("%w: capture exited early: %s", ErrMicrophoneUnavailable, describeExit(err, s.stderr.String()))
	case <-time.After(startupGrace):
		return s, nil
	case <-ctx.Done():
		_ = s.Abort()
		return nil, ctx.Err()
	}
}

type execStream struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan error
}

func (s *execStream) Stop() ([]byte, error) {
	_ = s.cmd.Process.Signal(os.Interrupt)
	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		_ = s.cmd.Process.Kill()
		<-s.done
	}
	// Exit status after an interrupt is meaningless; only the bytes count.
	if s.stdout.Len() == 0 {
		return nil, fmt.Errorf("no audio captured: %s", describeExit(nil, s.stderr.String()))
	}
	return s.stdout.Bytes(), nil
}

func (s *execStream) Abort() error {
	err := s.cmd.Process.Kill()
	<-s.done
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func describeExit(err error, stderr string) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" && err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "no output"
	}
	return msg
}
