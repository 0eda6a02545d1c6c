// Package voice records short voice notes from the microphone.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrBusy                  = errors.New("recorder busy")
	ErrNotRecording          = errors.New("not recording")
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
)

type State int

const (
	Idle State = iota
	Recording
	Sending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Sending:
		return "sending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Capture opens a microphone stream.
type Capture interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture. Exactly one of Stop or Abort is called.
type Stream interface {
	Stop() ([]byte, error)
	Abort() error
}

// Clip is a finished recording. Path points at a local copy of Data.
type Clip struct {
	Data      []byte
	Path      string
	StoppedAt time.Time
	Duration  time.Duration
}

// URI is the file:// reference shown for the clip.
func (c Clip) URI() string {
	if c.Path == "" {
		return ""
	}
	return "file://" + c.Path
}

// Recorder drives a capture through Idle → Recording → Sending → Idle.
// Cancel returns Recording straight to Idle.
type Recorder struct {
	capture Capture
	dir     string
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   State
	stream  Stream
	started time.Time
	clips   []string
}

// NewRecorder stores clips under dir, or the OS temp dir when dir is empty.
func NewRecorder(capture Capture, dir string, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{capture: capture, dir: dir, log: log, now: time.Now}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed is how long the current recording has been running.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return 0
	}
	return r.now().Sub(r.started)
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return ErrBusy
	}
	stream, err := r.capture.Open(ctx)
	if err != nil {
		r.log.Warn("open microphone", zap.Error(err))
		if errors.Is(err, ErrMicrophoneUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	r.stream = stream
	r.started = r.now()
	r.state = Recording
	return nil
}

// Cancel discards the recording. Nothing is kept on disk.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return ErrNotRecording
	}
	err := r.stream.Abort()
	r.stream = nil
	r.state = Idle
	if err != nil {
		r.log.Debug("abort capture", zap.Error(err))
	}
	return nil
}

// Stop ends the capture and moves to Sending. Call Finish once the clip has
// been handed off.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return Clip{}, ErrNotRecording
	}
	stopped := r.now()
	data, err := r.stream.Stop()
	r.stream = nil
	if err != nil {
		r.state = Idle
		return Clip{}, fmt.Errorf("stop capture: %w", err)
	}

	path, err := r.save(data)
	if err != nil {
		r.state = Idle
		return Clip{}, err
	}
	r.clips = append(r.clips, path)
	r.state = Sending
	return Clip{
		Data:      data,
		Path:      path,
		StoppedAt: stopped,
		Duration:  stopped.Sub(r.started),
	}, nil
}

func (r *Recorder) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Sending {
		r.state = Idle
	}
}

// RemoveClips deletes every clip file saved so far. The clips' file://
// references stop resolving afterwards.
func (r *Recorder) RemoveClips() error {
	r.mu.Lock()
	clips := r.clips
	r.clips = nil
	r.mu.Unlock()

	var errs []error
	for _, path := range clips {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) save(data []byte) (string, error) {
	f, err := os.CreateTemp(r.dir, "voice-*.wav")
	if err != nil {
		return "", fmt.Errorf("create clip file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close clip file: %w", err)
	}
	return f.Name(), nil
}
