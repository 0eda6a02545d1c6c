package voice

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCapture struct {
	openErr error
	data    []byte
	stopErr error
	opened  int
	aborted int
}

func (f *fakeCapture) Open(context.Context) (Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return &fakeStream{c: f}, nil
}

type fakeStream struct{ c *fakeCapture }

func (s *fakeStream) Stop() ([]byte, error) { return s.c.data, s.c.stopErr }

func (s *fakeStream) Abort() error {
	s.c.aborted++
	return nil
}

func TestRecorderStopMovesThroughSending(t *testing.T) {
	capture := &fakeCapture{data: []byte("RIFF....")}
	r := NewRecorder(capture, t.TempDir(), nil)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, Recording, r.State())

	clip, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, Sending, r.State())
	assert.Equal(t, []byte("RIFF...."), clip.Data)
	assert.True(t, strings.HasPrefix(clip.URI(), "file://"))

	onDisk, err := os.ReadFile(clip.Path)
	require.NoError(t, err)
	assert.Equal(t, clip.Data, onDisk)

	assert.ErrorIs(t, r.Start(context.Background()), ErrBusy)
	r.Finish()
	assert.Equal(t, Idle, r.State())
}

func TestRecorderRejectsDoubleStart(t *testing.T) {
	r := NewRecorder(&fakeCapture{}, t.TempDir(), nil)
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrBusy)
}

func TestRecorderCancelDiscards(t *testing.T) {
	capture := &fakeCapture{data: []byte("x")}
	r := NewRecorder(capture, t.TempDir(), nil)
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Cancel())
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, 1, capture.aborted)

	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.ErrorIs(t, r.Cancel(), ErrNotRecording)
}

func TestRecorderMicrophoneDenied(t *testing.T) {
	r := NewRecorder(&fakeCapture{openErr: errors.New("permission denied")}, t.TempDir(), nil)

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
	assert.Equal(t, Idle, r.State())
}

func TestRecorderStopFailureReturnsToIdle(t *testing.T) {
	r := NewRecorder(&fakeCapture{stopErr: errors.New("device gone")}, t.TempDir(), nil)
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Stop()
	require.Error(t, err)
	assert.Equal(t, Idle, r.State())
}

func TestSelectCommand(t *testing.T) {
	only := func(names ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, n := range names {
				if n == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", errors.New("not found")
		}
	}

	cases := []struct {
		name     string
		goos     string
		override string
		lookPath func(string) (string, error)
		wantPath string
		wantErr  bool
	}{
		{name: "linux prefers arecord", goos: "linux", lookPath: only("arecord", "rec"), wantPath: "/usr/bin/arecord"},
		{name: "linux falls back to sox", goos: "linux", lookPath: only("rec"), wantPath: "/usr/bin/rec"},
		{name: "darwin ffmpeg", goos: "darwin", lookPath: only("ffmpeg"), wantPath: "/usr/bin/ffmpeg"},
		{name: "override", goos: "linux", override: "parec --format=s16le", lookPath: only("parec"), wantPath: "/usr/bin/parec"},
		{name: "nothing installed", goos: "linux", lookPath: only(), wantErr: true},
		{name: "unsupported os", goos: "plan9", lookPath: only("arecord"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := SelectCommand(tc.goos, tc.override, tc.lookPath)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantPath, cmd.Path)
		})
	}
}

func TestExecCaptureCollectsStdout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	c := ExecCapture{Command: Command{Path: sh, Args: []string{"-c", "printf RIFF; exec sleep 5"}}}

	stream, err := c.Open(context.Background())
	require.NoError(t, err)
	data, err := stream.Stop()
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))
}

func TestExecCaptureEarlyExitIsUnavailable(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	c := ExecCapture{Command: Command{Path: sh, Args: []string{"-c", "echo 'no device' >&2; exit 1"}}}

	_, err = c.Open(context.Background())
	require.ErrorIs(t, err, ErrMicrophoneUnavailable)
	assert.Contains(t, err.Error(), "no device")
}

func TestRecorderStopFailsWhenClipCannotBeSaved(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(&fakeCapture{data: []byte("RIFF")}, dir+"/missing", nil)
	require.NoError(t, r.Start(context.Background()))

	clip, err := r.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create clip file")
	assert.Empty(t, clip.URI())
	assert.Equal(t, Idle, r.State())
}

func TestRecorderRemoveClips(t *testing.T) {
	r := NewRecorder(&fakeCapture{data: []byte("RIFF")}, t.TempDir(), nil)

	var paths []string
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Start(context.Background()))
		clip, err := r.Stop()
		require.NoError(t, err)
		r.Finish()
		paths = append(paths, clip.Path)
	}

	require.NoError(t, r.RemoveClips())
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "clip %s should be removed", p)
	}
	require.NoError(t, r.RemoveClips())
}
