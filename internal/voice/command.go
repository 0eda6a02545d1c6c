package voice

import (
	"strings"
)

// Command is an external program that writes a WAV stream of the default
// microphone to stdout until interrupted.
type Command struct {
	Path string
	Args []string
}

// SelectCommand picks a capture program. A non-empty override is split on
// whitespace and used as-is after resolving its executable.
func SelectCommand(goos, override string, lookPath func(string) (string, error)) (Command, error) {
	if fields := strings.Fields(override); len(fields) > 0 {
		path, err := lookPath(fields[0])
		if err != nil {
			return Command{}, ErrMicrophoneUnavailable
		}
		return Command{Path: path, Args: fields[1:]}, nil
	}

	var candidates []Command
	switch goos {
	case "linux":
		candidates = []Command{
			{Path: "arecord", Args: []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "-"}},
			{Path: "rec", Args: []string{"-q", "-c", "1", "-r", "16000", "-b", "16", "-t", "wav", "-"}},
			{Path: "ffmpeg", Args: []string{"-loglevel", "quiet", "-f", "pulse", "-i", "default", "-ac", "1", "-ar", "16000", "-f", "wav", "-"}},
		}
	case "darwin":
		candidates = []Command{
			{Path: "rec", Args: []string{"-q", "-c", "1", "-r", "16000", "-b", "16", "-t", "wav", "-"}},
			{Path: "ffmpeg", Args: []string{"-loglevel", "quiet", "-f", "avfoundation", "-i", ":0", "-ac", "1", "-ar", "16000", "-f", "wav", "-"}},
		}
	default:
		return Command{}, ErrMicrophoneUnavailable
	}

	for _, c := range candidates {
		if path, err := lookPath(c.Path); err == nil {
			return Command{Path: path, Args: c.Args}, nil
		}
	}
	return Command{}, ErrMicrophoneUnavailable
}
