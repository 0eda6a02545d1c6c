// Package playback speaks assistant replies through a local audio player.
package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

var ErrPlayerNotFound = errors.New("audio player not found")

// Synthesizer is the part of *api.Client used for speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Command struct {
	Path string
	Args []string
}

func SelectCommand(goos, override string, lookPath func(string) (string, error)) (Command, error) {
	if fields := strings.Fields(override); len(fields) > 0 {
		path, err := lookPath(fields[0])
		if err != nil {
			return Command{}, ErrPlayerNotFound
		}
		return Command{Path: path, Args: fields[1:]}, nil
	}

	var candidates []Command
	switch goos {
	case "darwin":
		candidates = []Command{{Path: "afplay"}}
	case "linux":
		candidates = []Command{
			{Path: "paplay"},
			{Path: "aplay", Args: []string{"-q"}},
			{Path: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
			{Path: "play", Args: []string{"-q"}},
		}
	default:
		return Command{}, ErrPlayerNotFound
	}
	for _, c := range candidates {
		if path, err := lookPath(c.Path); err == nil {
			return Command{Path: path, Args: c.Args}, nil
		}
	}
	return Command{}, ErrPlayerNotFound
}

// Player synthesizes text and plays the result. Failures are logged and
// never returned.
type Player struct {
	synth Synthesizer
	cmd   Command
	log   *zap.Logger
	run   func(ctx context.Context, cmd Command, file string) error
}

// New resolves a player program for this platform. Without one, New still
// returns a Player whose every call logs ErrPlayerNotFound.
func New(synth Synthesizer, override string, log *zap.Logger) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	cmd, err := SelectCommand(runtime.GOOS, override, exec.LookPath)
	if err != nil {
		log.Info("speech playback disabled", zap.Error(err))
	}
	return &Player{synth: synth, cmd: cmd, log: log, run: runCommand}
}

func (p *Player) PlayTTS(ctx context.Context, text string) {
	if err := p.play(ctx, text); err != nil {
		p.log.Warn("tts playback failed", zap.Int("chars", len(text)), zap.Error(err))
	}
}

func (p *Player) play(ctx context.Context, text string) error {
	if p.cmd.Path == "" {
		return ErrPlayerNotFound
	}
	ref, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	audio, err := Decode(ctx, ref, p.synth.Fetch)
	if err != nil {
		return err
	}

	ext, err := audioExtension(audio)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "depotchat-tts-*."+ext)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audio file: %w", err)
	}
	return p.run(ctx, p.cmd, f.Name())
}

// audioExtension sniffs the payload. Unrecognised bytes are assumed to be
// WAV, which is what the speech endpoint produces.
func audioExtension(data []byte) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "wav", nil
	}
	if kind.MIME.Type != "audio" {
		return "", fmt.Errorf("speech endpoint returned %s, not audio", kind.MIME.Value)
	}
	return kind.Extension, nil
}

// Decode turns the opaque audio reference from the speech endpoint into
// bytes. It accepts data URLs, http(s) URLs and bare base64.
func Decode(ctx context.Context, ref string, fetch func(context.Context, string) ([]byte, error)) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, errors.New("empty audio reference")
	case strings.HasPrefix(ref, "data:"):
		meta, payload, ok := strings.Cut(ref, ",")
		if !ok {
			return nil, errors.New("malformed data url")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return []byte(payload), nil
		}
		return decodeBase64(payload)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, err := fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch audio: %w", err)
		}
		return data, nil
	default:
		return decodeBase64(ref)
	}
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return data, nil
}

func runCommand(ctx context.Context, cmd Command, file string) error {
	args := append(append([]string{}, cmd.Args...), file)
	out, err := exec.CommandContext(ctx, cmd.Path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("audio player failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
