// Package clipboard copies reply text to the system clipboard.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"
)

var ErrToolNotFound = errors.New("clipboard tool not found")

type Command struct {
	Path string
	Args []string
}

func SelectCommand(goos string, lookPath func(string) (string, error)) (Command, error) {
	type candidate struct {
		name string
		args []string
	}
	var candidates []candidate
	switch goos {
	case "darwin":
		candidates = []candidate{{name: "pbcopy"}}
	case "linux":
		candidates = []candidate{
			{name: "wl-copy"},
			{name: "xclip", args: []string{"-selection", "clipboard"}},
			{name: "xsel", args: []string{"--clipboard", "--input"}},
		}
	case "windows":
		candidates = []candidate{{name: "clip"}}
	}
	for _, c := range candidates {
		if path, err := lookPath(c.name); err == nil {
			return Command{Path: path, Args: c.args}, nil
		}
	}
	return Command{}, ErrToolNotFound
}

// Copy writes text to the clipboard. Blank text is rejected so an empty
// reply never clobbers what the user had copied.
func Copy(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to copy")
	}
	cmdDef, err := SelectCommand(runtime.GOOS, exec.LookPath)
	if errors.Is(err, ErrToolNotFound) {
		return fallback(text)
	}
	if err != nil {
		return err
	}
	return run(ctx, cmdDef, text)
}

// fallback hands off to atotto/clipboard, which talks to the Windows API
// directly and knows a few more helpers (termux) than SelectCommand.
func fallback(text string) error {
	if clipboard.Unsupported {
		return ErrToolNotFound
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("%w: %v", ErrToolNotFound, err)
	}
	return nil
}

func run(ctx context.Context, cmdDef Command, text string) error {
	cmd := exec.CommandContext(ctx, cmdDef.Path, cmdDef.Args...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("clipboard command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
