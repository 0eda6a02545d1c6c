// Package export writes a conversation to a markdown file.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"depot-chat/internal/chat"
	"depot-chat/internal/session"
)

const defaultDirName = "depotchat-exports"

// Exporter writes transcripts under a fixed directory. A relative override
// is taken from the working directory at construction time.
type Exporter struct {
	dir string
}

func New(overrideDir string) (*Exporter, error) {
	dir := strings.TrimSpace(overrideDir)
	if dir == "" {
		dir = defaultDirName
	}
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working dir: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}
	return &Exporter{dir: dir}, nil
}

func (e *Exporter) Dir() string { return e.dir }

// Export writes the conversation and returns the file path. The file is
// renamed into place so a reader never sees a partial transcript.
func (e *Exporter) Export(state session.State, messages []chat.Message, now time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, fileName(state, now))

	tmp, err := os.CreateTemp(e.dir, ".export-*.md")
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	body := BuildSessionMarkdown(state, BuildTranscriptMarkdown(messages), len(messages), now.UTC())
	if _, err := io.WriteString(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move export file: %w", err)
	}
	return path, nil
}

// BuildTranscriptMarkdown renders one section per message. Empty replies are
// dropped; a voice note without a transcription keeps a placeholder.
func BuildTranscriptMarkdown(messages []chat.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		writeEntry(&sb, msg)
	}
	return strings.TrimSpace(sb.String()) + "\n"
}

func writeEntry(w io.Writer, msg chat.Message) {
	text := strings.TrimSpace(msg.Content)
	switch msg.Sender {
	case chat.SenderUser:
		title := "You"
		if msg.AudioRef != "" {
			title = "You (voice)"
			if text == "" {
				text = "_transcription unavailable_"
			}
		}
		if text != "" {
			fmt.Fprintf(w, "## %s%s\n\n%s\n\n", title, when(msg), text)
		}
	case chat.SenderAssistant:
		if text != "" {
			fmt.Fprintf(w, "## Assistant%s\n\n%s\n\n", when(msg), text)
		}
	default:
		if text != "" {
			fmt.Fprintf(w, "## Notice\n\n```text\n%s\n```\n\n", text)
		}
	}
}

func when(msg chat.Message) string {
	if msg.Timestamp == "" {
		return ""
	}
	return " · " + msg.Timestamp
}

func BuildSessionMarkdown(state session.State, transcript string, count int, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Conversation %s\n\n", orNA(state.UserCode))
	fmt.Fprintf(&sb, "Exported: %s\n\n", now.Format(time.RFC3339))
	fmt.Fprintf(&sb, "```text\nrole: %s\nusercode: %s\nmessage_count: %d\n```\n\n",
		state.Role.Label(), orNA(state.UserCode), count)
	sb.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		sb.WriteByte('\n')
	}
	return sb.String()
}

// fileName is <usercode or role>-<utc stamp>.md with path separators and
// spaces replaced.
func fileName(state session.State, now time.Time) string {
	who := strings.TrimSpace(state.UserCode)
	if who == "" {
		who = string(state.Role)
	}
	if who == "" {
		who = "conversation"
	}
	who = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, who)
	return who + "-" + now.UTC().Format("20060102-150405") + ".md"
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "n/a"
	}
	return s
}
