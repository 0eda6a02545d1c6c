package ui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"depot-chat/internal/chat"
)

// maxRenderChars bounds what is handed to glamour; longer transcripts are
// shown as raw markdown.
const maxRenderChars = 500_000

type renderMsg struct {
	rendered string
	nonce    int
}

func conversationMarkdown(msgs []chat.Message, loc *time.Location) string {
	if len(msgs) == 0 {
		return "_Say hello to start the conversation._\n"
	}
	var b strings.Builder
	for _, m := range msgs {
		when := displayTime(m, loc)
		switch m.Sender {
		case chat.SenderUser:
			b.WriteString("### You")
			if m.AudioRef != "" {
				b.WriteString(" 🎙")
			}
			b.WriteString(when + "\n\n")
			switch {
			case strings.TrimSpace(m.Content) != "":
				b.WriteString(m.Content + "\n\n")
			case m.AudioRef != "":
				b.WriteString("_voice note · " + m.AudioRef + "_\n\n")
			}
		case chat.SenderAssistant:
			b.WriteString("### Assistant")
			if m.IsAudioResponse {
				b.WriteString(" 🔊")
			}
			b.WriteString(when + "\n\n")
			b.WriteString(m.Content + "\n\n")
		default:
			b.WriteString("> " + m.Content + "\n\n")
		}
	}
	return b.String()
}

func displayTime(m chat.Message, loc *time.Location) string {
	t := m.Time()
	if t.IsZero() {
		if m.Timestamp == "" {
			return ""
		}
		return " · " + m.Timestamp
	}
	return " · " + t.In(loc).Format("Jan 2 15:04")
}

func renderCmd(md, style string, wrap, nonce int) tea.Cmd {
	return func() tea.Msg {
		if len(md) > maxRenderChars {
			return renderMsg{rendered: md, nonce: nonce}
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return renderMsg{rendered: md, nonce: nonce}
		}
		out, err := r.Render(md)
		if err != nil {
			return renderMsg{rendered: md, nonce: nonce}
		}
		return renderMsg{rendered: out, nonce: nonce}
	}
}
