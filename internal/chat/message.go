// Package chat holds the conversation state shared by the terminal UI and
// the one-shot CLI commands.
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

type Message struct {
	ID      string
	Sender  Sender
	Content string
	// AudioRef is set on user messages that came from a voice note.
	AudioRef string
	// Timestamp is RFC 3339, verbatim from the backend for history rows.
	Timestamp       string
	IsAudioResponse bool
}

// Time parses Timestamp. The zero time is returned for unparseable values.
func (m Message) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

func liveID(now time.Time, kind string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixNano(), kind, strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Conversation is an ordered, append-only message sequence. The only
// in-place mutation is UpdateContent.
type Conversation struct {
	mu   sync.RWMutex
	msgs []Message
	ids  map[string]struct{}
}

func NewConversation() *Conversation {
	return &Conversation{ids: make(map[string]struct{})}
}

// Append adds m and returns the id it was stored under, which differs from
// m.ID only when that id was already taken.
func (c *Conversation) Append(m Message) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.ID = c.uniqueLocked(m.ID)
	c.ids[m.ID] = struct{}{}
	c.msgs = append(c.msgs, m)
	return m.ID
}

// Preload puts history in front of whatever was appended since the screen
// opened.
func (c *Conversation) Preload(history []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make([]Message, 0, len(history)+len(c.msgs))
	for _, m := range history {
		m.ID = c.uniqueLocked(m.ID)
		c.ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	c.msgs = append(merged, c.msgs...)
}

func (c *Conversation) uniqueLocked(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	if _, taken := c.ids[id]; !taken {
		return id
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if _, taken := c.ids[candidate]; !taken {
			return candidate
		}
	}
}

// UpdateContent replaces the content of the message with id. It reports
// false when no such message exists.
func (c *Conversation) UpdateContent(id, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			c.msgs[i].Content = content
			return true
		}
	}
	return false
}

func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

// LastAssistant returns the most recent assistant message.
func (c *Conversation) LastAssistant() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Sender == SenderAssistant {
			return c.msgs[i], true
		}
	}
	return Message{}, false
}
