package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"depot-chat/internal/api"
	"depot-chat/internal/session"
)

var (
	ErrInFlight = errors.New("a message is already being sent")
	// ErrClosed is returned for results that arrived after the chat scope
	// ended. They are dropped.
	ErrClosed = errors.New("chat closed")
)

// Backend is the subset of *api.Client the composer talks to.
type Backend interface {
	Analyze(ctx context.Context, req api.AnalyzeRequest) (string, error)
	UserQuery(ctx context.Context, query string) (string, error)
	Voice(ctx context.Context, up api.VoiceUpload) (api.VoiceReply, error)
}

// Composer owns the pending input and the single in-flight slot shared by
// text and voice sends.
type Composer struct {
	conv     *Conversation
	backend  Backend
	identity Identity
	log      *zap.Logger
	now      func() time.Time

	inFlight atomic.Bool

	mu      sync.Mutex
	pending string
}

func NewComposer(conv *Conversation, backend Backend, identity Identity, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{conv: conv, backend: backend, identity: identity, log: log, now: time.Now}
}

func (c *Composer) SetPending(text string) {
	c.mu.Lock()
	c.pending = text
	c.mu.Unlock()
}

func (c *Composer) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Composer) ClearPending() {
	c.SetPending("")
}

func (c *Composer) InFlight() bool {
	return c.inFlight.Load()
}

// TextSend is a text message whose optimistic half is already in the
// conversation. Do performs the network half.
type TextSend struct {
	c     *Composer
	query string
	state session.State
}

func (s *TextSend) Query() string { return s.query }

// BeginText claims the in-flight slot, appends the user's message and clears
// the pending input. It returns false, changing nothing, when the input is
// blank or another send is running.
func (c *Composer) BeginText() (*TextSend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := strings.TrimSpace(c.pending)
	if query == "" {
		return nil, false
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, false
	}

	now := c.now()
	c.conv.Append(Message{
		ID:        liveID(now, "u"),
		Sender:    SenderUser,
		Content:   query,
		Timestamp: stamp(now),
	})
	c.pending = ""
	return &TextSend{c: c, query: query, state: c.identity.Current()}, true
}

// Do sends the query and appends the reply. On failure the user's message
// stays and no reply is added. The in-flight slot is released on return.
func (s *TextSend) Do(ctx context.Context) error {
	c := s.c
	defer c.inFlight.Store(false)

	var (
		reply string
		err   error
	)
	if s.state.Role == session.RoleUser {
		reply, err = c.backend.UserQuery(ctx, s.query)
	} else {
		reply, err = c.backend.Analyze(ctx, api.AnalyzeRequest{
			Query:    s.query,
			UserCode: s.state.UserCode,
			Role:     string(s.state.Role),
		})
	}
	if ctx.Err() != nil {
		c.log.Debug("dropping reply after close", zap.Error(ctx.Err()))
		return ErrClosed
	}
	if err != nil {
		c.log.Warn("send message", zap.String("role", string(s.state.Role)), zap.Error(err))
		return err
	}

	now := c.now()
	c.conv.Append(Message{
		ID:        liveID(now, "a"),
		Sender:    SenderAssistant,
		Content:   reply,
		Timestamp: stamp(now),
	})
	return nil
}

// SendText sends the pending input synchronously. sent is false when there
// was nothing to send or a send was already running.
func (c *Composer) SendText(ctx context.Context) (sent bool, err error) {
	send, ok := c.BeginText()
	if !ok {
		return false, nil
	}
	return true, send.Do(ctx)
}
