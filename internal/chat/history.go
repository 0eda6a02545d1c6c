package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"depot-chat/internal/api"
	"depot-chat/internal/session"
)

const (
	EmptyHistoryID   = "empty"
	EmptyHistoryText = "No previous conversations. Start a new conversation!"
	HistoryFailed    = "Failed to load history"
)

var ErrHistoryUnavailable = errors.New("history unavailable")

type HistorySource interface {
	History(ctx context.Context, userCode string) ([]api.HistoryRow, error)
}

// Identity is the part of session.Store the chat package needs.
type Identity interface {
	Current() session.State
	MarkHistoryFetched(ctx context.Context) (bool, error)
}

// TransformHistory turns backend rows into messages. A row yields its user
// message, then its assistant message, each only when the field is set.
func TransformHistory(rows []api.HistoryRow) []Message {
	out := make([]Message, 0, len(rows)*2)
	seen := make(map[string]int, len(rows))
	id := func(base string) string {
		seen[base]++
		if n := seen[base]; n > 1 {
			return fmt.Sprintf("%s-%d", base, n)
		}
		return base
	}

	for _, row := range rows {
		if row.Message != "" {
			out = append(out, Message{
				ID:        id(row.CreatedAt + "-u"),
				Sender:    SenderUser,
				Content:   row.Message,
				AudioRef:  row.Audio,
				Timestamp: row.CreatedAt,
			})
		}
		if row.Response != "" {
			out = append(out, Message{
				ID:              id(row.CreatedAt + "-a"),
				Sender:          SenderAssistant,
				Content:         row.Response,
				Timestamp:       row.CreatedAt,
				IsAudioResponse: row.Audio != "",
			})
		}
	}
	return out
}

// HistoryLoader fetches a session's stored conversation at most once per
// login.
type HistoryLoader struct {
	source   HistorySource
	identity Identity
	log      *zap.Logger
	now      func() time.Time
}

func NewHistoryLoader(source HistorySource, identity Identity, log *zap.Logger) *HistoryLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoryLoader{source: source, identity: identity, log: log, now: time.Now}
}

// Load returns the messages to seed the conversation with. ok is false when
// nothing was fetched: the role keeps no history or it was already fetched.
func (l *HistoryLoader) Load(ctx context.Context) (msgs []Message, ok bool, err error) {
	state := l.identity.Current()
	if !state.Role.HasHistory() {
		return nil, false, nil
	}
	first, err := l.identity.MarkHistoryFetched(ctx)
	if err != nil {
		l.log.Warn("record history fetch", zap.Error(err))
	}
	if !first {
		return nil, false, nil
	}

	rows, err := l.source.History(ctx, state.UserCode)
	if err != nil {
		l.log.Warn("load history", zap.String("usercode", state.UserCode), zap.Error(err))
		return nil, true, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	if len(rows) == 0 {
		return []Message{{
			ID:        EmptyHistoryID,
			Sender:    SenderSystem,
			Content:   EmptyHistoryText,
			Timestamp: stamp(l.now()),
		}}, true, nil
	}
	l.log.Debug("history loaded", zap.Int("rows", len(rows)))
	return TransformHistory(rows), true, nil
}
