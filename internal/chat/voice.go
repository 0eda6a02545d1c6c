package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"depot-chat/internal/api"
	"depot-chat/internal/session"
	"depot-chat/internal/voice"
)

var ErrVoiceDisabled = errors.New("voice messages are not available for this role")

// Recorder is the part of *voice.Recorder the composer drives.
type Recorder interface {
	Start(ctx context.Context) error
	Cancel() error
	Stop() (voice.Clip, error)
	Finish()
	State() voice.State
}

// StartRecording opens the microphone. It is refused while a send is in
// flight or when the role cannot record.
func (c *Composer) StartRecording(ctx context.Context, rec Recorder) error {
	if rec == nil || !c.identity.Current().Role.CanRecord() {
		return ErrVoiceDisabled
	}
	if c.InFlight() {
		return ErrInFlight
	}
	return rec.Start(ctx)
}

// VoiceSend is an uploaded-to-be voice note whose placeholder message is
// already in the conversation.
type VoiceSend struct {
	c         *Composer
	rec       Recorder
	clip      voice.Clip
	messageID string
	state     session.State
}

func (s *VoiceSend) MessageID() string { return s.messageID }

// BeginVoice stops the recording and appends an empty user message carrying
// the clip reference. The message content is filled in once the backend has
// transcribed it.
func (c *Composer) BeginVoice(rec Recorder) (*VoiceSend, error) {
	if rec == nil {
		return nil, ErrVoiceDisabled
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	clip, err := rec.Stop()
	if err != nil {
		c.inFlight.Store(false)
		return nil, err
	}

	id := c.conv.Append(Message{
		ID:        liveID(clip.StoppedAt, "u"),
		Sender:    SenderUser,
		AudioRef:  clip.URI(),
		Timestamp: stamp(clip.StoppedAt),
	})
	return &VoiceSend{c: c, rec: rec, clip: clip, messageID: id, state: c.identity.Current()}, nil
}

func (s *VoiceSend) Do(ctx context.Context) error {
	c := s.c
	defer c.inFlight.Store(false)
	defer s.rec.Finish()

	resp, err := c.backend.Voice(ctx, api.VoiceUpload{
		Audio:    s.clip.Data,
		UserCode: s.state.UserCode,
		Role:     string(s.state.Role),
	})
	if ctx.Err() != nil {
		return ErrClosed
	}
	if err != nil {
		c.log.Warn("send voice", zap.Int("bytes", len(s.clip.Data)), zap.Error(err))
		return err
	}

	if !c.conv.UpdateContent(s.messageID, resp.Transcript) {
		c.log.Warn("voice message vanished", zap.String("id", s.messageID))
	}
	now := c.now()
	c.conv.Append(Message{
		ID:              liveID(now, "a"),
		Sender:          SenderAssistant,
		Content:         resp.Reply,
		Timestamp:       stamp(now),
		IsAudioResponse: true,
	})
	return nil
}

// VoiceErrorText renders a failed voice send for the notice line.
func VoiceErrorText(err error) string {
	return "Voice message failed: " + api.UserMessage(err)
}
