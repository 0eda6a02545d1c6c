package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"depot-chat/internal/api"
	"depot-chat/internal/voice"
)

// Speaker plays synthesized speech. Implementations swallow their own
// failures.
type Speaker interface {
	PlayTTS(ctx context.Context, text string)
}

type ControllerOptions struct {
	Backend  Backend
	History  HistorySource
	Identity Identity
	// Recorder may be nil, which disables voice notes.
	Recorder Recorder
	// Speaker may be nil, which disables playback.
	Speaker Speaker
	Logger  *zap.Logger
}

// Controller ties one open chat screen to its conversation. Every request it
// issues is bound to a scope that Close cancels; results that land after
// Close are dropped.
type Controller struct {
	Conversation *Conversation
	Composer     *Composer
	Notices      *Notices

	history  *HistoryLoader
	recorder Recorder
	speaker  Speaker
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(parent context.Context, opts ControllerOptions) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	conv := NewConversation()
	return &Controller{
		Conversation: conv,
		Composer:     NewComposer(conv, opts.Backend, opts.Identity, log),
		Notices:      NewNotices(),
		history:      NewHistoryLoader(opts.History, opts.Identity, log),
		recorder:     opts.Recorder,
		speaker:      opts.Speaker,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Controller) Closed() bool {
	return c.ctx.Err() != nil
}

// Close ends the scope. In-flight requests are aborted, an active recording
// is discarded and saved clip files are removed. Playback already started is
// left to finish.
func (c *Controller) Close() {
	c.cancel()
	if c.recorder == nil {
		return
	}
	if c.recorder.State() == voice.Recording {
		_ = c.recorder.Cancel()
	}
	if clips, ok := c.recorder.(interface{ RemoveClips() error }); ok {
		if err := clips.RemoveClips(); err != nil {
			c.log.Warn("remove voice clips", zap.Error(err))
		}
	}
}

// Wait blocks until playback goroutines started by Speak have returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// LoadHistory seeds the conversation on first open. A failure posts
// HistoryFailed and leaves the conversation usable.
func (c *Controller) LoadHistory() error {
	msgs, ok, err := c.history.Load(c.ctx)
	if c.Closed() {
		return ErrClosed
	}
	if err != nil {
		c.Notices.Post(HistoryFailed)
		return err
	}
	if ok {
		c.Conversation.Preload(msgs)
	}
	return nil
}

func (c *Controller) BeginText() (*TextSend, bool) {
	if c.Closed() {
		return nil, false
	}
	return c.Composer.BeginText()
}

// RunText completes a send begun with BeginText.
func (c *Controller) RunText(send *TextSend) error {
	err := send.Do(c.ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		c.Notices.Post(api.UserMessage(err))
	}
	return err
}

func (c *Controller) VoiceEnabled() bool {
	return c.recorder != nil && c.Composer.identity.Current().Role.CanRecord()
}

func (c *Controller) RecorderState() voice.State {
	if c.recorder == nil {
		return voice.Idle
	}
	return c.recorder.State()
}

// RecorderElapsed reports how long the active recording has run, or zero
// when the recorder cannot tell.
func (c *Controller) RecorderElapsed() time.Duration {
	timed, ok := c.recorder.(interface{ Elapsed() time.Duration })
	if !ok {
		return 0
	}
	return timed.Elapsed()
}

func (c *Controller) StartRecording() error {
	err := c.Composer.StartRecording(c.ctx, c.recorder)
	switch {
	case err == nil:
	case errors.Is(err, voice.ErrMicrophoneUnavailable):
		c.Notices.Post(fmt.Sprintf("Could not start recording: %v", err))
	case errors.Is(err, ErrVoiceDisabled), errors.Is(err, ErrInFlight), errors.Is(err, voice.ErrBusy):
		// Gated in the UI; nothing to report.
	default:
		c.Notices.Post(err.Error())
	}
	return err
}

func (c *Controller) CancelRecording() error {
	if c.recorder == nil {
		return ErrVoiceDisabled
	}
	return c.recorder.Cancel()
}

func (c *Controller) BeginVoice() (*VoiceSend, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	send, err := c.Composer.BeginVoice(c.recorder)
	if err != nil && !errors.Is(err, ErrInFlight) {
		c.Notices.Post(VoiceErrorText(err))
	}
	return send, err
}

func (c *Controller) RunVoice(send *VoiceSend) error {
	err := send.Do(c.ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		c.Notices.Post(VoiceErrorText(err))
	}
	return err
}

// Speak plays msg through the speaker without waiting. It reports whether
// playback was started; only audio replies are spoken.
func (c *Controller) Speak(msg Message) bool {
	if c.speaker == nil || c.Closed() || msg.Sender != SenderAssistant || !msg.IsAudioResponse {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.speaker.PlayTTS(context.WithoutCancel(c.ctx), msg.Content)
	}()
	return true
}
