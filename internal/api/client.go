package api

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

type Options struct {
	// BaseURL addresses the role-aware primary service.
	BaseURL string
	// UserBaseURL addresses the secondary service used by RoleUser.
	UserBaseURL string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client talks to both backend services. It is safe for concurrent use.
type Client struct {
	primary   *resty.Client
	secondary *resty.Client
	log       *zap.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		primary:   newResty(opts.BaseURL, opts.Timeout),
		secondary: newResty(opts.UserBaseURL, opts.Timeout),
		log:       opts.Logger,
	}
}

func newResty(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

type HistoryRow struct {
	CreatedAt string
	Message   string
	Response  string
	Audio     string
}

// History returns the stored conversation turns for userCode, oldest first.
func (c *Client) History(ctx context.Context, userCode string) ([]HistoryRow, error) {
	resp, err := c.primary.R().
		SetContext(ctx).
		SetPathParam("userCode", userCode).
		Get("/analyze/history/{userCode}")
	if err := c.check("history", resp, err); err != nil {
		return nil, err
	}
	return parseHistory(resp.Body())
}

func parseHistory(body []byte) ([]HistoryRow, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode history: invalid json")
	}
	items := gjson.GetBytes(body, "history").Array()
	rows := make([]HistoryRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, HistoryRow{
			CreatedAt: item.Get("created_at").String(),
			Message:   optionalString(item.Get("message")),
			Response:  optionalString(item.Get("response")),
			Audio:     optionalString(item.Get("audio")),
		})
	}
	return rows, nil
}

// optionalString reads a history field the way a truthiness check would:
// null, false and 0 count as absent.
func optionalString(v gjson.Result) string {
	switch {
	case !present(v), v.Type == gjson.False:
		return ""
	case v.Type == gjson.String:
		return v.Str
	case v.Type == gjson.Number && v.Num == 0:
		return ""
	}
	return v.Raw
}

type AnalyzeRequest struct {
	Query    string `json:"query"`
	UserCode string `json:"usercode"`
	Role     string `json:"role"`
}

// Analyze sends a query to the primary service and returns the reply text.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (string, error) {
	resp, err := c.primary.R().
		SetContext(ctx).
		SetBody(req).
		Post("/analyze")
	if err := c.check("analyze", resp, err); err != nil {
		return "", err
	}
	return ExtractReply(resp.Body()), nil
}

// UserQuery sends a query to the secondary service.
func (c *Client) UserQuery(ctx context.Context, query string) (string, error) {
	resp, err := c.secondary.R().
		SetContext(ctx).
		SetBody(map[string]string{"query": query}).
		Post("/userquery")
	if err := c.check("userquery", resp, err); err != nil {
		return "", err
	}
	return ExtractReply(resp.Body()), nil
}

type VoiceUpload struct {
	Audio    []byte
	FileName string
	UserCode string
	Role     string
}

type VoiceReply struct {
	Transcript string
	Reply      string
}

// Voice uploads a recorded clip and returns its transcription plus the
// assistant reply.
func (c *Client) Voice(ctx context.Context, up VoiceUpload) (VoiceReply, error) {
	name := up.FileName
	if name == "" {
		name = "voice.wav"
	}
	resp, err := c.primary.R().
		SetContext(ctx).
		SetFileReader("audio", name, bytes.NewReader(up.Audio)).
		SetFormData(map[string]string{
			"usercode": up.UserCode,
			"role":     up.Role,
		}).
		Post("/voice")
	if err := c.check("voice", resp, err); err != nil {
		return VoiceReply{}, err
	}
	body := resp.Body()
	return VoiceReply{
		Transcript: gjson.GetBytes(body, "voice_text").String(),
		Reply:      ExtractReply(body),
	}, nil
}

// Synthesize asks the primary service for speech and returns the opaque
// audio reference from the response.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	resp, err := c.primary.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		Post("/tts")
	if err := c.check("tts", resp, err); err != nil {
		return "", err
	}
	audio := gjson.GetBytes(resp.Body(), "audio")
	if !present(audio) || strings.TrimSpace(audio.String()) == "" {
		return "", fmt.Errorf("tts response missing audio")
	}
	return audio.String(), nil
}

// Fetch downloads an absolute URL, typically an audio reference handed out by
// the primary service.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.primary.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Get(url)
	if err := c.check("fetch", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.log.Debug("request failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Err: err}
	}
	c.log.Debug("request done",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()),
	)
	if resp.IsError() {
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Message:    backendErrorMessage(resp.Body()),
		}
	}
	return nil
}
