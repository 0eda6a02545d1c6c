package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Error is returned for every failed backend call, transport and HTTP alike.
type Error struct {
	Op         string
	StatusCode int
	// Message is the backend's own {"error": "..."} text, if any.
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("%s: request failed with status code %d", e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage renders err for a notification: the backend message when it
// sent one, otherwise the error text, otherwise a generic fallback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Err != nil {
			if msg := strings.TrimSpace(apiErr.Err.Error()); msg != "" {
				return msg
			}
			return "Request failed"
		}
		return fmt.Sprintf("Request failed with status code %d", apiErr.StatusCode)
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "Request failed"
}

func backendErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	v := gjson.GetBytes(body, "error")
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.Str)
}
